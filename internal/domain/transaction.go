/**
 * @description
 * This file defines the ledger transaction model and the change-set types the
 * sync engine applies to it. Amounts are stored as `int64` in the smallest
 * currency unit (cents); positive amounts are debits (expenses) by this
 * system's convention, matching the sign the aggregator reports.
 *
 * @notes
 * - `PlaidTransactionID` is the idempotency key: it uniquely determines at
 *   most one ledger row, and replaying an added event must never duplicate.
 * - Removed transactions are soft-deleted (`is_hidden=true`) so the row stays
 *   queryable for audit.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transaction maps to the `transactions` table.
type Transaction struct {
	ID                 uuid.UUID `json:"id"`
	AccountID          uuid.UUID `json:"account_id"`
	PlaidTransactionID string    `json:"plaid_transaction_id"`
	Amount             int64     `json:"amount"` // cents; positive = debit
	Date               time.Time `json:"date"`
	MerchantName       string    `json:"merchant_name"`
	Category           *string   `json:"category,omitempty"`
	IsPending          bool      `json:"is_pending"`
	IsHidden           bool      `json:"is_hidden"`
	IsManual           bool      `json:"is_manual"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// SyncedTransaction is one transaction as reported by the aggregator, before
// account resolution and money conversion.
type SyncedTransaction struct {
	PlaidTransactionID string
	PlaidAccountID     string
	Amount             float64 // decimal currency units as sent on the wire
	Date               time.Time
	MerchantName       string
	Categories         []string
	Pending            bool
}

// ChangeSet is one page of incremental changes from the aggregator. All three
// sets must be applied before the page's cursor may be persisted.
type ChangeSet struct {
	Added      []SyncedTransaction
	Modified   []SyncedTransaction
	RemovedIDs []string
	NextCursor string
	HasMore    bool
}

// SyncedBalance is one account balance as reported by the aggregator.
type SyncedBalance struct {
	PlaidAccountID string
	Current        float64
	Available      float64
}

// SyncResult is the accounting returned by one full sync run.
type SyncResult struct {
	Added          int  `json:"added"`
	Modified       int  `json:"modified"`
	Removed        int  `json:"removed"`
	Skipped        int  `json:"skipped"`
	Pages          int  `json:"pages"`
	AlreadyRunning bool `json:"already_running,omitempty"`
}
