/**
 * @description
 * This file defines the domain models for bank connections (Plaid "items").
 * A connection represents one linked external institution for a user and
 * carries the sync cursor and health status that drive the reconciliation
 * engine.
 *
 * @notes
 * - `SyncCursor` is an opaque pagination token issued by the aggregator. It
 *   only ever advances to a value returned for a page that was fully applied.
 * - Connections are never deleted by this service; unlinking is handled
 *   elsewhere.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionStatus enumerates the health lifecycle of a connection.
type ConnectionStatus string

const (
	ConnectionActive            ConnectionStatus = "active"
	ConnectionError             ConnectionStatus = "error"
	ConnectionPendingExpiration ConnectionStatus = "pending_expiration"
	ConnectionRevoked           ConnectionStatus = "revoked"
)

// Connection maps to the `connections` table. One row per linked institution.
type Connection struct {
	ID                   uuid.UUID        `json:"id"`
	UserID               uuid.UUID        `json:"user_id"`
	PlaidItemID          string           `json:"plaid_item_id"`
	AccessTokenEncrypted string           `json:"-"`
	InstitutionName      string           `json:"institution_name"`
	SyncCursor           *string          `json:"-"`
	Status               ConnectionStatus `json:"status"`
	ErrorMessage         *string          `json:"error_message,omitempty"`
	LastSyncedAt         *time.Time       `json:"last_synced_at,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Syncable reports whether the connection may be synced at all. Revoked
// connections are terminal until a new link replaces them.
func (c *Connection) Syncable() bool {
	return c.Status != ConnectionRevoked
}

// Account maps to the `accounts` table. Balances are stored in the smallest
// currency unit (cents) to avoid floating-point drift.
type Account struct {
	ID               uuid.UUID `json:"id"`
	ConnectionID     uuid.UUID `json:"connection_id"`
	PlaidAccountID   string    `json:"plaid_account_id"`
	Name             string    `json:"name"`
	Mask             string    `json:"mask,omitempty"`
	AccountType      string    `json:"account_type"`
	CurrentBalance   int64     `json:"current_balance"`
	AvailableBalance int64     `json:"available_balance"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ConnectionOverview is the operator-facing view returned by the ops API.
type ConnectionOverview struct {
	Connection Connection `json:"connection"`
	HasCursor  bool       `json:"has_cursor"`
	Accounts   []Account  `json:"accounts"`
}
