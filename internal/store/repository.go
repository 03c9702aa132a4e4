/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the ledger-sync-service. By
 * defining an interface, we decouple the reconciliation logic from the
 * specific database implementation (e.g., PostgreSQL), enabling in-memory
 * fakes for tests.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-sync-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Connection methods
	FindConnectionByItemID(ctx context.Context, plaidItemID string) (*domain.Connection, error)
	FindConnectionByID(ctx context.Context, connectionID uuid.UUID) (*domain.Connection, error)
	// ListStaleActiveConnections returns active connections whose last sync
	// predates the cutoff (or that never synced), for catch-up scheduling.
	ListStaleActiveConnections(ctx context.Context, cutoff time.Time) ([]domain.Connection, error)
	// UpdateConnectionSyncCursor persists the cursor for one fully-applied
	// page. It must only ever be called after the page's reconciliation
	// completed without error.
	UpdateConnectionSyncCursor(ctx context.Context, connectionID uuid.UUID, cursor string) error
	// MarkConnectionSynced stamps a successful sync completion (status
	// active, error cleared, last_synced_at set). It is a no-op for revoked
	// connections so a revocation landing mid-sync survives the run.
	MarkConnectionSynced(ctx context.Context, connectionID uuid.UUID, syncedAt time.Time) error
	UpdateConnectionStatus(ctx context.Context, connectionID uuid.UUID, status domain.ConnectionStatus, errorMessage *string) error

	// Account methods
	FindAccountsByConnectionID(ctx context.Context, connectionID uuid.UUID) ([]domain.Account, error)
	UpdateAccountBalances(ctx context.Context, accountID uuid.UUID, currentBalance, availableBalance int64) error

	// Transaction methods
	// InsertTransactionIgnoreConflict inserts a synced transaction and is a
	// no-op when a row with the same plaid_transaction_id already exists.
	InsertTransactionIgnoreConflict(ctx context.Context, tx *domain.Transaction) error
	// UpsertTransaction inserts the transaction or, on conflict with an
	// existing plaid_transaction_id, updates only the mutable fields
	// (amount, date, merchant, category, pending).
	UpsertTransaction(ctx context.Context, tx *domain.Transaction) error
	// HideTransactionByPlaidID soft-deletes the matching row. A missing row
	// is not an error.
	HideTransactionByPlaidID(ctx context.Context, plaidTransactionID string) error
}
