/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed to keep the connections,
 * accounts and transactions tables consistent with aggregator state.
 *
 * Schema notes:
 * - connections has a unique index on plaid_item_id.
 * - accounts has a unique index on (connection_id, plaid_account_id).
 * - transactions has a unique index on plaid_transaction_id, which is what
 *   makes the insert-or-ignore and upsert paths idempotent.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/ledger-sync-service/internal/domain"
)

var (
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const connectionColumns = `id, user_id, plaid_item_id, access_token_encrypted, institution_name,
	sync_cursor, status, error_message, last_synced_at, created_at, updated_at`

func scanConnection(row pgx.Row) (*domain.Connection, error) {
	var conn domain.Connection
	err := row.Scan(
		&conn.ID,
		&conn.UserID,
		&conn.PlaidItemID,
		&conn.AccessTokenEncrypted,
		&conn.InstitutionName,
		&conn.SyncCursor,
		&conn.Status,
		&conn.ErrorMessage,
		&conn.LastSyncedAt,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	return &conn, nil
}

// FindConnectionByItemID retrieves a connection by the aggregator's item id.
func (r *PostgresRepository) FindConnectionByItemID(ctx context.Context, plaidItemID string) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE plaid_item_id = $1`
	return scanConnection(r.db.QueryRow(ctx, query, plaidItemID))
}

// FindConnectionByID retrieves a connection by its internal id.
func (r *PostgresRepository) FindConnectionByID(ctx context.Context, connectionID uuid.UUID) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`
	return scanConnection(r.db.QueryRow(ctx, query, connectionID))
}

// ListStaleActiveConnections returns active connections that have not synced
// since the cutoff, including ones that have never synced at all.
func (r *PostgresRepository) ListStaleActiveConnections(ctx context.Context, cutoff time.Time) ([]domain.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE status = 'active' AND (last_synced_at IS NULL OR last_synced_at < $1)
		ORDER BY last_synced_at NULLS FIRST
	`
	rows, err := r.db.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var connections []domain.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, *conn)
	}
	return connections, rows.Err()
}

// UpdateConnectionSyncCursor persists the cursor for one fully-applied page.
func (r *PostgresRepository) UpdateConnectionSyncCursor(ctx context.Context, connectionID uuid.UUID, cursor string) error {
	query := `UPDATE connections SET sync_cursor = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.Exec(ctx, query, cursor, connectionID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

// MarkConnectionSynced records a successful sync completion: status returns
// to active, the error message is cleared, and last_synced_at is stamped.
// Revoked connections are never stamped: a revocation that lands while a
// sync is in flight must not be overwritten by the sync's completion write.
func (r *PostgresRepository) MarkConnectionSynced(ctx context.Context, connectionID uuid.UUID, syncedAt time.Time) error {
	query := `
		UPDATE connections
		SET status = 'active', error_message = NULL, last_synced_at = $1, updated_at = NOW()
		WHERE id = $2 AND status != 'revoked'
	`
	// Zero rows means the connection is gone or was revoked mid-run; in both
	// cases the stamp must not land, and neither is a caller error.
	_, err := r.db.Exec(ctx, query, syncedAt, connectionID)
	return err
}

// UpdateConnectionStatus sets the health status and message for a connection.
func (r *PostgresRepository) UpdateConnectionStatus(ctx context.Context, connectionID uuid.UUID, status domain.ConnectionStatus, errorMessage *string) error {
	query := `UPDATE connections SET status = $1, error_message = $2, updated_at = NOW() WHERE id = $3`
	result, err := r.db.Exec(ctx, query, status, errorMessage, connectionID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

// FindAccountsByConnectionID retrieves all accounts under a connection.
func (r *PostgresRepository) FindAccountsByConnectionID(ctx context.Context, connectionID uuid.UUID) ([]domain.Account, error) {
	query := `
		SELECT id, connection_id, plaid_account_id, name, COALESCE(mask, ''), account_type,
		       current_balance, available_balance, created_at, updated_at
		FROM accounts
		WHERE connection_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.Account
	for rows.Next() {
		var account domain.Account
		if err := rows.Scan(
			&account.ID,
			&account.ConnectionID,
			&account.PlaidAccountID,
			&account.Name,
			&account.Mask,
			&account.AccountType,
			&account.CurrentBalance,
			&account.AvailableBalance,
			&account.CreatedAt,
			&account.UpdatedAt,
		); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// UpdateAccountBalances writes refreshed balances for one account.
func (r *PostgresRepository) UpdateAccountBalances(ctx context.Context, accountID uuid.UUID, currentBalance, availableBalance int64) error {
	query := `UPDATE accounts SET current_balance = $1, available_balance = $2, updated_at = NOW() WHERE id = $3`
	result, err := r.db.Exec(ctx, query, currentBalance, availableBalance, accountID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// InsertTransactionIgnoreConflict inserts an aggregator-sourced transaction.
// A replayed page hits the unique plaid_transaction_id index and the insert
// becomes a no-op instead of a duplicate or an error.
func (r *PostgresRepository) InsertTransactionIgnoreConflict(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, account_id, plaid_transaction_id, amount, date, merchant_name,
		                          category, is_pending, is_hidden, is_manual, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, false, NOW(), NOW())
		ON CONFLICT (plaid_transaction_id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query,
		tx.ID, tx.AccountID, tx.PlaidTransactionID, tx.Amount, tx.Date,
		tx.MerchantName, tx.Category, tx.IsPending,
	)
	return err
}

// UpsertTransaction inserts the transaction or updates the mutable fields of
// the existing row. Used for modified events so a missed add still converges.
func (r *PostgresRepository) UpsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (id, account_id, plaid_transaction_id, amount, date, merchant_name,
		                          category, is_pending, is_hidden, is_manual, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, false, NOW(), NOW())
		ON CONFLICT (plaid_transaction_id) DO UPDATE
		SET amount = EXCLUDED.amount,
		    date = EXCLUDED.date,
		    merchant_name = EXCLUDED.merchant_name,
		    category = EXCLUDED.category,
		    is_pending = EXCLUDED.is_pending,
		    updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query,
		tx.ID, tx.AccountID, tx.PlaidTransactionID, tx.Amount, tx.Date,
		tx.MerchantName, tx.Category, tx.IsPending,
	)
	return err
}

// HideTransactionByPlaidID soft-deletes the matching row; the row is kept for
// audit. Zero rows affected is fine: the add may never have synced, or the
// row was already hidden.
func (r *PostgresRepository) HideTransactionByPlaidID(ctx context.Context, plaidTransactionID string) error {
	query := `UPDATE transactions SET is_hidden = true, updated_at = NOW() WHERE plaid_transaction_id = $1`
	_, err := r.db.Exec(ctx, query, plaidTransactionID)
	return err
}
