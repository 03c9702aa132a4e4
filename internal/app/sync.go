/**
 * @description
 * This file implements the sync cursor engine: the loop that drives
 * cursor-based incremental pagination against the aggregator and applies each
 * page to the ledger.
 *
 * The central invariant is structural: a page's cursor is persisted only
 * after the reconciler applied that page without error. A failure anywhere in
 * a page leaves the cursor at the last fully-applied page, so the next run
 * resumes from exactly the unprocessed data and reprocessing is bounded to at
 * most one page. Reprocessing is safe because every record operation is
 * idempotent.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-sync-service/internal/domain"
	"github.com/transfa/ledger-sync-service/pkg/money"
)

// RunSync drives a full incremental sync pass for one connection and returns
// the applied-change accounting. On any aggregator or storage failure it
// aborts with the cursor still pointing at the last fully-applied page.
func (s *Service) RunSync(ctx context.Context, conn *domain.Connection) (*domain.SyncResult, error) {
	if !conn.Syncable() {
		return nil, ErrConnectionRevoked
	}

	acquired, err := s.syncLock.TryLock(ctx, conn.ID)
	if err != nil {
		// The lock only guards against wasted duplicate work; the engine is
		// idempotent without it, so a broken lock backend must not block syncs.
		log.Printf("level=warn component=service flow=sync msg=\"sync lock unavailable; continuing without lock\" connection_id=%s err=%v", conn.ID, err)
		acquired = true
	} else if !acquired {
		log.Printf("level=info component=service flow=sync msg=\"sync already in progress; absorbing trigger\" connection_id=%s", conn.ID)
		return &domain.SyncResult{AlreadyRunning: true}, nil
	} else {
		defer func() {
			if unlockErr := s.syncLock.Unlock(context.WithoutCancel(ctx), conn.ID); unlockErr != nil {
				log.Printf("level=warn component=service flow=sync msg=\"sync lock release failed; lock will expire\" connection_id=%s err=%v", conn.ID, unlockErr)
			}
		}()
	}

	accountIDs, err := s.loadAccountMap(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account map for connection %s: %w", conn.ID, err)
	}

	cursor := ""
	if conn.SyncCursor != nil {
		cursor = *conn.SyncCursor
	}

	result := &domain.SyncResult{}
	for {
		page, err := s.aggregator.SyncTransactions(ctx, conn.AccessTokenEncrypted, cursor, s.pageSize)
		if err != nil {
			// Earlier pages of this run are already applied and their cursors
			// persisted; only this page will be refetched on retry.
			return result, fmt.Errorf("aggregator fetch failed for connection %s at page %d: %w", conn.ID, result.Pages+1, err)
		}

		applied, err := s.applyChanges(ctx, accountIDs, page)
		result.Added += applied.Added
		result.Modified += applied.Modified
		result.Removed += applied.Removed
		result.Skipped += applied.Skipped
		if err != nil {
			return result, fmt.Errorf("reconciliation failed for connection %s (cursor %q): %w", conn.ID, cursor, err)
		}

		if err := s.repo.UpdateConnectionSyncCursor(ctx, conn.ID, page.NextCursor); err != nil {
			return result, fmt.Errorf("failed to persist cursor for connection %s: %w", conn.ID, err)
		}
		cursor = page.NextCursor
		result.Pages++

		if !page.HasMore {
			break
		}
	}

	if err := s.refreshBalances(ctx, conn); err != nil {
		// All transaction pages are applied and their cursors saved; aborting
		// here leaves status and last_synced_at untouched so the catch-up
		// sweep retries the pass promptly.
		return result, fmt.Errorf("balance refresh failed for connection %s: %w", conn.ID, err)
	}

	if err := s.repo.MarkConnectionSynced(ctx, conn.ID, time.Now().UTC()); err != nil {
		return result, fmt.Errorf("failed to mark connection %s synced: %w", conn.ID, err)
	}

	log.Printf("level=info component=service flow=sync msg=\"sync completed\" connection_id=%s pages=%d added=%d modified=%d removed=%d skipped=%d",
		conn.ID, result.Pages, result.Added, result.Modified, result.Removed, result.Skipped)
	return result, nil
}

// loadAccountMap builds the external-to-internal account id map for a
// connection. Transactions referencing accounts missing from this map are
// skipped for the pass; they are picked up once the account exists.
func (s *Service) loadAccountMap(ctx context.Context, connectionID uuid.UUID) (map[string]uuid.UUID, error) {
	accounts, err := s.repo.FindAccountsByConnectionID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]uuid.UUID, len(accounts))
	for _, account := range accounts {
		ids[account.PlaidAccountID] = account.ID
	}
	return ids, nil
}

// refreshBalances pulls current balances for all accounts under the
// connection and writes them through the money codec. Balances for external
// accounts not yet present locally are skipped.
func (s *Service) refreshBalances(ctx context.Context, conn *domain.Connection) error {
	balances, err := s.aggregator.GetBalances(ctx, conn.AccessTokenEncrypted)
	if err != nil {
		return fmt.Errorf("balance fetch failed: %w", err)
	}

	accountIDs, err := s.loadAccountMap(ctx, conn.ID)
	if err != nil {
		return err
	}

	for _, balance := range balances {
		accountID, ok := accountIDs[balance.PlaidAccountID]
		if !ok {
			log.Printf("level=info component=service flow=sync msg=\"balance for unknown account skipped\" connection_id=%s plaid_account_id=%s", conn.ID, balance.PlaidAccountID)
			continue
		}
		if err := s.repo.UpdateAccountBalances(ctx, accountID,
			money.ToLedgerUnits(balance.Current),
			money.ToLedgerUnits(balance.Available),
		); err != nil {
			return fmt.Errorf("failed to update balances for account %s: %w", accountID, err)
		}
	}
	return nil
}
