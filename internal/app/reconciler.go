/**
 * @description
 * This file implements the ledger reconciler: applying one page of
 * added/modified/removed changes to the transactions table. Every operation
 * is idempotent so a replayed page (webhook redelivery, retry after a cursor
 * write failure) converges instead of duplicating or erroring.
 *
 * Failure policy: if any single record operation fails, the whole page fails.
 * The cursor must not advance past data that was never written, so a bad
 * record is surfaced, never skipped silently. The one exception is an added
 * or modified transaction referencing an account not yet in the local map;
 * that is a race with account creation and self-heals on a later pass.
 */

package app

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/transfa/ledger-sync-service/internal/domain"
	"github.com/transfa/ledger-sync-service/pkg/money"
)

// pageResult is the per-page accounting produced by applyChanges.
type pageResult struct {
	Added    int
	Modified int
	Removed  int
	Skipped  int
}

// applyChanges applies one page of incremental changes to the ledger. It is
// safe to invoke multiple times with the same page.
func (s *Service) applyChanges(ctx context.Context, accountIDs map[string]uuid.UUID, page *domain.ChangeSet) (pageResult, error) {
	var result pageResult

	for _, synced := range page.Added {
		accountID, ok := accountIDs[synced.PlaidAccountID]
		if !ok {
			result.Skipped++
			log.Printf("level=info component=service flow=reconcile msg=\"added transaction references unknown account; skipping for this pass\" plaid_transaction_id=%s plaid_account_id=%s", synced.PlaidTransactionID, synced.PlaidAccountID)
			continue
		}
		if err := s.repo.InsertTransactionIgnoreConflict(ctx, buildLedgerTransaction(accountID, synced)); err != nil {
			return result, fmt.Errorf("failed to insert transaction %s: %w", synced.PlaidTransactionID, err)
		}
		result.Added++
	}

	for _, synced := range page.Modified {
		accountID, ok := accountIDs[synced.PlaidAccountID]
		if !ok {
			result.Skipped++
			log.Printf("level=info component=service flow=reconcile msg=\"modified transaction references unknown account; skipping for this pass\" plaid_transaction_id=%s plaid_account_id=%s", synced.PlaidTransactionID, synced.PlaidAccountID)
			continue
		}
		// Upsert rather than update-if-present: if the add was never seen
		// (a gap), the ledger still converges.
		if err := s.repo.UpsertTransaction(ctx, buildLedgerTransaction(accountID, synced)); err != nil {
			return result, fmt.Errorf("failed to upsert transaction %s: %w", synced.PlaidTransactionID, err)
		}
		result.Modified++
	}

	for _, removedID := range page.RemovedIDs {
		if err := s.repo.HideTransactionByPlaidID(ctx, removedID); err != nil {
			return result, fmt.Errorf("failed to hide transaction %s: %w", removedID, err)
		}
		result.Removed++
	}

	return result, nil
}

// buildLedgerTransaction converts an aggregator transaction into a ledger
// row: amount through the money codec, first category tag only.
func buildLedgerTransaction(accountID uuid.UUID, synced domain.SyncedTransaction) *domain.Transaction {
	return &domain.Transaction{
		ID:                 uuid.New(),
		AccountID:          accountID,
		PlaidTransactionID: synced.PlaidTransactionID,
		Amount:             money.ToLedgerUnits(synced.Amount),
		Date:               synced.Date,
		MerchantName:       synced.MerchantName,
		Category:           firstCategory(synced.Categories),
		IsPending:          synced.Pending,
	}
}

func firstCategory(categories []string) *string {
	if len(categories) == 0 || categories[0] == "" {
		return nil
	}
	return &categories[0]
}
