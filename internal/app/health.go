/**
 * @description
 * This file implements the connection health state machine, driven by item
 * lifecycle events from the aggregator independently of the sync loop.
 *
 * Transitions:
 *   active -> error (ERROR event), error -> active (LOGIN_REPAIRED, which
 *   also triggers an immediate catch-up sync), active -> pending_expiration
 *   (PENDING_EXPIRATION), any -> revoked (USER_PERMISSION_REVOKED, terminal
 *   for sync purposes). Unrecognized event codes are logged and ignored.
 */

package app

import (
	"context"
	"fmt"
	"log"

	"github.com/transfa/ledger-sync-service/internal/domain"
)

// Notification kinds published for the notification service to render.
const (
	notifyConnectionError   = "status.error"
	notifyConnectionExpiry  = "status.pending_expiration"
	notifyConnectionRevoked = "status.revoked"
)

// HandleItemEvent applies one classified item lifecycle event to the
// connection's health state. It returns an error only when the status write
// itself fails; notification failures never propagate.
//
// Revoked is terminal: webhooks can arrive out of order or duplicated, so a
// late LOGIN_REPAIRED (or ERROR) after USER_PERMISSION_REVOKED must not
// resurrect the connection and sync a dead access token.
func (s *Service) HandleItemEvent(ctx context.Context, conn *domain.Connection, event domain.WebhookEvent) error {
	if conn.Status == domain.ConnectionRevoked {
		log.Printf("level=info component=service flow=health msg=\"connection is revoked; ignoring item event\" connection_id=%s webhook_code=%s", conn.ID, event.Payload.WebhookCode)
		return nil
	}

	switch event.Kind {
	case domain.EventItemError:
		message := "connection error reported by aggregator"
		if event.Payload.Error != nil && event.Payload.Error.ErrorMessage != "" {
			message = event.Payload.Error.ErrorMessage
		}
		if err := s.repo.UpdateConnectionStatus(ctx, conn.ID, domain.ConnectionError, &message); err != nil {
			return fmt.Errorf("failed to mark connection %s errored: %w", conn.ID, err)
		}
		log.Printf("level=warn component=service flow=health msg=\"connection entered error state\" connection_id=%s detail=%q", conn.ID, message)
		s.notify(ctx, conn, notifyConnectionError, map[string]string{"error_message": message})
		return nil

	case domain.EventItemRepaired:
		if err := s.repo.UpdateConnectionStatus(ctx, conn.ID, domain.ConnectionActive, nil); err != nil {
			return fmt.Errorf("failed to mark connection %s repaired: %w", conn.ID, err)
		}
		log.Printf("level=info component=service flow=health msg=\"connection repaired; starting catch-up sync\" connection_id=%s", conn.ID)
		// Catch up immediately: the connection may have missed sync webhooks
		// while broken. Reload first so the sync sees the repaired status.
		repaired, err := s.repo.FindConnectionByID(ctx, conn.ID)
		if err != nil {
			return fmt.Errorf("failed to reload repaired connection %s: %w", conn.ID, err)
		}
		if _, err := s.RunSync(ctx, repaired); err != nil {
			log.Printf("level=error component=service flow=health msg=\"catch-up sync after repair failed\" connection_id=%s err=%v", conn.ID, err)
		}
		return nil

	case domain.EventPendingExpiration:
		message := "connection consent is expiring"
		if event.Payload.ConsentExpirationTime != "" {
			message = "connection consent expires at " + event.Payload.ConsentExpirationTime
		}
		if err := s.repo.UpdateConnectionStatus(ctx, conn.ID, domain.ConnectionPendingExpiration, &message); err != nil {
			return fmt.Errorf("failed to mark connection %s pending expiration: %w", conn.ID, err)
		}
		s.notify(ctx, conn, notifyConnectionExpiry, map[string]string{"expires_at": event.Payload.ConsentExpirationTime})
		return nil

	case domain.EventPermissionRevoked:
		message := "access revoked by user"
		if event.Payload.Error != nil && event.Payload.Error.ErrorMessage != "" {
			message = event.Payload.Error.ErrorMessage
		}
		if err := s.repo.UpdateConnectionStatus(ctx, conn.ID, domain.ConnectionRevoked, &message); err != nil {
			return fmt.Errorf("failed to mark connection %s revoked: %w", conn.ID, err)
		}
		log.Printf("level=warn component=service flow=health msg=\"connection revoked; no further syncs will run\" connection_id=%s", conn.ID)
		s.notify(ctx, conn, notifyConnectionRevoked, map[string]string{"reason": message})
		return nil

	default:
		log.Printf("level=info component=service flow=health msg=\"ignoring unrecognized item event\" connection_id=%s webhook_code=%s", conn.ID, event.Payload.WebhookCode)
		return nil
	}
}
