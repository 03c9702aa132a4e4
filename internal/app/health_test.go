package app

import (
	"context"
	"errors"
	"testing"

	"github.com/transfa/ledger-sync-service/internal/domain"
	"github.com/transfa/ledger-sync-service/pkg/rabbitmq"
)

var errBrokerDown = errors.New("broker unreachable")

func itemEvent(kind domain.EventKind, payload domain.WebhookPayload) domain.WebhookEvent {
	return domain.WebhookEvent{Kind: kind, Payload: payload}
}

func TestHandleItemEventStatusTransitions(t *testing.T) {
	tests := []struct {
		name           string
		event          domain.WebhookEvent
		wantStatus     domain.ConnectionStatus
		wantMessage    string
		wantRoutingKey string
	}{
		{
			name: "error event marks connection errored with aggregator message",
			event: itemEvent(domain.EventItemError, domain.WebhookPayload{
				WebhookType: "ITEM",
				WebhookCode: "ERROR",
				Error:       &domain.WebhookError{ErrorType: "ITEM_ERROR", ErrorCode: "ITEM_LOGIN_REQUIRED", ErrorMessage: "the login details changed"},
			}),
			wantStatus:     domain.ConnectionError,
			wantMessage:    "the login details changed",
			wantRoutingKey: "connection.status.error",
		},
		{
			name: "error event without detail uses fallback message",
			event: itemEvent(domain.EventItemError, domain.WebhookPayload{
				WebhookType: "ITEM",
				WebhookCode: "ERROR",
			}),
			wantStatus:     domain.ConnectionError,
			wantMessage:    "connection error reported by aggregator",
			wantRoutingKey: "connection.status.error",
		},
		{
			name: "pending expiration records the consent deadline",
			event: itemEvent(domain.EventPendingExpiration, domain.WebhookPayload{
				WebhookType:           "ITEM",
				WebhookCode:           "PENDING_EXPIRATION",
				ConsentExpirationTime: "2026-09-15T00:00:00Z",
			}),
			wantStatus:     domain.ConnectionPendingExpiration,
			wantMessage:    "connection consent expires at 2026-09-15T00:00:00Z",
			wantRoutingKey: "connection.status.pending_expiration",
		},
		{
			name: "revocation is terminal",
			event: itemEvent(domain.EventPermissionRevoked, domain.WebhookPayload{
				WebhookType: "ITEM",
				WebhookCode: "USER_PERMISSION_REVOKED",
			}),
			wantStatus:     domain.ConnectionRevoked,
			wantMessage:    "access revoked by user",
			wantRoutingKey: "connection.status.revoked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepository()
			conn := activeConnection(repo)
			publisher := &fakePublisher{}
			service := NewService(repo, newFakeAggregator(), publisher, newFakeLocker(), "ledger.events", 100)

			if err := service.HandleItemEvent(context.Background(), conn, tt.event); err != nil {
				t.Fatalf("HandleItemEvent returned unexpected error: %v", err)
			}

			stored, _ := repo.FindConnectionByID(context.Background(), conn.ID)
			if stored.Status != tt.wantStatus {
				t.Fatalf("expected status %q, got %q", tt.wantStatus, stored.Status)
			}
			if stored.ErrorMessage == nil || *stored.ErrorMessage != tt.wantMessage {
				t.Fatalf("expected message %q, got %v", tt.wantMessage, stored.ErrorMessage)
			}

			events := publisher.published()
			if len(events) != 1 {
				t.Fatalf("expected one notification event, got %d", len(events))
			}
			if events[0].routingKey != tt.wantRoutingKey {
				t.Fatalf("expected routing key %q, got %q", tt.wantRoutingKey, events[0].routingKey)
			}
			notification, ok := events[0].body.(rabbitmq.NotificationEvent)
			if !ok {
				t.Fatalf("expected NotificationEvent body, got %T", events[0].body)
			}
			if notification.ConnectionID != conn.ID || notification.UserID != conn.UserID {
				t.Fatal("expected notification addressed to the connection owner")
			}
			if notification.Data["institution_name"] != conn.InstitutionName {
				t.Fatalf("expected institution name in event data, got %v", notification.Data)
			}
		})
	}
}

func TestHandleItemEventRepairTriggersCatchupSync(t *testing.T) {
	repo := newFakeRepository()
	conn := activeConnection(repo)
	conn.Status = domain.ConnectionError
	errored := "the login details changed"
	conn.ErrorMessage = &errored

	aggregator := newFakeAggregator()
	service := NewService(repo, aggregator, &fakePublisher{}, newFakeLocker(), "ledger.events", 100)

	event := itemEvent(domain.EventItemRepaired, domain.WebhookPayload{WebhookType: "ITEM", WebhookCode: "LOGIN_REPAIRED"})
	if err := service.HandleItemEvent(context.Background(), conn, event); err != nil {
		t.Fatalf("HandleItemEvent returned unexpected error: %v", err)
	}

	stored, _ := repo.FindConnectionByID(context.Background(), conn.ID)
	if stored.Status != domain.ConnectionActive {
		t.Fatalf("expected connection active after repair, got %q", stored.Status)
	}
	if stored.ErrorMessage != nil {
		t.Fatalf("expected error message cleared after repair, got %q", *stored.ErrorMessage)
	}
	if aggregator.syncCalls == 0 {
		t.Fatal("expected repair to trigger an immediate catch-up sync")
	}
	if stored.LastSyncedAt == nil {
		t.Fatal("expected the catch-up sync to complete")
	}
}

func TestHandleItemEventRevokedIsTerminal(t *testing.T) {
	tests := []struct {
		name  string
		event domain.WebhookEvent
	}{
		{
			name:  "late login repaired does not resurrect",
			event: itemEvent(domain.EventItemRepaired, domain.WebhookPayload{WebhookType: "ITEM", WebhookCode: "LOGIN_REPAIRED"}),
		},
		{
			name: "late error does not rewrite status",
			event: itemEvent(domain.EventItemError, domain.WebhookPayload{
				WebhookType: "ITEM",
				WebhookCode: "ERROR",
				Error:       &domain.WebhookError{ErrorMessage: "stale redelivery"},
			}),
		},
		{
			name:  "duplicate revocation is a no-op",
			event: itemEvent(domain.EventPermissionRevoked, domain.WebhookPayload{WebhookType: "ITEM", WebhookCode: "USER_PERMISSION_REVOKED"}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepository()
			conn := activeConnection(repo)
			conn.Status = domain.ConnectionRevoked
			revoked := "access revoked by user"
			conn.ErrorMessage = &revoked

			aggregator := newFakeAggregator()
			publisher := &fakePublisher{}
			service := NewService(repo, aggregator, publisher, newFakeLocker(), "ledger.events", 100)

			if err := service.HandleItemEvent(context.Background(), conn, tt.event); err != nil {
				t.Fatalf("HandleItemEvent returned unexpected error: %v", err)
			}

			stored, _ := repo.FindConnectionByID(context.Background(), conn.ID)
			if stored.Status != domain.ConnectionRevoked {
				t.Fatalf("revoked connection left terminal state: status=%q", stored.Status)
			}
			if len(repo.statusWrites) != 0 {
				t.Fatalf("expected no status writes for a revoked connection, got %v", repo.statusWrites)
			}
			if aggregator.syncCalls != 0 {
				t.Fatalf("sync attempted against revoked connection: syncCalls=%d", aggregator.syncCalls)
			}
			if len(publisher.published()) != 0 {
				t.Fatal("expected no notifications for events on a revoked connection")
			}
		})
	}
}

func TestHandleItemEventIgnoresUnrecognizedCode(t *testing.T) {
	repo := newFakeRepository()
	conn := activeConnection(repo)
	publisher := &fakePublisher{}
	service := NewService(repo, newFakeAggregator(), publisher, newFakeLocker(), "ledger.events", 100)

	event := itemEvent(domain.EventUnrecognized, domain.WebhookPayload{WebhookType: "ITEM", WebhookCode: "WEBHOOK_UPDATE_ACKNOWLEDGED"})
	if err := service.HandleItemEvent(context.Background(), conn, event); err != nil {
		t.Fatalf("expected unrecognized code to be ignored, got %v", err)
	}

	stored, _ := repo.FindConnectionByID(context.Background(), conn.ID)
	if stored.Status != domain.ConnectionActive {
		t.Fatalf("expected status untouched, got %q", stored.Status)
	}
	if len(repo.statusWrites) != 0 {
		t.Fatalf("expected no status writes, got %v", repo.statusWrites)
	}
	if len(publisher.published()) != 0 {
		t.Fatal("expected no notifications for unrecognized codes")
	}
}

func TestHandleItemEventNotificationFailureDoesNotPropagate(t *testing.T) {
	repo := newFakeRepository()
	conn := activeConnection(repo)
	publisher := &fakePublisher{err: errBrokerDown}
	service := NewService(repo, newFakeAggregator(), publisher, newFakeLocker(), "ledger.events", 100)

	event := itemEvent(domain.EventItemError, domain.WebhookPayload{WebhookType: "ITEM", WebhookCode: "ERROR"})
	if err := service.HandleItemEvent(context.Background(), conn, event); err != nil {
		t.Fatalf("expected broker failure to be absorbed, got %v", err)
	}

	stored, _ := repo.FindConnectionByID(context.Background(), conn.ID)
	if stored.Status != domain.ConnectionError {
		t.Fatalf("expected status write to land despite broker failure, got %q", stored.Status)
	}
}
