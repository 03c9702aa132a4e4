package domain

import "testing"

func TestClassifyWebhook(t *testing.T) {
	tests := []struct {
		name        string
		webhookType string
		webhookCode string
		want        EventKind
	}{
		{name: "sync updates available", webhookType: "TRANSACTIONS", webhookCode: "SYNC_UPDATES_AVAILABLE", want: EventSyncUpdates},
		{name: "legacy initial update", webhookType: "TRANSACTIONS", webhookCode: "INITIAL_UPDATE", want: EventSyncUpdates},
		{name: "legacy historical update", webhookType: "TRANSACTIONS", webhookCode: "HISTORICAL_UPDATE", want: EventSyncUpdates},
		{name: "legacy default update", webhookType: "TRANSACTIONS", webhookCode: "DEFAULT_UPDATE", want: EventSyncUpdates},
		{name: "legacy removals", webhookType: "TRANSACTIONS", webhookCode: "TRANSACTIONS_REMOVED", want: EventSyncUpdates},
		{name: "item error", webhookType: "ITEM", webhookCode: "ERROR", want: EventItemError},
		{name: "login repaired", webhookType: "ITEM", webhookCode: "LOGIN_REPAIRED", want: EventItemRepaired},
		{name: "pending expiration", webhookType: "ITEM", webhookCode: "PENDING_EXPIRATION", want: EventPendingExpiration},
		{name: "permission revoked", webhookType: "ITEM", webhookCode: "USER_PERMISSION_REVOKED", want: EventPermissionRevoked},
		{name: "unknown item code", webhookType: "ITEM", webhookCode: "WEBHOOK_UPDATE_ACKNOWLEDGED", want: EventUnrecognized},
		{name: "unknown webhook type", webhookType: "ASSETS", webhookCode: "PRODUCT_READY", want: EventUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := WebhookPayload{WebhookType: tt.webhookType, WebhookCode: tt.webhookCode, ItemID: "item-1"}
			event := ClassifyWebhook(payload)
			if event.Kind != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, event.Kind)
			}
			if event.Payload.ItemID != payload.ItemID {
				t.Fatal("expected payload carried through classification")
			}
		})
	}
}
