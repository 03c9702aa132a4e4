/**
 * @description
 * This file models the webhook payloads pushed by the aggregator and the
 * event taxonomy the dispatcher routes on. The raw payload is decoded into
 * `WebhookPayload` and then classified into a `WebhookEvent` so that routing
 * is an exhaustive switch over a closed set of kinds instead of string
 * comparisons scattered through the handler.
 */

package domain

// WebhookPayload is the top-level JSON body of an aggregator webhook.
type WebhookPayload struct {
	WebhookType           string        `json:"webhook_type"` // e.g. "TRANSACTIONS", "ITEM"
	WebhookCode           string        `json:"webhook_code"` // e.g. "SYNC_UPDATES_AVAILABLE", "ERROR"
	ItemID                string        `json:"item_id"`
	Error                 *WebhookError `json:"error,omitempty"`
	NewTransactions       int           `json:"new_transactions,omitempty"`
	ConsentExpirationTime string        `json:"consent_expiration_time,omitempty"`
}

// WebhookError is the error object the aggregator attaches to ITEM: ERROR events.
type WebhookError struct {
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// EventKind is the closed set of webhook events this service acts on.
type EventKind int

const (
	// EventUnrecognized covers every type/code combination the service does
	// not act on. It is logged and acknowledged, never an error.
	EventUnrecognized EventKind = iota
	// EventSyncUpdates signals new incremental transaction data is available.
	EventSyncUpdates
	// EventItemError signals the connection has entered an error state.
	EventItemError
	// EventItemRepaired signals the user fixed the connection (relink/login repair).
	EventItemRepaired
	// EventPendingExpiration signals the consent window is closing.
	EventPendingExpiration
	// EventPermissionRevoked signals the user revoked access at the institution.
	EventPermissionRevoked
)

// WebhookEvent is the classified form of a payload, routed by the dispatcher.
type WebhookEvent struct {
	Kind    EventKind
	Payload WebhookPayload
}

// ClassifyWebhook maps the aggregator's type/code pair onto an EventKind.
// Legacy transaction update codes are treated as sync triggers: a sync run
// observes everything up to "no more data", so the distinction between
// initial, historical and default updates does not matter here.
func ClassifyWebhook(p WebhookPayload) WebhookEvent {
	kind := EventUnrecognized
	switch p.WebhookType {
	case "TRANSACTIONS":
		switch p.WebhookCode {
		case "SYNC_UPDATES_AVAILABLE", "INITIAL_UPDATE", "HISTORICAL_UPDATE", "DEFAULT_UPDATE", "TRANSACTIONS_REMOVED":
			kind = EventSyncUpdates
		}
	case "ITEM":
		switch p.WebhookCode {
		case "ERROR":
			kind = EventItemError
		case "LOGIN_REPAIRED":
			kind = EventItemRepaired
		case "PENDING_EXPIRATION":
			kind = EventPendingExpiration
		case "USER_PERMISSION_REVOKED":
			kind = EventPermissionRevoked
		}
	}
	return WebhookEvent{Kind: kind, Payload: p}
}

// String returns the log-friendly name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventSyncUpdates:
		return "sync_updates"
	case EventItemError:
		return "item_error"
	case EventItemRepaired:
		return "item_repaired"
	case EventPendingExpiration:
		return "pending_expiration"
	case EventPermissionRevoked:
		return "permission_revoked"
	default:
		return "unrecognized"
	}
}
