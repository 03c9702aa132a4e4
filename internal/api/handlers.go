/**
 * @description
 * This file contains the HTTP handlers for the ledger-sync-service: the
 * webhook dispatcher that is the aggregator-facing entry point, and the
 * internal ops endpoints for manual syncs and connection inspection.
 *
 * Acknowledgement policy: the webhook endpoint always returns HTTP 200 to
 * the aggregator except on signature verification failure. Internal
 * failures (storage errors, aggregator fetch errors mid-sync) are logged
 * for operator follow-up and acknowledged, because telling the aggregator
 * to retry a local bug only produces redelivery storms.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/domain, internal/store: payload models and sentinel errors.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/ledger-sync-service/internal/app"
	"github.com/transfa/ledger-sync-service/internal/domain"
	"github.com/transfa/ledger-sync-service/internal/store"
)

// webhookSignatureHeader carries the signed webhook assertion.
const webhookSignatureHeader = "Plaid-Verification"

// maxWebhookBodyBytes bounds reads on the unauthenticated webhook endpoint.
// Aggregator webhook payloads are a few hundred bytes.
const maxWebhookBodyBytes = 1 << 20

// EventProcessor is the application-service surface the handlers depend on.
type EventProcessor interface {
	ResolveConnection(ctx context.Context, plaidItemID string) (*domain.Connection, error)
	RunSync(ctx context.Context, conn *domain.Connection) (*domain.SyncResult, error)
	HandleItemEvent(ctx context.Context, conn *domain.Connection, event domain.WebhookEvent) error
	SyncByConnectionID(ctx context.Context, connectionID uuid.UUID) (*domain.SyncResult, error)
	GetConnectionOverview(ctx context.Context, connectionID uuid.UUID) (*domain.ConnectionOverview, error)
}

// SyncHandlers holds the collaborators the HTTP layer uses.
type SyncHandlers struct {
	service  EventProcessor
	verifier EventVerifier
}

// ackResponse is the body returned to the aggregator for every webhook that
// passes verification.
type ackResponse struct {
	Received   bool               `json:"received"`
	Processed  bool               `json:"processed"`
	DurationMs int64              `json:"duration_ms"`
	Error      string             `json:"error,omitempty"`
	Sync       *domain.SyncResult `json:"sync,omitempty"`
}

// NewSyncHandlers creates a new instance of SyncHandlers.
func NewSyncHandlers(service EventProcessor, verifier EventVerifier) *SyncHandlers {
	return &SyncHandlers{service: service, verifier: verifier}
}

// WebhookHandler is the aggregator-facing dispatcher: verify, parse, resolve,
// route, acknowledge.
func (h *SyncHandlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Printf("level=warn component=api endpoint=webhook outcome=reject reason=unreadable_body err=%v", err)
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	// Verification is the single case where the aggregator is told no. A
	// request we cannot authenticate must never reach the reconciler.
	if !h.verifier.Verify(body, r.Header.Get(webhookSignatureHeader)) {
		log.Printf("level=warn component=api endpoint=webhook outcome=reject reason=verification_failed remote_addr=%s", r.RemoteAddr)
		http.Error(w, "Invalid webhook signature", http.StatusUnauthorized)
		return
	}

	var payload domain.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("level=warn component=api endpoint=webhook outcome=ack reason=invalid_json err=%v", err)
		h.writeAck(w, start, ackResponse{Processed: false, Error: "invalid payload"})
		return
	}

	event := domain.ClassifyWebhook(payload)
	log.Printf("level=info component=api endpoint=webhook outcome=accepted event=%s webhook_type=%s webhook_code=%s item_id=%s",
		event.Kind, payload.WebhookType, payload.WebhookCode, payload.ItemID)

	conn, err := h.service.ResolveConnection(r.Context(), payload.ItemID)
	if err != nil {
		if errors.Is(err, store.ErrConnectionNotFound) {
			// Possibly an item from another environment sharing this webhook
			// URL. Acknowledge so the aggregator does not retry.
			log.Printf("level=info component=api endpoint=webhook outcome=ack reason=unknown_item item_id=%s", payload.ItemID)
			h.writeAck(w, start, ackResponse{Processed: false, Error: "unknown item"})
			return
		}
		log.Printf("level=error component=api endpoint=webhook outcome=ack reason=resolution_failed item_id=%s err=%v", payload.ItemID, err)
		h.writeAck(w, start, ackResponse{Processed: false, Error: "internal error"})
		return
	}

	ack := h.dispatch(r.Context(), conn, event)
	h.writeAck(w, start, ack)
}

// dispatch routes a classified event to the sync engine or the health state
// machine and converts the internal outcome into an acknowledgement.
func (h *SyncHandlers) dispatch(ctx context.Context, conn *domain.Connection, event domain.WebhookEvent) ackResponse {
	switch event.Kind {
	case domain.EventSyncUpdates:
		result, err := h.service.RunSync(ctx, conn)
		if err != nil {
			if errors.Is(err, app.ErrConnectionRevoked) {
				log.Printf("level=info component=api endpoint=webhook outcome=ack reason=connection_revoked connection_id=%s", conn.ID)
				return ackResponse{Processed: false, Error: "connection revoked"}
			}
			// The cursor is still at the last fully-applied page; the next
			// trigger resumes cleanly. Surface nothing retryable upstream.
			log.Printf("level=error component=api endpoint=webhook outcome=ack reason=sync_failed connection_id=%s err=%v", conn.ID, err)
			return ackResponse{Processed: false, Error: "sync failed"}
		}
		return ackResponse{Processed: !result.AlreadyRunning, Sync: result}

	case domain.EventItemError, domain.EventItemRepaired, domain.EventPendingExpiration, domain.EventPermissionRevoked:
		if err := h.service.HandleItemEvent(ctx, conn, event); err != nil {
			log.Printf("level=error component=api endpoint=webhook outcome=ack reason=health_update_failed connection_id=%s event=%s err=%v", conn.ID, event.Kind, err)
			return ackResponse{Processed: false, Error: "status update failed"}
		}
		return ackResponse{Processed: true}

	default:
		// Unrecognized events are part of normal operation as the aggregator
		// adds webhook codes; they are never a failure.
		return ackResponse{Processed: false}
	}
}

// TriggerSyncHandler runs a sync on demand for one connection (internal ops).
func (h *SyncHandlers) TriggerSyncHandler(w http.ResponseWriter, r *http.Request) {
	connectionID, err := uuid.Parse(chi.URLParam(r, "connectionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid connection ID format")
		return
	}

	result, err := h.service.SyncByConnectionID(r.Context(), connectionID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrConnectionNotFound):
			h.writeError(w, http.StatusNotFound, "Connection not found")
		case errors.Is(err, app.ErrConnectionRevoked):
			h.writeError(w, http.StatusConflict, "Connection access has been revoked")
		default:
			log.Printf("level=error component=api endpoint=trigger_sync outcome=failed connection_id=%s err=%v", connectionID, err)
			h.writeError(w, http.StatusInternalServerError, "Sync failed")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// GetConnectionHandler returns connection status and balances (internal ops).
func (h *SyncHandlers) GetConnectionHandler(w http.ResponseWriter, r *http.Request) {
	connectionID, err := uuid.Parse(chi.URLParam(r, "connectionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid connection ID format")
		return
	}

	overview, err := h.service.GetConnectionOverview(r.Context(), connectionID)
	if err != nil {
		if errors.Is(err, store.ErrConnectionNotFound) {
			h.writeError(w, http.StatusNotFound, "Connection not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_connection outcome=failed connection_id=%s err=%v", connectionID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, overview)
}

func (h *SyncHandlers) writeAck(w http.ResponseWriter, start time.Time, ack ackResponse) {
	ack.Received = true
	ack.DurationMs = time.Since(start).Milliseconds()
	h.writeJSON(w, http.StatusOK, ack)
}

// writeJSON is a helper for writing JSON responses.
func (h *SyncHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *SyncHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
