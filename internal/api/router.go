/**
 * @description
 * This file sets up the HTTP router for the ledger-sync-service. The webhook
 * endpoint is open (authenticated by signature verification inside the
 * handler); the ops endpoints are gated behind the internal API key shared by
 * the backend services.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SyncRoutes creates and returns a new router for the ledger sync service.
func SyncRoutes(h *SyncHandlers, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Webhook handling includes a full sync pass; give it room.
	r.Use(middleware.Timeout(120 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Aggregator-facing webhook entry point.
	r.Post("/webhooks/plaid", h.WebhookHandler)

	// Internal ops endpoints.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/sync/{connectionID}", h.TriggerSyncHandler)
		r.Get("/connections/{connectionID}", h.GetConnectionHandler)
	})

	return r
}

// InternalAuthMiddleware rejects ops requests that do not carry the shared
// internal API key.
func InternalAuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Internal-API-Key")
			if apiKey == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
