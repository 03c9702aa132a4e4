/**
 * @description
 * This file contains the core orchestration logic for the ledger-sync-service.
 * The `Service` struct coordinates the sync cursor engine, the ledger
 * reconciler and the connection health state machine, working against the
 * database repository, the aggregator client, the notification producer and
 * the distributed sync lock.
 *
 * Every collaborator is injected as an interface so the engine can be
 * exercised end-to-end with in-memory fakes.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For publishing notification events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-sync-service/internal/domain"
	"github.com/transfa/ledger-sync-service/internal/store"
	"github.com/transfa/ledger-sync-service/pkg/rabbitmq"
)

var (
	// ErrConnectionRevoked is returned when a sync is requested for a
	// connection whose access was permanently revoked by the user.
	ErrConnectionRevoked = errors.New("connection access has been revoked")
)

// Aggregator is the pull-side port of the banking-data aggregator: cursor
// paginated incremental changes plus point-in-time balances.
type Aggregator interface {
	SyncTransactions(ctx context.Context, accessToken, cursor string, count int) (*domain.ChangeSet, error)
	GetBalances(ctx context.Context, accessToken string) ([]domain.SyncedBalance, error)
}

// SyncLocker is the per-connection advisory lock that keeps two sync runs for
// the same connection from duplicating aggregator calls. The lock is a
// performance guard, not a correctness requirement: the page-by-page
// reconcile-then-advance ordering keeps concurrent runs idempotent.
type SyncLocker interface {
	TryLock(ctx context.Context, connectionID uuid.UUID) (bool, error)
	Unlock(ctx context.Context, connectionID uuid.UUID) error
}

// Service provides the core reconciliation logic.
type Service struct {
	repo          store.Repository
	aggregator    Aggregator
	eventProducer rabbitmq.Publisher
	syncLock      SyncLocker
	eventExchange string
	pageSize      int
}

// NewService creates a new ledger sync service instance.
func NewService(repo store.Repository, aggregator Aggregator, producer rabbitmq.Publisher, syncLock SyncLocker, eventExchange string, pageSize int) *Service {
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	if syncLock == nil {
		syncLock = NoopSyncLocker{}
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Service{
		repo:          repo,
		aggregator:    aggregator,
		eventProducer: producer,
		syncLock:      syncLock,
		eventExchange: eventExchange,
		pageSize:      pageSize,
	}
}

// ResolveConnection maps an external item id to the internal connection
// record. Callers must acknowledge unknown items without retry: the item may
// belong to a different environment sharing the same webhook endpoint.
func (s *Service) ResolveConnection(ctx context.Context, plaidItemID string) (*domain.Connection, error) {
	return s.repo.FindConnectionByItemID(ctx, plaidItemID)
}

// SyncByConnectionID runs a full sync for the connection with the given
// internal id. This is the manual/ops entry point.
func (s *Service) SyncByConnectionID(ctx context.Context, connectionID uuid.UUID) (*domain.SyncResult, error) {
	conn, err := s.repo.FindConnectionByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	return s.RunSync(ctx, conn)
}

// GetConnectionOverview returns the operator-facing view of a connection.
func (s *Service) GetConnectionOverview(ctx context.Context, connectionID uuid.UUID) (*domain.ConnectionOverview, error) {
	conn, err := s.repo.FindConnectionByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	accounts, err := s.repo.FindAccountsByConnectionID(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts for connection %s: %w", connectionID, err)
	}
	return &domain.ConnectionOverview{
		Connection: *conn,
		HasCursor:  conn.SyncCursor != nil && *conn.SyncCursor != "",
		Accounts:   accounts,
	}, nil
}

// notify publishes a user-facing notification event. Publishing is
// fire-and-forget: a broker failure is captured and logged, never allowed to
// fail the reconciliation pass that produced it.
func (s *Service) notify(ctx context.Context, conn *domain.Connection, kind string, data map[string]string) {
	if data == nil {
		data = map[string]string{}
	}
	data["institution_name"] = conn.InstitutionName

	event := rabbitmq.NotificationEvent{
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
		Kind:         kind,
		Data:         data,
		Timestamp:    time.Now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, s.eventExchange, "connection."+kind, event); err != nil {
		log.Printf("level=warn component=service flow=notify msg=\"notification publish failed\" connection_id=%s kind=%s err=%v", conn.ID, kind, err)
	}
}
