package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/ledger-sync-service/internal/domain"
	"github.com/transfa/ledger-sync-service/internal/store"
)

// fakeRepository is an in-memory store.Repository used to exercise the
// reconciliation engine end-to-end without a database.
type fakeRepository struct {
	mu sync.Mutex

	connections  map[uuid.UUID]*domain.Connection
	accounts     []domain.Account
	transactions map[string]*domain.Transaction
	balances     map[uuid.UUID][2]int64
	stale        []domain.Connection

	insertErr error
	upsertErr error
	cursorErr error

	cursorWrites []string
	statusWrites []fakeStatusWrite
	syncedAt     *time.Time
}

type fakeStatusWrite struct {
	connectionID uuid.UUID
	status       domain.ConnectionStatus
	errorMessage *string
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		connections:  make(map[uuid.UUID]*domain.Connection),
		transactions: make(map[string]*domain.Transaction),
		balances:     make(map[uuid.UUID][2]int64),
	}
}

func (r *fakeRepository) addConnection(conn *domain.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.ID] = conn
}

func (r *fakeRepository) addAccount(account domain.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = append(r.accounts, account)
}

func (r *fakeRepository) FindConnectionByItemID(ctx context.Context, plaidItemID string) (*domain.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.connections {
		if conn.PlaidItemID == plaidItemID {
			copied := *conn
			return &copied, nil
		}
	}
	return nil, store.ErrConnectionNotFound
}

func (r *fakeRepository) FindConnectionByID(ctx context.Context, connectionID uuid.UUID) (*domain.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.connections[connectionID]
	if !ok {
		return nil, store.ErrConnectionNotFound
	}
	copied := *conn
	return &copied, nil
}

func (r *fakeRepository) ListStaleActiveConnections(ctx context.Context, cutoff time.Time) ([]domain.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stale, nil
}

func (r *fakeRepository) UpdateConnectionSyncCursor(ctx context.Context, connectionID uuid.UUID, cursor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursorErr != nil {
		return r.cursorErr
	}
	conn, ok := r.connections[connectionID]
	if !ok {
		return store.ErrConnectionNotFound
	}
	conn.SyncCursor = &cursor
	r.cursorWrites = append(r.cursorWrites, cursor)
	return nil
}

func (r *fakeRepository) MarkConnectionSynced(ctx context.Context, connectionID uuid.UUID, syncedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.connections[connectionID]
	if !ok || conn.Status == domain.ConnectionRevoked {
		return nil
	}
	conn.Status = domain.ConnectionActive
	conn.ErrorMessage = nil
	conn.LastSyncedAt = &syncedAt
	r.syncedAt = &syncedAt
	return nil
}

func (r *fakeRepository) UpdateConnectionStatus(ctx context.Context, connectionID uuid.UUID, status domain.ConnectionStatus, errorMessage *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.connections[connectionID]
	if !ok {
		return store.ErrConnectionNotFound
	}
	conn.Status = status
	conn.ErrorMessage = errorMessage
	r.statusWrites = append(r.statusWrites, fakeStatusWrite{connectionID: connectionID, status: status, errorMessage: errorMessage})
	return nil
}

func (r *fakeRepository) FindAccountsByConnectionID(ctx context.Context, connectionID uuid.UUID) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []domain.Account
	for _, account := range r.accounts {
		if account.ConnectionID == connectionID {
			matched = append(matched, account)
		}
	}
	return matched, nil
}

func (r *fakeRepository) UpdateAccountBalances(ctx context.Context, accountID uuid.UUID, currentBalance, availableBalance int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[accountID] = [2]int64{currentBalance, availableBalance}
	return nil
}

func (r *fakeRepository) InsertTransactionIgnoreConflict(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	if _, exists := r.transactions[tx.PlaidTransactionID]; exists {
		return nil
	}
	copied := *tx
	r.transactions[tx.PlaidTransactionID] = &copied
	return nil
}

func (r *fakeRepository) UpsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return r.upsertErr
	}
	existing, exists := r.transactions[tx.PlaidTransactionID]
	if !exists {
		copied := *tx
		r.transactions[tx.PlaidTransactionID] = &copied
		return nil
	}
	existing.Amount = tx.Amount
	existing.Date = tx.Date
	existing.MerchantName = tx.MerchantName
	existing.Category = tx.Category
	existing.IsPending = tx.IsPending
	return nil
}

func (r *fakeRepository) HideTransactionByPlaidID(ctx context.Context, plaidTransactionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, exists := r.transactions[plaidTransactionID]; exists {
		existing.IsHidden = true
	}
	return nil
}

func (r *fakeRepository) revoke(connectionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.connections[connectionID]; ok {
		conn.Status = domain.ConnectionRevoked
	}
}

func (r *fakeRepository) transaction(plaidTransactionID string) *domain.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.transactions[plaidTransactionID]
	if !ok {
		return nil
	}
	copied := *tx
	return &copied
}

func (r *fakeRepository) transactionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transactions)
}

// fakeAggregator serves scripted sync pages keyed by the cursor it is called
// with, mimicking the cursor pagination of the real aggregator API.
type fakeAggregator struct {
	mu sync.Mutex

	pages       map[string]*domain.ChangeSet
	errAtCursor map[string]error
	balances    []domain.SyncedBalance
	balancesErr error
	onSync      func()

	syncCalls    int
	balanceCalls int
}

func newFakeAggregator() *fakeAggregator {
	return &fakeAggregator{
		pages:       make(map[string]*domain.ChangeSet),
		errAtCursor: make(map[string]error),
	}
}

func (a *fakeAggregator) SyncTransactions(ctx context.Context, accessToken, cursor string, count int) (*domain.ChangeSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.syncCalls++
	if a.onSync != nil {
		a.onSync()
	}
	if err, ok := a.errAtCursor[cursor]; ok {
		return nil, err
	}
	if page, ok := a.pages[cursor]; ok {
		copied := *page
		return &copied, nil
	}
	return &domain.ChangeSet{NextCursor: cursor, HasMore: false}, nil
}

func (a *fakeAggregator) GetBalances(ctx context.Context, accessToken string) ([]domain.SyncedBalance, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balanceCalls++
	if a.balancesErr != nil {
		return nil, a.balancesErr
	}
	return a.balances, nil
}

// fakeLocker is a scriptable SyncLocker.
type fakeLocker struct {
	mu sync.Mutex

	acquire bool
	lockErr error

	lockCalls int
	unlocks   int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{acquire: true}
}

func (l *fakeLocker) TryLock(ctx context.Context, connectionID uuid.UUID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lockCalls++
	return l.acquire, l.lockErr
}

func (l *fakeLocker) Unlock(ctx context.Context, connectionID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unlocks++
	return nil
}

// fakePublisher records published notification events.
type fakePublisher struct {
	mu sync.Mutex

	events []publishedEvent
	err    error
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *fakePublisher) Close() {}

func (p *fakePublisher) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

func activeConnection(repo *fakeRepository) *domain.Connection {
	conn := &domain.Connection{
		ID:                   uuid.New(),
		UserID:               uuid.New(),
		PlaidItemID:          "item-live-1",
		AccessTokenEncrypted: "access-token-1",
		InstitutionName:      "First Platypus Bank",
		Status:               domain.ConnectionActive,
	}
	repo.addConnection(conn)
	return conn
}

func connectionAccount(repo *fakeRepository, connectionID uuid.UUID, plaidAccountID string) domain.Account {
	account := domain.Account{
		ID:             uuid.New(),
		ConnectionID:   connectionID,
		PlaidAccountID: plaidAccountID,
		Name:           "Checking",
	}
	repo.addAccount(account)
	return account
}
