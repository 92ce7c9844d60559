//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"krishi-billing/internal/domain"
	"krishi-billing/internal/domain/model"
	"krishi-billing/internal/domain/ports/adapter"
	"krishi-billing/internal/domain/ports/repository"
)

// =============================
// Repositories
// =============================

// ---- Mock SubscriptionRepository ----

type MockSubscriptionRepo struct {
	mu   sync.Mutex
	subs map[string]*model.MerchantSubscription // keyed by merchant id

	SaveFunc             func(ctx context.Context, tx repository.Tx, sub *model.MerchantSubscription) error
	FindByMerchantIDFunc func(ctx context.Context, tx repository.Tx, merchantID string) (*model.MerchantSubscription, error)
	ListDueFunc          func(ctx context.Context, tx repository.Tx, asOf time.Time, limit int) ([]*model.MerchantSubscription, error)
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo() *MockSubscriptionRepo {
	return &MockSubscriptionRepo{subs: make(map[string]*model.MerchantSubscription)}
}

func (m *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, sub *model.MerchantSubscription) error {
	if m.SaveFunc != nil {
		if err := m.SaveFunc(ctx, tx, sub); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subs[sub.MerchantID] = &cp
	return nil
}

func (m *MockSubscriptionRepo) FindByMerchantID(ctx context.Context, tx repository.Tx, merchantID string) (*model.MerchantSubscription, error) {
	if m.FindByMerchantIDFunc != nil {
		return m.FindByMerchantIDFunc(ctx, tx, merchantID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[merchantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *MockSubscriptionRepo) ListDueForBilling(ctx context.Context, tx repository.Tx, asOf time.Time, limit int) ([]*model.MerchantSubscription, error) {
	if m.ListDueFunc != nil {
		return m.ListDueFunc(ctx, tx, asOf, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.MerchantSubscription
	for _, s := range m.subs {
		if s.Status == model.SubscriptionStatusActive && s.NextBillingDate != nil && !s.NextBillingDate.After(asOf) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- Mock TransactionRepository ----

type MockTransactionRepo struct {
	mu   sync.Mutex
	recs map[string]*model.TransactionRecord // keyed by merchant txn id

	SaveFunc                  func(ctx context.Context, tx repository.Tx, rec *model.TransactionRecord) error
	UpdateStatusIfPendingFunc func(ctx context.Context, tx repository.Tx, mtid string, status model.TransactionStatus, mandateID, gatewayCode string) (bool, error)
}

var _ repository.TransactionRepository = (*MockTransactionRepo)(nil)

func NewMockTransactionRepo() *MockTransactionRepo {
	return &MockTransactionRepo{recs: make(map[string]*model.TransactionRecord)}
}

func (m *MockTransactionRepo) Save(ctx context.Context, tx repository.Tx, rec *model.TransactionRecord) error {
	if m.SaveFunc != nil {
		if err := m.SaveFunc(ctx, tx, rec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.recs[rec.MerchantTransactionID] = &cp
	return nil
}

func (m *MockTransactionRepo) FindByID(ctx context.Context, tx repository.Tx, mtid string) (*model.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[mtid]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MockTransactionRepo) UpdateStatusIfPending(ctx context.Context, tx repository.Tx, mtid string, status model.TransactionStatus, mandateID, gatewayCode string) (bool, error) {
	if m.UpdateStatusIfPendingFunc != nil {
		return m.UpdateStatusIfPendingFunc(ctx, tx, mtid, status, mandateID, gatewayCode)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[mtid]
	if !ok || rec.Status != model.TransactionStatusPending {
		return false, nil
	}
	rec.Status = status
	if mandateID != "" {
		rec.GatewayMandateID = mandateID
	}
	rec.GatewayCode = gatewayCode
	rec.UpdatedAt = time.Now()
	return true, nil
}

func (m *MockTransactionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.TransactionRecord
	for _, r := range m.recs {
		if r.Status == model.TransactionStatusPending && r.CreatedAt.Before(olderThan) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- Mock WebhookEventRepository ----

type MockWebhookEventRepo struct {
	mu   sync.Mutex
	seen map[string]struct{} // signature hashes

	RecordFunc func(ctx context.Context, tx repository.Tx, ev *model.WebhookEvent) error
}

var _ repository.WebhookEventRepository = (*MockWebhookEventRepo)(nil)

func NewMockWebhookEventRepo() *MockWebhookEventRepo {
	return &MockWebhookEventRepo{seen: make(map[string]struct{})}
}

func (m *MockWebhookEventRepo) Record(ctx context.Context, tx repository.Tx, ev *model.WebhookEvent) error {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, tx, ev)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.seen[ev.SignatureHash]; dup {
		return domain.ErrDuplicateWebhook
	}
	m.seen[ev.SignatureHash] = struct{}{}
	return nil
}

// =============================
// Adapters
// =============================

// ---- Mock MandateGateway ----

type MockGateway struct {
	mu    sync.Mutex
	Calls []string // operation names, in order

	CreateMandateFunc         func(ctx context.Context, p adapter.CreateMandateParams) (adapter.GatewayResponse, error)
	CheckStatusFunc           func(ctx context.Context, mtid string) (adapter.GatewayResponse, error)
	ExecuteRecurringDebitFunc func(ctx context.Context, p adapter.DebitParams) (adapter.GatewayResponse, error)
	CancelMandateFunc         func(ctx context.Context, mandateID string) (adapter.GatewayResponse, error)
	VerifySignatureFunc       func(rawBody []byte, signatureHeader string) bool
}

var _ adapter.MandateGateway = (*MockGateway)(nil)

func (m *MockGateway) Name() string { return "mock" }

func (m *MockGateway) record(op string) {
	m.mu.Lock()
	m.Calls = append(m.Calls, op)
	m.mu.Unlock()
}

func (m *MockGateway) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == op {
			n++
		}
	}
	return n
}

func (m *MockGateway) CreateMandate(ctx context.Context, p adapter.CreateMandateParams) (adapter.GatewayResponse, error) {
	m.record("create_mandate")
	if m.CreateMandateFunc != nil {
		return m.CreateMandateFunc(ctx, p)
	}
	return adapter.GatewayResponse{Success: true, Code: "PAYMENT_INITIATED", RedirectURL: "https://pay.example/redirect"}, nil
}

func (m *MockGateway) CheckStatus(ctx context.Context, mtid string) (adapter.GatewayResponse, error) {
	m.record("check_status")
	if m.CheckStatusFunc != nil {
		return m.CheckStatusFunc(ctx, mtid)
	}
	return adapter.GatewayResponse{Success: true, Code: "PAYMENT_PENDING"}, nil
}

func (m *MockGateway) ExecuteRecurringDebit(ctx context.Context, p adapter.DebitParams) (adapter.GatewayResponse, error) {
	m.record("recurring_debit")
	if m.ExecuteRecurringDebitFunc != nil {
		return m.ExecuteRecurringDebitFunc(ctx, p)
	}
	return adapter.GatewayResponse{Success: true, Code: "PAYMENT_PENDING"}, nil
}

func (m *MockGateway) CancelMandate(ctx context.Context, mandateID string) (adapter.GatewayResponse, error) {
	m.record("cancel_mandate")
	if m.CancelMandateFunc != nil {
		return m.CancelMandateFunc(ctx, mandateID)
	}
	return adapter.GatewayResponse{Success: true, Code: "SUCCESS", MandateID: mandateID}, nil
}

func (m *MockGateway) VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool {
	if m.VerifySignatureFunc != nil {
		return m.VerifySignatureFunc(rawBody, signatureHeader)
	}
	return true
}

// =============================
// Infrastructure
// =============================

// ---- Mock TransactionManager ----

// MockTxManager runs fn inline with a marker value as the tx handle so
// tests can assert calls happened inside a transaction.
type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, "mock-tx")
}

// ---- Mock Locker ----

type MockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	Locks []string // keys in acquisition order

	TryLockFunc func(ctx context.Context, key string, ttl time.Duration) (string, error)
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: make(map[string]string)}
}

func (m *MockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.TryLockFunc != nil {
		return m.TryLockFunc(ctx, key, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.held[key]; held {
		return "", domain.ErrChargeInFlight
	}
	token := "token-" + key
	m.held[key] = token
	m.Locks = append(m.Locks, key)
	return token, nil
}

func (m *MockLocker) Unlock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}
