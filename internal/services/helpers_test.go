package services_test

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"vtu-service/internal/config"
	"vtu-service/internal/gateway"
	"vtu-service/internal/ledger"
	"vtu-service/internal/ledger/memstore"
	"vtu-service/internal/models"
	"vtu-service/internal/vendors"
)

const (
	testPin    = "1234"
	testSecret = "sk_test_webhook"
	fakeKind   = models.AdapterKind("fake")
)

func testConfig() *config.Config {
	return &config.Config{
		VendorTimeout:       time.Second,
		FailureThreshold:    3,
		HealthCheckInterval: time.Hour,
		HealthCheckTimeout:  time.Second,
		VerifyMaxRetries:    3,
		RetryBaseDelay:      time.Second,
		WorkerCount:         1,
	}
}

// fakeAdapter is a scripted vendor.
type fakeAdapter struct {
	id string

	mu         sync.Mutex
	calls      int
	purchase   func(ctx context.Context, params vendors.Params, amount int64) (vendors.PurchaseResult, error)
	balance    int64
	balanceErr error
	quote      int64
}

func (f *fakeAdapter) Quote(context.Context, models.ServiceType, vendors.Params) (int64, error) {
	return f.quote, nil
}

func (f *fakeAdapter) Purchase(ctx context.Context, _ models.ServiceType, params vendors.Params, amount int64) (vendors.PurchaseResult, error) {
	f.mu.Lock()
	f.calls++
	fn := f.purchase
	f.mu.Unlock()
	if fn == nil {
		return vendors.PurchaseResult{ProviderReference: f.id + "-" + params.Reference}, nil
	}
	return fn(ctx, params, amount)
}

func (f *fakeAdapter) Balance(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.balanceErr
}

func (f *fakeAdapter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAdapter) setBalance(balance int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance, f.balanceErr = balance, err
}

func succeed() func(context.Context, vendors.Params, int64) (vendors.PurchaseResult, error) {
	return nil
}

func failTransient(id string) func(context.Context, vendors.Params, int64) (vendors.PurchaseResult, error) {
	return func(context.Context, vendors.Params, int64) (vendors.PurchaseResult, error) {
		return vendors.PurchaseResult{}, &vendors.TransientError{Vendor: id, Err: errors.New("connection reset")}
	}
}

func failRejected(id, msg string) func(context.Context, vendors.Params, int64) (vendors.PurchaseResult, error) {
	return func(context.Context, vendors.Params, int64) (vendors.PurchaseResult, error) {
		return vendors.PurchaseResult{}, &vendors.RejectedError{Vendor: id, Code: "012", Message: msg}
	}
}

type vendorSpec struct {
	id       string
	priority int
	services []models.ServiceType
	postpaid bool
	disabled bool
	purchase func(context.Context, vendors.Params, int64) (vendors.PurchaseResult, error)
}

func newPool(t *testing.T, specs ...vendorSpec) (*vendors.Pool, map[string]*fakeAdapter) {
	t.Helper()
	adapters := map[string]*fakeAdapter{}
	var configs []models.VendorConfig
	for _, s := range specs {
		adapters[s.id] = &fakeAdapter{id: s.id, purchase: s.purchase}
		services := s.services
		if services == nil {
			services = models.AllServiceTypes
		}
		configs = append(configs, models.VendorConfig{
			ID:       s.id,
			Adapter:  fakeKind,
			Enabled:  !s.disabled,
			Priority: s.priority,
			Postpaid: s.postpaid,
			Services: services,
		})
	}

	registry := vendors.NewRegistry(http.DefaultClient, map[models.AdapterKind]vendors.Factory{
		fakeKind: func(cfg models.VendorConfig, _ *http.Client) (vendors.Adapter, error) {
			return adapters[cfg.ID], nil
		},
	})
	pool, err := vendors.NewPool(registry, configs)
	require.NoError(t, err)
	return pool, adapters
}

func vendorState(t *testing.T, pool *vendors.Pool, id string) models.VendorConfig {
	t.Helper()
	v, ok := pool.Get(id)
	require.True(t, ok)
	return v
}

// newWallet creates a ledger with one user holding balance kobo.
func newWallet(t *testing.T, userID string, balance int64) *ledger.Ledger {
	t.Helper()
	store := memstore.New()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPin), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(context.Background(), userID, string(hash)))

	l := ledger.New(store, nil)
	if balance > 0 {
		fundWallet(t, l, userID, balance)
	}
	return l
}

func fundWallet(t *testing.T, l *ledger.Ledger, userID string, amount int64) {
	t.Helper()
	ctx := context.Background()
	txn, err := l.Open(ctx, ledger.OpenParams{UserID: userID, Kind: models.KindFunding, Amount: amount})
	require.NoError(t, err)
	_, err = l.Credit(ctx, txn.ID, amount, nil)
	require.NoError(t, err)
}

func balanceOf(t *testing.T, l *ledger.Ledger, userID string) int64 {
	t.Helper()
	b, err := l.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

// fakeGateway is a scripted payment gateway.
type fakeGateway struct {
	mu            sync.Mutex
	verifications map[string]models.Verification
	verifyErr     error
	verifyCalls   int
	initErr       error
	initialized   []string
	emails        []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{verifications: map[string]models.Verification{}}
}

func (g *fakeGateway) Initialize(_ context.Context, reference, email string, _ int64) (gateway.Initialization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initErr != nil {
		return gateway.Initialization{}, g.initErr
	}
	g.initialized = append(g.initialized, reference)
	g.emails = append(g.emails, email)
	return gateway.Initialization{
		AuthorizationURL: "https://checkout.test/" + reference,
		AccessCode:       "access-" + reference,
		Reference:        reference,
	}, nil
}

func (g *fakeGateway) Verify(_ context.Context, reference string) (models.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if g.verifyErr != nil {
		return models.Verification{}, g.verifyErr
	}
	v, ok := g.verifications[reference]
	if !ok {
		return models.Verification{}, &gateway.APIError{StatusCode: http.StatusBadRequest, Message: "Transaction reference not found"}
	}
	return v, nil
}

func (g *fakeGateway) VerifySignature(body []byte, signature string) bool {
	return gateway.ValidSignature(testSecret, body, signature)
}

func (g *fakeGateway) settle(reference, status string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifications[reference] = models.Verification{Reference: reference, Status: status, Amount: amount, Currency: "NGN"}
}

func (g *fakeGateway) setVerifyErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyErr = err
}

func (g *fakeGateway) VerifyCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifyCalls
}

func sign(body []byte) string {
	return hex.EncodeToString(gateway.Sign(testSecret, body))
}

// memQueue is an in-memory services.JobQueue.
type memQueue struct {
	mu        sync.Mutex
	ready     []models.VerifyJob
	scheduled []scheduledJob
	dead      []models.VerifyJob
}

type scheduledJob struct {
	job models.VerifyJob
	at  time.Time
}

func (q *memQueue) Enqueue(_ context.Context, job models.VerifyJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = append(q.ready, job)
	return nil
}

func (q *memQueue) Schedule(_ context.Context, job models.VerifyJob, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.scheduled = append(q.scheduled, scheduledJob{job: job, at: at})
	return nil
}

func (q *memQueue) PromoteDue(_ context.Context, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var keep []scheduledJob
	n := 0
	for _, s := range q.scheduled {
		if s.at.After(now) {
			keep = append(keep, s)
			continue
		}
		q.ready = append(q.ready, s.job)
		n++
	}
	q.scheduled = keep
	return n, nil
}

func (q *memQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.VerifyJob, error) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			job := q.ready[0]
			q.ready = q.ready[1:]
			q.mu.Unlock()
			return &job, nil
		}
		q.mu.Unlock()
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (q *memQueue) DeadLetter(_ context.Context, job models.VerifyJob, _ error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, job)
	return nil
}

func (q *memQueue) counts() (ready, scheduled, dead int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), len(q.scheduled), len(q.dead)
}
