package sync

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	cache "github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LautiLosio/account-balance-tracker/src/database"
	"github.com/LautiLosio/account-balance-tracker/src/handlers"
	"github.com/LautiLosio/account-balance-tracker/src/ledger"
	"github.com/LautiLosio/account-balance-tracker/src/models"
)

// newTestLedgerServer spins up the real API against a throwaway database.
func newTestLedgerServer(t *testing.T) *httptest.Server {
	t.Helper()

	path := filepath.Join(t.TempDir(), "server.db")
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.RunMigrations(db))

	store := ledger.NewStore(db, cache.New(5*time.Minute, 10*time.Minute))
	accountHandler := handlers.NewAccountHandler(store)
	transactionHandler := handlers.NewTransactionHandler(store)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(handlers.ContextualLoggerMiddleware)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)
		r.Group(func(r chi.Router) {
			r.Use(handlers.AuthMiddleware)
			r.Get("/accounts", accountHandler.ListAccounts)
			r.Post("/accounts", accountHandler.CreateAccount)
			r.Delete("/accounts/{id}", accountHandler.DeleteAccount)
			r.Post("/accounts/{id}/transactions", transactionHandler.AddTransaction)
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPRemote_StatusErrors(t *testing.T) {
	srv := newTestLedgerServer(t)
	remote := NewHTTPRemote(srv.URL, "u1")
	ctx := context.Background()

	err := remote.DeleteAccount(ctx, 999)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)

	require.NoError(t, remote.CreateAccount(ctx, models.Account{ID: 42, Name: "Checking"}))
	err = remote.CreateAccount(ctx, models.Account{ID: 42, Name: "Checking"})
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusConflict, statusErr.Code)
}

func TestHTTPRemote_Ping(t *testing.T) {
	srv := newTestLedgerServer(t)
	remote := NewHTTPRemote(srv.URL, "u1")

	require.NoError(t, remote.Ping(context.Background()))

	srv.Close()
	assert.Error(t, remote.Ping(context.Background()))
}

// The full offline-first round trip: mutate locally while disconnected, come
// online, and end up with the server's authoritative state on both sides.
func TestOfflineMutationsReachServer(t *testing.T) {
	srv := newTestLedgerServer(t)
	ctx := context.Background()

	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)
	remote := NewHTTPRemote(srv.URL, "u1")
	client, err := NewClient(storage, remote)
	require.NoError(t, err)

	checking, err := client.AddAccount("Checking", 100, false)
	require.NoError(t, err)
	savings, err := client.AddAccount("Savings", 0, false)
	require.NoError(t, err)
	_, err = client.AddTransaction(checking.ID, models.Transaction{Type: models.TypeIncome, Amount: 50, Description: "Salary"})
	require.NoError(t, err)
	_, err = client.AddTransfer(checking.ID, savings.ID, 30, nil)
	require.NoError(t, err)
	require.Equal(t, 4, client.Pending())

	client.SetOnline(ctx, true)
	require.Equal(t, 0, client.Pending())
	require.NotNil(t, client.LastSyncAt())

	serverAccounts, err := remote.FetchAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, serverAccounts, 2)

	balances := map[int64]float64{}
	for _, a := range serverAccounts {
		balances[a.ID] = a.CurrentBalance
	}
	assert.Equal(t, 120.0, balances[checking.ID])
	assert.Equal(t, 30.0, balances[savings.ID])

	// The post-drain refetch left the client holding the same state.
	local := map[int64]float64{}
	for _, a := range client.Accounts() {
		local[a.ID] = a.CurrentBalance
	}
	assert.Equal(t, balances, local)
}

// A replayed account creation answers 409 and is dropped rather than
// blocking the queue.
func TestReplayedCreateIsDropped(t *testing.T) {
	srv := newTestLedgerServer(t)
	ctx := context.Background()

	remote := NewHTTPRemote(srv.URL, "u1")
	require.NoError(t, remote.CreateAccount(ctx, models.Account{ID: 42, Name: "Checking"}))

	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)
	client, err := NewClient(storage, remote)
	require.NoError(t, err)

	require.NoError(t, client.queue.Enqueue(Operation{
		Kind:      OpCreateAccount,
		Account:   &models.Account{ID: 42, Name: "Checking"},
		AccountID: 42,
	}))
	require.NoError(t, client.queue.Enqueue(Operation{
		Kind:      OpAddTransaction,
		AccountID: 42,
		Payload:   &TransactionPayload{Transaction: models.Transaction{Type: models.TypeIncome, Amount: 10}},
	}))

	client.SetOnline(ctx, true)
	assert.Equal(t, 0, client.Pending())

	serverAccounts, err := remote.FetchAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, serverAccounts, 1)
	assert.Equal(t, 10.0, serverAccounts[0].CurrentBalance)
}

type stubPinger struct {
	mu  stdsync.Mutex
	err error
}

func (s *stubPinger) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stubPinger) set(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func TestMonitorFlipsConnectivity(t *testing.T) {
	c, _, _ := newTestClient(t)

	pinger := &stubPinger{}
	monitor := NewMonitor(c, pinger, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go monitor.Run(ctx)

	assert.Eventually(t, c.Online, time.Second, 5*time.Millisecond)

	pinger.set(fmt.Errorf("unreachable"))
	assert.Eventually(t, func() bool { return !c.Online() }, time.Second, 5*time.Millisecond)
}
