package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	cache "github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LautiLosio/account-balance-tracker/src/database"
	"github.com/LautiLosio/account-balance-tracker/src/ledger"
	"github.com/LautiLosio/account-balance-tracker/src/models"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	path := filepath.Join(t.TempDir(), "api.db")
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.RunMigrations(db))

	store := ledger.NewStore(db, cache.New(5*time.Minute, 10*time.Minute))
	accountHandler := NewAccountHandler(store)
	transactionHandler := NewTransactionHandler(store)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(ContextualLoggerMiddleware)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", HealthCheck)
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware)
			r.Get("/accounts", accountHandler.ListAccounts)
			r.Post("/accounts", accountHandler.CreateAccount)
			r.Get("/accounts/{id}", accountHandler.GetAccount)
			r.Put("/accounts/{id}", accountHandler.UpdateAccount)
			r.Delete("/accounts/{id}", accountHandler.DeleteAccount)
			r.Post("/accounts/{id}/transactions", transactionHandler.AddTransaction)
			r.Put("/accounts/{id}/transactions/{txID}", transactionHandler.UpdateTransaction)
			r.Delete("/accounts/{id}/transactions/{txID}", transactionHandler.DeleteTransaction)
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

// doJSON fires a request as the given user and decodes the JSON response.
func doJSON(t *testing.T, srv *httptest.Server, method, path, user string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+user)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func createAccount(t *testing.T, srv *httptest.Server, user string, account models.Account) int64 {
	t.Helper()
	status, body := doJSON(t, srv, http.MethodPost, "/api/accounts", user, map[string]any{"account": account})
	require.Equal(t, http.StatusOK, status, "create account failed: %v", body)
	created := body["account"].(map[string]any)
	return int64(created["id"].(float64))
}

func TestHealthEndpointIsPublic(t *testing.T) {
	srv := newTestServer(t)

	status, body := doJSON(t, srv, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	status, body := doJSON(t, srv, http.MethodGet, "/api/accounts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, body["error"], "Authorization")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/accounts", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer ")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateAndListAccounts(t *testing.T) {
	srv := newTestServer(t)

	id := createAccount(t, srv, "u1", models.Account{Name: "Checking", InitialBalance: 100})
	assert.NotZero(t, id)

	status, body := doJSON(t, srv, http.MethodGet, "/api/accounts", "u1", nil)
	require.Equal(t, http.StatusOK, status)
	accounts := body["accounts"].([]any)
	require.Len(t, accounts, 1)
	first := accounts[0].(map[string]any)
	assert.Equal(t, "Checking", first["name"])
	assert.Equal(t, 100.0, first["currentBalance"])
}

func TestCreateAccount_ReplayedClientIDConflicts(t *testing.T) {
	srv := newTestServer(t)

	createAccount(t, srv, "u1", models.Account{ID: 42, Name: "Checking"})

	status, _ := doJSON(t, srv, http.MethodPost, "/api/accounts", "u1",
		map[string]any{"account": models.Account{ID: 42, Name: "Checking"}})
	assert.Equal(t, http.StatusConflict, status)
}

func TestCreateAccount_Validation(t *testing.T) {
	srv := newTestServer(t)

	status, _ := doJSON(t, srv, http.MethodPost, "/api/accounts", "u1",
		map[string]any{"account": models.Account{Name: "   "}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, srv, http.MethodPost, "/api/accounts", "u1", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestGetAccount(t *testing.T) {
	srv := newTestServer(t)
	id := createAccount(t, srv, "u1", models.Account{Name: "Checking", InitialBalance: 100})

	status, body := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/accounts/%d", id), "u1", nil)
	require.Equal(t, http.StatusOK, status)
	account := body["account"].(map[string]any)
	assert.Equal(t, "Checking", account["name"])

	status, _ = doJSON(t, srv, http.MethodGet, "/api/accounts/999", "u1", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, srv, http.MethodGet, "/api/accounts/garbage", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUpdateAccount(t *testing.T) {
	srv := newTestServer(t)
	id := createAccount(t, srv, "u1", models.Account{Name: "Checking", InitialBalance: 100})

	status, _ := doJSON(t, srv, http.MethodPut, fmt.Sprintf("/api/accounts/%d", id), "u1",
		map[string]any{"account": models.Account{
			ID:             id,
			Name:           "Renamed",
			InitialBalance: 200,
			Transactions: []models.Transaction{
				{ID: 1, Date: time.Now(), Type: models.TypeIncome, Amount: 50},
			},
		}})
	require.Equal(t, http.StatusOK, status)

	status, body := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/accounts/%d", id), "u1", nil)
	require.Equal(t, http.StatusOK, status)
	account := body["account"].(map[string]any)
	assert.Equal(t, "Renamed", account["name"])
	assert.Equal(t, 250.0, account["currentBalance"])

	// Payload id must match the URL.
	status, _ = doJSON(t, srv, http.MethodPut, fmt.Sprintf("/api/accounts/%d", id), "u1",
		map[string]any{"account": models.Account{ID: id + 1, Name: "Mismatch"}})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestDeleteAccount(t *testing.T) {
	srv := newTestServer(t)
	id := createAccount(t, srv, "u1", models.Account{Name: "Checking"})

	status, body := doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/accounts/%d", id), "u1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])

	status, _ = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/accounts/%d", id), "u1", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAddTransaction_StatusMappings(t *testing.T) {
	srv := newTestServer(t)
	id := createAccount(t, srv, "u1", models.Account{Name: "Checking", InitialBalance: 100})
	txPath := fmt.Sprintf("/api/accounts/%d/transactions", id)

	status, _ := doJSON(t, srv, http.MethodPost, txPath, "u1",
		map[string]any{"transaction": models.Transaction{Type: models.TypeIncome, Amount: 50}})
	assert.Equal(t, http.StatusOK, status)

	status, _ = doJSON(t, srv, http.MethodPost, "/api/accounts/999/transactions", "u1",
		map[string]any{"transaction": models.Transaction{Type: models.TypeIncome, Amount: 50}})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, srv, http.MethodPost, txPath, "u1",
		map[string]any{"transaction": models.Transaction{Type: models.TypeIncome, Amount: -50}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = doJSON(t, srv, http.MethodPost, txPath, "u1",
		map[string]any{"transaction": models.Transaction{Type: models.TypeExpense, Amount: 50}})
	assert.Equal(t, http.StatusBadRequest, status)

	status, body := doJSON(t, srv, http.MethodPost, txPath, "u1",
		map[string]any{"transaction": models.Transaction{Type: models.TypeExpense, Amount: -10000}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Insufficient funds", body["error"])

	// Destination account and rate are transfer-only fields.
	to := int64(5)
	status, _ = doJSON(t, srv, http.MethodPost, txPath, "u1",
		map[string]any{"transaction": models.Transaction{Type: models.TypeIncome, Amount: 50}, "toAccountId": to})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAddTransfer(t *testing.T) {
	srv := newTestServer(t)
	fromID := createAccount(t, srv, "u1", models.Account{Name: "Checking", InitialBalance: 500})
	toID := createAccount(t, srv, "u1", models.Account{Name: "Savings"})
	txPath := fmt.Sprintf("/api/accounts/%d/transactions", fromID)

	status, _ := doJSON(t, srv, http.MethodPost, txPath, "u1", map[string]any{
		"transaction": models.Transaction{Type: models.TypeTransfer, Amount: 200},
		"toAccountId": toID,
	})
	require.Equal(t, http.StatusOK, status)

	status, body := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/accounts/%d", toID), "u1", nil)
	require.Equal(t, http.StatusOK, status)
	account := body["account"].(map[string]any)
	assert.Equal(t, 200.0, account["currentBalance"])

	// Missing destination.
	status, _ = doJSON(t, srv, http.MethodPost, txPath, "u1",
		map[string]any{"transaction": models.Transaction{Type: models.TypeTransfer, Amount: 200}})
	assert.Equal(t, http.StatusBadRequest, status)

	// Unknown destination.
	status, body = doJSON(t, srv, http.MethodPost, txPath, "u1", map[string]any{
		"transaction": models.Transaction{Type: models.TypeTransfer, Amount: 200},
		"toAccountId": int64(999),
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "One or more accounts do not exist", body["error"])
}

func TestAddTransfer_CrossCurrencyRequiresRate(t *testing.T) {
	srv := newTestServer(t)
	usdID := createAccount(t, srv, "u1", models.Account{Name: "USD", InitialBalance: 1000, IsForeignCurrency: true})
	pesosID := createAccount(t, srv, "u1", models.Account{Name: "Pesos"})
	txPath := fmt.Sprintf("/api/accounts/%d/transactions", usdID)

	status, body := doJSON(t, srv, http.MethodPost, txPath, "u1", map[string]any{
		"transaction": models.Transaction{Type: models.TypeTransfer, Amount: 100},
		"toAccountId": pesosID,
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Cross-currency transfer requires a positive exchange rate", body["error"])

	status, _ = doJSON(t, srv, http.MethodPost, txPath, "u1", map[string]any{
		"transaction":  models.Transaction{Type: models.TypeTransfer, Amount: 100},
		"toAccountId":  pesosID,
		"exchangeRate": 350.0,
	})
	require.Equal(t, http.StatusOK, status)

	status, body = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/accounts/%d", pesosID), "u1", nil)
	require.Equal(t, http.StatusOK, status)
	account := body["account"].(map[string]any)
	assert.Equal(t, 35000.0, account["currentBalance"])
}

func TestUpdateAndDeleteTransaction(t *testing.T) {
	srv := newTestServer(t)
	id := createAccount(t, srv, "u1", models.Account{Name: "Checking", InitialBalance: 100})
	txPath := fmt.Sprintf("/api/accounts/%d/transactions", id)

	status, _ := doJSON(t, srv, http.MethodPost, txPath, "u1",
		map[string]any{"transaction": models.Transaction{ID: 777, Type: models.TypeExpense, Amount: -40}})
	require.Equal(t, http.StatusOK, status)

	status, _ = doJSON(t, srv, http.MethodPut, txPath+"/777", "u1",
		map[string]any{"description": "Edited", "amount": 60.0})
	require.Equal(t, http.StatusOK, status)

	status, body := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/accounts/%d", id), "u1", nil)
	require.Equal(t, http.StatusOK, status)
	account := body["account"].(map[string]any)
	assert.Equal(t, 40.0, account["currentBalance"])

	status, _ = doJSON(t, srv, http.MethodDelete, txPath+"/777", "u1", nil)
	require.Equal(t, http.StatusOK, status)

	status, body = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/accounts/%d", id), "u1", nil)
	require.Equal(t, http.StatusOK, status)
	account = body["account"].(map[string]any)
	assert.Equal(t, 100.0, account["currentBalance"])

	status, _ = doJSON(t, srv, http.MethodDelete, txPath+"/777", "u1", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = doJSON(t, srv, http.MethodPut, txPath+"/424242", "u1",
		map[string]any{"description": "Ghost"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestUserIsolation(t *testing.T) {
	srv := newTestServer(t)
	id := createAccount(t, srv, "u1", models.Account{Name: "Mine", InitialBalance: 100})

	status, body := doJSON(t, srv, http.MethodGet, "/api/accounts", "u2", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["accounts"])

	status, _ = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/accounts/%d", id), "u2", nil)
	assert.Equal(t, http.StatusNotFound, status)
}
