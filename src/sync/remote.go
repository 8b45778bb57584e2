package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/LautiLosio/account-balance-tracker/src/models"
)

// Remote is the server-side ledger API as seen from the client. The sync
// queue drives it; errors returned from mutations are classified into
// retry-vs-drop by the queue.
type Remote interface {
	CreateAccount(ctx context.Context, account models.Account) error
	DeleteAccount(ctx context.Context, accountID int64) error
	AddTransaction(ctx context.Context, accountID int64, payload TransactionPayload) error
	FetchAccounts(ctx context.Context) ([]models.Account, error)
}

// StatusError reports a non-2xx HTTP response. Anything that is not a
// StatusError is treated as a connectivity failure and retried.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server responded %d: %s", e.Code, e.Message)
}

// HTTPRemote talks to the ledger server over its JSON API.
type HTTPRemote struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPRemote builds a remote for the given server. The token is the
// caller's opaque subject identifier, sent as a bearer token.
func NewHTTPRemote(baseURL, token string) *HTTPRemote {
	return &HTTPRemote{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *HTTPRemote) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+r.token)

	return r.client.Do(req)
}

// checkStatus drains and closes the response, converting non-2xx answers
// into a StatusError carrying the server's error message.
func checkStatus(resp *http.Response) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		payload.Error = resp.Status
	}
	return &StatusError{Code: resp.StatusCode, Message: payload.Error}
}

func (r *HTTPRemote) CreateAccount(ctx context.Context, account models.Account) error {
	resp, err := r.do(ctx, http.MethodPost, "/api/accounts", map[string]any{"account": account})
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

func (r *HTTPRemote) DeleteAccount(ctx context.Context, accountID int64) error {
	resp, err := r.do(ctx, http.MethodDelete, fmt.Sprintf("/api/accounts/%d", accountID), nil)
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

func (r *HTTPRemote) AddTransaction(ctx context.Context, accountID int64, payload TransactionPayload) error {
	resp, err := r.do(ctx, http.MethodPost, fmt.Sprintf("/api/accounts/%d/transactions", accountID), payload)
	if err != nil {
		return err
	}
	return checkStatus(resp)
}

func (r *HTTPRemote) FetchAccounts(ctx context.Context) ([]models.Account, error) {
	resp, err := r.do(ctx, http.MethodGet, "/api/accounts", nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, checkStatus(resp)
	}
	defer resp.Body.Close()

	var payload struct {
		Accounts []models.Account `json:"accounts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode accounts response: %w", err)
	}
	return payload.Accounts, nil
}

// Ping probes the server's health endpoint; a nil error means reachable.
func (r *HTTPRemote) Ping(ctx context.Context) error {
	resp, err := r.do(ctx, http.MethodGet, "/api/health", nil)
	if err != nil {
		return err
	}
	return checkStatus(resp)
}
