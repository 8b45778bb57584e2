package sync

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	stdsync "sync"
	"time"

	"github.com/LautiLosio/account-balance-tracker/src/ledger"
	"github.com/LautiLosio/account-balance-tracker/src/logger"
	"github.com/LautiLosio/account-balance-tracker/src/models"
)

// cachedState is the durable snapshot of the client's view of the ledger.
type cachedState struct {
	Accounts   []models.Account `json:"accounts"`
	LastSyncAt *time.Time       `json:"lastSyncAt,omitempty"`
}

// Client is the offline-first ledger client. Mutations apply to the local
// snapshot immediately and are queued for the server; the snapshot and queue
// both survive restarts. After queued work is confirmed the client silently
// re-fetches the authoritative account list and merges it over the snapshot.
type Client struct {
	mu         stdsync.Mutex
	accounts   []models.Account
	lastSyncAt *time.Time

	storage *Storage
	queue   *Queue
	remote  Remote
}

// NewClient restores the cached snapshot and pending queue from storage. The
// client starts offline; call SetOnline once connectivity is known.
func NewClient(storage *Storage, remote Remote) (*Client, error) {
	c := &Client{storage: storage, remote: remote}

	var state cachedState
	if _, err := storage.Read(AccountsCacheKey, &state); err != nil {
		return nil, err
	}
	c.accounts = state.Accounts
	c.lastSyncAt = state.LastSyncAt

	queue, err := NewQueue(storage, remote)
	if err != nil {
		return nil, err
	}
	queue.SetOnSynced(c.refreshSilent)
	c.queue = queue
	return c, nil
}

// Accounts returns a snapshot of the locally known accounts.
func (c *Client) Accounts() []models.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	accounts := make([]models.Account, len(c.accounts))
	copy(accounts, c.accounts)
	return accounts
}

// Pending reports how many mutations are queued but not yet confirmed.
func (c *Client) Pending() int {
	return c.queue.Len()
}

// LastSyncAt reports when the client last merged a server snapshot, or nil
// if it never has.
func (c *Client) LastSyncAt() *time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSyncAt
}

// Online reports the current connectivity flag.
func (c *Client) Online() bool {
	return c.queue.Online()
}

// SetOnline flips connectivity. Coming back online drains anything queued
// while disconnected; with nothing queued the transition just refreshes the
// snapshot (a drain that confirms work triggers its own refresh). Repeated
// calls with the same state are no-ops.
func (c *Client) SetOnline(ctx context.Context, online bool) {
	wasOnline := c.queue.Online()
	hadPending := c.queue.Len() > 0
	c.queue.SetOnline(ctx, online)
	if online && !wasOnline && !hadPending {
		c.refreshSilent(ctx)
	}
}

// SyncNow drains the pending queue immediately.
func (c *Client) SyncNow(ctx context.Context) {
	c.queue.Drain(ctx)
}

// Refresh fetches the authoritative account list and merges it over the
// local snapshot. Server accounts win; accounts that exist only locally
// (created while offline, not yet confirmed) are preserved.
func (c *Client) Refresh(ctx context.Context) error {
	fresh, err := c.remote.FetchAccounts(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts = MergeAccountsByID(fresh, c.accounts)
	now := time.Now()
	c.lastSyncAt = &now
	return c.persistLocked()
}

// refreshSilent swallows refresh failures: the cached snapshot simply stays
// stale until the next opportunity.
func (c *Client) refreshSilent(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		logger.L.Debug("Background account refresh failed", "error", err)
	}
}

// AddAccount creates an account locally and queues its creation. The account
// id is generated client-side so a replayed creation is recognizable by the
// server.
func (c *Client) AddAccount(name string, initialBalance float64, isForeignCurrency bool) (models.Account, error) {
	c.mu.Lock()
	account := models.Account{
		ID:                c.nextAccountIDLocked(),
		Name:              name,
		InitialBalance:    initialBalance,
		CurrentBalance:    initialBalance,
		IsForeignCurrency: isForeignCurrency,
		Transactions:      []models.Transaction{},
	}
	c.accounts = append(c.accounts, account)
	if err := c.persistLocked(); err != nil {
		c.mu.Unlock()
		return models.Account{}, err
	}
	c.mu.Unlock()

	queued := account
	err := c.queue.Enqueue(Operation{
		Kind:      OpCreateAccount,
		Account:   &queued,
		AccountID: account.ID,
	})
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

// DeleteAccount removes an account from the snapshot and queues its
// deletion.
func (c *Client) DeleteAccount(id int64) error {
	c.mu.Lock()
	idx := -1
	for i := range c.accounts {
		if c.accounts[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return ledger.ErrAccountNotFound
	}
	c.accounts = append(c.accounts[:idx], c.accounts[idx+1:]...)
	if err := c.persistLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	return c.queue.Enqueue(Operation{Kind: OpDeleteAccount, AccountID: id})
}

// AddTransaction records an income or expense locally and queues it.
// Transfers go through AddTransfer.
func (c *Client) AddTransaction(accountID int64, tx models.Transaction) (models.Transaction, error) {
	if !tx.Type.Valid() || tx.Type == models.TypeTransfer {
		return models.Transaction{}, ledger.ErrInvalidType
	}
	if tx.Amount == 0 || math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) {
		return models.Transaction{}, ledger.ErrInvalidAmount
	}

	c.mu.Lock()
	account := c.findLocked(accountID)
	if account == nil {
		c.mu.Unlock()
		return models.Transaction{}, ledger.ErrAccountNotFound
	}

	tx.Amount = ledger.CanonicalAmount(tx.Type, tx.Amount)
	if tx.Type == models.TypeExpense && math.Abs(tx.Amount) > account.ActiveBalance() {
		c.mu.Unlock()
		return models.Transaction{}, ledger.ErrInsufficientFunds
	}

	if tx.ID == 0 {
		tx.ID = c.nextTransactionIDLocked()
	}
	if tx.Date.IsZero() {
		tx.Date = time.Now().UTC()
	}
	tx.FromAccount = accountID

	account.Transactions = append(account.Transactions, tx)
	account.CurrentBalance = account.ActiveBalance()
	if err := c.persistLocked(); err != nil {
		c.mu.Unlock()
		return models.Transaction{}, err
	}
	c.mu.Unlock()

	err := c.queue.Enqueue(Operation{
		Kind:      OpAddTransaction,
		AccountID: accountID,
		Payload:   &TransactionPayload{Transaction: tx},
	})
	if err != nil {
		return models.Transaction{}, err
	}
	return tx, nil
}

// AddTransfer moves amount between two accounts: the source is debited, the
// destination credited (converted when currencies differ), and a single
// queued operation carries the whole transfer.
func (c *Client) AddTransfer(fromID, toID int64, amount float64, exchangeRate *float64) (ledger.TransferPair, error) {
	if fromID == toID {
		return ledger.TransferPair{}, ledger.ErrSameAccount
	}
	if amount == 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ledger.TransferPair{}, ledger.ErrInvalidAmount
	}

	c.mu.Lock()
	from := c.findLocked(fromID)
	to := c.findLocked(toID)
	if from == nil || to == nil {
		c.mu.Unlock()
		return ledger.TransferPair{}, ledger.ErrAccountNotFound
	}
	if math.Abs(amount) > from.ActiveBalance() {
		c.mu.Unlock()
		return ledger.TransferPair{}, ledger.ErrInsufficientFunds
	}

	pair, err := ledger.BuildTransferEntries(c.nextTransactionIDLocked(), time.Now().UTC(), *from, *to, amount, exchangeRate)
	if err != nil {
		c.mu.Unlock()
		return ledger.TransferPair{}, err
	}

	from.Transactions = append(from.Transactions, pair.FromEntry)
	to.Transactions = append(to.Transactions, pair.ToEntry)
	from.CurrentBalance = from.ActiveBalance()
	to.CurrentBalance = to.ActiveBalance()
	if err := c.persistLocked(); err != nil {
		c.mu.Unlock()
		return ledger.TransferPair{}, err
	}
	c.mu.Unlock()

	err = c.queue.Enqueue(Operation{
		Kind:      OpAddTransaction,
		AccountID: fromID,
		Payload: &TransactionPayload{
			Transaction:  pair.FromEntry,
			ToAccountID:  &toID,
			ExchangeRate: exchangeRate,
		},
	})
	if err != nil {
		return ledger.TransferPair{}, err
	}
	return pair, nil
}

// MergeAccountsByID merges a fresh server snapshot over a cached one.
// A fresh account replaces its cached counterpart wholesale; cached accounts
// the server does not know about yet are kept. The result is ordered by id.
func MergeAccountsByID(fresh, cached []models.Account) []models.Account {
	seen := make(map[int64]struct{}, len(fresh))
	merged := make([]models.Account, 0, len(fresh)+len(cached))
	for _, a := range fresh {
		seen[a.ID] = struct{}{}
		merged = append(merged, a)
	}
	for _, a := range cached {
		if _, ok := seen[a.ID]; !ok {
			merged = append(merged, a)
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	return merged
}

func (c *Client) findLocked(id int64) *models.Account {
	for i := range c.accounts {
		if c.accounts[i].ID == id {
			return &c.accounts[i]
		}
	}
	return nil
}

// nextAccountIDLocked generates a millisecond-timestamp-derived account id
// with a random suffix, bumped past any local collision.
func (c *Client) nextAccountIDLocked() int64 {
	id := time.Now().UnixMilli()*1000 + rand.Int64N(1000)
	for c.findLocked(id) != nil {
		id++
	}
	return id
}

// nextTransactionIDLocked generates a millisecond-timestamp transaction id,
// bumped past any id already present in the local snapshot.
func (c *Client) nextTransactionIDLocked() int64 {
	id := time.Now().UnixMilli()
	for c.transactionIDExistsLocked(id) {
		id++
	}
	return id
}

func (c *Client) transactionIDExistsLocked(id int64) bool {
	for i := range c.accounts {
		for j := range c.accounts[i].Transactions {
			if c.accounts[i].Transactions[j].ID == id {
				return true
			}
		}
	}
	return false
}

func (c *Client) persistLocked() error {
	accounts := c.accounts
	if accounts == nil {
		accounts = []models.Account{}
	}
	return c.storage.Write(AccountsCacheKey, cachedState{Accounts: accounts, LastSyncAt: c.lastSyncAt})
}
