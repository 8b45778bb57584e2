package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/LautiLosio/account-balance-tracker/src/logger"
	"github.com/LautiLosio/account-balance-tracker/src/models"
	"github.com/patrickmn/go-cache"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so helpers can run inside or
// outside an explicit transaction.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store is the authoritative per-user ledger. All balance arithmetic is
// derived from transaction history, never trusted from the client, and every
// mutation recomputes the affected balances from scratch inside a single SQL
// transaction.
type Store struct {
	db    *sql.DB
	cache *cache.Cache
}

// NewStore wraps a database handle and an optional account snapshot cache.
func NewStore(db *sql.DB, c *cache.Cache) *Store {
	return &Store{db: db, cache: c}
}

func accountsCacheKey(userID string) string {
	return "accounts:" + userID
}

// InvalidateUserCache drops the cached account snapshot for a user. Called
// after every mutation so reads never serve stale balances.
func (s *Store) InvalidateUserCache(userID string) {
	if s.cache != nil {
		s.cache.Delete(accountsCacheKey(userID))
	}
}

// GetAccounts returns all of a user's accounts with their full transaction
// lists, soft-deleted entries included. Results are cached per user until the
// next mutation.
func (s *Store) GetAccounts(userID string) ([]models.Account, error) {
	if s.cache != nil {
		if cached, found := s.cache.Get(accountsCacheKey(userID)); found {
			if accounts, ok := cached.([]models.Account); ok {
				return accounts, nil
			}
		}
	}

	accounts, err := loadAccounts(s.db, userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetDefault(accountsCacheKey(userID), accounts)
	}
	return accounts, nil
}

// GetAccount returns a single account with its transactions, or
// ErrAccountNotFound.
func (s *Store) GetAccount(userID string, accountID int64) (models.Account, error) {
	account, err := loadAccountMeta(s.db, userID, accountID)
	if err != nil {
		return models.Account{}, err
	}
	transactions, err := loadTransactions(s.db, userID, accountID)
	if err != nil {
		return models.Account{}, err
	}
	account.Transactions = transactions
	return account, nil
}

// begin starts a SQL transaction and returns it along with a rollback
// function that is a no-op after commit.
func (s *Store) begin() (*sql.Tx, func(), error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	rollback := func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				logger.L.Error("Error rolling back ledger transaction", "error", rbErr)
			}
		}
	}
	return tx, rollback, nil
}

// loadAccounts reads every account of a user, transactions attached, ordered
// by account id.
func loadAccounts(q dbtx, userID string) ([]models.Account, error) {
	rows, err := q.Query(`
		SELECT id, name, initial_balance, current_balance, is_foreign_currency
		FROM accounts
		WHERE user_id = ?
		ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	index := map[int64]int{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.InitialBalance, &a.CurrentBalance, &a.IsForeignCurrency); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Transactions = []models.Transaction{}
		index[a.ID] = len(accounts)
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}

	txRows, err := q.Query(`
		SELECT account_id, id, date, description, amount, type, from_account, to_account, exchange_rate, is_deleted, deleted_at, updated_at
		FROM transactions
		WHERE user_id = ?
		ORDER BY rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer txRows.Close()

	for txRows.Next() {
		var accountID int64
		tx, err := scanTransaction(txRows, &accountID)
		if err != nil {
			return nil, err
		}
		if i, ok := index[accountID]; ok {
			accounts[i].Transactions = append(accounts[i].Transactions, tx)
		}
	}
	if err := txRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return accounts, nil
}

// loadAccountMeta reads a single account row without its transactions.
func loadAccountMeta(q dbtx, userID string, accountID int64) (models.Account, error) {
	var a models.Account
	err := q.QueryRow(`
		SELECT id, name, initial_balance, current_balance, is_foreign_currency
		FROM accounts
		WHERE user_id = ? AND id = ?`, userID, accountID).
		Scan(&a.ID, &a.Name, &a.InitialBalance, &a.CurrentBalance, &a.IsForeignCurrency)
	if err == sql.ErrNoRows {
		return models.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to load account %d: %w", accountID, err)
	}
	a.Transactions = []models.Transaction{}
	return a, nil
}

// loadTransactions reads all entries of an account in insertion order.
func loadTransactions(q dbtx, userID string, accountID int64) ([]models.Transaction, error) {
	rows, err := q.Query(`
		SELECT account_id, id, date, description, amount, type, from_account, to_account, exchange_rate, is_deleted, deleted_at, updated_at
		FROM transactions
		WHERE user_id = ? AND account_id = ?
		ORDER BY rowid`, userID, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions for account %d: %w", accountID, err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var ignored int64
		tx, err := scanTransaction(rows, &ignored)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return transactions, nil
}

func scanTransaction(rows *sql.Rows, accountID *int64) (models.Transaction, error) {
	var (
		tx        models.Transaction
		date      string
		toAccount sql.NullInt64
		rate      sql.NullFloat64
		deletedAt sql.NullString
		updatedAt sql.NullString
	)
	if err := rows.Scan(accountID, &tx.ID, &date, &tx.Description, &tx.Amount, &tx.Type,
		&tx.FromAccount, &toAccount, &rate, &tx.IsDeleted, &deletedAt, &updatedAt); err != nil {
		return models.Transaction{}, fmt.Errorf("failed to scan transaction: %w", err)
	}

	parsed, err := parseTime(date)
	if err != nil {
		return models.Transaction{}, err
	}
	tx.Date = parsed

	if toAccount.Valid {
		tx.ToAccount = &toAccount.Int64
	}
	if rate.Valid {
		tx.ExchangeRate = &rate.Float64
	}
	if deletedAt.Valid {
		t, err := parseTime(deletedAt.String)
		if err != nil {
			return models.Transaction{}, err
		}
		tx.DeletedAt = &t
	}
	if updatedAt.Valid {
		t, err := parseTime(updatedAt.String)
		if err != nil {
			return models.Transaction{}, err
		}
		tx.UpdatedAt = &t
	}
	return tx, nil
}

// activeBalance computes initial_balance + SUM(amount) over non-deleted
// entries. This is the authoritative balance; the stored current_balance is
// only a materialization of it.
func activeBalance(q dbtx, userID string, accountID int64) (float64, error) {
	var balance float64
	err := q.QueryRow(`
		SELECT a.initial_balance + COALESCE((
			SELECT SUM(t.amount) FROM transactions t
			WHERE t.user_id = a.user_id AND t.account_id = a.id AND t.is_deleted = 0
		), 0)
		FROM accounts a
		WHERE a.user_id = ? AND a.id = ?`, userID, accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to compute balance for account %d: %w", accountID, err)
	}
	return balance, nil
}

// recomputeBalances rewrites current_balance from transaction history for the
// given accounts. Recomputing from scratch after every mutation guarantees
// consistency is never lost to a missed incremental update.
func recomputeBalances(q dbtx, userID string, accountIDs ...int64) error {
	for _, accountID := range accountIDs {
		_, err := q.Exec(`
			UPDATE accounts
			SET current_balance = initial_balance + COALESCE((
				SELECT SUM(t.amount) FROM transactions t
				WHERE t.user_id = accounts.user_id AND t.account_id = accounts.id AND t.is_deleted = 0
			), 0)
			WHERE user_id = ? AND id = ?`, userID, accountID)
		if err != nil {
			return fmt.Errorf("failed to recompute balance for account %d: %w", accountID, err)
		}
	}
	return nil
}

// nextLogicalID returns a fresh millisecond-timestamp id, bumped past any
// collision within the user's transaction history.
func nextLogicalID(q dbtx, userID string) (int64, error) {
	id := time.Now().UnixMilli()
	for {
		var count int
		if err := q.QueryRow(`SELECT COUNT(*) FROM transactions WHERE user_id = ? AND id = ?`, userID, id).Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to probe transaction id %d: %w", id, err)
		}
		if count == 0 {
			return id, nil
		}
		id++
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored timestamp %q: %w", s, err)
	}
	return t, nil
}
