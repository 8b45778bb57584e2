package ledger

import (
	"fmt"
	"time"

	"github.com/LautiLosio/account-balance-tracker/src/logger"
	"github.com/LautiLosio/account-balance-tracker/src/models"
)

// CreateAccount persists a new account for a user. Offline-first clients
// generate their own ids; an id of 0 asks the store to assign one. A
// collision with an existing id fails with ErrAccountExists so replayed
// creations are rejected instead of clobbering server state.
func (s *Store) CreateAccount(userID string, account models.Account) (models.Account, error) {
	tx, rollback, err := s.begin()
	if err != nil {
		return models.Account{}, err
	}
	defer rollback()

	if account.ID == 0 {
		id, err := nextAccountID(tx, userID)
		if err != nil {
			return models.Account{}, err
		}
		account.ID = id
	} else {
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM accounts WHERE user_id = ? AND id = ?`, userID, account.ID).Scan(&count); err != nil {
			return models.Account{}, fmt.Errorf("failed to probe account id %d: %w", account.ID, err)
		}
		if count > 0 {
			return models.Account{}, ErrAccountExists
		}
	}

	account.CurrentBalance = account.InitialBalance

	_, err = tx.Exec(`
		INSERT INTO accounts (user_id, id, name, initial_balance, current_balance, is_foreign_currency)
		VALUES (?, ?, ?, ?, ?, ?)`,
		userID, account.ID, account.Name, account.InitialBalance, account.CurrentBalance, account.IsForeignCurrency)
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to insert account: %w", err)
	}

	if err := insertTransactions(tx, userID, account.ID, account.Transactions); err != nil {
		return models.Account{}, err
	}
	if err := recomputeBalances(tx, userID, account.ID); err != nil {
		return models.Account{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Account{}, fmt.Errorf("failed to commit account creation: %w", err)
	}

	s.InvalidateUserCache(userID)
	logger.L.Info("Account created", "userID", userID, "accountID", account.ID)

	created, err := s.GetAccount(userID, account.ID)
	if err != nil {
		return models.Account{}, err
	}
	return created, nil
}

// ReplaceAccount overwrites an account's metadata and entire transaction
// history. This is the restore path: the original app used it to re-import an
// exported snapshot. The balance is recomputed from the restored history, not
// taken from the payload.
func (s *Store) ReplaceAccount(userID string, account models.Account) error {
	tx, rollback, err := s.begin()
	if err != nil {
		return err
	}
	defer rollback()

	res, err := tx.Exec(`
		UPDATE accounts
		SET name = ?, initial_balance = ?, is_foreign_currency = ?
		WHERE user_id = ? AND id = ?`,
		account.Name, account.InitialBalance, account.IsForeignCurrency, userID, account.ID)
	if err != nil {
		return fmt.Errorf("failed to update account %d: %w", account.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}

	if _, err := tx.Exec(`DELETE FROM transactions WHERE user_id = ? AND account_id = ?`, userID, account.ID); err != nil {
		return fmt.Errorf("failed to clear transactions for account %d: %w", account.ID, err)
	}
	if err := insertTransactions(tx, userID, account.ID, account.Transactions); err != nil {
		return err
	}
	if err := recomputeBalances(tx, userID, account.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit account replacement: %w", err)
	}

	s.InvalidateUserCache(userID)
	logger.L.Info("Account replaced", "userID", userID, "accountID", account.ID, "transactions", len(account.Transactions))
	return nil
}

// DeleteAccount physically removes an account and, through the schema's
// cascade, its entire transaction history. Transfer counterpart entries on
// other accounts are left in place, matching the original behavior.
func (s *Store) DeleteAccount(userID string, accountID int64) error {
	res, err := s.db.Exec(`DELETE FROM accounts WHERE user_id = ? AND id = ?`, userID, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete account %d: %w", accountID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrAccountNotFound
	}

	s.InvalidateUserCache(userID)
	logger.L.Info("Account deleted", "userID", userID, "accountID", accountID)
	return nil
}

// nextAccountID assigns a server-side account id using the same
// millisecond-derived scheme clients use, bumped past collisions.
func nextAccountID(q dbtx, userID string) (int64, error) {
	id := time.Now().UnixMilli() * 1000
	for {
		var count int
		if err := q.QueryRow(`SELECT COUNT(*) FROM accounts WHERE user_id = ? AND id = ?`, userID, id).Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to probe account id %d: %w", id, err)
		}
		if count == 0 {
			return id, nil
		}
		id++
	}
}

// insertTransactions bulk-inserts entries for one account.
func insertTransactions(q dbtx, userID string, accountID int64, transactions []models.Transaction) error {
	for _, t := range transactions {
		if err := insertTransaction(q, userID, accountID, t); err != nil {
			return err
		}
	}
	return nil
}

func insertTransaction(q dbtx, userID string, accountID int64, t models.Transaction) error {
	var deletedAt, updatedAt any
	if t.DeletedAt != nil {
		deletedAt = formatTime(*t.DeletedAt)
	}
	if t.UpdatedAt != nil {
		updatedAt = formatTime(*t.UpdatedAt)
	}
	var toAccount any
	if t.ToAccount != nil {
		toAccount = *t.ToAccount
	}
	var rate any
	if t.ExchangeRate != nil {
		rate = *t.ExchangeRate
	}

	_, err := q.Exec(`
		INSERT INTO transactions (user_id, account_id, id, date, description, amount, type, from_account, to_account, exchange_rate, is_deleted, deleted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, accountID, t.ID, formatTime(t.Date), t.Description, t.Amount, t.Type,
		t.FromAccount, toAccount, rate, t.IsDeleted, deletedAt, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction %d: %w", t.ID, err)
	}
	return nil
}
