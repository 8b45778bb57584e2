package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/LautiLosio/account-balance-tracker/src/logger"
	"github.com/LautiLosio/account-balance-tracker/src/models"
)

// AppendTransaction records an income or expense entry on an account. The
// amount sign is canonicalized from the type, and an expense whose magnitude
// exceeds the account's active balance is rejected with ErrInsufficientFunds.
// Re-posting an entry whose id is already recorded on the account is a no-op
// success, which keeps crash-replayed sync drains idempotent.
func (s *Store) AppendTransaction(userID string, accountID int64, t models.Transaction) (models.Transaction, error) {
	if !t.Type.Valid() || t.Type == models.TypeTransfer {
		return models.Transaction{}, ErrInvalidType
	}
	if t.Amount == 0 || math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) {
		return models.Transaction{}, ErrInvalidAmount
	}

	tx, rollback, err := s.begin()
	if err != nil {
		return models.Transaction{}, err
	}
	defer rollback()

	if _, err := loadAccountMeta(tx, userID, accountID); err != nil {
		return models.Transaction{}, err
	}

	if t.ID != 0 {
		// Client-generated id already recorded (possibly soft-deleted since):
		// the operation was applied before, so this is a replay.
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM transactions WHERE user_id = ? AND account_id = ? AND id = ?`,
			userID, accountID, t.ID).Scan(&count); err != nil {
			return models.Transaction{}, fmt.Errorf("failed to probe transaction id %d: %w", t.ID, err)
		}
		if count > 0 {
			return t, nil
		}
	} else {
		id, err := nextLogicalID(tx, userID)
		if err != nil {
			return models.Transaction{}, err
		}
		t.ID = id
	}

	t.Amount = CanonicalAmount(t.Type, t.Amount)
	t.FromAccount = accountID
	if t.Date.IsZero() {
		t.Date = time.Now()
	}

	if t.Type == models.TypeExpense {
		balance, err := activeBalance(tx, userID, accountID)
		if err != nil {
			return models.Transaction{}, err
		}
		if math.Abs(t.Amount) > balance {
			return models.Transaction{}, ErrInsufficientFunds
		}
	}

	if err := insertTransaction(tx, userID, accountID, t); err != nil {
		return models.Transaction{}, err
	}
	if err := recomputeBalances(tx, userID, accountID); err != nil {
		return models.Transaction{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Transaction{}, fmt.Errorf("failed to commit transaction append: %w", err)
	}

	s.InvalidateUserCache(userID)
	logger.L.Info("Transaction appended", "userID", userID, "accountID", accountID, "transactionID", t.ID, "type", t.Type)
	return t, nil
}

// TransferRequest describes a transfer between two of a user's accounts.
// TransferID and Date are optional; offline clients supply their own so that
// replays are recognized.
type TransferRequest struct {
	FromAccountID int64
	ToAccountID   int64
	Amount        float64
	ExchangeRate  *float64
	TransferID    int64
	Date          time.Time
}

// TransferBetweenAccounts applies a transfer as a matched entry pair inside
// one SQL transaction: both sides are persisted together or not at all.
func (s *Store) TransferBetweenAccounts(userID string, req TransferRequest) (TransferPair, error) {
	if req.FromAccountID == req.ToAccountID {
		return TransferPair{}, ErrSameAccount
	}
	if req.Amount == 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		return TransferPair{}, ErrInvalidAmount
	}

	tx, rollback, err := s.begin()
	if err != nil {
		return TransferPair{}, err
	}
	defer rollback()

	from, err := loadAccountMeta(tx, userID, req.FromAccountID)
	if err != nil {
		return TransferPair{}, err
	}
	to, err := loadAccountMeta(tx, userID, req.ToAccountID)
	if err != nil {
		return TransferPair{}, err
	}

	if req.TransferID != 0 {
		// A recorded transfer id (even one soft-deleted since) means the
		// operation was applied before; replayed drains land here.
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM transactions WHERE user_id = ? AND id = ? AND type = ?`,
			userID, req.TransferID, models.TypeTransfer).Scan(&count); err != nil {
			return TransferPair{}, fmt.Errorf("failed to probe transfer id %d: %w", req.TransferID, err)
		}
		if count > 0 {
			existing, err := loadTransferRows(tx, userID, req.TransferID)
			if err != nil {
				return TransferPair{}, err
			}
			return pairFromRows(existing), nil
		}
	} else {
		id, err := nextLogicalID(tx, userID)
		if err != nil {
			return TransferPair{}, err
		}
		req.TransferID = id
	}

	amount := math.Abs(req.Amount)
	sourceBalance, err := activeBalance(tx, userID, req.FromAccountID)
	if err != nil {
		return TransferPair{}, err
	}
	if sourceBalance < amount {
		return TransferPair{}, ErrInsufficientFunds
	}

	date := req.Date
	if date.IsZero() {
		date = time.Now()
	}

	pair, err := BuildTransferEntries(req.TransferID, date, from, to, amount, req.ExchangeRate)
	if err != nil {
		return TransferPair{}, err
	}

	if err := insertTransaction(tx, userID, from.ID, pair.FromEntry); err != nil {
		return TransferPair{}, err
	}
	if err := insertTransaction(tx, userID, to.ID, pair.ToEntry); err != nil {
		return TransferPair{}, err
	}
	if err := recomputeBalances(tx, userID, from.ID, to.ID); err != nil {
		return TransferPair{}, err
	}

	if err := tx.Commit(); err != nil {
		return TransferPair{}, fmt.Errorf("failed to commit transfer: %w", err)
	}

	s.InvalidateUserCache(userID)
	logger.L.Info("Transfer applied", "userID", userID, "fromAccount", from.ID, "toAccount", to.ID,
		"transferID", req.TransferID, "amount", amount)
	return pair, nil
}

// TransactionUpdate lists the mutable fields of a ledger entry. Nil fields
// are left unchanged.
type TransactionUpdate struct {
	Date         *time.Time
	Description  *string
	Amount       *float64
	ExchangeRate *float64
}

// UpdateTransaction edits an entry. A transfer's two linked entries are
// always updated together: the destination-side amount is recomputed from the
// (possibly new) source amount and exchange rate. Insufficient-funds is
// re-validated against the balance with the old entry removed.
func (s *Store) UpdateTransaction(userID string, accountID, transactionID int64, updates TransactionUpdate) error {
	tx, rollback, err := s.begin()
	if err != nil {
		return err
	}
	defer rollback()

	entry, err := findEntry(tx, userID, accountID, transactionID)
	if err != nil {
		return err
	}

	now := time.Now()
	affected := []int64{accountID}

	if entry.tx.Type == models.TypeTransfer {
		affected, err = updateTransferPair(tx, userID, entry, updates, now)
		if err != nil {
			return err
		}
	} else {
		if err := updateSingleEntry(tx, userID, entry, updates, now); err != nil {
			return err
		}
	}

	if err := recomputeBalances(tx, userID, affected...); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction update: %w", err)
	}

	s.InvalidateUserCache(userID)
	logger.L.Info("Transaction updated", "userID", userID, "accountID", accountID, "transactionID", transactionID)
	return nil
}

// SoftDeleteTransaction marks an entry deleted without removing it from
// history. A transfer's pair is always deleted together, and balances are
// recomputed across every affected account.
func (s *Store) SoftDeleteTransaction(userID string, accountID, transactionID int64) error {
	tx, rollback, err := s.begin()
	if err != nil {
		return err
	}
	defer rollback()

	entry, err := findEntry(tx, userID, accountID, transactionID)
	if err != nil {
		return err
	}

	now := formatTime(time.Now())
	affected := []int64{accountID}

	if entry.tx.Type == models.TypeTransfer {
		rows, err := loadTransferRows(tx, userID, transactionID)
		if err != nil {
			return err
		}
		affected = affected[:0]
		for _, r := range rows {
			affected = append(affected, r.accountID)
		}
		if _, err := tx.Exec(`
			UPDATE transactions SET is_deleted = 1, deleted_at = ?, updated_at = ?
			WHERE user_id = ? AND id = ? AND type = ? AND is_deleted = 0`,
			now, now, userID, transactionID, models.TypeTransfer); err != nil {
			return fmt.Errorf("failed to soft-delete transfer pair %d: %w", transactionID, err)
		}
	} else {
		if _, err := tx.Exec(`
			UPDATE transactions SET is_deleted = 1, deleted_at = ?, updated_at = ?
			WHERE user_id = ? AND account_id = ? AND id = ? AND is_deleted = 0`,
			now, now, userID, accountID, transactionID); err != nil {
			return fmt.Errorf("failed to soft-delete transaction %d: %w", transactionID, err)
		}
	}

	if err := recomputeBalances(tx, userID, affected...); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit soft delete: %w", err)
	}

	s.InvalidateUserCache(userID)
	logger.L.Info("Transaction soft-deleted", "userID", userID, "accountID", accountID, "transactionID", transactionID)
	return nil
}

// entryRow pairs a scanned transaction with the account it is recorded on.
type entryRow struct {
	accountID int64
	tx        models.Transaction
}

// findEntry locates an active (non-deleted) entry on a specific account.
func findEntry(q dbtx, userID string, accountID, transactionID int64) (entryRow, error) {
	rows, err := q.Query(`
		SELECT account_id, id, date, description, amount, type, from_account, to_account, exchange_rate, is_deleted, deleted_at, updated_at
		FROM transactions
		WHERE user_id = ? AND account_id = ? AND id = ? AND is_deleted = 0
		LIMIT 1`, userID, accountID, transactionID)
	if err != nil {
		return entryRow{}, fmt.Errorf("failed to query transaction %d: %w", transactionID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return entryRow{}, fmt.Errorf("failed to read transaction %d: %w", transactionID, err)
		}
		return entryRow{}, ErrTransactionNotFound
	}
	var accID int64
	tx, err := scanTransaction(rows, &accID)
	if err != nil {
		return entryRow{}, err
	}
	return entryRow{accountID: accID, tx: tx}, nil
}

// loadTransferRows returns every active entry sharing a transfer's logical
// id. This is the single place pair resolution happens: callers always see
// both sides (or however many survive account deletion) together.
func loadTransferRows(q dbtx, userID string, transferID int64) ([]entryRow, error) {
	rows, err := q.Query(`
		SELECT account_id, id, date, description, amount, type, from_account, to_account, exchange_rate, is_deleted, deleted_at, updated_at
		FROM transactions
		WHERE user_id = ? AND id = ? AND type = ? AND is_deleted = 0
		ORDER BY amount`, userID, transferID, models.TypeTransfer)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer pair %d: %w", transferID, err)
	}
	defer rows.Close()

	var entries []entryRow
	for rows.Next() {
		var accID int64
		tx, err := scanTransaction(rows, &accID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entryRow{accountID: accID, tx: tx})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transfer pair %d: %w", transferID, err)
	}
	return entries, nil
}

// pairFromRows reshapes transfer rows into a TransferPair. Rows are ordered
// by amount, so the negative source entry comes first.
func pairFromRows(rows []entryRow) TransferPair {
	var pair TransferPair
	for _, r := range rows {
		if r.tx.IsTransferOut() {
			pair.FromEntry = r.tx
		} else {
			pair.ToEntry = r.tx
		}
	}
	return pair
}

// updateSingleEntry applies updates to an income or expense entry.
func updateSingleEntry(q dbtx, userID string, entry entryRow, updates TransactionUpdate, now time.Time) error {
	t := entry.tx
	if updates.Amount != nil {
		newAmount := CanonicalAmount(t.Type, *updates.Amount)
		if newAmount == 0 || math.IsNaN(newAmount) || math.IsInf(newAmount, 0) {
			return ErrInvalidAmount
		}
		if t.Type == models.TypeExpense {
			balance, err := activeBalance(q, userID, entry.accountID)
			if err != nil {
				return err
			}
			// Balance with the old entry backed out.
			if math.Abs(newAmount) > balance-t.Amount {
				return ErrInsufficientFunds
			}
		}
		t.Amount = newAmount
	}
	if updates.Date != nil {
		t.Date = *updates.Date
	}
	if updates.Description != nil {
		t.Description = *updates.Description
	}

	_, err := q.Exec(`
		UPDATE transactions SET date = ?, description = ?, amount = ?, updated_at = ?
		WHERE user_id = ? AND account_id = ? AND id = ? AND is_deleted = 0`,
		formatTime(t.Date), t.Description, t.Amount, formatTime(now),
		userID, entry.accountID, t.ID)
	if err != nil {
		return fmt.Errorf("failed to update transaction %d: %w", t.ID, err)
	}
	return nil
}

// updateTransferPair applies updates to both linked entries of a transfer,
// recomputing the destination amount from the new source amount and rate.
// Returns the ids of every affected account.
func updateTransferPair(q dbtx, userID string, entry entryRow, updates TransactionUpdate, now time.Time) ([]int64, error) {
	rows, err := loadTransferRows(q, userID, entry.tx.ID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrTransactionNotFound
	}

	var source, dest *entryRow
	for i := range rows {
		if rows[i].tx.IsTransferOut() {
			source = &rows[i]
		} else {
			dest = &rows[i]
		}
	}
	if source == nil {
		// Counterpart survived alone after the source account was removed;
		// fall back to a plain field update on the surviving entry.
		return []int64{entry.accountID}, updateSingleEntry(q, userID, entry, updates, now)
	}

	sourceAmount := math.Abs(source.tx.Amount)
	if updates.Amount != nil {
		sourceAmount = math.Abs(*updates.Amount)
		if sourceAmount == 0 || math.IsNaN(sourceAmount) || math.IsInf(sourceAmount, 0) {
			return nil, ErrInvalidAmount
		}
	}
	rate := source.tx.ExchangeRate
	if updates.ExchangeRate != nil {
		rate = updates.ExchangeRate
	}
	date := source.tx.Date
	if updates.Date != nil {
		date = *updates.Date
	}

	sourceMeta, err := loadAccountMeta(q, userID, source.accountID)
	if err != nil {
		return nil, err
	}
	var destForeign bool
	affected := []int64{source.accountID}
	if dest != nil {
		destMeta, err := loadAccountMeta(q, userID, dest.accountID)
		if err != nil {
			return nil, err
		}
		destForeign = destMeta.IsForeignCurrency
		affected = append(affected, dest.accountID)
	}

	inAmount, err := TransferInAmount(TransferInput{
		SourceAmount:         sourceAmount,
		FromAccountIsForeign: sourceMeta.IsForeignCurrency,
		ToAccountIsForeign:   destForeign,
		ExchangeRate:         rate,
	})
	if err != nil {
		return nil, err
	}

	balance, err := activeBalance(q, userID, source.accountID)
	if err != nil {
		return nil, err
	}
	// Old source entry backed out before checking the new amount.
	if sourceAmount > balance-source.tx.Amount {
		return nil, ErrInsufficientFunds
	}

	var storedRate any
	if (sourceMeta.IsForeignCurrency || destForeign) && rate != nil {
		storedRate = *rate
	}

	if _, err := q.Exec(`
		UPDATE transactions SET date = ?, amount = ?, exchange_rate = ?, updated_at = ?
		WHERE user_id = ? AND account_id = ? AND id = ? AND is_deleted = 0`,
		formatTime(date), -sourceAmount, storedRate, formatTime(now),
		userID, source.accountID, source.tx.ID); err != nil {
		return nil, fmt.Errorf("failed to update transfer source entry %d: %w", source.tx.ID, err)
	}
	if dest != nil {
		if _, err := q.Exec(`
			UPDATE transactions SET date = ?, amount = ?, exchange_rate = ?, updated_at = ?
			WHERE user_id = ? AND account_id = ? AND id = ? AND is_deleted = 0`,
			formatTime(date), inAmount, storedRate, formatTime(now),
			userID, dest.accountID, dest.tx.ID); err != nil {
			return nil, fmt.Errorf("failed to update transfer destination entry %d: %w", dest.tx.ID, err)
		}
	}
	return affected, nil
}
