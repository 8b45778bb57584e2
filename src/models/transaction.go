package models

import "time"

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TypeIncome   TransactionType = "income"
	TypeExpense  TransactionType = "expense"
	TypeTransfer TransactionType = "transfer"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeIncome, TypeExpense, TypeTransfer:
		return true
	}
	return false
}

// Transaction is a single ledger entry on an account. Amounts are stored in
// canonical form: income and transfer-in entries are positive, expense and
// transfer-out entries are negative. A transfer is represented by two entries
// sharing the same ID, one on each account.
type Transaction struct {
	ID           int64           `json:"id"`
	Date         time.Time       `json:"date"`
	Description  string          `json:"description"`
	Amount       float64         `json:"amount"`
	Type         TransactionType `json:"type"`
	FromAccount  int64           `json:"fromAccount"`
	ToAccount    *int64          `json:"toAccount,omitempty"`
	ExchangeRate *float64        `json:"exchangeRate,omitempty"`
	IsDeleted    bool            `json:"isDeleted,omitempty"`
	DeletedAt    *time.Time      `json:"deletedAt,omitempty"`
	UpdatedAt    *time.Time      `json:"updatedAt,omitempty"`
}

// IsTransferOut reports whether t is the source-side entry of a transfer pair.
func (t Transaction) IsTransferOut() bool {
	return t.Type == TypeTransfer && t.Amount < 0
}
