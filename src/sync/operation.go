package sync

import (
	"time"

	"github.com/LautiLosio/account-balance-tracker/src/models"
)

// OpKind discriminates the queued operation variants.
type OpKind string

const (
	OpCreateAccount  OpKind = "create_account"
	OpDeleteAccount  OpKind = "delete_account"
	OpAddTransaction OpKind = "add_transaction"
)

// TransactionPayload mirrors the server's add-transaction request body. A
// transfer carries the source-side entry plus the destination account id and
// optional exchange rate.
type TransactionPayload struct {
	Transaction  models.Transaction `json:"transaction"`
	ToAccountID  *int64             `json:"toAccountId,omitempty"`
	ExchangeRate *float64           `json:"exchangeRate,omitempty"`
}

// Operation is one queued, not-yet-confirmed user mutation. Exactly one of
// the kind-specific fields is populated, matching Kind:
// Account for create_account, AccountID for delete_account, and
// AccountID+Payload for add_transaction.
type Operation struct {
	ID        string    `json:"id"`
	Kind      OpKind    `json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
	Attempts  int       `json:"attempts"`

	Account   *models.Account     `json:"account,omitempty"`
	AccountID int64               `json:"accountId,omitempty"`
	Payload   *TransactionPayload `json:"payload,omitempty"`
}
