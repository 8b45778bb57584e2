package ledger

import "errors"

// Business-rule violations are returned as sentinel errors instead of being
// propagated as opaque failures, so the HTTP layer and the sync queue can
// classify them without string matching.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("account already exists")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidExchangeRate = errors.New("a positive exchange rate is required for cross-currency transfers")
	ErrSameAccount         = errors.New("transfer destination must be different from source account")
	ErrInvalidAmount       = errors.New("invalid transaction amount")
	ErrInvalidType         = errors.New("invalid transaction type")
)
