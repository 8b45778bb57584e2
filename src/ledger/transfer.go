package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/LautiLosio/account-balance-tracker/src/models"
)

// CanonicalAmount normalizes the sign of a transaction amount: income is
// always stored positive, expense always negative. Transfer amounts are
// passed through untouched; their signs are fixed by BuildTransferEntries.
func CanonicalAmount(t models.TransactionType, amount float64) float64 {
	abs := math.Abs(amount)

	switch t {
	case models.TypeIncome:
		return abs
	case models.TypeExpense:
		return -abs
	}
	return amount
}

// TransferInput carries everything needed to compute the destination-side
// amount of a transfer.
type TransferInput struct {
	SourceAmount         float64
	FromAccountIsForeign bool
	ToAccountIsForeign   bool
	ExchangeRate         *float64
}

// TransferInAmount computes the credit applied to the destination account.
// When neither account is in a foreign currency the amount passes through
// unchanged (any supplied rate is ignored). When either side is foreign, a
// positive exchange rate is required: the amount is multiplied by the rate
// when the source account is the foreign one, and divided otherwise.
func TransferInAmount(in TransferInput) (float64, error) {
	abs := math.Abs(in.SourceAmount)

	if !in.FromAccountIsForeign && !in.ToAccountIsForeign {
		return abs, nil
	}

	if in.ExchangeRate == nil || *in.ExchangeRate <= 0 {
		return 0, ErrInvalidExchangeRate
	}

	if in.FromAccountIsForeign {
		return abs * *in.ExchangeRate, nil
	}
	return abs / *in.ExchangeRate, nil
}

// TransferPair is the two linked ledger entries representing one transfer.
// Both entries share the same logical ID; FromEntry is negative on the
// source account and ToEntry positive on the destination.
type TransferPair struct {
	FromEntry models.Transaction
	ToEntry   models.Transaction
}

// BuildTransferEntries builds the matched entry pair for a transfer of
// sourceAmount from one account to another. The exchange rate is stored on
// the entries only when at least one side is in a foreign currency.
func BuildTransferEntries(id int64, date time.Time, from, to models.Account, sourceAmount float64, exchangeRate *float64) (TransferPair, error) {
	inAmount, err := TransferInAmount(TransferInput{
		SourceAmount:         sourceAmount,
		FromAccountIsForeign: from.IsForeignCurrency,
		ToAccountIsForeign:   to.IsForeignCurrency,
		ExchangeRate:         exchangeRate,
	})
	if err != nil {
		return TransferPair{}, err
	}

	var storedRate *float64
	if from.IsForeignCurrency || to.IsForeignCurrency {
		storedRate = exchangeRate
	}

	toID := to.ID
	pair := TransferPair{
		FromEntry: models.Transaction{
			ID:           id,
			Date:         date,
			Description:  fmt.Sprintf("Transfer to %s", to.Name),
			Amount:       -math.Abs(sourceAmount),
			Type:         models.TypeTransfer,
			FromAccount:  from.ID,
			ToAccount:    &toID,
			ExchangeRate: storedRate,
		},
		ToEntry: models.Transaction{
			ID:           id,
			Date:         date,
			Description:  fmt.Sprintf("Transfer from %s", from.Name),
			Amount:       inAmount,
			Type:         models.TypeTransfer,
			FromAccount:  from.ID,
			ToAccount:    &toID,
			ExchangeRate: storedRate,
		},
	}
	return pair, nil
}
