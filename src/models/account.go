package models

// Account is a cash bucket owned by a single user, possibly denominated in a
// foreign currency. CurrentBalance is derived: it always equals
// InitialBalance plus the sum of the amounts of all non-deleted transactions,
// and is recomputed by the ledger store after every mutation.
type Account struct {
	ID                int64         `json:"id"`
	Name              string        `json:"name"`
	InitialBalance    float64       `json:"initialBalance"`
	CurrentBalance    float64       `json:"currentBalance"`
	IsForeignCurrency bool          `json:"isForeignCurrency"`
	Transactions      []Transaction `json:"transactions"`
}

// ActiveBalance returns InitialBalance plus the sum of all non-deleted
// transaction amounts. The stored CurrentBalance must always match this.
func (a Account) ActiveBalance() float64 {
	balance := a.InitialBalance
	for _, tx := range a.Transactions {
		if !tx.IsDeleted {
			balance += tx.Amount
		}
	}
	return balance
}
