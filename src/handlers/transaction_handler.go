package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/LautiLosio/account-balance-tracker/src/ledger"
	"github.com/LautiLosio/account-balance-tracker/src/logger"
	"github.com/LautiLosio/account-balance-tracker/src/models"
	"github.com/LautiLosio/account-balance-tracker/src/security/validation"
	"github.com/LautiLosio/account-balance-tracker/src/utils"
	"github.com/go-chi/chi/v5"
)

type TransactionHandler struct {
	store *ledger.Store
}

func NewTransactionHandler(store *ledger.Store) *TransactionHandler {
	return &TransactionHandler{store: store}
}

// AddTransactionRequest is the wire shape queued clients post. A transfer
// carries the source-side entry plus the destination account and optional
// exchange rate; income and expense carry only the entry.
type AddTransactionRequest struct {
	Transaction  *models.Transaction `json:"transaction"`
	ToAccountID  *int64              `json:"toAccountId,omitempty"`
	ExchangeRate *float64            `json:"exchangeRate,omitempty"`
}

// AddTransaction records an income, expense or transfer against the account
// in the URL.
func (h *TransactionHandler) AddTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	accountID, ok := parseAccountID(w, r)
	if !ok {
		return
	}

	var req AddTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Transaction == nil {
		utils.SendJSONError(w, "Invalid transaction data", http.StatusBadRequest)
		return
	}

	tx := *req.Transaction
	if !tx.Type.Valid() || math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0) {
		utils.SendJSONError(w, "Invalid transaction data", http.StatusBadRequest)
		return
	}
	tx.Description = validation.SanitizeText(tx.Description)
	if err := validation.ValidateStringMaxLength(tx.Description, validation.MaxDescriptionLength, "description"); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if tx.Type == models.TypeTransfer {
		h.addTransfer(w, r, userID, accountID, tx, req)
		return
	}

	if req.ToAccountID != nil {
		utils.SendJSONError(w, "Only transfers may include destination account", http.StatusBadRequest)
		return
	}
	if req.ExchangeRate != nil {
		utils.SendJSONError(w, "Only transfers may include exchange rate", http.StatusBadRequest)
		return
	}
	if tx.Type == models.TypeIncome && tx.Amount <= 0 {
		utils.SendJSONError(w, "Income amount must be positive", http.StatusBadRequest)
		return
	}
	if tx.Type == models.TypeExpense && tx.Amount >= 0 {
		utils.SendJSONError(w, "Expense amount must be negative", http.StatusBadRequest)
		return
	}

	if _, err := h.store.AppendTransaction(userID, accountID, tx); err != nil {
		switch {
		case errors.Is(err, ledger.ErrAccountNotFound):
			utils.SendJSONError(w, "Account not found", http.StatusNotFound)
		case errors.Is(err, ledger.ErrInsufficientFunds):
			utils.SendJSONError(w, "Insufficient funds", http.StatusBadRequest)
		case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidType):
			utils.SendJSONError(w, "Invalid transaction data", http.StatusBadRequest)
		default:
			logger.FromContext(r.Context()).Error("Failed to append transaction", "accountID", accountID, "error", err)
			utils.SendJSONError(w, "Failed to add transaction", http.StatusInternalServerError)
		}
		return
	}

	utils.SendJSON(w, map[string]any{"success": true}, http.StatusOK)
}

func (h *TransactionHandler) addTransfer(w http.ResponseWriter, r *http.Request, userID string, accountID int64, tx models.Transaction, req AddTransactionRequest) {
	if req.ToAccountID == nil {
		utils.SendJSONError(w, "Transfer requires a destination account", http.StatusBadRequest)
		return
	}
	toAccountID := *req.ToAccountID
	if toAccountID == accountID {
		utils.SendJSONError(w, "Transfer destination must be different from source account", http.StatusBadRequest)
		return
	}
	if tx.Amount == 0 {
		utils.SendJSONError(w, "Transfer amount cannot be zero", http.StatusBadRequest)
		return
	}
	if tx.FromAccount != 0 && tx.FromAccount != accountID {
		utils.SendJSONError(w, "Transfer source account mismatch", http.StatusBadRequest)
		return
	}
	if tx.ToAccount != nil && *tx.ToAccount != toAccountID {
		utils.SendJSONError(w, "Transfer destination account mismatch", http.StatusBadRequest)
		return
	}
	if err := validation.ValidatePositiveRate(req.ExchangeRate, "exchange rate"); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	_, err := h.store.TransferBetweenAccounts(userID, ledger.TransferRequest{
		FromAccountID: accountID,
		ToAccountID:   toAccountID,
		Amount:        math.Abs(tx.Amount),
		ExchangeRate:  req.ExchangeRate,
		TransferID:    tx.ID,
		Date:          tx.Date,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrAccountNotFound):
			utils.SendJSONError(w, "One or more accounts do not exist", http.StatusNotFound)
		case errors.Is(err, ledger.ErrInsufficientFunds):
			utils.SendJSONError(w, "Insufficient funds", http.StatusBadRequest)
		case errors.Is(err, ledger.ErrInvalidExchangeRate):
			utils.SendJSONError(w, "Cross-currency transfer requires a positive exchange rate", http.StatusBadRequest)
		case errors.Is(err, ledger.ErrSameAccount), errors.Is(err, ledger.ErrInvalidAmount):
			utils.SendJSONError(w, "Invalid transfer data", http.StatusBadRequest)
		default:
			logger.FromContext(r.Context()).Error("Failed to process transfer", "fromAccount", accountID, "toAccount", toAccountID, "error", err)
			utils.SendJSONError(w, "Failed to process transfer", http.StatusInternalServerError)
		}
		return
	}

	utils.SendJSON(w, map[string]any{"success": true}, http.StatusOK)
}

// UpdateTransactionRequest carries the editable fields of an entry; absent
// fields are left untouched.
type UpdateTransactionRequest struct {
	Date         *time.Time `json:"date,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Amount       *float64   `json:"amount,omitempty"`
	ExchangeRate *float64   `json:"exchangeRate,omitempty"`
}

// UpdateTransaction edits an entry in place. Transfer pairs are updated on
// both sides by the ledger store.
func (h *TransactionHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	accountID, ok := parseAccountID(w, r)
	if !ok {
		return
	}
	transactionID, ok := parseTransactionID(w, r)
	if !ok {
		return
	}

	var req UpdateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid update data", http.StatusBadRequest)
		return
	}
	if req.Description != nil {
		sanitized := validation.SanitizeText(*req.Description)
		req.Description = &sanitized
	}

	err := h.store.UpdateTransaction(userID, accountID, transactionID, ledger.TransactionUpdate{
		Date:         req.Date,
		Description:  req.Description,
		Amount:       req.Amount,
		ExchangeRate: req.ExchangeRate,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrTransactionNotFound):
			utils.SendJSONError(w, "Transaction not found", http.StatusNotFound)
		case errors.Is(err, ledger.ErrInsufficientFunds):
			utils.SendJSONError(w, "Insufficient funds", http.StatusBadRequest)
		case errors.Is(err, ledger.ErrInvalidExchangeRate), errors.Is(err, ledger.ErrInvalidAmount):
			utils.SendJSONError(w, "Invalid update data", http.StatusBadRequest)
		default:
			logger.FromContext(r.Context()).Error("Failed to update transaction", "accountID", accountID, "transactionID", transactionID, "error", err)
			utils.SendJSONError(w, "Failed to update transaction", http.StatusInternalServerError)
		}
		return
	}

	utils.SendJSON(w, map[string]any{"success": true}, http.StatusOK)
}

// DeleteTransaction soft-deletes an entry (and its transfer pair, when it has
// one), preserving it in history.
func (h *TransactionHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	accountID, ok := parseAccountID(w, r)
	if !ok {
		return
	}
	transactionID, ok := parseTransactionID(w, r)
	if !ok {
		return
	}

	if err := h.store.SoftDeleteTransaction(userID, accountID, transactionID); err != nil {
		switch {
		case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrTransactionNotFound):
			utils.SendJSONError(w, "Transaction not found", http.StatusNotFound)
		default:
			logger.FromContext(r.Context()).Error("Failed to soft-delete transaction", "accountID", accountID, "transactionID", transactionID, "error", err)
			utils.SendJSONError(w, "Failed to delete transaction", http.StatusInternalServerError)
		}
		return
	}

	utils.SendJSON(w, map[string]any{"success": true}, http.StatusOK)
}

func parseTransactionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	transactionID, err := strconv.ParseInt(chi.URLParam(r, "txID"), 10, 64)
	if err != nil {
		utils.SendJSONError(w, "Invalid transaction ID", http.StatusBadRequest)
		return 0, false
	}
	return transactionID, true
}
