package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/LautiLosio/account-balance-tracker/src/ledger"
	"github.com/LautiLosio/account-balance-tracker/src/logger"
	"github.com/LautiLosio/account-balance-tracker/src/models"
	"github.com/LautiLosio/account-balance-tracker/src/security/validation"
	"github.com/LautiLosio/account-balance-tracker/src/utils"
	"github.com/go-chi/chi/v5"
)

type AccountHandler struct {
	store *ledger.Store
}

func NewAccountHandler(store *ledger.Store) *AccountHandler {
	return &AccountHandler{store: store}
}

// ListAccounts returns every account of the authenticated user, transaction
// histories attached (soft-deleted entries included; filtering is a display
// concern).
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	accounts, err := h.store.GetAccounts(userID)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to list accounts", "error", err)
		utils.SendJSONError(w, "Failed to retrieve accounts", http.StatusInternalServerError)
		return
	}

	utils.SendJSON(w, map[string]any{"accounts": accounts}, http.StatusOK)
}

// CreateAccount persists a new account. Clients created offline send their
// own id; a collision answers 409 so the sync queue drops the replay.
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var req struct {
		Account *models.Account `json:"account"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Account == nil {
		utils.SendJSONError(w, "Invalid account data", http.StatusBadRequest)
		return
	}

	account := *req.Account
	account.Name = validation.SanitizeText(account.Name)
	if err := validation.ValidateStringNotEmpty(account.Name, "account name"); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateStringMaxLength(account.Name, validation.MaxAccountNameLength, "account name"); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidateFiniteAmount(account.InitialBalance, "initial balance"); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	created, err := h.store.CreateAccount(userID, account)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountExists) {
			utils.SendJSONError(w, "Account already exists or could not be created", http.StatusConflict)
			return
		}
		logger.FromContext(r.Context()).Error("Failed to create account", "error", err)
		utils.SendJSONError(w, "Failed to create account", http.StatusInternalServerError)
		return
	}

	utils.SendJSON(w, map[string]any{"success": true, "account": created}, http.StatusOK)
}

// GetAccount returns one account by id.
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	accountID, ok := parseAccountID(w, r)
	if !ok {
		return
	}

	account, err := h.store.GetAccount(userID, accountID)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			utils.SendJSONError(w, "Account not found", http.StatusNotFound)
			return
		}
		logger.FromContext(r.Context()).Error("Failed to fetch account", "accountID", accountID, "error", err)
		utils.SendJSONError(w, "Failed to retrieve account", http.StatusInternalServerError)
		return
	}

	utils.SendJSON(w, map[string]any{"account": account}, http.StatusOK)
}

// UpdateAccount replaces an account's metadata and transaction history. This
// backs the snapshot restore flow; the recorded balance is recomputed from
// the submitted history rather than trusted from the payload.
func (h *AccountHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	accountID, ok := parseAccountID(w, r)
	if !ok {
		return
	}

	var req struct {
		Account *models.Account `json:"account"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Account == nil || req.Account.ID != accountID {
		utils.SendJSONError(w, "Invalid account data", http.StatusBadRequest)
		return
	}

	account := *req.Account
	account.Name = validation.SanitizeText(account.Name)
	if err := validation.ValidateStringNotEmpty(account.Name, "account name"); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.store.ReplaceAccount(userID, account); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			utils.SendJSONError(w, "Account not found", http.StatusNotFound)
			return
		}
		logger.FromContext(r.Context()).Error("Failed to update account", "accountID", accountID, "error", err)
		utils.SendJSONError(w, "Failed to update account", http.StatusInternalServerError)
		return
	}

	utils.SendJSON(w, map[string]any{"success": true, "account": account}, http.StatusOK)
}

// DeleteAccount removes an account and its transaction history.
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	accountID, ok := parseAccountID(w, r)
	if !ok {
		return
	}

	if err := h.store.DeleteAccount(userID, accountID); err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			utils.SendJSONError(w, "Account not found or could not be deleted", http.StatusNotFound)
			return
		}
		logger.FromContext(r.Context()).Error("Failed to delete account", "accountID", accountID, "error", err)
		utils.SendJSONError(w, "Failed to delete account", http.StatusInternalServerError)
		return
	}

	utils.SendJSON(w, map[string]any{"success": true}, http.StatusOK)
}

// parseAccountID reads the {id} URL parameter, answering 400 on garbage.
func parseAccountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		utils.SendJSONError(w, "Invalid account ID", http.StatusBadRequest)
		return 0, false
	}
	return accountID, true
}
