package handlers

import (
	"net/http"

	"github.com/LautiLosio/account-balance-tracker/src/utils"
)

// HealthCheck answers 200 while the service is up. Offline-first clients
// probe it to detect connectivity transitions.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	utils.SendJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
