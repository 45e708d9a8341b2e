package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/iho/churchledger/internal/adapter/http/dto"
)

// writeError rejects a request with the same body shape the handlers use.
func writeError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: message, Message: details})
}
