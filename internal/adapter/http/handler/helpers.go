package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/churchledger/internal/adapter/http/dto"
	"github.com/iho/churchledger/internal/domain"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{
		Error:   message,
		Message: details,
	})
}

// writeDomainError maps err to a status and writes it. Server-side failures
// are logged and their details withheld from the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := mapDomainError(err)
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Int("status", status).Msg(message)
		writeError(w, status, message, http.StatusText(status))
		return
	}
	writeError(w, status, message, err.Error())
}

// mapDomainError maps domain errors to HTTP status codes.
func mapDomainError(err error) int {
	var vErr *dto.ValidationError

	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCongregationNotFound),
		errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyApproved),
		errors.Is(err, domain.ErrInvalidStatusTransition),
		errors.Is(err, domain.ErrCongregationInactive),
		errors.Is(err, domain.ErrCongregationNotEmpty):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInvalidCategory),
		errors.Is(err, domain.ErrInvalidPaymentMethod),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidCongregationName),
		errors.Is(err, domain.ErrInvalidDescription),
		errors.Is(err, domain.ErrMetadataTooLarge),
		errors.Is(err, domain.ErrInvalidDateRange):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrInvalidToken),
		errors.Is(err, domain.ErrExpiredToken):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInsufficientRole),
		errors.Is(err, domain.ErrForbiddenScope):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultValue int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return i
}

// parseTimeQuery parses an RFC 3339 timestamp or a YYYY-MM-DD date. A date
// used as an upper bound covers the whole day.
func parseTimeQuery(r *http.Request, key string, endOfDay bool) (*time.Time, error) {
	val := r.URL.Query().Get(key)
	if val == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, val); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, val)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC 3339 or YYYY-MM-DD", domain.ErrInvalidDateRange, key)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// parseDateRange reads the from/to query parameters.
func parseDateRange(r *http.Request) (from, to *time.Time, err error) {
	if from, err = parseTimeQuery(r, "from", false); err != nil {
		return nil, nil, err
	}
	if to, err = parseTimeQuery(r, "to", true); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}
