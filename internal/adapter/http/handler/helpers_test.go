package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/iho/churchledger/internal/adapter/http/dto"
	"github.com/iho/churchledger/internal/domain"
)

func TestParseIntQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/congregations?limit=50", nil)
	if got := parseIntQuery(req, "limit", 10); got != 50 {
		t.Fatalf("expected limit=50, got %d", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/congregations?limit=invalid", nil)
	if got := parseIntQuery(req, "limit", 10); got != 10 {
		t.Fatalf("expected fallback to default, got %d", got)
	}

	req.URL = &url.URL{RawQuery: ""}
	if got := parseIntQuery(req, "limit", 25); got != 25 {
		t.Fatalf("expected default when missing, got %d", got)
	}
}

func TestParseDateRange(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/summary?from=2024-03-01&to=2024-03-31", nil)
	from, to, err := parseDateRange(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !from.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected from: %v", from)
	}
	if to.Day() != 31 || to.Hour() != 23 {
		t.Fatalf("expected to to cover the whole day, got %v", to)
	}

	req = httptest.NewRequest(http.MethodGet, "/summary?from=2024-03-01T10:00:00Z", nil)
	from, to, err = parseDateRange(req)
	if err != nil || from.Hour() != 10 || to != nil {
		t.Fatalf("unexpected result: %v %v %v", from, to, err)
	}

	req = httptest.NewRequest(http.MethodGet, "/summary?to=yesterday", nil)
	if _, _, err := parseDateRange(req); !errors.Is(err, domain.ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange, got %v", err)
	}
}

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"congregation not found", domain.ErrCongregationNotFound, http.StatusNotFound},
		{"transaction not found", domain.ErrTransactionNotFound, http.StatusNotFound},
		{"invalid amount", domain.ErrInvalidAmount, http.StatusBadRequest},
		{"wrapped invalid amount", fmt.Errorf("%w: too many places", domain.ErrInvalidAmount), http.StatusBadRequest},
		{"metadata too large", domain.ErrMetadataTooLarge, http.StatusBadRequest},
		{"validation", &dto.ValidationError{Err: errors.New("bad")}, http.StatusBadRequest},
		{"already approved", domain.ErrAlreadyApproved, http.StatusConflict},
		{"transition", &domain.TransitionError{From: domain.StatusReversed, To: domain.StatusPending}, http.StatusConflict},
		{"insufficient role", domain.ErrInsufficientRole, http.StatusForbidden},
		{"other congregation", domain.ErrForbiddenScope, http.StatusForbidden},
		{"expired token", domain.ErrExpiredToken, http.StatusUnauthorized},
		{"store unavailable", fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, errors.New("conn refused")), http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, http.StatusServiceUnavailable},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapDomainError(tt.err); got != tt.expected {
				t.Fatalf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func TestWriteDomainError_HidesServerErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	writeDomainError(rr, req, "failed", errors.New("pq: password authentication failed"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "password") {
		t.Fatalf("internal error leaked: %s", rr.Body.String())
	}
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	payload := map[string]string{"status": "ok"}

	writeJSON(rr, http.StatusCreated, payload)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected content-type application/json, got %s", ct)
	}

	var decoded map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if decoded["status"] != "ok" {
		t.Fatalf("expected payload to round-trip, got %+v", decoded)
	}
}

func TestWriteError(t *testing.T) {
	rr := httptest.NewRecorder()

	writeError(rr, http.StatusBadRequest, "bad request", "detail")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	var resp dto.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}

	if resp.Error != "bad request" {
		t.Fatalf("expected error message to propagate, got %+v", resp)
	}
}
