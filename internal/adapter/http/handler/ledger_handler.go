package handler

import (
	"context"
	"net/http"

	"github.com/iho/churchledger/internal/adapter/http/dto"
	"github.com/iho/churchledger/internal/usecase"
)

// ConsistencyService produces a ledger-wide reconciliation report.
type ConsistencyService interface {
	GenerateReport(ctx context.Context) (*usecase.ReconciliationReport, error)
}

// LedgerHandler handles ledger-wide operations.
type LedgerHandler struct {
	reconciliationUC ConsistencyService
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(reconciliationUC ConsistencyService) *LedgerHandler {
	return &LedgerHandler{reconciliationUC: reconciliationUC}
}

// CheckConsistency checks that every congregation balance equals the sum of
// its confirmed transactions. Drift is reported with 409.
func (h *LedgerHandler) CheckConsistency(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciliationUC.GenerateReport(r.Context())
	if err != nil {
		writeDomainError(w, r, "failed to check consistency", err)
		return
	}

	status := http.StatusOK
	if !report.LedgerConsistent {
		status = http.StatusConflict
	}
	writeJSON(w, status, dto.ConsistencyFromReport(report))
}
