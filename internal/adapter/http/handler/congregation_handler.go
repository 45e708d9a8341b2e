package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/iho/churchledger/internal/adapter/http/dto"
	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/usecase"
)

// CongregationService defines the behavior needed by CongregationHandler.
type CongregationService interface {
	CreateCongregation(ctx context.Context, input usecase.CreateCongregationInput) (*domain.Congregation, error)
	GetCongregation(ctx context.Context, id string) (*domain.Congregation, error)
	ListCongregations(ctx context.Context, input usecase.ListCongregationsInput) (*usecase.ListCongregationsResult, error)
	UpdateCongregation(ctx context.Context, input usecase.UpdateCongregationInput) (*domain.Congregation, error)
	DeleteCongregation(ctx context.Context, id string) error
	GetBalance(ctx context.Context, id string) (decimal.Decimal, error)
}

// ReconciliationService defines the reconciliation behavior exposed over HTTP.
type ReconciliationService interface {
	ReconcileCongregation(ctx context.Context, congregationID string) (*usecase.ReconciliationResult, error)
	Repair(ctx context.Context, congregationID string) (*usecase.ReconciliationResult, error)
	GenerateReport(ctx context.Context) (*usecase.ReconciliationReport, error)
}

// CongregationHandler handles congregation-related HTTP requests.
type CongregationHandler struct {
	congregationUC   CongregationService
	reconciliationUC ReconciliationService
}

// NewCongregationHandler creates a new CongregationHandler.
func NewCongregationHandler(congregationUC CongregationService, reconciliationUC ReconciliationService) *CongregationHandler {
	return &CongregationHandler{
		congregationUC:   congregationUC,
		reconciliationUC: reconciliationUC,
	}
}

// Create creates a new congregation.
func (h *CongregationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateCongregationRequest
	if err := dto.Decode(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	congregation, err := h.congregationUC.CreateCongregation(r.Context(), req.ToUseCaseInput())
	if err != nil {
		writeDomainError(w, r, "failed to create congregation", err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.CongregationFromDomain(congregation))
}

// Get retrieves a congregation by ID.
func (h *CongregationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing congregation ID", "")
		return
	}

	congregation, err := h.congregationUC.GetCongregation(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, "failed to get congregation", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.CongregationFromDomain(congregation))
}

// Update renames a congregation or changes whether it is active.
func (h *CongregationHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing congregation ID", "")
		return
	}

	var req dto.UpdateCongregationRequest
	if err := dto.Decode(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	congregation, err := h.congregationUC.UpdateCongregation(r.Context(), req.ToUseCaseInput(id))
	if err != nil {
		writeDomainError(w, r, "failed to update congregation", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.CongregationFromDomain(congregation))
}

// Delete removes an empty congregation.
func (h *CongregationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing congregation ID", "")
		return
	}

	if err := h.congregationUC.DeleteCongregation(r.Context(), id); err != nil {
		writeDomainError(w, r, "failed to delete congregation", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// List lists congregations.
func (h *CongregationHandler) List(w http.ResponseWriter, r *http.Request) {
	result, err := h.congregationUC.ListCongregations(r.Context(), usecase.ListCongregationsInput{
		Limit:  parseIntQuery(r, "limit", 0),
		Offset: parseIntQuery(r, "offset", 0),
	})
	if err != nil {
		writeDomainError(w, r, "failed to list congregations", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.CongregationListResponse{
		Congregations: dto.CongregationsFromDomain(result.Congregations),
		Pagination: dto.Pagination{
			Total:  result.Total,
			Limit:  result.Limit,
			Offset: result.Offset,
		},
	})
}

// GetBalance returns the running balance of a congregation.
func (h *CongregationHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing congregation ID", "")
		return
	}

	balance, err := h.congregationUC.GetBalance(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, "failed to get balance", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.BalanceResponse{
		CongregationID: id,
		Balance:        balance,
	})
}

// Reconcile compares the recorded balance with the recomputed one. With
// ?repair=true a drifted balance is overwritten.
func (h *CongregationHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing congregation ID", "")
		return
	}

	repair, _ := strconv.ParseBool(r.URL.Query().Get("repair"))

	var (
		result *usecase.ReconciliationResult
		err    error
	)
	if repair {
		result, err = h.reconciliationUC.Repair(r.Context(), id)
	} else {
		result, err = h.reconciliationUC.ReconcileCongregation(r.Context(), id)
	}
	if err != nil {
		writeDomainError(w, r, "failed to reconcile congregation", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ReconciliationFromUseCase(result, repair && !result.IsReconciled))
}
