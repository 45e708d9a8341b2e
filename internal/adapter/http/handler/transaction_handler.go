package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iho/churchledger/internal/adapter/http/dto"
	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/usecase"
)

// LedgerService defines the balance-affecting operations.
type LedgerService interface {
	CreateTransaction(ctx context.Context, input usecase.CreateTransactionInput) (*usecase.LedgerResult, error)
	UpdateTransaction(ctx context.Context, input usecase.UpdateTransactionInput) (*usecase.LedgerResult, error)
	ApproveTransaction(ctx context.Context, id string) (*usecase.LedgerResult, error)
	DeleteTransaction(ctx context.Context, id string) (*usecase.LedgerResult, error)
}

// TransactionService defines the read-only transaction queries.
type TransactionService interface {
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter domain.TransactionFilter) (*usecase.ListTransactionsResult, error)
	Summary(ctx context.Context, filter domain.SummaryFilter) (*domain.Summary, error)
}

// TransactionHandler handles transaction-related HTTP requests.
type TransactionHandler struct {
	ledgerUC      LedgerService
	transactionUC TransactionService
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(ledgerUC LedgerService, transactionUC TransactionService) *TransactionHandler {
	return &TransactionHandler{
		ledgerUC:      ledgerUC,
		transactionUC: transactionUC,
	}
}

// Create records a new transaction.
func (h *TransactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateTransactionRequest
	if err := dto.Decode(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	input, err := req.ToUseCaseInput(domain.ActorID(r.Context()))
	if err != nil {
		writeDomainError(w, r, "invalid request body", err)
		return
	}

	result, err := h.ledgerUC.CreateTransaction(r.Context(), input)
	if err != nil {
		writeDomainError(w, r, "failed to create transaction", err)
		return
	}

	writeJSON(w, http.StatusCreated, dto.LedgerResultFromUseCase(result))
}

// Get retrieves a transaction by ID.
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing transaction ID", "")
		return
	}

	txn, err := h.transactionUC.GetTransaction(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, "failed to get transaction", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.TransactionFromDomain(txn))
}

// List lists transactions matching the query filters.
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := transactionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query", err.Error())
		return
	}
	h.list(w, r, filter)
}

// ListByCongregation lists the transactions of the congregation in the path.
func (h *TransactionHandler) ListByCongregation(w http.ResponseWriter, r *http.Request) {
	filter, err := transactionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query", err.Error())
		return
	}
	filter.CongregationID = chi.URLParam(r, "id")
	h.list(w, r, filter)
}

func (h *TransactionHandler) list(w http.ResponseWriter, r *http.Request, filter domain.TransactionFilter) {
	result, err := h.transactionUC.ListTransactions(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, "failed to list transactions", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.TransactionListResponse{
		Transactions: dto.TransactionsFromDomain(result.Transactions),
		Pagination: dto.Pagination{
			Total:  result.Total,
			Limit:  result.Limit,
			Offset: result.Offset,
		},
	})
}

// Update applies a partial update to a transaction.
func (h *TransactionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing transaction ID", "")
		return
	}

	var req dto.UpdateTransactionRequest
	if err := dto.Decode(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	input, err := req.ToUseCaseInput(id)
	if err != nil {
		writeDomainError(w, r, "invalid request body", err)
		return
	}

	result, err := h.ledgerUC.UpdateTransaction(r.Context(), input)
	if err != nil {
		writeDomainError(w, r, "failed to update transaction", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.LedgerResultFromUseCase(result))
}

// Approve confirms a pending transaction.
func (h *TransactionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing transaction ID", "")
		return
	}

	result, err := h.ledgerUC.ApproveTransaction(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, "failed to approve transaction", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.LedgerResultFromUseCase(result))
}

// Delete removes a transaction, reversing its balance effect if confirmed.
func (h *TransactionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing transaction ID", "")
		return
	}

	result, err := h.ledgerUC.DeleteTransaction(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, "failed to delete transaction", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.LedgerResultFromUseCase(result))
}

// Summary reports confirmed totals across every congregation the caller can
// see, or one congregation via ?congregation_id.
func (h *TransactionHandler) Summary(w http.ResponseWriter, r *http.Request) {
	h.summary(w, r, r.URL.Query().Get("congregation_id"))
}

// CongregationSummary reports confirmed totals of the congregation in the path.
func (h *TransactionHandler) CongregationSummary(w http.ResponseWriter, r *http.Request) {
	h.summary(w, r, chi.URLParam(r, "id"))
}

func (h *TransactionHandler) summary(w http.ResponseWriter, r *http.Request, congregationID string) {
	from, to, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query", err.Error())
		return
	}

	summary, err := h.transactionUC.Summary(r.Context(), domain.SummaryFilter{
		From:           from,
		To:             to,
		CongregationID: congregationID,
	})
	if err != nil {
		writeDomainError(w, r, "failed to build summary", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.SummaryFromDomain(congregationID, summary))
}

func transactionFilter(r *http.Request) (domain.TransactionFilter, error) {
	from, to, err := parseDateRange(r)
	if err != nil {
		return domain.TransactionFilter{}, err
	}

	q := r.URL.Query()
	return domain.TransactionFilter{
		From:           from,
		To:             to,
		CongregationID: q.Get("congregation_id"),
		ResponsibleID:  q.Get("responsible_id"),
		DonorID:        q.Get("donor_id"),
		Kind:           domain.Kind(q.Get("kind")),
		Category:       domain.Category(q.Get("category")),
		Status:         domain.Status(q.Get("status")),
		Limit:          parseIntQuery(r, "limit", 0),
		Offset:         parseIntQuery(r, "offset", 0),
	}, nil
}
