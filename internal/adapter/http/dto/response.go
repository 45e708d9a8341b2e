package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/usecase"
)

// CongregationResponse represents a congregation in API responses.
type CongregationResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CongregationFromDomain converts domain congregation to response.
func CongregationFromDomain(c *domain.Congregation) *CongregationResponse {
	return &CongregationResponse{
		ID:        c.ID,
		Name:      c.Name,
		Balance:   c.Balance,
		Version:   c.Version,
		Active:    c.Active,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// CongregationsFromDomain converts domain congregations to responses.
func CongregationsFromDomain(congregations []*domain.Congregation) []*CongregationResponse {
	result := make([]*CongregationResponse, len(congregations))
	for i, c := range congregations {
		result[i] = CongregationFromDomain(c)
	}
	return result
}

// BalanceResponse is the cached running total of a congregation.
type BalanceResponse struct {
	CongregationID string          `json:"congregation_id"`
	Balance        decimal.Decimal `json:"balance"`
}

// TransactionResponse represents a transaction in API responses.
type TransactionResponse struct {
	ID             string          `json:"id"`
	CongregationID string          `json:"congregation_id"`
	ResponsibleID  string          `json:"responsible_id"`
	ApproverID     *string         `json:"approver_id,omitempty"`
	DonorID        *string         `json:"donor_id,omitempty"`
	Kind           domain.Kind     `json:"kind"`
	Category       domain.Category `json:"category"`
	Subcategory    string          `json:"subcategory,omitempty"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentMethod  string          `json:"payment_method"`
	Status         domain.Status   `json:"status"`
	Notes          string          `json:"notes,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TransactionFromDomain converts domain transaction to response.
func TransactionFromDomain(t *domain.Transaction) *TransactionResponse {
	return &TransactionResponse{
		ID:             t.ID,
		CongregationID: t.CongregationID,
		ResponsibleID:  t.ResponsibleID,
		ApproverID:     t.ApproverID,
		DonorID:        t.DonorID,
		Kind:           t.Kind,
		Category:       t.Category,
		Subcategory:    t.Subcategory,
		Description:    t.Description,
		Amount:         t.Amount,
		PaymentMethod:  string(t.PaymentMethod),
		Status:         t.Status,
		Notes:          t.Notes,
		Metadata:       t.Metadata,
		OccurredAt:     t.OccurredAt,
		ApprovedAt:     t.ApprovedAt,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

// TransactionsFromDomain converts domain transactions to responses.
func TransactionsFromDomain(transactions []*domain.Transaction) []*TransactionResponse {
	result := make([]*TransactionResponse, len(transactions))
	for i, t := range transactions {
		result[i] = TransactionFromDomain(t)
	}
	return result
}

// LedgerResultResponse is returned by every ledger mutation.
type LedgerResultResponse struct {
	Transaction  *TransactionResponse `json:"transaction,omitempty"`
	BalanceDelta decimal.Decimal      `json:"balance_delta"`
	Balance      decimal.Decimal      `json:"balance"`
}

// LedgerResultFromUseCase converts a ledger mutation result to response.
func LedgerResultFromUseCase(r *usecase.LedgerResult) *LedgerResultResponse {
	resp := &LedgerResultResponse{
		BalanceDelta: r.BalanceDelta,
		Balance:      r.Balance,
	}
	if r.Transaction != nil {
		resp.Transaction = TransactionFromDomain(r.Transaction)
	}
	return resp
}

// Pagination describes the window of a list response.
type Pagination struct {
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// CongregationListResponse is a page of congregations.
type CongregationListResponse struct {
	Congregations []*CongregationResponse `json:"congregations"`
	Pagination    Pagination              `json:"pagination"`
}

// TransactionListResponse is a page of transactions.
type TransactionListResponse struct {
	Transactions []*TransactionResponse `json:"transactions"`
	Pagination   Pagination             `json:"pagination"`
}

// CategoryTotalResponse is the confirmed total for one category.
type CategoryTotalResponse struct {
	Category domain.Category `json:"category"`
	Total    decimal.Decimal `json:"total"`
}

// SummaryResponse aggregates confirmed revenue and expense.
type SummaryResponse struct {
	CongregationID    string                  `json:"congregation_id,omitempty"`
	RevenueByCategory []CategoryTotalResponse `json:"revenue_by_category"`
	ExpenseByCategory []CategoryTotalResponse `json:"expense_by_category"`
	TotalRevenue      decimal.Decimal         `json:"total_revenue"`
	TotalExpense      decimal.Decimal         `json:"total_expense"`
	Net               decimal.Decimal         `json:"net"`
}

// SummaryFromDomain converts a domain summary to response.
func SummaryFromDomain(congregationID string, s *domain.Summary) *SummaryResponse {
	return &SummaryResponse{
		CongregationID:    congregationID,
		RevenueByCategory: categoryTotals(s.RevenueByCategory),
		ExpenseByCategory: categoryTotals(s.ExpenseByCategory),
		TotalRevenue:      s.TotalRevenue,
		TotalExpense:      s.TotalExpense,
		Net:               s.Net,
	}
}

func categoryTotals(totals []domain.CategoryTotal) []CategoryTotalResponse {
	result := make([]CategoryTotalResponse, len(totals))
	for i, t := range totals {
		result[i] = CategoryTotalResponse{Category: t.Category, Total: t.Total}
	}
	return result
}

// ReconciliationResponse is the outcome of checking one congregation.
type ReconciliationResponse struct {
	CongregationID    string          `json:"congregation_id"`
	RecordedBalance   decimal.Decimal `json:"recorded_balance"`
	CalculatedBalance decimal.Decimal `json:"calculated_balance"`
	Difference        decimal.Decimal `json:"difference"`
	IsReconciled      bool            `json:"is_reconciled"`
	Repaired          bool            `json:"repaired,omitempty"`
	LastChecked       time.Time       `json:"last_checked"`
}

// ReconciliationFromUseCase converts a reconciliation result to response.
func ReconciliationFromUseCase(r *usecase.ReconciliationResult, repaired bool) *ReconciliationResponse {
	return &ReconciliationResponse{
		CongregationID:    r.CongregationID,
		RecordedBalance:   r.RecordedBalance,
		CalculatedBalance: r.CalculatedBalance,
		Difference:        r.Difference,
		IsReconciled:      r.IsReconciled,
		Repaired:          repaired,
		LastChecked:       r.LastChecked,
	}
}

// ConsistencyResponse reports whether every congregation balance matches its
// confirmed transactions.
type ConsistencyResponse struct {
	Consistent              bool                      `json:"consistent"`
	TotalCongregations      int                       `json:"total_congregations"`
	ReconciledCongregations int                       `json:"reconciled_congregations"`
	Discrepancies           []*ReconciliationResponse `json:"discrepancies"`
	CheckedAt               time.Time                 `json:"checked_at"`
}

// ConsistencyFromReport converts a reconciliation report to response.
func ConsistencyFromReport(r *usecase.ReconciliationReport) *ConsistencyResponse {
	discrepancies := make([]*ReconciliationResponse, len(r.Discrepancies))
	for i, d := range r.Discrepancies {
		discrepancies[i] = ReconciliationFromUseCase(d, false)
	}
	return &ConsistencyResponse{
		Consistent:              r.LedgerConsistent,
		TotalCongregations:      r.TotalCongregations,
		ReconciledCongregations: r.ReconciledCongregations,
		Discrepancies:           discrepancies,
		CheckedAt:               r.CheckedAt,
	}
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
