package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionFilter narrows transaction listings. Zero values match anything.
type TransactionFilter struct {
	From           *time.Time
	To             *time.Time
	CongregationID string
	ResponsibleID  string
	DonorID        string
	Kind           Kind
	Category       Category
	Status         Status
	Limit          int
	Offset         int
}

// Validate checks enum fields and the date range.
func (f TransactionFilter) Validate() error {
	if f.Kind != "" && !f.Kind.IsValid() {
		return ErrInvalidKind
	}
	if f.Category != "" && !f.Category.IsValid() {
		return ErrInvalidCategory
	}
	if f.Status != "" && !f.Status.IsValid() {
		return ErrInvalidStatus
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return ErrInvalidDateRange
	}
	return nil
}

// SummaryFilter scopes a financial summary. An empty CongregationID covers
// every congregation.
type SummaryFilter struct {
	From           *time.Time
	To             *time.Time
	CongregationID string
}

// KindTotal is the confirmed amount of one kind for one congregation.
type KindTotal struct {
	CongregationID string
	Kind           Kind
	Total          decimal.Decimal
}

// CategoryTotal is the confirmed amount of one kind and category.
type CategoryTotal struct {
	Kind     Kind
	Category Category
	Total    decimal.Decimal
}

// Summary aggregates confirmed revenue and expense by category.
type Summary struct {
	RevenueByCategory []CategoryTotal
	ExpenseByCategory []CategoryTotal
	TotalRevenue      decimal.Decimal
	TotalExpense      decimal.Decimal
	Net               decimal.Decimal
}

// BuildSummary splits category totals into revenue and expense sections.
// Transfers are reported as neither.
func BuildSummary(totals []CategoryTotal) *Summary {
	s := &Summary{
		RevenueByCategory: make([]CategoryTotal, 0),
		ExpenseByCategory: make([]CategoryTotal, 0),
		TotalRevenue:      decimal.Zero,
		TotalExpense:      decimal.Zero,
	}

	for _, t := range totals {
		switch t.Kind {
		case KindRevenue:
			s.RevenueByCategory = append(s.RevenueByCategory, t)
			s.TotalRevenue = s.TotalRevenue.Add(t.Total)
		case KindExpense:
			s.ExpenseByCategory = append(s.ExpenseByCategory, t)
			s.TotalExpense = s.TotalExpense.Add(t.Total)
		}
	}

	s.Net = s.TotalRevenue.Sub(s.TotalExpense)
	return s
}
