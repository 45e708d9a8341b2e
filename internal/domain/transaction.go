package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies a transaction's effect on the congregation balance.
type Kind string

const (
	KindRevenue  Kind = "REVENUE"
	KindExpense  Kind = "EXPENSE"
	KindTransfer Kind = "TRANSFER"
)

// Direction is the sign a kind contributes to the balance.
type Direction int

const (
	DirectionCredit Direction = 1
	DirectionDebit  Direction = -1
)

// TransferDirection is the balance direction applied to TRANSFER transactions.
// Transfers currently debit the owning congregation, same as expenses.
// TODO: settle with finance whether transfers should net to zero across two
// congregations (two linked entries) instead of debiting the source.
const TransferDirection = DirectionDebit

var validKinds = map[Kind]bool{
	KindRevenue:  true,
	KindExpense:  true,
	KindTransfer: true,
}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	return validKinds[k]
}

// Sign returns the direction the kind moves the balance.
func (k Kind) Sign() Direction {
	switch k {
	case KindRevenue:
		return DirectionCredit
	case KindTransfer:
		return TransferDirection
	default:
		return DirectionDebit
	}
}

// Category is the accounting category of a transaction.
type Category string

const (
	// Revenue categories
	CategoryTithe        Category = "TITHE"
	CategoryOffering     Category = "OFFERING"
	CategoryDonation     Category = "DONATION"
	CategoryCampaign     Category = "CAMPAIGN"
	CategoryEvent        Category = "EVENT"
	CategoryOtherRevenue Category = "OTHER_REVENUE"

	// Expense categories
	CategoryRent         Category = "RENT"
	CategoryWater        Category = "WATER"
	CategoryElectricity  Category = "ELECTRICITY"
	CategoryInternet     Category = "INTERNET"
	CategoryPhone        Category = "PHONE"
	CategorySupplies     Category = "SUPPLIES"
	CategoryMaintenance  Category = "MAINTENANCE"
	CategorySalary       Category = "SALARY"
	CategoryMissions     Category = "MISSIONS"
	CategoryEvents       Category = "EVENTS"
	CategoryTaxes        Category = "TAXES"
	CategoryOtherExpense Category = "OTHER_EXPENSE"
)

var validCategories = map[Category]bool{
	CategoryTithe: true, CategoryOffering: true, CategoryDonation: true,
	CategoryCampaign: true, CategoryEvent: true, CategoryOtherRevenue: true,
	CategoryRent: true, CategoryWater: true, CategoryElectricity: true,
	CategoryInternet: true, CategoryPhone: true, CategorySupplies: true,
	CategoryMaintenance: true, CategorySalary: true, CategoryMissions: true,
	CategoryEvents: true, CategoryTaxes: true, CategoryOtherExpense: true,
}

// IsValid reports whether c is a known category.
func (c Category) IsValid() bool {
	return validCategories[c]
}

// PaymentMethod describes how money moved.
type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "CASH"
	PaymentPix          PaymentMethod = "PIX"
	PaymentCreditCard   PaymentMethod = "CREDIT_CARD"
	PaymentDebitCard    PaymentMethod = "DEBIT_CARD"
	PaymentBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentBoleto       PaymentMethod = "BOLETO"
	PaymentCheck        PaymentMethod = "CHECK"
	PaymentOther        PaymentMethod = "OTHER"
)

var validPaymentMethods = map[PaymentMethod]bool{
	PaymentCash: true, PaymentPix: true, PaymentCreditCard: true,
	PaymentDebitCard: true, PaymentBankTransfer: true, PaymentBoleto: true,
	PaymentCheck: true, PaymentOther: true,
}

// IsValid reports whether m is a known payment method.
func (m PaymentMethod) IsValid() bool {
	return validPaymentMethods[m]
}

// Transaction is a single financial movement owned by a congregation.
type Transaction struct {
	OccurredAt     time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ApprovedAt     *time.Time
	Metadata       map[string]any
	DonorID        *string
	ApproverID     *string
	ID             string
	CongregationID string
	ResponsibleID  string
	Kind           Kind
	Category       Category
	Subcategory    string
	Description    string
	PaymentMethod  PaymentMethod
	Status         Status
	Notes          string
	Amount         decimal.Decimal
}

// SignedAmount returns the amount with the sign of its kind.
func (t *Transaction) SignedAmount() decimal.Decimal {
	if t.Kind.Sign() == DirectionCredit {
		return t.Amount
	}
	return t.Amount.Neg()
}

// IsConfirmed reports whether the transaction counts towards the balance.
func (t *Transaction) IsConfirmed() bool {
	return t != nil && t.Status == StatusConfirmed
}

// Clone returns a copy safe to mutate independently of t.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	if t.ApprovedAt != nil {
		at := *t.ApprovedAt
		c.ApprovedAt = &at
	}
	if t.ApproverID != nil {
		id := *t.ApproverID
		c.ApproverID = &id
	}
	if t.DonorID != nil {
		id := *t.DonorID
		c.DonorID = &id
	}
	return &c
}

// MarkApproved sets the approval fields for a transition into CONFIRMED.
func (t *Transaction) MarkApproved(approverID string, at time.Time) {
	t.Status = StatusConfirmed
	t.ApproverID = &approverID
	t.ApprovedAt = &at
}

// ClearApproval drops the approval fields when a transaction leaves CONFIRMED.
func (t *Transaction) ClearApproval() {
	t.ApproverID = nil
	t.ApprovedAt = nil
}

// BalanceDelta returns the change the congregation balance needs when a
// transaction moves from before to after. A nil before is a creation and a
// nil after is a deletion.
func BalanceDelta(before, after *Transaction) decimal.Decimal {
	wasConfirmed := before.IsConfirmed()
	isConfirmed := after.IsConfirmed()

	switch {
	case !wasConfirmed && isConfirmed:
		return after.SignedAmount()
	case wasConfirmed && !isConfirmed:
		return before.SignedAmount().Neg()
	case wasConfirmed && isConfirmed:
		return after.SignedAmount().Sub(before.SignedAmount())
	default:
		return decimal.Zero
	}
}

// Validate checks the fields every persisted transaction must satisfy.
func (t *Transaction) Validate() error {
	if !t.Kind.IsValid() {
		return ErrInvalidKind
	}
	if !t.Category.IsValid() {
		return ErrInvalidCategory
	}
	if !t.PaymentMethod.IsValid() {
		return ErrInvalidPaymentMethod
	}
	if !t.Status.IsValid() {
		return ErrInvalidStatus
	}
	if err := ValidateDescription(t.Description); err != nil {
		return err
	}
	return ValidateAmount(t.Amount)
}
