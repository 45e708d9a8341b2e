package dto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/iho/churchledger/internal/domain"
	"github.com/iho/churchledger/internal/usecase"
)

// maxBodyBytes bounds request bodies; metadata alone is capped at 10KiB.
const maxBodyBytes = 64 << 10

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError is returned when a request body is malformed or fails
// field validation.
type ValidationError struct {
	Fields []string
	Err    error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) > 0 {
		return "invalid request: " + strings.Join(e.Fields, "; ")
	}
	return fmt.Sprintf("invalid request: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Decode reads a JSON body into dst and validates its struct tags. Unknown
// fields are rejected.
func Decode(r io.Reader, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ValidationError{Err: err}
	}

	if err := validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, len(fieldErrs))
			for i, fe := range fieldErrs {
				fields[i] = fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
			}
			return &ValidationError{Fields: fields, Err: err}
		}
		return &ValidationError{Err: err}
	}
	return nil
}

// CreateCongregationRequest represents a request to create a congregation.
type CreateCongregationRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

// ToUseCaseInput converts to use case input.
func (r *CreateCongregationRequest) ToUseCaseInput() usecase.CreateCongregationInput {
	return usecase.CreateCongregationInput{Name: strings.TrimSpace(r.Name)}
}

// UpdateCongregationRequest represents a partial congregation update.
type UpdateCongregationRequest struct {
	Name   *string `json:"name,omitempty" validate:"omitempty,max=255"`
	Active *bool   `json:"active,omitempty"`
}

// ToUseCaseInput converts to use case input.
func (r *UpdateCongregationRequest) ToUseCaseInput(id string) usecase.UpdateCongregationInput {
	input := usecase.UpdateCongregationInput{ID: id, Active: r.Active}
	if r.Name != nil {
		name := strings.TrimSpace(*r.Name)
		input.Name = &name
	}
	return input
}

// CreateTransactionRequest represents a request to record a transaction.
type CreateTransactionRequest struct {
	OccurredAt     *time.Time     `json:"occurred_at,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	DonorID        *string        `json:"donor_id,omitempty"`
	CongregationID string         `json:"congregation_id" validate:"required"`
	ResponsibleID  string         `json:"responsible_id,omitempty"`
	Kind           string         `json:"kind" validate:"required,oneof=REVENUE EXPENSE TRANSFER"`
	Category       string         `json:"category" validate:"required"`
	Subcategory    string         `json:"subcategory,omitempty" validate:"max=255"`
	Description    string         `json:"description" validate:"required,max=255"`
	PaymentMethod  string         `json:"payment_method" validate:"required"`
	Status         string         `json:"status,omitempty" validate:"omitempty,oneof=PENDING CONFIRMED"`
	Notes          string         `json:"notes,omitempty"`
	Amount         Amount         `json:"amount" validate:"required"`
}

// ToUseCaseInput converts to use case input. ResponsibleID defaults to the
// caller when the request leaves it empty.
func (r *CreateTransactionRequest) ToUseCaseInput(actorID string) (usecase.CreateTransactionInput, error) {
	amount, err := r.Amount.Decimal()
	if err != nil {
		return usecase.CreateTransactionInput{}, err
	}

	responsible := r.ResponsibleID
	if responsible == "" {
		responsible = actorID
	}

	return usecase.CreateTransactionInput{
		OccurredAt:     r.OccurredAt,
		Metadata:       r.Metadata,
		DonorID:        r.DonorID,
		CongregationID: r.CongregationID,
		ResponsibleID:  responsible,
		Kind:           domain.Kind(r.Kind),
		Category:       domain.Category(r.Category),
		Subcategory:    r.Subcategory,
		Description:    r.Description,
		PaymentMethod:  domain.PaymentMethod(r.PaymentMethod),
		Status:         domain.Status(r.Status),
		Notes:          r.Notes,
		Amount:         amount,
	}, nil
}

// UpdateTransactionRequest is a partial update; omitted fields keep their
// stored value.
type UpdateTransactionRequest struct {
	OccurredAt    *time.Time `json:"occurred_at,omitempty"`
	Kind          *string    `json:"kind,omitempty" validate:"omitempty,oneof=REVENUE EXPENSE TRANSFER"`
	Category      *string    `json:"category,omitempty"`
	Subcategory   *string    `json:"subcategory,omitempty" validate:"omitempty,max=255"`
	Description   *string    `json:"description,omitempty" validate:"omitempty,max=255"`
	PaymentMethod *string    `json:"payment_method,omitempty"`
	Status        *string    `json:"status,omitempty" validate:"omitempty,oneof=PENDING CONFIRMED CANCELLED REVERSED"`
	Notes         *string    `json:"notes,omitempty"`
	DonorID       *string    `json:"donor_id,omitempty"`
	Amount        *Amount    `json:"amount,omitempty"`
}

// ToUseCaseInput converts to use case input for the transaction id.
func (r *UpdateTransactionRequest) ToUseCaseInput(id string) (usecase.UpdateTransactionInput, error) {
	input := usecase.UpdateTransactionInput{
		ID:          id,
		OccurredAt:  r.OccurredAt,
		Subcategory: r.Subcategory,
		Description: r.Description,
		Notes:       r.Notes,
		DonorID:     r.DonorID,
	}

	if r.Amount != nil {
		amount, err := r.Amount.Decimal()
		if err != nil {
			return usecase.UpdateTransactionInput{}, err
		}
		input.Amount = &amount
	}
	if r.Kind != nil {
		kind := domain.Kind(*r.Kind)
		input.Kind = &kind
	}
	if r.Category != nil {
		category := domain.Category(*r.Category)
		input.Category = &category
	}
	if r.PaymentMethod != nil {
		method := domain.PaymentMethod(*r.PaymentMethod)
		input.PaymentMethod = &method
	}
	if r.Status != nil {
		status := domain.Status(*r.Status)
		input.Status = &status
	}
	return input, nil
}

// Amount is a monetary amount sent either as a JSON number or as a decimal
// string. Parsing is deferred to Decimal so malformed values surface as
// domain.ErrInvalidAmount.
type Amount string

// UnmarshalJSON keeps the literal text of a number or the contents of a string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(strings.TrimSpace(s))
		return nil
	}
	*a = Amount(data)
	return nil
}

// Decimal parses the amount.
func (a Amount) Decimal() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(string(a))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, string(a))
	}
	return amount, nil
}
