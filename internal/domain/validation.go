package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Validation errors
var (
	ErrInvalidCongregationName = errors.New("invalid congregation name")
	ErrInvalidDescription      = errors.New("invalid description")
	ErrMetadataTooLarge        = errors.New("metadata size exceeds limit")
	ErrInvalidDateRange        = errors.New("invalid date range")
)

// Validation constants
const (
	MaxNameLength        = 255
	MaxDescriptionLength = 255
	MaxMetadataSize      = 10240         // 10KB
	MaxTransactionAmount = "99999999.99" // NUMERIC(10,2)
	AmountScale          = 2
)

var maxTransactionAmount = decimal.RequireFromString(MaxTransactionAmount)

// ValidateAmount checks that amount is a non-negative currency value.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}

	if !amount.Equal(amount.Truncate(AmountScale)) {
		return fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, AmountScale)
	}

	if amount.GreaterThan(maxTransactionAmount) {
		return fmt.Errorf("%w: maximum amount is %s", ErrInvalidAmount, MaxTransactionAmount)
	}

	return nil
}

// ValidateCongregationName validates congregation name
func ValidateCongregationName(name string) error {
	name = strings.TrimSpace(name)

	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidCongregationName)
	}

	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidCongregationName, MaxNameLength)
	}

	return nil
}

// ValidateDescription validates a transaction description.
func ValidateDescription(description string) error {
	description = strings.TrimSpace(description)

	if description == "" {
		return fmt.Errorf("%w: description cannot be empty", ErrInvalidDescription)
	}

	if len(description) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidDescription, MaxDescriptionLength)
	}

	return nil
}

// ValidateMetadata validates metadata size
func ValidateMetadata(metadata map[string]any) error {
	if metadata == nil {
		return nil
	}

	size := 0
	for k, v := range metadata {
		size += len(k)
		size += len(fmt.Sprintf("%v", v))
	}

	if size > MaxMetadataSize {
		return fmt.Errorf("%w: metadata size %d bytes exceeds limit of %d bytes", ErrMetadataTooLarge, size, MaxMetadataSize)
	}

	return nil
}

// ValidatePagination validates and limits pagination parameters
func ValidatePagination(limit, offset int) (int, int) {
	const MaxPageSize = 100
	const DefaultPageSize = 20

	if limit <= 0 {
		limit = DefaultPageSize
	}

	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset
}
