package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/iho/churchledger/internal/domain"
)

// domainErrors are returned to callers unchanged.
var domainErrors = []error{
	domain.ErrCongregationNotFound,
	domain.ErrCongregationInactive,
	domain.ErrCongregationNotEmpty,
	domain.ErrTransactionNotFound,
	domain.ErrAlreadyApproved,
	domain.ErrInvalidAmount,
	domain.ErrInvalidKind,
	domain.ErrInvalidCategory,
	domain.ErrInvalidPaymentMethod,
	domain.ErrInvalidStatus,
	domain.ErrInvalidStatusTransition,
	domain.ErrInvalidCongregationName,
	domain.ErrInvalidDescription,
	domain.ErrMetadataTooLarge,
	domain.ErrInvalidDateRange,
	domain.ErrUnauthorized,
	domain.ErrInsufficientRole,
	domain.ErrForbiddenScope,
	domain.ErrStoreUnavailable,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// storeError wraps failures that did not originate in the domain with
// domain.ErrStoreUnavailable. The cause stays reachable through errors.As.
func storeError(err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

// errorType is a low-cardinality label for error metrics.
func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, domain.ErrCongregationNotFound), errors.Is(err, domain.ErrTransactionNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAlreadyApproved):
		return "already_approved"
	case errors.Is(err, domain.ErrInvalidStatusTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrInsufficientRole), errors.Is(err, domain.ErrForbiddenScope):
		return "forbidden"
	default:
		return "validation"
	}
}
