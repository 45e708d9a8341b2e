package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Congregation owns transactions and caches their confirmed running total.
type Congregation struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	ID        string
	Name      string
	Balance   decimal.Decimal
	Version   int64
	Active    bool
}

// Rename validates and sets a new display name.
func (c *Congregation) Rename(name string) error {
	name = strings.TrimSpace(name)
	if err := ValidateCongregationName(name); err != nil {
		return err
	}
	c.Name = name
	return nil
}

// ApplyDelta returns the balance after adding delta.
func (c *Congregation) ApplyDelta(delta decimal.Decimal) decimal.Decimal {
	return c.Balance.Add(delta)
}

// RecomputeBalance folds confirmed totals per kind into a signed balance.
func RecomputeBalance(totals []KindTotal) decimal.Decimal {
	balance := decimal.Zero
	for _, t := range totals {
		if t.Kind.Sign() == DirectionCredit {
			balance = balance.Add(t.Total)
		} else {
			balance = balance.Sub(t.Total)
		}
	}
	return balance
}
