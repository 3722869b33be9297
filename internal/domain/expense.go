package domain

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidPeriodKind indicates a period kind outside {Month, Year}.
	ErrInvalidPeriodKind = errors.New("invalid period kind")

	// ErrInvalidPeriodEvery indicates a period multiplier outside [1, MaxPeriodEvery].
	ErrInvalidPeriodEvery = errors.New("invalid period multiplier")
)

// MaxPeriodEvery is the largest multiplier every store can hold (a 32-bit column).
const MaxPeriodEvery = math.MaxInt32

// PeriodKind is the unit of a recurrence.
type PeriodKind string

const (
	PeriodMonth PeriodKind = "Month"
	PeriodYear  PeriodKind = "Year"
)

// Valid reports whether k is one of the supported kinds.
func (k PeriodKind) Valid() bool {
	switch k {
	case PeriodMonth, PeriodYear:
		return true
	default:
		return false
	}
}

// Period describes how often an expense recurs: every N months or every N years.
type Period struct {
	Kind  PeriodKind `json:"kind"`
	Every int        `json:"every"`
}

// NewPeriod builds a validated Period.
func NewPeriod(kind PeriodKind, every int) (Period, error) {
	p := Period{Kind: kind, Every: every}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

func (p Period) Validate() error {
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPeriodKind, string(p.Kind))
	}
	if p.Every < 1 || p.Every > MaxPeriodEvery {
		return fmt.Errorf("%w: %d", ErrInvalidPeriodEvery, p.Every)
	}
	return nil
}

// RecurringMoneyValue is an amount in minor currency units that recurs with Period.
// Currency is implied by the caller; amounts may be negative.
type RecurringMoneyValue struct {
	Amount int64  `json:"amount"`
	Period Period `json:"period"`
}

// ExpenseSource is a named recurring expense owned by exactly one subject.
type ExpenseSource struct {
	ID      ExpenseSourceID     `json:"id"`
	Owner   SubjectID           `json:"-"`
	Name    string              `json:"name"`
	Expense RecurringMoneyValue `json:"expense"`
}
