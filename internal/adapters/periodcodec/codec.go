// Package periodcodec maps domain.Period to and from its persisted form:
// a fixed kind token ("Month" or "Year") plus the integer multiplier.
//
// Every store adapter goes through this package on write and on read, so a row
// that cannot be decoded surfaces as an error instead of a silently wrong value.
package periodcodec

import (
	"fmt"

	"github.com/Overland-East-Bay/expense-sources-api/internal/domain"
)

const (
	TokenMonth = "Month"
	TokenYear  = "Year"
)

// Encode returns the persisted representation of p.
// It does not validate p; callers validate at the application boundary.
func Encode(p domain.Period) (kind string, every int) {
	switch p.Kind {
	case domain.PeriodYear:
		return TokenYear, p.Every
	default:
		return TokenMonth, p.Every
	}
}

// EncodeChecked is Encode for values that have not been validated yet.
func EncodeChecked(p domain.Period) (string, int, error) {
	if err := p.Validate(); err != nil {
		return "", 0, err
	}
	kind, every := Encode(p)
	return kind, every, nil
}

// Decode parses a persisted period.
func Decode(kind string, every int) (domain.Period, error) {
	var k domain.PeriodKind
	switch kind {
	case TokenMonth:
		k = domain.PeriodMonth
	case TokenYear:
		k = domain.PeriodYear
	default:
		return domain.Period{}, fmt.Errorf("decode period: %w: %q", domain.ErrInvalidPeriodKind, kind)
	}
	if every < 1 || every > domain.MaxPeriodEvery {
		return domain.Period{}, fmt.Errorf("decode period: %w: %d", domain.ErrInvalidPeriodEvery, every)
	}
	return domain.Period{Kind: k, Every: every}, nil
}
