// Package clock is the time source consumed by the token verifier and the
// idempotency layer.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

// Func adapts an ordinary function to Clock.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }
