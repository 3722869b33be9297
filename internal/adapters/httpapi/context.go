package httpapi

import (
	"context"

	"github.com/Overland-East-Bay/expense-sources-api/internal/domain"
	"github.com/Overland-East-Bay/expense-sources-api/internal/platform/auth/jwtverifier"
)

type subjectKey struct{}
type claimsKey struct{}

func WithSubject(ctx context.Context, subject domain.SubjectID) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

// WithClaims binds validated claims and their subject to ctx.
func WithClaims(ctx context.Context, c jwtverifier.Claims) context.Context {
	ctx = context.WithValue(ctx, claimsKey{}, c)
	return WithSubject(ctx, domain.SubjectID(c.Subject))
}

func SubjectFromContext(ctx context.Context) (domain.SubjectID, bool) {
	v, ok := ctx.Value(subjectKey{}).(domain.SubjectID)
	return v, ok && v != ""
}

// ClaimsFromContext is only populated in jwt auth mode.
func ClaimsFromContext(ctx context.Context) (jwtverifier.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(jwtverifier.Claims)
	return c, ok
}
