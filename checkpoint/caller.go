package checkpoint

import (
	"context"
	"strings"
)

// Caller identifies who is acting and on behalf of which site/company.
// It travels in the request context; nothing in this package keeps
// session state of its own.
type Caller struct {
	ActorID   string
	SiteID    string
	CompanyID string
}

func (c Caller) valid() bool {
	return strings.TrimSpace(c.ActorID) != "" &&
		strings.TrimSpace(c.SiteID) != "" &&
		strings.TrimSpace(c.CompanyID) != ""
}

type callerKey struct{}

// WithCaller returns a copy of ctx carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller carried by ctx, or ErrSessionExpired when
// there is none or it is incomplete.
func CallerFrom(ctx context.Context) (Caller, error) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	if !ok || !c.valid() {
		return Caller{}, ErrSessionExpired
	}
	return c, nil
}

// owns reports whether the ticket belongs to the caller's site and company.
func (c Caller) owns(t Ticket) bool {
	return t.SiteID == c.SiteID && t.CompanyID == c.CompanyID
}
