// Package auth carries the signed-in identity and the resolved access record
// through a request context.
package auth

import (
	"context"

	"github.com/dukerupert/dayboard/internal/model"
)

type identityKey struct{}
type accessKey struct{}

// Identity is who the session cookie says the caller is. It says nothing
// about what the caller may do.
type Identity struct {
	UserID    int64
	SessionID int64
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func UserID(ctx context.Context) int64 {
	id, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return id.UserID
}

// WithAccess stores the access record the route guard read for this request.
func WithAccess(ctx context.Context, a *model.Access) context.Context {
	return context.WithValue(ctx, accessKey{}, a)
}

func AccessFrom(ctx context.Context) (*model.Access, bool) {
	a, ok := ctx.Value(accessKey{}).(*model.Access)
	return a, ok && a != nil
}

// HouseholdID returns the caller's household, or 0 when the request carries
// no access record or the user has no usable household.
func HouseholdID(ctx context.Context) int64 {
	a, ok := AccessFrom(ctx)
	if !ok || !a.HouseholdReady() {
		return 0
	}
	return *a.HouseholdID
}
