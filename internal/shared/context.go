package shared

import "context"

// Identity is the authenticated caller: the firm whose data is in scope and
// the acting user. Every billing read and write is firm-scoped through it.
type Identity struct {
	FirmID int64
	UserID int64
}

type identityContextKey struct{}

// ContextWithIdentity stores the caller identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the caller identity from context. The zero
// Identity means the request was not authenticated.
func IdentityFromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityContextKey{}).(Identity)
	return id
}
