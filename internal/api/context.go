package api

import (
	"context"

	"github.com/bloxchat/bloxchat/internal/types"
)

type contextKey string

const userKey contextKey = "user"

func WithUser(ctx context.Context, u types.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// SessionUser returns the authenticated user attached by the auth
// middleware.
func SessionUser(ctx context.Context) (types.User, bool) {
	u, ok := ctx.Value(userKey).(types.User)
	return u, ok
}
