package auth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

type contextKey string

const (
	contextKeyIdentity contextKey = "launchpad.identity"
	contextKeyToken    contextKey = "launchpad.token"
)

// WithIdentity attaches the recovered wallet address to ctx.
func WithIdentity(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, addr)
}

// IdentityFromContext returns the wallet address recovered by the Gate.
func IdentityFromContext(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(contextKeyIdentity).(common.Address)
	return addr, ok
}

// WithToken attaches the token address checked by the CreatorGate.
func WithToken(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, contextKeyToken, addr)
}

// TokenFromContext returns the token address authorised by the CreatorGate.
func TokenFromContext(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(contextKeyToken).(common.Address)
	return addr, ok
}
