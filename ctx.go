package auth

import (
	"context"
)

var providerCtxKey = &contextKey{"auth-provider"}

type contextKey struct {
	name string
}

// WithProvider sets the Provider in the given context
func WithProvider(ctx context.Context, p *Provider) context.Context {
	return context.WithValue(ctx, providerCtxKey, p)
}

// ProviderFromContext finds the Provider in the context, failing with
// ErrNoAuthProvider outside a provider scope.
func ProviderFromContext(ctx context.Context) (*Provider, error) {
	if ctx == nil {
		return nil, ErrNoAuthProvider
	}
	p, ok := ctx.Value(providerCtxKey).(*Provider)
	if !ok || p == nil {
		return nil, ErrNoAuthProvider
	}
	return p, nil
}

// MustProvider is ProviderFromContext that panics.
func MustProvider(ctx context.Context) *Provider {
	p, err := ProviderFromContext(ctx)
	if err != nil {
		panic(err)
	}
	return p
}

// UserFromContext returns the signed in user of the provider in ctx.
func UserFromContext(ctx context.Context) (*User, bool) {
	p, err := ProviderFromContext(ctx)
	if err != nil {
		return nil, false
	}
	u := p.User()
	return u, u != nil
}
