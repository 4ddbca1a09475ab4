package authctx

import (
	"context"
	"errors"
)

// ErrNoProvider is returned when the auth accessors are used outside a provider
var ErrNoProvider = errors.New("authctx: must be used within a Provider")

type providerKey struct{}

// WithProvider returns a context carrying p
func WithProvider(ctx context.Context, p *Provider) context.Context {
	return context.WithValue(ctx, providerKey{}, p)
}

// FromContext returns the provider carried by ctx
func FromContext(ctx context.Context) (*Provider, error) {
	p, ok := ctx.Value(providerKey{}).(*Provider)
	if !ok || p == nil {
		return nil, ErrNoProvider
	}
	return p, nil
}
