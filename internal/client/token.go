package client

import (
	"context"
	"errors"
)

// ErrNoToken is returned when no bearer token can be resolved
var ErrNoToken = errors.New("no bearer token available")

// TokenSource yields a bearer token for the current identity. Token blocks
// until the identity is resolved.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type tokenKey struct{}

// WithToken returns a context carrying the caller's bearer token
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the bearer token carried by ctx
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey{}).(string)
	return token, ok && token != ""
}

// ContextTokenSource forwards the token of the incoming request
type ContextTokenSource struct{}

// Token implements TokenSource
func (ContextTokenSource) Token(ctx context.Context) (string, error) {
	if token, ok := TokenFromContext(ctx); ok {
		return token, nil
	}
	return "", ErrNoToken
}

// StaticTokenSource always returns the same token
type StaticTokenSource string

// Token implements TokenSource
func (s StaticTokenSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}
