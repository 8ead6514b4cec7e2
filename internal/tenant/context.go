// Package tenant carries the request scope through a context: the owner the
// call acts for, the WhatsApp instance it arrived on and the request id.
package tenant

import (
	"context"
	"errors"
)

type scopeKey struct{}

type scope struct {
	ownerID   string
	instance  string
	requestID string
}

// ErrOwnerIDNotFound is returned when no owner ID is found in context
var ErrOwnerIDNotFound = errors.New("owner ID not found in context")

func current(ctx context.Context) scope {
	if ctx == nil {
		return scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

func with(ctx context.Context, update func(*scope)) context.Context {
	s := current(ctx)
	update(&s)
	return context.WithValue(ctx, scopeKey{}, s)
}

// WithOwnerID scopes ctx to an owner (user) id.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return with(ctx, func(s *scope) { s.ownerID = ownerID })
}

// OwnerID returns the owner ctx is scoped to.
func OwnerID(ctx context.Context) (string, error) {
	if id := current(ctx).ownerID; id != "" {
		return id, nil
	}
	return "", ErrOwnerIDNotFound
}

// WithInstance records the WhatsApp instance a delivery arrived on.
func WithInstance(ctx context.Context, instance string) context.Context {
	return with(ctx, func(s *scope) { s.instance = instance })
}

// Instance returns the instance name, empty when unset.
func Instance(ctx context.Context) string {
	return current(ctx).instance
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return with(ctx, func(s *scope) { s.requestID = requestID })
}

// RequestID returns the request id, empty when unset.
func RequestID(ctx context.Context) string {
	return current(ctx).requestID
}
