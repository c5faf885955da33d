package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxIdentity ctxKey = iota
	ctxName
	ctxRole
)

func WithIdentity(ctx context.Context, identity, name, role string) context.Context {
	ctx = context.WithValue(ctx, ctxIdentity, identity)
	ctx = context.WithValue(ctx, ctxName, name)
	ctx = context.WithValue(ctx, ctxRole, role)
	return ctx
}

func Identity(ctx context.Context) (string, error) {
	v := ctx.Value(ctxIdentity)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("identity not in context")
}

// Name is optional; empty when the bearer carried none.
func Name(ctx context.Context) string {
	s, _ := ctx.Value(ctxName).(string)
	return s
}

func Role(ctx context.Context) (string, error) {
	v := ctx.Value(ctxRole)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("role not in context")
}

// IsAuthenticated reports whether a verified bearer was attached to ctx.
func IsAuthenticated(ctx context.Context) bool {
	_, err := Identity(ctx)
	return err == nil
}
