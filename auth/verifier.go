// Package auth resolves bearer tokens into identities. Role claims are
// normalized here, once, so nothing downstream re-derives them.
package auth

import (
	"context"
	"errors"
	"fmt"

	"communitychat/models"
)

var (
	// ErrUnauthenticated is wrapped by every verification failure
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrMissingToken    = fmt.Errorf("%w: missing token", ErrUnauthenticated)
)

// Verifier turns a bearer token into an identity or rejects it
type Verifier interface {
	Verify(ctx context.Context, token string) (models.Identity, error)
}

// VerifierFunc adapts a function to Verifier
type VerifierFunc func(ctx context.Context, token string) (models.Identity, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (models.Identity, error) {
	return f(ctx, token)
}

// Chain tries each verifier in order and returns the first identity
type Chain []Verifier

func (c Chain) Verify(ctx context.Context, token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, ErrMissingToken
	}
	var errs []error
	for _, v := range c {
		id, err := v.Verify(ctx, token)
		if err == nil {
			return id, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return models.Identity{}, fmt.Errorf("%w: no verifier configured", ErrUnauthenticated)
	}
	return models.Identity{}, fmt.Errorf("%w: %w", ErrUnauthenticated, errors.Join(errs...))
}

func reject(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnauthenticated, fmt.Sprintf(format, args...))
}
