// Package account is the boundary to the Account and Billing services.
// Authorization happens once here, at the boundary, instead of per handler.
package account

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrUnauthorized rejects requests whose credentials the Account service
// does not recognize.
var ErrUnauthorized = errors.New("unauthorized")

// Accounts resolves a request credential to the owning account.
type Accounts interface {
	Authorize(ctx context.Context, token string) (uuid.UUID, error)
}

// Billing reports subscription limits. RemainingStorage is consulted before
// a batch is accepted.
type Billing interface {
	RemainingStorage(ctx context.Context, accountID uuid.UUID) (int64, error)
}

// Static is a fixed-account implementation for single-tenant deployments and
// tests: any non-empty token maps to the configured account, which holds the
// configured amount of free storage.
type Static struct {
	AccountID uuid.UUID
	FreeBytes int64
}

var (
	_ Accounts = (*Static)(nil)
	_ Billing  = (*Static)(nil)
)

func (s *Static) Authorize(_ context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, ErrUnauthorized
	}
	return s.AccountID, nil
}

func (s *Static) RemainingStorage(_ context.Context, _ uuid.UUID) (int64, error) {
	return s.FreeBytes, nil
}
