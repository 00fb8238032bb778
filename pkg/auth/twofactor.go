package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/tendant/simple-idm-login/pkg/domain"
)

// TwoFactorGate checks the second factor for a login that already passed
// the password step.
type TwoFactorGate struct {
	accounts AccountStore
	codes    OneTimeCodeVerifier
}

// NewTwoFactorGate creates a new two-factor gate.
func NewTwoFactorGate(accounts AccountStore, codes OneTimeCodeVerifier) *TwoFactorGate {
	return &TwoFactorGate{
		accounts: accounts,
		codes:    codes,
	}
}

// Complete verifies code for the account behind pendingEmail. A missing
// account is handled like a missing secret: the code is rejected.
func (g *TwoFactorGate) Complete(ctx context.Context, pendingEmail, code string) (*domain.Account, error) {
	account, err := g.accounts.Find(ctx, domain.FieldEmail, pendingEmail)
	if err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, fmt.Errorf("find account: %w", err)
	}

	if !g.codes.Verify(code, account.Secret()) || account == nil {
		return nil, domain.ErrTwoFactorRejected
	}

	return account, nil
}
