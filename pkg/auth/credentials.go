package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tendant/simple-idm-login/pkg/domain"
)

// dummySalt feeds the throwaway hash computed for unknown accounts so that
// every rejection before the lock check costs one hash.
const dummySalt = "c2ltcGxlLWlkbS1sb2dpbg"

// CredentialResult is the outcome of a password check.
type CredentialResult struct {
	Account *domain.Account
	Correct bool
}

// CredentialVerifier resolves an account and checks its password.
type CredentialVerifier struct {
	accounts AccountStore
	hasher   HashVerifier
	now      func() time.Time
}

// NewCredentialVerifier creates a new credential verifier.
func NewCredentialVerifier(accounts AccountStore, hasher HashVerifier) *CredentialVerifier {
	return &CredentialVerifier{
		accounts: accounts,
		hasher:   hasher,
		now:      time.Now,
	}
}

// LookupField classifies identifier as an email or a name.
func LookupField(identifier string) (domain.AccountField, string) {
	identifier = SanitizeIdentifier(identifier)
	if IsEmail(identifier) {
		return domain.FieldEmail, NormalizeEmail(identifier)
	}
	return domain.FieldName, identifier
}

// Verify checks identifier and password.
//
// Returns domain.ErrAccountNotFound, domain.ErrEmailNotVerified or
// domain.ErrAccountLocked for rejected lookups. A wrong password is not an
// error: the result carries Correct=false and the account to update.
func (v *CredentialVerifier) Verify(ctx context.Context, identifier, password string) (*CredentialResult, error) {
	field, value := LookupField(identifier)

	account, err := v.accounts.Find(ctx, field, value)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			_, _ = v.hasher.Hash(password, dummySalt, nil)
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}

	if !account.EmailVerified {
		_, _ = v.hasher.Hash(password, account.PasswordSalt, account.HashIterations)
		return &CredentialResult{Account: account}, domain.ErrEmailNotVerified
	}

	if IsLocked(account, v.now()) {
		return &CredentialResult{Account: account}, domain.ErrAccountLocked
	}

	digest, err := v.hasher.Hash(password, account.PasswordSalt, account.HashIterations)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	return &CredentialResult{
		Account: account,
		Correct: constantTimeCompare(digest, account.PasswordHash),
	}, nil
}
