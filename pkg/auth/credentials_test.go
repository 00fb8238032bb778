package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tendant/simple-idm-login/pkg/domain"
)

func TestLookupField(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		wantField  domain.AccountField
		wantValue  string
	}{
		{
			name:       "email",
			identifier: "alice@example.com",
			wantField:  domain.FieldEmail,
			wantValue:  "alice@example.com",
		},
		{
			name:       "email is normalized",
			identifier: "  Alice@Example.COM ",
			wantField:  domain.FieldEmail,
			wantValue:  "alice@example.com",
		},
		{
			name:       "name",
			identifier: "alice",
			wantField:  domain.FieldName,
			wantValue:  "alice",
		},
		{
			name:       "name keeps case",
			identifier: "Alice",
			wantField:  domain.FieldName,
			wantValue:  "Alice",
		},
		{
			name:       "control characters stripped",
			identifier: "alice\r\n",
			wantField:  domain.FieldName,
			wantValue:  "alice",
		},
		{
			name:       "at sign without domain",
			identifier: "alice@",
			wantField:  domain.FieldName,
			wantValue:  "alice@",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field, value := LookupField(tt.identifier)
			if field != tt.wantField || value != tt.wantValue {
				t.Errorf("LookupField(%q) = (%q, %q), want (%q, %q)", tt.identifier, field, value, tt.wantField, tt.wantValue)
			}
		})
	}
}

func TestCredentialVerifier_Verify(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(10 * time.Minute)
	past := now.Add(-10 * time.Minute)

	verified := testAccount("alice", "alice@example.com")

	unverified := testAccount("bob", "bob@example.com")
	unverified.EmailVerified = false

	locked := testAccount("carol", "carol@example.com")
	locked.AccountLocked = true
	locked.AccountLockedUntil = &future
	locked.FailedLoginAttempts = 5

	expired := testAccount("dave", "dave@example.com")
	expired.AccountLocked = true
	expired.AccountLockedUntil = &past
	expired.FailedLoginAttempts = 5

	iterated := testAccount("erin", "erin@example.com")
	iterated.HashIterations = intPtr(3)
	iterated.PasswordHash = "salt:secret:3"

	tests := []struct {
		name        string
		identifier  string
		password    string
		wantErr     error
		wantCorrect bool
		wantHashes  int
	}{
		{
			name:        "correct by name",
			identifier:  "alice",
			password:    "secret",
			wantCorrect: true,
			wantHashes:  1,
		},
		{
			name:        "correct by email",
			identifier:  "ALICE@example.com",
			password:    "secret",
			wantCorrect: true,
			wantHashes:  1,
		},
		{
			name:        "wrong password",
			identifier:  "alice",
			password:    "nope",
			wantCorrect: false,
			wantHashes:  1,
		},
		{
			name:       "unknown account still hashes",
			identifier: "nobody",
			password:   "secret",
			wantErr:    domain.ErrAccountNotFound,
			wantHashes: 1,
		},
		{
			name:       "unverified account still hashes",
			identifier: "bob",
			password:   "secret",
			wantErr:    domain.ErrEmailNotVerified,
			wantHashes: 1,
		},
		{
			name:       "locked account skips hash",
			identifier: "carol",
			password:   "secret",
			wantErr:    domain.ErrAccountLocked,
			wantHashes: 0,
		},
		{
			name:        "expired lock is ignored",
			identifier:  "dave",
			password:    "secret",
			wantCorrect: true,
			wantHashes:  1,
		},
		{
			name:        "stored iteration count is used",
			identifier:  "erin",
			password:    "secret",
			wantCorrect: true,
			wantHashes:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hasher := &plainHasher{}
			v := NewCredentialVerifier(newMemAccounts(verified, unverified, locked, expired, iterated), hasher)
			v.now = func() time.Time { return now }

			result, err := v.Verify(context.Background(), tt.identifier, tt.password)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Verify() error = %v, want %v", err, tt.wantErr)
				}
			} else {
				if err != nil {
					t.Fatalf("Verify() unexpected error: %v", err)
				}
				if result.Correct != tt.wantCorrect {
					t.Errorf("Correct = %v, want %v", result.Correct, tt.wantCorrect)
				}
			}

			if got := hasher.count(); got != tt.wantHashes {
				t.Errorf("hash calls = %d, want %d", got, tt.wantHashes)
			}
		})
	}
}

func TestCredentialVerifier_StoreError(t *testing.T) {
	store := newMemAccounts()
	store.findErr = errStoreDown

	v := NewCredentialVerifier(store, &plainHasher{})

	_, err := v.Verify(context.Background(), "alice", "secret")
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("Verify() error = %v, want %v", err, errStoreDown)
	}
	if domain.IsCredentialError(err) {
		t.Error("store failure must not be reported as a credential error")
	}
}

func TestCredentialVerifier_Argon2(t *testing.T) {
	hasher := NewArgon2Hasher()
	hash, salt, err := hashPassword(hasher, "correct horse")
	if err != nil {
		t.Fatalf("hashPassword() error = %v", err)
	}

	account := testAccount("alice", "alice@example.com")
	account.PasswordHash = hash
	account.PasswordSalt = salt

	v := NewCredentialVerifier(newMemAccounts(account), hasher)

	result, err := v.Verify(context.Background(), "alice", "correct horse")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !result.Correct {
		t.Error("expected correct password")
	}

	result, err = v.Verify(context.Background(), "alice", "battery staple")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if result.Correct {
		t.Error("expected incorrect password")
	}
}
