package repository

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-login/pkg/domain"
)

// MemoryAccountStore keeps accounts in process memory. Used for local
// development and tests.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*domain.Account
}

// NewMemoryAccountStore creates an empty in-memory account store.
func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[uuid.UUID]*domain.Account)}
}

// Create inserts a new account. Email and name must be unique.
func (s *MemoryAccountStore) Create(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	if !account.ValidHashIterations() {
		return nil, domain.ErrInvalidHashIterations
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if strings.EqualFold(existing.Email, account.Email) || (account.Name != "" && existing.Name == account.Name) {
			return nil, domain.ErrAccountExists
		}
	}

	created := account.Clone()
	if created.ID == uuid.Nil {
		created.ID = uuid.New()
	}
	now := time.Now()
	created.CreatedAt = now
	created.UpdatedAt = now
	s.accounts[created.ID] = created
	return created.Clone(), nil
}

// Find retrieves an account by email, name or authentication token.
func (s *MemoryAccountStore) Find(ctx context.Context, field domain.AccountField, value string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		var match bool
		switch field {
		case domain.FieldEmail:
			match = strings.EqualFold(a.Email, value)
		case domain.FieldName:
			match = a.Name == value
		case domain.FieldAuthenticationToken:
			match = a.AuthenticationToken != nil && *a.AuthenticationToken == value
		default:
			return nil, fmt.Errorf("unsupported lookup field %q", field)
		}
		if match {
			return a.Clone(), nil
		}
	}
	return nil, domain.ErrAccountNotFound
}

// Update persists the login tracking fields of account.
func (s *MemoryAccountStore) Update(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.accounts[account.ID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	if token := account.Token(); token != "" {
		for id, other := range s.accounts {
			if id != account.ID && other.Token() == token {
				return nil, fmt.Errorf("authentication token collision")
			}
		}
	}

	stored.FailedLoginAttempts = account.FailedLoginAttempts
	stored.AccountLocked = account.AccountLocked
	stored.AccountLockedUntil = account.AccountLockedUntil
	stored.PreviousLoginTime = account.PreviousLoginTime
	stored.PreviousLoginIP = account.PreviousLoginIP
	stored.CurrentLoginTime = account.CurrentLoginTime
	stored.CurrentLoginIP = account.CurrentLoginIP
	stored.AuthenticationToken = account.AuthenticationToken
	stored.UpdatedAt = time.Now()
	return stored.Clone(), nil
}
