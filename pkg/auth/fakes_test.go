package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-login/pkg/domain"
)

// memAccounts is an in-memory AccountStore for tests.
type memAccounts struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]*domain.Account
	finds     int
	updates   int
	findErr   error
	updateErr error
}

func newMemAccounts(accounts ...*domain.Account) *memAccounts {
	s := &memAccounts{byID: make(map[uuid.UUID]*domain.Account)}
	for _, a := range accounts {
		s.put(a)
	}
	return s
}

func (s *memAccounts) put(a *domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.byID[a.ID] = a.Clone()
}

func (s *memAccounts) get(id uuid.UUID) *domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil
	}
	return a.Clone()
}

func (s *memAccounts) Find(ctx context.Context, field domain.AccountField, value string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, a := range s.byID {
		switch field {
		case domain.FieldEmail:
			if strings.EqualFold(a.Email, value) {
				return a.Clone(), nil
			}
		case domain.FieldName:
			if a.Name == value {
				return a.Clone(), nil
			}
		case domain.FieldAuthenticationToken:
			if a.Token() != "" && a.Token() == value {
				return a.Clone(), nil
			}
		default:
			return nil, fmt.Errorf("unknown field %q", field)
		}
	}
	return nil, domain.ErrAccountNotFound
}

func (s *memAccounts) Update(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	if _, ok := s.byID[account.ID]; !ok {
		return nil, domain.ErrAccountNotFound
	}
	s.updates++
	s.byID[account.ID] = account.Clone()
	return account.Clone(), nil
}

// plainHasher is a fast stand-in for Argon2 that counts calls.
type plainHasher struct {
	mu    sync.Mutex
	calls int
}

func (h *plainHasher) Hash(password, salt string, iterations *int) (string, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	n := 1
	if iterations != nil {
		n = *iterations
	}
	return fmt.Sprintf("%s:%s:%d", salt, password, n), nil
}

func (h *plainHasher) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// fixedCodes accepts a single code for a single secret.
type fixedCodes struct {
	code   string
	secret string
}

func (f fixedCodes) Verify(code, secret string) bool {
	return code != "" && secret != "" && code == f.code && secret == f.secret
}

// memSessions is an in-memory SessionStore for tests.
type memSessions struct {
	mu   sync.Mutex
	data map[string]domain.SessionData
	ttls map[string]time.Duration
}

func newMemSessions() *memSessions {
	return &memSessions{
		data: make(map[string]domain.SessionData),
		ttls: make(map[string]time.Duration),
	}
}

func (s *memSessions) Create(ctx context.Context, data *domain.SessionData, ttl time.Duration) (string, error) {
	id := uuid.NewString()
	return id, s.Write(ctx, id, data, ttl)
}

func (s *memSessions) Read(ctx context.Context, id string) (*domain.SessionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &d, nil
}

func (s *memSessions) Write(ctx context.Context, id string, data *domain.SessionData, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = *data
	s.ttls[id] = ttl
	return nil
}

func (s *memSessions) Destroy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.data, id)
	delete(s.ttls, id)
	return nil
}

func (s *memSessions) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

var errStoreDown = errors.New("store unavailable")

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

// testAccount returns a verified account whose password is "secret".
func testAccount(name, email string) *domain.Account {
	return &domain.Account{
		ID:            uuid.New(),
		Name:          name,
		Email:         email,
		PasswordSalt:  "salt",
		PasswordHash:  "salt:secret:1",
		EmailVerified: true,
	}
}
