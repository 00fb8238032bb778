package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-login/pkg/domain"
)

const accountColumns = `
	id, email, name, password_hash, password_salt, hash_iterations, email_verified,
	failed_login_attempts, account_locked, account_locked_until,
	previous_login_time, previous_login_ip, current_login_time, current_login_ip,
	authentication_token, two_factor_enabled, two_factor_key, attributes,
	created_at, updated_at`

// AccountsRepository handles account persistence.
type AccountsRepository struct {
	db *sql.DB
}

// NewAccountsRepository creates a new accounts repository.
func NewAccountsRepository(db *sql.DB) *AccountsRepository {
	return &AccountsRepository{db: db}
}

// Find retrieves an account by email, name or authentication token.
// Emails match case-insensitively.
func (r *AccountsRepository) Find(ctx context.Context, field domain.AccountField, value string) (*domain.Account, error) {
	var where string
	switch field {
	case domain.FieldEmail:
		where = "lower(email) = lower($1)"
	case domain.FieldName:
		where = "name = $1"
	case domain.FieldAuthenticationToken:
		where = "authentication_token = $1"
	default:
		return nil, fmt.Errorf("unsupported lookup field %q", field)
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + where + ` LIMIT 1`
	account, err := scanAccount(r.db.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// Create inserts a new account.
func (r *AccountsRepository) Create(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	if !account.ValidHashIterations() {
		return nil, domain.ErrInvalidHashIterations
	}
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	attrs, err := marshalAttributes(account.Attributes)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	query := `
		INSERT INTO accounts (id, email, name, password_hash, password_salt, hash_iterations,
		                      email_verified, two_factor_enabled, two_factor_key, attributes,
		                      created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING ` + accountColumns

	created, err := scanAccount(r.db.QueryRowContext(ctx, query,
		account.ID, account.Email, account.Name, account.PasswordHash, account.PasswordSalt,
		account.HashIterations, account.EmailVerified, account.TwoFactorEnabled,
		account.TwoFactorKey, attrs, now,
	))
	if isUniqueViolation(err) {
		return nil, domain.ErrAccountExists
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Update persists the login tracking fields of account and returns the
// stored row.
func (r *AccountsRepository) Update(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET failed_login_attempts = $2, account_locked = $3, account_locked_until = $4,
		    previous_login_time = $5, previous_login_ip = $6,
		    current_login_time = $7, current_login_ip = $8,
		    authentication_token = $9, updated_at = $10
		WHERE id = $1
		RETURNING ` + accountColumns

	updated, err := scanAccount(r.db.QueryRowContext(ctx, query,
		account.ID, account.FailedLoginAttempts, account.AccountLocked, account.AccountLockedUntil,
		account.PreviousLoginTime, nullString(account.PreviousLoginIP),
		account.CurrentLoginTime, nullString(account.CurrentLoginIP),
		account.AuthenticationToken, time.Now(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("authentication token collision: %w", err)
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var (
		a              domain.Account
		hashIterations sql.NullInt64
		previousIP     sql.NullString
		currentIP      sql.NullString
		token          sql.NullString
		twoFactorKey   sql.NullString
		attrs          []byte
	)

	err := row.Scan(
		&a.ID, &a.Email, &a.Name, &a.PasswordHash, &a.PasswordSalt, &hashIterations, &a.EmailVerified,
		&a.FailedLoginAttempts, &a.AccountLocked, &a.AccountLockedUntil,
		&a.PreviousLoginTime, &previousIP, &a.CurrentLoginTime, &currentIP,
		&token, &a.TwoFactorEnabled, &twoFactorKey, &attrs,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if hashIterations.Valid {
		n := int(hashIterations.Int64)
		a.HashIterations = &n
	}
	a.PreviousLoginIP = previousIP.String
	a.CurrentLoginIP = currentIP.String
	if token.Valid {
		a.AuthenticationToken = &token.String
	}
	if twoFactorKey.Valid {
		a.TwoFactorKey = &twoFactorKey.String
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &a.Attributes); err != nil {
			return nil, fmt.Errorf("decode account attributes: %w", err)
		}
	}
	return &a, nil
}

func marshalAttributes(attrs map[string]any) ([]byte, error) {
	if len(attrs) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode account attributes: %w", err)
	}
	return b, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
