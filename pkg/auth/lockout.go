package auth

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-login/pkg/domain"
)

// Default lockout settings.
const (
	DefaultLockThreshold = 5
	DefaultWarnThreshold = 3
	DefaultLockDuration  = 20 * time.Minute
)

// User-facing credential messages.
const (
	MsgMissingCredentials = "Please enter your email/username and password"
	MsgInvalidCredentials = "Invalid user or password"
	MsgLockWarning        = "Invalid user or password. Your account will be locked soon."
	MsgAccountLocked      = "The account is temporarily locked"
	MsgNotVerified        = "Your account has not been verified yet. Please check your email."
)

// LockoutConfig controls the failed login policy.
type LockoutConfig struct {
	LockThreshold int
	WarnThreshold int
	LockDuration  time.Duration
}

// withDefaults fills zero values.
func (c LockoutConfig) withDefaults() LockoutConfig {
	if c.LockThreshold <= 0 {
		c.LockThreshold = DefaultLockThreshold
	}
	if c.WarnThreshold <= 0 {
		c.WarnThreshold = DefaultWarnThreshold
	}
	if c.LockDuration <= 0 {
		c.LockDuration = DefaultLockDuration
	}
	return c
}

// IsLocked reports whether the account is inside an active lock window.
// An expired lock is treated as unlocked; the flags are cleared by OnSuccess.
func IsLocked(account *domain.Account, now time.Time) bool {
	if !account.AccountLocked || account.AccountLockedUntil == nil {
		return false
	}
	return account.AccountLockedUntil.After(now)
}

// OnFailure records a wrong password on the account and returns the
// message to show the user.
func OnFailure(account *domain.Account, cfg LockoutConfig, now time.Time) string {
	cfg = cfg.withDefaults()

	account.FailedLoginAttempts++

	switch {
	case account.FailedLoginAttempts >= cfg.LockThreshold:
		until := now.Add(cfg.LockDuration)
		account.AccountLocked = true
		account.AccountLockedUntil = &until
		return fmt.Sprintf("Invalid user or password. Your account is now locked for %s", HumanizeDuration(cfg.LockDuration))
	case account.FailedLoginAttempts >= cfg.WarnThreshold:
		return MsgLockWarning
	default:
		return MsgInvalidCredentials
	}
}

// OnSuccess records a completed login. The authentication token is only
// minted when the account has none.
func OnSuccess(account *domain.Account, now time.Time, clientIP string) {
	account.PreviousLoginTime = account.CurrentLoginTime
	account.PreviousLoginIP = account.CurrentLoginIP

	t := now
	account.CurrentLoginTime = &t
	account.CurrentLoginIP = clientIP

	account.FailedLoginAttempts = 0
	account.AccountLocked = false
	account.AccountLockedUntil = nil

	if account.AuthenticationToken == nil || *account.AuthenticationToken == "" {
		token := uuid.NewString()
		account.AuthenticationToken = &token
	}
}

// HumanizeDuration renders durations like "20 minutes" or "1 hour 30 minutes".
func HumanizeDuration(d time.Duration) string {
	if d < time.Minute {
		return plural(int(d.Seconds()), "second")
	}

	h := int(d.Hours())
	m := int(d.Minutes()) % 60

	switch {
	case h == 0:
		return plural(m, "minute")
	case m == 0:
		return plural(h, "hour")
	default:
		return plural(h, "hour") + " " + plural(m, "minute")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
