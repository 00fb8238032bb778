package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tendant/simple-idm-login/pkg/domain"
)

type loginFixture struct {
	accounts *memAccounts
	sessions *memSessions
	hasher   *plainHasher
	manager  *SessionManager
	service  *LoginService
	events   []Event
	now      time.Time
}

func newLoginFixture(t *testing.T, accounts ...*domain.Account) *loginFixture {
	t.Helper()

	f := &loginFixture{
		accounts: newMemAccounts(accounts...),
		sessions: newMemSessions(),
		hasher:   &plainHasher{},
		now:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	credentials := NewCredentialVerifier(f.accounts, f.hasher)
	credentials.now = clock

	f.manager = NewSessionManager(SessionConfig{}, f.sessions, f.accounts)
	gate := NewTwoFactorGate(f.accounts, fixedCodes{code: "123456", secret: "KEY"})

	bus := NewEventBus(nil)
	record := func(ctx context.Context, e Event) { f.events = append(f.events, e) }
	bus.Subscribe(EventLogin, record)
	bus.Subscribe(EventLogout, record)

	f.service = NewLoginService(LoginConfig{HandleResponse: true}, nil, f.accounts, credentials, gate, f.manager, bus)
	f.service.now = clock
	return f
}

func (f *loginFixture) login(t *testing.T, identifier, password string) *Outcome {
	t.Helper()
	out, err := f.service.Login(context.Background(), LoginRequest{
		Identifier: identifier,
		Password:   password,
		ClientIP:   "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	return out
}

func TestLogin_Success(t *testing.T) {
	account := testAccount("alice", "alice@example.com")
	account.FailedLoginAttempts = 2
	f := newLoginFixture(t, account)

	out, err := f.service.Login(context.Background(), LoginRequest{
		Identifier: "alice@example.com",
		Password:   "secret",
		Redirect:   "/dashboard",
		ClientIP:   "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if out.Kind != OutcomeSignedIn {
		t.Fatalf("Kind = %v, want %v", out.Kind, OutcomeSignedIn)
	}
	if out.Redirect != "/dashboard" {
		t.Errorf("Redirect = %q", out.Redirect)
	}
	if !out.HandleResponse {
		t.Error("HandleResponse should follow config")
	}

	stored := f.accounts.get(account.ID)
	if stored.FailedLoginAttempts != 0 || stored.AccountLocked {
		t.Errorf("counters not reset: %+v", stored)
	}
	if stored.Token() == "" || stored.Token() != out.Account.Token() {
		t.Errorf("token = %q, outcome token = %q", stored.Token(), out.Account.Token())
	}
	if stored.CurrentLoginIP != "10.0.0.1" {
		t.Errorf("CurrentLoginIP = %q", stored.CurrentLoginIP)
	}

	session, err := f.manager.Get(context.Background(), out.SessionID)
	if err != nil {
		t.Fatalf("session not created: %v", err)
	}
	if !session.LoggedIn || session.FailedLoginAttempts != 2 {
		t.Errorf("unexpected session: %+v", session)
	}

	if len(f.events) != 1 || f.events[0].Type != EventLogin || f.events[0].Redirect != "/dashboard" {
		t.Errorf("events = %+v", f.events)
	}
}

func TestLogin_DefaultRedirect(t *testing.T) {
	f := newLoginFixture(t, testAccount("alice", "alice@example.com"))

	out := f.login(t, "alice", "secret")
	if out.Redirect != "/" {
		t.Errorf("Redirect = %q, want /", out.Redirect)
	}
}

func TestLogin_ReplacesExistingSession(t *testing.T) {
	f := newLoginFixture(t, testAccount("alice", "alice@example.com"))
	ctx := context.Background()

	old, _ := f.manager.BeginPending(ctx, "", "someone@example.com")

	out, err := f.service.Login(ctx, LoginRequest{Identifier: "alice", Password: "secret", SessionID: old})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if out.SessionID == old {
		t.Error("session id must change on login")
	}
	if f.sessions.len() != 1 {
		t.Errorf("sessions = %d, want 1", f.sessions.len())
	}
}

func TestLogin_MissingCredentials(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		password   string
	}{
		{name: "missing password", identifier: "alice"},
		{name: "missing identifier", password: "secret"},
		{name: "blank identifier", identifier: "   ", password: "secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLoginFixture(t, testAccount("alice", "alice@example.com"))

			out := f.login(t, tt.identifier, tt.password)

			if out.Kind != OutcomeRejected || !errors.Is(out.Err, domain.ErrValidation) {
				t.Fatalf("outcome = %+v", out)
			}
			if out.Message != MsgMissingCredentials {
				t.Errorf("Message = %q", out.Message)
			}
			if f.accounts.finds != 0 || f.accounts.updates != 0 {
				t.Errorf("store touched: finds=%d updates=%d", f.accounts.finds, f.accounts.updates)
			}
			if f.hasher.count() != 0 {
				t.Error("password was hashed")
			}
		})
	}
}

func TestLogin_UnknownAccount(t *testing.T) {
	f := newLoginFixture(t)

	out := f.login(t, "ghost", "secret")

	if out.Kind != OutcomeRejected || !errors.Is(out.Err, domain.ErrAccountNotFound) {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Message != MsgInvalidCredentials {
		t.Errorf("Message = %q", out.Message)
	}
	if out.Identifier != "ghost" {
		t.Errorf("Identifier = %q", out.Identifier)
	}
}

func TestLogin_Unverified(t *testing.T) {
	account := testAccount("bob", "bob@example.com")
	account.EmailVerified = false
	account.FailedLoginAttempts = 1
	f := newLoginFixture(t, account)

	out := f.login(t, "bob@example.com", "secret")

	if out.Kind != OutcomeRejected || !errors.Is(out.Err, domain.ErrEmailNotVerified) {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Message != MsgNotVerified {
		t.Errorf("Message = %q", out.Message)
	}
	if stored := f.accounts.get(account.ID); stored.FailedLoginAttempts != 1 {
		t.Errorf("FailedLoginAttempts = %d, want 1", stored.FailedLoginAttempts)
	}
	if f.accounts.updates != 0 {
		t.Errorf("updates = %d, want 0", f.accounts.updates)
	}
}

func TestLogin_WrongPasswordLocksAccount(t *testing.T) {
	account := testAccount("a", "a@b.com")
	account.FailedLoginAttempts = 4
	f := newLoginFixture(t, account)

	out := f.login(t, "a@b.com", "wrong")

	if out.Kind != OutcomeRejected || !errors.Is(out.Err, domain.ErrIncorrectPassword) {
		t.Fatalf("outcome = %+v", out)
	}
	if !out.Locked {
		t.Error("expected Locked to be set")
	}
	if !strings.Contains(out.Message, "20 minutes") {
		t.Errorf("Message = %q, want lock duration", out.Message)
	}

	stored := f.accounts.get(account.ID)
	if stored.FailedLoginAttempts != 5 {
		t.Errorf("FailedLoginAttempts = %d, want 5", stored.FailedLoginAttempts)
	}
	if !stored.AccountLocked || stored.AccountLockedUntil == nil || !stored.AccountLockedUntil.Equal(f.now.Add(DefaultLockDuration)) {
		t.Errorf("lock state = %v %v", stored.AccountLocked, stored.AccountLockedUntil)
	}
	if len(f.events) != 0 {
		t.Errorf("unexpected events: %+v", f.events)
	}
}

func TestLogin_WrongPasswordMessages(t *testing.T) {
	account := testAccount("alice", "alice@example.com")
	f := newLoginFixture(t, account)

	want := []string{MsgInvalidCredentials, MsgInvalidCredentials, MsgLockWarning, MsgLockWarning}
	for i, msg := range want {
		out := f.login(t, "alice", "wrong")
		if out.Message != msg {
			t.Errorf("attempt %d: Message = %q, want %q", i+1, out.Message, msg)
		}
		if got := f.accounts.get(account.ID).FailedLoginAttempts; got != i+1 {
			t.Errorf("attempt %d: FailedLoginAttempts = %d", i+1, got)
		}
	}
}

func TestLogin_LockedRejectsCorrectPassword(t *testing.T) {
	account := testAccount("alice", "alice@example.com")
	f := newLoginFixture(t, account)

	for i := 0; i < DefaultLockThreshold; i++ {
		f.login(t, "alice", "wrong")
	}
	updates := f.accounts.updates
	hashes := f.hasher.count()

	f.now = f.now.Add(DefaultLockDuration - time.Second)
	out := f.login(t, "alice", "secret")

	if out.Kind != OutcomeRejected || !errors.Is(out.Err, domain.ErrAccountLocked) {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Message != MsgAccountLocked {
		t.Errorf("Message = %q", out.Message)
	}
	if f.accounts.updates != updates {
		t.Error("locked attempt must not touch counters")
	}
	if f.hasher.count() != hashes {
		t.Error("locked attempt must not hash")
	}
	if got := f.accounts.get(account.ID).FailedLoginAttempts; got != DefaultLockThreshold {
		t.Errorf("FailedLoginAttempts = %d", got)
	}
}

func TestLogin_SucceedsAfterLockExpires(t *testing.T) {
	account := testAccount("alice", "alice@example.com")
	f := newLoginFixture(t, account)

	for i := 0; i < DefaultLockThreshold; i++ {
		f.login(t, "alice", "wrong")
	}

	f.now = f.now.Add(DefaultLockDuration + time.Second)
	out := f.login(t, "alice", "secret")

	if out.Kind != OutcomeSignedIn {
		t.Fatalf("Kind = %v, want %v", out.Kind, OutcomeSignedIn)
	}
	stored := f.accounts.get(account.ID)
	if stored.FailedLoginAttempts != 0 || stored.AccountLocked || stored.AccountLockedUntil != nil {
		t.Errorf("lock state not cleared: %+v", stored)
	}
}

func TestLogin_TokenIsStable(t *testing.T) {
	account := testAccount("alice", "alice@example.com")
	f := newLoginFixture(t, account)

	first := f.login(t, "alice", "secret")
	token := first.Account.Token()
	if token == "" {
		t.Fatal("expected a token on first login")
	}

	second := f.login(t, "alice", "secret")
	if second.Account.Token() != token {
		t.Errorf("token changed from %q to %q", token, second.Account.Token())
	}
}

func TestLogin_StoreErrors(t *testing.T) {
	t.Run("find", func(t *testing.T) {
		f := newLoginFixture(t, testAccount("alice", "alice@example.com"))
		f.accounts.findErr = errStoreDown

		_, err := f.service.Login(context.Background(), LoginRequest{Identifier: "alice", Password: "secret"})
		if !errors.Is(err, errStoreDown) {
			t.Fatalf("Login() error = %v, want %v", err, errStoreDown)
		}
	})

	t.Run("update after failure", func(t *testing.T) {
		f := newLoginFixture(t, testAccount("alice", "alice@example.com"))
		f.accounts.updateErr = errStoreDown

		_, err := f.service.Login(context.Background(), LoginRequest{Identifier: "alice", Password: "wrong"})
		if !errors.Is(err, errStoreDown) {
			t.Fatalf("Login() error = %v, want %v", err, errStoreDown)
		}
	})

	t.Run("update after success", func(t *testing.T) {
		f := newLoginFixture(t, testAccount("alice", "alice@example.com"))
		f.accounts.updateErr = errStoreDown

		_, err := f.service.Login(context.Background(), LoginRequest{Identifier: "alice", Password: "secret"})
		if !errors.Is(err, errStoreDown) {
			t.Fatalf("Login() error = %v, want %v", err, errStoreDown)
		}
		if f.sessions.len() != 0 {
			t.Error("no session may be created when the account update fails")
		}
	})
}

func twoFactorAccount() *domain.Account {
	account := testAccount("alice", "alice@example.com")
	account.TwoFactorEnabled = true
	account.TwoFactorKey = strPtr("KEY")
	account.FailedLoginAttempts = 1
	return account
}

func TestLogin_TwoFactorRequired(t *testing.T) {
	account := twoFactorAccount()
	f := newLoginFixture(t, account)

	out := f.login(t, "alice", "secret")

	if out.Kind != OutcomeTwoFactorRequired {
		t.Fatalf("Kind = %v, want %v", out.Kind, OutcomeTwoFactorRequired)
	}

	session, err := f.manager.Get(context.Background(), out.SessionID)
	if err != nil {
		t.Fatalf("pending session missing: %v", err)
	}
	if session.LoggedIn {
		t.Error("session must not be logged in before the second factor")
	}
	if session.PendingEmail != "alice@example.com" {
		t.Errorf("PendingEmail = %q", session.PendingEmail)
	}

	stored := f.accounts.get(account.ID)
	if stored.FailedLoginAttempts != 1 || stored.Token() != "" {
		t.Errorf("account changed before second factor: %+v", stored)
	}
	if len(f.events) != 0 {
		t.Errorf("unexpected events: %+v", f.events)
	}
}

func TestCompleteTwoFactor_Success(t *testing.T) {
	account := twoFactorAccount()
	f := newLoginFixture(t, account)
	ctx := context.Background()

	pending := f.login(t, "alice", "secret")

	out, err := f.service.CompleteTwoFactor(ctx, TwoFactorRequest{
		SessionID: pending.SessionID,
		Code:      "123456",
		Redirect:  "/home",
		ClientIP:  "10.0.0.9",
	})
	if err != nil {
		t.Fatalf("CompleteTwoFactor() error = %v", err)
	}

	if out.Kind != OutcomeSignedIn {
		t.Fatalf("Kind = %v, want %v", out.Kind, OutcomeSignedIn)
	}
	if out.SessionID == pending.SessionID {
		t.Error("session id must change after the second factor")
	}
	if _, err := f.manager.Get(ctx, pending.SessionID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Error("pending session must be gone")
	}

	session, err := f.manager.Get(ctx, out.SessionID)
	if err != nil || !session.LoggedIn {
		t.Fatalf("full session = %+v, err = %v", session, err)
	}

	stored := f.accounts.get(account.ID)
	if stored.FailedLoginAttempts != 0 || stored.Token() == "" || stored.CurrentLoginIP != "10.0.0.9" {
		t.Errorf("account not updated on sign in: %+v", stored)
	}
	if len(f.events) != 1 || f.events[0].Type != EventLogin || f.events[0].Redirect != "/home" {
		t.Errorf("events = %+v", f.events)
	}
}

func TestCompleteTwoFactor_InvalidCode(t *testing.T) {
	account := twoFactorAccount()
	f := newLoginFixture(t, account)
	ctx := context.Background()

	pending := f.login(t, "alice", "secret")

	out, err := f.service.CompleteTwoFactor(ctx, TwoFactorRequest{
		SessionID: pending.SessionID,
		Code:      "000000",
		Redirect:  "/home",
	})
	if err != nil {
		t.Fatalf("CompleteTwoFactor() error = %v", err)
	}

	if out.Kind != OutcomeTwoFactorRejected || !errors.Is(out.Err, domain.ErrTwoFactorRejected) {
		t.Fatalf("outcome = %+v", out)
	}
	if !out.ClearSession {
		t.Error("expected the client session to be cleared")
	}
	if out.Redirect != "/home" {
		t.Errorf("Redirect = %q", out.Redirect)
	}
	if f.sessions.len() != 0 {
		t.Errorf("sessions = %d, want 0", f.sessions.len())
	}
	if len(f.events) != 0 {
		t.Errorf("unexpected events: %+v", f.events)
	}

	// The destroyed pending session cannot be reused with the right code.
	out, err = f.service.CompleteTwoFactor(ctx, TwoFactorRequest{SessionID: pending.SessionID, Code: "123456"})
	if err != nil {
		t.Fatalf("CompleteTwoFactor() error = %v", err)
	}
	if out.Kind != OutcomeTwoFactorRejected || !errors.Is(out.Err, domain.ErrNoPendingLogin) {
		t.Errorf("outcome = %+v", out)
	}
}

func TestCompleteTwoFactor_NoPendingSession(t *testing.T) {
	f := newLoginFixture(t, twoFactorAccount())
	ctx := context.Background()

	signedIn, err := f.manager.Establish(ctx, "", twoFactorAccount(), 0)
	if err != nil {
		t.Fatalf("Establish() error = %v", err)
	}

	out, err := f.service.CompleteTwoFactor(ctx, TwoFactorRequest{SessionID: signedIn, Code: "123456"})
	if err != nil {
		t.Fatalf("CompleteTwoFactor() error = %v", err)
	}
	if out.Kind != OutcomeTwoFactorRejected {
		t.Errorf("Kind = %v, want %v", out.Kind, OutcomeTwoFactorRejected)
	}
}

func TestLogout_BySession(t *testing.T) {
	account := testAccount("alice", "alice@example.com")
	f := newLoginFixture(t, account)
	ctx := context.Background()

	signedIn := f.login(t, "alice", "secret")
	token := f.accounts.get(account.ID).Token()
	f.events = nil

	out, err := f.service.Logout(ctx, LogoutRequest{SessionID: signedIn.SessionID})
	if err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if out.Kind != OutcomeLoggedOut || out.LogoutMethod != LogoutMethodSession || !out.ClearSession {
		t.Fatalf("outcome = %+v", out)
	}
	if f.sessions.len() != 0 {
		t.Error("session not destroyed")
	}
	if got := f.accounts.get(account.ID).Token(); got != token {
		t.Errorf("token changed on session logout: %q -> %q", token, got)
	}
	if len(f.events) != 1 || f.events[0].Type != EventLogout || f.events[0].Account.Email != "alice@example.com" {
		t.Errorf("events = %+v", f.events)
	}
}

func TestLogout_ByToken(t *testing.T) {
	account := testAccount("alice", "alice@example.com")
	f := newLoginFixture(t, account)
	ctx := context.Background()

	signedIn := f.login(t, "alice", "secret")
	token := signedIn.Account.Token()
	f.events = nil

	out, err := f.service.Logout(ctx, LogoutRequest{BearerToken: token})
	if err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if out.Kind != OutcomeLoggedOut || out.LogoutMethod != LogoutMethodToken || out.ClearSession {
		t.Fatalf("outcome = %+v", out)
	}
	if f.accounts.get(account.ID).AuthenticationToken != nil {
		t.Error("token not cleared")
	}
	if f.sessions.len() != 1 {
		t.Error("session must survive token logout")
	}
	if len(f.events) != 1 || f.events[0].Method != LogoutMethodToken {
		t.Errorf("events = %+v", f.events)
	}
}

func TestLogout_TokenTakesPrecedence(t *testing.T) {
	account := testAccount("alice", "alice@example.com")
	f := newLoginFixture(t, account)
	ctx := context.Background()

	signedIn := f.login(t, "alice", "secret")

	out, err := f.service.Logout(ctx, LogoutRequest{
		BearerToken: signedIn.Account.Token(),
		SessionID:   signedIn.SessionID,
	})
	if err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if out.LogoutMethod != LogoutMethodToken {
		t.Errorf("LogoutMethod = %q, want token", out.LogoutMethod)
	}
	if _, err := f.manager.Get(ctx, signedIn.SessionID); err != nil {
		t.Error("session must not be destroyed when a bearer token is present")
	}
}

func TestLogout_UnknownToken(t *testing.T) {
	account := testAccount("alice", "alice@example.com")
	f := newLoginFixture(t, account)
	ctx := context.Background()

	signedIn := f.login(t, "alice", "secret")
	f.events = nil

	out, err := f.service.Logout(ctx, LogoutRequest{BearerToken: "stale", SessionID: signedIn.SessionID})
	if err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	if out.Kind != OutcomeLogoutFailed || !errors.Is(out.Err, domain.ErrTokenNotFound) {
		t.Fatalf("outcome = %+v", out)
	}
	if f.sessions.len() != 1 {
		t.Error("session must not be touched")
	}
	if len(f.events) != 0 {
		t.Errorf("unexpected events: %+v", f.events)
	}
}

func TestLogin_HandleResponseDisabled(t *testing.T) {
	account := testAccount("alice", "alice@example.com")
	f := newLoginFixture(t, account)
	f.service.config.HandleResponse = false

	out := f.login(t, "alice", "secret")
	if out.HandleResponse {
		t.Error("HandleResponse should be false")
	}
	if len(f.events) != 1 {
		t.Errorf("event must still be published, got %d", len(f.events))
	}

	logout, err := f.service.Logout(context.Background(), LogoutRequest{SessionID: out.SessionID})
	if err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if logout.HandleResponse {
		t.Error("HandleResponse should be false on logout")
	}
}

func TestSessionHook_RunsBeforeEvents(t *testing.T) {
	account := testAccount("alice", "alice@example.com")
	f := newLoginFixture(t, account)

	var calls []string
	eventsAtCall := -1
	ctx := WithSessionHook(context.Background(), func(id string) {
		calls = append(calls, id)
		eventsAtCall = len(f.events)
	})

	out, err := f.service.Login(ctx, LoginRequest{Identifier: "alice", Password: "secret"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if len(calls) != 1 || calls[0] != out.SessionID {
		t.Fatalf("hook calls = %v, want [%s]", calls, out.SessionID)
	}
	if eventsAtCall != 0 {
		t.Errorf("hook ran after %d events, want before any", eventsAtCall)
	}

	f.events = nil
	calls = nil
	if _, err := f.service.Logout(ctx, LogoutRequest{SessionID: out.SessionID}); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if len(calls) != 1 || calls[0] != "" {
		t.Errorf("logout hook calls = %q, want one empty id", calls)
	}
	if eventsAtCall != 0 {
		t.Errorf("logout hook ran after %d events", eventsAtCall)
	}

	// Rejections never reach the hook
	calls = nil
	if _, err := f.service.Login(ctx, LoginRequest{Identifier: "alice", Password: "wrong"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if len(calls) != 0 {
		t.Errorf("hook called on rejection: %v", calls)
	}
}

func TestSafeRedirect(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"/dashboard", "/dashboard"},
		{"/a/b?c=d", "/a/b?c=d"},
		{"//evil.com", "/"},
		{"/\\evil.com", "/"},
		{"https://evil.com", "/"},
		{"dashboard", "/"},
		{"javascript:alert(1)", "/"},
	}

	for _, tt := range tests {
		if got := SafeRedirect(tt.in); got != tt.want {
			t.Errorf("SafeRedirect(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
