package auth

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type authFixture struct {
	store  *MemoryStore
	hasher *Hasher
	clock  *fakeClock
	codec  *Codec
	svc    *Service
	logs   *bytes.Buffer
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	clock := &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
	store := NewMemoryStore()
	hasher := newTestHasher(t)
	codec := newTestCodec(t, "test-secret", clock)

	var logs bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&logs)
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.DebugLevel)

	svc, err := NewService(store, codec, WithHasher(hasher), WithLogger(logger))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &authFixture{store: store, hasher: hasher, clock: clock, codec: codec, svc: svc, logs: &logs}
}

func (f *authFixture) seed(t *testing.T, username, password string, status Status, roles ...string) Account {
	t.Helper()
	hash, err := f.hasher.Hash(password)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	acct, err := f.store.Create(context.Background(), Account{
		Username:     username,
		PasswordHash: hash,
		Roles:        roles,
		Status:       status,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return acct
}

func TestLoginIssuesTokenWithStoredRoles(t *testing.T) {
	f := newAuthFixture(t)
	acct := f.seed(t, "alice", "correct-horse", StatusApproved, RoleSupervisor)

	tok, err := f.svc.Login(context.Background(), "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if tok.TokenType != "bearer" || tok.AccessToken == "" {
		t.Fatalf("unexpected token %+v", tok)
	}
	claims, err := f.codec.Parse(tok.AccessToken)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Username() != "alice" || claims.AccountID != acct.ID {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != RoleSupervisor {
		t.Fatalf("unexpected roles %v", claims.Roles)
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newAuthFixture(t)
	f.seed(t, "alice", "correct-horse", StatusApproved, RoleOperator)

	_, errWrong := f.svc.Login(context.Background(), "alice", "battery-staple")
	_, errMissing := f.svc.Login(context.Background(), "mallory", "battery-staple")
	if !errors.Is(errWrong, ErrInvalidCredentials) || !errors.Is(errMissing, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v / %v", errWrong, errMissing)
	}
	if errWrong.Error() != errMissing.Error() {
		t.Fatalf("messages differ: %q vs %q", errWrong, errMissing)
	}
}

func TestLoginRefusesDisabledAccount(t *testing.T) {
	f := newAuthFixture(t)
	acct := f.seed(t, "alice", "correct-horse", StatusApproved, RoleOperator)
	disabled := true
	if _, err := f.store.Update(context.Background(), acct.ID, AccountUpdate{Disabled: &disabled}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := f.svc.Login(context.Background(), "alice", "correct-horse"); !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("expected ErrInactiveAccount, got %v", err)
	}
	if _, err := f.svc.Login(context.Background(), "alice", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password must still be ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateUsesPersistedRoles(t *testing.T) {
	f := newAuthFixture(t)
	acct := f.seed(t, "alice", "correct-horse", StatusApproved, RoleSupervisor)

	tok, err := f.svc.Login(context.Background(), "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	// demote after the token was issued
	if _, err := f.store.Update(context.Background(), acct.ID, AccountUpdate{Roles: []string{RoleOperator}}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	p, err := f.svc.Authenticate(context.Background(), tok.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.HasRole(RoleSupervisor) || !p.HasRole(RoleOperator) {
		t.Fatalf("expected persisted roles, got %v", p.Roles)
	}
	if !strings.Contains(f.logs.String(), "token role claims differ") {
		t.Fatalf("expected role drift warning, logs: %s", f.logs.String())
	}
}

func TestAuthenticateFallsBackToUsername(t *testing.T) {
	f := newAuthFixture(t)
	f.seed(t, "alice", "correct-horse", StatusApproved, RoleOperator)

	token, _, err := f.codec.Issue(Subject{Username: "alice", AccountID: "stale-id"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	p, err := f.svc.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Username() != "alice" {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	f := newAuthFixture(t)
	acct := f.seed(t, "alice", "correct-horse", StatusApproved, RoleOperator)
	tok, err := f.svc.Login(context.Background(), "alice", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := f.svc.Authenticate(context.Background(), "garbage"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for garbage, got %v", err)
	}
	if errors.Is(mustAuthErr(f, "garbage"), ErrMalformedToken) {
		t.Fatal("codec failure kinds must not leak out of Authenticate")
	}

	inactive := false
	if _, err := f.store.Update(context.Background(), acct.ID, AccountUpdate{Active: &inactive}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := f.svc.Authenticate(context.Background(), tok.AccessToken); !errors.Is(err, ErrInactiveAccount) {
		t.Fatalf("expected ErrInactiveAccount, got %v", err)
	}

	ghost, _, err := f.codec.Issue(Subject{Username: "ghost"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := f.svc.Authenticate(context.Background(), ghost); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated for deleted subject, got %v", err)
	}

	f.clock.Advance(time.Hour)
	if _, err := f.svc.Authenticate(context.Background(), tok.AccessToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated after expiry, got %v", err)
	}
	if !strings.Contains(f.logs.String(), `"reason":"expired"`) {
		t.Fatalf("expected expiry reason in debug log, logs: %s", f.logs.String())
	}
}

func mustAuthErr(f *authFixture, token string) error {
	_, err := f.svc.Authenticate(context.Background(), token)
	return err
}

func TestPendingAccountAuthenticatesWithoutRoles(t *testing.T) {
	f := newAuthFixture(t)
	f.seed(t, "sup", "correct-horse", StatusPending, RoleSupervisor)

	tok, err := f.svc.Login(context.Background(), "sup", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	p, err := f.svc.Authenticate(context.Background(), tok.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if _, err := Require(p, RoleSupervisor, RoleOperator); !errors.Is(err, ErrForbidden) {
		t.Fatalf("pending account must not pass role checks, got %v", err)
	}
}

func TestNewServicePreparesTimingHash(t *testing.T) {
	f := newAuthFixture(t)
	if f.svc.dummyHash == "" {
		t.Fatal("expected timing hash to be prepared at construction")
	}
	if !f.hasher.Verify("prodtrack-timing-equalizer", f.svc.dummyHash) {
		t.Fatal("timing hash must be a valid hash for the configured hasher")
	}
}
