package auth

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCodec(t *testing.T, secret string, clock *fakeClock, opts ...CodecOption) *Codec {
	t.Helper()
	opts = append([]CodecOption{WithClock(clock.Now), WithIssuer("prodtrack-test")}, opts...)
	c, err := NewCodec(secret, opts...)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestCodecIssueAndParse(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, "test-secret", clock)

	token, exp, err := codec.Issue(Subject{Username: "alice", AccountID: "acc-1", Roles: []string{"Supervisor", "operator", "supervisor"}}, 30*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(clock.now.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", exp)
	}

	clock.Advance(29*time.Minute + 59*time.Second)
	claims, err := codec.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Username() != "alice" || claims.AccountID != "acc-1" {
		t.Fatalf("unexpected identity %q/%q", claims.Username(), claims.AccountID)
	}
	if !slices.Equal(claims.Roles, []string{"supervisor", "operator"}) {
		t.Fatalf("unexpected roles %v", claims.Roles)
	}
	if claims.Issuer != "prodtrack-test" || claims.ID == "" {
		t.Fatalf("registered claims missing: %+v", claims.RegisteredClaims)
	}
}

func TestCodecExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, "test-secret", clock)

	token, _, err := codec.Issue(Subject{Username: "alice"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock.Advance(time.Minute)
	_, err = codec.Parse(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired at expiry instant, got %v", err)
	}
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expiry must collapse to ErrUnauthenticated, got %v", err)
	}
}

func TestCodecSubSecondClock(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 900_000_000, time.UTC)}
	codec := newTestCodec(t, "test-secret", clock)

	token, exp, err := codec.Issue(Subject{Username: "alice"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := time.Date(2026, 3, 1, 8, 1, 0, 0, time.UTC); !exp.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, exp)
	}

	clock.now = time.Date(2026, 3, 1, 8, 0, 59, 400_000_000, time.UTC)
	claims, err := codec.Parse(token)
	if err != nil {
		t.Fatalf("Parse before expiry: %v", err)
	}
	if got := claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time); got != time.Minute {
		t.Fatalf("expected exp-iat of 1m, got %v", got)
	}

	clock.now = exp
	if _, err := codec.Parse(token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired at expiry, got %v", err)
	}
}

func TestCodecDefaultTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, "test-secret", clock)
	if codec.TTL() != DefaultTokenTTL {
		t.Fatalf("unexpected default ttl %v", codec.TTL())
	}
	_, exp, err := codec.Issue(Subject{Username: "alice"}, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(clock.now.Add(30 * time.Minute)) {
		t.Fatalf("expected 30 minute default, got %v", exp.Sub(clock.now))
	}
}

func TestCodecRejectsForeignSecret(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	issuer := newTestCodec(t, "secret-a", clock)
	verifier := newTestCodec(t, "secret-b", clock)

	token, _, err := issuer.Issue(Subject{Username: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Parse(token); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestCodecRejectsAlgorithmSwitch(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	hs512 := newTestCodec(t, "test-secret", clock, WithSigningAlgorithm("HS512"))
	hs256 := newTestCodec(t, "test-secret", clock)

	token, _, err := hs512.Issue(Subject{Username: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := hs256.Parse(token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected rejection of HS512 token by HS256 codec, got %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "alice",
		"exp": clock.now.Add(time.Hour).Unix(),
		"iss": "prodtrack-test",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := hs256.Parse(none); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected alg=none to be rejected, got %v", err)
	}
}

func TestCodecMalformed(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	codec := newTestCodec(t, "test-secret", clock)

	for _, raw := range []string{"", "   ", "not-a-token", "a.b.c"} {
		_, err := codec.Parse(raw)
		if !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("Parse(%q): expected ErrMalformedToken, got %v", raw, err)
		}
	}

	// signed correctly but without a subject
	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": clock.now.Add(time.Hour).Unix(),
		"iss": "prodtrack-test",
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := codec.Parse(noSub); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken for missing subject, got %v", err)
	}

	// no expiry at all
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"iss": "prodtrack-test",
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := codec.Parse(noExp); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected rejection without exp, got %v", err)
	}
}

func TestNewCodecRequiresSecret(t *testing.T) {
	if _, err := NewCodec("  "); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	if _, err := NewCodec("s", WithSigningAlgorithm("RS256")); err == nil {
		t.Fatal("expected unsupported algorithm error")
	}
	codec, err := NewCodec("s")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	if _, _, err := codec.Issue(Subject{Username: " "}, time.Minute); err == nil || !strings.Contains(err.Error(), "subject") {
		t.Fatalf("expected subject error, got %v", err)
	}
}
