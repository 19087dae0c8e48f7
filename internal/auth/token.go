package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultTokenTTL applies when no TTL is configured.
	DefaultTokenTTL = 30 * time.Minute
	// TokenType is reported alongside issued tokens.
	TokenType = "bearer"
)

// Claims is the claim set carried by an access token. The JWT subject is
// the username.
type Claims struct {
	AccountID string   `json:"id,omitempty"`
	Roles     []string `json:"roles"`
	jwt.RegisteredClaims
}

// Username returns the token subject.
func (c *Claims) Username() string {
	return c.Subject
}

// Subject identifies who a token is issued for.
type Subject struct {
	Username  string
	AccountID string
	Roles     []string
}

// Codec signs and verifies access tokens with a single process-wide secret.
type Codec struct {
	secret []byte
	method jwt.SigningMethod
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec) error

// WithSigningAlgorithm selects the HMAC algorithm (HS256, HS384 or HS512).
func WithSigningAlgorithm(alg string) CodecOption {
	return func(c *Codec) error {
		alg = strings.TrimSpace(strings.ToUpper(alg))
		if alg == "" {
			return nil
		}
		switch alg {
		case jwt.SigningMethodHS256.Alg():
			c.method = jwt.SigningMethodHS256
		case jwt.SigningMethodHS384.Alg():
			c.method = jwt.SigningMethodHS384
		case jwt.SigningMethodHS512.Alg():
			c.method = jwt.SigningMethodHS512
		default:
			return fmt.Errorf("%w: unsupported signing algorithm %q", ErrInvalidInput, alg)
		}
		return nil
	}
}

// WithIssuer sets the iss claim written and required by the codec.
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) error {
		c.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithTokenTTL overrides the default token lifetime.
func WithTokenTTL(ttl time.Duration) CodecOption {
	return func(c *Codec) error {
		if ttl > 0 {
			c.ttl = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) CodecOption {
	return func(c *Codec) error {
		if fn != nil {
			c.now = fn
		}
		return nil
	}
}

// NewCodec returns a Codec for secret. An empty secret is a configuration
// error and fails with ErrMissingSecret.
func NewCodec(secret string, opts ...CodecOption) (*Codec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	c := &Codec{
		secret: []byte(secret),
		method: jwt.SigningMethodHS256,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// TTL returns the configured default lifetime.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a token for sub. A non-positive ttl falls back to the codec default.
func (c *Codec) Issue(sub Subject, ttl time.Duration) (string, time.Time, error) {
	username := strings.TrimSpace(sub.Username)
	if username == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	// NumericDate has whole-second precision; anchor iat and exp on the
	// same second so exp is exactly iat+ttl.
	now := c.now().UTC().Truncate(time.Second)
	exp := jwt.NewNumericDate(now.Add(ttl))
	claims := Claims{
		AccountID: strings.TrimSpace(sub.AccountID),
		Roles:     dedupeRoles(sub.Roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: exp,
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp.Time, nil
}

// Parse verifies signature, expiry and subject. Failures are one of
// ErrInvalidSignature, ErrTokenExpired or ErrMalformedToken, all of which
// match ErrUnauthenticated.
func (c *Codec) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMalformedToken
	}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, classifyTokenError(err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformedToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrMalformedToken
	}
	claims.Roles = dedupeRoles(claims.Roles)
	return claims, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrMalformedToken
	}
}
