package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"prodtrack.org/internal/obs"
)

// Token is the result of a successful login.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Service authenticates credentials and bearer tokens against a Store.
type Service struct {
	store  Store
	codec  *Codec
	hasher *Hasher
	log    logrus.FieldLogger

	// hash verified against when the username is unknown
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithHasher overrides the password hasher.
func WithHasher(h *Hasher) ServiceOption {
	return func(s *Service) error {
		if h != nil {
			s.hasher = h
		}
		return nil
	}
}

// WithLogger overrides the logger.
func WithLogger(l logrus.FieldLogger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// NewService constructs the authenticator.
func NewService(store Store, codec *Codec, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if codec == nil {
		return nil, ErrMissingSecret
	}
	svc := &Service{
		store: store,
		codec: codec,
		log:   obs.Logger().WithField("component", "auth"),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if svc.hasher == nil {
		h, err := NewHasher()
		if err != nil {
			return nil, err
		}
		svc.hasher = h
	}
	dummy, err := svc.hasher.Hash("prodtrack-timing-equalizer")
	if err != nil {
		return nil, fmt.Errorf("auth: prepare timing hash: %w", err)
	}
	svc.dummyHash = dummy
	return svc, nil
}

// Hasher returns the password hasher shared with the workflow.
func (s *Service) Hasher() *Hasher {
	return s.hasher
}

// Login checks username and password and issues a token carrying the
// account's current roles. Unknown users and wrong passwords both fail
// with ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, username, password string) (Token, error) {
	ctx, span := obs.Tracer().Start(ctx, "auth.login")
	defer span.End()

	tok, err := s.login(ctx, username, password)
	result := "success"
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		result = "invalid_credentials"
	case errors.Is(err, ErrInactiveAccount):
		result = "inactive"
	case err != nil:
		result = "error"
	}
	obs.ObserveLogin(result)
	span.SetAttributes(attribute.String("auth.result", result))
	if err != nil {
		span.SetStatus(codes.Error, result)
	}
	return tok, err
}

func (s *Service) login(ctx context.Context, username, password string) (Token, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		s.burnVerify(password)
		return Token{}, ErrInvalidCredentials
	}
	acct, err := s.store.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		s.burnVerify(password)
		return Token{}, ErrInvalidCredentials
	}
	if err != nil {
		return Token{}, fmt.Errorf("find account: %w", err)
	}
	if !s.hasher.Verify(password, acct.PasswordHash) {
		return Token{}, ErrInvalidCredentials
	}
	if !acct.Usable() {
		return Token{}, ErrInactiveAccount
	}
	signed, exp, err := s.codec.Issue(Subject{
		Username:  acct.Username,
		AccountID: acct.ID,
		Roles:     acct.Roles,
	}, s.codec.TTL())
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: signed, TokenType: TokenType, ExpiresAt: exp}, nil
}

// burnVerify spends one hash verification so that a missing account costs
// about as much as a wrong password.
func (s *Service) burnVerify(password string) {
	_ = s.hasher.Verify(password, s.dummyHash)
}

// Authenticate resolves a bearer token to a principal built from the
// current persisted account. Any codec failure or a missing account yields
// ErrUnauthenticated; disabled or inactive accounts yield ErrInactiveAccount.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	ctx, span := obs.Tracer().Start(ctx, "auth.authenticate")
	defer span.End()

	p, err := s.authenticate(ctx, token)
	result := "success"
	switch {
	case errors.Is(err, ErrUnauthenticated):
		result = "unauthenticated"
	case errors.Is(err, ErrInactiveAccount):
		result = "inactive"
	case err != nil:
		result = "error"
	}
	obs.ObserveTokenValidation(result)
	span.SetAttributes(attribute.String("auth.result", result))
	if err != nil {
		span.SetStatus(codes.Error, result)
	}
	return p, err
}

func (s *Service) authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.codec.Parse(token)
	if err != nil {
		s.log.WithField("reason", tokenFailureReason(err)).Debug("token rejected")
		return Principal{}, ErrUnauthenticated
	}

	acct, err := s.resolve(ctx, claims)
	if errors.Is(err, ErrNotFound) {
		s.log.WithField("username", claims.Username()).Debug("token subject no longer exists")
		return Principal{}, ErrUnauthenticated
	}
	if err != nil {
		return Principal{}, fmt.Errorf("resolve account: %w", err)
	}
	if !acct.Usable() {
		return Principal{}, ErrInactiveAccount
	}
	if !sameRoles(claims.Roles, acct.Roles) {
		s.log.WithFields(logrus.Fields{
			"account_id":   acct.ID,
			"token_roles":  claims.Roles,
			"stored_roles": acct.Roles,
		}).Warn("token role claims differ from stored roles")
	}
	return NewPrincipal(acct), nil
}

// resolve prefers the embedded account id and falls back to the username
// when the id is absent or no longer matches the subject.
func (s *Service) resolve(ctx context.Context, claims *Claims) (Account, error) {
	if claims.AccountID != "" {
		acct, err := s.store.FindByID(ctx, claims.AccountID)
		switch {
		case err == nil && strings.EqualFold(acct.Username, claims.Username()):
			return acct, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return Account{}, err
		}
	}
	return s.store.FindByUsername(ctx, claims.Username())
}

func tokenFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	default:
		return "malformed"
	}
}
