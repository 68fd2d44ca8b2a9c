// Package auth implements phone-based one-time-code login, token issuance
// and the role ladder used across the service.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"narcomap.org/internal/config"
	"narcomap.org/internal/ids"
	"narcomap.org/internal/notify"
	"narcomap.org/internal/obs"
	"narcomap.org/internal/ratelimit"
)

// Service owns the login flow: requesting codes, verifying them, and minting
// and refreshing tokens against the actor store.
type Service struct {
	actors  ActorStore
	codes   OTPStore
	sender  notify.Sender
	limiter *ratelimit.Limiter
	tokens  *TokenIssuer

	codeLength    int
	codeTTL       time.Duration
	requestLimit  int
	requestWindow time.Duration
	devMode       bool

	now     func() time.Time
	genCode func(length int) (string, error)
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the service time source.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithCodeGenerator overrides code generation (used by tests to pin codes).
func WithCodeGenerator(fn func(length int) (string, error)) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.genCode = fn
		}
	}
}

// NewService wires the login flow together.
func NewService(actors ActorStore, codes OTPStore, sender notify.Sender, limiter *ratelimit.Limiter, tokens *TokenIssuer, cfg config.OTPConfig, opts ...ServiceOption) *Service {
	s := &Service{
		actors:        actors,
		codes:         codes,
		sender:        sender,
		limiter:       limiter,
		tokens:        tokens,
		codeLength:    cfg.Length,
		codeTTL:       cfg.ExpireIn,
		requestLimit:  cfg.RequestLimit,
		requestWindow: cfg.RequestWindow,
		devMode:       cfg.DevMode,
		now:           time.Now,
		genCode:       randomCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestCode issues a fresh one-time code for the phone. Any live earlier
// codes are superseded first, so at most one code is ever verifiable per
// phone. Requests beyond the per-phone budget fail with a RateLimitedError.
func (s *Service) RequestCode(ctx context.Context, rawPhone string) (*CodeIssue, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}

	if !s.limiter.Allow("otp:"+phone, s.requestLimit, s.requestWindow) {
		_, reset := s.limiter.Remaining("otp:"+phone, s.requestLimit, s.requestWindow)
		obs.CountOTPRequest("rate_limited")
		return nil, &RateLimitedError{RetryAfter: reset}
	}

	now := s.now().UTC()
	if _, err := s.codes.SupersedeActive(ctx, phone, now); err != nil {
		return nil, fmt.Errorf("supersede codes: %w", err)
	}

	code, err := s.genCode(s.codeLength)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	rec := OTPCode{
		ID:        ids.New(),
		Phone:     phone,
		Code:      code,
		ExpiresAt: now.Add(s.codeTTL),
		CreatedAt: now,
	}
	if err := s.codes.CreateCode(ctx, rec); err != nil {
		return nil, fmt.Errorf("store code: %w", err)
	}

	msg := fmt.Sprintf("Your narcomap login code is %s. It expires in %d minutes.", code, int(s.codeTTL.Minutes()))
	if err := s.sender.Send(ctx, phone, msg); err != nil {
		obs.CountOTPRequest("dispatch_failed")
		obs.LogEvent("auth.code_dispatch_failed", map[string]any{"phone": phone, "error": err.Error()})
		return nil, ErrDispatchFailed
	}

	obs.CountOTPRequest("granted")
	issue := &CodeIssue{ExpiresAt: rec.ExpiresAt}
	if s.devMode {
		issue.DevCode = code
	}
	return issue, nil
}

// VerifyCode consumes a live code and returns a token pair for the actor,
// creating the actor on first login. Expired, consumed and superseded codes
// all fail with ErrInvalidCode.
func (s *Service) VerifyCode(ctx context.Context, rawPhone, code string) (Actor, *TokenPair, error) {
	phone, err := NormalizePhone(rawPhone)
	if err != nil {
		return Actor{}, nil, err
	}
	if strings.TrimSpace(code) == "" {
		return Actor{}, nil, ErrInvalidCode
	}

	now := s.now().UTC()
	if _, err := s.codes.ConsumeCode(ctx, phone, code, now); err != nil {
		return Actor{}, nil, err
	}

	actor, err := s.resolveActor(ctx, phone, now)
	if err != nil {
		return Actor{}, nil, err
	}
	if !actor.Active {
		return Actor{}, nil, ErrInactiveActor
	}

	pair, err := s.tokens.MintPair(actor.ID, actor.Role)
	if err != nil {
		return Actor{}, nil, err
	}
	obs.LogEvent("auth.verified", map[string]any{"actor_id": actor.ID, "role": string(actor.Role)})
	return actor, pair, nil
}

// Refresh exchanges a refresh token for a new pair. The actor and role are
// re-resolved from the store so role changes and deactivations take effect on
// the next refresh.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Actor, *TokenPair, error) {
	claims, err := s.tokens.Validate(refreshToken, TokenTypeRefresh)
	if err != nil {
		return Actor{}, nil, err
	}
	actor, err := s.actors.GetActor(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Actor{}, nil, ErrInvalidToken
		}
		return Actor{}, nil, err
	}
	if !actor.Active {
		return Actor{}, nil, ErrInactiveActor
	}
	// No refresh rotation: the presented refresh token stays valid until it
	// expires, only the access token is reminted.
	access, err := s.tokens.Mint(actor.ID, actor.Role, TokenTypeAccess)
	if err != nil {
		return Actor{}, nil, err
	}
	pair := &TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.accessTTL / time.Second),
	}
	return actor, pair, nil
}

// Authenticate resolves an access token to its actor.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Actor, error) {
	claims, err := s.tokens.Validate(accessToken, TokenTypeAccess)
	if err != nil {
		return Actor{}, err
	}
	actor, err := s.actors.GetActor(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Actor{}, ErrInvalidToken
		}
		return Actor{}, err
	}
	if !actor.Active {
		return Actor{}, ErrInactiveActor
	}
	return actor, nil
}

// Authorize checks the actor against a minimum role.
func (s *Service) Authorize(actor Actor, required Role) error {
	if !actor.Role.AtLeast(required) {
		return ErrInsufficientRole
	}
	return nil
}

// SetActorRole changes an actor's role. Admin surface.
func (s *Service) SetActorRole(ctx context.Context, actorID string, role Role) (Actor, error) {
	if !role.Valid() {
		return Actor{}, fmt.Errorf("auth: unknown role %q", role)
	}
	actor, err := s.actors.GetActor(ctx, actorID)
	if err != nil {
		return Actor{}, err
	}
	actor.Role = role
	actor.UpdatedAt = s.now().UTC()
	if err := s.actors.UpdateActor(ctx, actor); err != nil {
		return Actor{}, err
	}
	return actor, nil
}

// SetActorActive activates or deactivates an actor. Admin surface.
func (s *Service) SetActorActive(ctx context.Context, actorID string, active bool) (Actor, error) {
	actor, err := s.actors.GetActor(ctx, actorID)
	if err != nil {
		return Actor{}, err
	}
	actor.Active = active
	actor.UpdatedAt = s.now().UTC()
	if err := s.actors.UpdateActor(ctx, actor); err != nil {
		return Actor{}, err
	}
	return actor, nil
}

// ListActors returns every actor. Admin surface.
func (s *Service) ListActors(ctx context.Context) ([]Actor, error) {
	return s.actors.ListActors(ctx)
}

// GetActor returns a single actor by id.
func (s *Service) GetActor(ctx context.Context, actorID string) (Actor, error) {
	return s.actors.GetActor(ctx, actorID)
}

func (s *Service) resolveActor(ctx context.Context, phone string, now time.Time) (Actor, error) {
	actor, err := s.actors.GetActorByPhone(ctx, phone)
	if err == nil {
		return actor, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Actor{}, err
	}

	actor = Actor{
		ID:        ids.New(),
		Phone:     phone,
		Role:      RoleUser,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.actors.CreateActor(ctx, actor); err != nil {
		// Lost a create race; the winner's record is authoritative.
		if errors.Is(err, ErrActorExists) {
			return s.actors.GetActorByPhone(ctx, phone)
		}
		return Actor{}, err
	}
	return actor, nil
}

func randomCode(length int) (string, error) {
	const digits = "0123456789"
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(digits))))
		if err != nil {
			return "", err
		}
		buf[i] = digits[n.Int64()]
	}
	return string(buf), nil
}
