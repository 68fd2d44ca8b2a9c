package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in the "type" claim. A refresh token can never pass an
// access check and vice versa.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims is the JWT payload for both token types.
type Claims struct {
	Role      string `json:"role"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and validates HS256-signed access and refresh tokens.
type TokenIssuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// IssuerOption configures a TokenIssuer.
type IssuerOption func(*TokenIssuer)

// WithIssuerClock overrides the issuer's time source.
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *TokenIssuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewTokenIssuer creates an issuer for the given signing secret.
func NewTokenIssuer(secret, issuer string, accessTTL, refreshTTL time.Duration, opts ...IssuerOption) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("auth: token TTLs must be positive")
	}
	ti := &TokenIssuer{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(ti)
	}
	return ti, nil
}

// Mint signs a token of the given type for the actor. The subject is the
// actor id and the role claim snapshots the role at issuance.
func (i *TokenIssuer) Mint(actorID string, role Role, tokenType string) (string, error) {
	if tokenType != TokenTypeAccess && tokenType != TokenTypeRefresh {
		return "", fmt.Errorf("auth: unknown token type %q", tokenType)
	}
	ttl := i.accessTTL
	if tokenType == TokenTypeRefresh {
		ttl = i.refreshTTL
	}
	now := i.now().UTC()
	claims := Claims{
		Role:      string(role),
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// MintPair signs an access and a refresh token for the actor.
func (i *TokenIssuer) MintPair(actorID string, role Role) (*TokenPair, error) {
	access, err := i.Mint(actorID, role, TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := i.Mint(actorID, role, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(i.accessTTL / time.Second),
	}, nil
}

// Validate parses the token, checks signature, expiry and issuer, and
// requires the "type" claim to match wantType. All failures collapse into
// ErrInvalidToken.
func (i *TokenIssuer) Validate(token, wantType string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(func() time.Time { return i.now().UTC() }),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
