package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is the session lifetime handed out on login.
const DefaultTokenTTL = 8 * time.Hour

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("invalid token")

var errMissingSecret = errors.New("auth secret is not configured")

// Claims is the session payload: who logged in and under which role.
type Claims struct {
	UID   string `json:"uid"`
	RolID string `json:"rolId,omitempty"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 session tokens with a shared secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// TokenOption configures Tokens.
type TokenOption func(*Tokens)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) TokenOption {
	return func(t *Tokens) {
		if ttl > 0 {
			t.ttl = ttl
		}
	}
}

// WithIssuer sets the iss claim; when set, verification requires it.
func WithIssuer(issuer string) TokenOption {
	return func(t *Tokens) { t.issuer = strings.TrimSpace(issuer) }
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(t *Tokens) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewTokens returns a signer/verifier for secret.
func NewTokens(secret string, opts ...TokenOption) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errMissingSecret
	}
	t := &Tokens{secret: []byte(secret), ttl: DefaultTokenTTL, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// TTL is the configured token lifetime.
func (t *Tokens) TTL() time.Duration { return t.ttl }

// Issue signs a token for userID carrying roleID.
func (t *Tokens) Issue(userID, roleID string) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("userID is required")
	}
	now := t.now().UTC()
	expiresAt := now.Add(t.ttl)
	claims := Claims{
		UID:   userID,
		RolID: strings.TrimSpace(roleID),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies signature and expiry and returns the claims.
// Every failure is reported as ErrInvalidToken.
func (t *Tokens) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(5 * time.Second),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.UID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
