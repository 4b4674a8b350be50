// ABOUTME: Capability token issue/verify for entry pass links
// ABOUTME: HS256 signed JWTs binding a participant row hash with a 60-day expiry

package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is how long an issued entry pass stays valid.
const DefaultTTL = 60 * 24 * time.Hour

// Token errors
var (
	ErrNoSecret     = errors.New("signing secret not configured")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Claims is the decoded payload of a verified entry pass token.
type Claims struct {
	RowHash   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Codec issues and verifies entry pass tokens. A token is self-contained:
// verification never consults storage, only the signature and expiry.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec creates a Codec with the given signing secret.
// An empty secret is a startup-class misconfiguration, not a per-request error.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	return &Codec{secret: secret, ttl: DefaultTTL, now: time.Now}, nil
}

// Issue creates a signed token granting the bearer access to one row hash.
// Each call produces a distinct token; issuing does not invalidate prior tokens.
func (c *Codec) Issue(rowHash string) (string, error) {
	now := c.now()
	claims := jwt.MapClaims{
		"rh":  rowHash,
		"iat": now.Unix(),
		"exp": now.Add(c.ttl).Unix(),
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry and returns the decoded claims.
// Verification is all-or-nothing: any failure returns a zero Claims and an error.
func (c *Codec) Verify(tokenString string) (Claims, error) {
	tok, err := jwt.Parse(tokenString, func(tok *jwt.Token) (interface{}, error) {
		// Validate the signing method is HMAC
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return c.now() }))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !tok.Valid {
		return Claims{}, ErrInvalidToken
	}

	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}

	rh, ok := mc["rh"].(string)
	if !ok || rh == "" {
		return Claims{}, fmt.Errorf("%w: rh", ErrMissingClaim)
	}

	claims := Claims{RowHash: rh}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	return claims, nil
}
