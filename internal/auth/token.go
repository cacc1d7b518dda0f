// ABOUTME: JWT agent tokens: HS256 issue/verify for the server, unverified inspection for clients
// ABOUTME: Tokens carry an agent_id claim and an exp claim

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL matches the lifetime the messaging server issues.
const DefaultTokenTTL = time.Hour

// Token errors
var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrMissingClaim  = errors.New("missing required claim")
	ErrAgentMismatch = errors.New("token belongs to a different agent")
)

// Claims is what a client can learn from a token without the signing secret.
type Claims struct {
	AgentID   string
	ExpiresAt time.Time // zero when the token has no exp claim
}

// Expired reports whether the token is past its expiry at now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (agentID string, err error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret, now: time.Now}
}

// Verify validates the token and extracts the agent ID from the "agent_id" claim
func (v *JWTVerifier) Verify(tokenString string) (agentID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	id, ok := claims["agent_id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("%w: agent_id", ErrMissingClaim)
	}

	return id, nil
}

// Generate creates a new JWT token for the given agent with expiration
func (v *JWTVerifier) Generate(agentID string, expiresIn time.Duration) (string, error) {
	if agentID == "" {
		return "", fmt.Errorf("%w: agent_id", ErrMissingClaim)
	}
	now := v.now()
	claims := jwt.MapClaims{
		"agent_id": agentID,
		"iat":      now.Unix(),
		"exp":      now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Inspect decodes the claims of a token without checking its signature.
// Clients use it to fail fast before opening a stream with a stale token;
// the server remains the authority.
func Inspect(tokenString string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var c Claims
	c.AgentID, _ = claims["agent_id"].(string)
	if c.AgentID == "" {
		return Claims{}, fmt.Errorf("%w: agent_id", ErrMissingClaim)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}

// CheckToken inspects tokenString and reports whether it can be used by
// agentID at now.
func CheckToken(tokenString, agentID string, now time.Time) (Claims, error) {
	c, err := Inspect(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if agentID != "" && c.AgentID != agentID {
		return c, fmt.Errorf("%w: token is for %q", ErrAgentMismatch, c.AgentID)
	}
	if c.Expired(now) {
		return c, ErrExpiredToken
	}
	return c, nil
}
