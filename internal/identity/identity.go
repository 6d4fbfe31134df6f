// Package identity resolves which agent is calling. With a secret configured,
// callers present an HS256 bearer token whose subject is their agent id;
// without one the X-Agent-Id header is trusted as-is.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HeaderAgentID carries the caller's agent id when tokens are not in use.
const HeaderAgentID = "X-Agent-Id"

const issuer = "agent-comms"

var (
	ErrNoSecret     = errors.New("identity: no token secret configured")
	ErrInvalidToken = errors.New("identity: invalid token")
)

// Issuer signs and verifies agent tokens. A zero TTL issues tokens that never expire.
type Issuer struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

// NewIssuer returns nil when secret is empty, which disables token checks.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if secret == "" {
		return nil
	}
	return &Issuer{Secret: []byte(secret), TTL: ttl, Now: time.Now}
}

func (i *Issuer) now() time.Time {
	if i.Now == nil {
		return time.Now()
	}
	return i.Now()
}

// Issue returns a signed token for agentID.
func (i *Issuer) Issue(agentID string) (string, error) {
	if i == nil {
		return "", ErrNoSecret
	}
	if agentID == "" {
		return "", errors.New("identity: agent id is required")
	}
	now := i.now()
	claims := jwt.RegisteredClaims{
		Issuer:   issuer,
		Subject:  agentID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if i.TTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.TTL))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.Secret)
}

// Verify checks the token and returns its subject.
func (i *Issuer) Verify(token string) (string, error) {
	if i == nil {
		return "", ErrNoSecret
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.Secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(i.now))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// FromRequest returns the calling agent, or "" for an anonymous caller. With an
// issuer, only a bearer token counts and a bad one is an error.
func FromRequest(r *http.Request, iss *Issuer) (string, error) {
	if iss == nil {
		return strings.TrimSpace(r.Header.Get(HeaderAgentID)), nil
	}
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", nil
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", fmt.Errorf("%w: expected bearer authorization", ErrInvalidToken)
	}
	return iss.Verify(strings.TrimSpace(parts[1]))
}

type ctxKey struct{}

// WithAgent stores the caller's agent id in ctx.
func WithAgent(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, agentID)
}

// AgentFrom returns the caller's agent id, or "".
func AgentFrom(ctx context.Context) string {
	s, _ := ctx.Value(ctxKey{}).(string)
	return s
}
