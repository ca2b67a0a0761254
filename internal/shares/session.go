package shares

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	sessionIssuer     = "loom-api"
	sessionAudience   = "loom-collab"
	defaultSessionTTL = time.Hour
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingThreadSubject = errors.New("thread subject claim must be provided")
	// ErrNotCollaborate indicates a session exchange on a read-only share.
	ErrNotCollaborate = errors.New("shares: share does not permit collaboration")
)

// SessionIssuerConfig configures the collaborate-session token issuer.
type SessionIssuerConfig struct {
	SigningSecret []byte
	SessionTTL    time.Duration
	Clock         func() time.Time
}

// SessionIssuer exchanges a collaborate share for a short-lived JWT scoped to
// the shared thread, so message posts on the share don't re-read the share row.
type SessionIssuer struct {
	signingSecret []byte
	sessionTTL    time.Duration
	clock         func() time.Time
}

// NewSessionIssuer constructs a SessionIssuer with sane defaults.
func NewSessionIssuer(cfg SessionIssuerConfig) *SessionIssuer {
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionIssuer{
		signingSecret: cfg.SigningSecret,
		sessionTTL:    ttl,
		clock:         clock,
	}
}

// IssueSession produces a signed session token for a collaborate share and its
// expiry in seconds. The session never outlives the share itself.
func (i *SessionIssuer) IssueSession(share ThreadShare) (string, int64, error) {
	if len(i.signingSecret) == 0 {
		return "", 0, errMissingSigningSecret
	}
	if share.Permission != PermissionCollaborate {
		return "", 0, ErrNotCollaborate
	}
	if share.ThreadID == "" {
		return "", 0, errMissingThreadSubject
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.sessionTTL)
	if share.ExpiresAt.Before(expiresAt) {
		expiresAt = share.ExpiresAt.UTC()
	}
	if !expiresAt.After(now) {
		return "", 0, ErrShareExpired
	}

	registered := jwt.RegisteredClaims{
		Subject:   share.ThreadID,
		Issuer:    sessionIssuer,
		Audience:  []string{sessionAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateSession checks a session token and returns the thread id it grants
// collaboration on.
func (i *SessionIssuer) ValidateSession(tokenString string) (string, error) {
	if len(i.signingSecret) == 0 {
		return "", errMissingSigningSecret
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithAudience(sessionAudience),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingThreadSubject
	}
	return claims.Subject, nil
}
