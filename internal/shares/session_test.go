package shares

import (
	"errors"
	"testing"
	"time"
)

func testShare(permission Permission, expiresAt time.Time) ThreadShare {
	return ThreadShare{
		ShareID:    "share-1",
		ThreadID:   "thread_1",
		Token:      "token",
		Permission: permission,
		ExpiresAt:  expiresAt,
	}
}

func TestIssueSessionRoundTrip(testContext *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	issuer := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Clock:         func() time.Time { return now },
	})

	token, expiresIn, err := issuer.IssueSession(testShare(PermissionCollaborate, now.AddDate(0, 0, 7)))
	if err != nil {
		testContext.Fatalf("failed to issue session: %v", err)
	}
	if expiresIn != int64(defaultSessionTTL.Seconds()) {
		testContext.Fatalf("expected default TTL %d, got %d", int64(defaultSessionTTL.Seconds()), expiresIn)
	}

	threadID, err := issuer.ValidateSession(token)
	if err != nil {
		testContext.Fatalf("failed to validate session: %v", err)
	}
	if threadID != "thread_1" {
		testContext.Fatalf("expected thread subject, got %q", threadID)
	}
}

func TestIssueSessionRejectsReadShare(testContext *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	issuer := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Clock:         func() time.Time { return now },
	})

	if _, _, err := issuer.IssueSession(testShare(PermissionRead, now.AddDate(0, 0, 7))); !errors.Is(err, ErrNotCollaborate) {
		testContext.Fatalf("expected ErrNotCollaborate, got %v", err)
	}
}

func TestIssueSessionCapsAtShareExpiry(testContext *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	issuer := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Clock:         func() time.Time { return now },
	})

	_, expiresIn, err := issuer.IssueSession(testShare(PermissionCollaborate, now.Add(10*time.Minute)))
	if err != nil {
		testContext.Fatalf("failed to issue session: %v", err)
	}
	if expiresIn != int64((10 * time.Minute).Seconds()) {
		testContext.Fatalf("expected session capped at share expiry, got %d seconds", expiresIn)
	}
}

func TestIssueSessionRejectsSpentShare(testContext *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	issuer := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Clock:         func() time.Time { return now },
	})

	if _, _, err := issuer.IssueSession(testShare(PermissionCollaborate, now.Add(-time.Minute))); !errors.Is(err, ErrShareExpired) {
		testContext.Fatalf("expected ErrShareExpired, got %v", err)
	}
}

func TestValidateSessionRejectsForeignSecret(testContext *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	issuer := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Clock:         func() time.Time { return now },
	})
	foreign := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte("other-secret"),
		Clock:         func() time.Time { return now },
	})

	token, _, err := foreign.IssueSession(testShare(PermissionCollaborate, now.AddDate(0, 0, 7)))
	if err != nil {
		testContext.Fatalf("failed to issue session: %v", err)
	}
	if _, err := issuer.ValidateSession(token); err == nil {
		testContext.Fatalf("expected validation failure for foreign signature")
	}
}

func TestValidateSessionRejectsExpiredToken(testContext *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	clockValue := now
	issuer := NewSessionIssuer(SessionIssuerConfig{
		SigningSecret: []byte("test-secret"),
		SessionTTL:    time.Minute,
		Clock:         func() time.Time { return clockValue },
	})

	token, _, err := issuer.IssueSession(testShare(PermissionCollaborate, now.AddDate(0, 0, 7)))
	if err != nil {
		testContext.Fatalf("failed to issue session: %v", err)
	}

	clockValue = now.Add(2 * time.Minute)
	if _, err := issuer.ValidateSession(token); err == nil {
		testContext.Fatalf("expected validation failure after expiry")
	}
}
