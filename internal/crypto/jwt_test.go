package crypto

import (
	"errors"
	"testing"
	"time"
)

var errNoRecords = errors.New("no active key record in test store")

func newTestService(jwtSecret string, devMode bool) *Service {
	return NewService(nil, &fakeKeyRecordStore{err: errNoRecords}, nil, jwtSecret, nil, devMode, testLogger())
}

func TestJWT_IssueAndVerifyRoundTrip(t *testing.T) {
	svc := newTestService("test-jwt-secret", false)

	token, err := svc.IssueJWT(ServiceClaims{Subject: "org-123", Purpose: "resume-token"}, time.Minute)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	claims, err := svc.VerifyJWT(token)
	if err != nil {
		t.Fatalf("VerifyJWT: %v", err)
	}
	if claims.Subject != "org-123" || claims.Purpose != "resume-token" {
		t.Errorf("claims = %+v, want Subject=org-123 Purpose=resume-token", claims)
	}
}

func TestJWT_ExpiredTokenRejected(t *testing.T) {
	svc := newTestService("test-jwt-secret", false)

	token, err := svc.IssueJWT(ServiceClaims{Subject: "org-123"}, -time.Minute)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	if _, err := svc.VerifyJWT(token); err == nil {
		t.Error("expected an expired token to fail verification")
	}
}

func TestJWT_MissingSecretOutsideDevModeErrors(t *testing.T) {
	svc := newTestService("", false)

	if _, err := svc.IssueJWT(ServiceClaims{Subject: "x"}, time.Minute); err == nil {
		t.Error("expected IssueJWT to fail without JWT_SECRET outside development mode")
	}
}

func TestJWT_DevModeFallsBackToEphemeralSecret(t *testing.T) {
	svc := newTestService("", true)

	token, err := svc.IssueJWT(ServiceClaims{Subject: "x"}, time.Minute)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}
	if _, err := svc.VerifyJWT(token); err != nil {
		t.Errorf("VerifyJWT: %v", err)
	}
}
