package crypto

import (
	"testing"
	"time"
)

func appsScriptTestService() *Service {
	return NewService(nil, &fakeKeyRecordStore{err: errNoRecords}, nil, "", []byte("apps-script-master-secret"), false, testLogger())
}

func TestAppsScript_RoundTrip(t *testing.T) {
	svc := appsScriptTestService()

	token, err := svc.CreateAppsScriptSecretToken([]byte(`{"webhookId":"wh_abc"}`), time.Minute, "webhook-install")
	if err != nil {
		t.Fatalf("CreateAppsScriptSecretToken: %v", err)
	}

	payload, err := svc.ReadAppsScriptSecretToken(token, "webhook-install", 5*time.Second)
	if err != nil {
		t.Fatalf("ReadAppsScriptSecretToken: %v", err)
	}
	if string(payload) != `{"webhookId":"wh_abc"}` {
		t.Errorf("payload = %q, want original JSON payload", payload)
	}
}

func TestAppsScript_WrongPurposeRejected(t *testing.T) {
	svc := appsScriptTestService()

	token, err := svc.CreateAppsScriptSecretToken([]byte("x"), time.Minute, "webhook-install")
	if err != nil {
		t.Fatalf("CreateAppsScriptSecretToken: %v", err)
	}

	if _, err := svc.ReadAppsScriptSecretToken(token, "resume-token", 5*time.Second); err == nil {
		t.Error("expected a purpose mismatch to be rejected")
	}
}

func TestAppsScript_ExpiredTokenRejected(t *testing.T) {
	svc := appsScriptTestService()

	token, err := svc.CreateAppsScriptSecretToken([]byte("x"), minAppsScriptTokenTTL, "webhook-install")
	if err != nil {
		t.Fatalf("CreateAppsScriptSecretToken: %v", err)
	}

	// A negative clock tolerance of twice the minimum TTL moves the expiry
	// deadline 60s into the past, so the fresh 60s token reads as expired.
	if _, err := svc.ReadAppsScriptSecretToken(token, "webhook-install", -2*minAppsScriptTokenTTL); err == nil {
		t.Error("expected an expired token to be rejected")
	}
}

func TestAppsScript_TTLClampedToMinimum(t *testing.T) {
	svc := appsScriptTestService()

	// A 1-second requested TTL should be clamped up to the 60s minimum,
	// so reading it back immediately with no tolerance still succeeds.
	token, err := svc.CreateAppsScriptSecretToken([]byte("x"), time.Second, "webhook-install")
	if err != nil {
		t.Fatalf("CreateAppsScriptSecretToken: %v", err)
	}
	if _, err := svc.ReadAppsScriptSecretToken(token, "webhook-install", 0); err != nil {
		t.Errorf("ReadAppsScriptSecretToken: %v", err)
	}
}

func TestAppsScript_TamperedCiphertextRejected(t *testing.T) {
	svc := appsScriptTestService()

	token, err := svc.CreateAppsScriptSecretToken([]byte("x"), time.Minute, "webhook-install")
	if err != nil {
		t.Fatalf("CreateAppsScriptSecretToken: %v", err)
	}

	tampered := token[:len(token)-1] + "A"
	if tampered == token {
		tampered = token[:len(token)-1] + "B"
	}
	if _, err := svc.ReadAppsScriptSecretToken(tampered, "webhook-install", 5*time.Second); err == nil {
		t.Error("expected a tampered token to be rejected")
	}
}
