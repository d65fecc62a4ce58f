package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestDeriveWebhookID_Deterministic(t *testing.T) {
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	id1 := DeriveWebhookID("slack", "new-message", "wf-1", createdAt)
	id2 := DeriveWebhookID("slack", "new-message", "wf-1", createdAt)
	if id1 != id2 {
		t.Fatalf("expected deterministic id, got %q and %q", id1, id2)
	}
	if len(id1) != 16 {
		t.Fatalf("expected 16-char id, got %d chars: %q", len(id1), id1)
	}
}

func TestDeriveWebhookID_VariesByInput(t *testing.T) {
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	id1 := DeriveWebhookID("slack", "new-message", "wf-1", createdAt)
	id2 := DeriveWebhookID("slack", "new-message", "wf-2", createdAt)
	if id1 == id2 {
		t.Fatalf("expected different workflow ids to produce different webhook ids")
	}
}

func TestDedupeToken_ReorderedPayloadKeysMatch(t *testing.T) {
	p1 := json.RawMessage(`{"a":1,"b":2}`)
	p2 := json.RawMessage(`{"b":2,"a":1}`)
	t1 := DedupeToken("wf-1", "hook-1", "trigger-1", "ua", p1)
	t2 := DedupeToken("wf-1", "hook-1", "trigger-1", "ua", p2)
	if t1 != t2 {
		t.Fatalf("expected key-reordered payloads to produce the same dedupe token, got %q and %q", t1, t2)
	}
	if len(t1) != 32 {
		t.Fatalf("expected 32-char hex dedupe token, got %d chars", len(t1))
	}
}

func TestDedupeToken_DifferentPayloadDiffers(t *testing.T) {
	p1 := json.RawMessage(`{"a":1}`)
	p2 := json.RawMessage(`{"a":2}`)
	t1 := DedupeToken("wf-1", "hook-1", "trigger-1", "ua", p1)
	t2 := DedupeToken("wf-1", "hook-1", "trigger-1", "ua", p2)
	if t1 == t2 {
		t.Fatalf("expected different payloads to produce different dedupe tokens")
	}
}

func TestVerify_GitHubValidSignature(t *testing.T) {
	secret := "s3cr3t"
	body := []byte(`{"zen":"keep it logically awesome"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	r := httptest.NewRequest(http.MethodPost, "/webhooks/abc", strings.NewReader(string(body)))
	r.Header.Set("X-Hub-Signature-256", sig)

	if fail := Verify("github", secret, r, body); fail != nil {
		t.Fatalf("expected valid signature to pass, got %v", fail)
	}
}

func TestVerify_GitHubInvalidSignature(t *testing.T) {
	body := []byte(`{"zen":"keep it logically awesome"}`)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/abc", strings.NewReader(string(body)))
	r.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")

	fail := Verify("github", "s3cr3t", r, body)
	if fail == nil {
		t.Fatal("expected invalid signature to be rejected")
	}
	if fail.Reason != ReasonSignatureMismatch {
		t.Fatalf("expected ReasonSignatureMismatch, got %v", fail.Reason)
	}
}

func TestVerify_MissingSignatureHeader(t *testing.T) {
	body := []byte(`{}`)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/abc", strings.NewReader(string(body)))

	fail := Verify("github", "s3cr3t", r, body)
	if fail == nil || fail.Reason != ReasonMissingSignature {
		t.Fatalf("expected ReasonMissingSignature, got %v", fail)
	}
}

func TestVerify_UnknownProvider(t *testing.T) {
	body := []byte(`{}`)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/abc", strings.NewReader(string(body)))

	fail := Verify("some-unlisted-app", "s3cr3t", r, body)
	if fail == nil || fail.Reason != ReasonProviderNotRegistered {
		t.Fatalf("expected ReasonProviderNotRegistered, got %v", fail)
	}
}

func TestVerify_EmptySecretAcceptsUnsigned(t *testing.T) {
	body := []byte(`{}`)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/abc", strings.NewReader(string(body)))

	if fail := Verify("github", "", r, body); fail != nil {
		t.Fatalf("expected empty secret to accept unsigned delivery (dev mode), got %v", fail)
	}
}

func TestVerify_StripeCompositeSignature(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"id":"evt_1"}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(body)))
	sig := hex.EncodeToString(mac.Sum(nil))

	r := httptest.NewRequest(http.MethodPost, "/webhooks/abc", strings.NewReader(string(body)))
	r.Header.Set("Stripe-Signature", "t="+ts+",v1="+sig)

	if fail := Verify("stripe", secret, r, body); fail != nil {
		t.Fatalf("expected valid Stripe signature to pass, got %v", fail)
	}
}

func TestVerify_StripeStaleTimestampRejected(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"id":"evt_1"}`)
	ts := strconv.FormatInt(time.Now().Add(-1*time.Hour).Unix(), 10)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts + "." + string(body)))
	sig := hex.EncodeToString(mac.Sum(nil))

	r := httptest.NewRequest(http.MethodPost, "/webhooks/abc", strings.NewReader(string(body)))
	r.Header.Set("Stripe-Signature", "t="+ts+",v1="+sig)

	fail := Verify("stripe", secret, r, body)
	if fail == nil || fail.Reason != ReasonTimestampOutOfRange {
		t.Fatalf("expected ReasonTimestampOutOfRange, got %v", fail)
	}
}

func TestVerify_SlackValidSignature(t *testing.T) {
	secret := "slack-secret"
	body := []byte(`token=abc&team_id=T1`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + string(body)))
	sig := "v0=" + hex.EncodeToString(mac.Sum(nil))

	r := httptest.NewRequest(http.MethodPost, "/webhooks/abc", strings.NewReader(string(body)))
	r.Header.Set("X-Slack-Signature", sig)
	r.Header.Set("X-Slack-Request-Timestamp", ts)

	if fail := Verify("slack", secret, r, body); fail != nil {
		t.Fatalf("expected valid Slack signature to pass, got %v", fail)
	}
}

func TestVerify_GitlabTokenCompare(t *testing.T) {
	body := []byte(`{}`)
	r := httptest.NewRequest(http.MethodPost, "/webhooks/abc", strings.NewReader(string(body)))
	r.Header.Set("X-Gitlab-Token", "shared-secret")

	if fail := Verify("gitlab", "shared-secret", r, body); fail != nil {
		t.Fatalf("expected matching token to pass, got %v", fail)
	}

	r2 := httptest.NewRequest(http.MethodPost, "/webhooks/abc", strings.NewReader(string(body)))
	r2.Header.Set("X-Gitlab-Token", "wrong")
	fail := Verify("gitlab", "shared-secret", r2, body)
	if fail == nil || fail.Reason != ReasonSignatureMismatch {
		t.Fatalf("expected ReasonSignatureMismatch for token mismatch, got %v", fail)
	}
}
