package resume

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wisbric/orchestra/internal/crypto"
)

func testCryptoService() *crypto.Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return crypto.NewService(nil, nil, nil, "test-jwt-secret", nil, false, logger)
}

func TestClampTTL_ZeroDefaultsToSevenDays(t *testing.T) {
	if got := clampTTL(0); got != defaultTTL {
		t.Errorf("clampTTL(0) = %v, want %v", got, defaultTTL)
	}
}

func TestClampTTL_BelowMinimumRaisedToMinimum(t *testing.T) {
	if got := clampTTL(10 * time.Second); got != minTTL {
		t.Errorf("clampTTL(10s) = %v, want %v", got, minTTL)
	}
}

func TestClampTTL_AboveMinimumPassedThrough(t *testing.T) {
	want := 2 * time.Hour
	if got := clampTTL(want); got != want {
		t.Errorf("clampTTL(2h) = %v, want %v", got, want)
	}
}

func TestSignatureRoundTrip_MatchesOnSameToken(t *testing.T) {
	svc := testCryptoService()

	token := "a-random-resume-token"
	sig1, err := svc.SignWithProcessSecret([]byte(token))
	if err != nil {
		t.Fatalf("SignWithProcessSecret: %v", err)
	}
	sig2, err := svc.SignWithProcessSecret([]byte(token))
	if err != nil {
		t.Fatalf("SignWithProcessSecret: %v", err)
	}
	if string(sig1) != string(sig2) {
		t.Error("expected deterministic signature for identical input")
	}
}

func TestSignatureRoundTrip_DiffersOnTamperedToken(t *testing.T) {
	svc := testCryptoService()

	sig1, err := svc.SignWithProcessSecret([]byte("token-a"))
	if err != nil {
		t.Fatalf("SignWithProcessSecret: %v", err)
	}
	sig2, err := svc.SignWithProcessSecret([]byte("token-b"))
	if err != nil {
		t.Fatalf("SignWithProcessSecret: %v", err)
	}
	if string(sig1) == string(sig2) {
		t.Error("expected different signatures for different tokens")
	}
}
