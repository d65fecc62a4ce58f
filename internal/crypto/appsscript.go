package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

// appsScriptTokenVersion is incremented if the envelope shape changes so
// older tokens fail closed instead of being misparsed.
const appsScriptTokenVersion = 1

const (
	minAppsScriptTokenTTL     = 60 * time.Second
	defaultAppsScriptTokenTTL = 5 * time.Minute
)

// appsScriptEnvelope is the JSON shape of the token payload, base64-encoded
// as the wire format.
type appsScriptEnvelope struct {
	Version   int    `json:"v"`
	Purpose   string `json:"purpose"`
	IV        []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
	IssuedAt  int64  `json:"issuedAt"`
	ExpiresAt int64  `json:"expiresAt"`
	MAC       []byte `json:"mac"`
}

// CreateAppsScriptSecretToken encrypts payload under a purpose-scoped key
// derived from the service's HKDF master secret, attaches a deterministic
// HMAC over {iv, ciphertext, issuedAt, expiresAt, purpose}, and returns the
// base64-encoded envelope. ttl is clamped to [60s, ...]; zero uses the 5
// minute default.
func (s *Service) CreateAppsScriptSecretToken(payload []byte, ttl time.Duration, purpose string) (string, error) {
	if purpose == "" {
		return "", fmt.Errorf("purpose is required")
	}
	if ttl == 0 {
		ttl = defaultAppsScriptTokenTTL
	}
	if ttl < minAppsScriptTokenTTL {
		ttl = minAppsScriptTokenTTL
	}

	key, err := s.appsScriptPurposeKey(purpose)
	if err != nil {
		return "", err
	}

	ciphertext, iv, err := aesGCMEncrypt(key, payload, []byte(purpose))
	if err != nil {
		return "", fmt.Errorf("encrypting apps script payload: %w", err)
	}

	now := time.Now()
	env := appsScriptEnvelope{
		Version:    appsScriptTokenVersion,
		Purpose:    purpose,
		IV:         iv,
		Ciphertext: ciphertext,
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(ttl).Unix(),
	}
	env.MAC = s.appsScriptMAC(key, env)

	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshaling apps script envelope: %w", err)
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// ReadAppsScriptSecretToken decodes and verifies a token created by
// CreateAppsScriptSecretToken, checking version, purpose, MAC, and
// expiration (with the given clock tolerance), then decrypts the payload.
func (s *Service) ReadAppsScriptSecretToken(token, expectedPurpose string, clockTolerance time.Duration) ([]byte, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}

	var env appsScriptEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshaling token: %w", err)
	}

	if env.Version != appsScriptTokenVersion {
		return nil, fmt.Errorf("unsupported token version %d", env.Version)
	}
	if env.Purpose != expectedPurpose {
		return nil, fmt.Errorf("token purpose %q does not match expected %q", env.Purpose, expectedPurpose)
	}

	key, err := s.appsScriptPurposeKey(env.Purpose)
	if err != nil {
		return nil, err
	}

	expectedMAC := s.appsScriptMAC(key, appsScriptEnvelope{
		Version:    env.Version,
		Purpose:    env.Purpose,
		IV:         env.IV,
		Ciphertext: env.Ciphertext,
		IssuedAt:   env.IssuedAt,
		ExpiresAt:  env.ExpiresAt,
	})
	if !constantTimeEqual(env.MAC, expectedMAC) {
		return nil, fmt.Errorf("token MAC mismatch")
	}

	now := time.Now()
	expiresAt := time.Unix(env.ExpiresAt, 0)
	if now.After(expiresAt.Add(clockTolerance)) {
		return nil, fmt.Errorf("token expired at %s", expiresAt)
	}
	issuedAt := time.Unix(env.IssuedAt, 0)
	if now.Before(issuedAt.Add(-clockTolerance)) {
		return nil, fmt.Errorf("token issued in the future: %s", issuedAt)
	}

	plaintext, err := aesGCMDecrypt(key, env.Ciphertext, env.IV, []byte(env.Purpose))
	if err != nil {
		return nil, fmt.Errorf("decrypting apps script payload: %w", err)
	}
	return plaintext, nil
}

// appsScriptPurposeKey derives a 32-byte key for this purpose via
// HKDF-SHA256 over the service's apps-script master secret.
func (s *Service) appsScriptPurposeKey(purpose string) ([]byte, error) {
	if len(s.appsSecret) == 0 {
		return nil, fmt.Errorf("apps script secret not configured")
	}
	reader := hkdf.New(sha256.New, s.appsSecret, nil, []byte("apps-script:"+purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("deriving apps script key: %w", err)
	}
	return key, nil
}

func (s *Service) appsScriptMAC(key []byte, env appsScriptEnvelope) []byte {
	h := hmac.New(sha256.New, key)
	_, _ = h.Write(env.IV)
	_, _ = h.Write(env.Ciphertext)
	_ = binaryWriteInt64(h, env.IssuedAt)
	_ = binaryWriteInt64(h, env.ExpiresAt)
	_, _ = h.Write([]byte(env.Purpose))
	return h.Sum(nil)
}

func binaryWriteInt64(w io.Writer, v int64) error {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	_, err := w.Write(b)
	return err
}
