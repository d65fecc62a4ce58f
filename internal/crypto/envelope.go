package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// credentialsAAD is the fixed additional authenticated data bound to every
// credential ciphertext, so a payload encrypted for one purpose can't be
// replayed as another.
const credentialsAAD = "api-credentials"

// dataKeyCacheTTL bounds how long an unwrapped data-key plaintext is kept
// in memory before Decrypt must unwrap it again.
const dataKeyCacheTTL = 60 * time.Second

// ErrKeyUnavailable is returned when no key source (KMS data key, stored
// derived key, legacy key) can be resolved for an operation.
var ErrKeyUnavailable = errors.New("crypto: key unavailable")

// Envelope is the persisted shape of an encrypted credential blob.
type Envelope struct {
	Ciphertext        []byte     `json:"ciphertext"`
	IV                []byte     `json:"iv"`
	KeyRecordID       *uuid.UUID `json:"keyRecordId,omitempty"`
	DataKeyCiphertext []byte     `json:"dataKeyCiphertext,omitempty"`
}

// Service implements the encryption/key service contract: AES-256-GCM
// envelope encryption backed by a KeyManager and key-record cache, plus
// password hashing, JWT issuance, and Apps Script secret tokens.
type Service struct {
	km         KeyManager
	records    *keyRecordCache
	legacyKey  []byte
	logger     *slog.Logger
	jwtSecret  string
	devMode    bool
	appsSecret []byte // HKDF master secret for CreateAppsScriptSecretToken

	dataKeyMu    sync.Mutex
	dataKeyCache map[string]dataKeyCacheEntry
}

type dataKeyCacheEntry struct {
	plaintext []byte
	cachedAt  time.Time
}

// NewService constructs the key service. legacyKey, when non-nil, is kept
// even when the active provider is KMS-backed so Decrypt can fall back to it
// for ciphertexts written before KMS was configured. jwtSecret and
// appsScriptSecret back IssueJWT/VerifyJWT and the Apps Script token
// envelope respectively.
func NewService(km KeyManager, records KeyRecordStore, legacyKey []byte, jwtSecret string, appsScriptSecret []byte, devMode bool, logger *slog.Logger) *Service {
	return &Service{
		km:           km,
		records:      newKeyRecordCache(records, logger),
		legacyKey:    legacyKey,
		logger:       logger,
		jwtSecret:    jwtSecret,
		devMode:      devMode,
		appsSecret:   appsScriptSecret,
		dataKeyCache: make(map[string]dataKeyCacheEntry),
	}
}

// Encrypt encrypts plaintext with AES-256-GCM using the currently active
// key. Picks a KMS-generated data key when the active record has a
// kmsKeyArn, otherwise the record's stored derived key, otherwise the
// process-level legacy key.
func (s *Service) Encrypt(ctx context.Context, plaintext []byte) (Envelope, error) {
	rec, recErr := s.records.activeRecord(ctx, false)

	var keyMaterial []byte
	var keyRecordID *uuid.UUID
	var dataKeyCiphertext []byte

	switch {
	case recErr == nil && rec.KMSKeyARN != "":
		dk, err := s.km.GenerateDataKey(ctx)
		if err != nil {
			return Envelope{}, fmt.Errorf("generating data key: %w", err)
		}
		keyMaterial = dk.Plaintext
		dataKeyCiphertext = dk.Ciphertext
		id := rec.ID
		keyRecordID = &id

	case recErr == nil:
		if key, ok := decodeDerivedKey(s.logger, rec.DerivedKeyB64); ok {
			keyMaterial = key
			id := rec.ID
			keyRecordID = &id
		}
	}

	if keyMaterial == nil {
		if s.legacyKey == nil {
			return Envelope{}, ErrKeyUnavailable
		}
		s.logger.Warn("encrypting with legacy key — no active key record available")
		keyMaterial = s.legacyKey
	}

	ciphertext, iv, err := aesGCMEncrypt(keyMaterial, plaintext, []byte(credentialsAAD))
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		Ciphertext:        ciphertext,
		IV:                iv,
		KeyRecordID:       keyRecordID,
		DataKeyCiphertext: dataKeyCiphertext,
	}, nil
}

// Decrypt reverses Encrypt. Key resolution order: (a) KMS unwrap of
// DataKeyCiphertext if the named record has a kmsKeyArn, (b) the record's
// stored derived key, (c) the legacy key as a last, logged resort.
func (s *Service) Decrypt(ctx context.Context, env Envelope) ([]byte, error) {
	keyMaterial, err := s.resolveDecryptKey(ctx, env)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesGCMDecrypt(keyMaterial, env.Ciphertext, env.IV, []byte(credentialsAAD))
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	return plaintext, nil
}

func (s *Service) resolveDecryptKey(ctx context.Context, env Envelope) ([]byte, error) {
	if env.KeyRecordID == nil {
		if s.legacyKey == nil {
			return nil, ErrKeyUnavailable
		}
		return s.legacyKey, nil
	}

	rec, err := s.records.byID(ctx, *env.KeyRecordID)
	if err != nil {
		if s.legacyKey != nil {
			s.logger.Warn("key record lookup failed, falling back to legacy key", "error", err)
			return s.legacyKey, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}

	if len(env.DataKeyCiphertext) > 0 && rec.KMSKeyARN != "" {
		if cached, ok := s.cachedDataKey(*env.KeyRecordID, env.DataKeyCiphertext); ok {
			return cached, nil
		}

		plaintext, err := s.km.Decrypt(ctx, env.DataKeyCiphertext)
		if err == nil {
			s.cacheDataKey(*env.KeyRecordID, env.DataKeyCiphertext, plaintext)
			return plaintext, nil
		}

		s.logger.Warn("KMS decrypt failed, attempting fallback", "error", err)
		if key, ok := decodeDerivedKey(s.logger, rec.DerivedKeyB64); ok {
			return key, nil
		}
		if s.legacyKey != nil {
			s.logger.Warn("falling back to legacy key after KMS failure")
			return s.legacyKey, nil
		}
		return nil, fmt.Errorf("%w: KMS decrypt failed and no fallback available: %v", ErrKeyUnavailable, err)
	}

	if key, ok := decodeDerivedKey(s.logger, rec.DerivedKeyB64); ok {
		return key, nil
	}

	if s.legacyKey == nil {
		return nil, ErrKeyUnavailable
	}
	s.logger.Warn("decrypting with legacy key — record has no usable derived or KMS key")
	return s.legacyKey, nil
}

func (s *Service) cachedDataKey(recordID uuid.UUID, ciphertext []byte) ([]byte, bool) {
	s.dataKeyMu.Lock()
	defer s.dataKeyMu.Unlock()

	key := dataKeyCacheKey(recordID, ciphertext)
	entry, ok := s.dataKeyCache[key]
	if !ok || time.Since(entry.cachedAt) > dataKeyCacheTTL {
		return nil, false
	}
	return entry.plaintext, true
}

func (s *Service) cacheDataKey(recordID uuid.UUID, ciphertext, plaintext []byte) {
	s.dataKeyMu.Lock()
	defer s.dataKeyMu.Unlock()
	s.dataKeyCache[dataKeyCacheKey(recordID, ciphertext)] = dataKeyCacheEntry{plaintext: plaintext, cachedAt: time.Now()}
}

func dataKeyCacheKey(recordID uuid.UUID, ciphertext []byte) string {
	return recordID.String() + ":" + base64.StdEncoding.EncodeToString(ciphertext)
}

// EncryptCredentials JSON-encodes v and encrypts the resulting bytes.
func (s *Service) EncryptCredentials(ctx context.Context, v any) (Envelope, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling credentials: %w", err)
	}
	return s.Encrypt(ctx, raw)
}

// DecryptCredentials decrypts env and JSON-decodes the plaintext into out.
func (s *Service) DecryptCredentials(ctx context.Context, env Envelope, out any) error {
	raw, err := s.Decrypt(ctx, env)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshaling credentials: %w", err)
	}
	return nil
}

func aesGCMEncrypt(key, plaintext, aad []byte) (ciphertext, iv []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("creating GCM: %w", err)
	}
	iv = make([]byte, 12)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("generating IV: %w", err)
	}
	ciphertext = gcm.Seal(nil, iv, plaintext, aad)
	return ciphertext, iv, nil
}

func aesGCMDecrypt(key, ciphertext, iv, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm.Open(nil, iv, ciphertext, aad)
}

// constantTimeEqual wraps subtle.ConstantTimeCompare with a bool return.
func constantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
