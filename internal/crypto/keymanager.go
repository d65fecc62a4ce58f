// Package crypto implements the envelope encryption and key service
// described for the credential store: a pluggable KeyManager (AWS KMS,
// GCP KMS, or a locally-derived key) generates and unwraps 32-byte data
// keys, which internal/crypto then uses for AES-256-GCM encryption of
// connection credentials, password hashing, JWT issuance, and signed
// Apps Script secret tokens.
package crypto

import (
	"context"
	"crypto/rand"
	"fmt"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awskms "github.com/aws/aws-sdk-go-v2/service/kms"
	"golang.org/x/crypto/scrypt"
)

// DataKey is a generated data-encryption key: Plaintext is the raw 32-byte
// AES key material, Ciphertext is the KMS-wrapped form to persist alongside
// the encrypted payload so it can be unwrapped again later. Ciphertext is
// nil for the local provider, which re-derives the same key deterministically
// instead of wrapping one.
type DataKey struct {
	Plaintext  []byte
	Ciphertext []byte
}

// KeyManager generates and unwraps 32-byte AES-256 data keys. Exactly one
// implementation is active per process, selected by KMS_PROVIDER.
type KeyManager interface {
	// GenerateDataKey returns a fresh data key. For KMS-backed providers the
	// returned Ciphertext must be persisted; it is required to later Decrypt.
	GenerateDataKey(ctx context.Context) (DataKey, error)

	// Decrypt unwraps a previously generated data key from its ciphertext.
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// legacyScryptSalt is fixed so the same master key always derives the same
// 32-byte legacy key. It is not a secret; ENCRYPTION_MASTER_KEY is.
var legacyScryptSalt = []byte("orchestra-legacy-key-service-salt")

// DeriveLegacyKey derives the process-level fallback key from
// ENCRYPTION_MASTER_KEY via scrypt with a fixed salt. Used as the
// third-precedence key source in Encrypt/Decrypt, and as the sole key
// source for the "local" KMS_PROVIDER.
func DeriveLegacyKey(masterKey string) ([]byte, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_MASTER_KEY is empty")
	}
	key, err := scrypt.Key([]byte(masterKey), legacyScryptSalt, 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("deriving legacy key: %w", err)
	}
	return key, nil
}

// LocalKeyManager implements KeyManager by deterministically re-deriving
// the same 32-byte key from ENCRYPTION_MASTER_KEY every time — there is no
// KMS to wrap a key with, so GenerateDataKey and Decrypt both resolve to
// the same legacy key.
type LocalKeyManager struct {
	key []byte
}

// NewLocalKeyManager derives the local key once at construction so a bad
// ENCRYPTION_MASTER_KEY fails at startup rather than on first use.
func NewLocalKeyManager(masterKey string) (*LocalKeyManager, error) {
	key, err := DeriveLegacyKey(masterKey)
	if err != nil {
		return nil, err
	}
	return &LocalKeyManager{key: key}, nil
}

func (l *LocalKeyManager) GenerateDataKey(_ context.Context) (DataKey, error) {
	return DataKey{Plaintext: l.key}, nil
}

func (l *LocalKeyManager) Decrypt(_ context.Context, _ []byte) ([]byte, error) {
	return l.key, nil
}

// AWSKeyManager wraps data keys with an AWS KMS customer master key.
type AWSKeyManager struct {
	client *awskms.Client
	keyARN string
}

// NewAWSKeyManager loads the default AWS config chain and constructs a KMS
// client bound to the given key ARN.
func NewAWSKeyManager(ctx context.Context, keyARN string) (*AWSKeyManager, error) {
	if keyARN == "" {
		return nil, fmt.Errorf("KMS_KEY_ARN is required when KMS_PROVIDER=aws")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &AWSKeyManager{client: awskms.NewFromConfig(cfg), keyARN: keyARN}, nil
}

func (a *AWSKeyManager) GenerateDataKey(ctx context.Context) (DataKey, error) {
	out, err := a.client.GenerateDataKey(ctx, &awskms.GenerateDataKeyInput{
		KeyId:   aws.String(a.keyARN),
		KeySpec: "AES_256",
	})
	if err != nil {
		return DataKey{}, fmt.Errorf("AWS GenerateDataKey: %w", err)
	}
	return DataKey{Plaintext: out.Plaintext, Ciphertext: out.CiphertextBlob}, nil
}

func (a *AWSKeyManager) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	out, err := a.client.Decrypt(ctx, &awskms.DecryptInput{
		CiphertextBlob: ciphertext,
		KeyId:          aws.String(a.keyARN),
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS Decrypt: %w", err)
	}
	return out.Plaintext, nil
}

// GCPKeyManager wraps data keys with a Cloud KMS key ring resource.
type GCPKeyManager struct {
	client       *kms.KeyManagementClient
	resourceName string
}

// NewGCPKeyManager constructs a Cloud KMS client bound to the given key
// resource name (projects/.../locations/.../keyRings/.../cryptoKeys/...).
func NewGCPKeyManager(ctx context.Context, resourceName string) (*GCPKeyManager, error) {
	if resourceName == "" {
		return nil, fmt.Errorf("KMS_KEY_RESOURCE_NAME is required when KMS_PROVIDER=gcp")
	}
	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating Cloud KMS client: %w", err)
	}
	return &GCPKeyManager{client: client, resourceName: resourceName}, nil
}

func (g *GCPKeyManager) GenerateDataKey(ctx context.Context) (DataKey, error) {
	plaintext := make([]byte, 32)
	if _, err := rand.Read(plaintext); err != nil {
		return DataKey{}, fmt.Errorf("generating data key material: %w", err)
	}

	resp, err := g.client.Encrypt(ctx, &kmspb.EncryptRequest{
		Name:      g.resourceName,
		Plaintext: plaintext,
	})
	if err != nil {
		return DataKey{}, fmt.Errorf("Cloud KMS Encrypt: %w", err)
	}

	return DataKey{Plaintext: plaintext, Ciphertext: resp.Ciphertext}, nil
}

func (g *GCPKeyManager) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	resp, err := g.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:       g.resourceName,
		Ciphertext: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("Cloud KMS Decrypt: %w", err)
	}
	return resp.Plaintext, nil
}

// NewKeyManager constructs the KeyManager selected by provider
// ("aws", "gcp", or "local"), per KMS_PROVIDER.
func NewKeyManager(ctx context.Context, provider, masterKey, awsKeyARN, gcpKeyResourceName string) (KeyManager, error) {
	switch provider {
	case "aws":
		return NewAWSKeyManager(ctx, awsKeyARN)
	case "gcp":
		return NewGCPKeyManager(ctx, gcpKeyResourceName)
	case "local", "":
		return NewLocalKeyManager(masterKey)
	default:
		return nil, fmt.Errorf("unknown KMS_PROVIDER %q", provider)
	}
}
