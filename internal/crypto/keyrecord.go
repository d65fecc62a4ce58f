package crypto

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/orchestra/internal/db"
)

// keyRecordCacheTTL bounds how long a fetched key record is trusted before
// the next Encrypt call refreshes it, per spec (5 min or forced refresh
// after rotation).
const keyRecordCacheTTL = 5 * time.Minute

// KeyRecord is a row describing one generation of encryption key: either a
// KMS-wrapped data key (KMSKeyARN set) or a database-stored derived key
// (DerivedKeyB64 set).
type KeyRecord = db.KeyRecord

// KeyRecordStore persists key records. Implemented by internal/db against
// the public.encryption_keys table.
type KeyRecordStore interface {
	GetActiveKeyRecord(ctx context.Context) (KeyRecord, error)
	GetKeyRecord(ctx context.Context, id uuid.UUID) (KeyRecord, error)
}

// keyRecordCache caches the active key record for keyRecordCacheTTL so
// Encrypt doesn't round-trip to Postgres on every call.
type keyRecordCache struct {
	mu        sync.Mutex
	store     KeyRecordStore
	record    *KeyRecord
	fetchedAt time.Time
	logger    *slog.Logger
}

func newKeyRecordCache(store KeyRecordStore, logger *slog.Logger) *keyRecordCache {
	return &keyRecordCache{store: store, logger: logger}
}

// activeRecord returns the cached active key record, refreshing it if the
// cache is empty, stale, or forceRefresh is set (used right after rotation).
func (c *keyRecordCache) activeRecord(ctx context.Context, forceRefresh bool) (*KeyRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !forceRefresh && c.record != nil && time.Since(c.fetchedAt) < keyRecordCacheTTL {
		return c.record, nil
	}

	rec, err := c.store.GetActiveKeyRecord(ctx)
	if err != nil {
		if c.record != nil {
			c.logger.Warn("key record refresh failed, serving stale cache", "error", err)
			return c.record, nil
		}
		return nil, fmt.Errorf("fetching active key record: %w", err)
	}

	c.record = &rec
	c.fetchedAt = time.Now()
	return c.record, nil
}

// byID fetches a specific key record by ID, bypassing the active-record
// cache (used during Decrypt when the ciphertext names an older, possibly
// rotated-out record).
func (c *keyRecordCache) byID(ctx context.Context, id uuid.UUID) (*KeyRecord, error) {
	rec, err := c.store.GetKeyRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching key record %s: %w", id, err)
	}
	return &rec, nil
}

// decodeDerivedKey base64-decodes a record's stored derived key. Decode
// failures are logged and treated as "no derived key available" so the
// caller can fall through to the next key source.
func decodeDerivedKey(logger *slog.Logger, b64 string) ([]byte, bool) {
	if b64 == "" {
		return nil, false
	}
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		logger.Warn("skipping key record: derived key is not valid base64", "error", err)
		return nil, false
	}
	if len(key) != 32 {
		logger.Warn("skipping key record: derived key is not 32 bytes", "length", len(key))
		return nil, false
	}
	return key, true
}
