package db

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// KeyRecord is a row from public.encryption_keys describing one generation
// of the credential-store encryption key.
type KeyRecord struct {
	ID            uuid.UUID
	KMSKeyARN     string
	DerivedKeyB64 string
	IsActive      bool
	CreatedAt     time.Time
}

const keyRecordColumns = `id, kms_key_arn, derived_key_b64, is_active, created_at`

func scanKeyRecord(row interface{ Scan(dest ...any) error }) (KeyRecord, error) {
	var k KeyRecord
	err := row.Scan(&k.ID, &k.KMSKeyARN, &k.DerivedKeyB64, &k.IsActive, &k.CreatedAt)
	return k, err
}

// GetActiveKeyRecord returns the currently active encryption key record.
func (q *Queries) GetActiveKeyRecord(ctx context.Context) (KeyRecord, error) {
	row := q.db.QueryRow(ctx, `SELECT `+keyRecordColumns+` FROM public.encryption_keys WHERE is_active = true ORDER BY created_at DESC LIMIT 1`)
	return scanKeyRecord(row)
}

// GetKeyRecord looks up a key record by ID, active or not — Decrypt needs
// to resolve records that have since been rotated out.
func (q *Queries) GetKeyRecord(ctx context.Context, id uuid.UUID) (KeyRecord, error) {
	row := q.db.QueryRow(ctx, `SELECT `+keyRecordColumns+` FROM public.encryption_keys WHERE id = $1`, id)
	return scanKeyRecord(row)
}

// CreateKeyRecordParams holds parameters for registering a new key
// generation (used by key rotation).
type CreateKeyRecordParams struct {
	KMSKeyARN     string
	DerivedKeyB64 string
}

// CreateKeyRecord inserts a new key record and marks it active, after
// deactivating all others with a separate UPDATE statement.
func (q *Queries) CreateKeyRecord(ctx context.Context, p CreateKeyRecordParams) (KeyRecord, error) {
	if _, err := q.db.Exec(ctx, `UPDATE public.encryption_keys SET is_active = false`); err != nil {
		return KeyRecord{}, err
	}
	row := q.db.QueryRow(ctx, `
		INSERT INTO public.encryption_keys (kms_key_arn, derived_key_b64, is_active)
		VALUES ($1, $2, true)
		RETURNING `+keyRecordColumns,
		p.KMSKeyARN, p.DerivedKeyB64,
	)
	return scanKeyRecord(row)
}
