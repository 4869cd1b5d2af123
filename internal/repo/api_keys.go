package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"agencyops/internal/domain"
)

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKey stores a hashed API key. KeyHash must already contain the hashed value.
func (r Repo) InsertAPIKey(ctx context.Context, q DBTX, key domain.APIKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.TeammateID == "" {
		return errors.New("teammate_id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	if key.CreatedAt == "" {
		key.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := q.ExecContext(ctx, `INSERT INTO api_keys(id, teammate_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.TeammateID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func scanAPIKey(s scanner) (domain.APIKey, error) {
	var key domain.APIKey
	var name, lastUsed sql.NullString
	err := s.Scan(&key.ID, &key.TeammateID, &name, &key.KeyHash, &key.CreatedAt, &lastUsed)
	if err == sql.ErrNoRows {
		return key, ErrNotFound
	}
	key.Name = name.String
	key.LastUsedAt = stringPtr(lastUsed)
	return key, err
}

// GetAPIKeyByHash returns an API key by its hashed value and stamps its last use.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	key, err := scanAPIKey(r.DB.QueryRowContext(ctx, `SELECT id, teammate_id, name, key_hash, created_at, last_used_at FROM api_keys WHERE key_hash=? LIMIT 1`, hash))
	if err != nil {
		return key, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := r.DB.ExecContext(ctx, `UPDATE api_keys SET last_used_at=? WHERE id=?`, now, key.ID); err == nil {
		key.LastUsedAt = &now
	}
	return key, nil
}

// ListAPIKeys returns API keys, optionally filtered by teammate ID.
func (r Repo) ListAPIKeys(ctx context.Context, teammateID string) ([]domain.APIKey, error) {
	query := `SELECT id, teammate_id, name, key_hash, created_at, last_used_at FROM api_keys`
	var args []any
	if teammateID != "" {
		query += ` WHERE teammate_id=?`
		args = append(args, teammateID)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteAPIKey deletes an API key owned by teammateID.
func (r Repo) DeleteAPIKey(ctx context.Context, id, teammateID string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	return affectedOrNotFound(r.DB.ExecContext(ctx, `DELETE FROM api_keys WHERE id=? AND teammate_id=?`, id, teammateID))
}
