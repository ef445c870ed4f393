package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
)

// HashDeviceKey returns a stable SHA-256 hex digest for the provided key.
func HashDeviceKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertDeviceKey stores a hashed device key. KeyHash must already contain
// the hashed value.
func (r Repo) InsertDeviceKey(ctx context.Context, tx *sql.Tx, key domain.DeviceKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.TechnicianID == "" {
		return errors.New("technician_id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	_, err := exec(`INSERT INTO device_keys(id, technician_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.TechnicianID, nullable(key.Name), key.KeyHash, fmtTime(key.CreatedAt))
	return err
}

// GetDeviceKeyByHash returns a device key by its hashed value.
func (r Repo) GetDeviceKeyByHash(ctx context.Context, hash string) (domain.DeviceKey, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, technician_id, COALESCE(name,''), key_hash, created_at FROM device_keys WHERE key_hash=? LIMIT 1`, hash)
	var key domain.DeviceKey
	var name, createdAt string
	err := row.Scan(&key.ID, &key.TechnicianID, &name, &key.KeyHash, &createdAt)
	if err == sql.ErrNoRows {
		return domain.DeviceKey{}, ErrNotFound
	}
	if err != nil {
		return domain.DeviceKey{}, err
	}
	key.Name = name
	key.CreatedAt, err = parseTime(createdAt)
	return key, err
}

// ListDeviceKeys returns device keys, optionally filtered by technician.
func (r Repo) ListDeviceKeys(ctx context.Context, technicianID string) ([]domain.DeviceKey, error) {
	query := `SELECT id, technician_id, COALESCE(name,''), key_hash, created_at FROM device_keys`
	var args []any
	if technicianID != "" {
		query += ` WHERE technician_id=?`
		args = append(args, technicianID)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []domain.DeviceKey
	for rows.Next() {
		var key domain.DeviceKey
		var name, createdAt string
		if err := rows.Scan(&key.ID, &key.TechnicianID, &name, &key.KeyHash, &createdAt); err != nil {
			return nil, err
		}
		key.Name = name
		if key.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// DeleteDeviceKey revokes a device key by ID.
func (r Repo) DeleteDeviceKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM device_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteDeviceKeyTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM device_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
