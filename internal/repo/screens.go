package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
)

func (r Repo) UpsertScreen(ctx context.Context, s domain.Screen) (domain.Screen, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Screen{}, err
	}
	defer tx.Rollback()
	stored, err := r.UpsertScreenTx(ctx, tx, s)
	if err != nil {
		return domain.Screen{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Screen{}, err
	}
	return stored, nil
}

// UpsertScreenTx stores a screen by name; on conflict the definition and
// version are replaced while id and created_at are kept.
func (r Repo) UpsertScreenTx(ctx context.Context, tx *sql.Tx, s domain.Screen) (domain.Screen, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO screens(id, name, version, definition_json, created_at, updated_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(name) DO UPDATE SET version=excluded.version, definition_json=excluded.definition_json, updated_at=excluded.updated_at`,
		s.ID, s.Name, s.Version, s.Definition, fmtTime(s.CreatedAt), fmtTime(s.UpdatedAt))
	if err != nil {
		return domain.Screen{}, err
	}
	return r.GetScreenByNameTx(ctx, tx, s.Name)
}

func scanScreen(scan func(dest ...any) error) (domain.Screen, error) {
	var s domain.Screen
	var createdAt, updatedAt string
	if err := scan(&s.ID, &s.Name, &s.Version, &s.Definition, &createdAt, &updatedAt); err != nil {
		return s, err
	}
	var err error
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return s, err
	}
	s.UpdatedAt, err = parseTime(updatedAt)
	return s, err
}

func (r Repo) GetScreen(ctx context.Context, id string) (domain.Screen, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, name, version, definition_json, created_at, updated_at FROM screens WHERE id=?`, id)
	s, err := scanScreen(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Screen{}, ErrNotFound
	}
	return s, err
}

func (r Repo) GetScreenByName(ctx context.Context, name string) (domain.Screen, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, name, version, definition_json, created_at, updated_at FROM screens WHERE name=?`, name)
	s, err := scanScreen(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Screen{}, ErrNotFound
	}
	return s, err
}

func (r Repo) GetScreenByNameTx(ctx context.Context, tx *sql.Tx, name string) (domain.Screen, error) {
	row := tx.QueryRowContext(ctx, `SELECT id, name, version, definition_json, created_at, updated_at FROM screens WHERE name=?`, name)
	s, err := scanScreen(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Screen{}, ErrNotFound
	}
	return s, err
}

func (r Repo) ListScreens(ctx context.Context) ([]domain.Screen, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, name, version, definition_json, created_at, updated_at FROM screens ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Screen
	for rows.Next() {
		s, err := scanScreen(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) DeleteScreen(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrNotFound
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM screens WHERE name=?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteScreenTx(ctx context.Context, tx *sql.Tx, name string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM screens WHERE name=?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
