package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
)

// EnsureTechnician inserts a bare technician row if one does not exist yet.
func (r Repo) EnsureTechnician(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	ts := fmtTime(now)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO technicians(id, created_at, updated_at) VALUES (?,?,?)`, id, ts, ts)
	return err
}

func (r Repo) UpsertTechnician(ctx context.Context, t domain.Technician) (domain.Technician, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Technician{}, err
	}
	defer tx.Rollback()
	stored, err := r.UpsertTechnicianTx(ctx, tx, t)
	if err != nil {
		return domain.Technician{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Technician{}, err
	}
	return stored, nil
}

func (r Repo) UpsertTechnicianTx(ctx context.Context, tx *sql.Tx, t domain.Technician) (domain.Technician, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO technicians(id, name, region, created_at, updated_at)
VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, region=excluded.region, updated_at=excluded.updated_at`,
		t.ID, nullable(t.Name), nullable(t.Region), fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt))
	if err != nil {
		return domain.Technician{}, err
	}
	return r.GetTechnicianTx(ctx, tx, t.ID)
}

func scanTechnician(scan func(dest ...any) error) (domain.Technician, error) {
	var t domain.Technician
	var name, region sql.NullString
	var createdAt, updatedAt string
	if err := scan(&t.ID, &name, &region, &createdAt, &updatedAt); err != nil {
		return t, err
	}
	if name.Valid {
		t.Name = name.String
	}
	if region.Valid {
		t.Region = region.String
	}
	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return t, err
	}
	t.UpdatedAt, err = parseTime(updatedAt)
	return t, err
}

func (r Repo) GetTechnician(ctx context.Context, id string) (domain.Technician, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, name, region, created_at, updated_at FROM technicians WHERE id=?`, id)
	t, err := scanTechnician(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Technician{}, ErrNotFound
	}
	return t, err
}

func (r Repo) GetTechnicianTx(ctx context.Context, tx *sql.Tx, id string) (domain.Technician, error) {
	row := tx.QueryRowContext(ctx, `SELECT id, name, region, created_at, updated_at FROM technicians WHERE id=?`, id)
	t, err := scanTechnician(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Technician{}, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTechnicians(ctx context.Context) ([]domain.Technician, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, name, region, created_at, updated_at FROM technicians ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Technician
	for rows.Next() {
		t, err := scanTechnician(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
