package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
)

// UpsertReasonCode adds to or updates the reason vocabulary.
func (r Repo) UpsertReasonCode(ctx context.Context, tx *sql.Tx, rc domain.ReasonCode) error {
	active := 0
	if rc.Active {
		active = 1
	}
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	_, err := exec(`INSERT INTO reason_codes(code, label, category, active, created_at)
VALUES (?,?,?,?,?)
ON CONFLICT(code) DO UPDATE SET label=excluded.label, category=excluded.category, active=excluded.active`,
		rc.ID, rc.Label, string(rc.Category), active, fmtTime(time.Now()))
	return err
}

func scanReasonCode(scan func(dest ...any) error) (domain.ReasonCode, error) {
	var rc domain.ReasonCode
	var category string
	var active int
	if err := scan(&rc.ID, &rc.Label, &category, &active); err != nil {
		return rc, err
	}
	rc.Category = domain.ReasonCategory(category)
	rc.Active = active != 0
	return rc, nil
}

func (r Repo) GetReasonCode(ctx context.Context, code string) (domain.ReasonCode, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT code, label, category, active FROM reason_codes WHERE code=?`, code)
	rc, err := scanReasonCode(row.Scan)
	if err == sql.ErrNoRows {
		return domain.ReasonCode{}, ErrNotFound
	}
	return rc, err
}

func (r Repo) GetReasonCodeTx(ctx context.Context, tx *sql.Tx, code string) (domain.ReasonCode, error) {
	row := tx.QueryRowContext(ctx, `SELECT code, label, category, active FROM reason_codes WHERE code=?`, code)
	rc, err := scanReasonCode(row.Scan)
	if err == sql.ErrNoRows {
		return domain.ReasonCode{}, ErrNotFound
	}
	return rc, err
}

func (r Repo) ListReasonCodes(ctx context.Context, activeOnly bool) ([]domain.ReasonCode, error) {
	query := `SELECT code, label, category, active FROM reason_codes`
	if activeOnly {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY category ASC, code ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReasonCode
	for rows.Next() {
		rc, err := scanReasonCode(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rc)
	}
	return res, rows.Err()
}

// SetReasonCodeActive toggles a code without rewriting its label.
func (r Repo) SetReasonCodeActive(ctx context.Context, code string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE reason_codes SET active=? WHERE code=?`, v, code)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
