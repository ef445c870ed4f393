package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullableTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func timePtrFromNull(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r Repo) InsertRoute(ctx context.Context, tx *sql.Tx, rt domain.Route) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO routes(id,technician_id,date,name,created_at) VALUES (?,?,?,?,?)`,
		rt.ID, nullable(rt.TechnicianID), rt.Date, nullable(rt.Name), fmtTime(rt.CreatedAt))
	return err
}

func scanRoute(scan func(dest ...any) error) (domain.Route, error) {
	var rt domain.Route
	var technicianID, name sql.NullString
	var createdAt string
	if err := scan(&rt.ID, &technicianID, &rt.Date, &name, &createdAt); err != nil {
		return rt, err
	}
	if technicianID.Valid {
		rt.TechnicianID = technicianID.String
	}
	if name.Valid {
		rt.Name = name.String
	}
	var err error
	rt.CreatedAt, err = parseTime(createdAt)
	return rt, err
}

func (r Repo) GetRoute(ctx context.Context, id string) (domain.Route, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,technician_id,date,name,created_at FROM routes WHERE id=?`, id)
	rt, err := scanRoute(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Route{}, ErrNotFound
	}
	return rt, err
}

func (r Repo) ListRoutes(ctx context.Context, technicianID string) ([]domain.Route, error) {
	query := `SELECT id,technician_id,date,name,created_at FROM routes`
	var args []any
	if technicianID != "" {
		query += ` WHERE technician_id=?`
		args = append(args, technicianID)
	}
	query += ` ORDER BY date DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Route
	for rows.Next() {
		rt, err := scanRoute(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rt)
	}
	return res, rows.Err()
}

const jobColumns = `id,route_id,position,customer_name,address,scheduled_at,status,start_time,completion_time,signature,notes,pinned_notes,created_at,updated_at`

func scanJob(scan func(dest ...any) error) (domain.Job, error) {
	var j domain.Job
	var address, startTime, completionTime, signature, notes, pinnedNotes sql.NullString
	var scheduledAt, createdAt, updatedAt, status string
	if err := scan(&j.ID, &j.RouteID, &j.Position, &j.CustomerName, &address, &scheduledAt, &status,
		&startTime, &completionTime, &signature, &notes, &pinnedNotes, &createdAt, &updatedAt); err != nil {
		return j, err
	}
	j.Status = domain.JobStatus(status)
	if address.Valid {
		j.Address = address.String
	}
	if signature.Valid {
		j.Signature = &signature.String
	}
	if notes.Valid {
		j.Notes = notes.String
	}
	if pinnedNotes.Valid {
		j.PinnedNotes = pinnedNotes.String
	}
	var err error
	if j.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return j, err
	}
	if j.StartTime, err = timePtrFromNull(startTime); err != nil {
		return j, err
	}
	if j.CompletionTime, err = timePtrFromNull(completionTime); err != nil {
		return j, err
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return j, err
	}
	j.UpdatedAt, err = parseTime(updatedAt)
	return j, err
}

func (r Repo) InsertJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO jobs(`+jobColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.RouteID, j.Position, j.CustomerName, nullable(j.Address), fmtTime(j.ScheduledAt), string(j.Status),
		nullableTimePtr(j.StartTime), nullableTimePtr(j.CompletionTime), nullableStringPtr(j.Signature),
		nullable(j.Notes), nullable(j.PinnedNotes), fmtTime(j.CreatedAt), fmtTime(j.UpdatedAt))
	return err
}

func (r Repo) UpdateJob(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	_, err := tx.ExecContext(ctx, `UPDATE jobs SET position=?, customer_name=?, address=?, scheduled_at=?, status=?, start_time=?, completion_time=?, signature=?, notes=?, pinned_notes=?, updated_at=? WHERE id=?`,
		j.Position, j.CustomerName, nullable(j.Address), fmtTime(j.ScheduledAt), string(j.Status),
		nullableTimePtr(j.StartTime), nullableTimePtr(j.CompletionTime), nullableStringPtr(j.Signature),
		nullable(j.Notes), nullable(j.PinnedNotes), fmtTime(j.UpdatedAt), j.ID)
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Job{}, ErrNotFound
	}
	return j, err
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id string) (domain.Job, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Job{}, ErrNotFound
	}
	return j, err
}

type JobFilters struct {
	RouteID        string
	Status         string
	Limit          int
	CursorPosition *int
	CursorID       string
}

// ListJobs returns jobs in route order (position, then id) with optional
// cursor pagination.
func (r Repo) ListJobs(ctx context.Context, f JobFilters) ([]domain.Job, error) {
	var clauses []string
	var args []any
	if f.RouteID != "" {
		clauses = append(clauses, "route_id=?")
		args = append(args, f.RouteID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.CursorPosition != nil && f.CursorID != "" {
		clauses = append(clauses, "(position > ? OR (position = ? AND id > ?))")
		args = append(args, *f.CursorPosition, *f.CursorPosition, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + jobColumns + ` FROM jobs ` + where + ` ORDER BY position ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// JobsForRouteTx returns the whole route in order inside the caller's
// transaction; sync batches and reorders work against this snapshot.
func (r Repo) JobsForRouteTx(ctx context.Context, tx *sql.Tx, routeID string) ([]domain.Job, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE route_id=? ORDER BY position ASC, id ASC`, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func (r Repo) UpdateJobPositionTx(ctx context.Context, tx *sql.Tx, id string, position int, updatedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE jobs SET position=?, updated_at=? WHERE id=?`, position, fmtTime(updatedAt), id)
	return err
}

// NextJobPosition returns the append position for a route.
func (r Repo) NextJobPosition(ctx context.Context, tx *sql.Tx, routeID string) (int, error) {
	var next int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position)+1,0) FROM jobs WHERE route_id=?`, routeID).Scan(&next)
	return next, err
}

func (r Repo) CountJobsByStatus(ctx context.Context, routeID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM jobs WHERE route_id=? GROUP BY status`, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func scanJournal(scan func(dest ...any) error) (domain.JournalEntry, error) {
	var e domain.JournalEntry
	var ts string
	var routeID, jobID sql.NullString
	if err := scan(&e.ID, &ts, &e.Kind, &routeID, &jobID, &e.TechnicianID, &e.Payload); err != nil {
		return e, err
	}
	if routeID.Valid {
		e.RouteID = routeID.String
	}
	if jobID.Valid {
		e.JobID = jobID.String
	}
	var err error
	e.TS, err = parseTime(ts)
	return e, err
}

// JournalAfter returns journal entries with IDs greater than the cursor in
// ascending order.
func (r Repo) JournalAfter(ctx context.Context, limit int, cursor int64, routeID string) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if routeID != "" {
		clauses = append(clauses, "route_id=?")
		args = append(args, routeID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,kind,route_id,job_id,technician_id,payload_json FROM journal %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JournalEntry
	for rows.Next() {
		e, err := scanJournal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestJournal returns the newest entries first, optionally filtered and
// resumable with an id cursor.
func (r Repo) LatestJournal(ctx context.Context, limit int, cursor int64, routeID, kind string) ([]domain.JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if routeID != "" {
		clauses = append(clauses, "route_id=?")
		args = append(args, routeID)
	}
	if kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, kind)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,kind,route_id,job_id,technician_id,payload_json FROM journal %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.JournalEntry
	for rows.Next() {
		e, err := scanJournal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestJournalID returns the most recent journal ID for a route.
func (r Repo) LatestJournalID(ctx context.Context, routeID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM journal`
	var args []any
	if routeID != "" {
		query += ` WHERE route_id=?`
		args = append(args, routeID)
	}
	var id int64
	if err := r.DB.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
