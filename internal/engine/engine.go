package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jbriggs-source/PestGenie-sub001/internal/config"
	"github.com/jbriggs-source/PestGenie-sub001/internal/descriptor"
	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
	"github.com/jbriggs-source/PestGenie-sub001/internal/journal"
	"github.com/jbriggs-source/PestGenie-sub001/internal/lifecycle"
	"github.com/jbriggs-source/PestGenie-sub001/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Journal journal.Writer
	Config  *config.Config
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Journal: journal.Writer{DB: db},
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ReasonCodeError reports a reason code that cannot gate the given action.
type ReasonCodeError struct {
	Code string
	Kind domain.ActionKind
}

func (e ReasonCodeError) Error() string {
	return fmt.Sprintf("reason code %q is not valid for %s", e.Code, e.Kind)
}

// ScreenValidationError carries every invalid component found in a pushed
// screen definition.
type ScreenValidationError struct {
	Errors []descriptor.ValidationError
}

func (e ScreenValidationError) Error() string {
	return fmt.Sprintf("screen definition has %d invalid component(s); first: %s", len(e.Errors), e.Errors[0].Error())
}

type RouteCreateOptions struct {
	ID           string
	TechnicianID string
	Date         string
	Name         string
	ActorID      string
}

func (e Engine) CreateRoute(ctx context.Context, opts RouteCreateOptions) (domain.Route, error) {
	if opts.Date == "" {
		return domain.Route{}, errors.New("date is required")
	}
	if _, err := time.Parse("2006-01-02", opts.Date); err != nil {
		return domain.Route{}, fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	now := e.now().UTC()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Route{}, err
	}
	defer tx.Rollback()

	if opts.TechnicianID != "" {
		if err := e.Repo.EnsureTechnician(ctx, tx, opts.TechnicianID, now); err != nil {
			return domain.Route{}, err
		}
	}
	rt := domain.Route{
		ID:           opts.ID,
		TechnicianID: opts.TechnicianID,
		Date:         opts.Date,
		Name:         opts.Name,
		CreatedAt:    now,
	}
	if err := e.Repo.InsertRoute(ctx, tx, rt); err != nil {
		return domain.Route{}, fmt.Errorf("insert route: %w", err)
	}
	if err := e.Journal.Append(ctx, tx, "route.created", rt.ID, "", e.actor(opts.ActorID), journal.Payload{
		"date": rt.Date,
		"name": rt.Name,
	}); err != nil {
		return domain.Route{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Route{}, err
	}
	return rt, nil
}

func (e Engine) GetRoute(ctx context.Context, id string) (domain.Route, error) {
	return e.Repo.GetRoute(ctx, id)
}

func (e Engine) ListRoutes(ctx context.Context, technicianID string) ([]domain.Route, error) {
	return e.Repo.ListRoutes(ctx, technicianID)
}

func (e Engine) RouteStatusCounts(ctx context.Context, routeID string) (map[string]int, error) {
	if _, err := e.Repo.GetRoute(ctx, routeID); err != nil {
		return nil, err
	}
	return e.Repo.CountJobsByStatus(ctx, routeID)
}

type JobCreateOptions struct {
	ID           string
	RouteID      string
	CustomerName string
	Address      string
	ScheduledAt  time.Time
	Notes        string
	PinnedNotes  string
	ActorID      string
}

func (e Engine) AddJob(ctx context.Context, opts JobCreateOptions) (domain.Job, error) {
	if opts.RouteID == "" {
		return domain.Job{}, errors.New("route is required")
	}
	if strings.TrimSpace(opts.CustomerName) == "" {
		return domain.Job{}, errors.New("customer name is required")
	}
	if opts.ScheduledAt.IsZero() {
		return domain.Job{}, errors.New("scheduled time is required")
	}
	if _, err := e.Repo.GetRoute(ctx, opts.RouteID); err != nil {
		return domain.Job{}, err
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	now := e.now().UTC()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	position, err := e.Repo.NextJobPosition(ctx, tx, opts.RouteID)
	if err != nil {
		return domain.Job{}, err
	}
	job := domain.Job{
		ID:           opts.ID,
		RouteID:      opts.RouteID,
		Position:     position,
		CustomerName: opts.CustomerName,
		Address:      opts.Address,
		ScheduledAt:  opts.ScheduledAt.UTC(),
		Status:       domain.JobPending,
		Notes:        opts.Notes,
		PinnedNotes:  opts.PinnedNotes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.InsertJob(ctx, tx, job); err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}
	if err := e.Journal.Append(ctx, tx, "job.created", job.RouteID, job.ID, e.actor(opts.ActorID), journal.Payload{
		"customer": job.CustomerName,
		"position": job.Position,
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

type JobUpdateOptions struct {
	JobID        string
	CustomerName *string
	Address      *string
	ScheduledAt  *time.Time
	Notes        *string
	PinnedNotes  *string
	ActorID      string
}

func (e Engine) UpdateJob(ctx context.Context, opts JobUpdateOptions) (domain.Job, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()
	job, err := e.Repo.GetJobTx(ctx, tx, opts.JobID)
	if err != nil {
		return domain.Job{}, err
	}
	var changed []string
	if opts.CustomerName != nil {
		if strings.TrimSpace(*opts.CustomerName) == "" {
			return domain.Job{}, errors.New("customer name must not be empty")
		}
		job.CustomerName = *opts.CustomerName
		changed = append(changed, "customer_name")
	}
	if opts.Address != nil {
		job.Address = *opts.Address
		changed = append(changed, "address")
	}
	if opts.ScheduledAt != nil {
		job.ScheduledAt = opts.ScheduledAt.UTC()
		changed = append(changed, "scheduled_at")
	}
	if opts.Notes != nil {
		job.Notes = *opts.Notes
		changed = append(changed, "notes")
	}
	if opts.PinnedNotes != nil {
		job.PinnedNotes = *opts.PinnedNotes
		changed = append(changed, "pinned_notes")
	}
	if len(changed) == 0 {
		return job, nil
	}
	job.UpdatedAt = e.now().UTC()
	if err := e.Repo.UpdateJob(ctx, tx, job); err != nil {
		return domain.Job{}, err
	}
	if err := e.Journal.Append(ctx, tx, "job.updated", job.RouteID, job.ID, e.actor(opts.ActorID), journal.Payload{
		"fields": changed,
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func (e Engine) GetJob(ctx context.Context, id string) (domain.Job, error) {
	return e.Repo.GetJob(ctx, id)
}

func (e Engine) ListJobs(ctx context.Context, f repo.JobFilters) ([]domain.Job, error) {
	return e.Repo.ListJobs(ctx, f)
}

// ReorderJob is the dispatcher-side move: same remove-then-reinsert the
// device controller performs, gated by a move-capable reason code.
func (e Engine) ReorderJob(ctx context.Context, routeID string, from, to int, reasonCode, actorID string) ([]domain.Job, error) {
	if err := e.checkReason(ctx, reasonCode, domain.ActionMove); err != nil {
		return nil, err
	}
	if _, err := e.Repo.GetRoute(ctx, routeID); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	jobs, err := e.Repo.JobsForRouteTx(ctx, tx, routeID)
	if err != nil {
		return nil, err
	}
	if from < 0 || from >= len(jobs) {
		return nil, fmt.Errorf("source index %d out of range for %d jobs", from, len(jobs))
	}
	if to < 0 || to >= len(jobs) {
		return nil, fmt.Errorf("destination index %d out of range for %d jobs", to, len(jobs))
	}
	moved := jobs[from]
	jobs = lifecycle.Reorder(jobs, from, to)
	for i := range jobs {
		if jobs[i].Position != i {
			jobs[i].Position = i
			if err := e.Repo.UpdateJobPositionTx(ctx, tx, jobs[i].ID, i, now); err != nil {
				return nil, err
			}
		}
	}
	if err := e.Journal.Append(ctx, tx, "route.reordered", routeID, moved.ID, e.actor(actorID), journal.Payload{
		"from":   from,
		"to":     to,
		"reason": reasonCode,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// UpsertScreen validates a wire payload end to end before storing it: the
// version gate, the component decode, and the per-node validation rules all
// have to pass. The stored definition is the canonical re-encoding, so every
// component reaches devices with a stable id.
func (e Engine) UpsertScreen(ctx context.Context, name string, payload []byte, actorID string) (domain.Screen, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Screen{}, errors.New("screen name is required")
	}
	scr, err := descriptor.DecodeScreen(payload)
	if err != nil {
		return domain.Screen{}, err
	}
	if errs := descriptor.ValidateTree(&scr.Component); len(errs) > 0 {
		return domain.Screen{}, ScreenValidationError{Errors: errs}
	}
	canonical, err := descriptor.EncodeScreen(scr)
	if err != nil {
		return domain.Screen{}, err
	}
	now := e.now().UTC()
	s := domain.Screen{
		ID:         uuid.NewString(),
		Name:       name,
		Version:    scr.Version,
		Definition: string(canonical),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Screen{}, err
	}
	defer tx.Rollback()
	stored, err := e.Repo.UpsertScreenTx(ctx, tx, s)
	if err != nil {
		return domain.Screen{}, err
	}
	if err := e.Journal.Append(ctx, tx, "screen.updated", "", "", e.actor(actorID), journal.Payload{
		"name":    stored.Name,
		"version": stored.Version,
	}); err != nil {
		return domain.Screen{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Screen{}, err
	}
	return stored, nil
}

func (e Engine) GetScreen(ctx context.Context, name string) (domain.Screen, error) {
	return e.Repo.GetScreenByName(ctx, name)
}

// ScreenPayload returns the wire JSON a device consumes.
func (e Engine) ScreenPayload(ctx context.Context, name string) ([]byte, error) {
	s, err := e.Repo.GetScreenByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return []byte(s.Definition), nil
}

func (e Engine) ListScreens(ctx context.Context) ([]domain.Screen, error) {
	return e.Repo.ListScreens(ctx)
}

func (e Engine) DeleteScreen(ctx context.Context, name, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteScreenTx(ctx, tx, name); err != nil {
		return err
	}
	if err := e.Journal.Append(ctx, tx, "screen.deleted", "", "", e.actor(actorID), journal.Payload{"name": name}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListReasonCodes(ctx context.Context, activeOnly bool) ([]domain.ReasonCode, error) {
	return e.Repo.ListReasonCodes(ctx, activeOnly)
}

// SeedReasonCodes upserts the configured vocabulary; the migration seed
// covers a config-less database.
func (e Engine) SeedReasonCodes(ctx context.Context, codes []config.ReasonCodeConfig) error {
	if len(codes) == 0 {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, rc := range codes {
		category := domain.ReasonCategory(rc.Category)
		if rc.Category == "" {
			category = domain.ReasonAny
		}
		label := rc.Label
		if label == "" {
			label = rc.Code
		}
		active := rc.Active == nil || *rc.Active
		if err := e.Repo.UpsertReasonCode(ctx, tx, domain.ReasonCode{
			ID:       rc.Code,
			Label:    label,
			Category: category,
			Active:   active,
		}); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (e Engine) UpsertTechnician(ctx context.Context, t domain.Technician) (domain.Technician, error) {
	if strings.TrimSpace(t.ID) == "" {
		return domain.Technician{}, errors.New("technician id is required")
	}
	return e.Repo.UpsertTechnician(ctx, t)
}

func (e Engine) ListTechnicians(ctx context.Context) ([]domain.Technician, error) {
	return e.Repo.ListTechnicians(ctx)
}

// MintDeviceKey creates a device key and returns the plaintext exactly once;
// only the SHA-256 digest is stored.
func (e Engine) MintDeviceKey(ctx context.Context, technicianID, name string) (string, domain.DeviceKey, error) {
	if strings.TrimSpace(technicianID) == "" {
		return "", domain.DeviceKey{}, errors.New("technician id is required")
	}
	now := e.now().UTC()
	plain := "pgk_" + uuid.NewString()
	key := domain.DeviceKey{
		ID:           uuid.NewString(),
		TechnicianID: technicianID,
		Name:         name,
		KeyHash:      repo.HashDeviceKey(plain),
		CreatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.DeviceKey{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureTechnician(ctx, tx, technicianID, now); err != nil {
		return "", domain.DeviceKey{}, err
	}
	if err := e.Repo.InsertDeviceKey(ctx, tx, key); err != nil {
		return "", domain.DeviceKey{}, err
	}
	if err := e.Journal.Append(ctx, tx, "device_key.created", "", "", technicianID, journal.Payload{
		"key_id": key.ID,
		"name":   key.Name,
	}); err != nil {
		return "", domain.DeviceKey{}, err
	}
	if err := tx.Commit(); err != nil {
		return "", domain.DeviceKey{}, err
	}
	return plain, key, nil
}

func (e Engine) ListDeviceKeys(ctx context.Context, technicianID string) ([]domain.DeviceKey, error) {
	return e.Repo.ListDeviceKeys(ctx, technicianID)
}

func (e Engine) RevokeDeviceKey(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteDeviceKeyTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Journal.Append(ctx, tx, "device_key.revoked", "", "", e.actor(actorID), journal.Payload{"key_id": id}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) JournalAfter(ctx context.Context, limit int, cursor int64, routeID string) ([]domain.JournalEntry, error) {
	return e.Repo.JournalAfter(ctx, limit, cursor, routeID)
}

func (e Engine) LatestJournal(ctx context.Context, limit int, cursor int64, routeID, kind string) ([]domain.JournalEntry, error) {
	return e.Repo.LatestJournal(ctx, limit, cursor, routeID, kind)
}

func (e Engine) checkReason(ctx context.Context, code string, kind domain.ActionKind) error {
	rc, err := e.Repo.GetReasonCode(ctx, code)
	if errors.Is(err, repo.ErrNotFound) {
		return ReasonCodeError{Code: code, Kind: kind}
	}
	if err != nil {
		return err
	}
	if !rc.Allows(kind) {
		return ReasonCodeError{Code: code, Kind: kind}
	}
	return nil
}

func (e Engine) actor(actorID string) string {
	if actorID == "" {
		return "dispatcher"
	}
	return actorID
}
