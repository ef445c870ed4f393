package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
	"github.com/jbriggs-source/PestGenie-sub001/internal/journal"
	"github.com/jbriggs-source/PestGenie-sub001/internal/lifecycle"
	"github.com/jbriggs-source/PestGenie-sub001/internal/repo"
)

// Rejection codes returned per action in a sync batch.
const (
	RejectJobNotFound       = "job_not_found"
	RejectInvalidTransition = "invalid_transition"
	RejectSignatureRequired = "signature_required"
	RejectInvalidReason     = "invalid_reason"
	RejectInvalidMove       = "invalid_move"
	RejectUnknownKind       = "unknown_kind"
)

type SyncBatchOptions struct {
	RouteID      string
	TechnicianID string
	Actions      []domain.PendingAction
}

// ActionResult reports the outcome of one action in a batch, by its index in
// the submitted slice.
type ActionResult struct {
	Index   int    `json:"index"`
	Kind    string `json:"kind"`
	JobID   string `json:"job_id,omitempty"`
	Applied bool   `json:"applied"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type SyncResult struct {
	RouteID       string         `json:"route_id"`
	Applied       int            `json:"applied"`
	Rejected      int            `json:"rejected"`
	Results       []ActionResult `json:"results"`
	JournalCursor int64          `json:"journal_cursor"`
}

// ApplySyncBatch replays a device's drained action queue against the route,
// in order, inside one transaction. Each action is applied or rejected
// individually; a rejection never blocks the actions behind it. Only a
// storage failure aborts the batch.
func (e Engine) ApplySyncBatch(ctx context.Context, opts SyncBatchOptions) (SyncResult, error) {
	if strings.TrimSpace(opts.TechnicianID) == "" {
		return SyncResult{}, errors.New("technician id is required")
	}
	if _, err := e.Repo.GetRoute(ctx, opts.RouteID); err != nil {
		return SyncResult{}, err
	}
	now := e.now().UTC()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SyncResult{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.EnsureTechnician(ctx, tx, opts.TechnicianID, now); err != nil {
		return SyncResult{}, err
	}
	jobs, err := e.Repo.JobsForRouteTx(ctx, tx, opts.RouteID)
	if err != nil {
		return SyncResult{}, err
	}

	result := SyncResult{RouteID: opts.RouteID, Results: make([]ActionResult, 0, len(opts.Actions))}
	for i, action := range opts.Actions {
		ar := ActionResult{Index: i, Kind: string(action.Kind), JobID: action.EntityID}
		code, msg, err := e.applyAction(ctx, tx, &jobs, opts, action)
		if err != nil {
			return SyncResult{}, err
		}
		if code == "" {
			ar.Applied = true
			result.Applied++
		} else {
			ar.Code = code
			ar.Message = msg
			result.Rejected++
			payload := journal.Payload{
				"action": string(action.Kind),
				"code":   code,
				"msg":    msg,
			}
			if action.Key != "" {
				payload["key"] = action.Key
			}
			if err := e.Journal.Append(ctx, tx, "sync.rejected", opts.RouteID, action.EntityID, opts.TechnicianID, payload); err != nil {
				return SyncResult{}, err
			}
		}
		result.Results = append(result.Results, ar)
	}
	if err := tx.Commit(); err != nil {
		return SyncResult{}, err
	}
	cursor, err := e.Repo.LatestJournalID(ctx, opts.RouteID)
	if err != nil {
		return SyncResult{}, err
	}
	result.JournalCursor = cursor
	return result, nil
}

// applyAction mutates the in-memory jobs snapshot and persists the change.
// The returned code/message describe a rejection; both empty means applied.
// A non-nil error is a storage failure and aborts the batch.
func (e Engine) applyAction(ctx context.Context, tx *sql.Tx, jobs *[]domain.Job, opts SyncBatchOptions, action domain.PendingAction) (string, string, error) {
	if action.Kind.IsInput() {
		return e.applyInput(ctx, tx, jobs, opts, action)
	}
	switch action.Kind {
	case domain.ActionStart, domain.ActionComplete, domain.ActionSkip:
		return e.applyTransition(ctx, tx, jobs, opts, action)
	case domain.ActionMove:
		return e.applyMove(ctx, tx, jobs, opts, action)
	}
	return RejectUnknownKind, fmt.Sprintf("unknown action kind %q", action.Kind), nil
}

func (e Engine) applyInput(ctx context.Context, tx *sql.Tx, jobs *[]domain.Job, opts SyncBatchOptions, action domain.PendingAction) (string, string, error) {
	entityID := action.EntityID
	valueKey := action.Key
	switch {
	case entityID != "":
		valueKey = strings.TrimSuffix(valueKey, "_"+entityID)
	case strings.HasSuffix(valueKey, "_global"):
		valueKey = strings.TrimSuffix(valueKey, "_global")
	default:
		// Device stores address values by composite key alone; recover the
		// scoping job from the key suffix.
		for _, j := range *jobs {
			if strings.HasSuffix(valueKey, "_"+j.ID) {
				entityID = j.ID
				valueKey = strings.TrimSuffix(valueKey, "_"+j.ID)
				break
			}
		}
	}
	if err := e.Journal.Append(ctx, tx, "input.recorded", opts.RouteID, entityID, opts.TechnicianID, journal.Payload{
		"key":   action.Key,
		"value": action.Value,
		"input": string(action.Kind),
	}); err != nil {
		return "", "", err
	}
	// The notes field round-trips into the job record so dispatch sees it.
	if action.Kind == domain.ActionTextInput && entityID != "" && valueKey == "notes" {
		idx := jobIndex(*jobs, entityID)
		if idx < 0 {
			return RejectJobNotFound, fmt.Sprintf("job %q is not on route %q", entityID, opts.RouteID), nil
		}
		(*jobs)[idx].Notes = action.Value
		(*jobs)[idx].UpdatedAt = e.actionTime(action)
		if err := e.Repo.UpdateJob(ctx, tx, (*jobs)[idx]); err != nil {
			return "", "", err
		}
	}
	return "", "", nil
}

func (e Engine) applyTransition(ctx context.Context, tx *sql.Tx, jobs *[]domain.Job, opts SyncBatchOptions, action domain.PendingAction) (string, string, error) {
	idx := jobIndex(*jobs, action.EntityID)
	if idx < 0 {
		return RejectJobNotFound, fmt.Sprintf("job %q is not on route %q", action.EntityID, opts.RouteID), nil
	}
	job := (*jobs)[idx]
	ts := e.actionTime(action)

	var next domain.JobStatus
	switch action.Kind {
	case domain.ActionStart:
		next = domain.JobInProgress
	case domain.ActionComplete:
		next = domain.JobCompleted
		if strings.TrimSpace(action.Value) == "" {
			return RejectSignatureRequired, fmt.Sprintf("completing job %q requires a signature", job.ID), nil
		}
	case domain.ActionSkip:
		next = domain.JobSkipped
		if code, msg, err := e.checkReasonTx(ctx, tx, action.Value, domain.ActionSkip); code != "" || err != nil {
			return code, msg, err
		}
	}
	if err := lifecycle.EnsureTransition(job.Status, next); err != nil {
		return RejectInvalidTransition, err.Error(), nil
	}

	job.Status = next
	job.UpdatedAt = ts
	switch action.Kind {
	case domain.ActionStart:
		job.StartTime = &ts
	case domain.ActionComplete:
		sig := action.Value
		job.CompletionTime = &ts
		job.Signature = &sig
	}
	(*jobs)[idx] = job
	if err := e.Repo.UpdateJob(ctx, tx, job); err != nil {
		return "", "", err
	}
	payload := journal.Payload{"status": string(next)}
	if action.Kind == domain.ActionSkip {
		payload["reason"] = action.Value
	}
	if err := e.Journal.Append(ctx, tx, "job."+string(action.Kind), opts.RouteID, job.ID, opts.TechnicianID, payload); err != nil {
		return "", "", err
	}
	return "", "", nil
}

func (e Engine) applyMove(ctx context.Context, tx *sql.Tx, jobs *[]domain.Job, opts SyncBatchOptions, action domain.PendingAction) (string, string, error) {
	if code, msg, err := e.checkReasonTx(ctx, tx, action.Key, domain.ActionMove); code != "" || err != nil {
		return code, msg, err
	}
	from, to, err := domain.ParseMoveValue(action.Value)
	if err != nil {
		return RejectInvalidMove, err.Error(), nil
	}
	if from < 0 || from >= len(*jobs) {
		return RejectInvalidMove, fmt.Sprintf("source index %d out of range for %d jobs", from, len(*jobs)), nil
	}
	if to < 0 || to >= len(*jobs) {
		return RejectInvalidMove, fmt.Sprintf("destination index %d out of range for %d jobs", to, len(*jobs)), nil
	}
	ts := e.actionTime(action)
	moved := (*jobs)[from]
	*jobs = lifecycle.Reorder(*jobs, from, to)
	for i := range *jobs {
		if (*jobs)[i].Position != i {
			(*jobs)[i].Position = i
			if err := e.Repo.UpdateJobPositionTx(ctx, tx, (*jobs)[i].ID, i, ts); err != nil {
				return "", "", err
			}
		}
	}
	if err := e.Journal.Append(ctx, tx, "job.move", opts.RouteID, moved.ID, opts.TechnicianID, journal.Payload{
		"from":   from,
		"to":     to,
		"reason": action.Key,
	}); err != nil {
		return "", "", err
	}
	return "", "", nil
}

func (e Engine) checkReasonTx(ctx context.Context, tx *sql.Tx, code string, kind domain.ActionKind) (string, string, error) {
	rc, err := e.Repo.GetReasonCodeTx(ctx, tx, code)
	if errors.Is(err, repo.ErrNotFound) {
		return RejectInvalidReason, fmt.Sprintf("unknown reason code %q", code), nil
	}
	if err != nil {
		return "", "", err
	}
	if !rc.Allows(kind) {
		return RejectInvalidReason, fmt.Sprintf("reason code %q is not valid for %s", code, kind), nil
	}
	return "", "", nil
}

// actionTime prefers the device-reported timestamp so start and completion
// times survive an offline stretch; a zero timestamp falls back to now.
func (e Engine) actionTime(action domain.PendingAction) time.Time {
	if !action.Timestamp.IsZero() {
		return action.Timestamp.UTC()
	}
	return e.now().UTC()
}

func jobIndex(jobs []domain.Job, id string) int {
	for i := range jobs {
		if jobs[i].ID == id {
			return i
		}
	}
	return -1
}
