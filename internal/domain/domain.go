package domain

import (
	"time"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "inProgress"
	JobCompleted  JobStatus = "completed"
	JobSkipped    JobStatus = "skipped"
)

// JobStatuses lists every status in lifecycle order.
var JobStatuses = []JobStatus{JobPending, JobInProgress, JobCompleted, JobSkipped}

func ParseJobStatus(s string) (JobStatus, bool) {
	switch JobStatus(s) {
	case JobPending, JobInProgress, JobCompleted, JobSkipped:
		return JobStatus(s), true
	}
	return "", false
}

func (s JobStatus) String() string { return string(s) }

// DisplayName is the human-facing form shown on technician screens.
func (s JobStatus) DisplayName() string {
	switch s {
	case JobPending:
		return "Pending"
	case JobInProgress:
		return "In Progress"
	case JobCompleted:
		return "Completed"
	case JobSkipped:
		return "Skipped"
	}
	return string(s)
}

// ColorToken is an opaque style token; the rendering surface maps it to a color.
func (s JobStatus) ColorToken() string {
	switch s {
	case JobPending:
		return "blue"
	case JobInProgress:
		return "orange"
	case JobCompleted:
		return "green"
	case JobSkipped:
		return "red"
	}
	return "gray"
}

// Job is one scheduled unit of field work. Status moves only through the
// lifecycle controller; jobs are never deleted within a session.
type Job struct {
	ID             string     `json:"id"`
	RouteID        string     `json:"route_id,omitempty"`
	Position       int        `json:"position"`
	CustomerName   string     `json:"customer_name"`
	Address        string     `json:"address,omitempty"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	Status         JobStatus  `json:"status" enum:"pending,inProgress,completed,skipped"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
	Signature      *string    `json:"signature,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	PinnedNotes    string     `json:"pinned_notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

const (
	scheduledTimeLayout     = "3:04 PM"
	scheduledDateLayout     = "Jan 2, 2006"
	scheduledDateTimeLayout = "Jan 2, 2006 3:04 PM"
)

func (j Job) FormattedScheduledTime() string     { return j.ScheduledAt.Format(scheduledTimeLayout) }
func (j Job) FormattedScheduledDate() string     { return j.ScheduledAt.Format(scheduledDateLayout) }
func (j Job) FormattedScheduledDateTime() string { return j.ScheduledAt.Format(scheduledDateTimeLayout) }

// BindingValue resolves one of the closed set of entity binding keys a screen
// descriptor may name. Unknown keys report false; callers render "".
func (j Job) BindingValue(key string) (string, bool) {
	switch key {
	case "customerName":
		return j.CustomerName, true
	case "address":
		return j.Address, true
	case "scheduledTime":
		return j.FormattedScheduledTime(), true
	case "scheduledDate":
		return j.FormattedScheduledDate(), true
	case "scheduledDateTime":
		return j.FormattedScheduledDateTime(), true
	case "statusDisplay":
		return j.Status.DisplayName(), true
	case "statusColor":
		return j.Status.ColorToken(), true
	case "pinnedNotes":
		return j.PinnedNotes, true
	case "notes":
		return j.Notes, true
	case "id":
		return j.ID, true
	case "isPending":
		return boolString(j.Status == JobPending), true
	case "isInProgress":
		return boolString(j.Status == JobInProgress), true
	case "isCompleted":
		return boolString(j.Status == JobCompleted), true
	case "isSkipped":
		return boolString(j.Status == JobSkipped), true
	}
	return "", false
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

type Route struct {
	ID           string    `json:"id"`
	TechnicianID string    `json:"technician_id"`
	Date         string    `json:"date"`
	Name         string    `json:"name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Screen is a stored server-driven screen definition. Definition holds the
// wire payload JSON ({"version":n,"component":{...}}) exactly as served.
type Screen struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Version    int       `json:"version"`
	Definition string    `json:"definition"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ReasonCategory string

const (
	ReasonSkip ReasonCategory = "skip"
	ReasonMove ReasonCategory = "move"
	ReasonAny  ReasonCategory = "any"
)

// ReasonCode is one entry of the closed vocabulary a technician must pick
// from before a skip or reorder commits.
type ReasonCode struct {
	ID       string         `json:"id"`
	Label    string         `json:"label"`
	Category ReasonCategory `json:"category" enum:"skip,move,any"`
	Active   bool           `json:"active"`
}

// Allows reports whether the code may gate the given action kind.
func (r ReasonCode) Allows(kind ActionKind) bool {
	if !r.Active {
		return false
	}
	switch r.Category {
	case ReasonAny:
		return kind == ActionSkip || kind == ActionMove
	case ReasonSkip:
		return kind == ActionSkip
	case ReasonMove:
		return kind == ActionMove
	}
	return false
}

type Technician struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Region    string    `json:"region,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DeviceKey struct {
	ID           string    `json:"id"`
	TechnicianID string    `json:"technician_id"`
	Name         string    `json:"name,omitempty"`
	KeyHash      string    `json:"key_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// JournalEntry is one applied (or rejected) sync action as recorded
// server-side. Payload is a JSON object.
type JournalEntry struct {
	ID           int64     `json:"id"`
	TS           time.Time `json:"ts"`
	Kind         string    `json:"kind"`
	RouteID      string    `json:"route_id"`
	JobID        string    `json:"job_id,omitempty"`
	TechnicianID string    `json:"technician_id"`
	Payload      string    `json:"payload_json"`
}
