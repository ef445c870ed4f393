package server

import (
	"encoding/json"
	"time"

	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
	"github.com/jbriggs-source/PestGenie-sub001/internal/engine"
)

// Request payloads

type CreateRouteRequest struct {
	ID           *string `json:"id,omitempty"`
	TechnicianID string  `json:"technician_id,omitempty"`
	Date         string  `json:"date" example:"2025-06-02"`
	Name         *string `json:"name,omitempty"`
}

type CreateJobRequest struct {
	ID           *string `json:"id,omitempty"`
	CustomerName string  `json:"customer_name"`
	Address      *string `json:"address,omitempty"`
	ScheduledAt  string  `json:"scheduled_at" format:"date-time"`
	Notes        *string `json:"notes,omitempty"`
	PinnedNotes  *string `json:"pinned_notes,omitempty"`
}

type UpdateJobRequest struct {
	CustomerName *string `json:"customer_name,omitempty"`
	Address      *string `json:"address,omitempty"`
	ScheduledAt  *string `json:"scheduled_at,omitempty" format:"date-time"`
	Notes        *string `json:"notes,omitempty"`
	PinnedNotes  *string `json:"pinned_notes,omitempty"`
}

type ReorderRouteRequest struct {
	From   int    `json:"from"`
	To     int    `json:"to"`
	Reason string `json:"reason"`
}

type SyncActionRequest struct {
	Kind      string  `json:"kind"`
	EntityID  string  `json:"entity_id,omitempty"`
	Key       string  `json:"key,omitempty"`
	Value     string  `json:"value,omitempty"`
	Timestamp *string `json:"timestamp,omitempty" format:"date-time"`
}

type SyncRequest struct {
	Actions []SyncActionRequest `json:"actions"`
}

type CreateDeviceKeyRequest struct {
	TechnicianID string  `json:"technician_id"`
	Name         *string `json:"name,omitempty"`
}

type UpsertTechnicianRequest struct {
	ID     string  `json:"id"`
	Name   *string `json:"name,omitempty"`
	Region *string `json:"region,omitempty"`
}

type DevLoginRequest struct {
	TechnicianID string `json:"technician_id"`
	Name         string `json:"name,omitempty"`
}

// Response payloads

type RouteResponse struct {
	ID           string `json:"id"`
	TechnicianID string `json:"technician_id,omitempty"`
	Date         string `json:"date"`
	Name         string `json:"name,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type JobResponse struct {
	ID             string  `json:"id"`
	RouteID        string  `json:"route_id"`
	Position       int     `json:"position"`
	CustomerName   string  `json:"customer_name"`
	Address        string  `json:"address,omitempty"`
	ScheduledAt    string  `json:"scheduled_at" format:"date-time"`
	Status         string  `json:"status" enum:"pending,inProgress,completed,skipped"`
	StartTime      *string `json:"start_time,omitempty" format:"date-time"`
	CompletionTime *string `json:"completion_time,omitempty" format:"date-time"`
	Signature      *string `json:"signature,omitempty"`
	Notes          string  `json:"notes,omitempty"`
	PinnedNotes    string  `json:"pinned_notes,omitempty"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

type RouteStatusResponse struct {
	RouteID   string         `json:"route_id"`
	Date      string         `json:"date"`
	JobCounts map[string]int `json:"job_counts"`
}

type ScreenResponse struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Version    int             `json:"version"`
	Definition json.RawMessage `json:"definition,omitempty"`
	CreatedAt  string          `json:"created_at" format:"date-time"`
	UpdatedAt  string          `json:"updated_at" format:"date-time"`
}

type ReasonCodeResponse struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Category string `json:"category" enum:"skip,move,any"`
	Active   bool   `json:"active"`
}

type JournalEntryResponse struct {
	ID           int64          `json:"id"`
	TS           string         `json:"ts" format:"date-time"`
	Kind         string         `json:"kind"`
	RouteID      string         `json:"route_id,omitempty"`
	JobID        string         `json:"job_id,omitempty"`
	TechnicianID string         `json:"technician_id"`
	Payload      map[string]any `json:"payload"`
}

type DeviceKeyResponse struct {
	ID           string `json:"id"`
	TechnicianID string `json:"technician_id"`
	Name         string `json:"name,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type MintedDeviceKeyResponse struct {
	Key       string            `json:"key"`
	DeviceKey DeviceKeyResponse `json:"device_key"`
}

type TechnicianResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Region    string `json:"region,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type SyncActionResult struct {
	Index   int    `json:"index"`
	Kind    string `json:"kind"`
	JobID   string `json:"job_id,omitempty"`
	Applied bool   `json:"applied"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type SyncResponse struct {
	RouteID       string             `json:"route_id"`
	Applied       int                `json:"applied"`
	Rejected      int                `json:"rejected"`
	Results       []SyncActionResult `json:"results"`
	JournalCursor int64              `json:"journal_cursor"`
}

type WhoAmIResponse struct {
	TechnicianID string `json:"technician_id"`
	Name         string `json:"name,omitempty"`
	Source       string `json:"source" enum:"jwt,device_key,legacy_header"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedJobs struct {
	Items      []JobResponse `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedJournal struct {
	Items      []JournalEntryResponse `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

// Conversion helpers

func routeResponse(rt domain.Route) RouteResponse {
	return RouteResponse{
		ID:           rt.ID,
		TechnicianID: rt.TechnicianID,
		Date:         rt.Date,
		Name:         rt.Name,
		CreatedAt:    fmtRFC3339(rt.CreatedAt),
	}
}

func jobResponse(j domain.Job) JobResponse {
	return JobResponse{
		ID:             j.ID,
		RouteID:        j.RouteID,
		Position:       j.Position,
		CustomerName:   j.CustomerName,
		Address:        j.Address,
		ScheduledAt:    fmtRFC3339(j.ScheduledAt),
		Status:         string(j.Status),
		StartTime:      fmtRFC3339Ptr(j.StartTime),
		CompletionTime: fmtRFC3339Ptr(j.CompletionTime),
		Signature:      j.Signature,
		Notes:          j.Notes,
		PinnedNotes:    j.PinnedNotes,
		CreatedAt:      fmtRFC3339(j.CreatedAt),
		UpdatedAt:      fmtRFC3339(j.UpdatedAt),
	}
}

func screenResponse(s domain.Screen, includeDefinition bool) ScreenResponse {
	res := ScreenResponse{
		ID:        s.ID,
		Name:      s.Name,
		Version:   s.Version,
		CreatedAt: fmtRFC3339(s.CreatedAt),
		UpdatedAt: fmtRFC3339(s.UpdatedAt),
	}
	if includeDefinition {
		res.Definition = json.RawMessage(s.Definition)
	}
	return res
}

func reasonCodeResponse(rc domain.ReasonCode) ReasonCodeResponse {
	return ReasonCodeResponse{
		ID:       rc.ID,
		Label:    rc.Label,
		Category: string(rc.Category),
		Active:   rc.Active,
	}
}

func journalEntryResponse(entry domain.JournalEntry) JournalEntryResponse {
	return JournalEntryResponse{
		ID:           entry.ID,
		TS:           fmtRFC3339(entry.TS),
		Kind:         entry.Kind,
		RouteID:      entry.RouteID,
		JobID:        entry.JobID,
		TechnicianID: entry.TechnicianID,
		Payload:      decodeJSONMap(entry.Payload),
	}
}

func deviceKeyResponse(key domain.DeviceKey) DeviceKeyResponse {
	return DeviceKeyResponse{
		ID:           key.ID,
		TechnicianID: key.TechnicianID,
		Name:         key.Name,
		CreatedAt:    fmtRFC3339(key.CreatedAt),
	}
}

func technicianResponse(t domain.Technician) TechnicianResponse {
	return TechnicianResponse{
		ID:        t.ID,
		Name:      t.Name,
		Region:    t.Region,
		CreatedAt: fmtRFC3339(t.CreatedAt),
		UpdatedAt: fmtRFC3339(t.UpdatedAt),
	}
}

func syncResponse(res engine.SyncResult) SyncResponse {
	out := SyncResponse{
		RouteID:       res.RouteID,
		Applied:       res.Applied,
		Rejected:      res.Rejected,
		Results:       make([]SyncActionResult, 0, len(res.Results)),
		JournalCursor: res.JournalCursor,
	}
	for _, r := range res.Results {
		out.Results = append(out.Results, SyncActionResult(r))
	}
	return out
}

func mapRoutes(items []domain.Route) []RouteResponse {
	res := make([]RouteResponse, 0, len(items))
	for _, rt := range items {
		res = append(res, routeResponse(rt))
	}
	return res
}

func mapJobs(items []domain.Job) []JobResponse {
	res := make([]JobResponse, 0, len(items))
	for _, j := range items {
		res = append(res, jobResponse(j))
	}
	return res
}

func mapScreens(items []domain.Screen) []ScreenResponse {
	res := make([]ScreenResponse, 0, len(items))
	for _, s := range items {
		res = append(res, screenResponse(s, false))
	}
	return res
}

func mapReasonCodes(items []domain.ReasonCode) []ReasonCodeResponse {
	res := make([]ReasonCodeResponse, 0, len(items))
	for _, rc := range items {
		res = append(res, reasonCodeResponse(rc))
	}
	return res
}

func mapDeviceKeys(items []domain.DeviceKey) []DeviceKeyResponse {
	res := make([]DeviceKeyResponse, 0, len(items))
	for _, key := range items {
		res = append(res, deviceKeyResponse(key))
	}
	return res
}

func mapTechnicians(items []domain.Technician) []TechnicianResponse {
	res := make([]TechnicianResponse, 0, len(items))
	for _, t := range items {
		res = append(res, technicianResponse(t))
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func fmtRFC3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtRFC3339Ptr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtRFC3339(*t)
	return &s
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
