package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jbriggs-source/PestGenie-sub001/internal/config"
	"github.com/jbriggs-source/PestGenie-sub001/internal/db"
	"github.com/jbriggs-source/PestGenie-sub001/internal/descriptor"
	"github.com/jbriggs-source/PestGenie-sub001/internal/domain"
	"github.com/jbriggs-source/PestGenie-sub001/internal/engine"
	"github.com/jbriggs-source/PestGenie-sub001/internal/migrate"
	"github.com/jbriggs-source/PestGenie-sub001/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("acme")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func seedRoute(t *testing.T, env testEnv) (domain.Route, []domain.Job) {
	t.Helper()
	route, err := env.Engine.CreateRoute(env.Ctx, engine.RouteCreateOptions{
		ID:           "route-1",
		TechnicianID: "tech-1",
		Date:         "2025-06-02",
		Name:         "North loop",
	})
	if err != nil {
		t.Fatalf("create route: %v", err)
	}
	customers := []string{"Acme Apartments", "Birchwood Cafe", "Cypress Storage"}
	for i, name := range customers {
		_, err := env.Engine.AddJob(env.Ctx, engine.JobCreateOptions{
			ID:           "job-" + string(rune('a'+i)),
			RouteID:      route.ID,
			CustomerName: name,
			ScheduledAt:  time.Date(2025, 6, 2, 9+i, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("add job %d: %v", i, err)
		}
	}
	jobs, err := env.Engine.ListJobs(env.Ctx, repo.JobFilters{RouteID: route.ID})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	return route, jobs
}

func TestCreateRouteValidatesDate(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateRoute(env.Ctx, engine.RouteCreateOptions{Date: "June 2"}); err == nil {
		t.Fatalf("expected date format error")
	}
	route, err := env.Engine.CreateRoute(env.Ctx, engine.RouteCreateOptions{TechnicianID: "tech-9", Date: "2025-06-02"})
	if err != nil {
		t.Fatalf("create route: %v", err)
	}
	if route.ID == "" {
		t.Fatalf("expected generated route id")
	}
	// the technician row is created on demand
	if _, err := env.Engine.Repo.GetTechnician(env.Ctx, "tech-9"); err != nil {
		t.Fatalf("technician not ensured: %v", err)
	}
}

func TestAddJobAssignsSequentialPositions(t *testing.T) {
	env := newTestEnv(t)
	_, jobs := seedRoute(t, env)
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	for i, job := range jobs {
		if job.Position != i {
			t.Fatalf("job %s position = %d, want %d", job.ID, job.Position, i)
		}
		if job.Status != domain.JobPending {
			t.Fatalf("job %s status = %s, want pending", job.ID, job.Status)
		}
	}
	if _, err := env.Engine.AddJob(env.Ctx, engine.JobCreateOptions{
		RouteID: "no-such-route", CustomerName: "X", ScheduledAt: time.Now(),
	}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing route, got %v", err)
	}
}

func TestApplySyncBatchAppliesOrderedActions(t *testing.T) {
	env := newTestEnv(t)
	route, jobs := seedRoute(t, env)
	started := time.Date(2025, 6, 2, 9, 5, 0, 0, time.UTC)
	finished := time.Date(2025, 6, 2, 9, 40, 0, 0, time.UTC)
	res, err := env.Engine.ApplySyncBatch(env.Ctx, engine.SyncBatchOptions{
		RouteID:      route.ID,
		TechnicianID: "tech-1",
		Actions: []domain.PendingAction{
			{Kind: domain.ActionStart, EntityID: jobs[0].ID, Timestamp: started},
			{Kind: domain.ActionTextInput, EntityID: jobs[0].ID, Key: "notes_" + jobs[0].ID, Value: "Ant trail by door", Timestamp: started},
			{Kind: domain.ActionComplete, EntityID: jobs[0].ID, Value: "D. Alvarez", Timestamp: finished},
		},
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Applied != 3 || res.Rejected != 0 {
		t.Fatalf("applied=%d rejected=%d, want 3/0", res.Applied, res.Rejected)
	}
	if res.JournalCursor == 0 {
		t.Fatalf("expected a journal cursor")
	}
	job, err := env.Engine.GetJob(env.Ctx, jobs[0].ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != domain.JobCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.StartTime == nil || !job.StartTime.Equal(started) {
		t.Fatalf("start time = %v, want %v", job.StartTime, started)
	}
	if job.CompletionTime == nil || !job.CompletionTime.Equal(finished) {
		t.Fatalf("completion time = %v, want %v", job.CompletionTime, finished)
	}
	if job.Signature == nil || *job.Signature != "D. Alvarez" {
		t.Fatalf("signature = %v, want D. Alvarez", job.Signature)
	}
	if job.Notes != "Ant trail by door" {
		t.Fatalf("notes = %q", job.Notes)
	}
}

func TestApplySyncBatchRejectsOutOfOrderComplete(t *testing.T) {
	env := newTestEnv(t)
	route, jobs := seedRoute(t, env)
	res, err := env.Engine.ApplySyncBatch(env.Ctx, engine.SyncBatchOptions{
		RouteID:      route.ID,
		TechnicianID: "tech-1",
		Actions: []domain.PendingAction{
			{Kind: domain.ActionComplete, EntityID: jobs[0].ID, Value: "D. Alvarez"},
			{Kind: domain.ActionStart, EntityID: jobs[1].ID},
		},
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Applied != 1 || res.Rejected != 1 {
		t.Fatalf("applied=%d rejected=%d, want 1/1", res.Applied, res.Rejected)
	}
	first := res.Results[0]
	if first.Applied || first.Code != engine.RejectInvalidTransition {
		t.Fatalf("result[0] = %+v, want invalid_transition rejection", first)
	}
	// the rejection does not block the action behind it
	if !res.Results[1].Applied {
		t.Fatalf("result[1] = %+v, want applied", res.Results[1])
	}
	job, _ := env.Engine.GetJob(env.Ctx, jobs[0].ID)
	if job.Status != domain.JobPending {
		t.Fatalf("rejected job status = %s, want pending", job.Status)
	}
	// the rejection itself is journaled
	entries, err := env.Engine.JournalAfter(env.Ctx, 50, 0, route.ID)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	found := false
	for _, entry := range entries {
		if entry.Kind == "sync.rejected" && strings.Contains(entry.Payload, engine.RejectInvalidTransition) {
			found = true
		}
	}
	if !found {
		t.Fatalf("no sync.rejected journal entry in %d entries", len(entries))
	}
}

func TestApplySyncBatchGatesSignatureAndReason(t *testing.T) {
	env := newTestEnv(t)
	route, jobs := seedRoute(t, env)
	res, err := env.Engine.ApplySyncBatch(env.Ctx, engine.SyncBatchOptions{
		RouteID:      route.ID,
		TechnicianID: "tech-1",
		Actions: []domain.PendingAction{
			{Kind: domain.ActionStart, EntityID: jobs[0].ID},
			{Kind: domain.ActionComplete, EntityID: jobs[0].ID, Value: "   "},
			{Kind: domain.ActionSkip, EntityID: jobs[1].ID, Value: "customer-request"},
			{Kind: domain.ActionSkip, EntityID: jobs[1].ID, Value: "customer-not-home"},
			{Kind: domain.ActionSkip, EntityID: jobs[2].ID, Value: "not-a-code"},
		},
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	want := []string{"", engine.RejectSignatureRequired, engine.RejectInvalidReason, "", engine.RejectInvalidReason}
	for i, code := range want {
		if res.Results[i].Code != code {
			t.Fatalf("result[%d] code = %q, want %q", i, res.Results[i].Code, code)
		}
	}
	job, _ := env.Engine.GetJob(env.Ctx, jobs[1].ID)
	if job.Status != domain.JobSkipped {
		t.Fatalf("job status = %s, want skipped", job.Status)
	}
}

func TestApplySyncBatchReplaysMove(t *testing.T) {
	env := newTestEnv(t)
	route, jobs := seedRoute(t, env)
	res, err := env.Engine.ApplySyncBatch(env.Ctx, engine.SyncBatchOptions{
		RouteID:      route.ID,
		TechnicianID: "tech-1",
		Actions: []domain.PendingAction{
			{Kind: domain.ActionMove, EntityID: jobs[2].ID, Key: "dispatcher-request", Value: domain.MoveValue(2, 0)},
			{Kind: domain.ActionMove, EntityID: jobs[0].ID, Key: "dispatcher-request", Value: domain.MoveValue(0, 9)},
			{Kind: domain.ActionMove, EntityID: jobs[0].ID, Key: "customer-not-home", Value: domain.MoveValue(0, 1)},
		},
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !res.Results[0].Applied {
		t.Fatalf("move rejected: %+v", res.Results[0])
	}
	if res.Results[1].Code != engine.RejectInvalidMove {
		t.Fatalf("result[1] code = %q, want invalid_move", res.Results[1].Code)
	}
	if res.Results[2].Code != engine.RejectInvalidReason {
		t.Fatalf("result[2] code = %q, want invalid_reason", res.Results[2].Code)
	}
	after, err := env.Engine.ListJobs(env.Ctx, repo.JobFilters{RouteID: route.ID})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	wantOrder := []string{jobs[2].ID, jobs[0].ID, jobs[1].ID}
	for i, id := range wantOrder {
		if after[i].ID != id {
			t.Fatalf("order[%d] = %s, want %s", i, after[i].ID, id)
		}
		if after[i].Position != i {
			t.Fatalf("position[%d] = %d", i, after[i].Position)
		}
	}
}

func TestApplySyncBatchUnknownRouteAndJob(t *testing.T) {
	env := newTestEnv(t)
	route, _ := seedRoute(t, env)
	if _, err := env.Engine.ApplySyncBatch(env.Ctx, engine.SyncBatchOptions{
		RouteID: "route-9", TechnicianID: "tech-1",
	}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing route, got %v", err)
	}
	res, err := env.Engine.ApplySyncBatch(env.Ctx, engine.SyncBatchOptions{
		RouteID:      route.ID,
		TechnicianID: "tech-1",
		Actions: []domain.PendingAction{
			{Kind: domain.ActionStart, EntityID: "job-z"},
		},
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Results[0].Code != engine.RejectJobNotFound {
		t.Fatalf("code = %q, want job_not_found", res.Results[0].Code)
	}
}

func TestReorderJobRequiresMoveReason(t *testing.T) {
	env := newTestEnv(t)
	route, jobs := seedRoute(t, env)
	_, err := env.Engine.ReorderJob(env.Ctx, route.ID, 0, 2, "customer-not-home", "dispatch-1")
	var rcErr engine.ReasonCodeError
	if !errors.As(err, &rcErr) {
		t.Fatalf("expected ReasonCodeError, got %v", err)
	}
	after, err := env.Engine.ReorderJob(env.Ctx, route.ID, 0, 2, "dispatcher-request", "dispatch-1")
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if after[2].ID != jobs[0].ID {
		t.Fatalf("moved job landed at %s, want tail", after[2].ID)
	}
	persisted, _ := env.Engine.ListJobs(env.Ctx, repo.JobFilters{RouteID: route.ID})
	for i := range persisted {
		if persisted[i].ID != after[i].ID {
			t.Fatalf("persisted order diverges at %d", i)
		}
	}
}

func TestUpsertScreenStoresCanonicalDefinition(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte(`{
		"version": 3,
		"component": {
			"type": "vstack",
			"children": [
				{"type": "text", "text": "Job for {{customerName}}"},
				{"type": "textField", "valueKey": "notes", "label": "Notes"}
			]
		}
	}`)
	scr, err := env.Engine.UpsertScreen(env.Ctx, "job-detail", payload, "dispatch-1")
	if err != nil {
		t.Fatalf("upsert screen: %v", err)
	}
	if scr.Version != 3 {
		t.Fatalf("version = %d, want 3", scr.Version)
	}
	served, err := env.Engine.ScreenPayload(env.Ctx, "job-detail")
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	decoded, err := descriptor.DecodeScreen(served)
	if err != nil {
		t.Fatalf("served payload does not decode: %v", err)
	}
	descriptor.Walk(&decoded.Component, func(n *descriptor.ComponentDescriptor) bool {
		if n.ID == "" {
			t.Fatalf("served component %s has no id", n.Kind)
		}
		return true
	})
	// updating the same name keeps one row
	if _, err := env.Engine.UpsertScreen(env.Ctx, "job-detail", payload, "dispatch-1"); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	screens, _ := env.Engine.ListScreens(env.Ctx)
	if len(screens) != 1 {
		t.Fatalf("expected 1 screen, got %d", len(screens))
	}
}

func TestUpsertScreenRejectsInvalidDefinitions(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.UpsertScreen(env.Ctx, "bad-slider", []byte(`{
		"version": 2,
		"component": {"type": "slider", "valueKey": "dose"}
	}`), "")
	var vErr engine.ScreenValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ScreenValidationError, got %v", err)
	}
	_, err = env.Engine.UpsertScreen(env.Ctx, "future", []byte(`{
		"version": 99,
		"component": {"type": "text", "text": "hi"}
	}`), "")
	var verErr descriptor.VersionError
	if !errors.As(err, &verErr) {
		t.Fatalf("expected VersionError, got %v", err)
	}
}

func TestDeviceKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	plain, key, err := env.Engine.MintDeviceKey(env.Ctx, "tech-1", "field phone")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !strings.HasPrefix(plain, "pgk_") {
		t.Fatalf("plaintext %q missing pgk_ prefix", plain)
	}
	found, err := env.Engine.Repo.GetDeviceKeyByHash(env.Ctx, repo.HashDeviceKey(plain))
	if err != nil {
		t.Fatalf("lookup by hash: %v", err)
	}
	if found.TechnicianID != "tech-1" {
		t.Fatalf("technician = %s", found.TechnicianID)
	}
	if err := env.Engine.RevokeDeviceKey(env.Ctx, key.ID, "dispatch-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := env.Engine.Repo.GetDeviceKeyByHash(env.Ctx, repo.HashDeviceKey(plain)); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
	if err := env.Engine.RevokeDeviceKey(env.Ctx, key.ID, ""); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second revoke, got %v", err)
	}
}

func TestSeedReasonCodesOverrides(t *testing.T) {
	env := newTestEnv(t)
	off := false
	err := env.Engine.SeedReasonCodes(env.Ctx, []config.ReasonCodeConfig{
		{Code: "customer-not-home", Label: "Customer not home", Category: "skip", Active: &off},
		{Code: "equipment-failure", Label: "Equipment failure"},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	active, err := env.Engine.ListReasonCodes(env.Ctx, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	byID := map[string]domain.ReasonCode{}
	for _, rc := range active {
		byID[rc.ID] = rc
	}
	if _, ok := byID["customer-not-home"]; ok {
		t.Fatalf("deactivated code still listed as active")
	}
	added, ok := byID["equipment-failure"]
	if !ok {
		t.Fatalf("new code missing from active list")
	}
	if added.Category != domain.ReasonAny {
		t.Fatalf("default category = %s, want any", added.Category)
	}
}

func TestRouteStatusCounts(t *testing.T) {
	env := newTestEnv(t)
	route, jobs := seedRoute(t, env)
	_, err := env.Engine.ApplySyncBatch(env.Ctx, engine.SyncBatchOptions{
		RouteID:      route.ID,
		TechnicianID: "tech-1",
		Actions: []domain.PendingAction{
			{Kind: domain.ActionStart, EntityID: jobs[0].ID},
			{Kind: domain.ActionComplete, EntityID: jobs[0].ID, Value: "sig"},
			{Kind: domain.ActionSkip, EntityID: jobs[1].ID, Value: "customer-not-home"},
		},
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	counts, err := env.Engine.RouteStatusCounts(env.Ctx, route.ID)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["completed"] != 1 || counts["skipped"] != 1 || counts["pending"] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}
