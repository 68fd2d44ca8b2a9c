package markers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"narcomap.org/internal/auth"
	"narcomap.org/internal/config"
	"narcomap.org/internal/ratelimit"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var (
	reporter  = auth.Actor{ID: "reporter-1", Role: auth.RoleUser, Active: true}
	moderator = auth.Actor{ID: "moderator-1", Role: auth.RoleModerator, Active: true}
	police    = auth.Actor{ID: "police-1", Role: auth.RolePolice, Active: true}
	admin     = auth.Actor{ID: "admin-1", Role: auth.RoleAdmin, Active: true}
)

func newTestService(clock *fakeClock, mutate ...func(*config.MarkersConfig)) (*Service, *InMemoryStore) {
	cfg := config.MarkersConfig{
		MaxPerDay:         10,
		MinDistanceMeters: 5,
		AutoApprove:       false,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	store := NewInMemoryStore()
	limiter := ratelimit.New(ratelimit.WithClock(clock.Now))
	return NewService(store, limiter, cfg, WithClock(clock.Now)), store
}

func validSubmit() SubmitInput {
	return SubmitInput{
		Title:     "suspicious activity",
		Latitude:  55.7558,
		Longitude: 37.6173,
		Category:  CategoryDen,
	}
}

func TestSubmitDefaults(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(clock)

	m, err := svc.Submit(context.Background(), reporter, validSubmit())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if m.Status != StatusNew {
		t.Fatalf("moderate-first intake should queue as new, got %s", m.Status)
	}
	if m.Severity != SeverityRed {
		t.Fatalf("den should default to red, got %s", m.Severity)
	}
	if m.CreatedBy != reporter.ID {
		t.Fatalf("created_by = %s", m.CreatedBy)
	}
	if m.ID == "" {
		t.Fatal("expected an id")
	}
}

func TestSubmitAutoApprove(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(clock, func(c *config.MarkersConfig) { c.AutoApprove = true })

	m, err := svc.Submit(context.Background(), reporter, validSubmit())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if m.Status != StatusApproved {
		t.Fatalf("auto-approve intake should publish immediately, got %s", m.Status)
	}
}

func TestSubmitValidation(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(clock)
	ctx := context.Background()

	cases := []func(*SubmitInput){
		func(in *SubmitInput) { in.Title = "  " },
		func(in *SubmitInput) { in.Latitude = 91 },
		func(in *SubmitInput) { in.Latitude = -91 },
		func(in *SubmitInput) { in.Longitude = 181 },
		func(in *SubmitInput) { in.Category = "lair" },
		func(in *SubmitInput) { in.Severity = "purple" },
	}
	for i, mutate := range cases {
		in := validSubmit()
		mutate(&in)
		if _, err := svc.Submit(ctx, reporter, in); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
}

func TestSubmitDuplicateLocation(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(clock)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, reporter, validSubmit()); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	// About 1.1m north of the first marker, inside the 5m threshold.
	in := validSubmit()
	in.Latitude += 0.00001
	_, err := svc.Submit(ctx, reporter, in)
	if !errors.Is(err, ErrDuplicateLocation) {
		t.Fatalf("expected ErrDuplicateLocation, got %v", err)
	}
	var dup *DuplicateLocationError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateLocationError, got %T", err)
	}
	if dup.MinDistanceMeters != 5 {
		t.Fatalf("threshold = %v", dup.MinDistanceMeters)
	}
	if dup.DistanceMeters <= 0 || dup.DistanceMeters >= 5 {
		t.Fatalf("distance = %v, want within (0, 5)", dup.DistanceMeters)
	}

	// Another actor may report the same spot.
	other := auth.Actor{ID: "reporter-2", Role: auth.RoleUser, Active: true}
	if _, err := svc.Submit(ctx, other, validSubmit()); err != nil {
		t.Fatalf("other actor at same spot: %v", err)
	}

	// Far enough away passes for the original actor.
	far := validSubmit()
	far.Latitude += 0.001 // about 111m
	if _, err := svc.Submit(ctx, reporter, far); err != nil {
		t.Fatalf("distant submit: %v", err)
	}
}

func TestSubmitDailyCap(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(clock, func(c *config.MarkersConfig) { c.MaxPerDay = 3 })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		in := validSubmit()
		in.Latitude += float64(i) * 0.01
		if _, err := svc.Submit(ctx, reporter, in); err != nil {
			t.Fatalf("submit %d: %v", i+1, err)
		}
		clock.Advance(time.Hour)
	}

	in := validSubmit()
	in.Latitude += 0.5
	_, err := svc.Submit(ctx, reporter, in)
	if !errors.Is(err, auth.ErrRateLimited) {
		t.Fatalf("4th submit today must hit the cap, got %v", err)
	}

	// The window is rolling: 24h after the first submission a slot frees.
	clock.Advance(22 * time.Hour)
	if _, err := svc.Submit(ctx, reporter, in); err != nil {
		t.Fatalf("submit after window: %v", err)
	}
}

func TestRejectedDuplicateDoesNotBurnQuota(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(clock, func(c *config.MarkersConfig) { c.MaxPerDay = 2 })
	ctx := context.Background()

	if _, err := svc.Submit(ctx, reporter, validSubmit()); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := svc.Submit(ctx, reporter, validSubmit()); !errors.Is(err, ErrDuplicateLocation) {
			t.Fatalf("duplicate %d: %v", i, err)
		}
	}
	remaining, _ := svc.RemainingQuota(reporter.ID)
	if remaining != 1 {
		t.Fatalf("rejected submissions must not consume quota, remaining = %d", remaining)
	}
}

func TestTransitionWorkflow(t *testing.T) {
	clock := newFakeClock()
	svc, store := newTestService(clock)
	ctx := context.Background()

	m, err := svc.Submit(ctx, reporter, validSubmit())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// A plain user cannot moderate.
	if _, _, err := svc.Transition(ctx, reporter, m.ID, ActionApprove, "", ""); !errors.Is(err, auth.ErrInsufficientRole) {
		t.Fatalf("user approve should fail, got %v", err)
	}

	// A moderator cannot resolve.
	approved, entry, err := svc.Transition(ctx, moderator, m.ID, ActionApprove, "looks real", "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != StatusApproved {
		t.Fatalf("status = %s", approved.Status)
	}
	if entry.ActorID != moderator.ID || entry.Action != ActionApprove || entry.Comment != "looks real" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if _, _, err := svc.Transition(ctx, moderator, m.ID, ActionResolve, "", ""); !errors.Is(err, auth.ErrInsufficientRole) {
		t.Fatalf("moderator resolve should fail, got %v", err)
	}

	resolved, entry2, err := svc.Transition(ctx, police, m.ID, ActionResolve, "cleared", "https://img/report.jpg")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != StatusResolved {
		t.Fatalf("status = %s", resolved.Status)
	}
	if entry2.ReportPhotoURL != "https://img/report.jpg" {
		t.Fatalf("report photo not recorded: %+v", entry2)
	}

	// Resolved is terminal.
	if _, _, err := svc.Transition(ctx, admin, m.ID, ActionApprove, "", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("resolved marker must be terminal, got %v", err)
	}

	history, err := svc.History(ctx, moderator, m.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected exactly one entry per successful transition, got %d", len(history))
	}

	// Failed transitions append nothing.
	raw, _ := store.History(ctx, m.ID)
	if len(raw) != 2 {
		t.Fatalf("failed transitions must not append entries, got %d", len(raw))
	}
}

func TestRejectedIsTerminal(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(clock)
	ctx := context.Background()

	m, err := svc.Submit(ctx, reporter, validSubmit())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, _, err := svc.Transition(ctx, moderator, m.ID, ActionReject, "spam", ""); err != nil {
		t.Fatalf("reject: %v", err)
	}
	for _, action := range []Action{ActionApprove, ActionReject, ActionResolve} {
		if _, _, err := svc.Transition(ctx, admin, m.ID, action, "", ""); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("rejected marker must refuse %s, got %v", action, err)
		}
	}
}

func TestAdminOverridesRoleMinimums(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(clock)
	ctx := context.Background()

	m, err := svc.Submit(ctx, reporter, validSubmit())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, _, err := svc.Transition(ctx, admin, m.ID, ActionApprove, "", ""); err != nil {
		t.Fatalf("admin approve: %v", err)
	}
	if _, _, err := svc.Transition(ctx, admin, m.ID, ActionResolve, "", ""); err != nil {
		t.Fatalf("admin resolve: %v", err)
	}
}

func TestConcurrentApproveSingleEntry(t *testing.T) {
	clock := newFakeClock()
	svc, store := newTestService(clock)
	ctx := context.Background()

	m, err := svc.Submit(ctx, reporter, validSubmit())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Transition(ctx, moderator, m.ID, ActionApprove, "", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("exactly one concurrent approve should win, got %d", succeeded)
	}
	history, _ := store.History(ctx, m.ID)
	if len(history) != 1 {
		t.Fatalf("exactly one audit entry should exist, got %d", len(history))
	}
}

func TestUpdatePermissionsAndImmutability(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(clock)
	ctx := context.Background()

	m, err := svc.Submit(ctx, reporter, validSubmit())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	other := auth.Actor{ID: "stranger", Role: auth.RoleUser, Active: true}
	title := "updated title"
	if _, err := svc.Update(ctx, other, m.ID, UpdateInput{Title: &title}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger update should fail, got %v", err)
	}

	got, err := svc.Update(ctx, reporter, m.ID, UpdateInput{Title: &title})
	if err != nil {
		t.Fatalf("owner update: %v", err)
	}
	if got.Title != "updated title" {
		t.Fatalf("title = %q", got.Title)
	}
	if got.Latitude != m.Latitude || got.Longitude != m.Longitude || got.Status != m.Status {
		t.Fatal("update must never touch coordinates or status")
	}

	sev := SeverityWhite
	if _, err := svc.Update(ctx, moderator, m.ID, UpdateInput{Severity: &sev}); err != nil {
		t.Fatalf("moderator update: %v", err)
	}
}

func TestDeleteRequiresAdmin(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(clock)
	ctx := context.Background()

	m, err := svc.Submit(ctx, reporter, validSubmit())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := svc.Delete(ctx, moderator, m.ID); !errors.Is(err, auth.ErrInsufficientRole) {
		t.Fatalf("moderator delete should fail, got %v", err)
	}
	if err := svc.Delete(ctx, admin, m.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if _, err := svc.Get(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted marker should be gone, got %v", err)
	}
}

func TestPendingQueueOldestFirst(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(clock)
	ctx := context.Background()

	var submitted []Marker
	for i := 0; i < 3; i++ {
		in := validSubmit()
		in.Latitude += float64(i) * 0.01
		m, err := svc.Submit(ctx, reporter, in)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		submitted = append(submitted, m)
		clock.Advance(time.Minute)
	}

	if _, err := svc.Pending(ctx, reporter); !errors.Is(err, auth.ErrInsufficientRole) {
		t.Fatalf("user must not read the queue, got %v", err)
	}

	queue, err := svc.Pending(ctx, moderator)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(queue) != 3 {
		t.Fatalf("queue length = %d", len(queue))
	}
	for i := range queue {
		if queue[i].ID != submitted[i].ID {
			t.Fatalf("queue should be oldest first, got %s at %d", queue[i].ID, i)
		}
	}
}

func TestBulkApprove(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(clock)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		in := validSubmit()
		in.Latitude += float64(i) * 0.01
		m, err := svc.Submit(ctx, reporter, in)
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		ids = append(ids, m.ID)
	}
	ids = append(ids, "missing-marker")

	res, err := svc.BulkApprove(ctx, moderator, ids)
	if err != nil {
		t.Fatalf("BulkApprove: %v", err)
	}
	if len(res.Approved) != 3 {
		t.Fatalf("approved = %d", len(res.Approved))
	}
	if len(res.Failed) != 1 {
		t.Fatalf("failed = %v", res.Failed)
	}
	if _, ok := res.Failed["missing-marker"]; !ok {
		t.Fatalf("missing marker should be reported, got %v", res.Failed)
	}
}

func TestListFilters(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(clock, func(c *config.MarkersConfig) { c.AutoApprove = true })
	ctx := context.Background()

	center := Point{Lat: 55.7558, Lon: 37.6173}
	in := validSubmit()
	if _, err := svc.Submit(ctx, reporter, in); err != nil {
		t.Fatalf("submit near: %v", err)
	}
	clock.Advance(time.Minute)

	farIn := validSubmit()
	farIn.Category = CategoryTrash
	farIn.Latitude = 59.9311
	farIn.Longitude = 30.3609
	if _, err := svc.Submit(ctx, reporter, farIn); err != nil {
		t.Fatalf("submit far: %v", err)
	}

	all, err := svc.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 markers, got %d", len(all))
	}
	if all[0].Category != CategoryTrash {
		t.Fatal("default order should be newest first")
	}

	dens, err := svc.List(ctx, Filter{Category: CategoryDen})
	if err != nil {
		t.Fatalf("List by category: %v", err)
	}
	if len(dens) != 1 || dens[0].Category != CategoryDen {
		t.Fatalf("category filter failed: %v", dens)
	}

	near, err := svc.List(ctx, Filter{Center: &center, RadiusKM: 5})
	if err != nil {
		t.Fatalf("List by radius: %v", err)
	}
	if len(near) != 1 {
		t.Fatalf("radius filter should keep 1 marker, got %d", len(near))
	}

	recent, err := svc.List(ctx, Filter{CreatedAfter: clock.Now().Add(-30 * time.Second)})
	if err != nil {
		t.Fatalf("List by time: %v", err)
	}
	if len(recent) != 1 || recent[0].Category != CategoryTrash {
		t.Fatalf("time filter should keep the later marker, got %v", recent)
	}

	if _, err := svc.List(ctx, Filter{Status: "imaginary"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad status filter should fail, got %v", err)
	}
}

func TestStats(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newTestService(clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		in := validSubmit()
		in.Latitude += float64(i) * 0.01
		if _, err := svc.Submit(ctx, reporter, in); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	queue, err := svc.Pending(ctx, moderator)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if _, _, err := svc.Transition(ctx, moderator, queue[0].ID, ActionApprove, "", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 || stats.ByStatus[StatusNew] != 2 || stats.ByStatus[StatusApproved] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.ByCategory[CategoryDen] != 3 {
		t.Fatalf("unexpected category stats %+v", stats)
	}

	mstats, err := svc.ModeratorStats(ctx, moderator, moderator.ID)
	if err != nil {
		t.Fatalf("ModeratorStats: %v", err)
	}
	if mstats.Total != 1 || mstats.ByAction[ActionApprove] != 1 {
		t.Fatalf("unexpected moderator stats %+v", mstats)
	}
}
