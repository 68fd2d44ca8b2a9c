package markers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"narcomap.org/internal/auth"
	"narcomap.org/internal/config"
	"narcomap.org/internal/ids"
	"narcomap.org/internal/obs"
	"narcomap.org/internal/ratelimit"
)

const (
	dailyWindow = 24 * time.Hour

	defaultListLimit = 100
	maxListLimit     = 500
)

// Service enforces submission policy (daily cap, geo anti-spam, intake
// status) and the moderation workflow on top of a Store.
type Service struct {
	store   Store
	limiter *ratelimit.Limiter

	maxPerDay   int
	minDistance float64
	autoApprove bool

	now func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the service time source.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService wires submission policy around the store.
func NewService(store Store, limiter *ratelimit.Limiter, cfg config.MarkersConfig, opts ...ServiceOption) *Service {
	s := &Service{
		store:       store,
		limiter:     limiter,
		maxPerDay:   cfg.MaxPerDay,
		minDistance: cfg.MinDistanceMeters,
		autoApprove: cfg.AutoApprove,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitInput is a new marker submission.
type SubmitInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Address     string   `json:"address"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	PhotoURL    string   `json:"photo_url"`
}

func (in SubmitInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.Latitude < -90 || in.Latitude > 90 {
		return fmt.Errorf("%w: latitude out of range", ErrInvalidInput)
	}
	if in.Longitude < -180 || in.Longitude > 180 {
		return fmt.Errorf("%w: longitude out of range", ErrInvalidInput)
	}
	if !ValidCategory(in.Category) {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, in.Category)
	}
	if in.Severity != "" && !ValidSeverity(in.Severity) {
		return fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, in.Severity)
	}
	return nil
}

func dailyKey(actorID string) string { return actorID + ":create_marker" }

// Submit validates and stores a new marker for the actor. The daily cap is
// checked before the geo scan; the quota slot is recorded only after the
// marker is stored, so rejected submissions do not burn quota.
func (s *Service) Submit(ctx context.Context, actor auth.Actor, in SubmitInput) (Marker, error) {
	if err := in.validate(); err != nil {
		obs.CountMarkerSubmission("invalid")
		return Marker{}, err
	}

	remaining, reset := s.limiter.Remaining(dailyKey(actor.ID), s.maxPerDay, dailyWindow)
	if remaining <= 0 {
		obs.CountMarkerSubmission("rate_limited")
		return Marker{}, &auth.RateLimitedError{RetryAfter: reset}
	}

	p := Point{Lat: in.Latitude, Lon: in.Longitude}
	dist, found, err := nearestOwnMarker(ctx, s.store, actor.ID, p)
	if err != nil {
		return Marker{}, err
	}
	if found && dist < s.minDistance {
		obs.CountMarkerSubmission("duplicate")
		return Marker{}, &DuplicateLocationError{DistanceMeters: dist, MinDistanceMeters: s.minDistance}
	}

	severity := in.Severity
	if severity == "" {
		severity = DefaultSeverity(in.Category)
	}
	status := StatusNew
	if s.autoApprove {
		status = StatusApproved
	}

	now := s.now().UTC()
	m := Marker{
		ID:          ids.New(),
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Address:     in.Address,
		Latitude:    in.Latitude,
		Longitude:   in.Longitude,
		Category:    in.Category,
		Severity:    severity,
		Status:      status,
		PhotoURL:    in.PhotoURL,
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateMarker(ctx, m); err != nil {
		return Marker{}, err
	}
	s.limiter.Allow(dailyKey(actor.ID), s.maxPerDay, dailyWindow)
	obs.CountMarkerSubmission("accepted")
	return m, nil
}

// Get returns a single marker.
func (s *Service) Get(ctx context.Context, id string) (Marker, error) {
	return s.store.GetMarker(ctx, id)
}

// List returns markers matching the filter, newest first. Anonymous callers
// see approved markers only; the handler applies that restriction by
// forcing f.Status.
func (s *Service) List(ctx context.Context, f Filter) ([]Marker, error) {
	if f.Status != "" && !ValidStatus(f.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
	}
	if f.Category != "" && !ValidCategory(f.Category) {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, f.Category)
	}
	if f.Severity != "" && !ValidSeverity(f.Severity) {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, f.Severity)
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	return s.store.ListMarkers(ctx, f)
}

// UpdateInput carries the mutable marker fields. Nil means "leave as is".
// Coordinates and status are never updatable.
type UpdateInput struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Category    *Category `json:"category"`
	Severity    *Severity `json:"severity"`
	PhotoURL    *string   `json:"photo_url"`
}

// Update edits marker metadata. Owners and moderators may edit.
func (s *Service) Update(ctx context.Context, actor auth.Actor, markerID string, in UpdateInput) (Marker, error) {
	m, err := s.store.GetMarker(ctx, markerID)
	if err != nil {
		return Marker{}, err
	}
	if m.CreatedBy != actor.ID && !actor.Role.AtLeast(auth.RoleModerator) {
		return Marker{}, ErrForbidden
	}

	if in.Title != nil {
		if strings.TrimSpace(*in.Title) == "" {
			return Marker{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
		}
		m.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		m.Description = *in.Description
	}
	if in.Category != nil {
		if !ValidCategory(*in.Category) {
			return Marker{}, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, *in.Category)
		}
		m.Category = *in.Category
	}
	if in.Severity != nil {
		if !ValidSeverity(*in.Severity) {
			return Marker{}, fmt.Errorf("%w: unknown severity %q", ErrInvalidInput, *in.Severity)
		}
		m.Severity = *in.Severity
	}
	if in.PhotoURL != nil {
		m.PhotoURL = *in.PhotoURL
	}
	m.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateMarker(ctx, m); err != nil {
		return Marker{}, err
	}
	return m, nil
}

// Delete removes a marker and its history. Admin only.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, markerID string) error {
	if !actor.Role.AtLeast(auth.RoleAdmin) {
		return auth.ErrInsufficientRole
	}
	return s.store.DeleteMarker(ctx, markerID)
}

// Transition applies a moderation action. The role minimum comes from the
// action table; the status change and its audit entry commit atomically in
// the store.
func (s *Service) Transition(ctx context.Context, actor auth.Actor, markerID string, action Action, comment, reportPhotoURL string) (Marker, ModerationEntry, error) {
	required, err := RequiredRole(action)
	if err != nil {
		return Marker{}, ModerationEntry{}, err
	}
	if !actor.Role.AtLeast(required) {
		return Marker{}, ModerationEntry{}, auth.ErrInsufficientRole
	}

	entry := ModerationEntry{
		ID:             ids.New(),
		MarkerID:       markerID,
		ActorID:        actor.ID,
		Action:         action,
		Comment:        comment,
		ReportPhotoURL: reportPhotoURL,
		CreatedAt:      s.now().UTC(),
	}
	m, err := s.store.Transition(ctx, markerID, entry)
	if err != nil {
		return Marker{}, ModerationEntry{}, err
	}
	obs.CountModerationTransition(string(action))
	return m, entry, nil
}

// Pending returns the moderation queue, oldest submissions first.
func (s *Service) Pending(ctx context.Context, actor auth.Actor) ([]Marker, error) {
	if !actor.Role.AtLeast(auth.RoleModerator) {
		return nil, auth.ErrInsufficientRole
	}
	return s.store.ListMarkers(ctx, Filter{Status: StatusNew, Ascending: true})
}

// History returns a marker's moderation trail, oldest first.
func (s *Service) History(ctx context.Context, actor auth.Actor, markerID string) ([]ModerationEntry, error) {
	if !actor.Role.AtLeast(auth.RoleModerator) {
		return nil, auth.ErrInsufficientRole
	}
	if _, err := s.store.GetMarker(ctx, markerID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, markerID)
}

// BulkResult reports a bulk approval: approved markers plus per-id failure
// reasons for the rest.
type BulkResult struct {
	Approved []Marker          `json:"approved"`
	Failed   map[string]string `json:"failed,omitempty"`
}

// BulkApprove approves a batch of markers. Failures are collected per id
// instead of aborting the batch.
func (s *Service) BulkApprove(ctx context.Context, actor auth.Actor, markerIDs []string) (BulkResult, error) {
	if !actor.Role.AtLeast(auth.RoleModerator) {
		return BulkResult{}, auth.ErrInsufficientRole
	}
	res := BulkResult{Failed: make(map[string]string)}
	for _, id := range markerIDs {
		m, _, err := s.Transition(ctx, actor, id, ActionApprove, "", "")
		if err != nil {
			res.Failed[id] = err.Error()
			continue
		}
		res.Approved = append(res.Approved, m)
	}
	if len(res.Failed) == 0 {
		res.Failed = nil
	}
	return res, nil
}

// Stats aggregates marker counts.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

// ModeratorStats counts a moderator's recorded actions.
func (s *Service) ModeratorStats(ctx context.Context, actor auth.Actor, moderatorID string) (ModeratorStats, error) {
	if !actor.Role.AtLeast(auth.RoleModerator) {
		return ModeratorStats{}, auth.ErrInsufficientRole
	}
	return s.store.ModeratorStats(ctx, moderatorID)
}

// CountByCreator reports how many markers an actor has submitted in total.
func (s *Service) CountByCreator(ctx context.Context, actorID string) (int, error) {
	own, err := s.store.ListMarkers(ctx, Filter{CreatedBy: actorID})
	if err != nil {
		return 0, err
	}
	return len(own), nil
}

// RemainingQuota reports how many markers the actor may still submit today
// and when the next slot frees.
func (s *Service) RemainingQuota(actorID string) (int, time.Time) {
	return s.limiter.Remaining(dailyKey(actorID), s.maxPerDay, dailyWindow)
}
