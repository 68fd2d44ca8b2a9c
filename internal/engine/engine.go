// Package engine is the external surface of the workflow core: login,
// token lifecycle, marker submission and moderation, composed from the
// domain packages and wired to the audit log and the live event stream.
package engine

import (
	"context"
	"time"

	"narcomap.org/internal/audit"
	"narcomap.org/internal/auth"
	"narcomap.org/internal/markers"
	"narcomap.org/internal/stream"
)

// Engine composes the domain services behind one facade. Handlers talk to
// the engine only.
type Engine struct {
	auth    *auth.Service
	markers *markers.Service
	events  *stream.Stream
}

// New wires the facade. The stream may be nil when no live subscribers are
// served (cmd/smoke does this).
func New(authSvc *auth.Service, markerSvc *markers.Service, events *stream.Stream) *Engine {
	return &Engine{auth: authSvc, markers: markerSvc, events: events}
}

// RequestOTP issues a login code for the phone.
func (e *Engine) RequestOTP(ctx context.Context, phone string) (*auth.CodeIssue, error) {
	return e.auth.RequestCode(ctx, phone)
}

// VerifyOTP exchanges a live code for a token pair, creating the actor on
// first login.
func (e *Engine) VerifyOTP(ctx context.Context, phone, code string) (auth.Actor, *auth.TokenPair, error) {
	actor, pair, err := e.auth.VerifyCode(ctx, phone, code)
	if err != nil {
		return auth.Actor{}, nil, err
	}
	audit.LogEvent(ctx, "auth.login", map[string]any{"actor_id": actor.ID})
	return actor, pair, nil
}

// RefreshAccessToken remints the access token from a refresh token,
// re-resolving the actor's current role and active flag.
func (e *Engine) RefreshAccessToken(ctx context.Context, refreshToken string) (auth.Actor, *auth.TokenPair, error) {
	return e.auth.Refresh(ctx, refreshToken)
}

// Authenticate resolves an access token to its actor.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (auth.Actor, error) {
	return e.auth.Authenticate(ctx, accessToken)
}

// Authorize checks an actor against a minimum role.
func (e *Engine) Authorize(actor auth.Actor, required auth.Role) error {
	return e.auth.Authorize(actor, required)
}

// SubmitMarker stores a new marker under the submission policy. When intake
// auto-approves, the marker is published to the live stream immediately.
func (e *Engine) SubmitMarker(ctx context.Context, actor auth.Actor, in markers.SubmitInput) (markers.Marker, error) {
	m, err := e.markers.Submit(ctx, actor, in)
	if err != nil {
		return markers.Marker{}, err
	}
	audit.LogEvent(ctx, "marker.submit", map[string]any{
		"marker_id": m.ID,
		"category":  string(m.Category),
		"status":    string(m.Status),
	})
	if m.Status == markers.StatusApproved {
		e.publish(stream.EventApproved, m)
	}
	return m, nil
}

// TransitionMarker applies a moderation action and publishes lifecycle
// events for approvals and resolutions.
func (e *Engine) TransitionMarker(ctx context.Context, actor auth.Actor, markerID string, action markers.Action, comment, reportPhotoURL string) (markers.Marker, error) {
	m, entry, err := e.markers.Transition(ctx, actor, markerID, action, comment, reportPhotoURL)
	if err != nil {
		return markers.Marker{}, err
	}
	audit.LogEvent(ctx, "moderation."+string(action), map[string]any{
		"marker_id": m.ID,
		"entry_id":  entry.ID,
		"status":    string(m.Status),
	})
	switch m.Status {
	case markers.StatusApproved:
		e.publish(stream.EventApproved, m)
	case markers.StatusResolved:
		e.publish(stream.EventResolved, m)
	}
	return m, nil
}

// GetMarker returns one marker.
func (e *Engine) GetMarker(ctx context.Context, id string) (markers.Marker, error) {
	return e.markers.Get(ctx, id)
}

// ListMarkers returns markers matching the filter.
func (e *Engine) ListMarkers(ctx context.Context, f markers.Filter) ([]markers.Marker, error) {
	return e.markers.List(ctx, f)
}

// UpdateMarker edits marker metadata (owner or moderator+).
func (e *Engine) UpdateMarker(ctx context.Context, actor auth.Actor, markerID string, in markers.UpdateInput) (markers.Marker, error) {
	m, err := e.markers.Update(ctx, actor, markerID, in)
	if err != nil {
		return markers.Marker{}, err
	}
	audit.LogEvent(ctx, "marker.update", map[string]any{"marker_id": m.ID})
	return m, nil
}

// DeleteMarker removes a marker (admin only).
func (e *Engine) DeleteMarker(ctx context.Context, actor auth.Actor, markerID string) error {
	if err := e.markers.Delete(ctx, actor, markerID); err != nil {
		return err
	}
	audit.LogEvent(ctx, "marker.delete", map[string]any{"marker_id": markerID})
	return nil
}

// PendingMarkers returns the moderation queue, oldest first.
func (e *Engine) PendingMarkers(ctx context.Context, actor auth.Actor) ([]markers.Marker, error) {
	return e.markers.Pending(ctx, actor)
}

// MarkerHistory returns a marker's moderation trail.
func (e *Engine) MarkerHistory(ctx context.Context, actor auth.Actor, markerID string) ([]markers.ModerationEntry, error) {
	return e.markers.History(ctx, actor, markerID)
}

// BulkApprove approves a batch of markers, publishing each approval.
func (e *Engine) BulkApprove(ctx context.Context, actor auth.Actor, markerIDs []string) (markers.BulkResult, error) {
	res, err := e.markers.BulkApprove(ctx, actor, markerIDs)
	if err != nil {
		return markers.BulkResult{}, err
	}
	for _, m := range res.Approved {
		audit.LogEvent(ctx, "moderation.approve", map[string]any{"marker_id": m.ID})
		e.publish(stream.EventApproved, m)
	}
	return res, nil
}

// MarkerStats aggregates marker counts.
func (e *Engine) MarkerStats(ctx context.Context) (markers.Stats, error) {
	return e.markers.Stats(ctx)
}

// ModeratorStats counts a moderator's recorded actions.
func (e *Engine) ModeratorStats(ctx context.Context, actor auth.Actor, moderatorID string) (markers.ModeratorStats, error) {
	return e.markers.ModeratorStats(ctx, actor, moderatorID)
}

// Subscribe attaches a live subscriber to marker lifecycle events. With no
// stream configured the returned channel is already closed.
func (e *Engine) Subscribe(ctx context.Context) <-chan stream.MarkerEvent {
	if e.events == nil {
		ch := make(chan stream.MarkerEvent)
		close(ch)
		return ch
	}
	return e.events.Subscribe(ctx)
}

// ActorStats summarizes one actor's submission activity.
type ActorStats struct {
	ActorID        string    `json:"actor_id"`
	MarkerCount    int       `json:"marker_count"`
	QuotaRemaining int       `json:"quota_remaining"`
	QuotaResetsAt  time.Time `json:"quota_resets_at"`
}

// StatsForActor reports an actor's marker count and remaining daily quota.
func (e *Engine) StatsForActor(ctx context.Context, actorID string) (ActorStats, error) {
	count, err := e.markers.CountByCreator(ctx, actorID)
	if err != nil {
		return ActorStats{}, err
	}
	remaining, reset := e.markers.RemainingQuota(actorID)
	return ActorStats{
		ActorID:        actorID,
		MarkerCount:    count,
		QuotaRemaining: remaining,
		QuotaResetsAt:  reset,
	}, nil
}

// ListActors returns every actor (admin surface).
func (e *Engine) ListActors(ctx context.Context, actor auth.Actor) ([]auth.Actor, error) {
	if !actor.Role.AtLeast(auth.RoleAdmin) {
		return nil, auth.ErrInsufficientRole
	}
	return e.auth.ListActors(ctx)
}

// SetActorRole changes an actor's role (admin surface).
func (e *Engine) SetActorRole(ctx context.Context, actor auth.Actor, actorID string, role auth.Role) (auth.Actor, error) {
	if !actor.Role.AtLeast(auth.RoleAdmin) {
		return auth.Actor{}, auth.ErrInsufficientRole
	}
	updated, err := e.auth.SetActorRole(ctx, actorID, role)
	if err != nil {
		return auth.Actor{}, err
	}
	audit.LogEvent(ctx, "admin.set_role", map[string]any{
		"target_id": actorID,
		"role":      string(role),
	})
	return updated, nil
}

// SetActorActive activates or deactivates an actor (admin surface).
func (e *Engine) SetActorActive(ctx context.Context, actor auth.Actor, actorID string, active bool) (auth.Actor, error) {
	if !actor.Role.AtLeast(auth.RoleAdmin) {
		return auth.Actor{}, auth.ErrInsufficientRole
	}
	updated, err := e.auth.SetActorActive(ctx, actorID, active)
	if err != nil {
		return auth.Actor{}, err
	}
	audit.LogEvent(ctx, "admin.set_active", map[string]any{
		"target_id": actorID,
		"active":    active,
	})
	return updated, nil
}

// GetActor returns a single actor (admin surface).
func (e *Engine) GetActor(ctx context.Context, actor auth.Actor, actorID string) (auth.Actor, error) {
	if !actor.Role.AtLeast(auth.RoleAdmin) {
		return auth.Actor{}, auth.ErrInsufficientRole
	}
	return e.auth.GetActor(ctx, actorID)
}

func (e *Engine) publish(kind string, m markers.Marker) {
	if e.events == nil {
		return
	}
	e.events.Publish(stream.MarkerEvent{
		Kind:      kind,
		Marker:    m,
		Timestamp: time.Now().UTC(),
	})
}
