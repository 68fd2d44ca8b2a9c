package markers

import "context"

// Store persists markers and their moderation history. Transition must be
// atomic: status check, status update and audit append commit together or
// not at all.
type Store interface {
	CreateMarker(ctx context.Context, m Marker) error
	GetMarker(ctx context.Context, id string) (Marker, error)
	UpdateMarker(ctx context.Context, m Marker) error
	DeleteMarker(ctx context.Context, id string) error
	ListMarkers(ctx context.Context, f Filter) ([]Marker, error)

	// Transition applies entry.Action to the marker via NextStatus and
	// appends exactly one moderation entry. An invalid transition changes
	// nothing and appends nothing.
	Transition(ctx context.Context, markerID string, entry ModerationEntry) (Marker, error)

	History(ctx context.Context, markerID string) ([]ModerationEntry, error)
	Stats(ctx context.Context) (Stats, error)
	ModeratorStats(ctx context.Context, actorID string) (ModeratorStats, error)
}
