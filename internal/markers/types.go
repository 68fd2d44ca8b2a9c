// Package markers implements incident marker submission, geo anti-spam and
// the moderation workflow.
package markers

import (
	"errors"
	"fmt"
	"time"
)

// Category classifies what a marker reports.
type Category string

const (
	CategoryDen     Category = "den"
	CategoryAd      Category = "ad"
	CategoryCourier Category = "courier"
	CategoryUse     Category = "use"
	CategoryTrash   Category = "trash"
)

// Severity is the color code shown on the map.
type Severity string

const (
	SeverityRed    Severity = "red"
	SeverityOrange Severity = "orange"
	SeverityYellow Severity = "yellow"
	SeverityGreen  Severity = "green"
	SeverityWhite  Severity = "white"
)

// categorySeverity is the default color per category, applied when the
// submitter does not pick one.
var categorySeverity = map[Category]Severity{
	CategoryDen:     SeverityRed,
	CategoryAd:      SeverityOrange,
	CategoryCourier: SeverityYellow,
	CategoryUse:     SeverityGreen,
	CategoryTrash:   SeverityWhite,
}

// Status is a marker's place in the moderation workflow.
type Status string

const (
	StatusNew      Status = "new"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusResolved Status = "resolved"
)

// Action is a moderation verb applied to a marker.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionResolve Action = "resolve"
)

var (
	// ErrNotFound is returned when a marker does not exist.
	ErrNotFound = errors.New("markers: not found")
	// ErrInvalidTransition is returned when an action does not apply to the
	// marker's current status.
	ErrInvalidTransition = errors.New("markers: invalid transition")
	// ErrDuplicateLocation is returned when a submission lands too close to
	// one of the actor's own markers.
	ErrDuplicateLocation = errors.New("markers: duplicate location")
	// ErrInvalidInput is returned for out-of-range or malformed submissions.
	ErrInvalidInput = errors.New("markers: invalid input")
	// ErrForbidden is returned when the actor may not touch the marker.
	ErrForbidden = errors.New("markers: forbidden")
)

// DuplicateLocationError carries the conflicting distance alongside the
// configured threshold. It wraps ErrDuplicateLocation.
type DuplicateLocationError struct {
	DistanceMeters    float64
	MinDistanceMeters float64
}

func (e *DuplicateLocationError) Error() string {
	return fmt.Sprintf("markers: duplicate location %.1fm away (minimum %.1fm)", e.DistanceMeters, e.MinDistanceMeters)
}

func (e *DuplicateLocationError) Unwrap() error { return ErrDuplicateLocation }

// Marker is a geolocated incident report. Coordinates are immutable after
// creation; status changes only through the moderation state machine.
type Marker struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Address     string   `json:"address,omitempty"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Status      Status   `json:"status"`
	PhotoURL    string   `json:"photo_url,omitempty"`
	CreatedBy   string   `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ModerationEntry is one audit record of a status transition. Append-only.
type ModerationEntry struct {
	ID             string    `json:"id"`
	MarkerID       string    `json:"marker_id"`
	ActorID        string    `json:"actor_id"`
	Action         Action    `json:"action"`
	Comment        string    `json:"comment,omitempty"`
	ReportPhotoURL string    `json:"report_photo_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lon float64
}

// Filter narrows marker listings. Zero values mean "no constraint".
type Filter struct {
	Category      Category
	Severity      Severity
	Status        Status
	CreatedBy     string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Center        *Point
	RadiusKM      float64

	// Ascending orders by creation time oldest first; the default is newest
	// first. The moderation queue reads oldest first.
	Ascending bool
	Offset    int
	Limit     int
}

// Stats aggregates marker counts for the dashboard endpoint.
type Stats struct {
	Total      int              `json:"total"`
	ByStatus   map[Status]int   `json:"by_status"`
	ByCategory map[Category]int `json:"by_category"`
}

// ModeratorStats counts one moderator's recorded actions.
type ModeratorStats struct {
	ActorID  string         `json:"actor_id"`
	ByAction map[Action]int `json:"by_action"`
	Total    int            `json:"total"`
}

// ValidCategory reports whether c is a defined category.
func ValidCategory(c Category) bool {
	_, ok := categorySeverity[c]
	return ok
}

// ValidSeverity reports whether s is a defined severity color.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityRed, SeverityOrange, SeverityYellow, SeverityGreen, SeverityWhite:
		return true
	}
	return false
}

// ValidStatus reports whether s is a defined workflow status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusNew, StatusApproved, StatusRejected, StatusResolved:
		return true
	}
	return false
}

// DefaultSeverity returns the color assigned to a category when the
// submitter picks none.
func DefaultSeverity(c Category) Severity {
	if s, ok := categorySeverity[c]; ok {
		return s
	}
	return SeverityYellow
}
