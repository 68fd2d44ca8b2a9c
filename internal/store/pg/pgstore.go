// Package pg implements the marker store on PostgreSQL via database/sql and
// the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"narcomap.org/internal/markers"
)

// MarkerStore implements markers.Store. Transition runs the status check,
// update and audit insert in one transaction.
type MarkerStore struct {
	db *sql.DB
}

// Open connects to PostgreSQL with the pgx stdlib driver and verifies the
// connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewMarkerStore wraps an open handle.
func NewMarkerStore(db *sql.DB) *MarkerStore {
	return &MarkerStore{db: db}
}

// EnsureSchema creates the marker tables if they do not exist.
func (s *MarkerStore) EnsureSchema(ctx context.Context) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS markers (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	address     TEXT NOT NULL DEFAULT '',
	latitude    DOUBLE PRECISION NOT NULL,
	longitude   DOUBLE PRECISION NOT NULL,
	category    TEXT NOT NULL,
	severity    TEXT NOT NULL,
	status      TEXT NOT NULL,
	photo_url   TEXT NOT NULL DEFAULT '',
	created_by  TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS markers_status_idx ON markers (status, created_at);
CREATE INDEX IF NOT EXISTS markers_creator_idx ON markers (created_by);
CREATE TABLE IF NOT EXISTS moderation_entries (
	id               TEXT PRIMARY KEY,
	marker_id        TEXT NOT NULL REFERENCES markers (id) ON DELETE CASCADE,
	actor_id         TEXT NOT NULL,
	action           TEXT NOT NULL,
	comment          TEXT NOT NULL DEFAULT '',
	report_photo_url TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS moderation_entries_marker_idx ON moderation_entries (marker_id, created_at);`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure marker schema: %w", err)
	}
	return nil
}

const markerColumns = `id, title, description, address, latitude, longitude,
	category, severity, status, photo_url, created_by, created_at, updated_at`

func (s *MarkerStore) CreateMarker(ctx context.Context, m markers.Marker) error {
	const stmt = `
INSERT INTO markers (` + markerColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := s.db.ExecContext(ctx, stmt,
		m.ID, m.Title, m.Description, m.Address, m.Latitude, m.Longitude,
		string(m.Category), string(m.Severity), string(m.Status), m.PhotoURL,
		m.CreatedBy, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert marker: %w", err)
	}
	return nil
}

func (s *MarkerStore) GetMarker(ctx context.Context, id string) (markers.Marker, error) {
	const stmt = `SELECT ` + markerColumns + ` FROM markers WHERE id = $1`
	return scanMarker(s.db.QueryRowContext(ctx, stmt, id))
}

func (s *MarkerStore) UpdateMarker(ctx context.Context, m markers.Marker) error {
	const stmt = `
UPDATE markers SET title = $2, description = $3, category = $4, severity = $5,
	photo_url = $6, updated_at = $7
WHERE id = $1`
	res, err := s.db.ExecContext(ctx, stmt,
		m.ID, m.Title, m.Description, string(m.Category), string(m.Severity),
		m.PhotoURL, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update marker: %w", err)
	}
	if n == 0 {
		return markers.ErrNotFound
	}
	return nil
}

func (s *MarkerStore) DeleteMarker(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM markers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete marker: %w", err)
	}
	if n == 0 {
		return markers.ErrNotFound
	}
	return nil
}

// ListMarkers filters in SQL where it can; the radius constraint is applied
// in Go after the fetch, matching the in-memory store's semantics.
func (s *MarkerStore) ListMarkers(ctx context.Context, f markers.Filter) ([]markers.Marker, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Category != "" {
		add("category = $%d", string(f.Category))
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.CreatedBy != "" {
		add("created_by = $%d", f.CreatedBy)
	}
	if !f.CreatedAfter.IsZero() {
		add("created_at >= $%d", f.CreatedAfter)
	}
	if !f.CreatedBefore.IsZero() {
		add("created_at <= $%d", f.CreatedBefore)
	}

	stmt := `SELECT ` + markerColumns + ` FROM markers`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY created_at"
	if !f.Ascending {
		stmt += " DESC"
	}
	radiusFilter := f.Center != nil && f.RadiusKM > 0
	if !radiusFilter {
		if f.Limit > 0 {
			args = append(args, f.Limit)
			stmt += fmt.Sprintf(" LIMIT $%d", len(args))
		}
		if f.Offset > 0 {
			args = append(args, f.Offset)
			stmt += fmt.Sprintf(" OFFSET $%d", len(args))
		}
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list markers: %w", err)
	}
	defer rows.Close()

	var out []markers.Marker
	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, err
		}
		if radiusFilter {
			d := markers.HaversineMeters(*f.Center, markers.Point{Lat: m.Latitude, Lon: m.Longitude})
			if d > f.RadiusKM*1000 {
				continue
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list markers: %w", err)
	}

	if radiusFilter {
		if f.Offset > 0 {
			if f.Offset >= len(out) {
				return nil, nil
			}
			out = out[f.Offset:]
		}
		if f.Limit > 0 && len(out) > f.Limit {
			out = out[:f.Limit]
		}
	}
	return out, nil
}

func (s *MarkerStore) Transition(ctx context.Context, markerID string, entry markers.ModerationEntry) (markers.Marker, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return markers.Marker{}, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	const lock = `SELECT ` + markerColumns + ` FROM markers WHERE id = $1 FOR UPDATE`
	m, err := scanMarker(tx.QueryRowContext(ctx, lock, markerID))
	if err != nil {
		return markers.Marker{}, err
	}

	next, err := markers.NextStatus(m.Status, entry.Action)
	if err != nil {
		return markers.Marker{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE markers SET status = $2, updated_at = $3 WHERE id = $1`,
		markerID, string(next), entry.CreatedAt); err != nil {
		return markers.Marker{}, fmt.Errorf("update status: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO moderation_entries (id, marker_id, actor_id, action, comment, report_photo_url, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.MarkerID, entry.ActorID, string(entry.Action),
		entry.Comment, entry.ReportPhotoURL, entry.CreatedAt); err != nil {
		return markers.Marker{}, fmt.Errorf("insert moderation entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return markers.Marker{}, fmt.Errorf("commit transition: %w", err)
	}
	m.Status = next
	m.UpdatedAt = entry.CreatedAt
	return m, nil
}

func (s *MarkerStore) History(ctx context.Context, markerID string) ([]markers.ModerationEntry, error) {
	const stmt = `
SELECT id, marker_id, actor_id, action, comment, report_photo_url, created_at
FROM moderation_entries WHERE marker_id = $1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, stmt, markerID)
	if err != nil {
		return nil, fmt.Errorf("marker history: %w", err)
	}
	defer rows.Close()

	var out []markers.ModerationEntry
	for rows.Next() {
		var e markers.ModerationEntry
		var action string
		if err := rows.Scan(&e.ID, &e.MarkerID, &e.ActorID, &action, &e.Comment, &e.ReportPhotoURL, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan moderation entry: %w", err)
		}
		e.Action = markers.Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *MarkerStore) Stats(ctx context.Context) (markers.Stats, error) {
	stats := markers.Stats{
		ByStatus:   make(map[markers.Status]int),
		ByCategory: make(map[markers.Category]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, category, COUNT(*) FROM markers GROUP BY status, category`)
	if err != nil {
		return markers.Stats{}, fmt.Errorf("marker stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, category string
		var count int
		if err := rows.Scan(&status, &category, &count); err != nil {
			return markers.Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		stats.Total += count
		stats.ByStatus[markers.Status(status)] += count
		stats.ByCategory[markers.Category(category)] += count
	}
	return stats, rows.Err()
}

func (s *MarkerStore) ModeratorStats(ctx context.Context, actorID string) (markers.ModeratorStats, error) {
	stats := markers.ModeratorStats{ActorID: actorID, ByAction: make(map[markers.Action]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT action, COUNT(*) FROM moderation_entries WHERE actor_id = $1 GROUP BY action`, actorID)
	if err != nil {
		return markers.ModeratorStats{}, fmt.Errorf("moderator stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action string
		var count int
		if err := rows.Scan(&action, &count); err != nil {
			return markers.ModeratorStats{}, fmt.Errorf("scan moderator stats: %w", err)
		}
		stats.ByAction[markers.Action(action)] = count
		stats.Total += count
	}
	return stats, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarker(row rowScanner) (markers.Marker, error) {
	var m markers.Marker
	var category, severity, status string
	err := row.Scan(&m.ID, &m.Title, &m.Description, &m.Address, &m.Latitude, &m.Longitude,
		&category, &severity, &status, &m.PhotoURL, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return markers.Marker{}, markers.ErrNotFound
	}
	if err != nil {
		return markers.Marker{}, fmt.Errorf("scan marker: %w", err)
	}
	m.Category = markers.Category(category)
	m.Severity = markers.Severity(severity)
	m.Status = markers.Status(status)
	return m, nil
}
