package event

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore reads anchors and approved registrations from Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetEventAnchor returns the highest anchor version for the event.
func (s *PostgresStore) GetEventAnchor(ctx context.Context, eventID string) (Anchor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, version, center_lat, center_lng, radius_meters, strict_mode,
		       start_time, end_time, late_threshold_minutes, allow_manual_override
		FROM event_anchors
		WHERE event_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, eventID)
	var a Anchor
	err := row.Scan(&a.EventID, &a.Version, &a.Center.Latitude, &a.Center.Longitude, &a.RadiusMeters,
		&a.StrictMode, &a.StartTime, &a.EndTime, &a.LateThresholdMinutes, &a.AllowManualOverride)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Anchor{}, ErrEventNotFound
		}
		return Anchor{}, err
	}
	a.StartTime = a.StartTime.UTC()
	a.EndTime = a.EndTime.UTC()
	return a, nil
}

// PutAnchor inserts the anchor as the next version; earlier rows are left untouched.
func (s *PostgresStore) PutAnchor(ctx context.Context, a Anchor) (Anchor, error) {
	if err := a.Validate(); err != nil {
		return Anchor{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO event_anchors (event_id, version, center_lat, center_lng, radius_meters, strict_mode,
		                           start_time, end_time, late_threshold_minutes, allow_manual_override)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4, $5, $6, $7, $8, $9
		FROM event_anchors WHERE event_id = $1
		RETURNING version
	`, a.EventID, a.Center.Latitude, a.Center.Longitude, a.RadiusMeters, a.StrictMode,
		a.StartTime, a.EndTime, a.LateThresholdMinutes, a.AllowManualOverride)
	if err := row.Scan(&a.Version); err != nil {
		return Anchor{}, err
	}
	return a, nil
}

// GetApprovedVolunteers lists volunteers with an approved registration.
func (s *PostgresStore) GetApprovedVolunteers(ctx context.Context, eventID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT volunteer_id FROM event_registrations
		WHERE event_id = $1 AND status = 'approved'
		ORDER BY volunteer_id
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
