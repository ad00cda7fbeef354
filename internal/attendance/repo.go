package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"volunteerattendance/internal/record"
)

// Repository persists attendance records in Postgres. Writes are guarded by
// the version column so concurrent writers in other processes surface as
// record.ErrConflict.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const recordColumns = `event_id, volunteer_id, status, check_in, check_out, hours_completed,
	violations, idempotency_key, anchor_version, version, updated_at`

// LoadRecord returns nil when the volunteer has no record for the event.
func (r *Repository) LoadRecord(ctx context.Context, eventID, volunteerID string) (*record.Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE event_id = $1 AND volunteer_id = $2
	`, eventID, volunteerID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// SaveRecord inserts a new record (Version 0) or updates the stored one when
// its version still matches.
func (r *Repository) SaveRecord(ctx context.Context, rec record.Record) (record.Record, error) {
	checkIn, err := marshalLeg(rec.CheckIn)
	if err != nil {
		return record.Record{}, err
	}
	checkOut, err := marshalLeg(rec.CheckOut)
	if err != nil {
		return record.Record{}, err
	}
	violations := rec.Violations
	if violations == nil {
		violations = []record.Violation{}
	}
	violationsJSON, err := json.Marshal(violations)
	if err != nil {
		return record.Record{}, err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	var hours sql.NullFloat64
	if rec.HoursCompleted != nil {
		hours = sql.NullFloat64{Float64: *rec.HoursCompleted, Valid: true}
	}

	var res sql.Result
	if rec.Version == 0 {
		res, err = r.db.ExecContext(ctx, `
			INSERT INTO attendance_records (`+recordColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10)
			ON CONFLICT (event_id, volunteer_id) DO NOTHING
		`, rec.EventID, rec.VolunteerID, string(rec.Status), checkIn, checkOut, hours,
			string(violationsJSON), rec.IdempotencyKey, rec.AnchorVersion, rec.UpdatedAt)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE attendance_records
			SET status = $3, check_in = $4, check_out = $5, hours_completed = $6,
			    violations = $7, idempotency_key = $8, anchor_version = $9,
			    version = version + 1, updated_at = $10
			WHERE event_id = $1 AND volunteer_id = $2 AND version = $11
		`, rec.EventID, rec.VolunteerID, string(rec.Status), checkIn, checkOut, hours,
			string(violationsJSON), rec.IdempotencyKey, rec.AnchorVersion, rec.UpdatedAt, rec.Version)
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("write record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return record.Record{}, err
	}
	if n == 0 {
		return record.Record{}, record.ErrConflict
	}
	saved := rec.Clone()
	saved.Version = rec.Version + 1
	return saved, nil
}

// ListRecords returns every record of an event ordered by volunteer.
func (r *Repository) ListRecords(ctx context.Context, eventID string) ([]record.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE event_id = $1
		ORDER BY volunteer_id
	`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []record.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (record.Record, error) {
	var (
		rec        record.Record
		status     string
		checkIn    []byte
		checkOut   []byte
		hours      sql.NullFloat64
		violations []byte
	)
	if err := s.Scan(&rec.EventID, &rec.VolunteerID, &status, &checkIn, &checkOut, &hours,
		&violations, &rec.IdempotencyKey, &rec.AnchorVersion, &rec.Version, &rec.UpdatedAt); err != nil {
		return record.Record{}, err
	}
	rec.Status = record.Status(status)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	var err error
	if rec.CheckIn, err = unmarshalLeg(checkIn); err != nil {
		return record.Record{}, fmt.Errorf("check_in: %w", err)
	}
	if rec.CheckOut, err = unmarshalLeg(checkOut); err != nil {
		return record.Record{}, fmt.Errorf("check_out: %w", err)
	}
	if hours.Valid {
		h := hours.Float64
		rec.HoursCompleted = &h
	}
	rec.Violations = []record.Violation{}
	if len(violations) > 0 {
		if err := json.Unmarshal(violations, &rec.Violations); err != nil {
			return record.Record{}, fmt.Errorf("violations: %w", err)
		}
	}
	return rec, nil
}

// marshalLeg returns nil for a missing leg so the column is written as NULL.
func marshalLeg(leg *record.Leg) (any, error) {
	if leg == nil {
		return nil, nil
	}
	b, err := json.Marshal(leg)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalLeg(raw []byte) (*record.Leg, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var leg record.Leg
	if err := json.Unmarshal(raw, &leg); err != nil {
		return nil, err
	}
	return &leg, nil
}
