package store

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS event_anchors (
	event_id               TEXT NOT NULL,
	version                INTEGER NOT NULL,
	center_lat             DOUBLE PRECISION NOT NULL,
	center_lng             DOUBLE PRECISION NOT NULL,
	radius_meters          DOUBLE PRECISION NOT NULL CHECK (radius_meters > 0),
	strict_mode            BOOLEAN NOT NULL DEFAULT FALSE,
	start_time             TIMESTAMPTZ NOT NULL,
	end_time               TIMESTAMPTZ NOT NULL,
	late_threshold_minutes INTEGER NOT NULL DEFAULT 15,
	allow_manual_override  BOOLEAN NOT NULL DEFAULT TRUE,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (event_id, version)
);

CREATE TABLE IF NOT EXISTS event_registrations (
	event_id     TEXT NOT NULL,
	volunteer_id TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	PRIMARY KEY (event_id, volunteer_id)
);

CREATE TABLE IF NOT EXISTS event_tokens (
	event_id    TEXT NOT NULL,
	purpose     TEXT NOT NULL,
	value       TEXT NOT NULL UNIQUE,
	valid_from  TIMESTAMPTZ NOT NULL,
	valid_until TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (event_id, purpose)
);

CREATE TABLE IF NOT EXISTS attendance_records (
	event_id        TEXT NOT NULL,
	volunteer_id    TEXT NOT NULL,
	status          TEXT NOT NULL,
	check_in        JSONB,
	check_out       JSONB,
	hours_completed DOUBLE PRECISION,
	violations      JSONB NOT NULL DEFAULT '[]',
	idempotency_key TEXT NOT NULL,
	anchor_version  INTEGER NOT NULL,
	version         BIGINT NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (event_id, volunteer_id),
	CHECK ((status = 'CHECKED_OUT') = (hours_completed IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_attendance_records_status ON attendance_records(event_id, status);
`

// Migrate creates the attendance tables when they do not exist.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.Client.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
