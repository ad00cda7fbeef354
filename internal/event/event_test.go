package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"volunteerattendance/internal/geofence"
)

const sampleCatalog = `
events:
  - id: beach-cleanup
    center: {latitude: 25.2048, longitude: 55.2708}
    radius_meters: 100
    strict_mode: true
    start: 2026-03-01T08:00:00Z
    end: 2026-03-01T12:00:00Z
    allow_manual_override: true
    approved: [vol-2, vol-1, vol-1]
  - id: food-bank
    center: {latitude: 40.7128, longitude: -74.0060}
    radius_meters: 250
    start: 2026-03-02T09:00:00Z
    end: 2026-03-02T17:00:00Z
    late_threshold_minutes: 30
`

func TestParseCatalog(t *testing.T) {
	mem, err := ParseCatalog([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ctx := context.Background()

	a, err := mem.GetEventAnchor(ctx, "beach-cleanup")
	if err != nil {
		t.Fatalf("get anchor: %v", err)
	}
	if a.Version != 1 || !a.StrictMode || !a.AllowManualOverride || a.RadiusMeters != 100 {
		t.Fatalf("unexpected anchor: %+v", a)
	}
	if a.LateThreshold() != 15*time.Minute {
		t.Fatalf("expected default threshold, got %s", a.LateThreshold())
	}

	ids, err := mem.GetApprovedVolunteers(ctx, "beach-cleanup")
	if err != nil {
		t.Fatalf("approved: %v", err)
	}
	if len(ids) != 2 || ids[0] != "vol-1" || ids[1] != "vol-2" {
		t.Fatalf("unexpected approved list: %v", ids)
	}

	b, _ := mem.GetEventAnchor(ctx, "food-bank")
	if b.LateThreshold() != 30*time.Minute || b.StrictMode {
		t.Fatalf("unexpected anchor: %+v", b)
	}
}

func TestParseCatalogRejectsBadAnchor(t *testing.T) {
	_, err := ParseCatalog([]byte(`
events:
  - id: broken
    center: {latitude: 95, longitude: 0}
    radius_meters: 10
    start: 2026-03-01T08:00:00Z
    end: 2026-03-01T12:00:00Z
`))
	if !errors.Is(err, ErrInvalidAnchor) {
		t.Fatalf("expected ErrInvalidAnchor, got %v", err)
	}
}

func TestMemoryPutCreatesNewVersion(t *testing.T) {
	mem := NewMemory()
	base := Anchor{
		EventID:      "e1",
		Center:       geofence.Point{Latitude: 1, Longitude: 1},
		RadiusMeters: 50,
		StartTime:    time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC),
		EndTime:      time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC),
	}
	first, err := mem.Put(base)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	base.RadiusMeters = 80
	second, err := mem.Put(base)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if first.Version != 1 || second.Version != 2 {
		t.Fatalf("unexpected versions %d, %d", first.Version, second.Version)
	}
	latest, _ := mem.GetEventAnchor(context.Background(), "e1")
	if latest.Version != 2 || latest.RadiusMeters != 80 {
		t.Fatalf("expected latest version, got %+v", latest)
	}
	if _, err := mem.GetEventAnchor(context.Background(), "missing"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestLateAfter(t *testing.T) {
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	a := Anchor{StartTime: start, LateThresholdMinutes: 10}
	if !a.LateAfter().Equal(start.Add(10 * time.Minute)) {
		t.Fatalf("unexpected cutoff %s", a.LateAfter())
	}
}
