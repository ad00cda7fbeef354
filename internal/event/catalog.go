package event

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"volunteerattendance/internal/geofence"
)

// catalogFile is the YAML layout of a static event catalog:
//
//	events:
//	  - id: beach-cleanup
//	    center: {latitude: 25.2048, longitude: 55.2708}
//	    radius_meters: 100
//	    strict_mode: true
//	    start: 2026-03-01T08:00:00Z
//	    end: 2026-03-01T12:00:00Z
//	    late_threshold_minutes: 15
//	    allow_manual_override: true
//	    approved: [vol-1, vol-2]
type catalogFile struct {
	Events []catalogEvent `yaml:"events"`
}

type catalogEvent struct {
	ID                   string         `yaml:"id"`
	Center               geofence.Point `yaml:"center"`
	RadiusMeters         float64        `yaml:"radius_meters"`
	StrictMode           bool           `yaml:"strict_mode"`
	Start                time.Time      `yaml:"start"`
	End                  time.Time      `yaml:"end"`
	LateThresholdMinutes int            `yaml:"late_threshold_minutes"`
	AllowManualOverride  bool           `yaml:"allow_manual_override"`
	Approved             []string       `yaml:"approved"`
}

// LoadCatalogFile reads a YAML catalog into a Memory store.
func LoadCatalogFile(path string) (*Memory, error) {
	if path == "" {
		return nil, errors.New("catalog path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(b)
}

// ParseCatalog decodes YAML catalog bytes.
func ParseCatalog(b []byte) (*Memory, error) {
	var file catalogFile
	if err := yaml.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	mem := NewMemory()
	for _, ev := range file.Events {
		_, err := mem.Put(Anchor{
			EventID:              ev.ID,
			Center:               ev.Center,
			RadiusMeters:         ev.RadiusMeters,
			StrictMode:           ev.StrictMode,
			StartTime:            ev.Start.UTC(),
			EndTime:              ev.End.UTC(),
			LateThresholdMinutes: ev.LateThresholdMinutes,
			AllowManualOverride:  ev.AllowManualOverride,
		})
		if err != nil {
			return nil, fmt.Errorf("event %q: %w", ev.ID, err)
		}
		mem.Approve(ev.ID, ev.Approved...)
	}
	return mem, nil
}
