package attendance

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"volunteerattendance/internal/geofence"
	"volunteerattendance/internal/record"
)

// Attempt describes a check-in or check-out that did not produce a record.
type Attempt struct {
	Kind           record.Kind
	EventID        string
	VolunteerID    string
	Method         record.Method
	SupervisorID   string
	IdempotencyKey string
	Location       geofence.Point
	DistanceMeters float64
	HasDistance    bool
	Reason         string
	Err            error
	At             time.Time
}

// Auditor is the audit trail sink. Implementations must not block for long;
// they run on the request path.
type Auditor interface {
	Rejected(ctx context.Context, a Attempt)
	Accepted(ctx context.Context, kind record.Kind, rec record.Record)
}

// LogAuditor writes one key=value line per attempt.
type LogAuditor struct {
	Logger *log.Logger
}

func (l LogAuditor) logger() *log.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return log.Default()
}

func (l LogAuditor) Rejected(_ context.Context, a Attempt) {
	distance := "unknown"
	if a.HasDistance {
		distance = formatMeters(a.DistanceMeters)
	}
	l.logger().Printf("audit rejected kind=%s event=%s volunteer=%s method=%s supervisor=%s reason=%s distance_m=%s at=%s err=%q",
		a.Kind, a.EventID, a.VolunteerID, a.Method, a.SupervisorID, a.Reason, distance, a.At.Format(time.RFC3339), errString(a.Err))
}

func (l LogAuditor) Accepted(_ context.Context, kind record.Kind, rec record.Record) {
	leg := rec.CheckIn
	if kind == record.KindCheckOut {
		leg = rec.CheckOut
	}
	if leg == nil {
		return
	}
	kinds := make([]string, 0, len(rec.Violations))
	for _, v := range rec.Violations {
		kinds = append(kinds, string(v.Kind))
	}
	l.logger().Printf("audit accepted kind=%s event=%s volunteer=%s method=%s supervisor=%s status=%s distance_m=%s within=%t violations=%s",
		kind, rec.EventID, rec.VolunteerID, leg.Method, leg.SupervisorID, rec.Status, formatMeters(leg.DistanceMeters), leg.WithinRadius, strings.Join(kinds, ","))
}

func formatMeters(m float64) string {
	return fmt.Sprintf("%.1f", m)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
