package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"volunteerattendance/internal/metrics"
	"volunteerattendance/internal/record"
)

// DefaultSweepConcurrency bounds the records a sweep finalises in parallel.
const DefaultSweepConcurrency = 8

// SweepResult summarises one absentee sweep.
type SweepResult struct {
	EventID         string    `json:"event_id"`
	RanAt           time.Time `json:"ran_at"`
	MarkedAbsent    int       `json:"marked_absent"`
	MissingCheckout int       `json:"missing_checkout"`
	Unchanged       int       `json:"unchanged"`
	Failed          int       `json:"failed"`
}

// RunAbsenteeSweep finalises an event after its end plus grace. Approved
// volunteers without a record become ABSENT; records still CHECKED_IN gain a
// MISSING_CHECKOUT annotation. Running it again changes nothing.
func (s *Service) RunAbsenteeSweep(ctx context.Context, eventID string) (res SweepResult, err error) {
	ctx, span := tracer.Start(ctx, "attendance.Sweep", trace.WithAttributes(attribute.String("event.id", eventID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	now := s.clock().UTC()
	res = SweepResult{EventID: eventID, RanAt: now}

	anchor, err := s.anchor(ctx, eventID)
	if err != nil {
		return res, err
	}
	if due := anchor.EndTime.Add(s.sweepGrace); now.Before(due) {
		return res, fmt.Errorf("%w: event %s can be swept from %s", ErrSweepTooEarly, eventID, due.Format(time.RFC3339))
	}

	approved, err := s.regs.GetApprovedVolunteers(ctx, eventID)
	if err != nil {
		return res, fmt.Errorf("%w: approved volunteers: %v", record.ErrTransient, err)
	}
	s.ensureEvent(ctx, eventID)
	existing, err := s.records.ListRecords(ctx, eventID)
	if err != nil {
		return res, fmt.Errorf("%w: list records: %v", record.ErrTransient, err)
	}
	volunteers := sweepTargets(approved, existing)

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(s.sweepConcurrency)
	for _, volunteerID := range volunteers {
		g.Go(func() error {
			rec, outcome, err := s.machine.Sweep(ctx, anchor, volunteerID, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				errs = append(errs, fmt.Errorf("volunteer %s: %w", volunteerID, err))
				return nil
			}
			metrics.SweepRecords.WithLabelValues(string(outcome)).Inc()
			switch outcome {
			case record.SweepMarkedAbsent:
				res.MarkedAbsent++
				s.notifier.Notify(rec)
			case record.SweepMissingCheckout:
				res.MissingCheckout++
			default:
				res.Unchanged++
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("sweep.absent", res.MarkedAbsent),
		attribute.Int("sweep.missing_checkout", res.MissingCheckout),
		attribute.Int("sweep.failed", res.Failed),
	)
	log.Printf("sweep finished event=%s absent=%d missing_checkout=%d unchanged=%d failed=%d",
		eventID, res.MarkedAbsent, res.MissingCheckout, res.Unchanged, res.Failed)
	return res, errors.Join(errs...)
}

// sweepTargets is every approved volunteer plus anyone still checked in.
func sweepTargets(approved []string, existing []record.Record) []string {
	seen := make(map[string]struct{}, len(approved))
	out := make([]string, 0, len(approved))
	for _, id := range approved {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, rec := range existing {
		if rec.Status != record.StatusCheckedIn {
			continue
		}
		if _, ok := seen[rec.VolunteerID]; ok {
			continue
		}
		seen[rec.VolunteerID] = struct{}{}
		out = append(out, rec.VolunteerID)
	}
	sort.Strings(out)
	return out
}
