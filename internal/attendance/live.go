package attendance

import (
	"context"
	"fmt"
	"log"
	"time"

	"volunteerattendance/internal/live"
	"volunteerattendance/internal/record"
)

// SubscribeLiveCounters opens a dashboard stream: a snapshot, then deltas.
// Closing the subscription is the caller's job.
func (s *Service) SubscribeLiveCounters(ctx context.Context, eventID string) (*live.Subscription, error) {
	if _, err := s.anchor(ctx, eventID); err != nil {
		return nil, err
	}
	s.ensureEvent(ctx, eventID)
	return s.live.Subscribe(eventID), nil
}

// Counters returns the current counters of an event and their sequence number.
func (s *Service) Counters(ctx context.Context, eventID string) (live.Counters, uint64, error) {
	if _, err := s.anchor(ctx, eventID); err != nil {
		return live.Counters{}, 0, err
	}
	s.ensureEvent(ctx, eventID)
	c, seq := s.live.Snapshot(eventID)
	return c, seq, nil
}

// Resync rebuilds an event's counters from its records and registrations and
// pushes a fresh snapshot to subscribers.
func (s *Service) Resync(ctx context.Context, eventID string) (live.Counters, error) {
	approved, err := s.regs.GetApprovedVolunteers(ctx, eventID)
	if err != nil {
		return live.Counters{}, fmt.Errorf("%w: approved volunteers: %v", record.ErrTransient, err)
	}
	recs, err := s.records.ListRecords(ctx, eventID)
	if err != nil {
		return live.Counters{}, fmt.Errorf("%w: list records: %v", record.ErrTransient, err)
	}
	counters, late := live.Recompute(recs, len(approved))
	before, _ := s.live.Snapshot(eventID)
	s.live.Reset(eventID, counters, late)
	if before != counters {
		log.Printf("live counters drifted event=%s before=%+v after=%+v", eventID, before, counters)
	}
	return counters, nil
}

// RunReconciler resyncs every tracked event each interval until ctx ends.
func (s *Service) RunReconciler(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, eventID := range s.live.Events() {
				rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
				if _, err := s.Resync(rctx, eventID); err != nil {
					log.Printf("reconcile failed event=%s err=%v", eventID, err)
				}
				cancel()
			}
		}
	}
}
