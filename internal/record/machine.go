package record

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"volunteerattendance/internal/event"
	"volunteerattendance/internal/geofence"
	"volunteerattendance/internal/metrics"
)

// DefaultConflictRetries bounds re-read/re-decide/re-write cycles on ErrConflict.
const DefaultConflictRetries = 3

// Options tunes a Machine.
type Options struct {
	ConflictRetries int
}

// Machine owns every attendance record. Attempts for the same (event, volunteer)
// serialize on a per-key lock; different keys never contend. The store's version
// check catches writers outside this process.
type Machine struct {
	store   Store
	emitter Emitter
	locks   *keyLocks
	retries int
}

// NewMachine creates a state machine over store. emitter may be nil.
func NewMachine(store Store, emitter Emitter, opts Options) *Machine {
	retries := opts.ConflictRetries
	if retries <= 0 {
		retries = DefaultConflictRetries
	}
	if emitter == nil {
		emitter = EmitterFunc(func(Transition) {})
	}
	return &Machine{store: store, emitter: emitter, locks: newKeyLocks(), retries: retries}
}

// Apply moves the record addressed by ev through the state diagram. created is
// false when ev replays an idempotency key already stored for that leg; the
// existing record is then returned unchanged.
func (m *Machine) Apply(ctx context.Context, anchor event.Anchor, ev Event) (Record, bool, error) {
	if err := checkEvent(anchor, ev); err != nil {
		return Record{}, false, err
	}
	rec, tr, err := m.commit(ctx, ev.EventID, ev.VolunteerID, func(existing *Record) (Record, *Transition, error) {
		return decide(anchor, existing, ev)
	})
	if err != nil {
		return Record{}, false, err
	}
	return rec, tr != nil, nil
}

// SweepOutcome says what a sweep did to one volunteer.
type SweepOutcome string

const (
	SweepUnchanged       SweepOutcome = "unchanged"
	SweepMarkedAbsent    SweepOutcome = "absent"
	SweepMissingCheckout SweepOutcome = "missing_checkout"
)

// Sweep finalises one volunteer after the event: no record becomes ABSENT, a
// record still CHECKED_IN gains a MISSING_CHECKOUT annotation. Re-running it is
// a no-op.
func (m *Machine) Sweep(ctx context.Context, anchor event.Anchor, volunteerID string, now time.Time) (Record, SweepOutcome, error) {
	if volunteerID == "" {
		return Record{}, SweepUnchanged, fmt.Errorf("%w: volunteer id required", ErrInvalidEvent)
	}
	outcome := SweepUnchanged
	rec, _, err := m.commit(ctx, anchor.EventID, volunteerID, func(existing *Record) (Record, *Transition, error) {
		next, tr, o := decideSweep(anchor, existing, volunteerID, now)
		outcome = o
		return next, tr, nil
	})
	if err != nil {
		return Record{}, SweepUnchanged, err
	}
	return rec, outcome, nil
}

// commit runs read-decide-write under the key lock, retrying on version
// conflicts. The transition is emitted before the lock is released so deltas
// for one record reach the emitter in commit order; Emit must not block.
func (m *Machine) commit(ctx context.Context, eventID, volunteerID string, decideFn func(*Record) (Record, *Transition, error)) (Record, *Transition, error) {
	unlock := m.locks.lock(recordKey(eventID, volunteerID))
	defer unlock()
	rec, tr, err := m.commitLocked(ctx, eventID, volunteerID, decideFn)
	if err != nil {
		return Record{}, nil, err
	}
	if tr != nil {
		m.emitter.Emit(*tr)
	}
	return rec, tr, nil
}

func (m *Machine) commitLocked(ctx context.Context, eventID, volunteerID string, decideFn func(*Record) (Record, *Transition, error)) (Record, *Transition, error) {
	for attempt := 0; attempt <= m.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Record{}, nil, err
		}
		existing, err := m.store.LoadRecord(ctx, eventID, volunteerID)
		if err != nil {
			return Record{}, nil, fmt.Errorf("load record: %w", err)
		}
		next, tr, err := decideFn(existing)
		if err != nil {
			return Record{}, nil, err
		}
		if tr == nil {
			return next, nil, nil
		}
		saved, err := m.store.SaveRecord(ctx, next)
		if errors.Is(err, ErrConflict) {
			metrics.StoreConflicts.Inc()
			log.Printf("record conflict event=%s volunteer=%s attempt=%d", eventID, volunteerID, attempt+1)
			continue
		}
		if err != nil {
			return Record{}, nil, fmt.Errorf("save record: %w", err)
		}
		return saved, tr, nil
	}
	return Record{}, nil, fmt.Errorf("%w: %w after %d attempts", ErrTransient, ErrConflict, m.retries+1)
}

func checkEvent(anchor event.Anchor, ev Event) error {
	switch {
	case ev.EventID == "" || ev.VolunteerID == "":
		return fmt.Errorf("%w: event and volunteer required", ErrInvalidEvent)
	case ev.EventID != anchor.EventID:
		return fmt.Errorf("%w: anchor belongs to event %s", ErrInvalidEvent, anchor.EventID)
	case ev.IdempotencyKey == "":
		return fmt.Errorf("%w: idempotency key required", ErrInvalidEvent)
	case ev.Timestamp.IsZero():
		return fmt.Errorf("%w: timestamp required", ErrInvalidEvent)
	case ev.Kind != KindCheckIn && ev.Kind != KindCheckOut:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind)
	}
	switch ev.Method {
	case MethodToken:
	case MethodManual:
		if ev.SupervisorID == "" {
			return fmt.Errorf("%w: manual override requires a supervisor", ErrPermissionDenied)
		}
		if !anchor.AllowManualOverride {
			return fmt.Errorf("%w: manual override disabled for event", ErrPermissionDenied)
		}
	default:
		return fmt.Errorf("%w: unknown method %q", ErrInvalidEvent, ev.Method)
	}
	return nil
}

func replayed(existing *Record, ev Event) bool {
	switch ev.Kind {
	case KindCheckIn:
		return existing.CheckIn != nil && existing.CheckIn.IdempotencyKey == ev.IdempotencyKey
	case KindCheckOut:
		return existing.CheckOut != nil && existing.CheckOut.IdempotencyKey == ev.IdempotencyKey
	}
	return false
}

// measure places the device against the anchor. Manual overrides are measured
// too; they only skip rejection.
func measure(anchor event.Anchor, ev Event) (Leg, error) {
	distance, within, err := geofence.Validate(anchor.Center, anchor.RadiusMeters, ev.Location)
	if err != nil {
		return Leg{}, err
	}
	leg := Leg{
		Timestamp:      ev.Timestamp.UTC(),
		Location:       ev.Location,
		Method:         ev.Method,
		DistanceMeters: distance,
		WithinRadius:   within,
		IdempotencyKey: ev.IdempotencyKey,
		SupervisorID:   ev.SupervisorID,
	}
	if !within && anchor.StrictMode && ev.Method != MethodManual {
		return leg, &GeofenceViolationError{Kind: ev.Kind, DistanceMeters: distance, RadiusMeters: anchor.RadiusMeters}
	}
	return leg, nil
}

func decide(anchor event.Anchor, existing *Record, ev Event) (Record, *Transition, error) {
	if existing != nil && replayed(existing, ev) {
		return *existing, nil, nil
	}
	switch ev.Kind {
	case KindCheckIn:
		if existing != nil {
			return Record{}, nil, ErrDuplicateCheckIn
		}
		leg, err := measure(anchor, ev)
		if err != nil {
			return Record{}, nil, err
		}
		added := DetectCheckIn(anchor, leg)
		rec := Record{
			EventID:        ev.EventID,
			VolunteerID:    ev.VolunteerID,
			Status:         StatusCheckedIn,
			CheckIn:        &leg,
			Violations:     append([]Violation{}, added...),
			IdempotencyKey: ev.IdempotencyKey,
			AnchorVersion:  anchor.Version,
			UpdatedAt:      leg.Timestamp,
		}
		return rec, &Transition{
			EventID: ev.EventID, VolunteerID: ev.VolunteerID,
			From: StatusNone, To: StatusCheckedIn, Added: added, At: leg.Timestamp,
		}, nil

	default:
		if existing == nil || existing.Status != StatusCheckedIn || existing.CheckIn == nil {
			return Record{}, nil, ErrNoActiveCheckIn
		}
		if !ev.Timestamp.After(existing.CheckIn.Timestamp) {
			return Record{}, nil, ErrCheckOutBeforeCheckIn
		}
		leg, err := measure(anchor, ev)
		if err != nil {
			return Record{}, nil, err
		}
		added := DetectCheckOut(anchor, leg)
		next := existing.Clone()
		hours := Hours(next.CheckIn.Timestamp, leg.Timestamp)
		next.Status = StatusCheckedOut
		next.CheckOut = &leg
		next.HoursCompleted = &hours
		next.Violations = append(next.Violations, added...)
		next.IdempotencyKey = ev.IdempotencyKey
		next.UpdatedAt = leg.Timestamp
		return next, &Transition{
			EventID: ev.EventID, VolunteerID: ev.VolunteerID,
			From: StatusCheckedIn, To: StatusCheckedOut, Added: added, At: leg.Timestamp,
		}, nil
	}
}

func decideSweep(anchor event.Anchor, existing *Record, volunteerID string, now time.Time) (Record, *Transition, SweepOutcome) {
	now = now.UTC()
	if existing == nil {
		rec := Record{
			EventID:        anchor.EventID,
			VolunteerID:    volunteerID,
			Status:         StatusAbsent,
			Violations:     []Violation{},
			IdempotencyKey: "sweep:" + anchor.EventID,
			AnchorVersion:  anchor.Version,
			UpdatedAt:      now,
		}
		return rec, &Transition{
			EventID: anchor.EventID, VolunteerID: volunteerID,
			From: StatusNone, To: StatusAbsent, At: now,
		}, SweepMarkedAbsent
	}
	v, ok := MissingCheckout(anchor, *existing, now)
	if !ok {
		return *existing, nil, SweepUnchanged
	}
	next := existing.Clone()
	next.Violations = append(next.Violations, v)
	next.UpdatedAt = now
	return next, &Transition{
		EventID: anchor.EventID, VolunteerID: volunteerID,
		From: existing.Status, To: existing.Status, Added: []Violation{v}, At: now,
	}, SweepMissingCheckout
}
