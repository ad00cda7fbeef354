package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"volunteerattendance/internal/event"
	"volunteerattendance/internal/geofence"
	"volunteerattendance/internal/live"
	"volunteerattendance/internal/metrics"
	"volunteerattendance/internal/record"
	"volunteerattendance/internal/token"
)

var tracer = otel.Tracer("volunteerattendance/attendance")

var (
	ErrSweepTooEarly  = errors.New("absentee sweep before event end plus grace")
	ErrRecordNotFound = errors.New("attendance record not found")
)

// DefaultSweepGrace is how long after the event end the sweep waits.
const DefaultSweepGrace = 30 * time.Minute

// DefaultClockSkew bounds how far a token attempt's client timestamp may sit
// from server time.
const DefaultClockSkew = 2 * time.Minute

// Notifier is told about records that reached a terminal status. Notify must
// not block.
type Notifier interface {
	Notify(rec record.Record)
}

// Deps are the collaborators of a Service. Notifier and Auditor may be nil.
type Deps struct {
	Events        event.Store
	Registrations event.Registrations
	Records       record.Store
	Tokens        *token.Manager
	Live          *live.Aggregator
	Notifier      Notifier
	Auditor       Auditor
	Clock         func() time.Time
}

// Options tunes a Service.
type Options struct {
	SweepGrace       time.Duration
	ConflictRetries  int
	SweepConcurrency int
	// ClockSkew limits client timestamps on token attempts. Supervisor
	// overrides may record any time.
	ClockSkew time.Duration
}

// Service is the entry point for check-ins, check-outs, sweeps and live counters.
type Service struct {
	events   event.Store
	regs     event.Registrations
	records  record.Store
	tokens   *token.Manager
	live     *live.Aggregator
	machine  *record.Machine
	notifier Notifier
	audit    Auditor
	clock    func() time.Time

	sweepGrace       time.Duration
	sweepConcurrency int
	clockSkew        time.Duration
	seeding          singleflight.Group
}

// NewService wires the state machine to the live aggregator and returns the service.
func NewService(d Deps, opts Options) *Service {
	if d.Live == nil {
		d.Live = live.New(live.DefaultBuffer)
	}
	if d.Auditor == nil {
		d.Auditor = LogAuditor{}
	}
	if d.Notifier == nil {
		d.Notifier = noopNotifier{}
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if opts.SweepGrace < 0 {
		opts.SweepGrace = DefaultSweepGrace
	}
	if opts.ClockSkew <= 0 {
		opts.ClockSkew = DefaultClockSkew
	}
	if opts.SweepConcurrency <= 0 {
		opts.SweepConcurrency = DefaultSweepConcurrency
	}
	return &Service{
		events:           d.Events,
		regs:             d.Registrations,
		records:          d.Records,
		tokens:           d.Tokens,
		live:             d.Live,
		machine:          record.NewMachine(d.Records, d.Live, record.Options{ConflictRetries: opts.ConflictRetries}),
		notifier:         d.Notifier,
		audit:            d.Auditor,
		clock:            d.Clock,
		sweepGrace:       opts.SweepGrace,
		sweepConcurrency: opts.SweepConcurrency,
		clockSkew:        opts.ClockSkew,
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(record.Record) {}

// Request is one check-in or check-out attempt.
type Request struct {
	EventID     string
	VolunteerID string
	// Token is the scanned value; ignored when Override is set.
	Token string
	// RequestID identifies client retries. Without it the token value is the
	// idempotency key.
	RequestID string
	Override  *Override
	Location  geofence.Point
	// Timestamp is when the attempt happened; zero means now.
	Timestamp time.Time
}

// Override is a supervisor acting on behalf of a volunteer.
type Override struct {
	RequestID    string
	SupervisorID string
	// Authorized is set by the transport when the caller holds the supervisor role.
	Authorized bool
}

// CheckIn applies a check-in. created is false when the request replays one
// already applied.
func (s *Service) CheckIn(ctx context.Context, req Request) (record.Record, bool, error) {
	return s.apply(ctx, record.KindCheckIn, req)
}

// CheckOut applies a check-out.
func (s *Service) CheckOut(ctx context.Context, req Request) (record.Record, bool, error) {
	return s.apply(ctx, record.KindCheckOut, req)
}

func (s *Service) apply(ctx context.Context, kind record.Kind, req Request) (rec record.Record, created bool, err error) {
	ctx, span := tracer.Start(ctx, spanName(kind), trace.WithAttributes(
		attribute.String("event.id", req.EventID),
		attribute.String("volunteer.id", req.VolunteerID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, Reason(err))
		}
		span.End()
	}()

	now := s.clock().UTC()
	at := req.Timestamp
	if at.IsZero() {
		at = now
	}
	ev := record.Event{
		EventID:     req.EventID,
		VolunteerID: req.VolunteerID,
		Kind:        kind,
		Timestamp:   at.UTC(),
		Location:    req.Location,
	}

	anchor, err := s.authorize(ctx, kind, req, &ev, now)
	if err != nil {
		s.reject(ctx, ev, nil, err)
		return record.Record{}, false, err
	}
	span.SetAttributes(
		attribute.String("attendance.method", string(ev.Method)),
		attribute.Int("anchor.version", anchor.Version),
	)

	s.ensureEvent(ctx, req.EventID)
	rec, created, err = s.machine.Apply(ctx, anchor, ev)
	if err != nil {
		s.reject(ctx, ev, &anchor, err)
		return record.Record{}, false, err
	}
	span.SetAttributes(attribute.Bool("attendance.created", created), attribute.String("attendance.status", string(rec.Status)))

	if !created {
		metrics.Replays.WithLabelValues(string(kind)).Inc()
		return rec, false, nil
	}
	metrics.Transitions.WithLabelValues(string(kind), string(ev.Method)).Inc()
	if leg := legOf(rec, kind); leg != nil {
		metrics.GeofenceDistance.Observe(leg.DistanceMeters)
	}
	s.audit.Accepted(ctx, kind, rec)
	if rec.Status.Terminal() {
		s.notifier.Notify(rec)
	}
	return rec, true, nil
}

// authorize resolves the anchor the attempt is judged against and fills in the
// method and idempotency key. Manual overrides never consult the token manager.
func (s *Service) authorize(ctx context.Context, kind record.Kind, req Request, ev *record.Event, now time.Time) (event.Anchor, error) {
	if o := req.Override; o != nil {
		ev.Method = record.MethodManual
		ev.SupervisorID = o.SupervisorID
		ev.IdempotencyKey = o.RequestID
		if !o.Authorized || o.SupervisorID == "" {
			return event.Anchor{}, fmt.Errorf("%w: manual override requires a supervisor", record.ErrPermissionDenied)
		}
		if o.RequestID == "" {
			return event.Anchor{}, fmt.Errorf("%w: override request id required", record.ErrInvalidEvent)
		}
		return s.anchor(ctx, req.EventID)
	}

	ev.Method = record.MethodToken
	if !req.Timestamp.IsZero() {
		if d := req.Timestamp.Sub(now); d > s.clockSkew || d < -s.clockSkew {
			return event.Anchor{}, fmt.Errorf("%w: timestamp %s is more than %s from server time",
				record.ErrInvalidEvent, req.Timestamp.UTC().Format(time.RFC3339), s.clockSkew)
		}
	}
	ev.IdempotencyKey = req.RequestID
	if ev.IdempotencyKey == "" {
		ev.IdempotencyKey = req.Token
	}
	purpose := token.PurposeCheckIn
	if kind == record.KindCheckOut {
		purpose = token.PurposeCheckOut
	}
	return s.tokens.Validate(req.EventID, req.Token, purpose, now)
}

// anchor loads the latest anchor, falling back to the one tokens were published with.
func (s *Service) anchor(ctx context.Context, eventID string) (event.Anchor, error) {
	a, err := s.events.GetEventAnchor(ctx, eventID)
	if err == nil {
		return a, nil
	}
	if errors.Is(err, event.ErrEventNotFound) {
		if a, ok := s.tokens.Anchor(eventID); ok {
			return a, nil
		}
		return event.Anchor{}, err
	}
	return event.Anchor{}, fmt.Errorf("%w: load anchor %s: %v", record.ErrTransient, eventID, err)
}

// reject records a failed attempt. anchor is the one the attempt was judged
// against, nil when it was refused before an anchor was resolved.
func (s *Service) reject(ctx context.Context, ev record.Event, anchor *event.Anchor, err error) {
	reason := Reason(err)
	metrics.Rejections.WithLabelValues(string(ev.Kind), reason).Inc()

	a := Attempt{
		Kind:           ev.Kind,
		EventID:        ev.EventID,
		VolunteerID:    ev.VolunteerID,
		Method:         ev.Method,
		SupervisorID:   ev.SupervisorID,
		IdempotencyKey: ev.IdempotencyKey,
		Location:       ev.Location,
		Reason:         reason,
		Err:            err,
		At:             ev.Timestamp,
	}
	var gv *record.GeofenceViolationError
	switch {
	case errors.As(err, &gv):
		a.DistanceMeters, a.HasDistance = gv.DistanceMeters, true
		metrics.GeofenceDistance.Observe(gv.DistanceMeters)
	case ev.Location.Check() == nil:
		if judged, ok := s.auditAnchor(ctx, ev.EventID, anchor); ok {
			a.DistanceMeters, a.HasDistance = geofence.Distance(judged.Center, ev.Location), true
		}
	}
	s.audit.Rejected(ctx, a)
}

// auditAnchor finds an anchor to measure a rejected attempt against: the
// resolved one, then the published tokens' one, then the event store.
func (s *Service) auditAnchor(ctx context.Context, eventID string, resolved *event.Anchor) (event.Anchor, bool) {
	if resolved != nil {
		return *resolved, true
	}
	if a, ok := s.tokens.Anchor(eventID); ok {
		return a, true
	}
	a, err := s.events.GetEventAnchor(ctx, eventID)
	return a, err == nil
}

// ensureEvent seeds the registered counter once per event. A registration
// store failure leaves the counter unseeded for the next caller to retry.
func (s *Service) ensureEvent(ctx context.Context, eventID string) {
	if s.live.Seeded(eventID) {
		return
	}
	_, _, _ = s.seeding.Do(eventID, func() (any, error) {
		if s.live.Seeded(eventID) {
			return nil, nil
		}
		ids, err := s.regs.GetApprovedVolunteers(ctx, eventID)
		if err != nil {
			log.Printf("seed registered failed event=%s err=%v", eventID, err)
			return nil, err
		}
		s.live.Seed(eventID, len(ids))
		return nil, nil
	})
}

// PublishTokens issues or refreshes the two scannable tokens of an event from
// its latest anchor.
func (s *Service) PublishTokens(ctx context.Context, eventID string) (token.Pair, event.Anchor, error) {
	a, err := s.events.GetEventAnchor(ctx, eventID)
	if err != nil {
		return token.Pair{}, event.Anchor{}, err
	}
	pair, err := s.tokens.Publish(ctx, a)
	if err != nil {
		return token.Pair{}, event.Anchor{}, err
	}
	log.Printf("tokens published event=%s anchor_version=%d valid_from=%s valid_until=%s",
		eventID, a.Version, pair.CheckIn.ValidFrom.Format(time.RFC3339), pair.CheckIn.ValidUntil.Format(time.RFC3339))
	return pair, a, nil
}

// Record returns the attendance record of one volunteer.
func (s *Service) Record(ctx context.Context, eventID, volunteerID string) (record.Record, error) {
	rec, err := s.records.LoadRecord(ctx, eventID, volunteerID)
	if err != nil {
		return record.Record{}, err
	}
	if rec == nil {
		return record.Record{}, ErrRecordNotFound
	}
	return *rec, nil
}

// Records lists every record of an event.
func (s *Service) Records(ctx context.Context, eventID string) ([]record.Record, error) {
	recs, err := s.records.ListRecords(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []record.Record{}
	}
	return recs, nil
}

func legOf(rec record.Record, kind record.Kind) *record.Leg {
	if kind == record.KindCheckOut {
		return rec.CheckOut
	}
	return rec.CheckIn
}

func spanName(kind record.Kind) string {
	if kind == record.KindCheckOut {
		return "attendance.CheckOut"
	}
	return "attendance.CheckIn"
}

// Reason maps an attempt error to a short label for metrics and audit lines.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, token.ErrUnknownToken):
		return "token_unknown"
	case errors.Is(err, token.ErrWrongPurpose):
		return "token_wrong_purpose"
	case errors.Is(err, token.ErrExpired):
		return "token_expired"
	case errors.Is(err, token.ErrEventMismatch):
		return "token_event_mismatch"
	case errors.Is(err, geofence.ErrInvalidLocation):
		return "invalid_location"
	case errors.Is(err, record.ErrGeofenceViolation):
		return "geofence"
	case errors.Is(err, record.ErrDuplicateCheckIn):
		return "duplicate_checkin"
	case errors.Is(err, record.ErrNoActiveCheckIn):
		return "no_active_checkin"
	case errors.Is(err, record.ErrCheckOutBeforeCheckIn):
		return "checkout_before_checkin"
	case errors.Is(err, record.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, record.ErrInvalidEvent):
		return "invalid_request"
	case errors.Is(err, event.ErrEventNotFound):
		return "event_not_found"
	case errors.Is(err, ErrRecordNotFound):
		return "record_not_found"
	case errors.Is(err, ErrSweepTooEarly):
		return "sweep_too_early"
	case errors.Is(err, record.ErrTransient):
		return "transient"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
