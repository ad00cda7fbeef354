package live

import (
	"errors"
	"sort"
	"sync"

	"volunteerattendance/internal/metrics"
	"volunteerattendance/internal/record"
)

// Counter names carried in deltas.
const (
	CounterRegistered   = "registered"
	CounterCheckedIn    = "checkedIn"
	CounterCheckedOut   = "checkedOut"
	CounterAbsent       = "absent"
	CounterLateArrivals = "lateArrivals"
)

// DefaultBuffer is the per-subscriber channel size.
const DefaultBuffer = 32

// ErrSlowConsumer is reported by a subscription closed because its buffer filled.
var ErrSlowConsumer = errors.New("live subscriber fell behind")

// Counters is the dashboard view of one event.
type Counters struct {
	Registered   int64 `json:"registered"`
	CheckedIn    int64 `json:"checkedIn"`
	CheckedOut   int64 `json:"checkedOut"`
	Absent       int64 `json:"absent"`
	LateArrivals int64 `json:"lateArrivals"`
}

// MessageType distinguishes full snapshots from single-counter deltas.
type MessageType string

const (
	MessageSnapshot MessageType = "snapshot"
	MessageDelta    MessageType = "delta"
)

// Message is what subscribers receive. Seq is the event's authoritative sequence:
// every delta and snapshot for one event carries a strictly larger value.
type Message struct {
	Type     MessageType `json:"type"`
	EventID  string      `json:"event_id"`
	Seq      uint64      `json:"seq"`
	Counter  string      `json:"counter,omitempty"`
	Value    int64       `json:"value"`
	Counters *Counters   `json:"counters,omitempty"`
}

// Aggregator maintains live counters per event from record transitions and fans
// them out to subscribers. It is the record.Emitter of the state machine.
type Aggregator struct {
	buffer int

	mu     sync.Mutex
	events map[string]*eventState
}

type eventState struct {
	mu       sync.Mutex
	id       string
	seeded   bool
	counters Counters
	seq      uint64
	late     map[string]struct{}
	subs     map[uint64]*Subscription
	nextSub  uint64
}

// New creates an aggregator whose subscribers buffer up to buffer messages.
func New(buffer int) *Aggregator {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Aggregator{buffer: buffer, events: make(map[string]*eventState)}
}

func (a *Aggregator) state(eventID string) *eventState {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.events[eventID]
	if !ok {
		st = &eventState{
			id:   eventID,
			late: make(map[string]struct{}),
			subs: make(map[uint64]*Subscription),
		}
		a.events[eventID] = st
	}
	return st
}

// Emit applies a committed transition as counter deltas.
func (a *Aggregator) Emit(t record.Transition) {
	st := a.state(t.EventID)
	st.mu.Lock()
	defer st.mu.Unlock()

	switch {
	case t.From == record.StatusNone && t.To == record.StatusCheckedIn:
		st.bump(CounterCheckedIn, &st.counters.CheckedIn, 1)
	case t.From == record.StatusCheckedIn && t.To == record.StatusCheckedOut:
		st.bump(CounterCheckedIn, &st.counters.CheckedIn, -1)
		st.bump(CounterCheckedOut, &st.counters.CheckedOut, 1)
	case t.From == record.StatusNone && t.To == record.StatusAbsent:
		st.bump(CounterAbsent, &st.counters.Absent, 1)
	}
	if t.AddedLate() {
		if _, seen := st.late[t.VolunteerID]; !seen {
			st.late[t.VolunteerID] = struct{}{}
			st.bump(CounterLateArrivals, &st.counters.LateArrivals, 1)
		}
	}
}

// Seed sets the registered count once per event. Later calls are ignored and
// report false.
func (a *Aggregator) Seed(eventID string, registered int) bool {
	st := a.state(eventID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.seeded {
		return false
	}
	st.seeded = true
	st.bump(CounterRegistered, &st.counters.Registered, int64(registered)-st.counters.Registered)
	return true
}

// Seeded reports whether the registered count is known for the event.
func (a *Aggregator) Seeded(eventID string) bool {
	st := a.state(eventID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.seeded
}

// Snapshot returns the current counters and sequence number.
func (a *Aggregator) Snapshot(eventID string) (Counters, uint64) {
	st := a.state(eventID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.counters, st.seq
}

// Reset replaces the counters with a full recomputation and pushes a snapshot to
// every subscriber. lateVolunteers rebuilds the exactly-once late set.
func (a *Aggregator) Reset(eventID string, counters Counters, lateVolunteers []string) {
	st := a.state(eventID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.seeded = true
	st.counters = counters
	st.late = make(map[string]struct{}, len(lateVolunteers))
	for _, id := range lateVolunteers {
		st.late[id] = struct{}{}
	}
	st.seq++
	snap := st.counters
	st.broadcast(Message{Type: MessageSnapshot, EventID: st.id, Seq: st.seq, Counters: &snap})
	metrics.LiveResyncs.Inc()
}

// Events lists every event the aggregator holds state for.
func (a *Aggregator) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.events))
	for id := range a.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Subscribe opens a stream whose first message is a snapshot, followed by deltas
// in sequence order.
func (a *Aggregator) Subscribe(eventID string) *Subscription {
	st := a.state(eventID)
	st.mu.Lock()
	defer st.mu.Unlock()

	ch := make(chan Message, a.buffer)
	st.nextSub++
	sub := &Subscription{C: ch, ch: ch, state: st, id: st.nextSub}
	snap := st.counters
	ch <- Message{Type: MessageSnapshot, EventID: st.id, Seq: st.seq, Counters: &snap}
	st.subs[sub.id] = sub
	metrics.LiveSubscribers.Inc()
	return sub
}

// bump changes one counter, advances the sequence and fans the delta out.
// Callers hold st.mu.
func (st *eventState) bump(name string, field *int64, by int64) {
	if by == 0 {
		return
	}
	*field += by
	st.seq++
	st.broadcast(Message{Type: MessageDelta, EventID: st.id, Seq: st.seq, Counter: name, Value: *field})
}

// broadcast never blocks: a subscriber whose buffer is full is disconnected and
// must resubscribe for a fresh snapshot.
func (st *eventState) broadcast(msg Message) {
	for id, sub := range st.subs {
		select {
		case sub.ch <- msg:
		default:
			sub.err = ErrSlowConsumer
			sub.closeLocked()
			delete(st.subs, id)
			metrics.LiveDropped.Inc()
		}
	}
}

// Subscription is one dashboard connection.
type Subscription struct {
	C <-chan Message

	ch     chan Message
	state  *eventState
	id     uint64
	closed bool
	err    error
}

// Close ends the subscription. It never blocks the producer and is safe to call
// more than once.
func (s *Subscription) Close() {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	if s.closed {
		return
	}
	delete(s.state.subs, s.id)
	s.closeLocked()
}

// Err reports why the channel was closed by the aggregator, if it was.
func (s *Subscription) Err() error {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	return s.err
}

func (s *Subscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	metrics.LiveSubscribers.Dec()
}

// Recompute derives counters from the full record set; it is the source of truth
// the incremental counters are reconciled against.
func Recompute(records []record.Record, registered int) (Counters, []string) {
	c := Counters{Registered: int64(registered)}
	var late []string
	for _, r := range records {
		switch r.Status {
		case record.StatusCheckedIn:
			c.CheckedIn++
		case record.StatusCheckedOut:
			c.CheckedOut++
		case record.StatusAbsent:
			c.Absent++
		}
		if r.HasViolation(record.ViolationLateArrival) {
			c.LateArrivals++
			late = append(late, r.VolunteerID)
		}
	}
	return c, late
}
