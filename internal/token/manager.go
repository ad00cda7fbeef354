package token

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"volunteerattendance/internal/event"
)

// DefaultGrace widens the validity window on both sides of the event.
const DefaultGrace = 30 * time.Minute

// Store persists published token pairs.
type Store interface {
	SavePair(ctx context.Context, pair Pair) error
	ListPairs(ctx context.Context) ([]Pair, error)
}

// Manager issues and validates scannable tokens. Validation works on an in-memory
// index only; persistence happens on Publish and Warm.
type Manager struct {
	store Store
	grace time.Duration

	publishMu sync.Mutex

	mu      sync.RWMutex
	byValue map[string]Token
	pairs   map[string]Pair
	anchors map[string]event.Anchor
}

// NewManager creates a manager. store may be nil for a purely in-memory manager.
func NewManager(store Store, grace time.Duration) *Manager {
	if grace < 0 {
		grace = DefaultGrace
	}
	return &Manager{
		store:   store,
		grace:   grace,
		byValue: make(map[string]Token),
		pairs:   make(map[string]Pair),
		anchors: make(map[string]event.Anchor),
	}
}

// Publish issues the two tokens of an event. Publishing again, for example after
// a new anchor version, keeps the token values and only moves the window.
func (m *Manager) Publish(ctx context.Context, anchor event.Anchor) (Pair, error) {
	if err := anchor.Validate(); err != nil {
		return Pair{}, err
	}
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.RLock()
	existing, ok := m.pairs[anchor.EventID]
	current, hasAnchor := m.anchors[anchor.EventID]
	m.mu.RUnlock()
	if hasAnchor && anchor.Version < current.Version {
		return Pair{}, fmt.Errorf("%w: version %d is older than published version %d", event.ErrInvalidAnchor, anchor.Version, current.Version)
	}

	from := anchor.StartTime.Add(-m.grace)
	until := anchor.EndTime.Add(m.grace)
	pair := Pair{
		CheckIn:  Token{Value: newValue("ci"), EventID: anchor.EventID, Purpose: PurposeCheckIn},
		CheckOut: Token{Value: newValue("co"), EventID: anchor.EventID, Purpose: PurposeCheckOut},
	}
	if ok {
		pair = existing
	}
	pair.CheckIn.ValidFrom, pair.CheckIn.ValidUntil = from, until
	pair.CheckOut.ValidFrom, pair.CheckOut.ValidUntil = from, until

	if m.store != nil {
		if err := m.store.SavePair(ctx, pair); err != nil {
			return Pair{}, fmt.Errorf("save tokens: %w", err)
		}
	}
	m.install(pair, anchor)
	return pair, nil
}

// Validate checks a scanned value and returns the anchor it unlocks.
func (m *Manager) Validate(eventID, value string, purpose Purpose, now time.Time) (event.Anchor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tok, ok := m.byValue[value]
	if !ok || value == "" {
		return event.Anchor{}, &Error{Reason: ErrUnknownToken, EventID: eventID}
	}
	if tok.EventID != eventID {
		return event.Anchor{}, &Error{Reason: ErrEventMismatch, EventID: eventID}
	}
	if tok.Purpose != purpose {
		return event.Anchor{}, &Error{Reason: ErrWrongPurpose, EventID: eventID}
	}
	if !tok.validAt(now) {
		return event.Anchor{}, &Error{Reason: ErrExpired, EventID: eventID}
	}
	anchor, ok := m.anchors[eventID]
	if !ok {
		return event.Anchor{}, &Error{Reason: ErrUnknownToken, EventID: eventID}
	}
	return anchor, nil
}

// Anchor returns the anchor the event's tokens were last published with.
func (m *Manager) Anchor(eventID string) (event.Anchor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.anchors[eventID]
	return a, ok
}

// Pair returns the published tokens of an event.
func (m *Manager) Pair(eventID string) (Pair, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pairs[eventID]
	return p, ok
}

// Warm loads persisted tokens and their anchors into the index.
func (m *Manager) Warm(ctx context.Context, anchors event.Store) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	pairs, err := m.store.ListPairs(ctx)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, pair := range pairs {
		anchor, err := anchors.GetEventAnchor(ctx, pair.CheckIn.EventID)
		if err != nil {
			return loaded, fmt.Errorf("anchor for %s: %w", pair.CheckIn.EventID, err)
		}
		m.install(pair, anchor)
		loaded++
	}
	return loaded, nil
}

func (m *Manager) install(pair Pair, anchor event.Anchor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[anchor.EventID] = pair
	m.anchors[anchor.EventID] = anchor
	m.byValue[pair.CheckIn.Value] = pair.CheckIn
	m.byValue[pair.CheckOut.Value] = pair.CheckOut
}

func newValue(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
