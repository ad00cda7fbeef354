package event

import (
	"context"
	"sort"
	"sync"
)

// Store reads event anchors. Implementations keep every version.
type Store interface {
	GetEventAnchor(ctx context.Context, eventID string) (Anchor, error)
}

// Registrations lists the volunteers whose applications were approved.
type Registrations interface {
	GetApprovedVolunteers(ctx context.Context, eventID string) ([]string, error)
}

// Memory is an in-process Store and Registrations used in dev mode and tests.
type Memory struct {
	mu       sync.RWMutex
	anchors  map[string][]Anchor
	approved map[string][]string
}

// NewMemory creates an empty catalog.
func NewMemory() *Memory {
	return &Memory{
		anchors:  make(map[string][]Anchor),
		approved: make(map[string][]string),
	}
}

// Put appends a new anchor version and returns it.
func (m *Memory) Put(anchor Anchor) (Anchor, error) {
	if err := anchor.Validate(); err != nil {
		return Anchor{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	versions := m.anchors[anchor.EventID]
	anchor.Version = len(versions) + 1
	m.anchors[anchor.EventID] = append(versions, anchor)
	return anchor, nil
}

// Approve records approved volunteers for an event.
func (m *Memory) Approve(eventID string, volunteerIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{}, len(m.approved[eventID]))
	for _, id := range m.approved[eventID] {
		seen[id] = struct{}{}
	}
	for _, id := range volunteerIDs {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		m.approved[eventID] = append(m.approved[eventID], id)
	}
}

// GetEventAnchor returns the latest anchor version.
func (m *Memory) GetEventAnchor(_ context.Context, eventID string) (Anchor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.anchors[eventID]
	if len(versions) == 0 {
		return Anchor{}, ErrEventNotFound
	}
	return versions[len(versions)-1], nil
}

// GetApprovedVolunteers returns the approved volunteer ids, sorted.
func (m *Memory) GetApprovedVolunteers(_ context.Context, eventID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]string(nil), m.approved[eventID]...)
	sort.Strings(out)
	return out, nil
}

// EventIDs lists every event with at least one anchor.
func (m *Memory) EventIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.anchors))
	for id := range m.anchors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
