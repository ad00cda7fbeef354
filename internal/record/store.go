package record

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists records with optimistic concurrency. SaveRecord compares the
// record's Version with the stored one (0 means "must not exist yet"), writes
// Version+1 on success and returns ErrConflict otherwise.
type Store interface {
	LoadRecord(ctx context.Context, eventID, volunteerID string) (*Record, error)
	SaveRecord(ctx context.Context, rec Record) (Record, error)
	ListRecords(ctx context.Context, eventID string) ([]Record, error)
}

// MemoryStore keeps records in process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) LoadRecord(_ context.Context, eventID, volunteerID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey(eventID, volunteerID)]
	if !ok {
		return nil, nil
	}
	out := rec.Clone()
	return &out, nil
}

func (s *MemoryStore) SaveRecord(_ context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(rec.EventID, rec.VolunteerID)
	current, exists := s.records[key]
	switch {
	case rec.Version == 0 && exists:
		return Record{}, ErrConflict
	case rec.Version != 0 && (!exists || current.Version != rec.Version):
		return Record{}, ErrConflict
	}
	saved := rec.Clone()
	saved.Version = rec.Version + 1
	if saved.UpdatedAt.IsZero() {
		saved.UpdatedAt = time.Now().UTC()
	}
	s.records[key] = saved
	return saved.Clone(), nil
}

func (s *MemoryStore) ListRecords(_ context.Context, eventID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, rec := range s.records {
		if rec.EventID == eventID {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VolunteerID < out[j].VolunteerID })
	return out, nil
}
