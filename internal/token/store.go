package token

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps published pairs in process.
type MemoryStore struct {
	mu    sync.Mutex
	pairs map[string]Pair
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pairs: make(map[string]Pair)}
}

func (s *MemoryStore) SavePair(_ context.Context, pair Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[pair.CheckIn.EventID] = pair
	return nil
}

func (s *MemoryStore) ListPairs(_ context.Context) ([]Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Pair, 0, len(s.pairs))
	for _, p := range s.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckIn.EventID < out[j].CheckIn.EventID })
	return out, nil
}

// PostgresStore persists tokens in the event_tokens table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// SavePair upserts both tokens. Values never change once written.
func (s *PostgresStore) SavePair(ctx context.Context, pair Pair) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, t := range []Token{pair.CheckIn, pair.CheckOut} {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO event_tokens (event_id, purpose, value, valid_from, valid_until)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (event_id, purpose) DO UPDATE SET
				valid_from = EXCLUDED.valid_from,
				valid_until = EXCLUDED.valid_until
		`, t.EventID, string(t.Purpose), t.Value, t.ValidFrom, t.ValidUntil)
		if err != nil {
			return fmt.Errorf("upsert %s token: %w", t.Purpose, err)
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) ListPairs(ctx context.Context) ([]Pair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, purpose, value, valid_from, valid_until
		FROM event_tokens
		ORDER BY event_id, purpose
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byEvent := make(map[string]*Pair)
	var order []string
	for rows.Next() {
		var t Token
		var purpose string
		if err := rows.Scan(&t.EventID, &purpose, &t.Value, &t.ValidFrom, &t.ValidUntil); err != nil {
			return nil, err
		}
		t.Purpose = Purpose(purpose)
		t.ValidFrom, t.ValidUntil = t.ValidFrom.UTC(), t.ValidUntil.UTC()
		p, ok := byEvent[t.EventID]
		if !ok {
			p = &Pair{}
			byEvent[t.EventID] = p
			order = append(order, t.EventID)
		}
		switch t.Purpose {
		case PurposeCheckIn:
			p.CheckIn = t
		case PurposeCheckOut:
			p.CheckOut = t
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Pair, 0, len(order))
	for _, id := range order {
		p := byEvent[id]
		if p.CheckIn.Value == "" || p.CheckOut.Value == "" {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}
