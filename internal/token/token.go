package token

import (
	"errors"
	"fmt"
	"time"
)

// Purpose restricts a token to one leg.
type Purpose string

const (
	PurposeCheckIn  Purpose = "CHECK_IN"
	PurposeCheckOut Purpose = "CHECK_OUT"
)

var (
	ErrUnknownToken  = errors.New("unknown token")
	ErrWrongPurpose  = errors.New("token used for the wrong purpose")
	ErrExpired       = errors.New("token outside its validity window")
	ErrEventMismatch = errors.New("token belongs to another event")
)

// Error wraps one of the token sentinels with the event it was presented for.
type Error struct {
	Reason  error
	EventID string
}

func (e *Error) Error() string {
	return fmt.Sprintf("token rejected for event %s: %v", e.EventID, e.Reason)
}

func (e *Error) Unwrap() error { return e.Reason }

// Token is a scannable per-event value. It is shared by every volunteer; a
// volunteer can use it once per leg because the attendance record remembers it.
type Token struct {
	Value      string    `json:"value"`
	EventID    string    `json:"event_id"`
	Purpose    Purpose   `json:"purpose"`
	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`
}

// Pair is the check-in and check-out token of one event.
type Pair struct {
	CheckIn  Token `json:"check_in"`
	CheckOut Token `json:"check_out"`
}

func (t Token) validAt(now time.Time) bool {
	return !now.Before(t.ValidFrom) && !now.After(t.ValidUntil)
}
