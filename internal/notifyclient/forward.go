package notifyclient

import (
	"context"
	"log"
	"time"

	"volunteerattendance/internal/queue"
)

// Forwarder drains queue messages into the dispatcher.
type Forwarder struct {
	Client   *Client
	Attempts int
	Backoff  time.Duration
}

// Run forwards messages until msgs closes or ctx ends. Malformed messages and
// notifications that exhaust their attempts are logged and dropped.
func (f *Forwarder) Run(ctx context.Context, msgs <-chan queue.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			f.handle(ctx, msg)
		}
	}
}

func (f *Forwarder) handle(ctx context.Context, msg queue.Message) {
	n, err := queue.DecodeNotification(msg)
	if err != nil {
		log.Printf("notification skipped type=%s err=%v", msg.Type, err)
		return
	}
	attempts := f.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	wait := f.Backoff
	for i := 1; i <= attempts; i++ {
		receipt, err := f.Client.Dispatch(ctx, n)
		if err == nil {
			log.Printf("notification dispatched id=%s type=%s event=%s volunteer=%s accepted=%v",
				n.ID, n.Type, n.EventID, n.VolunteerID, receipt.Accepted)
			return
		}
		log.Printf("notification dispatch failed id=%s attempt=%d/%d err=%v", n.ID, i, attempts, err)
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		wait *= 2
	}
	log.Printf("notification dropped id=%s type=%s event=%s volunteer=%s", n.ID, n.Type, n.EventID, n.VolunteerID)
}
