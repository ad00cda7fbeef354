package notifyclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"volunteerattendance/internal/queue"
	"volunteerattendance/internal/record"
)

func TestForwarderRetriesThenDelivers(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"accepted":true}`))
	}))
	defer srv.Close()

	hours := 3.3
	note, ok := queue.NewNotification(record.Record{
		EventID: "evt-1", VolunteerID: "v1", Status: record.StatusCheckedOut, HoursCompleted: &hours,
	})
	if !ok {
		t.Fatalf("checked-out record must produce a notification")
	}
	msg, err := note.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	msgs := make(chan queue.Message, 2)
	msgs <- queue.Message{Type: queue.TypeAbsent, Body: []byte("not json")}
	msgs <- msg
	close(msgs)

	f := &Forwarder{Client: New(srv.URL, false), Attempts: 3, Backoff: time.Millisecond}
	if err := f.Run(context.Background(), msgs); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 dispatch attempts, got %d", got)
	}
}

func TestForwarderGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	note, _ := queue.NewNotification(record.Record{EventID: "evt-1", VolunteerID: "v2", Status: record.StatusAbsent})
	msg, _ := note.Encode()
	msgs := make(chan queue.Message, 1)
	msgs <- msg
	close(msgs)

	f := &Forwarder{Client: New(srv.URL, false), Attempts: 2, Backoff: time.Millisecond}
	if err := f.Run(context.Background(), msgs); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestForwarderStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &Forwarder{Client: New("http://127.0.0.1:0", true)}
	if err := f.Run(ctx, make(chan queue.Message)); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
