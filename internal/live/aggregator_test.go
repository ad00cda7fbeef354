package live

import (
	"errors"
	"testing"
	"time"

	"volunteerattendance/internal/record"
)

func transition(vol string, from, to record.Status, added ...record.Violation) record.Transition {
	return record.Transition{EventID: "evt-1", VolunteerID: vol, From: from, To: to, Added: added, At: time.Now()}
}

func drain(t *testing.T, sub *Subscription, n int) []Message {
	t.Helper()
	out := make([]Message, 0, n)
	for i := 0; i < n; i++ {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				t.Fatalf("subscription closed after %d messages", i)
			}
			out = append(out, msg)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
	return out
}

func TestSnapshotThenDeltas(t *testing.T) {
	a := New(8)
	a.Seed("evt-1", 3)
	sub := a.Subscribe("evt-1")
	defer sub.Close()

	a.Emit(transition("v1", record.StatusNone, record.StatusCheckedIn))
	a.Emit(transition("v1", record.StatusCheckedIn, record.StatusCheckedOut))

	msgs := drain(t, sub, 4)
	if msgs[0].Type != MessageSnapshot || msgs[0].Counters.Registered != 3 {
		t.Fatalf("first message must be a snapshot, got %+v", msgs[0])
	}
	want := []struct {
		counter string
		value   int64
	}{
		{CounterCheckedIn, 1},
		{CounterCheckedIn, 0},
		{CounterCheckedOut, 1},
	}
	for i, w := range want {
		m := msgs[i+1]
		if m.Type != MessageDelta || m.Counter != w.counter || m.Value != w.value {
			t.Fatalf("delta %d: expected %s=%d, got %+v", i, w.counter, w.value, m)
		}
		if m.Seq <= msgs[i].Seq {
			t.Fatalf("sequence must increase: %d after %d", m.Seq, msgs[i].Seq)
		}
	}
}

func TestLateArrivalCountedOnce(t *testing.T) {
	a := New(8)
	late := record.Violation{Kind: record.ViolationLateArrival}
	a.Emit(transition("v1", record.StatusNone, record.StatusCheckedIn, late))
	a.Emit(transition("v1", record.StatusNone, record.StatusCheckedIn, late))
	a.Emit(transition("v2", record.StatusNone, record.StatusAbsent))

	c, _ := a.Snapshot("evt-1")
	if c.LateArrivals != 1 {
		t.Fatalf("expected 1 late arrival, got %d", c.LateArrivals)
	}
	if c.Absent != 1 {
		t.Fatalf("expected 1 absent, got %d", c.Absent)
	}
}

func TestMissingCheckoutLeavesCountersAlone(t *testing.T) {
	a := New(8)
	a.Emit(transition("v1", record.StatusNone, record.StatusCheckedIn))
	_, seq := a.Snapshot("evt-1")
	a.Emit(transition("v1", record.StatusCheckedIn, record.StatusCheckedIn, record.Violation{Kind: record.ViolationMissingCheckout}))
	c, after := a.Snapshot("evt-1")
	if c.CheckedIn != 1 || after != seq {
		t.Fatalf("annotation must not move counters: %+v seq %d->%d", c, seq, after)
	}
}

func TestSeedOnlyOnce(t *testing.T) {
	a := New(8)
	if !a.Seed("evt-1", 5) {
		t.Fatalf("first seed must apply")
	}
	if a.Seed("evt-1", 9) {
		t.Fatalf("second seed must be ignored")
	}
	c, _ := a.Snapshot("evt-1")
	if c.Registered != 5 {
		t.Fatalf("expected 5 registered, got %d", c.Registered)
	}
}

func TestSlowConsumerDisconnected(t *testing.T) {
	a := New(2)
	slow := a.Subscribe("evt-1")
	fast := a.Subscribe("evt-1")

	done := make(chan int)
	go func() {
		n := 0
		for range fast.C {
			n++
			if n == 6 {
				break
			}
		}
		done <- n
	}()

	for i := 0; i < 5; i++ {
		a.Emit(transition("v"+string(rune('a'+i)), record.StatusNone, record.StatusCheckedIn))
		time.Sleep(5 * time.Millisecond)
	}

	// slow never reads: its buffer held the snapshot and one delta
	n := 0
	for range slow.C {
		n++
	}
	if n != 2 {
		t.Fatalf("expected 2 buffered messages, got %d", n)
	}
	if !errors.Is(slow.Err(), ErrSlowConsumer) {
		t.Fatalf("expected ErrSlowConsumer, got %v", slow.Err())
	}
	select {
	case got := <-done:
		if got != 6 {
			t.Fatalf("fast subscriber got %d messages", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("fast subscriber starved")
	}
	fast.Close()
}

func TestCloseIsIdempotent(t *testing.T) {
	a := New(1)
	sub := a.Subscribe("evt-1")
	sub.Close()
	sub.Close()
	for range sub.C {
	}
	if sub.Err() != nil {
		t.Fatalf("voluntary close carries no error, got %v", sub.Err())
	}
	// emitting after close must not panic
	a.Emit(transition("v1", record.StatusNone, record.StatusCheckedIn))
}

func TestResetPushesSnapshot(t *testing.T) {
	a := New(4)
	a.Emit(transition("v1", record.StatusNone, record.StatusCheckedIn))
	sub := a.Subscribe("evt-1")
	defer sub.Close()
	drain(t, sub, 1)

	records := []record.Record{
		{EventID: "evt-1", VolunteerID: "v1", Status: record.StatusCheckedOut},
		{EventID: "evt-1", VolunteerID: "v2", Status: record.StatusCheckedIn, Violations: []record.Violation{{Kind: record.ViolationLateArrival}}},
		{EventID: "evt-1", VolunteerID: "v3", Status: record.StatusAbsent},
	}
	counters, late := Recompute(records, 4)
	a.Reset("evt-1", counters, late)

	msg := drain(t, sub, 1)[0]
	if msg.Type != MessageSnapshot {
		t.Fatalf("expected snapshot, got %+v", msg)
	}
	want := Counters{Registered: 4, CheckedIn: 1, CheckedOut: 1, Absent: 1, LateArrivals: 1}
	if *msg.Counters != want {
		t.Fatalf("expected %+v, got %+v", want, *msg.Counters)
	}

	// v2 was already counted late; a replayed late annotation must not double count
	a.Emit(transition("v2", record.StatusNone, record.StatusCheckedIn, record.Violation{Kind: record.ViolationLateArrival}))
	c, _ := a.Snapshot("evt-1")
	if c.LateArrivals != 1 {
		t.Fatalf("expected late arrivals to stay 1, got %d", c.LateArrivals)
	}
}
