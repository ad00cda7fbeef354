package notifyclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"volunteerattendance/internal/queue"
)

func TestDispatchPostsNotification(t *testing.T) {
	var got queue.Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/notifications" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Idempotency-Key") != "n-1" {
			t.Errorf("missing idempotency key")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{"accepted": true})
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	receipt, err := c.Dispatch(context.Background(), queue.Notification{ID: "n-1", Type: queue.TypeAbsent, EventID: "evt-1", VolunteerID: "v1"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !receipt.Accepted || receipt.ID != "n-1" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if got.VolunteerID != "v1" || got.Type != queue.TypeAbsent {
		t.Fatalf("server received %+v", got)
	}
}

func TestDispatchSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := New(srv.URL, false).Dispatch(context.Background(), queue.Notification{ID: "n-1"}); err == nil {
		t.Fatalf("expected error on 502")
	}
	if err := New(srv.URL, false).Health(context.Background()); err == nil {
		t.Fatalf("expected unhealthy")
	}
}

func TestSkipMode(t *testing.T) {
	c := New("http://127.0.0.1:0", true)
	receipt, err := c.Dispatch(context.Background(), queue.Notification{ID: "n-2"})
	if err != nil || !receipt.Accepted {
		t.Fatalf("skip mode must accept, got %+v %v", receipt, err)
	}
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("skip mode must be healthy: %v", err)
	}
}
