package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"volunteerattendance/internal/attendance"
	"volunteerattendance/internal/auth"
	"volunteerattendance/internal/event"
	"volunteerattendance/internal/geofence"
	"volunteerattendance/internal/live"
	"volunteerattendance/internal/record"
	"volunteerattendance/internal/token"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "attendance-test"
)

var (
	evStart = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	center  = geofence.Point{Latitude: 25.2048, Longitude: 55.2708}
	far     = geofence.Point{Latitude: 25.2075, Longitude: 55.2708}
)

type testServer struct {
	router *gin.Engine
	svc    *attendance.Service
	pair   token.Pair
	now    time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	catalog := event.NewMemory()
	if _, err := catalog.Put(event.Anchor{
		EventID:             "evt-1",
		Center:              center,
		RadiusMeters:        100,
		StrictMode:          true,
		StartTime:           evStart,
		EndTime:             evStart.Add(4 * time.Hour),
		AllowManualOverride: true,
	}); err != nil {
		t.Fatalf("put anchor: %v", err)
	}
	catalog.Approve("evt-1", "v1", "v2")

	ts := &testServer{now: evStart.Add(5 * time.Minute)}
	ts.svc = attendance.NewService(attendance.Deps{
		Events:        catalog,
		Registrations: catalog,
		Records:       record.NewMemoryStore(),
		Tokens:        token.NewManager(token.NewMemoryStore(), 30*time.Minute),
		Live:          live.New(16),
		Clock:         func() time.Time { return ts.now },
	}, attendance.Options{})

	pair, _, err := ts.svc.PublishTokens(context.Background(), "evt-1")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	ts.pair = pair

	ts.router = gin.New()
	NewHandler(ts.svc, testKey, testIssuer, nil).Register(ts.router)
	return ts
}

func bearer(t *testing.T, subject, role string) string {
	t.Helper()
	pair, err := auth.Issue(subject, role, testIssuer, testKey, time.Hour, 2*time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return "Bearer " + pair.AccessToken
}

func (ts *testServer) do(t *testing.T, method, path, authz string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestCheckInCreatedThenReplayed(t *testing.T) {
	ts := newTestServer(t)
	v1 := bearer(t, "v1", auth.RoleVolunteer)
	body := gin.H{"token": ts.pair.CheckIn.Value, "location": center}

	w := ts.do(t, http.MethodPost, "/v1/events/evt-1/check-in", v1, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodPost, "/v1/events/evt-1/check-in", v1, body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d: %s", w.Code, w.Body.String())
	}
	if created := decode(t, w)["created"]; created != false {
		t.Fatalf("expected created=false on replay, got %v", created)
	}
}

func TestCheckInErrors(t *testing.T) {
	ts := newTestServer(t)
	v1 := bearer(t, "v1", auth.RoleVolunteer)

	cases := []struct {
		name   string
		authz  string
		body   gin.H
		status int
		reason string
	}{
		{"no auth", "", gin.H{"token": ts.pair.CheckIn.Value, "location": center}, http.StatusUnauthorized, ""},
		{"missing location", v1, gin.H{"token": ts.pair.CheckIn.Value}, http.StatusBadRequest, ""},
		{"other volunteer", v1, gin.H{"volunteer_id": "v2", "token": ts.pair.CheckIn.Value, "location": center}, http.StatusForbidden, ""},
		{"unknown token", v1, gin.H{"token": "nope", "location": center}, http.StatusUnauthorized, "token_unknown"},
		{"wrong purpose", v1, gin.H{"token": ts.pair.CheckOut.Value, "location": center}, http.StatusForbidden, "token_wrong_purpose"},
		{"invalid location", v1, gin.H{"token": ts.pair.CheckIn.Value, "location": gin.H{"latitude": 91, "longitude": 0}}, http.StatusBadRequest, "invalid_location"},
		{"outside geofence", v1, gin.H{"token": ts.pair.CheckIn.Value, "location": far}, http.StatusUnprocessableEntity, "geofence"},
		{"stale timestamp", v1, gin.H{"token": ts.pair.CheckIn.Value, "location": center, "timestamp": evStart.Add(-time.Hour)}, http.StatusBadRequest, "invalid_request"},
		{"volunteer override", v1, gin.H{"location": center, "override": gin.H{"request_id": "r-1"}}, http.StatusForbidden, "permission_denied"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/v1/events/evt-1/check-in", tc.authz, tc.body)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
			if tc.reason == "" {
				return
			}
			out := decode(t, w)
			if out["reason"] != tc.reason {
				t.Fatalf("expected reason %q, got %v", tc.reason, out["reason"])
			}
			if tc.reason == "geofence" {
				if d, _ := out["distance_meters"].(float64); d <= 100 {
					t.Fatalf("expected distance beyond radius, got %v", out["distance_meters"])
				}
			}
		})
	}
}

func TestCheckOutBeforeCheckInConflicts(t *testing.T) {
	ts := newTestServer(t)
	v1 := bearer(t, "v1", auth.RoleVolunteer)
	w := ts.do(t, http.MethodPost, "/v1/events/evt-1/check-out", v1, gin.H{"token": ts.pair.CheckOut.Value, "location": center})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSupervisorOverride(t *testing.T) {
	ts := newTestServer(t)
	sup := bearer(t, "sup-1", auth.RoleSupervisor)

	w := ts.do(t, http.MethodPost, "/v1/events/evt-1/check-in", sup, gin.H{
		"volunteer_id": "v2",
		"location":     far,
		"override":     gin.H{"request_id": "r-1"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	rec, err := ts.svc.Record(context.Background(), "evt-1", "v2")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.CheckIn == nil || rec.CheckIn.Method != record.MethodManual || rec.CheckIn.SupervisorID != "sup-1" {
		t.Fatalf("unexpected check-in leg: %+v", rec.CheckIn)
	}
}

func TestStaffRoutesRequireRole(t *testing.T) {
	ts := newTestServer(t)
	v1 := bearer(t, "v1", auth.RoleVolunteer)
	for _, path := range []string{"/v1/events/evt-1/tokens", "/v1/events/evt-1/sweep", "/v1/events/evt-1/resync"} {
		if w := ts.do(t, http.MethodPost, path, v1, nil); w.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d", path, w.Code)
		}
	}
	if w := ts.do(t, http.MethodGet, "/v1/events/evt-1/attendance", v1, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 listing attendance, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/v1/events/evt-1/attendance/v2", v1, nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 reading another volunteer, got %d", w.Code)
	}
}

func TestSweepTooEarlyThenRuns(t *testing.T) {
	ts := newTestServer(t)
	sched := bearer(t, "sched-1", auth.RoleScheduler)

	w := ts.do(t, http.MethodPost, "/v1/events/evt-1/sweep", sched, nil)
	if w.Code != http.StatusTooEarly {
		t.Fatalf("expected 425, got %d: %s", w.Code, w.Body.String())
	}

	ts.now = evStart.Add(5 * time.Hour)
	w = ts.do(t, http.MethodPost, "/v1/events/evt-1/sweep", sched, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res attendance.SweepResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.MarkedAbsent != 2 {
		t.Fatalf("expected 2 absent, got %+v", res)
	}

	sup := bearer(t, "sup-1", auth.RoleSupervisor)
	w = ts.do(t, http.MethodGet, "/v1/events/evt-1/counters", sup, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("counters: %d", w.Code)
	}
	counters := decode(t, w)["counters"].(map[string]any)
	if counters["absent"] != float64(2) || counters["registered"] != float64(2) {
		t.Fatalf("unexpected counters: %v", counters)
	}
}

func TestUnknownEventIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	sup := bearer(t, "sup-1", auth.RoleSupervisor)
	if w := ts.do(t, http.MethodGet, "/v1/events/missing/counters", sup, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
	if w := ts.do(t, http.MethodGet, "/v1/events/evt-1/attendance/v1", sup, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing record, got %d", w.Code)
	}
}
