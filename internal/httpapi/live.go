package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/igm/sockjs-go/sockjs"

	"volunteerattendance/internal/auth"
	"volunteerattendance/internal/live"
)

type liveCommand struct {
	Action  string `json:"action"`
	EventID string `json:"event_id"`
}

type liveNotice struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// LiveHandler serves dashboard connections. A client authenticates with a
// bearer token (header or access_token query), then sends
// {"action":"subscribe","event_id":...}; it receives a snapshot followed by
// deltas. A client that falls behind gets a resync_required notice and must
// subscribe again.
func (h *Handler) LiveHandler(prefix string) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, h.serveLive)
}

func (h *Handler) serveLive(session sockjs.Session) {
	req := session.Request()
	tokenStr := auth.BearerToken(req.Header.Get("Authorization"))
	if tokenStr == "" {
		tokenStr = strings.TrimSpace(req.URL.Query().Get("access_token"))
	}
	claims, err := auth.Parse(tokenStr, h.signingKey, h.issuer)
	if err != nil {
		_ = session.Close(4001, "unauthorized")
		return
	}

	var sub *live.Subscription
	defer func() {
		if sub != nil {
			sub.Close()
		}
	}()

	for {
		raw, err := session.Recv()
		if err != nil {
			return
		}
		var cmd liveCommand
		if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
			sendNotice(session, liveNotice{Type: "error", Error: "invalid command"})
			continue
		}
		switch cmd.Action {
		case "subscribe":
			if sub != nil {
				sub.Close()
				sub = nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			next, err := h.svc.SubscribeLiveCounters(ctx, cmd.EventID)
			cancel()
			if err != nil {
				sendNotice(session, liveNotice{Type: "error", EventID: cmd.EventID, Error: err.Error()})
				continue
			}
			log.Printf("live subscribe event=%s subject=%s session=%s", cmd.EventID, claims.Subject, session.ID())
			sub = next
			go pump(session, next)
		case "unsubscribe":
			if sub != nil {
				sub.Close()
				sub = nil
			}
		default:
			sendNotice(session, liveNotice{Type: "error", Error: "unknown action"})
		}
	}
}

// pump forwards one subscription to the session until either side ends.
func pump(session sockjs.Session, sub *live.Subscription) {
	for msg := range sub.C {
		payload, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if err := session.Send(string(payload)); err != nil {
			sub.Close()
			return
		}
	}
	if errors.Is(sub.Err(), live.ErrSlowConsumer) {
		sendNotice(session, liveNotice{Type: "resync_required"})
	}
}

func sendNotice(session sockjs.Session, n liveNotice) {
	payload, _ := json.Marshal(n)
	_ = session.Send(string(payload))
}
