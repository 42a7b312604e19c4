package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"talkwise/internal/history"
	"talkwise/internal/observe"
	"talkwise/internal/transcript"
)

// writeTimeout bounds one websocket message write.
const writeTimeout = 5 * time.Second

// LiveMessage is one event pushed over /ws/live.
type LiveMessage struct {
	// Type is "transcript" for live transcript changes or "reminder" for an
	// upcoming-meeting notice.
	Type string `json:"type"`

	// Permanent and Interim carry the transcript state for "transcript"
	// messages.
	Permanent string `json:"permanent"`
	Interim   string `json:"interim"`

	// Schedule carries the meeting for "reminder" messages.
	Schedule *ScheduleJSON `json:"schedule,omitempty"`
}

// Hub fans live events out to websocket subscribers. A subscriber that falls
// behind has messages dropped rather than stalling the broadcast; the next
// transcript message carries the full state anyway.
type Hub struct {
	metrics *observe.Metrics

	mu   sync.Mutex
	subs map[chan LiveMessage]struct{}
}

// NewHub creates an empty Hub. metrics may be nil to use the defaults.
func NewHub(metrics *observe.Metrics) *Hub {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Hub{
		metrics: metrics,
		subs:    make(map[chan LiveMessage]struct{}),
	}
}

// BroadcastTranscript pushes a live transcript change to every subscriber.
func (h *Hub) BroadcastTranscript(u transcript.Update) {
	h.broadcast(LiveMessage{Type: "transcript", Permanent: u.Permanent, Interim: u.Interim})
}

// BroadcastReminder pushes an upcoming-meeting notice to every subscriber.
func (h *Hub) BroadcastReminder(sch history.Schedule) {
	s := toScheduleJSON(sch)
	h.broadcast(LiveMessage{Type: "reminder", Schedule: &s})
}

func (h *Hub) broadcast(msg LiveMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub <- msg:
		default:
			// Subscriber is not keeping up; drop.
		}
	}
}

// subscribe registers a new subscriber channel. The returned func removes it.
func (h *Hub) subscribe() (<-chan LiveMessage, func()) {
	sub := make(chan LiveMessage, 16)
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	h.metrics.LiveSubscribers.Add(context.Background(), 1)
	return sub, func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
		h.metrics.LiveSubscribers.Add(context.Background(), -1)
	}
}

// handleLive upgrades the request to a websocket and streams live events.
// The first message is always a transcript snapshot so a page that connects
// mid-recording renders immediately.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub, unsubscribe := s.hub.subscribe()
	defer unsubscribe()

	// The feed is push-only; CloseRead surfaces client disconnects as
	// context cancellation.
	ctx := conn.CloseRead(r.Context())

	permanent, interim := s.transcript.Text()
	if err := writeLive(ctx, conn, LiveMessage{Type: "transcript", Permanent: permanent, Interim: interim}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub:
			if err := writeLive(ctx, conn, msg); err != nil {
				return
			}
		}
	}
}

func writeLive(ctx context.Context, conn *websocket.Conn, msg LiveMessage) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, msg)
}
