// Package view pushes game state-change notifications to browser clients
// over WebSocket. It is the thin view-binding layer: the session controller
// and screen navigator publish events here and never touch rendering.
package view

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/backchannel/internal/domain"
	"github.com/ashureev/backchannel/internal/screen"
	"github.com/ashureev/backchannel/internal/session"
	"github.com/coder/websocket"
)

const (
	writeTimeout  = 5 * time.Second
	sendQueueSize = 64 // buffered events per client before it is dropped
)

// Event is the wire envelope for every push.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// client is one connected browser tab. Writes go through a buffered send
// channel drained by a per-client goroutine, so publishers never touch
// WebSocket I/O.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Feed broadcasts events to all connected view clients. Broadcasting only
// queues onto per-client channels; a client whose queue is full is dropped,
// so the game loop never blocks on a stalled browser tab.
type Feed struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	isDev   bool
}

// NewFeed creates an empty feed.
func NewFeed(isDev bool) *Feed {
	return &Feed{
		clients: make(map[*client]struct{}),
		isDev:   isDev,
	}
}

// TranscriptAppended implements session.Events.
func (f *Feed) TranscriptAppended(entry domain.TranscriptEntry) {
	f.broadcast(Event{Type: "transcript", Payload: entry})
}

// SessionChanged implements session.Events.
func (f *Feed) SessionChanged(snapshot session.Snapshot) {
	f.broadcast(Event{Type: "state", Payload: snapshot})
}

// MissionResolved implements session.Events.
func (f *Feed) MissionResolved(debrief session.Debrief) {
	f.broadcast(Event{Type: "debrief", Payload: debrief})
}

// ScreenChanged is wired to the navigator's subscription.
func (f *Feed) ScreenChanged(s screen.Screen) {
	f.broadcast(Event{Type: "screen", Payload: string(s)})
}

// ServeHTTP upgrades the connection and keeps it registered until the
// client goes away. Clients only listen; inbound messages are drained and
// ignored.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if f.isDev {
		opts.OriginPatterns = []string{"*"}
	}

	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed closed"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	cl := &client{
		conn: ws,
		send: make(chan []byte, sendQueueSize),
	}
	f.register(cl)
	defer f.unregister(cl)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go cl.writeLoop(ctx, cancel)

	for {
		if _, _, err := ws.Read(ctx); err != nil {
			return
		}
	}
}

// writeLoop drains the send queue onto the socket. A failed or timed-out
// write tears the connection down; the queue keeps publishers decoupled
// from socket I/O.
func (c *client) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				slog.Debug("View client write failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) register(cl *client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[cl] = struct{}{}
	slog.Info("View client connected", "clients", len(f.clients))
}

func (f *Feed) unregister(cl *client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[cl]; ok {
		delete(f.clients, cl)
		slog.Info("View client disconnected", "clients", len(f.clients))
	}
}

// broadcast queues the event for every client. Queueing is non-blocking:
// a full send queue means the client stopped reading, so it is dropped
// rather than allowed to stall the publisher.
func (f *Feed) broadcast(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Debug("Failed to encode event", "type", event.Type, "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for cl := range f.clients {
		select {
		case cl.send <- payload:
		default:
			slog.Warn("View client send queue full, dropping client", "queue_len", len(cl.send))
			delete(f.clients, cl)
			// Closing unblocks the client's read and write loops; run it
			// off the publisher's goroutine.
			go func(conn *websocket.Conn) {
				_ = conn.Close(websocket.StatusPolicyViolation, "client too slow")
			}(cl.conn)
		}
	}
}
