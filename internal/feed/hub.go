package feed

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"gps-station/internal/pipeline"
)

const (
	// Time allowed to write a message to the client.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client.
	pongWait = 60 * time.Second

	// Send pings to client with this period. Must be less than pongWait.
	pingPeriod = 15 * time.Second

	// Maximum message size allowed from client.
	maxMessageSize = 512

	// Messages buffered per subscriber before new ones are dropped.
	subscriberBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type subscriber struct {
	imei string // empty: every device
	send chan []byte
}

// Hub streams tracking objects to websocket clients. A slow client loses
// messages rather than slowing down the sessions.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Int64
	logger  *slog.Logger
}

func NewHub(lg *slog.Logger) *Hub {
	return &Hub{subs: make(map[*subscriber]struct{}), logger: lg.With("component", "feed")}
}

func (h *Hub) Name() string { return "feed" }

func (h *Hub) Publish(_ context.Context, tr *pipeline.TrackingObject) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.subs) == 0 {
		return nil
	}

	msg, err := pipeline.ToJSON(tr)
	if err != nil {
		return err
	}
	for s := range h.subs {
		if s.imei != "" && s.imei != tr.IMEI {
			continue
		}
		select {
		case s.send <- msg:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribers is the number of connected clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped is the number of messages discarded for slow clients.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func (h *Hub) add(imei string) *subscriber {
	s := &subscriber{imei: imei, send: make(chan []byte, subscriberBuffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams records until the client leaves.
// ?imei=<serial> restricts the stream to one device.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	sub := h.add(r.URL.Query().Get("imei"))
	h.logger.Info("feed subscriber connected", "remote", r.RemoteAddr, "imei", sub.imei)

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		readLoop(conn)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		writeLoop(ctx, conn, sub)
	}()
	wg.Wait()

	h.remove(sub)
	_ = conn.Close()
	h.logger.Info("feed subscriber left", "remote", r.RemoteAddr)
}

// readLoop only services control frames; client messages are discarded.
func readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	// unblocks readLoop once writing stops
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}
