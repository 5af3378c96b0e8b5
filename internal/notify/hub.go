// Package notify pushes reminder events to connected browser pages over
// websockets and tracks whether any page granted notification permission.
package notify

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/memochat/internal/logging"
	"github.com/antoniostano/memochat/internal/memo"
	"github.com/antoniostano/memochat/internal/observability"
)

const (
	TypeMemoDue       = "memo_due"
	TypeAudioCue      = "audio_cue"
	TypePermission    = "permission"
	TypePermissionAck = "permission_ack"
	TypeError         = "error"

	CueFrequencyHz = 880
	CueDurationMS  = 200

	sendBuffer   = 16
	writeTimeout = 10 * time.Second
	readTimeout  = 120 * time.Second
	pingInterval = 30 * time.Second
)

type MemoDue struct {
	Type   string `json:"type"`
	MemoID string `json:"memo_id"`
	Title  string `json:"title"`
	At     string `json:"at"`
}

type AudioCue struct {
	Type        string `json:"type"`
	FrequencyHz int    `json:"frequency_hz"`
	DurationMS  int    `json:"duration_ms"`
}

type PermissionAck struct {
	Type    string `json:"type"`
	Granted bool   `json:"granted"`
}

type ErrorEvent struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

type clientMessage struct {
	Type    string `json:"type"`
	Granted *bool  `json:"granted"`
}

type client struct {
	send    chan any
	granted bool
	kick    func()
}

// Hub fans reminder events out to every connected page. It satisfies
// reminder.Notifier.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}

	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewHub(logger *zap.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logging.OrNop(logger).With(zap.String("component", "notify")),
		metrics: metrics,
	}
}

// Permitted reports whether at least one connected page granted permission.
func (h *Hub) Permitted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.granted {
			return true
		}
	}
	return false
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Notify(_ context.Context, m memo.Memo) {
	h.broadcast(TypeMemoDue, MemoDue{
		Type:   TypeMemoDue,
		MemoID: m.ID,
		Title:  m.Title,
		At:     m.Time,
	})
}

func (h *Hub) Cue(context.Context) {
	h.broadcast(TypeAudioCue, AudioCue{
		Type:        TypeAudioCue,
		FrequencyHz: CueFrequencyHz,
		DurationMS:  CueDurationMS,
	})
}

// Serve owns conn until the peer disconnects or ctx is done. The caller
// upgrades the request; Serve closes the connection.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &client{
		send: make(chan any, sendBuffer),
		kick: func() { _ = conn.Close() },
	}
	h.register(c)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, c)
		// Unblocks ReadMessage below.
		c.kick()
	}()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		h.handleClientMessage(c, data)
	}

	cancel()
	h.unregister(c)
	<-writerDone
	_ = conn.Close()
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("notification write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *Hub) handleClientMessage(c *client, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.enqueue(c, ErrorEvent{Type: TypeError, Code: "invalid_client_message", Detail: err.Error()})
		return
	}
	switch strings.TrimSpace(msg.Type) {
	case TypePermission:
		granted := msg.Granted != nil && *msg.Granted
		h.mu.Lock()
		c.granted = granted
		h.mu.Unlock()
		h.logger.Info("notification permission reported", zap.Bool("granted", granted))
		h.enqueue(c, PermissionAck{Type: TypePermissionAck, Granted: granted})
	default:
		h.enqueue(c, ErrorEvent{Type: TypeError, Code: "unsupported_type", Detail: "unsupported message type " + msg.Type})
	}
}

func (h *Hub) enqueue(c *client, msg any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.setClientGauge(n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.setClientGauge(n)
}

// broadcast never blocks: a client whose queue is full is disconnected.
func (h *Hub) broadcast(eventType string, msg any) {
	var slow []*client
	queued := 0

	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- msg:
			queued++
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if queued == 0 && len(slow) == 0 {
		h.observe(eventType, "no_clients")
	}
	for i := 0; i < queued; i++ {
		h.observe(eventType, "queued")
	}
	for _, c := range slow {
		h.observe(eventType, "drop_slow")
		h.logger.Warn("dropping slow notification client", zap.String("event", eventType))
		c.kick()
	}
}

func (h *Hub) observe(eventType, result string) {
	if h.metrics == nil {
		return
	}
	h.metrics.NotificationEvents.WithLabelValues(eventType, result).Inc()
}

func (h *Hub) setClientGauge(n int) {
	if h.metrics == nil {
		return
	}
	h.metrics.NotifyClients.Set(float64(n))
}
