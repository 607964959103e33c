package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ChangeEvent is one postgres change delivered over the realtime socket.
type ChangeEvent struct {
	Table  string          `json:"table"`
	Type   string          `json:"type"` // INSERT, UPDATE, DELETE
	Record json.RawMessage `json:"record"`
	Old    json.RawMessage `json:"old_record"`
}

// ChangeHandler receives change events. Handlers run on the read loop
// goroutine and must not block.
type ChangeHandler func(ChangeEvent)

// RealtimeClient maintains one phoenix-protocol websocket and dispatches
// table changes to subscribed handlers.
type RealtimeClient struct {
	client *Client

	mu       sync.Mutex
	conn     *websocket.Conn
	handlers map[string][]ChangeHandler
	ref      int
	done     chan struct{}
}

type phoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
	JoinRef string          `json:"join_ref,omitempty"`
}

// Connect dials the realtime endpoint and starts the read and heartbeat
// loops. Safe to call once; reconnects are the caller's responsibility.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	wsURL := r.client.realtimeURL + "?apikey=" + r.client.config.AnonKey + "&vsn=1.0.0"
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("realtime dial: %w", err)
	}

	r.conn = conn
	r.done = make(chan struct{})
	if r.handlers == nil {
		r.handlers = make(map[string][]ChangeHandler)
	}

	go r.readLoop()
	go r.heartbeatLoop()
	return nil
}

// Close tears down the socket.
func (r *RealtimeClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	close(r.done)
	_ = r.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := r.conn.Close()
	r.conn = nil
	return err
}

// Subscribe joins the change feed for one table in the public schema and
// registers the handler for its events.
func (r *RealtimeClient) Subscribe(table string, handler ChangeHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return fmt.Errorf("realtime: not connected")
	}

	topic := "realtime:public:" + table
	first := len(r.handlers[topic]) == 0
	r.handlers[topic] = append(r.handlers[topic], handler)
	if !first {
		return nil
	}

	r.ref++
	ref := strconv.Itoa(r.ref)
	join := map[string]any{
		"topic":    topic,
		"event":    "phx_join",
		"payload":  map[string]any{},
		"ref":      ref,
		"join_ref": ref,
	}
	if err := r.conn.WriteJSON(join); err != nil {
		return fmt.Errorf("realtime join %s: %w", table, err)
	}
	return nil
}

func (r *RealtimeClient) readLoop() {
	for {
		select {
		case <-r.done:
			return
		default:
		}

		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()
		if conn == nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg phoenixMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Event {
		case "phx_reply", "phx_error", "heartbeat":
			continue
		}

		var event ChangeEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			continue
		}
		if event.Type == "" {
			event.Type = msg.Event
		}

		r.mu.Lock()
		handlers := append([]ChangeHandler(nil), r.handlers[msg.Topic]...)
		r.mu.Unlock()
		for _, h := range handlers {
			h(event)
		}
	}
}

func (r *RealtimeClient) heartbeatLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.conn != nil {
				r.ref++
				_ = r.conn.WriteJSON(map[string]any{
					"topic":   "phoenix",
					"event":   "heartbeat",
					"payload": map[string]any{},
					"ref":     strconv.Itoa(r.ref),
				})
			}
			r.mu.Unlock()
		}
	}
}
