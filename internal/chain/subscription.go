package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	apperr "github.com/swissgrant/platform/internal/errors"
)

// Subscription delivers Transfer events into the receiving address as they
// are mined, via eth_subscribe over websocket.
type Subscription struct {
	wsURL string
	token string
	to    string

	mu     sync.Mutex
	conn   *websocket.Conn
	events chan Transfer
	done   chan struct{}
}

// NewSubscription prepares a log subscription; Connect dials it.
func NewSubscription(wsURL, token, to string) (*Subscription, error) {
	if !ValidAddress(token) || !ValidAddress(to) {
		return nil, apperr.Validation("token and recipient must be hex addresses")
	}
	return &Subscription{
		wsURL:  wsURL,
		token:  strings.ToLower(token),
		to:     strings.ToLower(to),
		events: make(chan Transfer, 16),
	}, nil
}

// Events is the delivery channel for the current connection. Closed when the
// connection drops; Connect replaces it, so callers re-read after a
// reconnect.
func (s *Subscription) Events() <-chan Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

// Connect dials the endpoint, subscribes and starts the read loop.
func (s *Subscription) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return apperr.Chain("subscription dial", err)
	}

	sub := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params": []any{"logs", map[string]any{
			"address": s.token,
			"topics":  []any{transferTopic, nil, addressTopic(s.to)},
		}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return apperr.Chain("send subscribe", err)
	}

	// First frame is the subscription ack.
	var ack json.RawMessage
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return apperr.Chain("read subscribe ack", err)
	}
	if rpcErr := gjson.GetBytes(ack, "error"); rpcErr.Exists() {
		conn.Close()
		return apperr.Chain("subscribe",
			fmt.Errorf("rpc error %d: %s", rpcErr.Get("code").Int(), rpcErr.Get("message").String()))
	}

	s.conn = conn
	s.done = make(chan struct{})
	// Fresh channel per connection; a reconnect must not send on the
	// previous loop's closed channel.
	s.events = make(chan Transfer, 16)
	go s.readLoop(conn, s.events, s.done)
	return nil
}

// Close tears down the socket; the events channel closes once the read loop
// exits.
func (s *Subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	close(s.done)
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *Subscription) readLoop(conn *websocket.Conn, events chan Transfer, done chan struct{}) {
	defer close(events)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		result := gjson.GetBytes(raw, "params.result")
		if !result.Exists() {
			continue
		}
		t, err := decodeTransfer(result)
		if err != nil {
			continue
		}

		select {
		case events <- t:
		case <-done:
			return
		}
	}
}
