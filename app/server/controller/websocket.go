package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/microinsure/poolregistry/pkg/txn"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientMessage represents messages sent by WebSocket clients.
type ClientMessage struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	TxID   string `json:"txId"`   // transaction id, or "*" for every transaction
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string      `json:"type"`    // "tx.update", "subscribed", "unsubscribed", "error", "info"
	Payload interface{} `json:"payload"` // Event-specific data
}

// clientSubscriptions tracks which transactions a client follows.
type clientSubscriptions struct {
	mu  sync.RWMutex
	ids map[string]bool
}

func newClientSubscriptions() *clientSubscriptions {
	return &clientSubscriptions{ids: make(map[string]bool)}
}

func (cs *clientSubscriptions) subscribe(id string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.ids[id] = true
}

func (cs *clientSubscriptions) unsubscribe(id string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.ids, id)
}

// isSubscribed reports whether id is followed. Wildcard (*) matches all.
func (cs *clientSubscriptions) isSubscribed(id string) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.ids["*"] || cs.ids[id]
}

// HandleWebSocket upgrades the connection and streams transaction updates.
//
// Protocol:
// Client sends: {"action": "subscribe", "txId": "<uuid>"}  // follow one transaction
// Client sends: {"action": "subscribe", "txId": "*"}       // follow all
// Client sends: {"action": "unsubscribe", "txId": "<uuid>"}
//
// Server sends:
// - {"type": "tx.update", "payload": {...}}
// - {"type": "subscribed", "payload": {"txId": "..."}}
// - {"type": "unsubscribed", "payload": {"txId": "..."}}
// - {"type": "error", "payload": {"message": "..."}}
//
// With Redis enabled updates come from the status channels, so every
// server instance sees every transaction; otherwise from this process.
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func(conn *websocket.Conn) {
		if err := conn.Close(); err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}(conn)

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subs := newClientSubscriptions()
	send := make(chan ServerMessage, 256)

	var wg sync.WaitGroup
	if c.App.RedisClient != nil {
		c.goSafe(&wg, cancel, "redis subscriber", r.RemoteAddr, func() { c.subscribeToRedis(ctx, send, subs) })
	} else {
		// Registered before the first client message is read so no update is missed.
		updates, unsubscribe := c.subscribeLocal()
		defer unsubscribe()
		c.goSafe(&wg, cancel, "local forwarder", r.RemoteAddr, func() { forwardUpdates(ctx, updates, send, subs) })
	}
	c.goSafe(&wg, cancel, "ping ticker", r.RemoteAddr, func() { c.sendPings(ctx, conn) })

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeMessages(ctx, conn, send)
	}()

	// Blocks until the connection closes.
	c.readClientMessages(ctx, conn, cancel, subs, send)

	cancel()
	wg.Wait()
	<-writerDone

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

func (c *Controller) goSafe(wg *sync.WaitGroup, cancel context.CancelFunc, name, remote string, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				c.App.Logger.Error("Panic in WebSocket goroutine",
					zap.String("goroutine", name),
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())),
					zap.String("remote_addr", remote))
				cancel()
			}
		}()
		fn()
	}()
}

// subscribeLocal follows this process's coordinator.
func (c *Controller) subscribeLocal() (<-chan txn.Update, func()) {
	updates := make(chan txn.Update, 64)
	unsubscribe := c.App.Coordinator.Subscribe(func(u txn.Update) {
		select {
		case updates <- u:
		default:
			// Slow client; drop rather than stall the coordinator.
		}
	})
	return updates, unsubscribe
}

func forwardUpdates(ctx context.Context, updates <-chan txn.Update, send chan<- ServerMessage, subs *clientSubscriptions) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			if !subs.isSubscribed(u.TxID) {
				continue
			}
			select {
			case send <- ServerMessage{Type: "tx.update", Payload: u}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// subscribeToRedis follows the status channels with PSUBSCRIBE and
// reconnects with exponential backoff when Redis goes away.
func (c *Controller) subscribeToRedis(ctx context.Context, send chan<- ServerMessage, subs *clientSubscriptions) {
	const (
		initialBackoff = 1 * time.Second
		maxBackoff     = 30 * time.Second
		backoffFactor  = 2.0
		jitterFactor   = 0.1
	)

	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return
		}

		err := c.attemptRedisSubscription(ctx, send, subs)
		if ctx.Err() != nil {
			return
		}
		c.App.Logger.Warn("Redis subscription ended, will retry",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff))

		select {
		case send <- ServerMessage{
			Type: "error",
			Payload: map[string]interface{}{
				"message":     "Redis connection lost, attempting to reconnect...",
				"retryIn":     backoff.Seconds(),
				"attempt":     attempt,
				"recoverable": true,
			},
		}:
		case <-ctx.Done():
			return
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = calculateNextBackoff(backoff, maxBackoff, backoffFactor, jitterFactor)
	}
}

func (c *Controller) attemptRedisSubscription(ctx context.Context, send chan<- ServerMessage, subs *clientSubscriptions) error {
	pubsub := c.App.RedisClient.PSubscribe(ctx, txn.ChannelPattern)
	defer func() {
		if err := pubsub.Close(); err != nil {
			c.App.Logger.Debug("Error closing Redis subscription", zap.Error(err))
		}
	}()

	receiveCtx, receiveCancel := context.WithTimeout(ctx, 5*time.Second)
	defer receiveCancel()
	if _, err := pubsub.Receive(receiveCtx); err != nil {
		return fmt.Errorf("failed to confirm Redis subscription: %w", err)
	}

	return c.processRedisMessages(ctx, pubsub, send, subs)
}

func (c *Controller) processRedisMessages(ctx context.Context, pubsub *redis.PubSub, send chan<- ServerMessage, subs *clientSubscriptions) error {
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var u txn.Update
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				c.App.Logger.Error("Failed to parse Redis message",
					zap.Error(err),
					zap.String("channel", msg.Channel))
				continue
			}
			if !subs.isSubscribed(u.TxID) {
				continue
			}
			select {
			case send <- ServerMessage{Type: "tx.update", Payload: u}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// calculateNextBackoff grows current by factor, caps it at limit and adds
// ±jitterFactor jitter, never going below current.
func calculateNextBackoff(current, limit time.Duration, factor, jitterFactor float64) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > limit {
		next = limit
	}

	jitter := float64(next) * jitterFactor * (2*rand.Float64() - 1)
	nextWithJitter := time.Duration(float64(next) + jitter)

	if nextWithJitter < current {
		nextWithJitter = current
	}
	if nextWithJitter > limit {
		nextWithJitter = limit
	}
	return nextWithJitter
}

// sendPings sends periodic ping frames; the pong handler extends the read deadline.
func (c *Controller) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				c.App.Logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// writeMessages is the only writer of data frames on conn.
func (c *Controller) writeMessages(ctx context.Context, conn *websocket.Conn, send <-chan ServerMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				c.App.Logger.Debug("Failed to write WebSocket message", zap.Error(err))
				return
			}
		}
	}
}

func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, subs *clientSubscriptions, send chan<- ServerMessage) {
	if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.App.Logger.Warn("WebSocket read error", zap.Error(err))
			}
			cancel()
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			cancel()
			return
		}

		var reply ServerMessage
		switch {
		case msg.TxID == "":
			reply = ServerMessage{Type: "error", Payload: map[string]string{"message": "txId is required"}}
		case msg.Action == "subscribe":
			subs.subscribe(msg.TxID)
			reply = ServerMessage{Type: "subscribed", Payload: map[string]string{"txId": msg.TxID}}
		case msg.Action == "unsubscribe":
			subs.unsubscribe(msg.TxID)
			reply = ServerMessage{Type: "unsubscribed", Payload: map[string]string{"txId": msg.TxID}}
		default:
			reply = ServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}}
		}
		select {
		case send <- reply:
		case <-ctx.Done():
			return
		}
	}
}
