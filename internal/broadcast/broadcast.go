// Package broadcast fans out footprint engine snapshots to viewer
// WebSocket connections (spec.md §4.6), adapted from the teacher's
// internal/websocket hub/client pair.
package broadcast

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"orderflow-engine/internal/footprint"
	"orderflow-engine/internal/metrics"
	"orderflow-engine/internal/state"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	initialSnapshotSpacing = 20 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Viewer is one connected WebSocket client receiving candle snapshots.
type Viewer struct {
	conn *websocket.Conn
	send chan []byte
	id   string
}

// snapshotMessage is the wire envelope for a per-symbol candle snapshot
// (spec.md §6: `{"type":"orderflow","data":<engine_snapshot>}`).
type snapshotMessage struct {
	Type string          `json:"type"`
	Data footprint.State `json:"data"`
}

// Broadcaster fans out engine state to viewers, rate-gated per symbol
// (spec.md §4.6: "maintains a monotonic timestamp of last broadcast").
type Broadcaster struct {
	mu      sync.RWMutex
	viewers map[*Viewer]bool

	lastMu        sync.Mutex
	lastBroadcast map[string]int64 // symbol -> unix ms

	state       *state.AppState
	minInterval time.Duration
	candleLimit int
}

// New constructs a Broadcaster bound to st, gating broadcasts to at most
// one per symbol per minInterval and capping each snapshot to candleLimit
// candles (spec.md §6 BROADCAST_MIN_INTERVAL / BROADCAST_CANDLES_LIMIT).
func New(st *state.AppState, minInterval time.Duration, candleLimit int) *Broadcaster {
	return &Broadcaster{
		viewers:       make(map[*Viewer]bool),
		lastBroadcast: make(map[string]int64),
		state:         st,
		minInterval:   minInterval,
		candleLimit:   candleLimit,
	}
}

// ShouldBroadcast reports whether enough time has elapsed since the last
// broadcast for symbol, and if so atomically claims the slot.
func (b *Broadcaster) ShouldBroadcast(symbol string, nowMs int64) bool {
	b.lastMu.Lock()
	defer b.lastMu.Unlock()

	last, ok := b.lastBroadcast[symbol]
	if ok && nowMs-last < b.minInterval.Milliseconds() {
		return false
	}
	b.lastBroadcast[symbol] = nowMs
	return true
}

// ForgetSymbol drops symbol's last-broadcast bookkeeping, so an
// unsubscribed symbol's entry doesn't linger for the life of the process.
func (b *Broadcaster) ForgetSymbol(symbol string) {
	b.lastMu.Lock()
	delete(b.lastBroadcast, symbol)
	b.lastMu.Unlock()
}

// BroadcastSymbol serializes symbol's current engine state once and sends
// it to every connected viewer, dropping sockets that fail to accept the
// write (spec.md §4.6: "serialization is performed exactly once per
// broadcast, never once per viewer").
func (b *Broadcaster) BroadcastSymbol(symbol string) {
	engine := b.state.Engine(symbol)
	if engine == nil {
		return
	}

	st := engine.GetState(b.candleLimit)
	payload, err := json.Marshal(snapshotMessage{Type: "orderflow", Data: st})
	if err != nil {
		log.Printf("[broadcast] marshal snapshot for %s: %v", symbol, err)
		return
	}

	b.mu.RLock()
	viewers := make([]*Viewer, 0, len(b.viewers))
	for v := range b.viewers {
		viewers = append(viewers, v)
	}
	b.mu.RUnlock()

	for _, v := range viewers {
		b.sendOrDrop(v, payload)
	}
	metrics.BroadcastsTotal.WithLabelValues(symbol).Inc()
}

// sendOrDrop delivers payload to v, or drops v if its send buffer is full.
// The membership check and the channel send happen under the same RLock
// held across removeViewer's exclusive Lock, so a concurrent removeViewer
// (which closes v.send) can never race with this send — removeViewer can't
// run until this RLock is released.
func (b *Broadcaster) sendOrDrop(v *Viewer, payload []byte) {
	b.mu.RLock()
	_, ok := b.viewers[v]
	if ok {
		select {
		case v.send <- payload:
		default:
			ok = false
		}
	}
	b.mu.RUnlock()

	if !ok {
		b.removeViewer(v)
	}
}

func (b *Broadcaster) addViewer(v *Viewer) {
	b.mu.Lock()
	b.viewers[v] = true
	b.mu.Unlock()
}

func (b *Broadcaster) removeViewer(v *Viewer) {
	b.mu.Lock()
	if _, ok := b.viewers[v]; ok {
		delete(b.viewers, v)
		close(v.send)
	}
	b.mu.Unlock()
	metrics.ViewersConnected.Set(float64(b.ViewerCount()))
}

// sendInitialSnapshots pushes one snapshot per currently-registered engine
// to v, spaced to avoid overwhelming a freshly connected client
// (spec.md §4.6, ~20 ms spacing).
func (b *Broadcaster) sendInitialSnapshots(v *Viewer) {
	for _, engine := range b.state.Engines() {
		st := engine.GetState(b.candleLimit)
		payload, err := json.Marshal(snapshotMessage{Type: "orderflow", Data: st})
		if err != nil {
			continue
		}
		b.sendOrDrop(v, payload)
		time.Sleep(initialSnapshotSpacing)
	}
}

// HandleWebSocket upgrades r and registers a new viewer, seeding it with
// the current state of every engine before streaming live updates.
func (b *Broadcaster) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[broadcast] upgrade failed: %v", err)
		return
	}

	v := &Viewer{
		conn: conn,
		send: make(chan []byte, 256),
		id:   uuid.New().String()[:8],
	}

	b.addViewer(v)
	metrics.ViewersConnected.Set(float64(b.ViewerCount()))
	go b.sendInitialSnapshots(v)

	go b.writePump(v)
	b.readPump(v)
}

// readPump only services ping/pong; all other inbound frames are ignored
// (spec.md §4.6: "all other inbound frames from viewers are ignored").
func (b *Broadcaster) readPump(v *Viewer) {
	defer func() {
		b.removeViewer(v)
		v.conn.Close()
	}()

	v.conn.SetReadLimit(maxMessageSize)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := v.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			b.sendDirect(v, map[string]string{"type": "pong"})
		}
	}
}

func (b *Broadcaster) sendDirect(v *Viewer, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	b.sendOrDrop(v, payload)
}

func (b *Broadcaster) writePump(v *Viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case message, ok := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ViewerCount reports the number of connected viewer sockets.
func (b *Broadcaster) ViewerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.viewers)
}
