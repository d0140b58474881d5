package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/virgolamobile/observatory/internal/metrics"
	"github.com/virgolamobile/observatory/internal/state"
)

// Connect-time readiness wait: a client arriving before the background
// readers have populated state gets init_pending instead of a misleading
// empty init, and may retry with an init_request message.
const (
	readyWaitMax  = 3 * time.Second
	readyWaitStep = 250 * time.Millisecond
	sendQueueCap  = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type pushEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type clientMessage struct {
	Type string `json:"type"`
}

type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan pushEnvelope
}

// Hub fans state pushes out to connected websocket subscribers. It
// implements state.Notifier so background tasks can publish through it
// without knowing about connections.
type Hub struct {
	store   *state.Store
	metrics *metrics.Set
	log     *zap.Logger

	readyWait time.Duration

	mu   sync.Mutex
	subs map[string]*subscriber
}

// NewHub builds an empty hub over the given store.
func NewHub(store *state.Store, set *metrics.Set, log *zap.Logger) *Hub {
	return &Hub{
		store:     store,
		metrics:   set,
		log:       log.Named("hub"),
		readyWait: readyWaitMax,
		subs:      make(map[string]*subscriber),
	}
}

// Init broadcasts the full snapshot list to every subscriber.
func (h *Hub) Init(snapshots []state.Snapshot) {
	h.broadcast(pushEnvelope{Type: "init", Payload: snapshots})
}

// Update broadcasts one changed snapshot.
func (h *Hub) Update(snapshot state.Snapshot) {
	h.broadcast(pushEnvelope{Type: "update", Payload: snapshot})
}

func (h *Hub) broadcast(env pushEnvelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		h.offer(sub, env)
	}
}

// offer enqueues without blocking; a subscriber that cannot keep up gets
// disconnected rather than stalling the broadcast. Caller holds h.mu.
func (h *Hub) offer(sub *subscriber, env pushEnvelope) {
	select {
	case sub.send <- env:
	default:
		h.log.Warn("dropping slow subscriber", zap.String("subscriber", sub.id))
		delete(h.subs, sub.id)
		close(sub.send)
	}
}

func (h *Hub) register(conn *websocket.Conn) *subscriber {
	sub := &subscriber{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan pushEnvelope, sendQueueCap),
	}
	h.mu.Lock()
	h.subs[sub.id] = sub
	count := len(h.subs)
	h.mu.Unlock()
	h.metrics.Subscribers.Set(float64(count))
	h.log.Info("subscriber connected", zap.String("subscriber", sub.id))
	return sub
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	if _, present := h.subs[sub.id]; present {
		delete(h.subs, sub.id)
		close(sub.send)
	}
	count := len(h.subs)
	h.mu.Unlock()
	h.metrics.Subscribers.Set(float64(count))
	h.log.Info("subscriber disconnected", zap.String("subscriber", sub.id))
}

// SubscriberCount reports the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// HandleWS upgrades the request and serves one subscriber: an initial init
// (or init_pending when the readers are still warming up), then pushes until
// the client disconnects. The client may send init_request to retry.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	sub := h.register(conn)
	defer func() {
		h.unregister(sub)
		conn.Close()
	}()

	go h.writeLoop(sub)

	h.sendInit(sub, true)

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", zap.String("subscriber", sub.id), zap.Error(err))
			}
			return
		}
		if msg.Type == "init_request" {
			h.sendInit(sub, false)
		}
	}
}

// sendInit pushes the current snapshot list to one subscriber, optionally
// waiting a short grace period for readiness first.
func (h *Hub) sendInit(sub *subscriber, wait bool) {
	if wait {
		deadline := time.Now().Add(h.readyWait)
		for !h.store.Ready() && time.Now().Before(deadline) {
			time.Sleep(readyWaitStep)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, present := h.subs[sub.id]; !present {
		return
	}
	if !h.store.Ready() {
		h.offer(sub, pushEnvelope{Type: "init_pending", Payload: map[string]string{"msg": "server_not_ready"}})
		return
	}
	h.offer(sub, pushEnvelope{Type: "init", Payload: h.store.ListFiltered()})
}

func (h *Hub) writeLoop(sub *subscriber) {
	for env := range sub.send {
		if err := sub.conn.WriteJSON(env); err != nil {
			h.log.Debug("websocket write error", zap.String("subscriber", sub.id), zap.Error(err))
			sub.conn.Close()
			return
		}
	}
}
