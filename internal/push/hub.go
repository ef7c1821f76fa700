package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"campus-chat/internal/apperr"
	"campus-chat/internal/metrics"
)

// RedisChannel carries events between instances sharing one Redis.
const RedisChannel = "push:events"

type Hub struct {
	id string

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}

	Register   chan *Client
	Unregister chan *Client

	redis *redis.Client
	log   zerolog.Logger

	// done is closed when Run returns.
	done chan struct{}

	onConnect    func(userID string)
	onDisconnect func(userID string)

	presenceMu   sync.Mutex
	presenceQ    []presenceChange
	presenceWake chan struct{}
}

type presenceChange struct {
	userID string
	online bool
}

var _ Dispatcher = (*Hub)(nil)

// NewHub returns a hub; redisClient may be nil for a single instance.
func NewHub(redisClient *redis.Client, log zerolog.Logger) *Hub {
	return &Hub{
		id:           uuid.NewString(),
		clients:      make(map[string]map[*Client]struct{}),
		Register:     make(chan *Client),
		Unregister:   make(chan *Client),
		done:         make(chan struct{}),
		redis:        redisClient,
		log:          log.With().Str("component", "push").Logger(),
		presenceWake: make(chan struct{}, 1),
	}
}

// OnPresence installs callbacks fired on a user's first connection and
// after their last one closes. They run off the Run loop, in order. Call
// before Run.
func (h *Hub) OnPresence(connect, disconnect func(userID string)) {
	h.onConnect = connect
	h.onDisconnect = disconnect
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	go h.presenceLoop(ctx)
	for {
		select {
		case c := <-h.Register:
			h.mu.Lock()
			set, ok := h.clients[c.UserID()]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[c.UserID()] = set
			}
			set[c] = struct{}{}
			first := len(set) == 1
			h.mu.Unlock()

			metrics.LiveConnections.Inc()
			if first {
				h.queuePresence(c.UserID(), true)
			}

		case c := <-h.Unregister:
			h.mu.Lock()
			set, ok := h.clients[c.UserID()]
			_, known := set[c]
			last := false
			if ok && known {
				delete(set, c)
				close(c.send)
				if len(set) == 0 {
					delete(h.clients, c.UserID())
					last = true
				}
			}
			h.mu.Unlock()

			if known {
				metrics.LiveConnections.Dec()
			}
			if last {
				h.queuePresence(c.UserID(), false)
			}

		case <-ctx.Done():
			h.mu.Lock()
			for userID, set := range h.clients {
				for c := range set {
					close(c.send)
					metrics.LiveConnections.Dec()
				}
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			return
		}
	}
}

// register hands c to the Run loop. It reports false once the hub has stopped.
func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

// queuePresence records a first/last connection change. Callbacks run on
// their own goroutine in order, so a slow registry never stalls Run.
func (h *Hub) queuePresence(userID string, online bool) {
	if h.onConnect == nil && h.onDisconnect == nil {
		return
	}
	h.presenceMu.Lock()
	h.presenceQ = append(h.presenceQ, presenceChange{userID: userID, online: online})
	h.presenceMu.Unlock()
	select {
	case h.presenceWake <- struct{}{}:
	default:
	}
}

func (h *Hub) presenceLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.presenceWake:
		}
		for {
			h.presenceMu.Lock()
			if len(h.presenceQ) == 0 {
				h.presenceMu.Unlock()
				break
			}
			ch := h.presenceQ[0]
			h.presenceQ = h.presenceQ[1:]
			h.presenceMu.Unlock()

			switch {
			case ch.online && h.onConnect != nil:
				h.onConnect(ch.userID)
			case !ch.online && h.onDisconnect != nil:
				h.onDisconnect(ch.userID)
			}
		}
	}
}

func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Users lists users with at least one local connection.
func (h *Hub) Users() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.clients))
	for id := range h.clients {
		out = append(out, id)
	}
	return out
}

// deliver enqueues data on every local connection of userID without blocking.
func (h *Hub) deliver(userID string, data []byte) (sent, dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- data:
			sent++
		default:
			dropped++
		}
	}
	return sent, dropped
}

func (h *Hub) deliverAll(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.clients {
		for c := range set {
			select {
			case c.send <- data:
			default:
			}
		}
	}
}

func (h *Hub) Push(ctx context.Context, userID string, ev Event) (err error) {
	defer func() { metrics.PushResult(string(ev.Channel), err) }()

	data, err := json.Marshal(ev)
	if err != nil {
		return apperr.Internal("encode event", err)
	}

	sent, dropped := h.deliver(userID, data)
	if h.redis != nil {
		if perr := h.publish(ctx, userID, data); perr != nil {
			return apperr.Delivery("publish event", perr)
		}
		return nil
	}
	if dropped > 0 && sent == 0 {
		return apperr.Delivery("deliver event", ErrBufferFull)
	}
	if sent == 0 {
		return apperr.Delivery("deliver event", ErrNotConnected)
	}
	return nil
}

func (h *Hub) Broadcast(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return apperr.Internal("encode event", err)
	}
	h.deliverAll(data)
	if h.redis != nil {
		if err := h.publish(ctx, "", data); err != nil {
			return apperr.Delivery("publish event", err)
		}
	}
	return nil
}

// envelope is the Redis wire form. An empty UserID means every user.
type envelope struct {
	Origin string          `json:"origin"`
	UserID string          `json:"userId,omitempty"`
	Event  json.RawMessage `json:"event"`
}

func (h *Hub) publish(ctx context.Context, userID string, data []byte) error {
	raw, err := json.Marshal(envelope{Origin: h.id, UserID: userID, Event: data})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return h.redis.Publish(ctx, RedisChannel, raw).Err()
}

// SubscribeToRedis relays events published by other instances to local
// connections until ctx ends.
func (h *Hub) SubscribeToRedis(ctx context.Context) {
	if h.redis == nil {
		return
	}
	pubsub := h.redis.Subscribe(ctx, RedisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.relay([]byte(msg.Payload))
		}
	}
}

func (h *Hub) relay(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.log.Warn().Err(err).Msg("dropping malformed bridge envelope")
		return
	}
	if env.Origin == h.id {
		return
	}
	if env.UserID == "" {
		h.deliverAll(env.Event)
		return
	}
	h.deliver(env.UserID, env.Event)
}
