package stream

import (
	"context"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

const channelPattern = "tracking:*:broadcast"

// Hub fans tracker events out to websocket watchers of a vehicle. With Redis
// configured, events go through pub/sub so every API instance sees them.
type Hub struct {
	redis   *redis.Client
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	pubsub  *redis.PubSub
	done    chan struct{}
}

type Client struct {
	VehicleID string
	Send      chan []byte
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		clients: map[string]map[*Client]struct{}{},
	}
	if redisClient == nil {
		return h
	}

	ctx := context.Background()
	pubsub := redisClient.PSubscribe(ctx, channelPattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Printf("redis subscribe error, broadcasting locally: %v", err)
		_ = pubsub.Close()
		return h
	}

	h.redis = redisClient
	h.pubsub = pubsub
	h.done = make(chan struct{})
	go h.subscribeRedis()
	return h
}

func (h *Hub) Register(vehicleID string) *Client {
	client := &Client{
		VehicleID: vehicleID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[vehicleID] == nil {
		h.clients[vehicleID] = map[*Client]struct{}{}
	}
	h.clients[vehicleID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	vehicleClients := h.clients[client.VehicleID]
	if _, ok := vehicleClients[client]; !ok {
		return
	}
	delete(vehicleClients, client)
	if len(vehicleClients) == 0 {
		delete(h.clients, client.VehicleID)
	}
	close(client.Send)
}

// Broadcast publishes to Redis when available and falls back to local
// delivery when publishing fails.
func (h *Hub) Broadcast(vehicleID string, payload []byte) {
	if h.redis != nil {
		err := h.redis.Publish(context.Background(), redisChannel(vehicleID), payload).Err()
		if err == nil {
			return
		}
		log.Printf("redis publish error: %v", err)
	}
	h.deliver(vehicleID, payload)
}

func (h *Hub) deliver(vehicleID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[vehicleID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	defer close(h.done)

	for msg := range h.pubsub.Channel() {
		vehicleID := vehicleIDFromChannel(msg.Channel)
		if vehicleID == "" {
			continue
		}
		h.deliver(vehicleID, []byte(msg.Payload))
	}
}

// Close stops the Redis subscription and disconnects every watcher.
func (h *Hub) Close() {
	if h.pubsub != nil {
		_ = h.pubsub.Close()
		<-h.done
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for vehicleID, vehicleClients := range h.clients {
		for client := range vehicleClients {
			close(client.Send)
		}
		delete(h.clients, vehicleID)
	}
}

func redisChannel(vehicleID string) string {
	return "tracking:" + vehicleID + ":broadcast"
}

func vehicleIDFromChannel(ch string) string {
	// tracking:{vehicle}:broadcast
	const prefix = "tracking:"
	const suffix = ":broadcast"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
