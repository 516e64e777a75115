package bus

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/hearthd/voice-pipeline/internal/observability"
)

// frame is one routed message inside the hub.
type frame struct {
	topic string
	data  []byte
}

// Hub is the bundled Broker: an in-process fanout that relays published
// events to connected websocket display clients. Routing runs on a single
// goroutine, so delivery within one topic keeps publish order. Slow
// clients are dropped rather than allowed to stall the pipeline.
type Hub struct {
	logger zerolog.Logger

	clients    map[*Client]bool
	publish    chan frame
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
}

// NewHub creates a hub. Call Run on its own goroutine before publishing.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		publish:    make(chan frame, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run is the hub's routing loop. It returns when done is closed.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			observability.SetBusClients(count)
			h.logger.Info().Int("clients", count).Msg("Subscriber connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			observability.SetBusClients(count)
			h.logger.Info().Int("clients", count).Msg("Subscriber disconnected")

		case f := <-h.publish:
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(f.topic) {
					continue
				}
				select {
				case client.send <- f.data:
				default:
					// Client buffer full: drop the client, not the event
					// stream of everyone else.
					delete(h.clients, client)
					close(client.send)
					h.logger.Warn().Msg("Dropped slow subscriber")
				}
			}
			h.mu.Unlock()

		case <-done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Publish implements Broker. The event is queued for fanout; a full hub
// queue drops the event, keeping the audio path non-blocking.
func (h *Hub) Publish(topic string, payload []byte) error {
	select {
	case h.publish <- frame{topic: topic, data: payload}:
		return nil
	default:
		h.logger.Warn().Str("topic", topic).Msg("Hub queue full, dropping event")
		return nil
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
