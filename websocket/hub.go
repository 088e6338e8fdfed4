package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"saferoute/metrics"
	"saferoute/models"

	"github.com/apex/log"
)

// MessageReportPublished is the broadcast type of newly published reports
const MessageReportPublished = "report_published"

type broadcast struct {
	report models.Report
	data   []byte
}

// Hub manages live feed connections and fans out published reports
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan broadcast
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mutex            sync.RWMutex
	connectedClients int
	broadcasts       int64
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcast, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Join adds a client to the hub. It reports false once Run has returned.
func (h *Hub) Join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Leave removes a client from the hub. It returns immediately once Run has
// returned.
func (h *Hub) Leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.connectedClients = len(h.clients)
	metrics.LiveClients.Set(float64(h.connectedClients))
}

// Run starts the hub's main loop and returns when ctx is done. It must be
// called at most once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.connectedClients = len(h.clients)
			metrics.LiveClients.Set(float64(h.connectedClients))
			h.mutex.Unlock()
			log.Debugf("Live feed client connected. Total clients: %d", h.connectedClients)

		case client := <-h.unregister:
			h.mutex.Lock()
			h.drop(client)
			h.mutex.Unlock()
			log.Debugf("Live feed client disconnected. Total clients: %d", h.connectedClients)

		case msg := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if !client.wants(msg.report) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Slow consumer.
					h.drop(client)
				}
			}
			h.broadcasts++
			h.mutex.Unlock()
		}
	}
}

// BroadcastReport queues a published report for every interested client.
// The call never blocks; when the queue is full the report is dropped.
func (h *Hub) BroadcastReport(report models.Report) {
	data, err := json.Marshal(models.BroadcastMessage{
		Type:      MessageReportPublished,
		Data:      report,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Errorf("Failed to marshal broadcast message: %v", err)
		return
	}

	select {
	case h.broadcast <- broadcast{report: report, data: data}:
	default:
		log.Warnf("Live feed queue full, dropping report %s", report.ID)
	}
}

// GetStats returns the number of connected clients and of broadcasts delivered
func (h *Hub) GetStats() (int, int64) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.connectedClients, h.broadcasts
}
