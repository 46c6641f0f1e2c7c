package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/apnisec/backend/internal/db"
	"github.com/apnisec/backend/internal/metrics"
)

// Event types pushed to connected dashboards.
const (
	EventIssueCreated = "issue_created"
	EventIssueUpdated = "issue_updated"
	EventIssueDeleted = "issue_deleted"
)

// Message is one issue event routed to a single user's connections.
type Message struct {
	Type   string    `json:"type"`
	Issue  *db.Issue `json:"issue"`
	UserID uuid.UUID `json:"-"` // routing only, never sent to the client
}

// Hub maintains the set of active clients per user and broadcasts issue
// events to them. Delivery is best-effort: a client that cannot keep up is
// disconnected.
type Hub struct {
	clients map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.userID] == nil {
				h.clients[client.userID] = make(map[*Client]bool)
			}
			h.clients[client.userID][client] = true
			h.mu.Unlock()
			metrics.Default().IncWSConnections()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.userID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.clients, client.userID)
					}
					metrics.Default().DecWSConnections()
				}
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			if clients, ok := h.clients[message.UserID]; ok {
				for client := range clients {
					select {
					case client.send <- message:
					default:
						// Client's buffer is full, close the connection
						close(client.send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast routes an issue event to every connection of the owning user.
// Safe to call from any goroutine.
func (h *Hub) Broadcast(eventType string, issue *db.Issue) {
	h.broadcast <- &Message{Type: eventType, Issue: issue, UserID: issue.UserID}
}

// ClientCount returns the number of connected clients for a user.
func (h *Hub) ClientCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.clients[userID]; ok {
		return len(clients)
	}
	return 0
}

// TotalClients returns the total number of connected clients.
func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	count := 0
	for _, clients := range h.clients {
		count += len(clients)
	}
	return count
}
