package runtime

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Broadcaster pushes runtime state to connected dashboard clients via
// WebSocket.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
	log     *logrus.Entry
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[*websocket.Conn]bool),
		log:     logrus.WithField("component", "broadcaster"),
	}
}

// HandleWS is the WebSocket upgrade handler for /ws.
func (b *Broadcaster) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	b.mu.Lock()
	b.clients[conn] = true
	total := len(b.clients)
	b.mu.Unlock()

	b.log.WithField("clients", total).Debug("dashboard client connected")

	// Read loop (to detect disconnect)
	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.clients, conn)
			b.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// RuntimeState is the JSON payload pushed to dashboard clients.
type RuntimeState struct {
	Engine        string             `json:"engine"`
	State         string             `json:"state"`
	DataType      string             `json:"data_type"`
	Format        string             `json:"format"`
	Plugins       []StageDescription `json:"plugins"`
	QueueDepth    int                `json:"queue_depth"`
	TotalBatches  int64              `json:"total_batches"`
	TotalRequests int64              `json:"total_requests"`
	LastBatchSize int32              `json:"last_batch_size"`
	AvgLatencyMs  int64              `json:"avg_latency_ms"`
}

// Broadcast sends the runtime state to all connected WebSocket clients.
func (b *Broadcaster) Broadcast(state *RuntimeState) {
	data, err := json.Marshal(state)
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for conn := range b.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(b.clients, conn)
		}
	}
}
