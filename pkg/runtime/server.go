package runtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server exposes the runtime over HTTP: inference, engine description,
// metrics, health, and the dashboard WebSocket.
type Server struct {
	engine      *Engine
	queue       *PriorityQueue
	batcher     *Batcher
	metrics     *Metrics
	broadcaster *Broadcaster
	log         *logrus.Entry
}

func NewServer(engine *Engine, queue *PriorityQueue, batcher *Batcher, metrics *Metrics, broadcaster *Broadcaster) *Server {
	return &Server{
		engine:      engine,
		queue:       queue,
		batcher:     batcher,
		metrics:     metrics,
		broadcaster: broadcaster,
		log:         logrus.WithField("component", "server"),
	}
}

// Routes builds the HTTP route table.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/infer", s.handleInfer).Methods(http.MethodPost)
	r.HandleFunc("/v1/engine", s.handleEngine).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.broadcaster.HandleWS)
	return r
}

type inferRequest struct {
	ID       string `json:"id,omitempty"`
	Priority int32  `json:"priority"`
	Payload  []byte `json:"payload"` // base64 in JSON
}

type inferResponse struct {
	ID          string `json:"id"`
	Output      []byte `json:"output"`
	Engine      string `json:"engine"`
	BatchSize   int32  `json:"batch_size"`
	LatencyNs   int64  `json:"latency_ns"`
	QueueWaitMs int32  `json:"queue_wait_ms"`
}

// handleInfer enqueues one request into the priority queue and blocks
// until the batcher returns its slice of a batch result.
func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	var req inferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	pending := &PendingRequest{
		Req: &Request{
			ID:        req.ID,
			Priority:  req.Priority,
			Payload:   req.Payload,
			Timestamp: time.Now().UnixNano(),
		},
		DoneCh:    make(chan *Response, 1),
		ErrCh:     make(chan error, 1),
		EnqueueAt: time.Now(),
	}

	s.queue.Enqueue(pending)
	s.batcher.Signal()

	select {
	case resp := <-pending.DoneCh:
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(inferResponse{
			ID:          resp.RequestID,
			Output:      resp.Output,
			Engine:      resp.Engine,
			BatchSize:   resp.BatchSize,
			LatencyNs:   resp.LatencyNs,
			QueueWaitMs: resp.QueueWaitMs,
		})
	case err := <-pending.ErrCh:
		s.log.WithError(err).WithField("request", req.ID).Error("inference failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	case <-r.Context().Done():
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
	}
}

// handleEngine describes the loaded pipeline.
func (s *Server) handleEngine(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"name":           s.engine.Name(),
		"state":          s.engine.State().String(),
		"data_type":      s.engine.DataType().String(),
		"format":         s.engine.Format().String(),
		"max_batch_size": s.engine.MaxBatchSize(),
		"input_dims":     s.engine.InputDims().String(),
		"output_dims":    s.engine.OutputDims().String(),
		"stages":         s.engine.Describe(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
