package runtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// BatcherConfig holds tunable batching parameters.
type BatcherConfig struct {
	MaxBatchSize int
	MaxWaitTime  time.Duration
	MinBatchSize int
}

// Batcher is the adaptive micro-batching loop. It collects requests from
// the priority queue and flushes them through the engine when the batch
// is full, the timeout fires, or queue pressure changes the wait.
type Batcher struct {
	cfg     BatcherConfig
	queue   *PriorityQueue
	engine  *Engine
	metrics *Metrics
	notify  chan struct{} // signals new request arrival
	stopCh  chan struct{}
	wg      sync.WaitGroup
	log     *logrus.Entry

	// Adaptive state
	mu          sync.RWMutex
	currentWait time.Duration

	// Snapshot counters read by the state sampler
	TotalBatches  atomic.Int64
	TotalRequests atomic.Int64
	LastBatchSize atomic.Int32
	AvgLatencyMs  atomic.Int64 // exponential moving average
}

func NewBatcher(cfg BatcherConfig, queue *PriorityQueue, engine *Engine, metrics *Metrics) *Batcher {
	return &Batcher{
		cfg:         cfg,
		queue:       queue,
		engine:      engine,
		metrics:     metrics,
		notify:      make(chan struct{}, 256),
		stopCh:      make(chan struct{}),
		currentWait: cfg.MaxWaitTime,
		log:         logrus.WithField("engine", engine.Name()),
	}
}

// Start begins the batching loop in a background goroutine.
func (b *Batcher) Start() {
	b.wg.Add(1)
	go b.loop()
	b.log.WithFields(logrus.Fields{
		"max_batch": b.cfg.MaxBatchSize,
		"max_wait":  b.cfg.MaxWaitTime,
	}).Info("batcher started")
}

// Stop gracefully shuts down the batcher, draining queued requests.
func (b *Batcher) Stop() {
	close(b.stopCh)
	b.wg.Wait()
}

// Signal notifies the batcher that a new request has arrived.
func (b *Batcher) Signal() {
	select {
	case b.notify <- struct{}{}:
	default:
		// Non-blocking — batcher will pick it up on next iteration
	}
}

func (b *Batcher) loop() {
	defer b.wg.Done()

	for {
		// Wait for at least one request
		select {
		case <-b.stopCh:
			b.drainRemaining()
			return
		case <-b.notify:
		}

		batch := b.collectBatch()
		if len(batch) == 0 {
			continue
		}

		b.executeBatch(batch)
	}
}

func (b *Batcher) collectBatch() []*PendingRequest {
	b.mu.RLock()
	wait := b.currentWait
	b.mu.RUnlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		// Flush if queue has enough for a full batch
		if b.queue.Depth() >= b.cfg.MaxBatchSize {
			return b.queue.DequeueN(b.cfg.MaxBatchSize)
		}

		select {
		case <-b.stopCh:
			// Drain what we have on shutdown
			return b.queue.DequeueN(b.cfg.MaxBatchSize)

		case <-timer.C:
			// Timeout — flush whatever we have
			return b.queue.DequeueN(b.cfg.MaxBatchSize)

		case <-b.notify:
			if b.queue.Depth() >= b.cfg.MaxBatchSize {
				return b.queue.DequeueN(b.cfg.MaxBatchSize)
			}
			// Otherwise keep waiting for more
			continue
		}
	}
}

func (b *Batcher) executeBatch(batch []*PendingRequest) {
	batchSize := len(batch)
	start := time.Now()

	// Pack request payloads into one batch-first input buffer. Short
	// payloads are zero-padded to the frame size.
	inFrame := b.engine.InputDims().Volume() * b.engine.DataType().Size()
	input := make([]byte, batchSize*inFrame)
	for i, r := range batch {
		copy(input[i*inFrame:(i+1)*inFrame], r.Req.Payload)
	}

	output, err := b.engine.Infer(batchSize, input)
	elapsed := time.Since(start)

	if err != nil {
		// Failed batches only count as errors, never as executed work.
		b.metrics.InferErrorsTotal.Inc()
		b.log.WithError(err).WithField("size", batchSize).Warn("batch failed")
		for _, r := range batch {
			r.ErrCh <- err
		}
		return
	}

	b.TotalBatches.Add(1)
	b.TotalRequests.Add(int64(batchSize))
	b.LastBatchSize.Store(int32(batchSize))
	b.metrics.BatchesTotal.Inc()
	b.metrics.RequestsTotal.Add(float64(batchSize))
	b.metrics.BatchSize.Observe(float64(batchSize))
	b.metrics.BatchLatency.Observe(elapsed.Seconds())

	// Exponential moving average of latency
	latencyMs := elapsed.Milliseconds()
	oldAvg := b.AvgLatencyMs.Load()
	if oldAvg == 0 {
		b.AvgLatencyMs.Store(latencyMs)
	} else {
		// EMA with alpha=0.3
		newAvg := int64(float64(oldAvg)*0.7 + float64(latencyMs)*0.3)
		b.AvgLatencyMs.Store(newAvg)
	}

	b.log.WithFields(logrus.Fields{
		"size":    batchSize,
		"latency": elapsed,
	}).Debug("batch executed")

	// Slice the batch output back into per-request responses
	outFrame := b.engine.OutputDims().Volume() * b.engine.DataType().Size()
	for i, r := range batch {
		queueWait := start.Sub(r.EnqueueAt)
		out := make([]byte, outFrame)
		copy(out, output[i*outFrame:(i+1)*outFrame])
		r.DoneCh <- &Response{
			RequestID:   r.Req.ID,
			Output:      out,
			LatencyNs:   elapsed.Nanoseconds(),
			BatchSize:   int32(batchSize),
			QueueWaitMs: int32(queueWait.Milliseconds()),
			Engine:      b.engine.Name(),
		}
	}

	b.adaptWait()
}

func (b *Batcher) adaptWait() {
	depth := b.queue.Depth()
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case depth > 100:
		// High pressure — flush faster
		b.currentWait = 20 * time.Millisecond
	case depth < 10:
		// Low pressure — wait longer for bigger batches
		b.currentWait = 80 * time.Millisecond
	default:
		b.currentWait = b.cfg.MaxWaitTime
	}
}

func (b *Batcher) drainRemaining() {
	for {
		batch := b.queue.DequeueN(b.cfg.MaxBatchSize)
		if len(batch) == 0 {
			return
		}
		b.executeBatch(batch)
	}
}
