package runtime

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sampler periodically snapshots the runtime and pushes the state to the
// broadcaster.
type Sampler struct {
	engine      *Engine
	batcher     *Batcher
	queue       *PriorityQueue
	broadcaster *Broadcaster
	interval    time.Duration
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

func NewSampler(engine *Engine, batcher *Batcher, queue *PriorityQueue, broadcaster *Broadcaster, interval time.Duration) *Sampler {
	return &Sampler{
		engine:      engine,
		batcher:     batcher,
		queue:       queue,
		broadcaster: broadcaster,
		interval:    interval,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the sampling loop.
func (s *Sampler) Start() {
	s.wg.Add(1)
	go s.loop()
	logrus.WithField("interval", s.interval).Info("state sampler started")
}

// Stop gracefully shuts down the sampler.
func (s *Sampler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sampler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Do an immediate first sample
	s.broadcaster.Broadcast(s.Sample())

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.broadcaster.Broadcast(s.Sample())
		}
	}
}

// Sample builds one point-in-time runtime state snapshot.
func (s *Sampler) Sample() *RuntimeState {
	return &RuntimeState{
		Engine:        s.engine.Name(),
		State:         s.engine.State().String(),
		DataType:      s.engine.DataType().String(),
		Format:        s.engine.Format().String(),
		Plugins:       s.engine.Describe(),
		QueueDepth:    s.queue.Depth(),
		TotalBatches:  s.batcher.TotalBatches.Load(),
		TotalRequests: s.batcher.TotalRequests.Load(),
		LastBatchSize: s.batcher.LastBatchSize.Load(),
		AvgLatencyMs:  s.batcher.AvgLatencyMs.Load(),
	}
}
