// Package runtime plays the host-runtime role around the plugin layer: it
// owns configured plugin pipelines (engines), negotiates formats, batches
// incoming requests and drives execution on a stream.
package runtime

// Stream is an ordered, asynchronous command queue standing in for a GPU
// execution stream. Submit enqueues work and returns immediately; jobs run
// one at a time in submission order on a dedicated goroutine.
type Stream struct {
	jobs chan func()
	done chan struct{}
}

// NewStream starts the stream's worker goroutine.
func NewStream() *Stream {
	s := &Stream{
		jobs: make(chan func(), 256),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Stream) loop() {
	defer close(s.done)
	for fn := range s.jobs {
		fn()
	}
}

// Submit enqueues fn. It blocks only when the command queue is full.
func (s *Stream) Submit(fn func()) {
	s.jobs <- fn
}

// Synchronize blocks until every job submitted before it has run.
func (s *Stream) Synchronize() {
	barrier := make(chan struct{})
	s.jobs <- func() { close(barrier) }
	<-barrier
}

// Close drains the queue and stops the worker. The stream must not be
// used afterwards.
func (s *Stream) Close() {
	close(s.jobs)
	<-s.done
}
