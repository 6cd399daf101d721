package memstore

import (
	"sync"

	"signalement-platform/pkg/docstore"
)

// subscriber delivers queued snapshots in order on its own goroutine, so a
// slow callback never holds the store lock.
type subscriber struct {
	fn      docstore.SnapshotFunc
	mu      sync.Mutex
	cond    *sync.Cond
	queue   [][]docstore.Doc
	stopped bool
	done    chan struct{}
}

func newSubscriber(fn docstore.SnapshotFunc) *subscriber {
	s := &subscriber{fn: fn, done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *subscriber) push(snap []docstore.Doc) {
	s.mu.Lock()
	if !s.stopped {
		s.queue = append(s.queue, snap)
		s.cond.Signal()
	}
	s.mu.Unlock()
}

func (s *subscriber) stop() {
	s.mu.Lock()
	s.stopped = true
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *subscriber) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped {
			s.mu.Unlock()
			return
		}
		snap := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.fn(snap)
	}
}
