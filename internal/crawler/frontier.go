package crawler

import "sync"

// frontier is an unbounded FIFO of crawl entries. Pushers never block;
// poppers block until an entry arrives or the frontier is closed and
// drained.
type frontier struct {
	mu      sync.Mutex
	entries []FrontierEntry
	signal  chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newFrontier() *frontier {
	return &frontier{
		signal: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (f *frontier) push(e FrontierEntry) {
	f.mu.Lock()
	f.entries = append(f.entries, e)
	f.mu.Unlock()
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

func (f *frontier) pop() (FrontierEntry, bool) {
	for {
		f.mu.Lock()
		if len(f.entries) > 0 {
			e := f.entries[0]
			f.entries = f.entries[1:]
			remaining := len(f.entries)
			f.mu.Unlock()
			if remaining > 0 {
				// Wake another popper for the entries still queued.
				select {
				case f.signal <- struct{}{}:
				default:
				}
			}
			return e, true
		}
		f.mu.Unlock()

		select {
		case <-f.signal:
		case <-f.closed:
			f.mu.Lock()
			drained := len(f.entries) == 0
			f.mu.Unlock()
			if drained {
				return FrontierEntry{}, false
			}
		}
	}
}

func (f *frontier) close() {
	f.once.Do(func() {
		close(f.closed)
	})
}
