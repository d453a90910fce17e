package network

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const defaultReplayWindow = 30 * time.Second

// replayFilter rejects identical submissions seen within a time window.
// The wallet seqno makes replays fail anyway; this keeps them off the ledger.
type replayFilter struct {
	mu     sync.Mutex
	seen   map[[32]byte]time.Time
	window time.Duration
	sweep  time.Time // sweep is when expired entries were last dropped
	now    func() time.Time
}

func newReplayFilter(window time.Duration) *replayFilter {
	if window <= 0 {
		window = defaultReplayWindow
	}

	return &replayFilter{
		seen:   make(map[[32]byte]time.Time),
		window: window,
		now:    time.Now,
	}
}

// fresh records data and reports whether it was not seen within the window.
func (f *replayFilter) fresh(data []byte) bool {
	h := blake3.Sum256(data)

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()

	if now.Sub(f.sweep) >= f.window {
		for k, at := range f.seen {
			if now.Sub(at) >= f.window {
				delete(f.seen, k)
			}
		}
		f.sweep = now
	}

	if at, ok := f.seen[h]; ok && now.Sub(at) < f.window {
		return false
	}

	f.seen[h] = now

	return true
}

// forget drops data so an identical retry is accepted.
func (f *replayFilter) forget(data []byte) {
	h := blake3.Sum256(data)

	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.seen, h)
}

// size returns the number of tracked submissions.
func (f *replayFilter) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.seen)
}
