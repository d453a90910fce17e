package network

import (
	"sync"
	"time"
)

// defaultSnapshotTTL is how long a built snapshot is served before rebuilding.
const defaultSnapshotTTL = 10 * time.Second

// snapshotCache keeps the latest compressed snapshot so concurrent
// bootstrapping peers do not each trigger a full export.
type snapshotCache struct {
	build func() ([]byte, error)
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	current []byte    // compressed snapshot data
	built   time.Time // when current was built
}

func newSnapshotCache(build func() ([]byte, error), ttl time.Duration) *snapshotCache {
	return &snapshotCache{build: build, ttl: ttl, now: time.Now}
}

// get returns the cached snapshot, rebuilding it once it is older than ttl.
func (s *snapshotCache) get() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.now().Sub(s.built) < s.ttl {
		return s.current, nil
	}

	data, err := s.build()
	if err != nil {
		return nil, err
	}

	s.current = data
	s.built = s.now()

	return data, nil
}
