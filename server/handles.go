package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/tern/pkg/bytecode"
)

// compiled is a server-side reference to a successfully compiled image.
type compiled struct {
	id       string
	request  CompileRequest
	data     []byte
	image    *bytecode.Image
	created  time.Time
	lastUsed time.Time
}

// HandleStore maps opaque ids to compiled images.
type HandleStore struct {
	mu      sync.Mutex
	handles map[string]*compiled
}

// NewHandleStore creates an empty handle store.
func NewHandleStore() *HandleStore {
	return &HandleStore{handles: make(map[string]*compiled)}
}

// Create registers an image and returns its handle id.
func (s *HandleStore) Create(req CompileRequest, data []byte, img *bytecode.Image) string {
	id := uuid.NewString()
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[id] = &compiled{
		id:       id,
		request:  req,
		data:     data,
		image:    img,
		created:  now,
		lastUsed: now,
	}
	return id
}

// Lookup returns the image for a handle and marks it used.
func (s *HandleStore) Lookup(id string) (*compiled, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[id]
	if !ok {
		return nil, false
	}
	h.lastUsed = time.Now()
	return h, true
}

// Release removes a handle, reporting whether it existed.
func (s *HandleStore) Release(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.handles[id]
	delete(s.handles, id)
	return ok
}

// Len returns the number of live handles.
func (s *HandleStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// Sweep removes handles that haven't been accessed within the TTL.
func (s *HandleStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, h := range s.handles {
		if h.lastUsed.Before(cutoff) {
			delete(s.handles, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debugf("swept %d idle handles", removed)
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *HandleStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
