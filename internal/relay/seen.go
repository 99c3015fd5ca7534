package relay

// SeenCache is a bounded set of recently observed event ids used purely for
// deduplication under at-least-once delivery from multiple relays. When the
// cache is full the oldest id is evicted. It is owned exclusively by the
// Dispatcher's run loop and is deliberately not goroutine-safe.
type SeenCache struct {
	capacity int
	ids      map[string]struct{}
	ring     []string
	pos      int
	count    int
}

// NewSeenCache creates a cache remembering up to capacity ids.
func NewSeenCache(capacity int) *SeenCache {
	if capacity < 1 {
		capacity = 1
	}
	return &SeenCache{
		capacity: capacity,
		ids:      make(map[string]struct{}, capacity),
		ring:     make([]string, capacity),
	}
}

// Seen reports whether id was already observed and records it if not.
// Inserting into a full cache evicts the oldest remembered id.
func (s *SeenCache) Seen(id string) bool {
	if _, ok := s.ids[id]; ok {
		return true
	}

	if s.count == s.capacity {
		delete(s.ids, s.ring[s.pos])
	} else {
		s.count++
	}
	s.ring[s.pos] = id
	s.pos = (s.pos + 1) % s.capacity
	s.ids[id] = struct{}{}
	return false
}

// Len returns the number of ids currently remembered.
func (s *SeenCache) Len() int {
	return s.count
}
