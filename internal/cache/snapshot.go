package cache

import "time"

// Item is the persisted form of one cached response.
type Item struct {
	Key       string    `json:"key"`
	Body      []byte    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Export returns fresh entries from least to most recently used.
func (s *Store) Export() []Item {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.lru.Keys()
	out := make([]Item, 0, len(keys))
	for _, k := range keys {
		e, ok := s.lru.Peek(k)
		if !ok || now.Sub(e.createdAt) >= s.expiry {
			continue
		}
		out = append(out, Item{Key: k, Body: e.body, CreatedAt: e.createdAt})
	}
	return out
}

// Import loads items in order, skipping expired ones. Capacity is enforced
// by the LRU, so the most recent items win. It returns how many were loaded.
func (s *Store) Import(items []Item) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for _, it := range items {
		if it.Key == "" || it.Body == nil || now.Sub(it.CreatedAt) >= s.expiry {
			continue
		}
		s.lru.Add(it.Key, &entry{body: it.Body, createdAt: it.CreatedAt})
		loaded++
	}
	return loaded
}
