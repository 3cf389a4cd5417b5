package stream

import "sync"

// IDs allocates session ids per channel key on the calling side. Ids start at 0, increase by one
// and are never reused during the allocator's lifetime. The zero value is ready to use.
type IDs struct {
	mu   sync.Mutex
	next map[string]uint64
}

// Next returns the next id for key.
func (i *IDs) Next(key string) uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.next == nil {
		i.next = make(map[string]uint64)
	}

	id := i.next[key]
	i.next[key] = id + 1

	return id
}
