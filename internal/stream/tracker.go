package stream

import "sync"

// ConnectionStats is the admin-visible view of live stream connections.
type ConnectionStats struct {
	Type      string         `json:"type,omitempty"`
	Total     int            `json:"total"`
	ByKey     map[string]int `json:"byKey"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// ConnectionTracker counts live stream sessions per key. In-memory only;
// counters reset on process restart.
type ConnectionTracker struct {
	mu    sync.Mutex
	byKey map[string]int
	total int
}

func NewConnectionTracker() *ConnectionTracker {
	return &ConnectionTracker{byKey: make(map[string]int)}
}

func (t *ConnectionTracker) Connect(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byKey[key]++
	t.total++
}

// Disconnect decrements the key's counter, flooring at zero so a stray
// double-disconnect can never drive counts negative.
func (t *ConnectionTracker) Disconnect(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.byKey[key] > 0 {
		t.byKey[key]--
		t.total--
	}
	if t.byKey[key] == 0 {
		delete(t.byKey, key)
	}
}

func (t *ConnectionTracker) Stats() ConnectionStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	byKey := make(map[string]int, len(t.byKey))
	for key, count := range t.byKey {
		byKey[key] = count
	}
	return ConnectionStats{Total: t.total, ByKey: byKey}
}
