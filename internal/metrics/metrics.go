package metrics

import "sync"

// Event names recorded by the relay. Exposed via /metrics as labels on a
// single counter family.
const (
	EventJoin        = "join"
	EventLeave       = "leave"
	EventRoomCreated = "room_created"
	EventRoomDeleted = "room_deleted"
	EventRoomReaped  = "room_reaped"
	EventRelayed     = "message_relayed"
	EventRateLimited = "rate_limited"
	EventSendFailed  = "send_failed"
	EventBadRequest  = "bad_request"
	EventAuthFailed  = "auth_failed"
	EventRoomFull    = "room_full"
	EventJoinFailed  = "join_failed"
)

// Metrics is a minimal, concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
