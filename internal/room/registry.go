// Package room holds the authoritative in-memory registry of rooms and their
// members. All mutation goes through Registry's operations, which share a
// single mutex; room counts are small and critical sections are brief, so
// per-room locking would buy nothing.
package room

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrRoomFull is an expected, frequent outcome of Join, not an exceptional
// condition; callers branch on it rather than treating it as a failure.
var ErrRoomFull = errors.New("room full")

// MemberID is an opaque handle issued at accept time. It decouples registry
// identity from the transport connection object: the registry never holds a
// websocket type, and a handle stays valid as a map key even while the
// underlying connection is being torn down.
type MemberID string

func NewMemberID() MemberID {
	return MemberID(uuid.NewString())
}

// Peer is the registry's view of a member's connection: enough to deliver a
// frame and to force a close during idle eviction.
type Peer interface {
	Send(data []byte) error
	Close(code int, reason string) error
}

// Member is one connection's membership row.
type Member struct {
	ID       MemberID
	ClientID string
	// Subject is the verified token subject. The relay currently announces
	// ClientID to peers without checking it against Subject; keeping the
	// subject here makes that binding enforceable later without a protocol
	// change.
	Subject string
	Peer    Peer
}

type roomState struct {
	members    map[MemberID]Member
	lastActive time.Time
}

// Evicted describes one room removed by Sweep, with the membership the caller
// must close out-of-band.
type Evicted struct {
	Code    string
	Members []Member
}

// Stats is a point-in-time snapshot of registry occupancy.
type Stats struct {
	Rooms   int
	Members int
}

// Registry owns all room and membership state.
//
// A room exists only while it has members: it is created lazily by the first
// Join and deleted in the same critical section as the Leave or Sweep that
// empties it.
type Registry struct {
	capacity int
	now      func() time.Time

	mu       sync.Mutex
	rooms    map[string]*roomState
	sessions map[MemberID]string
}

func NewRegistry(capacity int) *Registry {
	return &Registry{
		capacity: capacity,
		now:      time.Now,
		rooms:    make(map[string]*roomState),
		sessions: make(map[MemberID]string),
	}
}

// Join inserts m into the room identified by code, creating the room if
// absent. It returns ErrRoomFull when membership is already at capacity.
// The capacity check and the insert happen under one lock, so two concurrent
// joiners can never both slip past the limit.
func (r *Registry) Join(code string, m Member) (created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		rm = &roomState{members: make(map[MemberID]Member)}
		r.rooms[code] = rm
		created = true
	}

	if len(rm.members) >= r.capacity {
		if created {
			// Unreachable with capacity > 0, but keep the registry consistent.
			delete(r.rooms, code)
		}
		return false, ErrRoomFull
	}

	rm.members[m.ID] = m
	rm.lastActive = r.now()
	r.sessions[m.ID] = code
	return created, nil
}

// Leave removes the member from its room. ok is false when the member has no
// session (already removed, e.g. by Sweep); callers rely on that for
// exactly-once teardown. When the room becomes empty it is deleted in the
// same critical section, so a concurrent Join either sees the member still
// present or no room at all.
func (r *Registry) Leave(id MemberID) (code string, wasLast bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok = r.sessions[id]
	if !ok {
		return "", false, false
	}
	delete(r.sessions, id)

	rm := r.rooms[code]
	if rm == nil {
		return code, true, true
	}
	delete(rm.members, id)
	if len(rm.members) == 0 {
		delete(r.rooms, code)
		return code, true, true
	}
	rm.lastActive = r.now()
	return code, false, true
}

// BroadcastTargets returns a snapshot of the room's members other than
// excluding. A member leaving mid-broadcast may or may not receive that
// particular message; the snapshot is never retried or repaired.
func (r *Registry) BroadcastTargets(code string, excluding MemberID) []Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.rooms[code]
	if rm == nil {
		return nil
	}
	targets := make([]Member, 0, len(rm.members))
	for id, m := range rm.members {
		if id == excluding {
			continue
		}
		targets = append(targets, m)
	}
	return targets
}

// Touch stamps the room's activity time. Called on every relayed message.
func (r *Registry) Touch(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm := r.rooms[code]; rm != nil {
		rm.lastActive = r.now()
	}
}

// Sweep atomically removes every room whose last activity is older than ttl,
// along with the session rows of its members, and returns the evicted
// membership for the caller to close. A member's later Leave (triggered by
// its connection observing the close) finds no session and reports a no-op.
func (r *Registry) Sweep(ttl time.Duration) []Evicted {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []Evicted
	for code, rm := range r.rooms {
		if now.Sub(rm.lastActive) <= ttl {
			continue
		}
		members := make([]Member, 0, len(rm.members))
		for id, m := range rm.members {
			members = append(members, m)
			delete(r.sessions, id)
		}
		delete(r.rooms, code)
		evicted = append(evicted, Evicted{Code: code, Members: members})
	}
	return evicted
}

// Stats reports current room and member counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Rooms: len(r.rooms), Members: len(r.sessions)}
}
