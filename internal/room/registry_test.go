package room

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopPeer struct{}

func (nopPeer) Send(data []byte) error              { return nil }
func (nopPeer) Close(code int, reason string) error { return nil }

func member(clientID string) Member {
	return Member{ID: NewMemberID(), ClientID: clientID, Peer: nopPeer{}}
}

func TestJoinCreatesRoomLazily(t *testing.T) {
	r := NewRegistry(4)
	require.Equal(t, Stats{}, r.Stats())

	created, err := r.Join("ABC", member("a1"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = r.Join("ABC", member("b1"))
	require.NoError(t, err)
	assert.False(t, created)

	assert.Equal(t, Stats{Rooms: 1, Members: 2}, r.Stats())
}

func TestJoinRejectsFifthMember(t *testing.T) {
	r := NewRegistry(4)
	for i := 0; i < 4; i++ {
		_, err := r.Join("ABC", member(fmt.Sprintf("c%d", i)))
		require.NoError(t, err)
	}

	_, err := r.Join("ABC", member("c4"))
	require.ErrorIs(t, err, ErrRoomFull)
	assert.Equal(t, Stats{Rooms: 1, Members: 4}, r.Stats())

	// A different room is unaffected.
	_, err = r.Join("XYZ", member("d0"))
	require.NoError(t, err)
}

func TestConcurrentJoinsNeverExceedCapacity(t *testing.T) {
	const attempts = 32
	r := NewRegistry(4)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted, rejected := 0, 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Join("ABC", member(fmt.Sprintf("c%d", i)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				admitted++
			} else if errors.Is(err, ErrRoomFull) {
				rejected++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, admitted)
	assert.Equal(t, attempts-4, rejected)
	assert.Equal(t, Stats{Rooms: 1, Members: 4}, r.Stats())
}

func TestLeaveDeletesEmptyRoom(t *testing.T) {
	r := NewRegistry(4)
	a := member("a1")
	b := member("b1")
	_, err := r.Join("ABC", a)
	require.NoError(t, err)
	_, err = r.Join("ABC", b)
	require.NoError(t, err)

	code, wasLast, ok := r.Leave(a.ID)
	require.True(t, ok)
	assert.Equal(t, "ABC", code)
	assert.False(t, wasLast)

	code, wasLast, ok = r.Leave(b.ID)
	require.True(t, ok)
	assert.Equal(t, "ABC", code)
	assert.True(t, wasLast)
	assert.Equal(t, Stats{}, r.Stats())

	// Teardown is exactly-once: a second Leave is a no-op.
	_, _, ok = r.Leave(b.ID)
	assert.False(t, ok)
}

func TestConcurrentLeavesDeleteRoomOnce(t *testing.T) {
	const n = 4
	r := NewRegistry(n)
	members := make([]Member, n)
	for i := range members {
		members[i] = member(fmt.Sprintf("c%d", i))
		_, err := r.Join("ABC", members[i])
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	deletions := 0
	for _, m := range members {
		wg.Add(1)
		go func(m Member) {
			defer wg.Done()
			_, wasLast, ok := r.Leave(m.ID)
			if ok && wasLast {
				mu.Lock()
				deletions++
				mu.Unlock()
			}
		}(m)
	}
	wg.Wait()

	assert.Equal(t, 1, deletions)
	assert.Equal(t, Stats{}, r.Stats())
}

func TestBroadcastTargetsExcludesSender(t *testing.T) {
	r := NewRegistry(4)
	a, b, c := member("a1"), member("b1"), member("c1")
	for _, m := range []Member{a, b, c} {
		_, err := r.Join("ABC", m)
		require.NoError(t, err)
	}
	other := member("z1")
	_, err := r.Join("XYZ", other)
	require.NoError(t, err)

	targets := r.BroadcastTargets("ABC", a.ID)
	ids := make([]string, 0, len(targets))
	for _, m := range targets {
		ids = append(ids, m.ClientID)
	}
	assert.ElementsMatch(t, []string{"b1", "c1"}, ids)

	assert.Empty(t, r.BroadcastTargets("NOPE", a.ID))
}

func TestSweepEvictsOnlyIdleRooms(t *testing.T) {
	r := NewRegistry(4)
	now := time.Now()
	r.now = func() time.Time { return now }

	stale := member("stale")
	fresh := member("fresh")
	_, err := r.Join("OLD", stale)
	require.NoError(t, err)
	_, err = r.Join("NEW", fresh)
	require.NoError(t, err)

	now = now.Add(3 * time.Hour)
	r.Touch("NEW")

	evicted := r.Sweep(2 * time.Hour)
	require.Len(t, evicted, 1)
	assert.Equal(t, "OLD", evicted[0].Code)
	require.Len(t, evicted[0].Members, 1)
	assert.Equal(t, "stale", evicted[0].Members[0].ClientID)

	assert.Equal(t, Stats{Rooms: 1, Members: 1}, r.Stats())

	// The evicted member's session row is gone; its own teardown is a no-op.
	_, _, ok := r.Leave(stale.ID)
	assert.False(t, ok)
}

func TestSweepBoundaryIsExclusive(t *testing.T) {
	r := NewRegistry(4)
	now := time.Now()
	r.now = func() time.Time { return now }

	_, err := r.Join("ABC", member("a1"))
	require.NoError(t, err)

	// Exactly at the TTL the room survives; strictly older gets evicted.
	now = now.Add(2 * time.Hour)
	assert.Empty(t, r.Sweep(2*time.Hour))

	now = now.Add(time.Nanosecond)
	assert.Len(t, r.Sweep(2*time.Hour), 1)
}

func TestJoinAfterSweepRecreatesRoom(t *testing.T) {
	r := NewRegistry(4)
	now := time.Now()
	r.now = func() time.Time { return now }

	_, err := r.Join("ABC", member("a1"))
	require.NoError(t, err)
	now = now.Add(3 * time.Hour)
	require.Len(t, r.Sweep(2*time.Hour), 1)

	created, err := r.Join("ABC", member("a2"))
	require.NoError(t, err)
	assert.True(t, created)
}
