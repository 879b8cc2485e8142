// internal/lobby/registry_test.go
package lobby

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink captures render, notify and event traffic for assertions.
type fakeSink struct {
	mu       sync.Mutex
	renders  int
	removed  int
	notices  map[string][]string
	events   []Event
	renderID RenderHandle
}

func newFakeSink() *fakeSink {
	return &fakeSink{notices: make(map[string][]string), renderID: uuid.New()}
}

func (f *fakeSink) RenderLobby(snap Snapshot) (RenderHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders++
	return f.renderID, nil
}

func (f *fakeSink) UpdateRender(handle RenderHandle, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders++
	return nil
}

func (f *fakeSink) RemoveRender(handle RenderHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
	return nil
}

func (f *fakeSink) NotifyUser(userID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices[userID] = append(f.notices[userID], message)
	return nil
}

func (f *fakeSink) Record(evt Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

func (f *fakeSink) noticesFor(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notices[userID]...)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestRegistry(t *testing.T, idle time.Duration) (*Registry, *fakeSink) {
	t.Helper()
	sink := newFakeSink()
	return NewRegistry(quietLogger(), sink, sink, sink, idle), sink
}

func manager(id string) Actor { return Actor{ID: id, Manager: true} }
func plain(id string) Actor   { return Actor{ID: id} }

// checkInvariants asserts the structural invariants that must hold after
// every operation sequence.
func checkInvariants(t *testing.T, snap Snapshot) {
	t.Helper()
	assert.LessOrEqual(t, len(snap.Members), snap.MaxPlayers)
	seen := map[string]bool{}
	for _, id := range snap.Members {
		assert.False(t, seen[id], "duplicate member %s", id)
		seen[id] = true
	}
	for _, id := range snap.Waitlist {
		assert.False(t, seen[id], "user %s in both members and waitlist", id)
		seen[id] = true
	}
	assert.Len(t, snap.Gamertags, len(snap.Members)+len(snap.Waitlist))
	for id := range snap.Gamertags {
		assert.True(t, seen[id], "gamertag for absent user %s", id)
	}
}

func TestCreateSeedsHostAndRejectsDuplicates(t *testing.T) {
	r, sink := newTestRegistry(t, 0)

	snap, err := r.Create("g1", "Alpha", manager("H"), "HostTag", 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"H"}, snap.Members)
	assert.Equal(t, "H", snap.HostID)
	assert.Equal(t, "HostTag", snap.Gamertags["H"])
	checkInvariants(t, snap)

	// duplicate, case-insensitive, same guild
	_, err = r.Create("g1", "alpha", manager("H2"), "t", 4)
	assert.ErrorIs(t, err, ErrDuplicateLobby)

	// same name in a different guild is fine
	_, err = r.Create("g2", "Alpha", manager("H2"), "t", 4)
	assert.NoError(t, err)

	// case preserved for display, lookup case-insensitive
	got, ok := r.Lookup("g1", "ALPHA")
	require.True(t, ok)
	assert.Equal(t, "Alpha", got.Name)

	assert.GreaterOrEqual(t, sink.renders, 2)
}

func TestCreateRequiresManagerAndValidSize(t *testing.T) {
	r, _ := newTestRegistry(t, 0)

	_, err := r.Create("g1", "Alpha", plain("H"), "t", 4)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = r.Create("g1", "Alpha", manager("H"), "t", 1)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = r.Create("g1", "Alpha", manager("H"), "t", 25)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestJoinOverflowGoesToWaitlist(t *testing.T) {
	r, _ := newTestRegistry(t, 0)
	_, err := r.Create("g1", "Alpha", manager("H"), "h", 2)
	require.NoError(t, err)

	res, err := r.Join("g1", "Alpha", "U1", "u1")
	require.NoError(t, err)
	assert.Equal(t, PlacedMember, res.Placement)

	res, err = r.Join("g1", "Alpha", "U2", "u2")
	require.NoError(t, err)
	assert.Equal(t, PlacedWaitlist, res.Placement)

	snap, _ := r.Lookup("g1", "Alpha")
	assert.Equal(t, []string{"H", "U1"}, snap.Members)
	assert.Equal(t, []string{"U2"}, snap.Waitlist)
	checkInvariants(t, snap)

	_, err = r.Join("g1", "Alpha", "U1", "u1")
	assert.ErrorIs(t, err, ErrAlreadyMember)
}

func TestJoinMigratesFromPriorLobby(t *testing.T) {
	r, sink := newTestRegistry(t, 0)
	_, err := r.Create("g1", "Alpha", manager("H1"), "h1", 4)
	require.NoError(t, err)
	_, err = r.Create("g1", "Bravo", manager("H2"), "h2", 4)
	require.NoError(t, err)

	_, err = r.Join("g1", "Alpha", "U", "u")
	require.NoError(t, err)

	res, err := r.Join("g1", "Bravo", "U", "u")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", res.MigratedFrom)

	alpha, _ := r.Lookup("g1", "Alpha")
	bravo, _ := r.Lookup("g1", "Bravo")
	assert.NotContains(t, alpha.Members, "U")
	assert.NotContains(t, alpha.Waitlist, "U")
	assert.Contains(t, bravo.Members, "U")
	checkInvariants(t, alpha)
	checkInvariants(t, bravo)

	// exactly one removal notification was attempted
	assert.Len(t, sink.noticesFor("U"), 1)
}

func TestLeaveIsIdempotentAndNeverPromotes(t *testing.T) {
	r, _ := newTestRegistry(t, 0)
	_, err := r.Create("g1", "Alpha", manager("H"), "h", 2)
	require.NoError(t, err)
	_, err = r.Join("g1", "Alpha", "U1", "u1")
	require.NoError(t, err)
	_, err = r.Join("g1", "Alpha", "U2", "u2") // waitlisted
	require.NoError(t, err)

	require.NoError(t, r.Leave("g1", "Alpha", "U1"))
	snap, _ := r.Lookup("g1", "Alpha")
	assert.Equal(t, []string{"H"}, snap.Members)
	assert.Equal(t, []string{"U2"}, snap.Waitlist, "leaving must not promote the waitlist")
	checkInvariants(t, snap)

	assert.ErrorIs(t, r.Leave("g1", "Alpha", "U1"), ErrNotInLobby)
	assert.ErrorIs(t, r.Leave("g1", "Nope", "U1"), ErrLobbyNotFound)
}

func TestKickGuards(t *testing.T) {
	r, sink := newTestRegistry(t, 0)
	_, err := r.Create("g1", "Alpha", manager("H"), "h", 4)
	require.NoError(t, err)
	_, err = r.Join("g1", "Alpha", "U", "u")
	require.NoError(t, err)

	assert.ErrorIs(t, r.Kick("g1", "Alpha", plain("U"), "H"), ErrForbidden)
	assert.ErrorIs(t, r.Kick("g1", "Alpha", plain("H"), "H"), ErrCannotKickHost)
	assert.ErrorIs(t, r.Kick("g1", "Alpha", manager("M"), "M"), ErrCannotKickSelf)
	assert.ErrorIs(t, r.Kick("g1", "Alpha", plain("H"), "ghost"), ErrNotInLobby)

	require.NoError(t, r.Kick("g1", "Alpha", plain("H"), "U"))
	snap, _ := r.Lookup("g1", "Alpha")
	assert.NotContains(t, snap.Members, "U")
	assert.Len(t, sink.noticesFor("U"), 1)

	// kicked user is free to join elsewhere
	_, err = r.Create("g1", "Bravo", manager("H2"), "h2", 4)
	require.NoError(t, err)
	res, err := r.Join("g1", "Bravo", "U", "u")
	require.NoError(t, err)
	assert.Empty(t, res.MigratedFrom)
}

func TestReassignHost(t *testing.T) {
	r, sink := newTestRegistry(t, 0)
	_, err := r.Create("g1", "Alpha", manager("H"), "h", 4)
	require.NoError(t, err)

	assert.ErrorIs(t, r.ReassignHost("g1", "Alpha", plain("U"), "U"), ErrForbidden)
	assert.ErrorIs(t, r.ReassignHost("g1", "Alpha", plain("H"), "H"), ErrSameHost)

	// the new host need not be a member
	require.NoError(t, r.ReassignHost("g1", "Alpha", plain("H"), "N"))
	snap, _ := r.Lookup("g1", "Alpha")
	assert.Equal(t, "N", snap.HostID)
	assert.NotContains(t, snap.Members, "N")

	assert.Len(t, sink.noticesFor("H"), 1)
	assert.Len(t, sink.noticesFor("N"), 1)
}

func TestResizeFloorAndRange(t *testing.T) {
	r, _ := newTestRegistry(t, 0)
	_, err := r.Create("g1", "Alpha", manager("H"), "h", 4)
	require.NoError(t, err)
	_, err = r.Join("g1", "Alpha", "U1", "u1")
	require.NoError(t, err)

	assert.ErrorIs(t, r.Resize("g1", "Alpha", plain("H"), 1), ErrInvalidSize)
	assert.ErrorIs(t, r.Resize("g1", "Alpha", plain("H"), 25), ErrInvalidSize)
	assert.ErrorIs(t, r.Resize("g1", "Alpha", plain("U1"), 8), ErrForbidden)

	// exactly at the member count is allowed
	require.NoError(t, r.Resize("g1", "Alpha", plain("H"), 2))
	snap, _ := r.Lookup("g1", "Alpha")
	assert.Equal(t, 2, snap.MaxPlayers)

	// growing never promotes waitlisted users
	_, err = r.Join("g1", "Alpha", "U2", "u2") // waitlisted at cap 2
	require.NoError(t, err)
	require.NoError(t, r.Resize("g1", "Alpha", plain("H"), 10))
	snap, _ = r.Lookup("g1", "Alpha")
	assert.Equal(t, []string{"U2"}, snap.Waitlist)
	checkInvariants(t, snap)
}

func TestEndClearsReverseIndexAndRender(t *testing.T) {
	r, sink := newTestRegistry(t, 0)
	_, err := r.Create("g1", "Alpha", manager("H"), "h", 2)
	require.NoError(t, err)
	_, err = r.Join("g1", "Alpha", "U1", "u1")
	require.NoError(t, err)
	_, err = r.Join("g1", "Alpha", "U2", "u2") // waitlist
	require.NoError(t, err)

	assert.ErrorIs(t, r.End("g1", "Alpha", plain("U1")), ErrForbidden)
	require.NoError(t, r.End("g1", "Alpha", plain("H")))

	_, ok := r.Lookup("g1", "Alpha")
	assert.False(t, ok)
	assert.Equal(t, 1, sink.removed)

	// all former occupants are free again
	_, err = r.Create("g1", "Bravo", manager("H2"), "h2", 4)
	require.NoError(t, err)
	for _, uid := range []string{"H", "U1", "U2"} {
		res, err := r.Join("g1", "Bravo", uid, uid)
		require.NoError(t, err)
		assert.Empty(t, res.MigratedFrom, "user %s still indexed after End", uid)
	}
}

func TestListByGuildPreservesCreationOrder(t *testing.T) {
	r, _ := newTestRegistry(t, 0)
	for _, name := range []string{"Zulu", "Alpha", "Mike"} {
		_, err := r.Create("g1", name, manager("H-"+name), "t", 4)
		require.NoError(t, err)
	}
	_, err := r.Create("g2", "Other", manager("X"), "t", 4)
	require.NoError(t, err)

	var names []string
	for _, snap := range r.ListByGuild("g1") {
		names = append(names, snap.Name)
	}
	assert.Equal(t, []string{"Zulu", "Alpha", "Mike"}, names)
	assert.Empty(t, r.ListByGuild("g3"))
}

func TestHostedBy(t *testing.T) {
	r, _ := newTestRegistry(t, 0)
	_, err := r.Create("g1", "Alpha", manager("H"), "h", 4)
	require.NoError(t, err)
	_, err = r.Create("g1", "Bravo", manager("H2"), "h2", 4)
	require.NoError(t, err)
	require.NoError(t, r.ReassignHost("g1", "Bravo", plain("H2"), "H"))

	hosted := r.HostedBy("g1", "H")
	require.Len(t, hosted, 2)
	assert.Empty(t, r.HostedBy("g1", "H2"))
}

func TestIdleReaperEvictsOnlyWhenIdle(t *testing.T) {
	r, _ := newTestRegistry(t, 40*time.Millisecond)
	_, err := r.Create("g1", "Stale", manager("H"), "h", 4)
	require.NoError(t, err)
	_, err = r.Create("g1", "Busy", manager("H2"), "h2", 4)
	require.NoError(t, err)

	// keep Busy active past the deadline
	time.Sleep(25 * time.Millisecond)
	_, err = r.Join("g1", "Busy", "U", "u")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, ok := r.Lookup("g1", "Stale")
	assert.False(t, ok, "idle lobby should be reaped")
	_, ok = r.Lookup("g1", "Busy")
	assert.True(t, ok, "active lobby must survive the single-shot check")
}

func TestEndCancelsReaper(t *testing.T) {
	r, sink := newTestRegistry(t, 30*time.Millisecond)
	_, err := r.Create("g1", "Alpha", manager("H"), "h", 4)
	require.NoError(t, err)
	require.NoError(t, r.End("g1", "Alpha", plain("H")))

	time.Sleep(50 * time.Millisecond)
	// only the explicit End removed the render; the timer must not fire
	assert.Equal(t, 1, sink.removed)
}
