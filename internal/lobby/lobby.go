// internal/lobby/lobby.go
package lobby

import (
	"time"

	"github.com/google/uuid"
)

// Size limits for a lobby, matching the platform command constraints.
const (
	MinSize = 2
	MaxSize = 24
)

// RenderHandle is an opaque reference to the externally rendered view of a
// lobby (an embed/message on the chat platform). The adapter owns the view;
// the core only carries the handle so it can ask for refreshes.
type RenderHandle = uuid.UUID

// Lobby is an ephemeral, host-owned grouping of users scoped to one guild.
// All fields are guarded by the owning Registry's mutex; nothing outside
// the Registry mutates a Lobby.
type Lobby struct {
	GuildID string
	// Name is case-preserving for display; Registry lookups are
	// case-insensitive.
	Name   string
	HostID string

	// Members and Waitlist are ordered and disjoint. Members never exceeds
	// MaxPlayers; the waitlist is unbounded.
	Members  []string
	Waitlist []string

	// Gamertags maps a user ID to their per-lobby display alias. An entry
	// exists iff the user is in Members or Waitlist.
	Gamertags map[string]string

	MaxPlayers int
	LastActive time.Time

	Handle RenderHandle

	// reapTimer is the single-shot idle eviction timer armed at creation.
	reapTimer *time.Timer
}

// Placement says which list a joining user landed in.
type Placement int

const (
	PlacedMember Placement = iota
	PlacedWaitlist
)

// JoinResult describes the outcome of a Join for the user-facing reply.
type JoinResult struct {
	Placement Placement
	// MigratedFrom names the lobby the user was implicitly removed from
	// because they joined this one; empty if none.
	MigratedFrom string
}

// Actor is an acting user together with the externally supplied manager
// capability for the lobby's guild. The core never inspects platform roles
// itself.
type Actor struct {
	ID      string
	Manager bool
}

// canManage reports whether the actor may administer this lobby.
func (l *Lobby) canManage(actor Actor) bool {
	return actor.ID == l.HostID || actor.Manager
}

// contains reports membership of either list.
func (l *Lobby) contains(userID string) bool {
	return indexOf(l.Members, userID) >= 0 || indexOf(l.Waitlist, userID) >= 0
}

// addUnsafe appends the user to members if there is room, else to the
// waitlist, and records the gamertag. Assumes the registry lock is held.
func (l *Lobby) addUnsafe(userID, gamertag string) Placement {
	if len(l.Members) < l.MaxPlayers {
		l.Members = append(l.Members, userID)
		l.Gamertags[userID] = gamertag
		return PlacedMember
	}
	l.Waitlist = append(l.Waitlist, userID)
	l.Gamertags[userID] = gamertag
	return PlacedWaitlist
}

// removeUnsafe drops the user from whichever list holds them, preserving
// order, and deletes their gamertag. Leaving never promotes the next
// waitlisted user. Assumes the registry lock is held.
func (l *Lobby) removeUnsafe(userID string) bool {
	if i := indexOf(l.Members, userID); i >= 0 {
		l.Members = append(l.Members[:i], l.Members[i+1:]...)
		delete(l.Gamertags, userID)
		return true
	}
	if i := indexOf(l.Waitlist, userID); i >= 0 {
		l.Waitlist = append(l.Waitlist[:i], l.Waitlist[i+1:]...)
		delete(l.Gamertags, userID)
		return true
	}
	return false
}

func (l *Lobby) touchUnsafe() {
	l.LastActive = time.Now()
}

// snapshotUnsafe copies the lobby into an immutable view. Assumes the
// registry lock is held.
func (l *Lobby) snapshotUnsafe() Snapshot {
	tags := make(map[string]string, len(l.Gamertags))
	for k, v := range l.Gamertags {
		tags[k] = v
	}
	return Snapshot{
		GuildID:    l.GuildID,
		Name:       l.Name,
		HostID:     l.HostID,
		Members:    append([]string(nil), l.Members...),
		Waitlist:   append([]string(nil), l.Waitlist...),
		Gamertags:  tags,
		MaxPlayers: l.MaxPlayers,
		LastActive: l.LastActive,
		Handle:     l.Handle,
	}
}

// Snapshot is a point-in-time copy of a Lobby handed across the Registry
// boundary. Mutating a Snapshot has no effect on the live lobby.
type Snapshot struct {
	GuildID    string            `json:"guildId"`
	Name       string            `json:"name"`
	HostID     string            `json:"hostId"`
	Members    []string          `json:"members"`
	Waitlist   []string          `json:"waitlist"`
	Gamertags  map[string]string `json:"gamertags"`
	MaxPlayers int               `json:"maxPlayers"`
	LastActive time.Time         `json:"lastActive"`
	Handle     RenderHandle      `json:"-"`
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}
