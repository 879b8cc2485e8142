// internal/lobby/sinks.go
package lobby

import "time"

// Renderer maintains the externally visible representation of a lobby.
// Implementations live in the adapter layer; every method is best-effort
// and idempotent. The Registry logs failures and never propagates them.
type Renderer interface {
	RenderLobby(snap Snapshot) (RenderHandle, error)
	UpdateRender(handle RenderHandle, snap Snapshot) error
	RemoveRender(handle RenderHandle) error
}

// Notifier delivers a direct message to a user. Delivery is best-effort;
// an undeliverable message is logged, never surfaced to the triggering
// operation.
type Notifier interface {
	NotifyUser(userID, message string) error
}

// Event is a lifecycle record emitted after a successful mutation, for
// best-effort archival (see internal/events). Emission happens outside the
// mutation path and can never fail an operation.
type Event struct {
	Type     string                 `json:"type"`
	GuildID  string                 `json:"guild_id"`
	Lobby    string                 `json:"lobby"`
	ActorID  string                 `json:"actor_id,omitempty"`
	TargetID string                 `json:"target_id,omitempty"`
	Detail   map[string]interface{} `json:"detail,omitempty"`
	At       time.Time              `json:"at"`
}

// EventSink receives lifecycle events. A nil sink disables emission.
type EventSink interface {
	Record(evt Event)
}

// Event types emitted by the Registry and the map-vote orchestrator.
const (
	EventLobbyCreated   = "lobby_created"
	EventLobbyEnded     = "lobby_ended"
	EventLobbyExpired   = "lobby_expired"
	EventMemberJoined   = "member_joined"
	EventMemberWaitlist = "member_waitlisted"
	EventMemberLeft     = "member_left"
	EventMemberKicked   = "member_kicked"
	EventMemberMigrated = "member_migrated"
	EventHostReassigned = "host_reassigned"
	EventLobbyResized   = "lobby_resized"
	EventVoteOpened     = "mapvote_opened"
	EventVoteResolved   = "mapvote_resolved"
)
