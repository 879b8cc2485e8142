// internal/lobby/registry.go
package lobby

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultIdleWindow is how long a lobby may sit with no activity before the
// idle reaper removes it.
const DefaultIdleWindow = time.Hour

// Registry owns every active lobby in memory, scoped per guild, together
// with the user -> lobby reverse index that enforces single-lobby occupancy.
// It is the only writer of lobby state: all mutations happen under its
// mutex, and side effects (render refreshes, notifications, event records)
// are executed after the lock is released so no I/O happens mid-mutation.
type Registry struct {
	mu     sync.Mutex
	guilds map[string]*guildLobbies
	byUser map[string]occupancy

	renderer Renderer
	notifier Notifier
	events   EventSink
	logger   *logrus.Logger

	idleWindow time.Duration
}

// guildLobbies keys lobbies by lowercased name and preserves creation order
// for listing.
type guildLobbies struct {
	byKey map[string]*Lobby
	order []string
}

type occupancy struct {
	guildID string
	key     string
}

// NewRegistry builds a Registry. The renderer and notifier are required;
// events may be nil to disable archival. idleWindow <= 0 selects
// DefaultIdleWindow.
func NewRegistry(logger *logrus.Logger, renderer Renderer, notifier Notifier, events EventSink, idleWindow time.Duration) *Registry {
	if idleWindow <= 0 {
		idleWindow = DefaultIdleWindow
	}
	return &Registry{
		guilds:     make(map[string]*guildLobbies),
		byUser:     make(map[string]occupancy),
		renderer:   renderer,
		notifier:   notifier,
		events:     events,
		logger:     logger,
		idleWindow: idleWindow,
	}
}

func lobbyKey(name string) string { return strings.ToLower(name) }

// getUnsafe resolves a lobby by guild and case-insensitive name. Assumes the
// lock is held.
func (r *Registry) getUnsafe(guildID, name string) (*Lobby, bool) {
	gl, ok := r.guilds[guildID]
	if !ok {
		return nil, false
	}
	l, ok := gl.byKey[lobbyKey(name)]
	return l, ok
}

// evictUnsafe removes the user from whatever lobby currently holds them, if
// any, and returns that lobby. Assumes the lock is held.
func (r *Registry) evictUnsafe(userID string) *Lobby {
	occ, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	gl, ok := r.guilds[occ.guildID]
	if !ok {
		delete(r.byUser, userID)
		return nil
	}
	prev, ok := gl.byKey[occ.key]
	if !ok {
		delete(r.byUser, userID)
		return nil
	}
	prev.removeUnsafe(userID)
	prev.touchUnsafe()
	delete(r.byUser, userID)
	return prev
}

// Create registers a new lobby with the creating user as host and sole
// initial member, and arms its idle reaper. Creation requires the manager
// capability. If the host currently occupies another lobby they are migrated
// out of it first.
func (r *Registry) Create(guildID, name string, host Actor, hostTag string, maxPlayers int) (Snapshot, error) {
	if !host.Manager {
		return Snapshot{}, ErrForbidden
	}
	if maxPlayers < MinSize || maxPlayers > MaxSize {
		return Snapshot{}, ErrInvalidSize
	}
	name = strings.TrimSpace(name)

	r.mu.Lock()
	if _, exists := r.getUnsafe(guildID, name); exists {
		r.mu.Unlock()
		return Snapshot{}, ErrDuplicateLobby
	}

	var prevSnap *Snapshot
	if prev := r.evictUnsafe(host.ID); prev != nil {
		s := prev.snapshotUnsafe()
		prevSnap = &s
	}

	l := &Lobby{
		GuildID:    guildID,
		Name:       name,
		HostID:     host.ID,
		Members:    []string{host.ID},
		Waitlist:   []string{},
		Gamertags:  map[string]string{host.ID: hostTag},
		MaxPlayers: maxPlayers,
		LastActive: time.Now(),
	}
	gl, ok := r.guilds[guildID]
	if !ok {
		gl = &guildLobbies{byKey: make(map[string]*Lobby)}
		r.guilds[guildID] = gl
	}
	key := lobbyKey(name)
	gl.byKey[key] = l
	gl.order = append(gl.order, key)
	r.byUser[host.ID] = occupancy{guildID: guildID, key: key}
	r.armReaperUnsafe(l)
	snap := l.snapshotUnsafe()
	r.mu.Unlock()

	if prevSnap != nil {
		r.refreshRender(*prevSnap)
		r.notify(host.ID, fmt.Sprintf("You were removed from lobby **%s** because you started **%s**.", prevSnap.Name, name))
	}
	r.attachRender(guildID, name)
	r.record(Event{Type: EventLobbyCreated, GuildID: guildID, Lobby: name, ActorID: host.ID,
		Detail: map[string]interface{}{"max_players": maxPlayers}})
	r.logger.WithFields(logrus.Fields{"guild": guildID, "lobby": name, "host": host.ID}).Info("lobby created")
	return snap, nil
}

// Join places the user in the lobby's member list, or on the waitlist when
// the lobby is full. A user occupying a different lobby is implicitly
// removed from it first and notified.
func (r *Registry) Join(guildID, name, userID, gamertag string) (JoinResult, error) {
	r.mu.Lock()
	l, ok := r.getUnsafe(guildID, name)
	if !ok {
		r.mu.Unlock()
		return JoinResult{}, ErrLobbyNotFound
	}
	if l.contains(userID) {
		r.mu.Unlock()
		return JoinResult{}, ErrAlreadyMember
	}

	var res JoinResult
	var prevSnap *Snapshot
	if occ, occupied := r.byUser[userID]; occupied && !(occ.guildID == guildID && occ.key == lobbyKey(name)) {
		if prev := r.evictUnsafe(userID); prev != nil {
			s := prev.snapshotUnsafe()
			prevSnap = &s
			res.MigratedFrom = prev.Name
		}
	}
	res.Placement = l.addUnsafe(userID, gamertag)
	l.touchUnsafe()
	r.byUser[userID] = occupancy{guildID: guildID, key: lobbyKey(name)}
	snap := l.snapshotUnsafe()
	r.mu.Unlock()

	if prevSnap != nil {
		r.refreshRender(*prevSnap)
		r.notify(userID, fmt.Sprintf("You were removed from lobby **%s** because you joined **%s**.", prevSnap.Name, l.Name))
		r.record(Event{Type: EventMemberMigrated, GuildID: prevSnap.GuildID, Lobby: prevSnap.Name, TargetID: userID,
			Detail: map[string]interface{}{"joined": l.Name}})
	}
	r.refreshRender(snap)

	evtType := EventMemberJoined
	if res.Placement == PlacedWaitlist {
		evtType = EventMemberWaitlist
	}
	r.record(Event{Type: evtType, GuildID: guildID, Lobby: snap.Name, TargetID: userID})
	return res, nil
}

// Leave removes the user from the lobby. The next waitlisted user is not
// promoted.
func (r *Registry) Leave(guildID, name, userID string) error {
	r.mu.Lock()
	l, ok := r.getUnsafe(guildID, name)
	if !ok {
		r.mu.Unlock()
		return ErrLobbyNotFound
	}
	if !l.removeUnsafe(userID) {
		r.mu.Unlock()
		return ErrNotInLobby
	}
	delete(r.byUser, userID)
	l.touchUnsafe()
	snap := l.snapshotUnsafe()
	r.mu.Unlock()

	r.refreshRender(snap)
	r.record(Event{Type: EventMemberLeft, GuildID: guildID, Lobby: snap.Name, TargetID: userID})
	return nil
}

// Kick removes the target on behalf of the host or a manager and notifies
// them. The host cannot be kicked; actors cannot kick themselves.
func (r *Registry) Kick(guildID, name string, actor Actor, targetID string) error {
	r.mu.Lock()
	l, ok := r.getUnsafe(guildID, name)
	if !ok {
		r.mu.Unlock()
		return ErrLobbyNotFound
	}
	if !l.canManage(actor) {
		r.mu.Unlock()
		return ErrForbidden
	}
	if targetID == l.HostID {
		r.mu.Unlock()
		return ErrCannotKickHost
	}
	if targetID == actor.ID {
		r.mu.Unlock()
		return ErrCannotKickSelf
	}
	if !l.removeUnsafe(targetID) {
		r.mu.Unlock()
		return ErrNotInLobby
	}
	delete(r.byUser, targetID)
	l.touchUnsafe()
	snap := l.snapshotUnsafe()
	r.mu.Unlock()

	r.refreshRender(snap)
	r.notify(targetID, fmt.Sprintf("You have been kicked from the lobby **%s**.", snap.Name))
	r.record(Event{Type: EventMemberKicked, GuildID: guildID, Lobby: snap.Name, ActorID: actor.ID, TargetID: targetID})
	return nil
}

// ReassignHost hands the lobby to a new host. Membership lists are not
// altered; the new host need not be a participant. Both hosts are notified.
func (r *Registry) ReassignHost(guildID, name string, actor Actor, newHostID string) error {
	r.mu.Lock()
	l, ok := r.getUnsafe(guildID, name)
	if !ok {
		r.mu.Unlock()
		return ErrLobbyNotFound
	}
	if !l.canManage(actor) {
		r.mu.Unlock()
		return ErrForbidden
	}
	if newHostID == l.HostID {
		r.mu.Unlock()
		return ErrSameHost
	}
	oldHostID := l.HostID
	l.HostID = newHostID
	l.touchUnsafe()
	snap := l.snapshotUnsafe()
	r.mu.Unlock()

	r.refreshRender(snap)
	r.notify(oldHostID, fmt.Sprintf("You are no longer the host of lobby **%s**. The new host is %s.", snap.Name, newHostID))
	r.notify(newHostID, fmt.Sprintf("You have been assigned as the new host for lobby **%s**.", snap.Name))
	r.record(Event{Type: EventHostReassigned, GuildID: guildID, Lobby: snap.Name, ActorID: actor.ID, TargetID: newHostID,
		Detail: map[string]interface{}{"old_host": oldHostID}})
	return nil
}

// Resize changes the member cap. The new size must stay within [MinSize,
// MaxSize] and cannot undercut the current member count. Growing the lobby
// does not promote waitlisted users.
func (r *Registry) Resize(guildID, name string, actor Actor, newSize int) error {
	r.mu.Lock()
	l, ok := r.getUnsafe(guildID, name)
	if !ok {
		r.mu.Unlock()
		return ErrLobbyNotFound
	}
	if !l.canManage(actor) {
		r.mu.Unlock()
		return ErrForbidden
	}
	if newSize < MinSize || newSize > MaxSize || newSize < len(l.Members) {
		r.mu.Unlock()
		return ErrInvalidSize
	}
	l.MaxPlayers = newSize
	l.touchUnsafe()
	snap := l.snapshotUnsafe()
	r.mu.Unlock()

	r.refreshRender(snap)
	r.record(Event{Type: EventLobbyResized, GuildID: guildID, Lobby: snap.Name, ActorID: actor.ID,
		Detail: map[string]interface{}{"max_players": newSize}})
	return nil
}

// End deletes the lobby, cancels its reaper, clears every occupant from the
// reverse index and removes the rendered view.
func (r *Registry) End(guildID, name string, actor Actor) error {
	r.mu.Lock()
	l, ok := r.getUnsafe(guildID, name)
	if !ok {
		r.mu.Unlock()
		return ErrLobbyNotFound
	}
	if !l.canManage(actor) {
		r.mu.Unlock()
		return ErrForbidden
	}
	snap := r.dropUnsafe(l)
	r.mu.Unlock()

	r.removeRender(snap)
	r.record(Event{Type: EventLobbyEnded, GuildID: guildID, Lobby: snap.Name, ActorID: actor.ID})
	r.logger.WithFields(logrus.Fields{"guild": guildID, "lobby": snap.Name}).Info("lobby ended")
	return nil
}

// dropUnsafe unregisters the lobby and its occupants and stops the reaper.
// Assumes the lock is held.
func (r *Registry) dropUnsafe(l *Lobby) Snapshot {
	if l.reapTimer != nil {
		l.reapTimer.Stop()
		l.reapTimer = nil
	}
	key := lobbyKey(l.Name)
	if gl, ok := r.guilds[l.GuildID]; ok {
		delete(gl.byKey, key)
		for i, k := range gl.order {
			if k == key {
				gl.order = append(gl.order[:i], gl.order[i+1:]...)
				break
			}
		}
	}
	for _, uid := range l.Members {
		delete(r.byUser, uid)
	}
	for _, uid := range l.Waitlist {
		delete(r.byUser, uid)
	}
	return l.snapshotUnsafe()
}

// Lookup returns a snapshot of the named lobby. Absence is an ordinary
// result, not an error.
func (r *Registry) Lookup(guildID, name string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.getUnsafe(guildID, name)
	if !ok {
		return Snapshot{}, false
	}
	return l.snapshotUnsafe(), true
}

// ListByGuild returns snapshots of the guild's lobbies in creation order.
func (r *Registry) ListByGuild(guildID string) []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	gl, ok := r.guilds[guildID]
	if !ok {
		return nil
	}
	out := make([]Snapshot, 0, len(gl.order))
	for _, key := range gl.order {
		if l, ok := gl.byKey[key]; ok {
			out = append(out, l.snapshotUnsafe())
		}
	}
	return out
}

// HostedBy returns snapshots of the guild's lobbies hosted by the user.
func (r *Registry) HostedBy(guildID, userID string) []Snapshot {
	var hosted []Snapshot
	for _, snap := range r.ListByGuild(guildID) {
		if snap.HostID == userID {
			hosted = append(hosted, snap)
		}
	}
	return hosted
}

// armReaperUnsafe schedules the single idle check for a new lobby. The
// timer fires exactly once, idleWindow after creation; it does not slide
// with activity and is not re-armed. Assumes the lock is held.
func (r *Registry) armReaperUnsafe(l *Lobby) {
	guildID, key := l.GuildID, lobbyKey(l.Name)
	l.reapTimer = time.AfterFunc(r.idleWindow, func() {
		r.reap(guildID, key)
	})
}

// reap removes the lobby if it has been idle for the full window. A lobby
// that saw activity inside the window survives; the check is not
// rescheduled.
func (r *Registry) reap(guildID, key string) {
	r.mu.Lock()
	l, ok := r.getUnsafe(guildID, key)
	if !ok {
		r.mu.Unlock()
		return
	}
	if time.Since(l.LastActive) < r.idleWindow {
		r.mu.Unlock()
		return
	}
	snap := r.dropUnsafe(l)
	r.mu.Unlock()

	r.removeRender(snap)
	r.record(Event{Type: EventLobbyExpired, GuildID: guildID, Lobby: snap.Name})
	r.logger.WithFields(logrus.Fields{"guild": guildID, "lobby": snap.Name}).Info("lobby removed due to inactivity")
}

// attachRender asks the adapter for a rendered view and stores the handle,
// unless the lobby vanished while the render call was in flight.
func (r *Registry) attachRender(guildID, name string) {
	snap, ok := r.Lookup(guildID, name)
	if !ok {
		return
	}
	handle, err := r.renderer.RenderLobby(snap)
	if err != nil {
		r.logger.WithError(err).WithField("lobby", snap.Name).Warn("render failed")
		return
	}
	r.mu.Lock()
	l, ok := r.getUnsafe(guildID, name)
	if !ok {
		r.mu.Unlock()
		if err := r.renderer.RemoveRender(handle); err != nil {
			r.logger.WithError(err).Warn("orphan render removal failed")
		}
		return
	}
	l.Handle = handle
	r.mu.Unlock()
}

// refreshRender pushes the lobby's current state to its rendered view.
// Failures are logged; the roster remains the source of truth.
func (r *Registry) refreshRender(snap Snapshot) {
	if err := r.renderer.UpdateRender(snap.Handle, snap); err != nil {
		r.logger.WithError(err).WithField("lobby", snap.Name).Warn("render update failed")
	}
}

func (r *Registry) removeRender(snap Snapshot) {
	if err := r.renderer.RemoveRender(snap.Handle); err != nil {
		r.logger.WithError(err).WithField("lobby", snap.Name).Warn("render removal failed")
	}
}

// notify sends a best-effort direct message.
func (r *Registry) notify(userID, message string) {
	if err := r.notifier.NotifyUser(userID, message); err != nil {
		r.logger.WithError(err).WithField("user", userID).Warn("notification failed")
	}
}

func (r *Registry) record(evt Event) {
	if r.events == nil {
		return
	}
	evt.At = time.Now()
	r.events.Record(evt)
}
