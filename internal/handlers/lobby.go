// internal/handlers/lobby.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/halocustoms/lobbyd/internal/auth"
	"github.com/halocustoms/lobbyd/internal/lobby"
)

// lobbyRef addresses one lobby. Names are matched case-insensitively.
type lobbyRef struct {
	GuildID string `json:"guildId"`
	Name    string `json:"name"`
}

type createLobbyRequest struct {
	GuildID    string `json:"guildId"`
	Name       string `json:"name"`
	Gamertag   string `json:"gamertag"`
	MaxPlayers int    `json:"maxPlayers"`
}

type joinLobbyRequest struct {
	GuildID  string `json:"guildId"`
	Name     string `json:"name"`
	Gamertag string `json:"gamertag"`
}

type joinLobbyResponse struct {
	Placement    string         `json:"placement"`
	MigratedFrom string         `json:"migratedFrom,omitempty"`
	Lobby        lobby.Snapshot `json:"lobby"`
}

type kickRequest struct {
	GuildID  string `json:"guildId"`
	Name     string `json:"name"`
	TargetID string `json:"targetId"`
}

type reassignHostRequest struct {
	GuildID   string `json:"guildId"`
	Name      string `json:"name"`
	NewHostID string `json:"newHostId"`
}

type resizeRequest struct {
	GuildID    string `json:"guildId"`
	Name       string `json:"name"`
	MaxPlayers int    `json:"maxPlayers"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "bad request payload", http.StatusBadRequest)
		return false
	}
	return true
}

// actorFor derives the per-call actor: the caller's user ID plus whether the
// gateway granted them the manager capability in this guild.
func actorFor(id auth.Identity, guildID string) lobby.Actor {
	return lobby.Actor{ID: id.UserID, Manager: id.IsManager(guildID)}
}

// CreateLobbyHandler opens a new lobby with the caller as host and sole
// initial member. Requires the manager capability in the guild.
func CreateLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		var req createLobbyRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.GuildID == "" || req.Name == "" {
			http.Error(w, "guildId and name are required", http.StatusBadRequest)
			return
		}
		gamertag := req.Gamertag
		if gamertag == "" {
			gamertag = id.UserID
		}

		snap, err := s.Registry.Create(req.GuildID, req.Name, actorFor(id, req.GuildID), gamertag, req.MaxPlayers)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, snap)
	}
}

// JoinLobbyHandler adds the caller to the lobby, or to its waitlist when
// full. A caller occupying another lobby is migrated out of it.
func JoinLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		var req joinLobbyRequest
		if !decodeBody(w, r, &req) {
			return
		}
		gamertag := req.Gamertag
		if gamertag == "" {
			gamertag = id.UserID
		}

		res, err := s.Registry.Join(req.GuildID, req.Name, id.UserID, gamertag)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		snap, _ := s.Registry.Lookup(req.GuildID, req.Name)

		placement := "member"
		if res.Placement == lobby.PlacedWaitlist {
			placement = "waitlist"
		}
		writeJSON(w, joinLobbyResponse{
			Placement:    placement,
			MigratedFrom: res.MigratedFrom,
			Lobby:        snap,
		})
	}
}

// LeaveLobbyHandler removes the caller from the lobby.
func LeaveLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		var req lobbyRef
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.Registry.Leave(req.GuildID, req.Name, id.UserID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "left"})
	}
}

// KickLobbyHandler removes the target from the lobby on behalf of the host
// or a guild manager.
func KickLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		var req kickRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.Registry.Kick(req.GuildID, req.Name, actorFor(id, req.GuildID), req.TargetID); err != nil {
			writeDomainError(w, err)
			return
		}
		snap, _ := s.Registry.Lookup(req.GuildID, req.Name)
		writeJSON(w, snap)
	}
}

// ReassignHostHandler hands the lobby to a new host. The new host need not
// be a current participant.
func ReassignHostHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		var req reassignHostRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.Registry.ReassignHost(req.GuildID, req.Name, actorFor(id, req.GuildID), req.NewHostID); err != nil {
			writeDomainError(w, err)
			return
		}
		snap, _ := s.Registry.Lookup(req.GuildID, req.Name)
		writeJSON(w, snap)
	}
}

// ResizeLobbyHandler changes the lobby's member cap. Growing the lobby does
// not promote waitlisted users.
func ResizeLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		var req resizeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.Registry.Resize(req.GuildID, req.Name, actorFor(id, req.GuildID), req.MaxPlayers); err != nil {
			writeDomainError(w, err)
			return
		}
		snap, _ := s.Registry.Lookup(req.GuildID, req.Name)
		writeJSON(w, snap)
	}
}

// EndLobbyHandler closes the lobby and releases every occupant.
func EndLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		var req lobbyRef
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.Registry.End(req.GuildID, req.Name, actorFor(id, req.GuildID)); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "ended"})
	}
}

// GetLobbyHandler returns one lobby's full snapshot, including gamertags.
// Kick pickers are built from this.
func GetLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireIdentity(w, r); !ok {
			return
		}
		guildID := r.URL.Query().Get("guild")
		name := r.URL.Query().Get("name")
		if guildID == "" || name == "" {
			http.Error(w, "missing guild or name parameter", http.StatusBadRequest)
			return
		}
		snap, ok := s.Registry.Lookup(guildID, name)
		if !ok {
			writeDomainError(w, lobby.ErrLobbyNotFound)
			return
		}
		writeJSON(w, snap)
	}
}

// ListLobbiesHandler returns the guild's lobbies in creation order.
func ListLobbiesHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireIdentity(w, r); !ok {
			return
		}
		guildID := r.URL.Query().Get("guild")
		if guildID == "" {
			http.Error(w, "missing guild parameter", http.StatusBadRequest)
			return
		}
		lobbies := s.Registry.ListByGuild(guildID)
		if lobbies == nil {
			lobbies = []lobby.Snapshot{}
		}
		writeJSON(w, lobbies)
	}
}
