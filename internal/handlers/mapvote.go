// internal/handlers/mapvote.go
package handlers

import (
	"net/http"

	"github.com/google/uuid"
)

type startVoteRequest struct {
	GuildID string `json:"guildId"`
}

type selectVoteLobbyRequest struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
}

type voteFiltersRequest struct {
	SessionID string   `json:"sessionId"`
	Sizes     []string `json:"sizes"`
	Gamemodes []string `json:"gamemodes"`
}

type castVoteRequest struct {
	SessionID string `json:"sessionId"`
	Choice    int    `json:"choice"`
}

func parseSessionID(w http.ResponseWriter, raw string) (uuid.UUID, bool) {
	sid, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return sid, true
}

// StartMapVoteHandler opens a map-vote session for the caller. They must
// host at least one lobby in the guild.
func StartMapVoteHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		var req startVoteRequest
		if !decodeBody(w, r, &req) {
			return
		}
		v, err := s.Votes.Start(req.GuildID, id.UserID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, v)
	}
}

// SelectVoteLobbyHandler records which of the caller's hosted lobbies the
// vote is for.
func SelectVoteLobbyHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		var req selectVoteLobbyRequest
		if !decodeBody(w, r, &req) {
			return
		}
		sid, ok := parseSessionID(w, req.SessionID)
		if !ok {
			return
		}
		v, err := s.Votes.SelectLobby(sid, id.UserID, req.Name)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, v)
	}
}

// SubmitVoteFiltersHandler records the size and gamemode tags and opens the
// timed vote over the sampled candidates.
func SubmitVoteFiltersHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		var req voteFiltersRequest
		if !decodeBody(w, r, &req) {
			return
		}
		sid, ok := parseSessionID(w, req.SessionID)
		if !ok {
			return
		}
		v, err := s.Votes.SubmitFilters(sid, id.UserID, req.Sizes, req.Gamemodes)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, v)
	}
}

// CastVoteHandler marks the caller's vote on a candidate by its 1-based
// ordinal. Any guild member may vote, on as many candidates as they like.
func CastVoteHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := requireIdentity(w, r)
		if !ok {
			return
		}
		var req castVoteRequest
		if !decodeBody(w, r, &req) {
			return
		}
		sid, ok := parseSessionID(w, req.SessionID)
		if !ok {
			return
		}
		if err := s.Votes.CastVote(sid, id.UserID, req.Choice); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "recorded"})
	}
}

// GetMapVoteHandler returns the session's current state.
func GetMapVoteHandler(s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireIdentity(w, r); !ok {
			return
		}
		sid, ok := parseSessionID(w, r.URL.Query().Get("session"))
		if !ok {
			return
		}
		v, found := s.Votes.Lookup(sid)
		if !found {
			http.Error(w, "map vote session not found", http.StatusNotFound)
			return
		}
		writeJSON(w, v)
	}
}
