// internal/handlers/api_server.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halocustoms/lobbyd/internal/auth"
	"github.com/halocustoms/lobbyd/internal/lobby"
	"github.com/halocustoms/lobbyd/internal/mapvote"
)

// LobbyServer aggregates the lobby registry, the map-vote orchestrator and
// the websocket hub behind the HTTP surface. The hub doubles as the
// registry's renderer/notifier and the orchestrator's announcer, so the core
// packages stay unaware of websockets.
type LobbyServer struct {
	Registry *lobby.Registry
	Votes    *mapvote.Orchestrator
	Hub      *Hub
	Logger   *logrus.Logger
}

// NewLobbyServer wires the hub into a fresh registry and orchestrator.
// events may be nil to disable archival; idleWindow <= 0 selects the default.
func NewLobbyServer(logger *logrus.Logger, events lobby.EventSink, idleWindow time.Duration, catalog *mapvote.Catalog, voteCfg mapvote.Config) *LobbyServer {
	hub := NewHub(logger)
	registry := lobby.NewRegistry(logger, hub, hub, events, idleWindow)
	votes := mapvote.NewOrchestrator(logger, registry, catalog, hub, events, voteCfg)
	return &LobbyServer{
		Registry: registry,
		Votes:    votes,
		Hub:      hub,
		Logger:   logger,
	}
}

// requireIdentity authenticates the request via the auth_token cookie. On
// failure the error response has already been written and ok is false.
func requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	cookie := r.Header.Get("Cookie")
	if !strings.Contains(cookie, "auth_token=") {
		http.Error(w, "missing auth_token", http.StatusUnauthorized)
		return auth.Identity{}, false
	}
	id, err := auth.AuthenticateJWT(extractCookieToken(cookie, "auth_token"))
	if err != nil {
		http.Error(w, "invalid token", http.StatusForbidden)
		return auth.Identity{}, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeDomainError maps the core's sentinel errors to HTTP status codes and
// forwards the error text as the response body.
func writeDomainError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lobby.ErrLobbyNotFound),
		errors.Is(err, mapvote.ErrSessionNotFound),
		errors.Is(err, mapvote.ErrUnknownLobby):
		return http.StatusNotFound
	case errors.Is(err, lobby.ErrForbidden),
		errors.Is(err, mapvote.ErrNotYourSession):
		return http.StatusForbidden
	case errors.Is(err, lobby.ErrDuplicateLobby),
		errors.Is(err, lobby.ErrAlreadyMember),
		errors.Is(err, lobby.ErrNotInLobby),
		errors.Is(err, lobby.ErrCannotKickHost),
		errors.Is(err, lobby.ErrCannotKickSelf),
		errors.Is(err, lobby.ErrSameHost),
		errors.Is(err, mapvote.ErrWrongStage),
		errors.Is(err, mapvote.ErrVoteClosed):
		return http.StatusConflict
	case errors.Is(err, lobby.ErrInvalidSize),
		errors.Is(err, mapvote.ErrInvalidTags),
		errors.Is(err, mapvote.ErrInvalidChoice),
		errors.Is(err, mapvote.ErrNoHostedLobbies),
		errors.Is(err, mapvote.ErrNoMatchingMaps):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
