// internal/handlers/lobby_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/halocustoms/lobbyd/internal/auth"
	"github.com/halocustoms/lobbyd/internal/lobby"
	"github.com/halocustoms/lobbyd/internal/mapvote"
	"github.com/halocustoms/lobbyd/internal/middleware"
)

// wsClient is one connected websocket. Outgoing messages queue on out; a
// full queue drops the message rather than blocking the hub.
type wsClient struct {
	userID string
	out    chan map[string]interface{}
}

func (c *wsClient) send(msg map[string]interface{}) bool {
	select {
	case c.out <- msg:
		return true
	default:
		return false
	}
}

// renderState is the hub-side view of one lobby: its latest snapshot plus
// the clients watching it.
type renderState struct {
	key  string
	snap lobby.Snapshot
	subs map[*wsClient]bool
}

// Hub fans lobby state out to websocket subscribers. It implements
// lobby.Renderer and lobby.Notifier for the registry, and mapvote.Announcer
// for the orchestrator, so neither core package knows about websockets.
type Hub struct {
	mu      sync.Mutex
	renders map[lobby.RenderHandle]*renderState
	byLobby map[string]lobby.RenderHandle
	users   map[string]map[*wsClient]bool
	logger  *logrus.Logger
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		renders: make(map[lobby.RenderHandle]*renderState),
		byLobby: make(map[string]lobby.RenderHandle),
		users:   make(map[string]map[*wsClient]bool),
		logger:  logger,
	}
}

func renderKey(guildID, name string) string {
	return guildID + "/" + strings.ToLower(name)
}

// RenderLobby implements lobby.Renderer. The returned handle identifies the
// feed for later updates and removal.
func (h *Hub) RenderLobby(snap lobby.Snapshot) (lobby.RenderHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	handle := uuid.New()
	key := renderKey(snap.GuildID, snap.Name)
	h.renders[handle] = &renderState{key: key, snap: snap, subs: make(map[*wsClient]bool)}
	h.byLobby[key] = handle
	return handle, nil
}

// UpdateRender pushes a fresh snapshot to every subscriber of the feed.
func (h *Hub) UpdateRender(handle lobby.RenderHandle, snap lobby.Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.renders[handle]
	if !ok {
		return fmt.Errorf("no rendered view for lobby %s", snap.Name)
	}
	st.snap = snap
	h.broadcastUnsafe(st, map[string]interface{}{"type": "lobby_update", "lobby": snap})
	return nil
}

// RemoveRender announces closure and tears the feed down. Removing an
// already-removed feed is a no-op.
func (h *Hub) RemoveRender(handle lobby.RenderHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.renders[handle]
	if !ok {
		return nil
	}
	h.broadcastUnsafe(st, map[string]interface{}{"type": "lobby_closed", "lobby": st.snap.Name})
	delete(h.byLobby, st.key)
	delete(h.renders, handle)
	return nil
}

// NotifyUser implements lobby.Notifier over the user's notification
// sockets. A user with no open socket is unreachable; the registry logs
// that and moves on.
func (h *Hub) NotifyUser(userID, message string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.users[userID]
	if len(conns) == 0 {
		return fmt.Errorf("user %s has no notification stream", userID)
	}
	msg := map[string]interface{}{"type": "notice", "message": message}
	for c := range conns {
		if !c.send(msg) {
			h.logger.WithField("user", userID).Warn("notification queue full, dropping message")
		}
	}
	return nil
}

// AnnounceCandidates implements mapvote.Announcer: the ballot goes to every
// subscriber of the lobby's feed, with 1-based ordinals for casting votes.
func (h *Hub) AnnounceCandidates(guildID, lobbyName string, candidates []mapvote.GameMap, window time.Duration) error {
	ballot := make([]map[string]interface{}, len(candidates))
	for i, m := range candidates {
		ballot[i] = map[string]interface{}{"ordinal": i + 1, "map": m}
	}
	return h.announce(guildID, lobbyName, map[string]interface{}{
		"type":          "mapvote_candidates",
		"candidates":    ballot,
		"windowSeconds": int(window.Seconds()),
	})
}

func (h *Hub) AnnounceWinner(guildID, lobbyName string, result mapvote.Result) error {
	return h.announce(guildID, lobbyName, map[string]interface{}{
		"type":   "mapvote_winner",
		"map":    result.Winner,
		"votes":  result.Votes,
		"random": result.Random,
	})
}

func (h *Hub) AnnounceAborted(guildID, lobbyName, reason string) error {
	return h.announce(guildID, lobbyName, map[string]interface{}{
		"type":   "mapvote_aborted",
		"reason": reason,
	})
}

func (h *Hub) announce(guildID, lobbyName string, msg map[string]interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	handle, ok := h.byLobby[renderKey(guildID, lobbyName)]
	if !ok {
		return fmt.Errorf("lobby %s has no rendered view", lobbyName)
	}
	h.broadcastUnsafe(h.renders[handle], msg)
	return nil
}

// broadcastUnsafe queues msg on every subscriber. Assumes the hub lock is
// held.
func (h *Hub) broadcastUnsafe(st *renderState, msg map[string]interface{}) {
	for c := range st.subs {
		if !c.send(msg) {
			h.logger.WithField("user", c.userID).Warn("subscriber queue full, dropping message")
		}
	}
}

// subscribe attaches the client to the lobby's feed and queues the current
// snapshot so new subscribers start from a consistent view.
func (h *Hub) subscribe(guildID, lobbyName string, c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	handle, ok := h.byLobby[renderKey(guildID, lobbyName)]
	if !ok {
		return false
	}
	st := h.renders[handle]
	st.subs[c] = true
	c.send(map[string]interface{}{"type": "lobby_update", "lobby": st.snap})
	return true
}

// attachUser registers a notification socket for the user.
func (h *Hub) attachUser(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.users[c.userID]
	if !ok {
		set = make(map[*wsClient]bool)
		h.users[c.userID] = set
	}
	set[c] = true
}

// detach removes the client from every feed it is on.
func (h *Hub) detach(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, st := range h.renders {
		delete(st.subs, c)
	}
	if set, ok := h.users[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.userID)
		}
	}
}

// LobbyWSHandler streams a lobby's roster and map-vote announcements to
// subscribed clients. The stream is one-way: every mutation goes through the
// HTTP surface, so inbound frames are discarded.
func LobbyWSHandler(logger *logrus.Logger, s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/lobby/ws/"), "/")
		if len(pathParts) < 2 || pathParts[0] == "" || pathParts[1] == "" {
			http.Error(w, "missing guild or lobby name", http.StatusBadRequest)
			return
		}
		guildID, lobbyName := pathParts[0], pathParts[1]

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"lobby"},
			OriginPatterns: []string{"*"}, // adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "lobby" {
			c.Close(BadSubprotocolError, "client must speak the lobby subprotocol")
			return
		}

		id, err := auth.AuthenticateJWT(extractCookieToken(r.Header.Get("Cookie"), "auth_token"))
		if err != nil {
			c.Close(InvalidAuthTokenError, "authentication failed")
			return
		}

		if _, ok := s.Registry.Lookup(guildID, lobbyName); !ok {
			c.Close(InvalidLobbyIDError, "lobby does not exist")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		client := &wsClient{userID: id.UserID, out: make(chan map[string]interface{}, 16)}
		if !s.Hub.subscribe(guildID, lobbyName, client) {
			c.Close(InvalidLobbyIDError, "lobby has no active view")
			return
		}
		defer s.Hub.detach(client)

		logger.Infof("User %v (%s) subscribed to lobby %s/%s", id.UserID, r.RemoteAddr, guildID, lobbyName)

		go writePump(ctx, c, client, logger)
		err = readPump(ctx, c)
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, err)
	}
}

// NotifyWSHandler is the per-user direct message stream. Kick, migration and
// host-change notices arrive here.
func NotifyWSHandler(logger *logrus.Logger, s *LobbyServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"notify"},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "notify" {
			c.Close(BadSubprotocolError, "client must speak the notify subprotocol")
			return
		}

		id, err := auth.AuthenticateJWT(extractCookieToken(r.Header.Get("Cookie"), "auth_token"))
		if err != nil {
			c.Close(InvalidAuthTokenError, "authentication failed")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		client := &wsClient{userID: id.UserID, out: make(chan map[string]interface{}, 16)}
		s.Hub.attachUser(client)
		defer s.Hub.detach(client)

		logger.Infof("User %v (%s) opened a notification stream", id.UserID, r.RemoteAddr)

		go writePump(ctx, c, client, logger)
		err = readPump(ctx, c)
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, err)
	}
}

// readPump drains the connection until it closes. Clients do not send
// anything meaningful on these streams.
func readPump(ctx context.Context, c *websocket.Conn) error {
	for {
		if _, _, err := c.Read(ctx); err != nil {
			return err
		}
	}
}

// writePump serializes queued messages onto the socket and pings
// periodically so dead peers are noticed.
func writePump(ctx context.Context, c *websocket.Conn, client *wsClient, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-client.out:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("failed to marshal outgoing msg for user %v: %v", client.userID, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("failed to write to websocket for user %v: %v", client.userID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("ping to user %v failed, assuming disconnect: %v", client.userID, err)
				return
			}
		}
	}
}
