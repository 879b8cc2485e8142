// cmd/server/main.go
package main

import (
	"log"
	"net/http"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/halocustoms/lobbyd/internal/auth"
	"github.com/halocustoms/lobbyd/internal/events"
	"github.com/halocustoms/lobbyd/internal/handlers"
	"github.com/halocustoms/lobbyd/internal/lobby"
	"github.com/halocustoms/lobbyd/internal/mapvote"
	"github.com/halocustoms/lobbyd/internal/middleware"
)

func main() {
	auth.Init()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	catalogPath := os.Getenv("MAP_CATALOG_PATH")
	if catalogPath == "" {
		catalogPath = "mapDatabase.json"
	}
	catalog, err := mapvote.LoadCatalog(catalogPath)
	if err != nil {
		log.Fatalf("failed to load map catalog: %v", err)
	}
	logger.Infof("Loaded %d maps from %s", catalog.Len(), catalogPath)

	var sink lobby.EventSink
	if os.Getenv("REDIS_ADDR") != "" {
		pub, err := events.Connect(logger)
		if err != nil {
			log.Fatalf("failed to connect event publisher: %v", err)
		}
		defer pub.Close()
		sink = pub
	} else {
		logger.Warn("REDIS_ADDR not set, lobby events will not be archived")
	}

	idleWindow := lobby.DefaultIdleWindow
	if v := os.Getenv("LOBBY_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("invalid LOBBY_IDLE_TIMEOUT: %v", err)
		}
		idleWindow = d
	}

	s := handlers.NewLobbyServer(logger, sink, idleWindow, catalog, mapvote.Config{})

	mux := http.NewServeMux()
	logged := middleware.LogMiddleware(logger)

	// lobby endpoints
	mux.Handle("/lobby/create", logged(handlers.CreateLobbyHandler(s)))
	mux.Handle("/lobby/join", logged(handlers.JoinLobbyHandler(s)))
	mux.Handle("/lobby/leave", logged(handlers.LeaveLobbyHandler(s)))
	mux.Handle("/lobby/kick", logged(handlers.KickLobbyHandler(s)))
	mux.Handle("/lobby/host", logged(handlers.ReassignHostHandler(s)))
	mux.Handle("/lobby/resize", logged(handlers.ResizeLobbyHandler(s)))
	mux.Handle("/lobby/end", logged(handlers.EndLobbyHandler(s)))
	mux.Handle("/lobby/list", logged(handlers.ListLobbiesHandler(s)))
	mux.Handle("/lobby/get", logged(handlers.GetLobbyHandler(s)))

	// map vote endpoints
	mux.Handle("/mapvote/start", logged(handlers.StartMapVoteHandler(s)))
	mux.Handle("/mapvote/select", logged(handlers.SelectVoteLobbyHandler(s)))
	mux.Handle("/mapvote/filters", logged(handlers.SubmitVoteFiltersHandler(s)))
	mux.Handle("/mapvote/cast", logged(handlers.CastVoteHandler(s)))
	mux.Handle("/mapvote/status", logged(handlers.GetMapVoteHandler(s)))

	// websocket streams skip the logging wrapper so the connection can be
	// hijacked for the upgrade
	mux.Handle("/lobby/ws/", handlers.LobbyWSHandler(logger, s))
	mux.Handle("/notify/ws", handlers.NotifyWSHandler(logger, s))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
