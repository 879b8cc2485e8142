// internal/handlers/mapvote_test.go
package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/halocustoms/lobbyd/internal/auth"
	"github.com/halocustoms/lobbyd/internal/mapvote"
)

// TestMapVoteFlowOverHTTP drives a vote from start through casting a ballot.
func TestMapVoteFlowOverHTTP(t *testing.T) {
	auth.Init()
	s := newTestServer()

	hostToken, _ := auth.CreateJWT("H1", []string{"g1"})
	if w := postJSON(t, CreateLobbyHandler(s), "/lobby/create",
		hostToken, `{"guildId":"g1","name":"Alpha","maxPlayers":8}`); w.Code != http.StatusOK {
		t.Fatalf("create failed: %d %s", w.Code, w.Body.String())
	}

	w := postJSON(t, StartMapVoteHandler(s), "/mapvote/start", hostToken, `{"guildId":"g1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("start failed: %d %s", w.Code, w.Body.String())
	}
	var v mapvote.View
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode view: %v", err)
	}
	// single hosted lobby skips the selection step
	if v.Stage != "selecting_filters" {
		t.Fatalf("expected selecting_filters, got %q", v.Stage)
	}

	body := `{"sessionId":"` + v.ID.String() + `","sizes":["small","medium"],"gamemodes":["standard"]}`
	w = postJSON(t, SubmitVoteFiltersHandler(s), "/mapvote/filters", hostToken, body)
	if w.Code != http.StatusOK {
		t.Fatalf("filters failed: %d %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode view: %v", err)
	}
	if v.Stage != "voting" || len(v.Candidates) != 2 {
		t.Fatalf("expected 2 candidates in voting stage, got %q with %d", v.Stage, len(v.Candidates))
	}

	voterToken, _ := auth.CreateJWT("U1", nil)
	w = postJSON(t, CastVoteHandler(s), "/mapvote/cast",
		voterToken, `{"sessionId":"`+v.ID.String()+`","choice":1}`)
	if w.Code != http.StatusOK {
		t.Fatalf("cast failed: %d %s", w.Code, w.Body.String())
	}

	w = postJSON(t, CastVoteHandler(s), "/mapvote/cast",
		voterToken, `{"sessionId":"`+v.ID.String()+`","choice":9}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range choice, got %d", w.Code)
	}
}

// TestMapVoteStartWithoutHostedLobby maps the domain error to 400.
func TestMapVoteStartWithoutHostedLobby(t *testing.T) {
	auth.Init()
	s := newTestServer()

	token, _ := auth.CreateJWT("U1", nil)
	w := postJSON(t, StartMapVoteHandler(s), "/mapvote/start", token, `{"guildId":"g1"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

// TestMapVoteFiltersRejectIntruder checks session ownership over HTTP.
func TestMapVoteFiltersRejectIntruder(t *testing.T) {
	auth.Init()
	s := newTestServer()

	hostToken, _ := auth.CreateJWT("H1", []string{"g1"})
	postJSON(t, CreateLobbyHandler(s), "/lobby/create",
		hostToken, `{"guildId":"g1","name":"Alpha","maxPlayers":8}`)

	w := postJSON(t, StartMapVoteHandler(s), "/mapvote/start", hostToken, `{"guildId":"g1"}`)
	var v mapvote.View
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode view: %v", err)
	}

	intruderToken, _ := auth.CreateJWT("U2", nil)
	w = postJSON(t, SubmitVoteFiltersHandler(s), "/mapvote/filters",
		intruderToken, `{"sessionId":"`+v.ID.String()+`","sizes":["small"],"gamemodes":["standard"]}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}
