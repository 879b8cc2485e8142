// internal/mapvote/session.go
package mapvote

import (
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/halocustoms/lobbyd/internal/lobby"
)

// Errors returned by the map vote flow. Timeout errors are also used as
// abort reasons when a step's deadline expires.
var (
	ErrNoHostedLobbies   = errors.New("you are not hosting any active lobbies")
	ErrNoMatchingMaps    = errors.New("no maps found matching the selected criteria")
	ErrSessionNotFound   = errors.New("map vote session not found")
	ErrNotYourSession    = errors.New("only the initiating host can drive this map vote")
	ErrWrongStage        = errors.New("this map vote is not waiting for that step")
	ErrInvalidTags       = errors.New("invalid lobby size or gamemode selection")
	ErrInvalidChoice     = errors.New("invalid candidate choice")
	ErrUnknownLobby      = errors.New("selected lobby not found or has been closed")
	ErrVoteClosed        = errors.New("voting has closed")
	ErrSelectionTimedOut = errors.New("map vote initiation timed out")
	ErrFiltersTimedOut   = errors.New("map vote setup timed out")
)

// Stage is a map-vote session's position in its flow.
type Stage int

const (
	StageSelectingLobby Stage = iota
	StageSelectingFilters
	StageVoting
	StageResolved
	StageAborted
)

func (s Stage) String() string {
	switch s {
	case StageSelectingLobby:
		return "selecting_lobby"
	case StageSelectingFilters:
		return "selecting_filters"
	case StageVoting:
		return "voting"
	case StageResolved:
		return "resolved"
	case StageAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// session is the per-invocation state machine. Guarded by the
// Orchestrator's mutex.
type session struct {
	id      uuid.UUID
	guildID string
	hostID  string

	stage     Stage
	lobbyName string
	hosted    []lobby.Snapshot

	sizes      []string
	gamemodes  []string
	candidates []GameMap

	// voters[i] is the set of users who marked candidate i. A user may mark
	// several candidates and is counted on each, mirroring the
	// reaction-count model; marking the same candidate twice is idempotent.
	voters []map[string]bool

	timer *time.Timer
}

// View is the adapter-facing copy of a session's current state.
type View struct {
	ID         uuid.UUID        `json:"id"`
	GuildID    string           `json:"guildId"`
	HostID     string           `json:"hostId"`
	Stage      string           `json:"stage"`
	LobbyName  string           `json:"lobbyName,omitempty"`
	Hosted     []lobby.Snapshot `json:"hostedLobbies,omitempty"`
	Candidates []GameMap        `json:"candidates,omitempty"`
}

func (s *session) view() View {
	return View{
		ID:         s.id,
		GuildID:    s.guildID,
		HostID:     s.hostID,
		Stage:      s.stage.String(),
		LobbyName:  s.lobbyName,
		Hosted:     s.hosted,
		Candidates: append([]GameMap(nil), s.candidates...),
	}
}

func (s *session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Result is the outcome of a resolved vote.
type Result struct {
	Winner GameMap
	Votes  int
	// Random is true when the winner was drawn at random because no
	// positive votes were cast.
	Random bool
}

// tally counts votes per candidate.
func tally(voters []map[string]bool) []int {
	counts := make([]int, len(voters))
	for i, set := range voters {
		counts[i] = len(set)
	}
	return counts
}

// pickWinner resolves the vote: with no positive votes the winner is drawn
// uniformly at random among all candidates; otherwise the highest count
// wins, with ties broken uniformly at random among the tied candidates.
func pickWinner(candidates []GameMap, counts []int) Result {
	maxVotes := 0
	for _, c := range counts {
		if c > maxVotes {
			maxVotes = c
		}
	}
	if maxVotes == 0 {
		return Result{Winner: candidates[rand.Intn(len(candidates))], Random: true}
	}
	var tied []int
	for i, c := range counts {
		if c == maxVotes {
			tied = append(tied, i)
		}
	}
	idx := tied[rand.Intn(len(tied))]
	return Result{Winner: candidates[idx], Votes: maxVotes}
}
