// internal/mapvote/orchestrator.go
package mapvote

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/halocustoms/lobbyd/internal/lobby"
)

// Announcer publishes the vote's public messages to the lobby's channel.
// Implementations live in the adapter layer; every call is best-effort.
type Announcer interface {
	AnnounceCandidates(guildID, lobbyName string, candidates []GameMap, window time.Duration) error
	AnnounceWinner(guildID, lobbyName string, result Result) error
	AnnounceAborted(guildID, lobbyName, reason string) error
}

// Config carries the per-step deadlines. Zero values select the defaults
// used by the platform bot: 60s for each selection step, 30s of voting.
type Config struct {
	SelectTimeout time.Duration
	FilterTimeout time.Duration
	VoteWindow    time.Duration
}

func (c Config) withDefaults() Config {
	if c.SelectTimeout <= 0 {
		c.SelectTimeout = 60 * time.Second
	}
	if c.FilterTimeout <= 0 {
		c.FilterTimeout = 60 * time.Second
	}
	if c.VoteWindow <= 0 {
		c.VoteWindow = 30 * time.Second
	}
	return c
}

// Orchestrator runs map-vote sessions: lobby selection, filter selection, a
// timed vote over sampled candidates, and resolution. Sessions are ephemeral
// and vanish on any terminal transition; lobby state is never touched.
type Orchestrator struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*session

	registry  *lobby.Registry
	catalog   *Catalog
	announcer Announcer
	events    lobby.EventSink
	logger    *logrus.Logger
	cfg       Config
}

// NewOrchestrator builds an Orchestrator. events may be nil.
func NewOrchestrator(logger *logrus.Logger, registry *lobby.Registry, catalog *Catalog, announcer Announcer, events lobby.EventSink, cfg Config) *Orchestrator {
	return &Orchestrator{
		sessions:  make(map[uuid.UUID]*session),
		registry:  registry,
		catalog:   catalog,
		announcer: announcer,
		events:    events,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

// Start opens a session for the invoking host. With a single hosted lobby
// the selection step is skipped and the session waits for filters; with
// several it waits for a lobby selection. Each wait carries a deadline that
// aborts the whole flow on expiry.
func (o *Orchestrator) Start(guildID, hostID string) (View, error) {
	hosted := o.registry.HostedBy(guildID, hostID)
	if len(hosted) == 0 {
		return View{}, ErrNoHostedLobbies
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	s := &session{
		id:      uuid.New(),
		guildID: guildID,
		hostID:  hostID,
		hosted:  hosted,
	}
	if len(hosted) == 1 {
		s.stage = StageSelectingFilters
		s.lobbyName = hosted[0].Name
		o.armTimeoutUnsafe(s, o.cfg.FilterTimeout, ErrFiltersTimedOut)
	} else {
		s.stage = StageSelectingLobby
		o.armTimeoutUnsafe(s, o.cfg.SelectTimeout, ErrSelectionTimedOut)
	}
	o.sessions[s.id] = s
	return s.view(), nil
}

// SelectLobby records the host's lobby choice and advances to filter
// selection.
func (o *Orchestrator) SelectLobby(sessionID uuid.UUID, actorID, lobbyName string) (View, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, err := o.sessionForUnsafe(sessionID, actorID, StageSelectingLobby)
	if err != nil {
		return View{}, err
	}
	snap, ok := o.registry.Lookup(s.guildID, lobbyName)
	if !ok || snap.HostID != actorID {
		return View{}, ErrUnknownLobby
	}

	s.stopTimer()
	s.stage = StageSelectingFilters
	s.lobbyName = snap.Name
	o.armTimeoutUnsafe(s, o.cfg.FilterTimeout, ErrFiltersTimedOut)
	return s.view(), nil
}

// SubmitFilters records the size and gamemode tags, samples candidates and
// opens the timed vote. An empty filter result terminates the session with
// no vote opened.
func (o *Orchestrator) SubmitFilters(sessionID uuid.UUID, actorID string, sizes, gamemodes []string) (View, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, err := o.sessionForUnsafe(sessionID, actorID, StageSelectingFilters)
	if err != nil {
		return View{}, err
	}
	if !validTags(sizes, ValidLobbySizes) || !validTags(gamemodes, ValidGamemodes) {
		return View{}, ErrInvalidTags
	}

	matched := o.catalog.Filter(sizes, gamemodes)
	if len(matched) == 0 {
		o.abortUnsafe(s, ErrNoMatchingMaps)
		return View{}, ErrNoMatchingMaps
	}

	s.stopTimer()
	s.sizes = sizes
	s.gamemodes = gamemodes
	s.candidates = sampleMaps(matched, 3)
	s.voters = make([]map[string]bool, len(s.candidates))
	for i := range s.voters {
		s.voters[i] = make(map[string]bool)
	}
	s.stage = StageVoting

	guildID, lobbyName := s.guildID, s.lobbyName
	candidates := append([]GameMap(nil), s.candidates...)
	if err := o.announcer.AnnounceCandidates(guildID, lobbyName, candidates, o.cfg.VoteWindow); err != nil {
		o.logger.WithError(err).WithField("lobby", lobbyName).Warn("candidate announcement failed")
	}
	o.record(lobby.Event{Type: lobby.EventVoteOpened, GuildID: guildID, Lobby: lobbyName, ActorID: actorID,
		Detail: map[string]interface{}{"candidates": mapNames(candidates)}})

	id := s.id
	s.timer = time.AfterFunc(o.cfg.VoteWindow, func() {
		o.closeVote(id)
	})
	return s.view(), nil
}

// CastVote marks the voter on the candidate with the given 1-based ordinal.
// A user may mark several candidates and is counted on each; repeating the
// same mark is a no-op. Late votes after resolution fail with ErrVoteClosed.
func (o *Orchestrator) CastVote(sessionID uuid.UUID, voterID string, choice int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.sessions[sessionID]
	if !ok {
		return ErrVoteClosed
	}
	if s.stage != StageVoting {
		return ErrWrongStage
	}
	if choice < 1 || choice > len(s.candidates) {
		return ErrInvalidChoice
	}
	s.voters[choice-1][voterID] = true
	return nil
}

// Lookup returns the session's current view.
func (o *Orchestrator) Lookup(sessionID uuid.UUID) (View, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[sessionID]
	if !ok {
		return View{}, false
	}
	return s.view(), true
}

// closeVote resolves the session when the voting window expires.
func (o *Orchestrator) closeVote(sessionID uuid.UUID) {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	if !ok || s.stage != StageVoting {
		// stale timer; the session already ended
		o.mu.Unlock()
		return
	}
	result := pickWinner(s.candidates, tally(s.voters))
	s.stage = StageResolved
	delete(o.sessions, sessionID)
	guildID, lobbyName, hostID := s.guildID, s.lobbyName, s.hostID
	o.mu.Unlock()

	if err := o.announcer.AnnounceWinner(guildID, lobbyName, result); err != nil {
		o.logger.WithError(err).WithField("lobby", lobbyName).Warn("winner announcement failed")
	}
	o.record(lobby.Event{Type: lobby.EventVoteResolved, GuildID: guildID, Lobby: lobbyName, ActorID: hostID,
		Detail: map[string]interface{}{"winner": result.Winner.Name, "votes": result.Votes, "random": result.Random}})
	o.logger.WithFields(logrus.Fields{"lobby": lobbyName, "winner": result.Winner.Name, "votes": result.Votes,
		"random": result.Random}).Info("map vote resolved")
}

// sessionForUnsafe validates ownership and stage. Assumes the lock is held.
func (o *Orchestrator) sessionForUnsafe(sessionID uuid.UUID, actorID string, want Stage) (*session, error) {
	s, ok := o.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.hostID != actorID {
		return nil, ErrNotYourSession
	}
	if s.stage != want {
		return nil, ErrWrongStage
	}
	return s, nil
}

// armTimeoutUnsafe schedules an abort for a selection step. The callback
// re-checks the stage so a timer firing after the step advanced is a no-op.
// Assumes the lock is held.
func (o *Orchestrator) armTimeoutUnsafe(s *session, d time.Duration, reason error) {
	id, stage := s.id, s.stage
	s.timer = time.AfterFunc(d, func() {
		o.mu.Lock()
		cur, ok := o.sessions[id]
		if !ok || cur.stage != stage {
			o.mu.Unlock()
			return
		}
		o.abortUnsafe(cur, reason)
		o.mu.Unlock()
	})
}

// abortUnsafe terminates the session and clears its pending timer. The
// abort announcement happens on a separate goroutine so callers holding the
// lock are never blocked on adapter I/O. Assumes the lock is held.
func (o *Orchestrator) abortUnsafe(s *session, reason error) {
	s.stopTimer()
	s.stage = StageAborted
	delete(o.sessions, s.id)

	guildID, lobbyName := s.guildID, s.lobbyName
	o.logger.WithFields(logrus.Fields{"guild": guildID, "lobby": lobbyName, "reason": reason}).Info("map vote aborted")
	go func() {
		if err := o.announcer.AnnounceAborted(guildID, lobbyName, reason.Error()); err != nil {
			o.logger.WithError(err).Warn("abort announcement failed")
		}
	}()
}

func (o *Orchestrator) record(evt lobby.Event) {
	if o.events == nil {
		return
	}
	evt.At = time.Now()
	o.events.Record(evt)
}
