package race

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/keyrace/keyrace/internal/events"
	"github.com/keyrace/keyrace/internal/models"
	"github.com/rs/zerolog/log"
)

// Broadcaster delivers events to the connections subscribed to a room. It
// holds no game-state authority, only routing. Implementations must not
// block: Publish is called while the room lock is held so that subscribers
// observe events in the order they were applied to room state.
type Broadcaster interface {
	// Publish sends an event to every connection subscribed to the room.
	Publish(roomID string, ev events.Event)
	// PublishExcept sends an event to every subscribed connection except one.
	PublishExcept(roomID, exceptConnID string, ev events.Event)
	// Deliver sends an event to exactly one connection.
	Deliver(connID string, ev events.Event)
}

// ResultSink accepts a batch of finished-game results for persistence.
// Saves are best-effort: callers log failures and move on.
type ResultSink interface {
	Save(ctx context.Context, results []models.GameResult) error
}

// Settings holds the tunable race parameters.
type Settings struct {
	MinPlayers       int
	CountdownSeconds int
	GameTimeout      time.Duration
	SaveTimeout      time.Duration
}

// DefaultSettings returns the standard race configuration.
func DefaultSettings() Settings {
	return Settings{
		MinPlayers:       2,
		CountdownSeconds: 10,
		GameTimeout:      2 * time.Minute,
		SaveTimeout:      5 * time.Second,
	}
}

// deps bundles the collaborators a room needs. All rooms created by the same
// registry share one deps value.
type deps struct {
	broadcaster Broadcaster
	sink        ResultSink
	timers      *timerService
	clock       clockwork.Clock
	settings    Settings
	ctx         context.Context
}

// Room owns one race's full state and its phase transitions. Every exported
// method takes the room mutex, so operations are serialized per room whether
// they originate from a connection event or a timer. Different rooms share
// nothing and run fully in parallel.
type Room struct {
	id   string
	text string

	mu        sync.Mutex
	phase     models.Phase
	countdown int
	startTime time.Time
	players   []*models.Player
	byKey     map[string]*models.Player
	chat      []models.ChatMessage

	stopCountdown context.CancelFunc
	stopWatchdog  context.CancelFunc

	deps deps
}

func newRoom(id, text string, d deps) *Room {
	return &Room{
		id:    id,
		text:  text,
		phase: models.PhaseWaiting,
		byKey: make(map[string]*models.Player),
		deps:  d,
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Phase returns the room's current phase.
func (r *Room) Phase() models.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// AddPlayer joins a connection to the room. A username already present is a
// rejoin: its connection id is rebound and the disconnected flag cleared,
// keeping progress and stats. Otherwise a fresh player is appended in join
// order. Reaching quorum while Waiting starts the countdown; a room already
// past Waiting never restarts it.
func (r *Room) AddPlayer(connID, username string) {
	if connID == "" || username == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byKey[username]
	if ok {
		p.ConnID = connID
		p.Disconnected = false
		log.Info().Str("room_id", r.id).Str("username", username).Msg("player rejoined")
	} else {
		p = &models.Player{
			Key:      username,
			Username: username,
			ConnID:   connID,
			Accuracy: 100,
		}
		r.players = append(r.players, p)
		r.byKey[username] = p
		log.Info().Str("room_id", r.id).Str("username", username).Int("players", len(r.players)).Msg("player joined")
	}

	r.deps.broadcaster.Deliver(connID, events.New(r.id, events.TypeRoomData, r.snapshotLocked()))
	r.deps.broadcaster.PublishExcept(r.id, connID, events.New(r.id, events.TypePlayerJoined, *p))
	r.publishPlayersLocked()

	if r.phase == models.PhaseWaiting && len(r.players) >= r.deps.settings.MinPlayers {
		r.phase = models.PhaseCountdown
		r.countdown = r.deps.settings.CountdownSeconds
		r.stopCountdown = r.deps.timers.startCountdown(r.deps.ctx, r.id)
		log.Info().Str("room_id", r.id).Int("countdown", r.countdown).Msg("quorum reached, countdown started")
	}
}

// MarkDisconnected flags the player owning the connection id as disconnected
// and clears the binding. The player keeps its stats and its place in the
// standings; no phase transition happens here.
func (r *Room) MarkDisconnected(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.byConnLocked(connID)
	if p == nil {
		return
	}
	p.Disconnected = true
	p.ConnID = ""

	log.Info().Str("room_id", r.id).Str("username", p.Username).Msg("player disconnected")

	r.deps.broadcaster.Publish(r.id, events.New(r.id, events.TypePlayerLeft, events.PlayerLeftPayload{PlayerID: p.Key}))
	r.publishPlayersLocked()
}

// RecordProgress applies self-reported stats from a playing connection.
// Outside the Playing phase, or for an unknown connection id, it is a no-op.
// Progress and accuracy are clamped to [0,100]. When every player, connected
// or not, has progress >= 100 the room finishes.
func (r *Room) RecordProgress(connID string, progress, wpm, accuracy float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != models.PhasePlaying {
		return
	}
	p := r.byConnLocked(connID)
	if p == nil {
		return
	}

	p.Progress = clamp(progress)
	p.WPM = wpm
	p.Accuracy = clamp(accuracy)

	r.deps.broadcaster.PublishExcept(r.id, connID, events.New(r.id, events.TypePlayerProgress, events.PlayerProgressPayload{
		PlayerID: p.Key,
		Progress: p.Progress,
		WPM:      p.WPM,
		Accuracy: p.Accuracy,
	}))

	for _, q := range r.players {
		if q.Progress < 100 {
			return
		}
	}
	log.Info().Str("room_id", r.id).Msg("all players finished")
	r.finishLocked()
}

// TickCountdown advances the countdown by one second. It reports whether the
// ticker should keep firing: false once the room has left the Countdown
// phase. At zero the room enters Playing, records the start timestamp,
// broadcasts the text and arms the timeout watchdog.
func (r *Room) TickCountdown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != models.PhaseCountdown {
		return false
	}

	r.countdown--
	r.deps.broadcaster.Publish(r.id, events.New(r.id, events.TypeCountdown, events.CountdownPayload{Remaining: r.countdown}))
	if r.countdown > 0 {
		return true
	}

	r.phase = models.PhasePlaying
	r.startTime = r.deps.clock.Now().UTC()
	if r.stopCountdown != nil {
		r.stopCountdown()
		r.stopCountdown = nil
	}

	r.deps.broadcaster.Publish(r.id, events.New(r.id, events.TypeGameStart, events.GameStartPayload{
		Text:      r.text,
		StartTime: r.startTime,
	}))
	r.stopWatchdog = r.deps.timers.armWatchdog(r.deps.ctx, r.id, r.deps.settings.GameTimeout)

	log.Info().Str("room_id", r.id).Time("start_time", r.startTime).Msg("game started")
	return false
}

// Finish moves the room to its terminal phase. It is idempotent: the second
// of two racing callers (all-players-done vs. timeout watchdog) observes
// Finished and does nothing.
func (r *Room) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishLocked()
}

func (r *Room) finishLocked() {
	if r.phase == models.PhaseFinished {
		return
	}
	r.phase = models.PhaseFinished

	if r.stopCountdown != nil {
		r.stopCountdown()
		r.stopCountdown = nil
	}
	if r.stopWatchdog != nil {
		r.stopWatchdog()
		r.stopWatchdog = nil
	}

	now := r.deps.clock.Now().UTC()
	results := make([]models.GameResult, 0, len(r.players))
	for _, p := range r.players {
		results = append(results, models.GameResult{
			Username:  p.Username,
			WPM:       p.WPM,
			Accuracy:  p.Accuracy,
			RoomID:    r.id,
			Timestamp: now,
		})
	}

	// Persistence is fire-and-forget: the game-end broadcast must not wait on
	// the sink and a sink failure only costs the durable leaderboard rows.
	go r.saveResults(results)

	r.deps.broadcaster.Publish(r.id, events.New(r.id, events.TypeGameEnd, events.GameEndPayload{Results: results}))
	log.Info().Str("room_id", r.id).Int("results", len(results)).Msg("game finished")
}

func (r *Room) saveResults(results []models.GameResult) {
	if r.deps.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.deps.settings.SaveTimeout)
	defer cancel()

	if err := r.deps.sink.Save(ctx, results); err != nil {
		log.Error().Err(err).Str("room_id", r.id).Int("results", len(results)).Msg("failed to persist game results")
	}
}

// RecordChat appends a chat message with a server-assigned timestamp and
// echoes it to every subscriber, the sender included. Chat is accepted in
// any phase, Finished included.
func (r *Room) RecordChat(username, message string) {
	if username == "" || message == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	msg := models.ChatMessage{
		Username:  username,
		Message:   message,
		Timestamp: r.deps.clock.Now().UTC(),
	}
	r.chat = append(r.chat, msg)
	r.deps.broadcaster.Publish(r.id, events.New(r.id, events.TypeReceiveMessage, msg))
}

// Snapshot returns a copy of the full room state for a joining connection.
func (r *Room) Snapshot() models.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() models.RoomSnapshot {
	snap := models.RoomSnapshot{
		ID:        r.id,
		Players:   make([]models.Player, len(r.players)),
		Text:      r.text,
		Phase:     r.phase,
		Countdown: r.countdown,
		Messages:  append([]models.ChatMessage(nil), r.chat...),
	}
	for i, p := range r.players {
		snap.Players[i] = *p
	}
	if !r.startTime.IsZero() {
		t := r.startTime
		snap.StartTime = &t
	}
	return snap
}

func (r *Room) publishPlayersLocked() {
	players := make([]models.Player, len(r.players))
	for i, p := range r.players {
		players[i] = *p
	}
	r.deps.broadcaster.Publish(r.id, events.New(r.id, events.TypePlayersUpdate, players))
}

func (r *Room) byConnLocked(connID string) *models.Player {
	if connID == "" {
		return nil
	}
	for _, p := range r.players {
		if p.ConnID == connID {
			return p
		}
	}
	return nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
