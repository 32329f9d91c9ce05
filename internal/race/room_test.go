package race

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/keyrace/keyrace/internal/events"
	"github.com/keyrace/keyrace/internal/models"
)

type fakeBroadcaster struct {
	mu        sync.Mutex
	published []events.Event
	delivered map[string][]events.Event
	excepted  map[string][]events.Event // keyed by excluded conn id
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{
		delivered: make(map[string][]events.Event),
		excepted:  make(map[string][]events.Event),
	}
}

func (f *fakeBroadcaster) Publish(roomID string, ev events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, ev)
}

func (f *fakeBroadcaster) PublishExcept(roomID, exceptConnID string, ev events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.excepted[exceptConnID] = append(f.excepted[exceptConnID], ev)
}

func (f *fakeBroadcaster) Deliver(connID string, ev events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered[connID] = append(f.delivered[connID], ev)
}

func (f *fakeBroadcaster) countPublished(t events.Type) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.published {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (f *fakeBroadcaster) publishedTypes() []events.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Type, len(f.published))
	for i, ev := range f.published {
		out[i] = ev.Type
	}
	return out
}

type fakeSink struct {
	mu      sync.Mutex
	batches [][]models.GameResult
	err     error
}

func (f *fakeSink) Save(ctx context.Context, results []models.GameResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, results)
	return f.err
}

func (f *fakeSink) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeSink) lastBatch() []models.GameResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil
	}
	return f.batches[len(f.batches)-1]
}

func testSettings() Settings {
	return Settings{
		MinPlayers:       2,
		CountdownSeconds: 10,
		GameTimeout:      2 * time.Minute,
		SaveTimeout:      time.Second,
	}
}

func newTestRig(t *testing.T) (*Registry, *fakeBroadcaster, *fakeSink, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	fb := newFakeBroadcaster()
	fs := &fakeSink{}
	reg := NewRegistry(context.Background(), testSettings(), fb, fs, fc, nil)
	return reg, fb, fs, fc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// startPlaying joins two players and runs the countdown to zero.
func startPlaying(t *testing.T, reg *Registry, roomID string) *Room {
	t.Helper()
	room := reg.GetOrCreate(roomID)
	room.AddPlayer("conn-alice", "alice")
	room.AddPlayer("conn-bob", "bob")
	for room.TickCountdown() {
	}
	if got := room.Phase(); got != models.PhasePlaying {
		t.Fatalf("phase = %s, want %s", got, models.PhasePlaying)
	}
	return room
}

func TestJoinBelowQuorumStaysWaiting(t *testing.T) {
	reg, fb, _, _ := newTestRig(t)
	room := reg.GetOrCreate("R1")

	room.AddPlayer("conn-alice", "alice")

	if got := room.Phase(); got != models.PhaseWaiting {
		t.Fatalf("phase = %s, want %s", got, models.PhaseWaiting)
	}
	snap := room.Snapshot()
	if len(snap.Players) != 1 {
		t.Fatalf("players = %d, want 1", len(snap.Players))
	}
	if got := len(fb.delivered["conn-alice"]); got != 1 {
		t.Fatalf("room-data deliveries to joiner = %d, want 1", got)
	}
	if fb.delivered["conn-alice"][0].Type != events.TypeRoomData {
		t.Fatalf("joiner got %s, want %s", fb.delivered["conn-alice"][0].Type, events.TypeRoomData)
	}
}

func TestQuorumStartsCountdown(t *testing.T) {
	reg, fb, _, _ := newTestRig(t)
	room := reg.GetOrCreate("R1")

	room.AddPlayer("conn-alice", "alice")
	room.AddPlayer("conn-bob", "bob")

	if got := room.Phase(); got != models.PhaseCountdown {
		t.Fatalf("phase = %s, want %s", got, models.PhaseCountdown)
	}
	if got := room.Snapshot().Countdown; got != 10 {
		t.Fatalf("countdown = %d, want 10", got)
	}
	if got := fb.countPublished(events.TypePlayersUpdate); got != 2 {
		t.Fatalf("players-update broadcasts = %d, want 2", got)
	}

	// A third join must not restart the countdown.
	room.AddPlayer("conn-carol", "carol")
	if got := room.Snapshot().Countdown; got != 10 {
		t.Fatalf("countdown after extra join = %d, want 10", got)
	}
}

func TestCountdownStrictlyDecreasesToPlaying(t *testing.T) {
	reg, fb, _, fc := newTestRig(t)
	room := reg.GetOrCreate("R1")
	room.AddPlayer("conn-alice", "alice")
	room.AddPlayer("conn-bob", "bob")

	for want := 9; want >= 1; want-- {
		if !room.TickCountdown() {
			t.Fatalf("ticker stopped early at countdown %d", want)
		}
		if got := room.Snapshot().Countdown; got != want {
			t.Fatalf("countdown = %d, want %d", got, want)
		}
	}

	// Final tick: 1 -> 0 and into Playing.
	if room.TickCountdown() {
		t.Fatal("ticker kept running after reaching zero")
	}
	if got := room.Phase(); got != models.PhasePlaying {
		t.Fatalf("phase = %s, want %s", got, models.PhasePlaying)
	}
	snap := room.Snapshot()
	if snap.StartTime == nil || !snap.StartTime.Equal(fc.Now().UTC()) {
		t.Fatalf("startTime = %v, want %v", snap.StartTime, fc.Now().UTC())
	}
	if got := fb.countPublished(events.TypeCountdown); got != 10 {
		t.Fatalf("countdown broadcasts = %d, want 10", got)
	}
	if got := fb.countPublished(events.TypeGameStart); got != 1 {
		t.Fatalf("game-start broadcasts = %d, want 1", got)
	}

	// A stray tick after the transition is a no-op.
	if room.TickCountdown() {
		t.Fatal("tick accepted outside Countdown phase")
	}
}

func TestAllPlayersFinishedEndsGame(t *testing.T) {
	reg, fb, fs, _ := newTestRig(t)
	room := startPlaying(t, reg, "R1")

	room.RecordProgress("conn-alice", 100, 82, 97)
	if got := room.Phase(); got != models.PhasePlaying {
		t.Fatalf("phase after one finisher = %s, want %s", got, models.PhasePlaying)
	}

	room.RecordProgress("conn-bob", 100, 64, 91)
	if got := room.Phase(); got != models.PhaseFinished {
		t.Fatalf("phase = %s, want %s", got, models.PhaseFinished)
	}
	if got := fb.countPublished(events.TypeGameEnd); got != 1 {
		t.Fatalf("game-end broadcasts = %d, want 1", got)
	}

	waitFor(t, "sink save", func() bool { return fs.batchCount() == 1 })
	batch := fs.lastBatch()
	if len(batch) != 2 {
		t.Fatalf("results = %d, want 2", len(batch))
	}
	if batch[0].Username != "alice" || batch[1].Username != "bob" {
		t.Fatalf("result order = %s, %s; want alice, bob", batch[0].Username, batch[1].Username)
	}
	if batch[0].WPM != 82 || batch[1].WPM != 64 {
		t.Fatalf("wpm = %v, %v; want 82, 64", batch[0].WPM, batch[1].WPM)
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	reg, fb, fs, _ := newTestRig(t)
	room := startPlaying(t, reg, "R1")

	room.Finish()
	room.Finish()
	room.RecordProgress("conn-alice", 100, 80, 95) // must not re-trigger

	if got := fb.countPublished(events.TypeGameEnd); got != 1 {
		t.Fatalf("game-end broadcasts = %d, want 1", got)
	}
	waitFor(t, "sink save", func() bool { return fs.batchCount() >= 1 })
	time.Sleep(50 * time.Millisecond)
	if got := fs.batchCount(); got != 1 {
		t.Fatalf("sink saves = %d, want 1", got)
	}
}

func TestProgressIgnoredOutsidePlaying(t *testing.T) {
	reg, fb, _, _ := newTestRig(t)
	room := reg.GetOrCreate("R1")
	room.AddPlayer("conn-alice", "alice")

	room.RecordProgress("conn-alice", 50, 40, 90)

	snap := room.Snapshot()
	if snap.Players[0].Progress != 0 || snap.Players[0].WPM != 0 {
		t.Fatalf("stats changed while Waiting: %+v", snap.Players[0])
	}
	if got := len(fb.excepted["conn-alice"]); got != 1 { // only the join's player-joined
		t.Fatalf("events excluding alice = %d, want 1", got)
	}
}

func TestProgressClampedAndUnknownConnIgnored(t *testing.T) {
	reg, _, _, _ := newTestRig(t)
	room := startPlaying(t, reg, "R1")

	room.RecordProgress("conn-alice", 150, 90, -5)
	room.RecordProgress("conn-ghost", 40, 40, 40)

	snap := room.Snapshot()
	if snap.Players[0].Progress != 100 {
		t.Fatalf("progress = %v, want clamped 100", snap.Players[0].Progress)
	}
	if snap.Players[0].Accuracy != 0 {
		t.Fatalf("accuracy = %v, want clamped 0", snap.Players[0].Accuracy)
	}
	// bob untouched by the unknown connection id
	if snap.Players[1].Progress != 0 {
		t.Fatalf("bob progress = %v, want 0", snap.Players[1].Progress)
	}
}

func TestDisconnectPreservesStatsAndRejoinRebinds(t *testing.T) {
	reg, fb, _, _ := newTestRig(t)
	room := startPlaying(t, reg, "R1")

	room.RecordProgress("conn-alice", 55, 70, 96)
	room.MarkDisconnected("conn-alice")

	snap := room.Snapshot()
	if !snap.Players[0].Disconnected {
		t.Fatal("alice not marked disconnected")
	}
	if snap.Players[0].Progress != 55 || snap.Players[0].WPM != 70 || snap.Players[0].Accuracy != 96 {
		t.Fatalf("stats changed on disconnect: %+v", snap.Players[0])
	}
	if got := fb.countPublished(events.TypePlayerLeft); got != 1 {
		t.Fatalf("player-left broadcasts = %d, want 1", got)
	}

	// The stale connection id routes to no player now.
	room.RecordProgress("conn-alice", 99, 99, 99)
	if got := room.Snapshot().Players[0].Progress; got != 55 {
		t.Fatalf("stale conn updated progress to %v", got)
	}

	// Rejoin under the same username keeps the same player and stats.
	room.AddPlayer("conn-alice-2", "alice")
	snap = room.Snapshot()
	if len(snap.Players) != 2 {
		t.Fatalf("players = %d after rejoin, want 2", len(snap.Players))
	}
	if snap.Players[0].Disconnected {
		t.Fatal("alice still marked disconnected after rejoin")
	}
	if snap.Players[0].Progress != 55 {
		t.Fatalf("progress after rejoin = %v, want 55", snap.Players[0].Progress)
	}

	room.RecordProgress("conn-alice-2", 60, 71, 96)
	if got := room.Snapshot().Players[0].Progress; got != 60 {
		t.Fatalf("rebound conn progress = %v, want 60", got)
	}
}

func TestDisconnectedPlayerCountsInResults(t *testing.T) {
	reg, _, fs, _ := newTestRig(t)
	room := startPlaying(t, reg, "R2")

	room.RecordProgress("conn-alice", 40, 52, 93)
	room.MarkDisconnected("conn-alice")
	room.RecordProgress("conn-bob", 100, 77, 99)

	// alice never reached 100, so the room must still be playing.
	if got := room.Phase(); got != models.PhasePlaying {
		t.Fatalf("phase = %s, want %s", got, models.PhasePlaying)
	}

	room.Finish()
	waitFor(t, "sink save", func() bool { return fs.batchCount() == 1 })
	batch := fs.lastBatch()
	if len(batch) != 2 {
		t.Fatalf("results = %d, want 2 (disconnected included)", len(batch))
	}
	if batch[0].Username != "alice" || batch[0].WPM != 52 || batch[0].Accuracy != 93 {
		t.Fatalf("alice result = %+v, want last-known stats", batch[0])
	}
}

func TestChatAcceptedInAnyPhase(t *testing.T) {
	reg, fb, _, fc := newTestRig(t)
	room := reg.GetOrCreate("R3")
	room.AddPlayer("conn-alice", "alice")

	room.RecordChat("alice", "anyone here?")

	if got := fb.countPublished(events.TypeReceiveMessage); got != 1 {
		t.Fatalf("receive-message broadcasts = %d, want 1", got)
	}
	snap := room.Snapshot()
	if len(snap.Messages) != 1 {
		t.Fatalf("chat log = %d entries, want 1", len(snap.Messages))
	}
	if !snap.Messages[0].Timestamp.Equal(fc.Now().UTC()) {
		t.Fatalf("timestamp = %v, want server clock %v", snap.Messages[0].Timestamp, fc.Now().UTC())
	}

	// Still accepted after the game is over.
	room.AddPlayer("conn-bob", "bob")
	for room.TickCountdown() {
	}
	room.Finish()
	room.RecordChat("bob", "good game")
	if got := fb.countPublished(events.TypeReceiveMessage); got != 2 {
		t.Fatalf("receive-message broadcasts = %d, want 2", got)
	}
}

func TestPhaseNeverMovesBackward(t *testing.T) {
	reg, _, _, _ := newTestRig(t)
	room := startPlaying(t, reg, "R1")
	room.Finish()

	// None of these may move the room out of Finished.
	room.AddPlayer("conn-carol", "carol")
	room.TickCountdown()
	room.RecordProgress("conn-bob", 10, 10, 10)
	room.MarkDisconnected("conn-bob")

	if got := room.Phase(); got != models.PhaseFinished {
		t.Fatalf("phase = %s, want %s", got, models.PhaseFinished)
	}
}
