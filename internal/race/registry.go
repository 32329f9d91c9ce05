package race

import (
	"context"
	"math/rand"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Registry owns the identifier -> Room mapping, the only resource shared
// across rooms. Construction is atomic: concurrent first-joins for the same
// unseen identifier observe exactly one Room and one chosen text.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	texts []string
	deps  deps
}

// NewRegistry builds a registry. All rooms it creates share the given
// broadcaster, sink, clock and settings; ctx bounds the lifetime of every
// room timer. An empty corpus falls back to the built-in sample texts.
func NewRegistry(ctx context.Context, settings Settings, broadcaster Broadcaster, sink ResultSink, clock clockwork.Clock, texts []string) *Registry {
	if len(texts) == 0 {
		texts = SampleTexts
	}
	r := &Registry{
		rooms: make(map[string]*Room),
		texts: texts,
		deps: deps{
			broadcaster: broadcaster,
			sink:        sink,
			clock:       clock,
			settings:    settings,
			ctx:         ctx,
		},
	}
	r.deps.timers = &timerService{clock: clock, rooms: r}
	return r
}

// GetOrCreate returns the room for the identifier, constructing it on first
// use with a reference text drawn uniformly at random from the corpus.
func (g *Registry) GetOrCreate(roomID string) *Room {
	g.mu.RLock()
	room, ok := g.rooms[roomID]
	g.mu.RUnlock()
	if ok {
		return room
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if room, ok := g.rooms[roomID]; ok {
		return room
	}

	room = newRoom(roomID, g.texts[rand.Intn(len(g.texts))], g.deps)
	g.rooms[roomID] = room
	log.Info().Str("room_id", roomID).Msg("room created")
	return room
}

// Lookup returns the room for the identifier, if it exists.
func (g *Registry) Lookup(roomID string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[roomID]
	return room, ok
}

// Count returns the number of live rooms.
func (g *Registry) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}
