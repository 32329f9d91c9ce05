package race

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// roomResolver looks up live rooms. Timers hold only a room identifier and
// resolve it at fire time, so a vanished room is an explicit, checked
// condition rather than a closure over stale state.
type roomResolver interface {
	Lookup(roomID string) (*Room, bool)
}

// timerService runs the two per-room timers: the countdown ticker and the
// game-timeout watchdog. Both re-enter room state only through the room's
// serialized methods and both are cancellable via the returned CancelFunc.
type timerService struct {
	clock clockwork.Clock
	rooms roomResolver
}

// startCountdown fires TickCountdown once per second until the room reports
// it has left the Countdown phase, the context is cancelled, or the room no
// longer exists.
func (s *timerService) startCountdown(ctx context.Context, roomID string) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := s.clock.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				room, ok := s.rooms.Lookup(roomID)
				if !ok {
					log.Warn().Str("room_id", roomID).Msg("countdown tick for unknown room, stopping ticker")
					return
				}
				if !room.TickCountdown() {
					return
				}
			}
		}
	}()

	return cancel
}

// armWatchdog schedules a one-shot Finish after d. If the room finishes
// naturally first, cancelling the returned CancelFunc stops the timer; a
// watchdog that still fires anyway is absorbed by Finish's idempotence.
func (s *timerService) armWatchdog(ctx context.Context, roomID string, d time.Duration) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	timer := s.clock.NewTimer(d)

	go func() {
		select {
		case <-ctx.Done():
			stopAndDrainTimer(timer)
		case <-timer.Chan():
			room, ok := s.rooms.Lookup(roomID)
			if !ok {
				log.Warn().Str("room_id", roomID).Msg("watchdog fired for unknown room")
				return
			}
			log.Info().Str("room_id", roomID).Dur("timeout", d).Msg("game timeout reached")
			room.Finish()
		}
	}()

	return cancel
}

// stopAndDrainTimer safely stops a timer and drains its channel, per the
// time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
