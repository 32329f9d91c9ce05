package results

import (
	"context"
	"errors"

	"github.com/keyrace/keyrace/internal/models"
	"github.com/keyrace/keyrace/internal/race"
)

// FanoutSink forwards a result batch to several sinks. Each leg is
// best-effort: one failing sink never stops the others, and the joined
// error is only ever logged by the caller.
type FanoutSink struct {
	sinks []race.ResultSink
}

// NewFanoutSink combines sinks into one. Nil sinks are skipped so callers
// can pass optional legs unconditionally.
func NewFanoutSink(sinks ...race.ResultSink) *FanoutSink {
	f := &FanoutSink{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Save delivers the batch to every sink.
func (f *FanoutSink) Save(ctx context.Context, results []models.GameResult) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Save(ctx, results); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
