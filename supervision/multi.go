package supervision

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// MultiLog fans each record out to every sink. All sinks are attempted even if
// one fails; the failures are joined.
type MultiLog struct {
	sinks []Appender
}

func NewMultiLog(sinks ...Appender) *MultiLog {
	out := make([]Appender, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &MultiLog{sinks: out}
}

func (m *MultiLog) Append(ctx context.Context, rec Record) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	// plain Group, not WithContext: one failing sink must not cancel the others
	var g errgroup.Group
	for _, s := range m.sinks {
		s := s
		g.Go(func() error {
			if err := s.Append(ctx, rec); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
