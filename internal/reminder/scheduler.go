// Package reminder fires due memos through a Notifier.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/memochat/internal/logging"
	"github.com/antoniostano/memochat/internal/memo"
	"github.com/antoniostano/memochat/internal/observability"
	"github.com/antoniostano/memochat/internal/redact"
)

const defaultInterval = 10 * time.Second

// Notifier delivers reminders to the user. Notify and Cue must not block for
// long; the scheduler calls them from its tick loop.
type Notifier interface {
	Permitted() bool
	Notify(ctx context.Context, m memo.Memo)
	Cue(ctx context.Context)
}

type Scheduler struct {
	store    *memo.Store
	notifier Notifier
	loc      *time.Location
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
	metrics  *observability.Metrics

	tickMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Scheduler)

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logging.OrNop(l) }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

func New(store *memo.Store, notifier Notifier, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		notifier: notifier,
		loc:      time.Local,
		interval: defaultInterval,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "reminder"))
	return s
}

// Tick fires every pending memo due at now and returns the memos it fired.
//
// A memo is due when its time equals now as "2006-01-02 15:04", or when its
// time contains the short clock form "H:mm". The containment check also
// matches "10:00" at 0:00; stored times are free text so it is kept loose.
// A memo edited or deleted while it was being notified keeps the edit and is
// left out of the result.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) []memo.Memo {
	if s.notifier == nil || !s.notifier.Permitted() {
		return nil
	}
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	local := now.In(s.loc)
	full := local.Format(memo.TimeLayout)
	short := fmt.Sprintf("%d:%02d", local.Hour(), local.Minute())

	var fired []memo.Memo
	for _, m := range s.store.List() {
		if !m.Pending() {
			continue
		}
		if m.Time != full && !strings.Contains(m.Time, short) {
			continue
		}

		s.notifier.Notify(ctx, m)
		s.notifier.Cue(ctx)

		updated, ok, err := s.store.MarkFired(ctx, m.ID, m.Time)
		switch {
		case errors.Is(err, memo.ErrNotFound) || (err == nil && !ok):
			s.logger.Debug("memo changed before it was marked fired", zap.String("memo_id", m.ID))
			continue
		case err != nil:
			// ErrPersist still leaves the memo flagged in memory.
			s.logger.Warn("mark memo fired failed", zap.String("memo_id", m.ID), zap.Error(err))
		}
		s.logger.Info("reminder fired",
			zap.String("memo_id", m.ID),
			zap.String("title", redact.PII(m.Title)),
			zap.String("time", m.Time),
		)
		if s.metrics != nil {
			s.metrics.RemindersFired.Inc()
		}
		fired = append(fired, updated)
	}
	return fired
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, s.now())
		}
	}
}

// Start runs the tick loop in the background. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
}

// Stop cancels the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
