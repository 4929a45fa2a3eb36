package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"crypto_arb/internal/domain"
)

// Task is a background unit of a session (feeder, stream). It must return
// when ctx is done.
type Task func(ctx context.Context) error

// Runner is the foreground unit of a session. Run returns nil when ctx is
// done and an error when the session must die.
type Runner interface {
	Run(ctx context.Context) error
}

// Session is one supervised run of the strategy.
type Session struct {
	ID         string
	Background []Task
	Loop       Runner
	// Close releases session resources after every task has returned.
	Close func()
}

// SessionFactory builds a fresh session. It is called once per (re)start.
type SessionFactory func(ctx context.Context, id string) (*Session, error)

// SupervisorOptions controls restart behavior.
type SupervisorOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxRestarts bounds consecutive restarts; 0 means unbounded.
	MaxRestarts int
	// StableAfter resets the restart budget once a session lived this long.
	StableAfter time.Duration
}

// Supervisor restarts dead sessions with exponential backoff.
type Supervisor struct {
	opts    SupervisorOptions
	factory SessionFactory
	alerts  domain.AlertSink
	errs    domain.ErrorSink
	logger  *slog.Logger

	newBackOff func() backoff.BackOff
	now        func() time.Time
}

// NewSupervisor creates a supervisor. alerts and errs may be nil.
func NewSupervisor(opts SupervisorOptions, factory SessionFactory, alerts domain.AlertSink, errs domain.ErrorSink) *Supervisor {
	s := &Supervisor{
		opts:    opts,
		factory: factory,
		alerts:  alerts,
		errs:    errs,
		logger:  slog.Default().With("module", "supervisor"),
		now:     time.Now,
	}
	s.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = s.opts.InitialBackoff
		b.MaxInterval = s.opts.MaxBackoff
		b.MaxElapsedTime = 0
		return b
	}
	return s
}

// Run keeps sessions alive until ctx is done (nil) or the restart budget is
// spent (last session error).
func (s *Supervisor) Run(ctx context.Context) error {
	policy := s.newBackOff()
	restarts := 0

	for {
		id := uuid.NewString()
		started := s.now()
		err := s.runSession(ctx, id)
		if ctx.Err() != nil {
			s.logger.Info("Supervisor stopped", slog.String("session", id))
			return nil
		}
		if err == nil {
			err = errors.New("session ended without error")
		}

		s.report(ctx, id, err)

		if s.opts.StableAfter > 0 && s.now().Sub(started) >= s.opts.StableAfter {
			restarts = 0
			policy.Reset()
		}
		restarts++
		if s.opts.MaxRestarts > 0 && restarts > s.opts.MaxRestarts {
			s.logger.Error("❌ Restart budget exhausted",
				slog.Int("restarts", restarts-1),
				slog.Any("error", err),
				slog.Bool("fatal", true),
			)
			s.alert(ctx, domain.NewAlert(domain.AlertFatal, "supervisor gave up",
				fmt.Sprintf("%d restarts, last error: %v", restarts-1, err)))
			return err
		}

		delay := policy.NextBackOff()
		s.logger.Warn("🔄 Restarting session",
			slog.String("previous", id),
			slog.Int("restart", restarts),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// runSession runs the loop and every background task in one group. The
// first failure cancels the rest, which tears the feeders down.
func (s *Supervisor) runSession(ctx context.Context, id string) error {
	sess, err := s.factory(ctx, id)
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}
	if sess.Close != nil {
		defer sess.Close()
	}

	s.logger.Info("▶️ Session started", slog.String("session", id), slog.Int("tasks", len(sess.Background)))

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range sess.Background {
		task := task
		g.Go(func() error {
			if err := task(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := sess.Loop.Run(gctx); err != nil {
			return err
		}
		if ctx.Err() == nil && gctx.Err() == nil {
			return errors.New("control loop returned")
		}
		return nil
	})
	return g.Wait()
}

// report logs the failure, alerts and persists an error record.
func (s *Supervisor) report(ctx context.Context, id string, cause error) {
	fatal := domain.IsFatal(cause)
	s.logger.Error("💀 Session died",
		slog.String("session", id),
		slog.Any("error", cause),
		slog.Bool("fatal", fatal),
	)

	s.alert(ctx, domain.NewAlert(domain.AlertFatal, "session stopped", cause.Error()))

	if s.errs == nil {
		return
	}
	rec := domain.ErrorRecord{
		ID:        uuid.NewString(),
		SessionID: id,
		Time:      s.now(),
		Message:   cause.Error(),
		Fatal:     fatal,
	}
	if err := s.errs.RecordError(ctx, rec); err != nil {
		s.logger.Warn("Error record not stored", slog.Any("error", err))
	}
}

func (s *Supervisor) alert(ctx context.Context, a domain.Alert) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.Send(ctx, a); err != nil {
		s.logger.Warn("Alert not delivered", slog.String("subject", a.Subject), slog.Any("error", err))
	}
}
