// Package scheduler arms the automation cadence and exposes the
// manual trigger surface.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/truescope/truescope/internal/pipeline"
)

// State is the scheduler lifecycle state.
type State string

const (
	StateStopped State = "STOPPED"
	StateRunning State = "RUNNING"
)

// ErrAlreadyRunning is returned by Start when the timer is armed.
var ErrAlreadyRunning = errors.New("scheduler already running")

// DigestFunc dispatches the digest cycle when the digest cadence fires.
type DigestFunc func(ctx context.Context) error

// Scheduler drives the automation controller on fixed cadences. It
// starts STOPPED; Start only arms the timers, it never fires a run
// itself, and Stop lets an in-flight run finish.
type Scheduler struct {
	controller     *pipeline.Controller
	digest         DigestFunc
	newsInterval   time.Duration
	digestInterval time.Duration
	logger         *slog.Logger

	mu       sync.Mutex
	state    State
	stop     chan struct{}
	nextNews time.Time
}

// New creates a stopped scheduler. digest may be nil when digest
// dispatch is not configured.
func New(controller *pipeline.Controller, digest DigestFunc, newsInterval, digestInterval time.Duration) *Scheduler {
	s := &Scheduler{
		controller:     controller,
		digest:         digest,
		newsInterval:   newsInterval,
		digestInterval: digestInterval,
		logger:         slog.Default(),
		state:          StateStopped,
	}
	controller.SetNextFireFunc(s.NextFire)
	return s
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NextFire returns the next scheduled pipeline trigger, or the zero
// time when the scheduler is stopped.
func (s *Scheduler) NextFire() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return time.Time{}
	}
	return s.nextNews
}

// Start arms the timers: STOPPED -> RUNNING. It does not invoke a run.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		return ErrAlreadyRunning
	}
	s.state = StateRunning
	s.stop = make(chan struct{})
	s.nextNews = time.Now().Add(s.newsInterval)
	go s.loop(s.stop)
	s.logger.Info("scheduler started", "news_interval", s.newsInterval, "digest_interval", s.digestInterval)
	return nil
}

// Stop disarms the timers: RUNNING -> STOPPED. An in-flight run always
// completes; only future scheduled triggers are prevented.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return
	}
	close(s.stop)
	s.state = StateStopped
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(stop chan struct{}) {
	newsTicker := time.NewTicker(s.newsInterval)
	defer newsTicker.Stop()

	var digestC <-chan time.Time
	if s.digest != nil && s.digestInterval > 0 {
		digestTicker := time.NewTicker(s.digestInterval)
		defer digestTicker.Stop()
		digestC = digestTicker.C
	}

	for {
		select {
		case <-stop:
			return
		case <-newsTicker.C:
			s.mu.Lock()
			s.nextNews = time.Now().Add(s.newsInterval)
			s.mu.Unlock()
			if _, err := s.controller.RunOnce(context.Background()); err != nil && !errors.Is(err, pipeline.ErrRunInProgress) {
				s.logger.Error("scheduled run failed", "error", err)
			}
		case <-digestC:
			if err := s.digest(context.Background()); err != nil {
				s.logger.Error("scheduled digest failed", "error", err)
			}
		}
	}
}

// TriggerNews invokes the pipeline immediately, regardless of the
// scheduler state.
func (s *Scheduler) TriggerNews(ctx context.Context) (*pipeline.Run, error) {
	return s.controller.RunOnce(ctx)
}

// TriggerDigest dispatches the digest cycle immediately, regardless of
// the scheduler state.
func (s *Scheduler) TriggerDigest(ctx context.Context) error {
	if s.digest == nil {
		return errors.New("digest dispatch not configured")
	}
	return s.digest(ctx)
}
