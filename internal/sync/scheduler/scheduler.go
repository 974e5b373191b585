// Package scheduler implements the pull scheduler: a periodic background
// caller of pullState, with idempotent start/stop, a concurrency guard
// against overlapping pulls, and conflict/network-error policies (spec
// §4.8).
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gitgov/sync/internal/ports"
	"github.com/gitgov/sync/internal/sync/pull"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Config is the fully-resolved scheduler configuration, after cascading
// session preferences over project defaults over the hard defaults below.
type Config struct {
	Enabled                bool
	PullIntervalSeconds    int
	ContinueOnNetworkError bool
	StopOnConflict         bool
}

// hardDefaults are used whenever neither the project config nor the
// session preferences set a field.
var hardDefaults = Config{
	Enabled:                false,
	PullIntervalSeconds:    30,
	ContinueOnNetworkError: true,
	StopOnConflict:         false,
}

// ResolveConfig cascades session preferences over project defaults over
// hardDefaults, field by field. Pointer fields left nil at a layer fall
// through to the next.
func ResolveConfig(project, session ports.SchedulerConfig) Config {
	cfg := hardDefaults
	for _, layer := range []ports.SchedulerConfig{project, session} {
		if layer.Enabled != nil {
			cfg.Enabled = *layer.Enabled
		}
		if layer.PullIntervalSeconds != nil {
			cfg.PullIntervalSeconds = *layer.PullIntervalSeconds
		}
		if layer.ContinueOnNetworkError != nil {
			cfg.ContinueOnNetworkError = *layer.ContinueOnNetworkError
		}
		if layer.StopOnConflict != nil {
			cfg.StopOnConflict = *layer.StopOnConflict
		}
	}
	return cfg
}

// Puller is the subset of *pull.Pipeline the scheduler depends on, broken
// out as an interface so tests can substitute a fake without spinning up a
// real git repository.
type Puller interface {
	Pull(ctx context.Context, opts pull.Opts) (*pull.Result, error)
}

// PullResult is the outcome of a single pullNow invocation.
type PullResult struct {
	Success          bool
	HasChanges       bool
	ConflictDetected bool
	ConflictInfo     *ports.ConflictInfo
	Timestamp        time.Time
	Error            string
}

// networkErrorIndicators are the substrings that mark an error as a
// network-shaped failure eligible for ContinueOnNetworkError.
var networkErrorIndicators = []string{"network", "fetch", "timeout", "connection"}

// Scheduler periodically calls Pull.Pull in the background. The zero value
// is not usable; construct with New.
type Scheduler struct {
	Config ports.Config
	Puller Puller
	Clock  func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool

	inFlight *semaphore.Weighted
	log      logrus.FieldLogger
}

// New constructs a Scheduler bound to a single pull pipeline.
func New(cfg ports.Config, puller Puller) *Scheduler {
	return &Scheduler{
		Config:   cfg,
		Puller:   puller,
		Clock:    time.Now,
		inFlight: semaphore.NewWeighted(1),
		log:      logrus.WithField("component", "sync.scheduler"),
	}
}

// Start is idempotent: it loads the cascaded configuration and, if enabled,
// arms a periodic timer. If the configuration says disabled, Start is a
// no-op. The configuration is captured at Start time; changing session
// config requires stop+start (spec §5).
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		return nil
	}

	tickCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	go s.run(tickCtx, cfg)
	return nil
}

func (s *Scheduler) loadConfig(ctx context.Context) (Config, error) {
	var project, session ports.SchedulerConfig
	if s.Config != nil {
		if pc, err := s.Config.LoadConfig(ctx); err == nil && pc != nil {
			project = pc.State.Defaults.PullScheduler
		}
		if ss, err := s.Config.LoadSession(ctx); err == nil && ss != nil {
			session = ss.SyncPreferences.PullScheduler
		}
	}
	return ResolveConfig(project, session), nil
}

func (s *Scheduler) run(ctx context.Context, cfg Config) {
	interval := time.Duration(cfg.PullIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Duration(hardDefaults.PullIntervalSeconds) * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			go func() {
				if _, err := s.pullNow(context.Background(), cfg); err != nil {
					s.log.WithError(err).Warn("scheduled pull failed")
				}
			}()
		}
	}
}

// Stop cancels future ticks. It is idempotent. An in-flight pullNow call
// runs to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// IsRunning reports whether the scheduler is currently armed.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// PullNow triggers an immediate pull using the freshly-resolved cascaded
// configuration, honoring the same concurrency guard and error policies as
// a scheduled tick.
func (s *Scheduler) PullNow(ctx context.Context) (*PullResult, error) {
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	return s.pullNow(ctx, cfg)
}

// pullNow is the shared implementation behind both scheduled ticks and an
// explicit PullNow call. Exactly one pull runs at a time across overlapping
// invocations; a second caller observes the in-flight one and returns
// immediately rather than blocking or erroring.
func (s *Scheduler) pullNow(ctx context.Context, cfg Config) (*PullResult, error) {
	if !s.inFlight.TryAcquire(1) {
		return &PullResult{Success: true, Timestamp: s.Clock(), Error: "Pull already in progress"}, nil
	}
	defer s.inFlight.Release(1)

	result, err := s.Puller.Pull(ctx, pull.Opts{})
	now := s.Clock()
	if err != nil {
		if cfg.ContinueOnNetworkError && isNetworkError(err) {
			return &PullResult{Success: false, Timestamp: now, Error: err.Error()}, nil
		}
		return nil, err
	}

	pr := &PullResult{
		Success:          result.Success,
		HasChanges:       result.Reindexed,
		ConflictDetected: result.ConflictDetected,
		ConflictInfo:     result.ConflictInfo,
		Timestamp:        now,
		Error:            result.Error,
	}
	if result.ConflictDetected && cfg.StopOnConflict {
		s.Stop()
	}
	return pr, nil
}

func isNetworkError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, ind := range networkErrorIndicators {
		if strings.Contains(msg, ind) {
			return true
		}
	}
	return false
}
