package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gitgov/sync/internal/ports"
	"github.com/gitgov/sync/internal/sync/pull"
	"github.com/gitgov/sync/internal/sync/scheduler"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func projectConfigWithScheduler(sc ports.SchedulerConfig) ports.ProjectConfig {
	var pc ports.ProjectConfig
	pc.State.Defaults.PullScheduler = sc
	return pc
}

func TestResolveConfigCascadesSessionOverProjectOverHardDefaults(t *testing.T) {
	// Nothing set at any layer: hard defaults win.
	cfg := scheduler.ResolveConfig(ports.SchedulerConfig{}, ports.SchedulerConfig{})
	require.False(t, cfg.Enabled)
	require.Equal(t, 30, cfg.PullIntervalSeconds)
	require.True(t, cfg.ContinueOnNetworkError)
	require.False(t, cfg.StopOnConflict)

	// Project overrides hard defaults.
	project := ports.SchedulerConfig{Enabled: boolPtr(true), PullIntervalSeconds: intPtr(60)}
	cfg = scheduler.ResolveConfig(project, ports.SchedulerConfig{})
	require.True(t, cfg.Enabled)
	require.Equal(t, 60, cfg.PullIntervalSeconds)

	// Session overrides project, field by field, leaving untouched fields
	// from project/hard-defaults alone.
	session := ports.SchedulerConfig{PullIntervalSeconds: intPtr(15)}
	cfg = scheduler.ResolveConfig(project, session)
	require.True(t, cfg.Enabled, "project's Enabled should still apply since session left it nil")
	require.Equal(t, 15, cfg.PullIntervalSeconds, "session should win over project")

	session = ports.SchedulerConfig{Enabled: boolPtr(false)}
	cfg = scheduler.ResolveConfig(project, session)
	require.False(t, cfg.Enabled, "session explicitly disables even though project enabled it")
	require.Equal(t, 60, cfg.PullIntervalSeconds, "project's interval should still apply")
}

// fakeConfig implements ports.Config with fixed, in-memory project/session
// values, for exercising the scheduler without a real .gitgov/ directory.
type fakeConfig struct {
	project ports.ProjectConfig
	session ports.SessionState
}

func (f *fakeConfig) LoadConfig(ctx context.Context) (*ports.ProjectConfig, error) {
	return &f.project, nil
}

func (f *fakeConfig) LoadSession(ctx context.Context) (*ports.SessionState, error) {
	return &f.session, nil
}

// fakePuller is a Puller whose Pull blocks until release is closed, so tests
// can assert exactly one pull runs at a time.
type fakePuller struct {
	calls   int32
	release chan struct{}
}

func (f *fakePuller) Pull(ctx context.Context, opts pull.Opts) (*pull.Result, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.release != nil {
		<-f.release
	}
	return &pull.Result{Success: true}, nil
}

func TestSchedulerStartStopIsRunningIsIdempotent(t *testing.T) {
	cfg := &fakeConfig{project: projectConfigWithScheduler(ports.SchedulerConfig{Enabled: boolPtr(true), PullIntervalSeconds: intPtr(3600)})}
	puller := &fakePuller{release: closedChan()}
	s := scheduler.New(cfg, puller)

	require.False(t, s.IsRunning())
	require.NoError(t, s.Start(context.Background()))
	require.True(t, s.IsRunning())

	// Starting again while already running is a no-op, not an error.
	require.NoError(t, s.Start(context.Background()))
	require.True(t, s.IsRunning())

	s.Stop()
	require.False(t, s.IsRunning())

	// Stopping again is a no-op.
	s.Stop()
	require.False(t, s.IsRunning())
}

func TestSchedulerStartWhenDisabledDoesNotArm(t *testing.T) {
	cfg := &fakeConfig{project: projectConfigWithScheduler(ports.SchedulerConfig{Enabled: boolPtr(false)})}
	puller := &fakePuller{release: closedChan()}
	s := scheduler.New(cfg, puller)

	require.NoError(t, s.Start(context.Background()))
	require.False(t, s.IsRunning())
}

func TestSchedulerPullNowConcurrentCallsResultInOnePullInFlight(t *testing.T) {
	cfg := &fakeConfig{}
	release := make(chan struct{})
	puller := &fakePuller{release: release}
	s := scheduler.New(cfg, puller)

	var wg sync.WaitGroup
	results := make([]*scheduler.PullResult, 2)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Give the first call a head start so it holds the semaphore
			// before the second one attempts to acquire it.
			if i == 1 {
				time.Sleep(20 * time.Millisecond)
			}
			r, err := s.PullNow(context.Background())
			require.NoError(t, err)
			results[i] = r
		}()
	}

	// Let the first pull proceed only after both goroutines have had a
	// chance to race for the semaphore.
	time.Sleep(40 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), atomic.LoadInt32(&puller.calls), "only one pull should have actually run")
	require.Contains(t, []string{results[0].Error, results[1].Error}, "Pull already in progress")
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
