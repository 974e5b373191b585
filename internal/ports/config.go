package ports

import "context"

// SchedulerConfig mirrors state.defaults.pullScheduler /
// syncPreferences.pullScheduler. Fields are pointers so the cascade in
// scheduler.ResolveConfig can distinguish "unset, fall through to the next
// layer" from an explicit false/zero value.
type SchedulerConfig struct {
	Enabled                *bool
	PullIntervalSeconds    *int
	ContinueOnNetworkError *bool
	StopOnConflict         *bool
}

// StateConfig mirrors the `state` section of the project config file.
type StateConfig struct {
	// Branch is the configured name of the state branch. Empty means unset;
	// callers default to "gitgov-state".
	Branch   string
	Defaults struct {
		PullScheduler SchedulerConfig
	}
}

// ProjectConfig is the subset of the project's config.json the engine reads.
type ProjectConfig struct {
	State StateConfig
}

// LastSessionInfo mirrors `lastSession` in .gitgov/.session.json.
type LastSessionInfo struct {
	ActorID string
}

// SyncPreferences mirrors the per-actor `syncPreferences` section of the
// session file.
type SyncPreferences struct {
	PullScheduler SchedulerConfig
}

// SessionState is the subset of .gitgov/.session.json the engine reads. The
// engine never writes session state; only the scheduler reads it.
type SessionState struct {
	LastSession     LastSessionInfo
	SyncPreferences SyncPreferences
}

// Config loads project configuration and session state. The engine treats
// both as read-only; it never persists changes through this port.
type Config interface {
	LoadConfig(ctx context.Context) (*ProjectConfig, error)
	LoadSession(ctx context.Context) (*SessionState, error)
}
