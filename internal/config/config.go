// Package config is the default ports.Config implementation: project
// configuration loaded with viper from .gitgov/config.json, and session
// state read with plain encoding/json from .gitgov/.session.json. The
// engine only ever reads through this package -- it never persists
// session state itself (spec §5).
package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"emperror.dev/errors"
	"github.com/gitgov/sync/internal/ports"
	"github.com/spf13/viper"
)

// FileConfig implements ports.Config against a repository's .gitgov/
// directory on disk.
type FileConfig struct {
	RepoRoot string
}

// New constructs a FileConfig rooted at repoRoot.
func New(repoRoot string) *FileConfig {
	return &FileConfig{RepoRoot: repoRoot}
}

// schedulerFile mirrors the on-disk shape of a pullScheduler block; fields
// are pointers so an unset JSON key and an explicit false/zero are
// distinguishable, exactly like ports.SchedulerConfig.
type schedulerFile struct {
	Enabled                *bool `mapstructure:"enabled" json:"enabled,omitempty"`
	PullIntervalSeconds    *int  `mapstructure:"pullIntervalSeconds" json:"pullIntervalSeconds,omitempty"`
	ContinueOnNetworkError *bool `mapstructure:"continueOnNetworkError" json:"continueOnNetworkError,omitempty"`
	StopOnConflict         *bool `mapstructure:"stopOnConflict" json:"stopOnConflict,omitempty"`
}

func (s schedulerFile) toPorts() ports.SchedulerConfig {
	return ports.SchedulerConfig{
		Enabled:                s.Enabled,
		PullIntervalSeconds:    s.PullIntervalSeconds,
		ContinueOnNetworkError: s.ContinueOnNetworkError,
		StopOnConflict:         s.StopOnConflict,
	}
}

type configFile struct {
	State struct {
		Branch   string `mapstructure:"branch"`
		Defaults struct {
			PullScheduler schedulerFile `mapstructure:"pullScheduler"`
		} `mapstructure:"defaults"`
	} `mapstructure:"state"`
}

// LoadConfig reads .gitgov/config.json with viper. A missing config file is
// not an error: it simply yields a zero-value ProjectConfig, so callers
// (statebranch.GetStateBranchName, the scheduler's cascade) fall back to
// their own hard defaults.
func (c *FileConfig) LoadConfig(ctx context.Context) (*ports.ProjectConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(c.gitgovDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return &ports.ProjectConfig{}, nil
		}
		return nil, errors.Wrap(err, "failed to read .gitgov/config.json")
	}

	var cf configFile
	if err := v.Unmarshal(&cf); err != nil {
		return nil, errors.Wrap(err, "failed to parse .gitgov/config.json")
	}

	pc := &ports.ProjectConfig{}
	pc.State.Branch = cf.State.Branch
	pc.State.Defaults.PullScheduler = cf.State.Defaults.PullScheduler.toPorts()
	return pc, nil
}

type sessionFile struct {
	LastSession struct {
		ActorID string `json:"actorId"`
	} `json:"lastSession"`
	SyncPreferences struct {
		PullScheduler schedulerFile `json:"pullScheduler"`
	} `json:"syncPreferences"`
}

// LoadSession reads .gitgov/.session.json with plain encoding/json, since
// (unlike config.json) it's a runtime-mutated dotfile rather than a
// user-declared config, matching the teacher's own JSON-dotfile pattern for
// per-user runtime state. A missing session file yields a zero-value
// SessionState.
func (c *FileConfig) LoadSession(ctx context.Context) (*ports.SessionState, error) {
	data, err := os.ReadFile(filepath.Join(c.gitgovDir(), ".session.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &ports.SessionState{}, nil
		}
		return nil, errors.Wrap(err, "failed to read .gitgov/.session.json")
	}

	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, errors.Wrap(err, "failed to parse .gitgov/.session.json")
	}

	ss := &ports.SessionState{}
	ss.LastSession.ActorID = sf.LastSession.ActorID
	ss.SyncPreferences.PullScheduler = sf.SyncPreferences.PullScheduler.toPorts()
	return ss, nil
}

func (c *FileConfig) gitgovDir() string {
	return filepath.Join(c.RepoRoot, ".gitgov")
}
