// Package identity is the default ports.Identity implementation for
// standalone use: it derives the current actor from the local git identity
// and signs records with an HMAC key kept under .git/gitgov/identity.key,
// generated on first use. Anything that actually needs a verifiable,
// externally-rooted identity (a PKI, SSO, or an org-wide signing service)
// is expected to supply its own ports.Identity instead -- this one exists
// so the engine and its CLI are runnable standalone without one.
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/gitgov/sync/internal/ports"
	"github.com/gitgov/sync/internal/record"
)

// Local is the default local Identity implementation.
type Local struct {
	RepoRoot string
	GitDir   string
}

// New constructs a Local identity provider. gitDir is the repository's
// .git directory (or common dir for worktrees), used to store the
// generated signing key alongside other local, untracked git state.
func New(repoRoot, gitDir string) *Local {
	return &Local{RepoRoot: repoRoot, GitDir: gitDir}
}

// GetCurrentActor derives the actor from the local git identity
// (user.name/user.email), the same source `git commit` itself uses.
func (l *Local) GetCurrentActor(ctx context.Context) (*ports.Actor, error) {
	name, err := gitConfigValue(ctx, l.RepoRoot, "user.name")
	if err != nil || name == "" {
		name = "unknown"
	}
	email, err := gitConfigValue(ctx, l.RepoRoot, "user.email")
	if err != nil || email == "" {
		email = "unknown@localhost"
	}
	return &ports.Actor{
		ID:   "human:" + email,
		Name: name,
		Role: "human",
	}, nil
}

// SignRecord recomputes the payload checksum and appends a new HMAC-SHA256
// signature over "<checksum>:<actorID>:<role>", keyed by this repo's
// locally-generated signing key.
func (l *Local) SignRecord(ctx context.Context, r *ports.Record, actorID, role string) (*ports.Record, error) {
	key, err := l.loadOrCreateKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load local signing key")
	}

	out := *r
	out.Header.Signatures = append([]ports.Signature{}, r.Header.Signatures...)
	if err := record.RecomputeChecksum(&out); err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(out.Header.PayloadChecksum + ":" + actorID + ":" + role))
	sig := mac.Sum(nil)

	out.Header.Signatures = append(out.Header.Signatures, ports.Signature{
		KeyID:     actorID,
		Role:      role,
		Signature: base64.StdEncoding.EncodeToString(sig),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return &out, nil
}

func (l *Local) keyPath() string {
	return filepath.Join(l.GitDir, "gitgov", "identity.key")
}

func (l *Local) loadOrCreateKey() ([]byte, error) {
	path := l.keyPath()
	if data, err := os.ReadFile(path); err == nil {
		return hex.DecodeString(strings.TrimSpace(string(data)))
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, errors.Wrap(err, "failed to generate signing key")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create identity key directory")
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(raw)+"\n"), 0o600); err != nil {
		return nil, errors.Wrap(err, "failed to persist signing key")
	}
	return raw, nil
}

func gitConfigValue(ctx context.Context, repoRoot, key string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "config", "--get", key)
	cmd.Dir = repoRoot
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
