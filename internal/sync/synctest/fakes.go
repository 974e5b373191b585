package synctest

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gitgov/sync/internal/lint"
	"github.com/gitgov/sync/internal/ports"
	"github.com/gitgov/sync/internal/record"
)

// FakeIdentity is a minimal ports.Identity: GetCurrentActor returns a fixed
// actor, and SignRecord recomputes the checksum and appends a
// deterministic, correctly-shaped (base64, 86 chars + "==") fake signature.
type FakeIdentity struct {
	Actor ports.Actor
	calls int
}

func NewFakeIdentity(actorID string) *FakeIdentity {
	return &FakeIdentity{Actor: ports.Actor{ID: actorID, Name: actorID, Role: "human"}}
}

func (f *FakeIdentity) GetCurrentActor(ctx context.Context) (*ports.Actor, error) {
	a := f.Actor
	return &a, nil
}

// Calls reports how many times SignRecord has been invoked.
func (f *FakeIdentity) Calls() int { return f.calls }

func (f *FakeIdentity) SignRecord(ctx context.Context, r *ports.Record, actorID, role string) (*ports.Record, error) {
	f.calls++
	out := *r
	out.Header.Signatures = append([]ports.Signature{}, r.Header.Signatures...)

	if err := record.RecomputeChecksum(&out); err != nil {
		return nil, err
	}

	sum := sha512.Sum512([]byte(fmt.Sprintf("%s:%s:%s:%d", actorID, role, out.Header.PayloadChecksum, f.calls)))
	out.Header.Signatures = append(out.Header.Signatures, ports.Signature{
		KeyID:     actorID,
		Role:      role,
		Signature: base64.StdEncoding.EncodeToString(sum[:]),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return &out, nil
}

// FakeLint is an alias for the default local Lint implementation: it's real
// structural validation (checksum/signature checks), not a rubber-stamp, so
// push/audit tests exercise the same logic the CLI wires in production.
type FakeLint = lint.Lint

func NewFakeLint(repoRoot string) *FakeLint {
	return lint.New(repoRoot)
}

// FakeIndexer is a trivial ports.Indexer: it always succeeds and records
// how many times it was called, for assertions that the engine invoked
// reindexing at the right points.
type FakeIndexer struct {
	Calls int
	Fail  bool
}

func (f *FakeIndexer) GenerateIndex(ctx context.Context) (*ports.IndexResult, error) {
	f.Calls++
	if f.Fail {
		return &ports.IndexResult{Success: false, Error: "fake indexer failure"}, nil
	}
	return &ports.IndexResult{Success: true}, nil
}
