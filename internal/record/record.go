// Package record implements the EmbeddedMetadataRecord envelope codec: the
// deterministic payload checksum and the JSON (de)serialization rules the
// sync engine relies on while auditing and re-signing records (spec §3,
// §4.5). Business rules for individual record kinds live outside the
// engine; this package only knows about the envelope shape.
package record

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"emperror.dev/errors"
	"github.com/gitgov/sync/internal/ports"
)

const HeaderVersion = "1.0"

// ErrInvalidRecord is returned when data doesn't parse as a
// {header, payload} envelope.
var ErrInvalidRecord = errors.Sentinel("not a valid gitgov record envelope")

// Parse decodes a record envelope from raw JSON bytes. It returns
// ErrInvalidRecord for legacy-shape or non-JSON content rather than a
// generic unmarshal error, so callers (notably resolveConflict) can tell
// "not a record" apart from "record, but malformed".
func Parse(data []byte) (*ports.Record, error) {
	var r ports.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(ErrInvalidRecord, err.Error())
	}
	if r.Header.Version == "" || len(r.Payload) == 0 {
		return nil, ErrInvalidRecord
	}
	return &r, nil
}

// Checksum computes the deterministic SHA-256 checksum of a payload: the
// payload is canonicalized (unmarshaled then remarshaled, which sorts object
// keys) before hashing, so that semantically identical payloads with
// differently ordered keys or whitespace hash identically.
func Checksum(payload json.RawMessage) (string, error) {
	canonical, err := canonicalize(payload)
	if err != nil {
		return "", errors.Wrap(err, "failed to canonicalize payload")
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("%x", sum), nil
}

func canonicalize(payload json.RawMessage) ([]byte, error) {
	var v interface{}
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	// encoding/json sorts map keys when marshaling, which is what makes this
	// deterministic across re-serializations.
	return json.Marshal(v)
}

// VerifyChecksum reports whether r.Header.PayloadChecksum matches the
// checksum of r.Payload.
func VerifyChecksum(r *ports.Record) (bool, error) {
	want, err := Checksum(r.Payload)
	if err != nil {
		return false, err
	}
	return want == r.Header.PayloadChecksum, nil
}

// RecomputeChecksum sets r.Header.PayloadChecksum to the checksum of
// r.Payload.
func RecomputeChecksum(r *ports.Record) error {
	sum, err := Checksum(r.Payload)
	if err != nil {
		return err
	}
	r.Header.PayloadChecksum = sum
	return nil
}

// Marshal serializes a record as pretty-printed JSON with a trailing
// newline, matching the on-disk convention other gitgov tooling expects.
func Marshal(r *ports.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return nil, errors.Wrap(err, "failed to marshal record")
	}
	return buf.Bytes(), nil
}

// HasConflictMarkers reports whether raw file content still contains
// unresolved Git conflict markers.
func HasConflictMarkers(data []byte) bool {
	return bytes.Contains(data, []byte("<<<<<<<")) ||
		bytes.Contains(data, []byte("=======")) ||
		bytes.Contains(data, []byte(">>>>>>>"))
}
