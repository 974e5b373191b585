package record_test

import (
	"encoding/json"
	"testing"

	"github.com/gitgov/sync/internal/ports"
	"github.com/gitgov/sync/internal/record"
	"github.com/stretchr/testify/require"
)

func TestChecksumDeterministicAcrossKeyOrder(t *testing.T) {
	a := json.RawMessage(`{"b":2,"a":1}`)
	b := json.RawMessage(`{"a":1,"b":2}`)

	sumA, err := record.Checksum(a)
	require.NoError(t, err)
	sumB, err := record.Checksum(b)
	require.NoError(t, err)
	require.Equal(t, sumA, sumB)
}

func TestVerifyChecksum(t *testing.T) {
	payload := json.RawMessage(`{"title":"write docs"}`)
	sum, err := record.Checksum(payload)
	require.NoError(t, err)

	r := &ports.Record{
		Header:  ports.RecordHeader{Version: "1.0", Type: "task", PayloadChecksum: sum},
		Payload: payload,
	}
	ok, err := record.VerifyChecksum(r)
	require.NoError(t, err)
	require.True(t, ok)

	r.Header.PayloadChecksum = "deadbeef"
	ok, err = record.VerifyChecksum(r)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestParseRejectsLegacyShape(t *testing.T) {
	_, err := record.Parse([]byte(`{"id": "1", "title": "no envelope here"}`))
	require.ErrorIs(t, err, record.ErrInvalidRecord)
}

func TestParseRejectsNonJSON(t *testing.T) {
	_, err := record.Parse([]byte(`not json at all`))
	require.ErrorIs(t, err, record.ErrInvalidRecord)
}

func TestMarshalRoundTrip(t *testing.T) {
	payload := json.RawMessage(`{"title":"x"}`)
	sum, err := record.Checksum(payload)
	require.NoError(t, err)

	r := &ports.Record{
		Header: ports.RecordHeader{
			Version:         record.HeaderVersion,
			Type:            "task",
			PayloadChecksum: sum,
			Signatures: []ports.Signature{
				{KeyID: "human:alice", Role: "author", Signature: "sig", Timestamp: "2026-01-01T00:00:00Z"},
			},
		},
		Payload: payload,
	}

	out, err := record.Marshal(r)
	require.NoError(t, err)
	require.True(t, len(out) > 0 && out[len(out)-1] == '\n')

	parsed, err := record.Parse(out)
	require.NoError(t, err)
	require.Equal(t, r.Header.PayloadChecksum, parsed.Header.PayloadChecksum)
	require.Len(t, parsed.Header.Signatures, 1)
}

func TestHasConflictMarkers(t *testing.T) {
	require.True(t, record.HasConflictMarkers([]byte("<<<<<<< HEAD\nfoo\n=======\nbar\n>>>>>>> branch\n")))
	require.False(t, record.HasConflictMarkers([]byte(`{"header":{},"payload":{}}`)))
}
