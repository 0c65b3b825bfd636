package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ucl/internal/op"
)

func TestBareControlRoundTrip(t *testing.T) {
	for _, kind := range []Kind{Prepare, Vote, Commit, Abort, Ack, Ping, Pong, Shutdown} {
		t.Run(string(kind), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, Control(kind)))

			// A bare frame is exactly 8 bytes: prefix + tag.
			require.Equal(t, 8, buf.Len())
			assert.Equal(t, uint32(4), binary.BigEndian.Uint32(buf.Bytes()[:4]))
			assert.Equal(t, string(kind), string(buf.Bytes()[4:8]))

			env, err := Read(&buf, 0)
			require.NoError(t, err)
			assert.Equal(t, kind, env.Kind)
			assert.True(t, env.Bare())
		})
	}
}

func TestStructuredRoundTrip(t *testing.T) {
	body := GossipBody{
		Op: op.Operation{
			Type:    op.CounterAdd,
			Key:     "x",
			Payload: op.Payload{Delta: 5},
			Origin:  "n1",
		},
		Hops: 2,
	}
	env, err := NewEnvelope(Gossip, "n1", body)
	require.NoError(t, err)
	require.NotEmpty(t, env.ID)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, env))

	got, err := Read(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, Gossip, got.Kind)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, "n1", got.Sender)

	var back GossipBody
	require.NoError(t, got.Decode(&back))
	assert.Equal(t, op.CounterAdd, back.Op.Type)
	assert.Equal(t, int64(5), back.Op.Payload.Delta)
	assert.Equal(t, 2, back.Hops)
}

func TestReadAcrossPartialReads(t *testing.T) {
	env, err := NewEnvelope(Vote, "n2", VoteBody{RoundID: "r1", Commit: true})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, env))

	// Deliver one byte at a time; Read must still assemble the frame.
	got, err := Read(iotest{r: &buf}, 0)
	require.NoError(t, err)
	assert.Equal(t, Vote, got.Kind)
	var body VoteBody
	require.NoError(t, got.Decode(&body))
	assert.True(t, body.Commit)
}

// iotest yields at most one byte per Read call.
type iotest struct{ r io.Reader }

func (s iotest) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return s.r.Read(p)
}

func TestCloseBeforePrefixIsConnectionClosed(t *testing.T) {
	_, err := Read(bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestCloseMidFrameIsConnectionClosed(t *testing.T) {
	env, err := NewEnvelope(Gossip, "n1", GossipBody{})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, env))

	truncated := buf.Bytes()[:buf.Len()-3]
	_, err = Read(bytes.NewReader(truncated), 0)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestOversizedFrameIsNotConnectionClosed(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 1<<30)
	buf.Write(prefix[:])

	_, err := Read(&buf, 1024)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.False(t, errors.Is(err, ErrConnectionClosed))
}

func TestUnknownTagRejected(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 4)
	buf.Write(prefix[:])
	buf.WriteString("WHAT")

	_, err := Read(&buf, 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConnectionClosed)
}

func TestShortLengthRejected(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 2)
	buf.Write(prefix[:])
	buf.WriteString("PI")

	_, err := Read(&buf, 0)
	assert.Error(t, err)
}
