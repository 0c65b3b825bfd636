package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Kind is the 4-byte ASCII tag that opens every frame payload.
type Kind string

const (
	Prepare  Kind = "PREP"
	Vote     Kind = "VOTE"
	Commit   Kind = "COMT"
	Abort    Kind = "ABRT"
	Ack      Kind = "ACKK"
	Gossip   Kind = "GOSS"
	Digest   Kind = "DGST"
	Ping     Kind = "PING"
	Pong     Kind = "PONG"
	Shutdown Kind = "SHUT"
)

const tagLen = 4

// DefaultMaxFrame bounds the memory a single inbound frame may claim.
const DefaultMaxFrame = 4 << 20

var (
	// ErrConnectionClosed reports that the peer closed the connection,
	// possibly mid-frame. It is distinct from framing errors: a closed
	// connection triggers teardown and a membership update, a framing
	// error means the peer is misbehaving.
	ErrConnectionClosed = errors.New("connection closed by peer")
	// ErrFrameTooLarge reports a length prefix above the configured cap.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

var validKinds = map[Kind]struct{}{
	Prepare: {}, Vote: {}, Commit: {}, Abort: {}, Ack: {},
	Gossip: {}, Digest: {}, Ping: {}, Pong: {}, Shutdown: {},
}

// Valid reports whether k is a known message kind.
func (k Kind) Valid() bool {
	_, ok := validKinds[k]
	return ok
}

// Envelope is the unit every protocol message travels in. ID is wire
// unique and drives gossip deduplication; Sender names the origin node
// so receivers can route replies. Bare control frames (liveness probes,
// shutdown) carry neither, only the Kind.
type Envelope struct {
	Kind   Kind            `json:"-"`
	ID     string          `json:"id,omitempty"`
	Sender string          `json:"sender,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// Bare reports whether the envelope is a tag-only control frame.
func (e Envelope) Bare() bool {
	return e.ID == "" && e.Sender == "" && len(e.Body) == 0
}

// NewEnvelope wraps body (marshaled to JSON) in an envelope with a
// fresh message ID.
func NewEnvelope(kind Kind, sender string, body interface{}) (Envelope, error) {
	env := Envelope{Kind: kind, ID: uuid.NewString(), Sender: sender}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s body: %w", kind, err)
		}
		env.Body = raw
	}
	return env, nil
}

// Control returns a bare tag-only envelope.
func Control(kind Kind) Envelope {
	return Envelope{Kind: kind}
}

// Decode unmarshals the envelope body into v.
func (e Envelope) Decode(v interface{}) error {
	if len(e.Body) == 0 {
		return fmt.Errorf("%s envelope has no body", e.Kind)
	}
	return json.Unmarshal(e.Body, v)
}

// Write frames env onto w: a 4-byte big-endian length prefix, the
// 4-byte kind tag, then the JSON-encoded envelope unless it is bare.
func Write(w io.Writer, env Envelope) error {
	if !env.Kind.Valid() {
		return fmt.Errorf("invalid message kind %q", string(env.Kind))
	}
	payload := []byte(env.Kind)
	if !env.Bare() {
		meta, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("marshal envelope: %w", err)
		}
		payload = append(payload, meta...)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// Read consumes one frame from r. It reads exactly the prefixed number
// of bytes across partial reads; a peer close before the frame is
// complete yields ErrConnectionClosed.
func Read(r io.Reader, maxFrame uint32) (Envelope, error) {
	if maxFrame == 0 {
		maxFrame = DefaultMaxFrame
	}

	var prefix [4]byte
	if err := readExact(r, prefix[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n < tagLen {
		return Envelope{}, fmt.Errorf("frame length %d shorter than tag", n)
	}
	if n > maxFrame {
		return Envelope{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxFrame)
	}

	payload := make([]byte, n)
	if err := readExact(r, payload); err != nil {
		return Envelope{}, err
	}

	kind := Kind(payload[:tagLen])
	if !kind.Valid() {
		return Envelope{}, fmt.Errorf("unknown message tag %q", string(payload[:tagLen]))
	}

	env := Envelope{Kind: kind}
	if n > tagLen {
		if err := json.Unmarshal(payload[tagLen:], &env); err != nil {
			return Envelope{}, fmt.Errorf("unmarshal %s envelope: %w", kind, err)
		}
		env.Kind = kind
	}
	return env, nil
}

// readExact fills buf completely or reports why it could not. EOF and
// ECONNRESET-style failures both collapse into ErrConnectionClosed so
// callers can treat them as peer departure rather than protocol error.
func readExact(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrConnectionClosed
		}
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}
