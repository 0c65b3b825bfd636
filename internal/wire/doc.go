// Package wire defines the message envelope and the framed codec every
// peer connection speaks: a 4-byte big-endian length prefix followed by
// a 4-byte ASCII kind tag and, for structured messages, a JSON-encoded
// envelope. Tag-only frames serve liveness probing and shutdown.
package wire
