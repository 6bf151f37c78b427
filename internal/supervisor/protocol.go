// Package supervisor implements the management protocol and
// per-server state machine: a control socket accepting framed JSON
// requests, dispatched by category, with mutual-exclusion across the
// five operation kinds per server. The reactor that owns the socket
// replaces the original's single-threaded libev-style loop with Go's
// native goroutine-per-connection model — the
// re-architecture note: "child-process isolation can become in-process
// task isolation since the target concurrency model is threads." TLS
// termination and the unix-socket/TCP listener split are external
// collaborators (the design); this package consumes a plain
// net.Listener.
package supervisor

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pgkeep/pgkeep/internal/pgerrors"
)

// frameHeaderSize is the fixed prefix before every JSON payload: a
// uint32 total length, a uint8 compression flag, a uint8 encryption
// flag,  ("a uint32 total-length, a uint8 compression
// flag, a uint8 encryption flag, and a typed JSON payload").
const frameHeaderSize = 4 + 1 + 1

// Codec transforms a frame's JSON payload bytes according to the
// compression/encryption flags carried in the frame header. The actual
// codec bindings (zstd/gzip/lz4/bz2, AES) are external collaborators
// ; Plain is the only concrete Codec this package
// implements, for unencrypted/uncompressed control traffic.
type Codec interface {
	// EncodeFlags reports the (compression, encryption) flag byte pair
	// this codec writes into outgoing frames.
	EncodeFlags() (compression, encryption uint8)
	// Encode transforms a plaintext JSON payload before it is framed.
	Encode(payload []byte) ([]byte, error)
	// Decode reverses Encode given the flags read from an incoming
	// frame's header.
	Decode(payload []byte, compression, encryption uint8) ([]byte, error)
}

// Plain is the identity Codec: zero compression and encryption flags,
// payload passed through unchanged.
type Plain struct{}

func (Plain) EncodeFlags() (uint8, uint8) { return 0, 0 }
func (Plain) Encode(payload []byte) ([]byte, error) { return payload, nil }
func (Plain) Decode(payload []byte, compression, encryption uint8) ([]byte, error) {
	if compression != 0 || encryption != 0 {
		return nil, pgerrors.New(pgerrors.FormatError, "received compressed or encrypted frame with no codec configured")
	}
	return payload, nil
}

// Request is one management-protocol request, the category
// list: backup, list-backup, restore, verify, archive, delete, retain,
// expunge, info, conf-get, conf-set, conf-reload, conf-ls, status,
// ping, reset, shutdown, mode, annotate.
type Request struct {
	Category string          `json:"category"`
	Server   string          `json:"server,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Status values for Response.Status, the user-visible
// behavior: "success, restart_required, or error".
const (
	StatusSuccess         = "success"
	StatusRestartRequired = "restart_required"
	StatusError           = "error"
)

// Response is the framed reply to a Request.
type Response struct {
	Status  string          `json:"status"`
	Category string         `json:"category"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ErrorResponse builds an error Response from an err, unwrapping its
// pgerrors.Kind when present — the design: "a run-level failure
// produces a JSON error response with {category, code, message}."
func ErrorResponse(category string, err error) Response {
	code := "unknown"
	if k, ok := pgerrors.KindOf(err); ok {
		code = string(k)
	}
	return Response{Status: StatusError, Category: category, Code: code, Message: err.Error()}
}

// WriteFrame encodes req as JSON, transforms it through codec, and
// writes the length-prefixed frame to w.
func WriteFrame(w io.Writer, codec Codec, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return pgerrors.Wrap(pgerrors.FormatError, "marshaling frame payload", err)
	}
	compression, encryption := codec.EncodeFlags()
	encoded, err := codec.Encode(payload)
	if err != nil {
		return pgerrors.Wrap(pgerrors.FormatError, "encoding frame payload", err)
	}

	header := make([]byte, frameHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(encoded)))
	header[4] = compression
	header[5] = encryption

	if _, err := w.Write(header); err != nil {
		return pgerrors.Wrap(pgerrors.TransportError, "writing frame header", err)
	}
	if _, err := w.Write(encoded); err != nil {
		return pgerrors.Wrap(pgerrors.TransportError, "writing frame payload", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r, decodes it through
// codec, and unmarshals the result into v.
func ReadFrame(r io.Reader, codec Codec, v any) error {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return pgerrors.Wrap(pgerrors.TransportError, "reading frame header", err)
	}
	length := binary.LittleEndian.Uint32(header[0:4])
	compression := header[4]
	encryption := header[5]

	encoded := make([]byte, length)
	if _, err := io.ReadFull(r, encoded); err != nil {
		return pgerrors.Wrap(pgerrors.TransportError, "reading frame payload", err)
	}
	payload, err := codec.Decode(encoded, compression, encryption)
	if err != nil {
		return pgerrors.Wrap(pgerrors.FormatError, "decoding frame payload", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return pgerrors.Wrap(pgerrors.FormatError, "unmarshaling frame payload", err)
	}
	return nil
}
