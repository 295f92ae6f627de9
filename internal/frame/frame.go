// Package frame implements the framed connection used between relay clients and
// the server. A single stream carries text messages and bulk (video) frames;
// every frame has a 5 byte header: kind (1 byte) and payload length (uint32,
// big-endian).
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Kind tags the type of a frame on the wire.
type Kind byte

const (
	// KindText carries a UTF-8 protocol message or chat line.
	KindText Kind = 1
	// KindBulk carries an opaque video frame.
	KindBulk Kind = 2
	// KindEndCall tells the server the sender hung up the call.
	KindEndCall Kind = 3
	// KindModeExit tells the server the sender left bulk mode without hanging up.
	KindModeExit Kind = 4
)

// HeaderSize is the kind byte plus the big-endian payload length.
const HeaderSize = 5

// DefaultMaxPayload bounds a frame payload when no explicit limit is configured.
const DefaultMaxPayload = 4 << 20

var (
	// ErrClosed reports that the peer went away or the channel was closed locally.
	ErrClosed = errors.New("frame: channel closed")
	// ErrProtocol reports a stream that does not follow the framing rules.
	ErrProtocol = errors.New("frame: protocol violation")
	// ErrTooLarge reports a frame above the configured payload limit.
	ErrTooLarge = fmt.Errorf("%w: frame too large", ErrProtocol)
	// ErrUnexpectedFrame reports a frame kind the receiver cannot accept in its current mode.
	ErrUnexpectedFrame = fmt.Errorf("%w: unexpected frame kind", ErrProtocol)
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "TEXT"
	case KindBulk:
		return "BULK"
	case KindEndCall:
		return "END_CALL"
	case KindModeExit:
		return "MODE_EXIT"
	default:
		return fmt.Sprintf("KIND:%d", byte(k))
	}
}

func (k Kind) valid() bool { return k >= KindText && k <= KindModeExit }

// Frame is a single decoded unit of the stream.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// WriteTo writes f to w in binary format. It satisfies io.WriterTo.
func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	var hdr [HeaderSize]byte
	hdr[0] = byte(f.Kind)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(f.Payload)))
	nw, err := w.Write(hdr[:])
	if err == nil && len(f.Payload) != 0 {
		var np int
		np, err = w.Write(f.Payload)
		nw += np
	}
	return int64(nw), err
}

// Read decodes one frame from r. Payloads larger than limit are rejected with
// ErrTooLarge; a limit <= 0 selects DefaultMaxPayload.
func Read(r io.Reader, limit int) (Frame, error) {
	if limit <= 0 {
		limit = DefaultMaxPayload
	}
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("short frame header: %w", err)
		}
		return Frame{}, err
	}

	f := Frame{Kind: Kind(hdr[0])}
	if !f.Kind.valid() {
		return Frame{}, fmt.Errorf("%w: unknown frame kind %d", ErrProtocol, hdr[0])
	}
	size := binary.BigEndian.Uint32(hdr[1:])
	if uint64(size) > uint64(limit) {
		return Frame{}, fmt.Errorf("%w (%d > %d bytes)", ErrTooLarge, size, limit)
	}
	if size > 0 {
		f.Payload = make([]byte, int(size))
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return Frame{}, fmt.Errorf("short frame payload: %w", err)
		}
	}
	return f, nil
}

// BulkKind is the outcome of a receive in bulk mode.
type BulkKind int

const (
	// BulkFrame carries a video frame in Bulk.Payload.
	BulkFrame BulkKind = iota
	// BulkEndCall means the sender hung up.
	BulkEndCall
	// BulkModeExit means the sender left bulk mode; the call itself continues.
	BulkModeExit
)

func (k BulkKind) String() string {
	switch k {
	case BulkFrame:
		return "frame"
	case BulkEndCall:
		return "end_call"
	case BulkModeExit:
		return "mode_exit"
	default:
		return fmt.Sprintf("bulk(%d)", int(k))
	}
}

// Bulk is the tagged result of Channel.ReceiveBulk.
type Bulk struct {
	Kind    BulkKind
	Payload []byte
}
