// Package codec implements the wire framing described in spec.md §4.B:
// a varint32-prefixed header followed by an optionally zlib-compressed
// payload. The payload itself is opaque to this package — it is whatever
// the caller's Message implementation produces, mirroring the way the
// original RPC framework treats request/response bodies as
// google.protobuf.Message values it never inspects.
package codec

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize bounds the whole frame (header + payload, post
// decompression) to guard against a corrupt or hostile length field
// driving unbounded allocation.
const MaxFrameSize = 64 << 20 // 64 MiB

// compressThreshold is the payload size below which compression is
// skipped even when the caller asked for it — small payloads rarely
// compress smaller once zlib's own framing overhead is counted.
const compressThreshold = 100

// Message is the payload contract the codec depends on: whatever a
// caller's request or response type is, it must know how to turn itself
// into bytes and back. This stands in for the IDL-generated message
// schemas spec.md treats as an external collaborator.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

// SerializationError wraps a Marshal failure from well-formed input,
// which per spec.md §9 Design Note 1 is the one place in this framework
// where a bug is signaled by panicking rather than returning an error —
// it cannot happen against a schema the caller controls, so a caller
// hitting it has a bug worth crashing loudly for during development.
type SerializationError struct {
	Op  string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("codec: %s: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Encode frames header and msg per spec.md §4.B: serialize msg, decide
// whether to compress it, fill in ArgsSize, serialize the header, and
// emit varint32(header_len) || header_bytes || payload.
//
// A serialization failure of the message is fatal — it panics wrapped in
// a *SerializationError, since it can only happen against a malformed
// caller-supplied type. A header marshal never fails (it is hand-encoded
// from primitive fields), so no equivalent panic path exists for it.
func Encode(header *RpcHeader, msg Message) []byte {
	payload, err := msg.Marshal()
	if err != nil {
		panic(&SerializationError{Op: "marshal payload", Err: err})
	}

	hdr := *header // work on a copy; caller's header is not mutated
	if hdr.Compressed && len(payload) > compressThreshold {
		compressed, cerr := deflate(payload)
		if cerr == nil && len(compressed) < len(payload) {
			payload = compressed
		} else {
			hdr.Compressed = false
		}
	} else {
		hdr.Compressed = false
	}
	hdr.ArgsSize = uint32(len(payload))

	headerBytes := hdr.Marshal()

	out := protowire.AppendVarint(nil, uint64(len(headerBytes)))
	out = append(out, headerBytes...)
	out = append(out, payload...)
	return out
}

// Decode reads one frame: varint32 header length, header bytes, then
// ArgsSize payload bytes, inflating the payload if the header says it is
// compressed. The payload is returned as raw bytes — Decode does not know
// (and does not need to know) the message type it belongs to.
func Decode(data []byte) (*RpcHeader, []byte, error) {
	if len(data) > MaxFrameSize {
		return nil, nil, fmt.Errorf("codec: frame exceeds max size %d", MaxFrameSize)
	}

	headerLen, n := protowire.ConsumeVarint(data)
	if n <= 0 {
		return nil, nil, fmt.Errorf("codec: malformed frame length")
	}
	data = data[n:]

	if headerLen == 0 {
		return nil, nil, fmt.Errorf("codec: zero-length header")
	}
	if uint64(len(data)) < headerLen {
		return nil, nil, fmt.Errorf("codec: header length %d exceeds remaining %d bytes", headerLen, len(data))
	}

	header, err := UnmarshalHeader(data[:headerLen])
	if err != nil {
		return nil, nil, fmt.Errorf("codec: parse header: %w", err)
	}
	data = data[headerLen:]

	if uint64(len(data)) < uint64(header.ArgsSize) {
		return nil, nil, fmt.Errorf("codec: args_size %d exceeds remaining %d bytes", header.ArgsSize, len(data))
	}
	payload := data[:header.ArgsSize]

	if header.Compressed {
		inflated, err := inflate(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("codec: decompress payload: %w", err)
		}
		payload = inflated
	}

	return header, payload, nil
}

// FrameLen inspects buf for one leading frame and reports how many bytes
// long it is once fully present. ok is false (with a nil error) when buf
// does not yet hold enough bytes to tell — the caller should read more
// and try again. This is the accumulate-until-complete step spec.md
// §4.C requires of the byte transport, which is byte-oriented and must
// not assume one frame arrives per read.
func FrameLen(buf []byte) (n int, ok bool, err error) {
	headerLen, vn := protowire.ConsumeVarint(buf)
	if vn <= 0 {
		return 0, false, nil
	}
	if headerLen == 0 {
		return 0, false, fmt.Errorf("codec: zero-length header")
	}
	if headerLen > MaxFrameSize {
		return 0, false, fmt.Errorf("codec: header length %d exceeds max frame size", headerLen)
	}
	if uint64(len(buf)-vn) < headerLen {
		return 0, false, nil
	}

	header, err := UnmarshalHeader(buf[vn : vn+int(headerLen)])
	if err != nil {
		return 0, false, fmt.Errorf("codec: parse header: %w", err)
	}

	total := vn + int(headerLen) + int(header.ArgsSize)
	if total > MaxFrameSize {
		return 0, false, fmt.Errorf("codec: frame size %d exceeds max", total)
	}
	if len(buf) < total {
		return 0, false, nil
	}
	return total, true, nil
}

// deflate compresses at zlib.BestSpeed, the compress/zlib counterpart of
// the original implementation's Z_BEST_SPEED. Output accumulates in a
// growable bytes.Buffer rather than a fixed-size output buffer loop.
func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	limited := io.LimitReader(r, MaxFrameSize+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(out) > MaxFrameSize {
		return nil, fmt.Errorf("codec: decompressed payload exceeds max frame size %d", MaxFrameSize)
	}
	return out, nil
}
