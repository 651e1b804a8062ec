package codec

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers for RpcHeader on the wire, matching the schema described
// in spec.md §3.
const (
	fieldServiceName protowire.Number = 1
	fieldMethodName  protowire.Number = 2
	fieldRequestID   protowire.Number = 3
	fieldArgsSize    protowire.Number = 4
	fieldCompressed  protowire.Number = 5
	fieldCancelled   protowire.Number = 6
	fieldStatus      protowire.Number = 7
	fieldError       protowire.Number = 8

	errFieldCode    protowire.Number = 1
	errFieldMessage protowire.Number = 2
)

// RpcError carries the application/system error detail present on a
// response header whenever Status != 0.
type RpcError struct {
	Code    uint32
	Message string
}

// RpcHeader is the schema-defined, wire-visible envelope preceding every
// request or response payload. Request and response frames share this
// exact shape; direction is implied by which way the bytes travel.
type RpcHeader struct {
	ServiceName string
	MethodName  string
	RequestID   uint64
	ArgsSize    uint32
	Compressed  bool
	Cancelled   bool
	Status      uint32
	Error       *RpcError
}

// Marshal serializes the header using raw protobuf wire primitives
// (protowire.Append*) rather than a generated message type — there is no
// .proto source to run protoc against, so the header is hand-encoded
// field by field, the same job CodedOutputStream does in the original
// C++ implementation.
func (h *RpcHeader) Marshal() []byte {
	var b []byte
	if h.ServiceName != "" {
		b = protowire.AppendTag(b, fieldServiceName, protowire.BytesType)
		b = protowire.AppendString(b, h.ServiceName)
	}
	if h.MethodName != "" {
		b = protowire.AppendTag(b, fieldMethodName, protowire.BytesType)
		b = protowire.AppendString(b, h.MethodName)
	}
	if h.RequestID != 0 {
		b = protowire.AppendTag(b, fieldRequestID, protowire.VarintType)
		b = protowire.AppendVarint(b, h.RequestID)
	}
	if h.ArgsSize != 0 {
		b = protowire.AppendTag(b, fieldArgsSize, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.ArgsSize))
	}
	if h.Compressed {
		b = protowire.AppendTag(b, fieldCompressed, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if h.Cancelled {
		b = protowire.AppendTag(b, fieldCancelled, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}
	if h.Status != 0 {
		b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(h.Status))
	}
	if h.Error != nil {
		b = protowire.AppendTag(b, fieldError, protowire.BytesType)
		b = protowire.AppendBytes(b, h.Error.marshal())
	}
	return b
}

func (e *RpcError) marshal() []byte {
	var b []byte
	if e.Code != 0 {
		b = protowire.AppendTag(b, errFieldCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(e.Code))
	}
	if e.Message != "" {
		b = protowire.AppendTag(b, errFieldMessage, protowire.BytesType)
		b = protowire.AppendString(b, e.Message)
	}
	return b
}

// UnmarshalHeader parses bytes previously produced by Marshal. Unknown
// field numbers are skipped via protowire.ConsumeFieldValue so a header
// grown with a future field number stays forward-compatible.
func UnmarshalHeader(data []byte) (*RpcHeader, error) {
	h := &RpcHeader{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("codec: malformed header tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldServiceName:
			s, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("codec: malformed service_name: %w", protowire.ParseError(m))
			}
			h.ServiceName = s
			data = data[m:]
		case fieldMethodName:
			s, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("codec: malformed method_name: %w", protowire.ParseError(m))
			}
			h.MethodName = s
			data = data[m:]
		case fieldRequestID:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("codec: malformed request_id: %w", protowire.ParseError(m))
			}
			h.RequestID = v
			data = data[m:]
		case fieldArgsSize:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("codec: malformed args_size: %w", protowire.ParseError(m))
			}
			h.ArgsSize = uint32(v)
			data = data[m:]
		case fieldCompressed:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("codec: malformed compressed: %w", protowire.ParseError(m))
			}
			h.Compressed = v != 0
			data = data[m:]
		case fieldCancelled:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("codec: malformed cancelled: %w", protowire.ParseError(m))
			}
			h.Cancelled = v != 0
			data = data[m:]
		case fieldStatus:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("codec: malformed status: %w", protowire.ParseError(m))
			}
			h.Status = uint32(v)
			data = data[m:]
		case fieldError:
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("codec: malformed error: %w", protowire.ParseError(m))
			}
			e, err := unmarshalError(raw)
			if err != nil {
				return nil, err
			}
			h.Error = e
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("codec: malformed unknown field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return h, nil
}

func unmarshalError(data []byte) (*RpcError, error) {
	e := &RpcError{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("codec: malformed error tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case errFieldCode:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("codec: malformed error code: %w", protowire.ParseError(m))
			}
			e.Code = uint32(v)
			data = data[m:]
		case errFieldMessage:
			s, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("codec: malformed error message: %w", protowire.ParseError(m))
			}
			e.Message = s
			data = data[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("codec: malformed unknown error field %d: %w", num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}
	return e, nil
}
