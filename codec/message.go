package codec

import "encoding/json"

// JSONMessage adapts any JSON-serializable value to the Message
// interface, generalizing the teacher's JSONCodec (which serialized a
// whole RPCMessage envelope) down to a single payload value — the
// envelope itself is now RpcHeader, so only the args/reply need this
// adapter.
type JSONMessage struct {
	V any
}

func (m *JSONMessage) Marshal() ([]byte, error) {
	return json.Marshal(m.V)
}

func (m *JSONMessage) Unmarshal(data []byte) error {
	return json.Unmarshal(data, m.V)
}

// Bytes is a Message that carries a raw byte slice verbatim, useful for
// heartbeats or callers that already have an encoded payload.
type Bytes []byte

func (b Bytes) Marshal() ([]byte, error) { return b, nil }

func (b *Bytes) Unmarshal(data []byte) error {
	*b = append((*b)[:0], data...)
	return nil
}
