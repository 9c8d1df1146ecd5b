package wire

import "encoding/json"

// NewJSONCodec creates a Codec using json encoding, for human-debuggable
// transports and the CLI's local testing path.
func NewJSONCodec() Codec {
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Decode(b []byte, msg *Message) error {
	return json.Unmarshal(b, msg)
}
