package wire

import (
	"bytes"
	"encoding/gob"
)

// NewGobCodec creates a Codec using Go's binary gob format, the base
// encoding the compressed binary Codec builds on.
func NewGobCodec() Codec {
	return gobCodec{}
}

type gobCodec struct{}

func (gobCodec) Encode(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Decode(b []byte, msg *Message) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(msg)
}
