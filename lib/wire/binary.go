package wire

import (
	"github.com/DataDog/zstd"
)

// NewCompressedCodec creates a Codec that gob-encodes a Message and then
// zstd-compresses the result, the "bandwidth-economical" transport
// §1(b) calls for on the full-sync exchange path (§4.2): a hash dump
// batches every key in an area into one Message, and those payloads
// compress well since keys/originator-ids repeat heavily across entries.
//
// Framed the same way dKV's binarySerializerImpl frames a fixed message
// header before its variable-length fields, except the "header" here is
// the underlying gob stream and the variable body is the zstd payload.
func NewCompressedCodec() Codec {
	return compressedCodec{inner: NewGobCodec()}
}

type compressedCodec struct {
	inner Codec
}

func (c compressedCodec) Encode(msg Message) ([]byte, error) {
	raw, err := c.inner.Encode(msg)
	if err != nil {
		return nil, err
	}
	return zstd.Compress(nil, raw)
}

func (c compressedCodec) Decode(b []byte, msg *Message) error {
	raw, err := zstd.Decompress(nil, b)
	if err != nil {
		return err
	}
	return c.inner.Decode(raw, msg)
}
