package wire

import (
	"reflect"
	"testing"

	"github.com/kvflood/kvflood/lib/kvstore"
)

var testCodecs = map[string]func() Codec{
	"JSON":       NewJSONCodec,
	"GOB":        NewGobCodec,
	"Compressed": NewCompressedCodec,
}

func testMessages() []Message {
	return []Message{
		{MsgType: MsgTSuccess},
		{
			MsgType: MsgTSet,
			Area:    "spine",
			Publication: &kvstore.Publication{
				AreaID: "spine",
				KeyVals: map[string]kvstore.Value{
					"key1": {Version: 1, OriginatorID: "node1", Payload: []byte("value1"), TTLMs: 30000, TTLVersion: 1},
				},
			},
		},
		{
			MsgType: MsgTGet,
			Area:    "spine",
			Keys:    []string{"key1", "key2"},
		},
		{
			MsgType: MsgTError,
			Err:     "unknown area",
		},
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for name, factory := range testCodecs {
		t.Run(name, func(t *testing.T) {
			codec := factory()
			for i, msg := range testMessages() {
				data, err := codec.Encode(msg)
				if err != nil {
					t.Fatalf("message %d: encode failed: %v", i, err)
				}
				var got Message
				if err := codec.Decode(data, &got); err != nil {
					t.Fatalf("message %d: decode failed: %v", i, err)
				}
				if !reflect.DeepEqual(msg, got) {
					t.Errorf("message %d round trip mismatch:\nwant: %+v\ngot:  %+v", i, msg, got)
				}
			}
		})
	}
}

func TestKeyDumpParamsPrefixPrecedence(t *testing.T) {
	// §9 Open Question: keys wins when both are set.
	p := KeyDumpParams{Prefix: "legacy", Keys: []string{"newstyle"}}
	f, err := p.ResolveFilter()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Match("newstyle-key", "n") {
		t.Fatalf("expected keys to take precedence over prefix")
	}
	if f.Match("legacy-key", "n") {
		t.Fatalf("expected prefix to be ignored once keys is set")
	}
}

func TestKeyDumpParamsPrefixFallback(t *testing.T) {
	p := KeyDumpParams{Prefix: "legacy"}
	f, err := p.ResolveFilter()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.Match("legacy-key", "n") {
		t.Fatalf("expected prefix to be used as the sole key pattern when keys is empty")
	}
}
