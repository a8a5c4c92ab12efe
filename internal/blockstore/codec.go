package blockstore

import "github.com/algorand/go-codec/codec"

// msgpackHandle is the shared codec handle for every record this
// package and the registry persist, the same codec.MsgpackHandle
// pattern the teacher's algorand scanner uses to decode raw blocks.
var msgpackHandle = &codec.MsgpackHandle{}

// Marshal encodes v as msgpack.
func Marshal(v any) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

// Unmarshal decodes msgpack bytes into v.
func Unmarshal(data []byte, v any) error {
	dec := codec.NewDecoderBytes(data, msgpackHandle)
	return dec.Decode(v)
}
