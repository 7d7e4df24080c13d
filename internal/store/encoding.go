package store

import "github.com/ugorji/go/codec"

var cborHandle = func() *codec.CborHandle {
	h := &codec.CborHandle{}
	h.Canonical = true
	return h
}()

// Encode serializes v as compact, self-describing CBOR — used for every
// struct stored as a row value so the on-disk format survives field
// additions without a schema migration step.
func Encode(v interface{}) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, cborHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

// Decode parses CBOR bytes produced by Encode into v.
func Decode(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, cborHandle)
	return dec.Decode(v)
}
