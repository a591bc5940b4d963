package store

import (
	"github.com/klauspost/compress/zstd"
)

// valueCodec compresses record values for the memory engine. EncodeAll and
// DecodeAll are safe for concurrent use.
type valueCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newValueCodec() (*valueCodec, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, wrapError(CodeSystem, "zstd.NewWriter", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		enc.Close()
		return nil, wrapError(CodeSystem, "zstd.NewReader", err)
	}
	return &valueCodec{enc: enc, dec: dec}, nil
}

func (c *valueCodec) encode(value []byte) []byte {
	if len(value) == 0 {
		return []byte{}
	}
	return c.enc.EncodeAll(value, make([]byte, 0, len(value)/2+16))
}

func (c *valueCodec) decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return []byte{}, nil
	}
	value, err := c.dec.DecodeAll(stored, nil)
	if err != nil {
		return nil, wrapError(CodeBroken, "zstd.DecodeAll", err)
	}
	return value, nil
}

func (c *valueCodec) close() {
	c.enc.Close()
	c.dec.Close()
}
