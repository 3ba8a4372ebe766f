// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package kvdb

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	rawValue byte = iota
	zstdValue
)

var (
	errValueTooLarge    = errors.New("value too large")
	errUnknownEncoding  = errors.New("unknown value encoding")
	errEmptyStoredValue = errors.New("empty stored value")
)

// valueCodec frames stored values with a one byte encoding marker. Values
// written while compression is on stay readable after it is turned off.
type valueCodec struct {
	compress bool
	maxSize  int64
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

func newValueCodec(compress bool, maxSize int64) (*valueCodec, error) {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxSize)))
	if err != nil {
		return nil, err
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	return &valueCodec{
		compress: compress,
		maxSize:  maxSize,
		encoder:  encoder,
		decoder:  decoder,
	}, nil
}

func (c *valueCodec) encode(value []byte) ([]byte, error) {
	if int64(len(value)) > c.maxSize {
		return nil, fmt.Errorf("%w: (%d) > (%d)", errValueTooLarge, len(value), c.maxSize)
	}
	if !c.compress {
		return append([]byte{rawValue}, value...), nil
	}
	return c.encoder.EncodeAll(value, []byte{zstdValue}), nil
}

func (c *valueCodec) decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, errEmptyStoredValue
	}
	switch stored[0] {
	case rawValue:
		return stored[1:], nil
	case zstdValue:
		value, err := c.decoder.DecodeAll(stored[1:], nil)
		if err != nil {
			return nil, err
		}
		if int64(len(value)) > c.maxSize {
			return nil, fmt.Errorf("%w: (%d) > (%d)", errValueTooLarge, len(value), c.maxSize)
		}
		return value, nil
	default:
		return nil, fmt.Errorf("%w: %d", errUnknownEncoding, stored[0])
	}
}

func (c *valueCodec) close() {
	c.decoder.Close()
	_ = c.encoder.Close()
}
