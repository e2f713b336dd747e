// Package container implements the on-disk format for saved frames.
//
// A file starts with the 4-byte magic "UUFS" and a version byte. The rest is
// a stream of protobuf-wire length-delimited records, each tagged with its
// record kind:
//
//	1 metadata  {1 user, 2 exposure_ns, 3 run_id, 4 created_unix_nano, 5 dataset}
//	2 frame     {1 seq, 2 timestamp_unix_nano, 3 width, 4 height, 5 encoding, 6 payload}
//	3 trailer   {1 name, 2 count, 3 width, 4 height}
//
// Exactly one metadata record comes first. Frame records follow in
// acquisition order. The trailer is written once, by Finalize, and marks the
// file as complete; a file without it was not finalized.
//
// Frame payloads are little-endian uint16 samples, row-major, optionally
// zstd-compressed (see Encoding).
package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

// Ext is the file extension used for containers.
const Ext = ".uufs"

// Version is the format version written by this package.
const Version byte = 1

var magic = []byte("UUFS")

// Record kinds.
const (
	recordMetadata protowire.Number = 1
	recordFrame    protowire.Number = 2
	recordTrailer  protowire.Number = 3
)

// Encoding names the payload layout of a frame record.
type Encoding string

const (
	// EncodingRaw stores samples uncompressed.
	EncodingRaw Encoding = "raw/uint16le"
	// EncodingZstd stores samples compressed with zstd.
	EncodingZstd Encoding = "zstd/uint16le"
)

var (
	// ErrBadMagic is returned when a file does not start with the container header.
	ErrBadMagic = errors.New("not a frame container")
	// ErrNotFinalized is returned by Open when the dataset trailer is missing.
	ErrNotFinalized = errors.New("container not finalized")
	// ErrCorrupt is returned for malformed records.
	ErrCorrupt = errors.New("container corrupt")
	// ErrFinalized is returned when writing to a finalized container.
	ErrFinalized = errors.New("container already finalized")
	// ErrBadFrame is returned by Append for a frame whose data does not match its shape.
	ErrBadFrame = errors.New("bad frame shape")
)

// maxFrameBytes bounds the decoded payload of one frame.
const maxFrameBytes = 1 << 30

// frameBytes returns the payload size of a width x height frame. It reports
// false for empty shapes and shapes above maxFrameBytes.
func frameBytes(width, height int) (int, bool) {
	if width <= 0 || height <= 0 || width > maxFrameBytes/2/height {
		return 0, false
	}
	return width * height * 2, true
}

// Metadata is written once at the start of a container.
type Metadata struct {
	User     string
	Exposure time.Duration
	RunID    string
	Created  time.Time
	Dataset  string
}

// Dataset describes the stacked frames of a finalized container. Width and
// Height are zero when the frames do not all share one shape.
type Dataset struct {
	Name   string
	Count  int
	Width  int
	Height int
}

// Shape returns the dataset shape as count, width, height.
func (d Dataset) Shape() [3]int {
	return [3]int{d.Count, d.Width, d.Height}
}

var (
	codecOnce sync.Once
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	codecErr  error
)

// codecs returns process-wide zstd coders. EncodeAll and DecodeAll are safe
// for concurrent use.
func codecs() (*zstd.Encoder, *zstd.Decoder, error) {
	codecOnce.Do(func() {
		encoder, codecErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if codecErr != nil {
			return
		}
		decoder, codecErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxFrameBytes))
	})
	return encoder, decoder, codecErr
}

func appendMetadata(b []byte, m Metadata) []byte {
	var msg []byte
	msg = protowire.AppendTag(msg, 1, protowire.BytesType)
	msg = protowire.AppendString(msg, m.User)
	msg = protowire.AppendTag(msg, 2, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(m.Exposure))
	msg = protowire.AppendTag(msg, 3, protowire.BytesType)
	msg = protowire.AppendString(msg, m.RunID)
	msg = protowire.AppendTag(msg, 4, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(m.Created.UnixNano()))
	msg = protowire.AppendTag(msg, 5, protowire.BytesType)
	msg = protowire.AppendString(msg, m.Dataset)

	b = protowire.AppendTag(b, recordMetadata, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendTrailer(b []byte, d Dataset) []byte {
	var msg []byte
	msg = protowire.AppendTag(msg, 1, protowire.BytesType)
	msg = protowire.AppendString(msg, d.Name)
	msg = protowire.AppendTag(msg, 2, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(d.Count))
	msg = protowire.AppendTag(msg, 3, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(d.Width))
	msg = protowire.AppendTag(msg, 4, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(d.Height))

	b = protowire.AppendTag(b, recordTrailer, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// encodeSamples packs samples as little-endian bytes.
func encodeSamples(data []uint16) []byte {
	raw := make([]byte, 0, len(data)*2)
	for _, v := range data {
		raw = binary.LittleEndian.AppendUint16(raw, v)
	}
	return raw
}

func decodeSamples(raw []byte, n int) ([]uint16, error) {
	if len(raw) != n*2 {
		return nil, fmt.Errorf("%w: payload has %d bytes, want %d", ErrCorrupt, len(raw), n*2)
	}
	data := make([]uint16, n)
	for i := range data {
		data[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return data, nil
}

// consumeMessage walks the fields of one record. Varint fields are passed as
// v, length-delimited fields as b. Other wire types are skipped.
func consumeMessage(msg []byte, fn func(num protowire.Number, v uint64, b []byte)) error {
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrCorrupt, protowire.ParseError(n))
		}
		msg = msg[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(msg)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %w", ErrCorrupt, num, protowire.ParseError(n))
			}
			fn(num, v, nil)
			msg = msg[n:]
		case protowire.BytesType:
			b, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %w", ErrCorrupt, num, protowire.ParseError(n))
			}
			fn(num, 0, b)
			msg = msg[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, msg)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %w", ErrCorrupt, num, protowire.ParseError(n))
			}
			msg = msg[n:]
		}
	}
	return nil
}
