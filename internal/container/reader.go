package container

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/enricmcalvo/UUTrap/pkg/types"
)

type frameRecord struct {
	seq       uint64
	timestamp time.Time
	width     int
	height    int
	encoding  Encoding
	payload   []byte
}

// File is a container read back from disk. Frame payloads are decoded on demand.
type File struct {
	Metadata  Metadata
	Dataset   Dataset
	Finalized bool
	Version   byte

	frames []frameRecord
}

// Open reads the container at path.
//
// When the trailer is missing, Open returns the frames that could be read
// together with ErrNotFinalized, so an interrupted run can still be inspected.
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a container held in memory.
func Parse(data []byte) (*File, error) {
	if len(data) < len(magic)+1 || !bytes.Equal(data[:len(magic)], magic) {
		return nil, ErrBadMagic
	}
	f := &File{Version: data[len(magic)]}
	if f.Version != Version {
		return nil, fmt.Errorf("unsupported container version %d", f.Version)
	}

	rest := data[len(magic)+1:]
	sawMetadata := false
	for len(rest) > 0 {
		num, typ, n := protowire.ConsumeTag(rest)
		if n < 0 || typ != protowire.BytesType {
			// A torn tail from an interrupted write.
			break
		}
		msg, m := protowire.ConsumeBytes(rest[n:])
		if m < 0 {
			break
		}
		rest = rest[n+m:]

		switch num {
		case recordMetadata:
			if err := f.parseMetadata(msg); err != nil {
				return nil, err
			}
			sawMetadata = true
		case recordFrame:
			if f.Finalized {
				return nil, fmt.Errorf("%w: frame after trailer", ErrCorrupt)
			}
			rec, err := parseFrame(msg)
			if err != nil {
				return nil, err
			}
			f.frames = append(f.frames, rec)
		case recordTrailer:
			if err := f.parseTrailer(msg); err != nil {
				return nil, err
			}
			f.Finalized = true
		}
	}

	if !sawMetadata {
		return nil, fmt.Errorf("%w: missing metadata", ErrCorrupt)
	}
	if !f.Finalized {
		f.Dataset = Dataset{Name: f.Metadata.Dataset, Count: len(f.frames)}
		return f, ErrNotFinalized
	}
	if f.Dataset.Count != len(f.frames) {
		return nil, fmt.Errorf("%w: trailer counts %d frames, found %d", ErrCorrupt, f.Dataset.Count, len(f.frames))
	}
	return f, nil
}

func (f *File) parseMetadata(msg []byte) error {
	return consumeMessage(msg, func(num protowire.Number, v uint64, b []byte) {
		switch num {
		case 1:
			f.Metadata.User = string(b)
		case 2:
			f.Metadata.Exposure = time.Duration(v)
		case 3:
			f.Metadata.RunID = string(b)
		case 4:
			f.Metadata.Created = time.Unix(0, int64(v))
		case 5:
			f.Metadata.Dataset = string(b)
		}
	})
}

func (f *File) parseTrailer(msg []byte) error {
	return consumeMessage(msg, func(num protowire.Number, v uint64, b []byte) {
		switch num {
		case 1:
			f.Dataset.Name = string(b)
		case 2:
			f.Dataset.Count = int(v)
		case 3:
			f.Dataset.Width = int(v)
		case 4:
			f.Dataset.Height = int(v)
		}
	})
}

func parseFrame(msg []byte) (frameRecord, error) {
	var rec frameRecord
	err := consumeMessage(msg, func(num protowire.Number, v uint64, b []byte) {
		switch num {
		case 1:
			rec.seq = v
		case 2:
			rec.timestamp = time.Unix(0, int64(v))
		case 3:
			rec.width = int(v)
		case 4:
			rec.height = int(v)
		case 5:
			rec.encoding = Encoding(b)
		case 6:
			rec.payload = b
		}
	})
	if err != nil {
		return rec, err
	}
	if _, ok := frameBytes(rec.width, rec.height); !ok {
		return rec, fmt.Errorf("%w: frame %d has shape %dx%d", ErrCorrupt, rec.seq, rec.width, rec.height)
	}
	return rec, nil
}

// Len returns the number of frames in the file.
func (f *File) Len() int { return len(f.frames) }

// Frame decodes frame i.
func (f *File) Frame(i int) (*types.Frame, error) {
	if i < 0 || i >= len(f.frames) {
		return nil, fmt.Errorf("frame %d out of range [0, %d)", i, len(f.frames))
	}
	rec := f.frames[i]
	size, ok := frameBytes(rec.width, rec.height)
	if !ok {
		return nil, fmt.Errorf("%w: frame %d has shape %dx%d", ErrCorrupt, i, rec.width, rec.height)
	}
	n := size / 2

	raw := rec.payload
	switch rec.encoding {
	case EncodingRaw:
	case EncodingZstd:
		_, dec, err := codecs()
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		// The decoder sizes its output from the zstd header, not the record shape.
		raw, err = dec.DecodeAll(rec.payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: frame %d: %w", ErrCorrupt, i, err)
		}
	default:
		return nil, fmt.Errorf("%w: frame %d: unknown encoding %q", ErrCorrupt, i, rec.encoding)
	}

	data, err := decodeSamples(raw, n)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", i, err)
	}
	return &types.Frame{
		Data:      data,
		Width:     rec.width,
		Height:    rec.height,
		Timestamp: rec.timestamp,
		Seq:       rec.seq,
	}, nil
}

// Frames decodes every frame in file order.
func (f *File) Frames() ([]*types.Frame, error) {
	out := make([]*types.Frame, 0, len(f.frames))
	for i := range f.frames {
		frame, err := f.Frame(i)
		if err != nil {
			return nil, err
		}
		out = append(out, frame)
	}
	return out, nil
}
