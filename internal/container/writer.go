package container

import (
	"bufio"
	"fmt"
	"os"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/enricmcalvo/UUTrap/pkg/types"
)

// Option configures a Writer.
type Option func(*Writer)

// WithEncoding selects the frame payload encoding. The default is EncodingZstd.
func WithEncoding(enc Encoding) Option {
	return func(w *Writer) {
		w.encoding = enc
	}
}

// Writer appends frames to a new container file.
type Writer struct {
	path     string
	file     *os.File
	buf      *bufio.Writer
	meta     Metadata
	encoding Encoding

	count     int
	width     int
	height    int
	ragged    bool
	finalized bool
}

// Create creates a container at path and writes the header and metadata.
// It never overwrites an existing file.
func Create(path string, meta Metadata, opts ...Option) (*Writer, error) {
	w := &Writer{
		path:     path,
		meta:     meta,
		encoding: EncodingZstd,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.encoding != EncodingRaw && w.encoding != EncodingZstd {
		return nil, fmt.Errorf("unsupported encoding %q", w.encoding)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	w.file = file
	w.buf = bufio.NewWriterSize(file, 1<<20)

	header := append([]byte{}, magic...)
	header = append(header, Version)
	header = appendMetadata(header, meta)
	if _, err := w.buf.Write(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	return w, nil
}

// Path returns the file path.
func (w *Writer) Path() string { return w.path }

// Count returns the number of frames appended so far.
func (w *Writer) Count() int { return w.count }

// Append writes frames after the ones already written. Data reaches the disk
// on Flush or Finalize. A frame whose samples do not fill its shape is
// rejected with ErrBadFrame.
func (w *Writer) Append(frames ...*types.Frame) error {
	if w.finalized {
		return ErrFinalized
	}
	for _, f := range frames {
		if size, ok := frameBytes(f.Width, f.Height); !ok || len(f.Data)*2 != size {
			return fmt.Errorf("%w: frame %d is %dx%d with %d samples", ErrBadFrame, f.Seq, f.Width, f.Height, len(f.Data))
		}
		rec, err := w.encodeFrame(f)
		if err != nil {
			return err
		}
		if _, err := w.buf.Write(rec); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", f.Seq, err)
		}
		w.track(f)
	}
	return nil
}

func (w *Writer) track(f *types.Frame) {
	if w.count == 0 {
		w.width, w.height = f.Width, f.Height
	} else if f.Width != w.width || f.Height != w.height {
		w.ragged = true
	}
	w.count++
}

func (w *Writer) encodeFrame(f *types.Frame) ([]byte, error) {
	payload := encodeSamples(f.Data)
	if w.encoding == EncodingZstd {
		enc, _, err := codecs()
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		payload = enc.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	}

	var msg []byte
	msg = protowire.AppendTag(msg, 1, protowire.VarintType)
	msg = protowire.AppendVarint(msg, f.Seq)
	msg = protowire.AppendTag(msg, 2, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(f.Timestamp.UnixNano()))
	msg = protowire.AppendTag(msg, 3, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(f.Width))
	msg = protowire.AppendTag(msg, 4, protowire.VarintType)
	msg = protowire.AppendVarint(msg, uint64(f.Height))
	msg = protowire.AppendTag(msg, 5, protowire.BytesType)
	msg = protowire.AppendString(msg, string(w.encoding))
	msg = protowire.AppendTag(msg, 6, protowire.BytesType)
	msg = protowire.AppendBytes(msg, payload)

	rec := protowire.AppendTag(nil, recordFrame, protowire.BytesType)
	return protowire.AppendBytes(rec, msg), nil
}

// Flush pushes buffered records to stable storage.
func (w *Writer) Flush() error {
	if w.finalized {
		return ErrFinalized
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush container: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync container: %w", err)
	}
	return nil
}

// Dataset returns the trailer Finalize would write now.
func (w *Writer) Dataset() Dataset {
	d := Dataset{Name: w.meta.Dataset, Count: w.count, Width: w.width, Height: w.height}
	if w.ragged {
		d.Width, d.Height = 0, 0
	}
	return d
}

// Finalize writes the dataset trailer and closes the file.
func (w *Writer) Finalize() error {
	if w.finalized {
		return ErrFinalized
	}
	if _, err := w.buf.Write(appendTrailer(nil, w.Dataset())); err != nil {
		w.file.Close()
		return fmt.Errorf("failed to write trailer: %w", err)
	}
	if err := w.Flush(); err != nil {
		w.file.Close()
		return err
	}
	w.finalized = true
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close container: %w", err)
	}
	return nil
}

// Close closes the file without finalizing it. It is a no-op after Finalize.
func (w *Writer) Close() error {
	if w.finalized {
		return nil
	}
	w.finalized = true
	flushErr := w.buf.Flush()
	if err := w.file.Close(); err != nil {
		return err
	}
	return flushErr
}
