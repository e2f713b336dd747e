// Package waterfall keeps a scrolling history of per-column intensity sums.
package waterfall

import (
	"sync"

	"github.com/enricmcalvo/UUTrap/pkg/types"
)

// Buffer holds up to depth row-sum vectors, newest first.
type Buffer struct {
	mu    sync.RWMutex
	depth int
	width int
	rows  [][]uint64
}

// New creates a buffer of depth zero rows of the given width.
func New(depth, width int) *Buffer {
	if depth < 1 {
		depth = 1
	}
	b := &Buffer{depth: depth}
	b.Reset(width)
	return b
}

// Reset fills the buffer with depth zero rows of the given width.
func (b *Buffer) Reset(width int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset(width)
}

func (b *Buffer) reset(width int) {
	b.width = width
	b.rows = make([][]uint64, b.depth)
	for i := range b.rows {
		b.rows[i] = make([]uint64, width)
	}
}

// Push sums frame over its rows and prepends the result. A frame of a
// different width resets the buffer first.
func (b *Buffer) Push(frame *types.Frame) {
	row := ColumnSums(frame)

	b.mu.Lock()
	defer b.mu.Unlock()

	if frame.Width != b.width {
		b.reset(frame.Width)
	}
	copy(b.rows[1:], b.rows[:len(b.rows)-1])
	b.rows[0] = row
}

// ColumnSums returns, for every column of frame, the sum of its samples.
func ColumnSums(frame *types.Frame) []uint64 {
	sums := make([]uint64, frame.Width)
	for y := 0; y < frame.Height; y++ {
		line := frame.Data[y*frame.Width : (y+1)*frame.Width]
		for x, v := range line {
			sums[x] += uint64(v)
		}
	}
	return sums
}

// Rows returns a copy of the rows, newest first.
func (b *Buffer) Rows() [][]uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([][]uint64, len(b.rows))
	for i, r := range b.rows {
		out[i] = append([]uint64(nil), r...)
	}
	return out
}

// Depth returns the configured number of rows.
func (b *Buffer) Depth() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.depth
}

// Width returns the current row length.
func (b *Buffer) Width() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.width
}
