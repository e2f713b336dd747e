package types

import "time"

// Frame is a single 16-bit intensity image read from the camera.
// Samples are stored row-major: the sample at column x, row y is Data[y*Width+x].
// A Frame must not be modified once it has been handed to the controller.
type Frame struct {
	Data      []uint16  // Raw samples
	Width     int       // Number of columns
	Height    int       // Number of rows
	Timestamp time.Time // Acquisition time
	Seq       uint64    // Sequential frame number
}

// NewFrame allocates a zeroed frame of the given shape.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Data:   make([]uint16, width*height),
		Width:  width,
		Height: height,
	}
}

// At returns the sample at column x, row y.
func (f *Frame) At(x, y int) uint16 {
	return f.Data[y*f.Width+x]
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	data := make([]uint16, len(f.Data))
	copy(data, f.Data)
	return &Frame{
		Data:      data,
		Width:     f.Width,
		Height:    f.Height,
		Timestamp: f.Timestamp,
		Seq:       f.Seq,
	}
}

// Region is a sensor sub-rectangle with inclusive, 1-based bounds.
// A normalized region satisfies Left < Right and Bottom < Top.
type Region struct {
	Left   int `yaml:"left"`
	Right  int `yaml:"right"`
	Top    int `yaml:"top"`
	Bottom int `yaml:"bottom"`
}

// FullRegion returns the region covering a whole sensor.
func FullRegion(maxWidth, maxHeight int) Region {
	return Region{Left: 1, Right: maxWidth, Bottom: 1, Top: maxHeight}
}

// IsZero reports whether the region is unset.
func (r Region) IsZero() bool {
	return r == Region{}
}

// Width returns the number of columns covered by the region.
func (r Region) Width() int {
	return r.Right - r.Left + 1
}

// Height returns the number of rows covered by the region.
func (r Region) Height() int {
	return r.Top - r.Bottom + 1
}

// XBounds returns the horizontal bounds in the form the camera expects.
func (r Region) XBounds() [2]int {
	return [2]int{r.Left, r.Right}
}

// YBounds returns the vertical bounds in the form the camera expects.
func (r Region) YBounds() [2]int {
	return [2]int{r.Bottom, r.Top}
}
