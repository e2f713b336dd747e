// Package preview renders frames and the waterfall to 8-bit images for a
// headless display.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/enricmcalvo/UUTrap/pkg/types"
)

// Frame renders frame with auto-contrast, scaled down to fit maxWidth x
// maxHeight when either is positive.
func Frame(frame *types.Frame, maxWidth, maxHeight int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, frame.Width, frame.Height))

	lo, hi := uint16(0xffff), uint16(0)
	for _, v := range frame.Data {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	for i, v := range frame.Data {
		img.Pix[i] = stretch(uint64(v), uint64(lo), uint64(hi))
	}
	return fit(img, maxWidth, maxHeight)
}

// Waterfall renders row sums with the oldest row at the top. rows is newest
// first, as returned by waterfall.Buffer.Rows.
func Waterfall(rows [][]uint64, maxWidth, maxHeight int) *image.Gray {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return image.NewGray(image.Rect(0, 0, 1, 1))
	}
	width, depth := len(rows[0]), len(rows)
	img := image.NewGray(image.Rect(0, 0, width, depth))

	var lo, hi uint64 = ^uint64(0), 0
	for _, row := range rows {
		for _, v := range row {
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}
	for i, row := range rows {
		line := img.Pix[(depth-1-i)*img.Stride:]
		for x := 0; x < width && x < len(row); x++ {
			line[x] = stretch(row[x], lo, hi)
		}
	}
	return fit(img, maxWidth, maxHeight)
}

func stretch(v, lo, hi uint64) uint8 {
	if hi <= lo {
		return 0
	}
	return uint8((v - lo) * 255 / (hi - lo))
}

func fit(img *image.Gray, maxWidth, maxHeight int) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := 1.0
	if maxWidth > 0 && w > maxWidth {
		scale = float64(maxWidth) / float64(w)
	}
	if maxHeight > 0 && h > maxHeight {
		scale = min(scale, float64(maxHeight)/float64(h))
	}
	if scale == 1.0 {
		return img
	}

	dst := image.NewGray(image.Rect(0, 0, max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Annotate copies img and draws lines of text in its top-left corner.
func Annotate(img image.Image, lines []string) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)

	d := &font.Drawer{
		Dst:  out,
		Src:  image.NewUniform(color.RGBA{R: 255, G: 255, A: 255}),
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		d.Dot = fixed.P(bounds.Min.X+4, bounds.Min.Y+13*(i+1))
		d.DrawString(line)
	}
	return out
}

// WritePNG encodes img to path. The file is replaced atomically so a viewer
// never sees a partial image.
func WritePNG(path string, img image.Image) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".preview-*.png")
	if err != nil {
		return fmt.Errorf("failed to create preview: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode preview: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
