package main

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enricmcalvo/UUTrap/internal/container"
	"github.com/enricmcalvo/UUTrap/pkg/types"
)

func writeContainer(t *testing.T, finalize bool, n int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "movie_1"+container.Ext)
	w, err := container.Create(path, container.Metadata{
		User:     "tester",
		Exposure: 5 * time.Millisecond,
		RunID:    "run-1",
		Created:  time.Now(),
		Dataset:  "frames",
	})
	require.NoError(t, err)

	for i := range n {
		f := types.NewFrame(8, 4)
		f.Seq = uint64(i + 1)
		for j := range f.Data {
			f.Data[j] = uint16(j * (i + 1))
		}
		require.NoError(t, w.Append(f))
	}
	if finalize {
		require.NoError(t, w.Finalize())
	} else {
		require.NoError(t, w.Flush())
		require.NoError(t, w.Close())
	}
	return path
}

func TestInspectPrintsSummaryAndExports(t *testing.T) {
	path := writeContainer(t, true, 3)
	pngPath := filepath.Join(t.TempDir(), "last.png")

	var out bytes.Buffer
	require.NoError(t, inspect(&out, path, pngPath, -1))

	text := out.String()
	assert.Contains(t, text, "finalized: true")
	assert.Contains(t, text, "user:      tester")
	assert.Contains(t, text, "dataset:   frames [3 8 4]")
	assert.Contains(t, text, "frame 2 (seq 3, 8x4)")

	fh, err := os.Open(pngPath)
	require.NoError(t, err)
	defer fh.Close()
	img, err := png.Decode(fh)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
	assert.Equal(t, 4, img.Bounds().Dy())
}

func TestInspectUnfinalized(t *testing.T) {
	path := writeContainer(t, false, 2)

	var out bytes.Buffer
	require.NoError(t, inspect(&out, path, "", 0))
	assert.Contains(t, out.String(), "finalized: false")
	assert.Contains(t, out.String(), "(2 frames)")
}

func TestInspectErrors(t *testing.T) {
	var out bytes.Buffer
	assert.Error(t, inspect(&out, filepath.Join(t.TempDir(), "missing.uufs"), "", 0))

	path := writeContainer(t, true, 1)
	assert.Error(t, inspect(&out, path, filepath.Join(t.TempDir(), "x.png"), 5))

	empty := writeContainer(t, true, 0)
	assert.ErrorContains(t, inspect(&out, empty, filepath.Join(t.TempDir(), "x.png"), 0), "no frames")
}
