package camera

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedSetROI(t *testing.T) {
	t.Parallel()

	cam := NewSimulated(640, 480)
	w, h, err := cam.SetROI([2]int{1, 100}, [2]int{1, 50})
	require.NoError(t, err)
	assert.Equal(t, 100, w)
	assert.Equal(t, 50, h)

	gw, gh := cam.Size()
	assert.Equal(t, w, gw)
	assert.Equal(t, h, gh)

	require.NoError(t, cam.Trigger())
	frame, err := cam.Read()
	require.NoError(t, err)
	assert.Equal(t, 100, frame.Width)
	assert.Equal(t, 50, frame.Height)
	assert.Len(t, frame.Data, 100*50)
}

func TestSimulatedROIClampAndStep(t *testing.T) {
	t.Parallel()

	cam := NewSimulated(640, 480, WithROIStep(8))
	w, h, err := cam.SetROI([2]int{600, 2000}, [2]int{-3, 21})
	require.NoError(t, err)
	assert.Equal(t, 40, w) // 600..640 is 41 columns, rounded down to 40
	assert.Equal(t, 16, h) // 1..21 is 21 rows, rounded down to 16

	w, h, err = cam.SetROI([2]int{638, 640}, [2]int{1, 480})
	require.NoError(t, err)
	assert.Equal(t, 8, w)
	assert.Equal(t, 480, h)
}

func TestSimulatedSequenceAndFailure(t *testing.T) {
	t.Parallel()

	cam := NewSimulated(32, 16, WithFailAfter(2))
	for i := 0; i < 2; i++ {
		require.NoError(t, cam.Trigger())
		frame, err := cam.Read()
		require.NoError(t, err)
		assert.Equal(t, uint64(i), frame.Seq)
	}

	require.NoError(t, cam.Trigger())
	_, err := cam.Read()
	assert.ErrorIs(t, err, ErrDevice)
}

func TestSimulatedReadRequiresTrigger(t *testing.T) {
	t.Parallel()

	cam := NewSimulated(8, 8)
	_, err := cam.Read()
	assert.ErrorIs(t, err, ErrDevice)
}

func TestSimulatedStop(t *testing.T) {
	t.Parallel()

	cam := NewSimulated(8, 8)
	require.NoError(t, cam.Stop())

	err := cam.Trigger()
	assert.True(t, errors.Is(err, ErrStopped))
	assert.ErrorIs(t, cam.Stop(), ErrStopped)
}
