package framebuffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enricmcalvo/UUTrap/pkg/types"
)

func frameWithSeq(seq uint64) *types.Frame {
	f := types.NewFrame(2, 2)
	f.Seq = seq
	return f
}

func TestQueueFIFOUntilSentinel(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	for i := uint64(0); i < 50; i++ {
		q.Push(frameWithSeq(i))
	}
	q.PushSentinel("run-1")
	assert.Equal(t, 51, q.Len())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var got []uint64
	for {
		item, err := q.Pop(ctx)
		require.NoError(t, err)
		if item.Sentinel() {
			assert.Equal(t, "run-1", item.Token())
			assert.Nil(t, item.Frame())
			break
		}
		got = append(got, item.Frame().Seq)
	}

	require.Len(t, got, 50)
	for i, seq := range got {
		assert.Equal(t, uint64(i), seq)
	}
	assert.Zero(t, q.Len())
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	result := make(chan Item, 1)
	go func() {
		item, err := q.Pop(context.Background())
		if err == nil {
			result <- item
		}
	}()

	select {
	case <-result:
		t.Fatal("Pop returned before anything was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(frameWithSeq(7))
	select {
	case item := <-result:
		assert.Equal(t, uint64(7), item.Frame().Seq)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestQueuePopHonoursContext(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueConcurrentProducerKeepsOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(0); i < n; i++ {
			q.Push(frameWithSeq(i))
		}
		q.PushSentinel("done")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	next := uint64(0)
	for {
		item, err := q.Pop(ctx)
		require.NoError(t, err)
		if item.Sentinel() {
			break
		}
		require.Equal(t, next, item.Frame().Seq)
		next++
	}
	wg.Wait()
	assert.Equal(t, uint64(n), next)
}

func TestQueueConsumerLease(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	release, err := q.Acquire("recorder")
	require.NoError(t, err)
	assert.Equal(t, "recorder", q.Consumer())

	_, err = q.Acquire("drain")
	assert.ErrorIs(t, err, ErrConsumerBusy)

	release()
	release()
	assert.Empty(t, q.Consumer())

	release2, err := q.Acquire("drain")
	require.NoError(t, err)
	release2()
}

func TestDrainerEmptiesQueue(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	for i := uint64(0); i < 20; i++ {
		q.Push(frameWithSeq(i))
	}
	q.PushSentinel("stale")

	d := NewDrainer(q, 5*time.Millisecond)
	require.NoError(t, d.Start())

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatal("drain did not finish")
	}

	assert.Zero(t, q.Len())
	assert.Equal(t, uint64(20), d.Discarded())
	assert.Empty(t, q.Consumer())
}

func TestDrainerRefusedWhileRecorderHoldsQueue(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	release, err := q.Acquire("recorder")
	require.NoError(t, err)
	defer release()

	d := NewDrainer(q, 0)
	assert.ErrorIs(t, d.Start(), ErrConsumerBusy)

	// No drain started, so Done is already closed.
	select {
	case <-d.Done():
	default:
		t.Fatal("Done should be closed when idle")
	}
}
