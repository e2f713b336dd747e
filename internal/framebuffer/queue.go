// Package framebuffer holds the FIFO that bridges acquisition and the
// consumers that save or discard frames.
package framebuffer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/enricmcalvo/UUTrap/pkg/types"
)

// ErrConsumerBusy is returned by Acquire while another consumer holds the queue.
var ErrConsumerBusy = errors.New("queue already has an active consumer")

// Item is either a frame or a stop sentinel.
type Item struct {
	frame    *types.Frame
	token    string
	sentinel bool
}

// Frame returns the frame carried by the item, nil for a sentinel.
func (i Item) Frame() *types.Frame { return i.frame }

// Sentinel reports whether the item is a stop sentinel.
func (i Item) Sentinel() bool { return i.sentinel }

// Token returns the token a sentinel was pushed with.
func (i Item) Token() string { return i.token }

// Queue is an unbounded FIFO of frames. Push never blocks. Only one consumer
// may hold the queue at a time (see Acquire).
type Queue struct {
	mu       sync.Mutex
	items    []Item
	notify   chan struct{}
	consumer string
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
	}
}

// Push appends a frame.
func (q *Queue) Push(frame *types.Frame) {
	q.push(Item{frame: frame})
}

// PushSentinel appends a stop sentinel carrying token.
func (q *Queue) PushSentinel(token string) {
	q.push(Item{token: token, sentinel: true})
}

func (q *Queue) push(item Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// TryPop removes the oldest item if there is one.
func (q *Queue) TryPop() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Item{}, false
	}
	item := q.items[0]
	q.items[0] = Item{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return item, true
}

// Pop blocks until an item is available or ctx ends.
func (q *Queue) Pop(ctx context.Context) (Item, error) {
	for {
		if item, ok := q.TryPop(); ok {
			return item, nil
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return Item{}, ctx.Err()
		}
	}
}

// Len returns the number of queued items, sentinels included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Acquire takes the consumer lease for owner. The returned release func
// gives it back and is safe to call more than once.
func (q *Queue) Acquire(owner string) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.consumer != "" {
		return nil, fmt.Errorf("%w: held by %s", ErrConsumerBusy, q.consumer)
	}
	q.consumer = owner

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			q.consumer = ""
			q.mu.Unlock()
		})
	}, nil
}

// Consumer returns the current lease holder, or "" when the queue is free.
func (q *Queue) Consumer() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.consumer
}
