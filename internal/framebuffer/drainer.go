package framebuffer

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/enricmcalvo/UUTrap/internal/logger"
)

// DefaultQuantum is how long the queue must stay empty before a drain ends.
const DefaultQuantum = 10 * time.Millisecond

// ErrDrainRunning is returned by Start while a drain is in progress.
var ErrDrainRunning = errors.New("drain already running")

// Drainer empties a Queue without saving anything.
type Drainer struct {
	queue   *Queue
	quantum time.Duration

	mu        sync.Mutex
	running   bool
	done      chan struct{}
	discarded atomic.Uint64
}

// NewDrainer creates a drainer for queue. A quantum <= 0 uses DefaultQuantum.
func NewDrainer(queue *Queue, quantum time.Duration) *Drainer {
	if quantum <= 0 {
		quantum = DefaultQuantum
	}
	done := make(chan struct{})
	close(done)
	return &Drainer{
		queue:   queue,
		quantum: quantum,
		done:    done,
	}
}

// Start begins draining in the background. It fails with ErrConsumerBusy
// while a recorder is consuming the queue.
func (d *Drainer) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return ErrDrainRunning
	}
	release, err := d.queue.Acquire("drain")
	if err != nil {
		return err
	}

	d.running = true
	d.done = make(chan struct{})
	go d.run(release, d.done)
	return nil
}

// Done is closed when the current drain finishes. It is already closed when
// no drain has been started.
func (d *Drainer) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Discarded returns the number of frames thrown away so far, across runs.
func (d *Drainer) Discarded() uint64 {
	return d.discarded.Load()
}

func (d *Drainer) run(release func(), done chan struct{}) {
	var frames, sentinels int
	defer func() {
		release()
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		logger.Debug("Drainer", "Drain finished: %d frames, %d stale sentinels", frames, sentinels)
		close(done)
	}()

	for {
		item, ok := d.queue.TryPop()
		if ok {
			if item.Sentinel() {
				sentinels++
			} else {
				frames++
				d.discarded.Add(1)
			}
			continue
		}

		time.Sleep(d.quantum)
		if d.queue.Len() == 0 {
			return
		}
	}
}
