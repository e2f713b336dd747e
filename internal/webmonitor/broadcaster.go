package webmonitor

import (
	"strings"
	"sync"

	"github.com/enricmcalvo/UUTrap/internal/controller"
	"github.com/enricmcalvo/UUTrap/internal/logger"
	"github.com/enricmcalvo/UUTrap/internal/preview"
)

// FrameBroadcaster renders controller views to JPEG and fans them out to
// MJPEG clients.
type FrameBroadcaster struct {
	cfg Config

	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	stopped bool

	views chan controller.View
	stop  chan struct{}
	done  chan struct{}
}

// NewFrameBroadcaster creates a broadcaster. Call Start to begin rendering.
func NewFrameBroadcaster(cfg Config) *FrameBroadcaster {
	return &FrameBroadcaster{
		cfg:     cfg,
		clients: make(map[int]chan []byte),
		views:   make(chan controller.View, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	if fb.stopped {
		close(ch)
		return id, ch
	}
	fb.clients[id] = ch

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// Clients returns the number of subscribed clients.
func (fb *FrameBroadcaster) Clients() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Offer hands a view to the render loop without blocking. A view that arrives
// while the previous one is still pending is dropped.
func (fb *FrameBroadcaster) Offer(v controller.View) {
	select {
	case fb.views <- v:
	default:
	}
}

// Start begins the render and broadcast loop.
func (fb *FrameBroadcaster) Start() {
	go fb.run()
}

// Stop halts the broadcaster and disconnects every client.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	if fb.stopped {
		fb.mu.Unlock()
		return
	}
	fb.stopped = true
	close(fb.stop)
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
	fb.mu.Unlock()
}

// Done is closed when the render loop has exited.
func (fb *FrameBroadcaster) Done() <-chan struct{} {
	return fb.done
}

func (fb *FrameBroadcaster) run() {
	defer close(fb.done)
	for {
		select {
		case <-fb.stop:
			return
		case v := <-fb.views:
			// No clients: skip rendering entirely.
			if v.Latest == nil || fb.Clients() == 0 {
				continue
			}
			data, err := fb.render(v)
			if err != nil {
				logger.Warn("FrameBroadcaster", "Failed to render frame: %v", err)
				continue
			}
			fb.broadcast(data)
		}
	}
}

func (fb *FrameBroadcaster) render(v controller.View) ([]byte, error) {
	img := preview.Frame(v.Latest, fb.cfg.MaxWidth, fb.cfg.MaxHeight)
	return encodeJPEG(preview.Annotate(img, strings.Split(statusLines(v), "\n")), fb.cfg.JPEGQuality)
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
		}
	}
}
