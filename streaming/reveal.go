package streaming

import (
	"math"
	"sync"
	"time"

	"github.com/Desarso/tldwchat/models"
)

// MessageSink receives functional updates of the message list keyed by id.
// Implementations must not call back into the engine from update.
type MessageSink interface {
	UpdateMessage(id string, update func(*models.Message))
}

// ComputeFlushSize returns how many runes a single flush reveals.
func ComputeFlushSize(bufferLen, charsPerFlush int) int {
	if charsPerFlush <= 0 {
		charsPerFlush = 1
	}
	if bufferLen <= charsPerFlush*2 {
		return charsPerFlush
	}
	size := int(math.Ceil(float64(bufferLen) * 0.05))
	if size < charsPerFlush {
		size = charsPerFlush
	}
	if ceiling := charsPerFlush * 10000; size > ceiling {
		size = ceiling
	}
	return size
}

// revealer owns the pending buffer and the lazily started flush ticker.
// Invariant: visible + pending equals the last accepted full text.
type revealer struct {
	mu       sync.Mutex
	sink     MessageSink
	id       string
	cursor   string
	cfg      models.RevealConfig
	visible  string
	pending  []rune
	running  bool
	gen      int
	stop     chan struct{}
	wg       sync.WaitGroup
	timeTook int64
}

func newRevealer(sink MessageSink, id, cursor, initial string, cfg models.RevealConfig) *revealer {
	if cfg.CharsPerFlush <= 0 {
		cfg.CharsPerFlush = DefaultReveal.CharsPerFlush
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultReveal.FlushInterval
	}
	return &revealer{sink: sink, id: id, cursor: cursor, cfg: cfg, visible: initial}
}

// accept records the transition from prev to full.
func (r *revealer) accept(prev, full string, timeTook int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeTook = timeTook

	if len(full) >= len(prev) && full[:len(prev)] == prev {
		delta := full[len(prev):]
		if delta == "" {
			return
		}
		r.pending = append(r.pending, []rune(delta)...)
		r.startLocked()
		return
	}

	// Non-monotonic rewrite: drop the buffer and show everything at once.
	r.stopLocked()
	r.pending = nil
	r.visible = full
	r.updateLocked(r.visible + r.cursor)
}

func (r *revealer) startLocked() {
	if r.running {
		return
	}
	r.running = true
	r.gen++
	r.stop = make(chan struct{})
	r.wg.Add(1)
	go r.loop(r.gen, r.stop)
}

func (r *revealer) stopLocked() {
	if !r.running {
		return
	}
	r.running = false
	close(r.stop)
}

func (r *revealer) loop(gen int, stop <-chan struct{}) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !r.flushOnce(gen) {
				return
			}
		}
	}
}

// flushOnce reveals one slice of the buffer. It returns false once the
// ticker owning gen should exit.
func (r *revealer) flushOnce(gen int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.gen != gen {
		return false
	}
	if len(r.pending) == 0 {
		r.stopLocked()
		return false
	}

	n := ComputeFlushSize(len(r.pending), r.cfg.CharsPerFlush)
	if n > len(r.pending) {
		n = len(r.pending)
	}
	r.visible += string(r.pending[:n])
	r.pending = r.pending[n:]
	r.updateLocked(r.visible + r.cursor)
	return true
}

// flushAll stops the ticker and reveals the whole text.
func (r *revealer) flushAll(full string) {
	r.mu.Lock()
	r.stopLocked()
	r.pending = nil
	r.visible = full
	r.updateLocked(r.visible + r.cursor)
	r.mu.Unlock()
	r.wg.Wait()
}

// halt stops the ticker without touching the message.
func (r *revealer) halt() {
	r.mu.Lock()
	r.stopLocked()
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *revealer) updateLocked(text string) {
	timeTook := r.timeTook
	r.sink.UpdateMessage(r.id, func(m *models.Message) {
		m.Message = text
		m.ReasoningTimeTaken = timeTook
	})
}
