// Package echo is a reference connection handler: every frame is answered
// with the same body, built on a worker goroutine in a pooled buffer so the
// event loop never does the work itself. Replies to one session leave in the
// order its frames arrived.
package echo

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/marmos91/dittonet/internal/logger"
	"github.com/marmos91/dittonet/pkg/resourcepool"
	"github.com/marmos91/dittonet/pkg/session"
	"github.com/marmos91/dittonet/pkg/workerpool"
)

// Handler echoes frames back to their sender.
type Handler struct {
	workers   *workerpool.Pool
	buffers   *resourcepool.Pool[*bytes.Buffer]
	uppercase bool

	echoed atomic.Int64
}

// NewHandler returns an echo handler. With uppercase set, ASCII letters are
// upper-cased in the reply.
func NewHandler(workers *workerpool.Pool, buffers *resourcepool.Pool[*bytes.Buffer], uppercase bool) *Handler {
	return &Handler{
		workers:   workers,
		buffers:   buffers,
		uppercase: uppercase,
	}
}

// NewBufferPool builds a pool of reusable reply buffers.
func NewBufferPool(config resourcepool.Config, size int) (*resourcepool.Pool[*bytes.Buffer], error) {
	return resourcepool.New(config, func() (*bytes.Buffer, error) {
		return bytes.NewBuffer(make([]byte, 0, size)), nil
	})
}

// Handle installs the echo callbacks on s. It has the shape of a server
// connection handler.
func (h *Handler) Handle(s *session.Session) {
	r := &replier{h: h, s: s, pending: queue.New()}
	s.OnMessage(r.onMessage)
	s.OnError(func(s *session.Session, code session.ErrorCode, err error) {
		logger.Debug("Echo: %s failed (%s): %v", s, code, err)
	})
}

// Echoed returns the number of replies sent.
func (h *Handler) Echoed() int64 {
	return h.echoed.Load()
}

// replier queues the frames of one session. At most one worker task drains
// the queue at a time.
type replier struct {
	h *Handler
	s *session.Session

	mu      sync.Mutex
	pending *queue.Queue
	running bool
}

func (r *replier) onMessage(s *session.Session, body []byte) {
	if s.IsHeartbeat(body) {
		return
	}

	r.mu.Lock()
	r.pending.Add(body)
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	if _, err := r.h.workers.Execute(r.drain); err != nil {
		logger.Warn("Echo: worker pool unavailable, closing %s: %v", s, err)
		s.Close()
	}
}

func (r *replier) drain() {
	for {
		r.mu.Lock()
		if r.pending.Length() == 0 {
			r.running = false
			r.mu.Unlock()
			return
		}
		body := r.pending.Remove().([]byte)
		r.mu.Unlock()

		if err := r.h.reply(r.s, body); err != nil {
			logger.Debug("Echo: reply to %s dropped: %v", r.s, err)
		}
	}
}

func (h *Handler) reply(s *session.Session, body []byte) error {
	buf, err := h.buffers.Acquire()
	if err != nil {
		return err
	}
	defer h.buffers.Release(buf)

	buf.Reset()
	buf.Write(body)
	if h.uppercase {
		b := buf.Bytes()
		for i, c := range b {
			if 'a' <= c && c <= 'z' {
				b[i] = c - ('a' - 'A')
			}
		}
	}

	if err := s.Send(buf.Bytes()); err != nil {
		return err
	}
	h.echoed.Add(1)
	return nil
}
