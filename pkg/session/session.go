// Package session drives one framed TCP connection on an event loop.
//
// A Session owns its socket, an ordered outbound queue, a heartbeat timer
// and an idle-read timer. Every piece of that state is touched only from the
// session's event loop: Send and Close marshal their work onto the loop, and
// socket reads and writes run as loop operations whose completions are
// posted back. There is never more than one read and one write in flight.
//
// Lifecycle:
//
//	Connecting --Start--> Established --Close/error--> Closing --> Closed
//
// While Established the session loops: arm idle timer, read the 4-byte
// header, cancel the idle timer, validate the length, read the body, invoke
// the message handler, repeat.
package session

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/marmos91/dittonet/internal/logger"
	"github.com/marmos91/dittonet/pkg/eventloop"
	"github.com/marmos91/dittonet/pkg/frame"
	"github.com/marmos91/dittonet/pkg/metrics"
)

// MessageHandler receives every inbound frame body, heartbeats included.
// It runs on the session's event loop and must not block.
type MessageHandler func(s *Session, body []byte)

// CloseHandler runs once when the session reaches Closed.
type CloseHandler func(s *Session)

// ErrorHandler receives classified failures. Orderly closes are not
// reported here; they only trigger the close handlers.
type ErrorHandler func(s *Session, code ErrorCode, err error)

// Session is one framed connection bound to an event loop.
//
// Thread safety:
// Send, Close, State and the handler setters are safe for concurrent use.
// Handlers run on the session's event loop.
type Session struct {
	id      uuid.UUID
	conn    net.Conn
	loop    *eventloop.Loop
	config  Config
	metrics metrics.SessionMetrics
	state   atomic.Int32
	done    chan struct{}

	heartbeatBody  []byte
	heartbeatFrame []byte

	mu         sync.Mutex
	onMessage  MessageHandler
	onClose    []CloseHandler
	onError    ErrorHandler
	closeFired bool

	// Owned by the event loop.
	outbound  *queue.Queue
	writing   bool
	heartbeat *eventloop.Timer
	idle      *eventloop.Timer
	idleGen   uint64
}

// New wraps conn in a session bound to loop. The session starts in
// StateConnecting; install handlers, then call Start.
//
// Parameters:
//   - conn: connected socket; ownership passes to the session
//   - loop: event loop that will run all of the session's callbacks
//   - config: timing and limits, zero fields take defaults
//   - m: metrics sink, nil for none
func New(conn net.Conn, loop *eventloop.Loop, config Config, m metrics.SessionMetrics) *Session {
	config.ApplyDefaults()
	if m == nil {
		m = metrics.NewNoopServerMetrics()
	}

	hb := []byte(config.HeartbeatBody)
	hbFrame, _ := frame.Encode(hb)

	return &Session{
		id:             uuid.New(),
		conn:           conn,
		loop:           loop,
		config:         config,
		metrics:        m,
		done:           make(chan struct{}),
		heartbeatBody:  hb,
		heartbeatFrame: hbFrame,
		outbound:       queue.New(),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Loop returns the event loop the session runs on.
func (s *Session) Loop() *eventloop.Loop {
	return s.loop
}

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// LocalAddr returns the local address.
func (s *Session) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Done is closed once the session is Closed and its close handlers ran.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) String() string {
	return fmt.Sprintf("session %s (%s)", s.id, s.conn.RemoteAddr())
}

// OnMessage installs the message handler, replacing any previous one.
func (s *Session) OnMessage(h MessageHandler) {
	s.mu.Lock()
	s.onMessage = h
	s.mu.Unlock()
}

// OnError installs the error handler, replacing any previous one.
func (s *Session) OnError(h ErrorHandler) {
	s.mu.Lock()
	s.onError = h
	s.mu.Unlock()
}

// OnClose adds a close handler. Handlers run once, in registration order.
// A handler added after the session closed runs immediately.
func (s *Session) OnClose(h CloseHandler) {
	s.mu.Lock()
	if s.closeFired {
		s.mu.Unlock()
		s.invoke("close handler", func() { h(s) })
		return
	}
	s.onClose = append(s.onClose, h)
	s.mu.Unlock()
}

// IsHeartbeat reports whether body is a keepalive frame body.
func (s *Session) IsHeartbeat(body []byte) bool {
	return bytes.Equal(body, s.heartbeatBody)
}

// Start moves the session to Established on its loop: disables Nagle,
// arms the heartbeat, starts the read loop and flushes anything queued by
// Send beforehand.
func (s *Session) Start() error {
	if st := s.State(); st != StateConnecting {
		return fmt.Errorf("%s: cannot start in state %s", s, st)
	}
	if !s.loop.Post(s.establish) {
		return fmt.Errorf("%s: %w", s, eventloop.ErrLoopStopped)
	}
	return nil
}

// Send frames body and queues it for transmission. Frames from any number
// of goroutines go out whole and in the order their Send calls reached the
// loop. The body is copied, so callers may reuse it.
func (s *Session) Send(body []byte) error {
	if s.closing() {
		return ErrSessionClosed
	}
	buf, err := frame.Encode(body)
	if err != nil {
		return err
	}
	if !s.loop.Post(func() { s.enqueue(buf) }) {
		return ErrSessionClosed
	}
	return nil
}

// Close shuts the session down. Unsent frames are dropped. Idempotent and
// safe from any goroutine.
func (s *Session) Close() {
	if s.closing() {
		return
	}
	if !s.loop.Post(s.shutdown) {
		// The loop is gone, so nothing else can touch the session.
		s.shutdown()
	}
}

func (s *Session) closing() bool {
	return s.State() >= StateClosing
}

func (s *Session) establish() {
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateEstablished)) {
		return
	}

	if tc, ok := s.conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			logger.Warn("%s: failed to set TCP_NODELAY: %v", s, err)
		}
	}

	logger.Debug("%s: established on loop %d", s, s.loop.ID())

	s.armHeartbeat()
	s.readHeader()

	if s.outbound.Length() > 0 && !s.writing {
		s.writeNext()
	}
}

func (s *Session) readHeader() {
	s.armIdleTimer()

	ok := s.loop.Go(func() func() {
		var hdr [frame.HeaderSize]byte
		_, err := io.ReadFull(s.conn, hdr[:])
		return func() { s.onHeader(hdr, err) }
	})
	if !ok {
		s.fail(eventloop.ErrLoopStopped)
	}
}

func (s *Session) onHeader(hdr [frame.HeaderSize]byte, err error) {
	s.cancelIdleTimer()
	if s.closing() {
		return
	}
	if err != nil {
		s.fail(err)
		return
	}

	n, err := frame.ParseHeader(hdr[:], s.config.MaxBodyLength)
	if err != nil {
		s.fail(err)
		return
	}
	if n == 0 {
		s.deliver([]byte{})
		return
	}
	s.readBody(n)
}

func (s *Session) readBody(n uint32) {
	ok := s.loop.Go(func() func() {
		body := make([]byte, n)
		_, err := io.ReadFull(s.conn, body)
		return func() { s.onBody(body, err) }
	})
	if !ok {
		s.fail(eventloop.ErrLoopStopped)
	}
}

func (s *Session) onBody(body []byte, err error) {
	if s.closing() {
		return
	}
	if err != nil {
		s.fail(err)
		return
	}
	s.deliver(body)
}

func (s *Session) deliver(body []byte) {
	s.metrics.RecordFrameReceived(len(body))

	s.mu.Lock()
	h := s.onMessage
	s.mu.Unlock()

	if h != nil && !s.invoke("message handler", func() { h(s, body) }) {
		s.shutdown()
		return
	}
	if s.closing() {
		return
	}
	s.readHeader()
}

func (s *Session) enqueue(buf []byte) {
	if s.closing() {
		return
	}
	s.outbound.Add(buf)
	if !s.writing && s.State() == StateEstablished {
		s.writeNext()
	}
}

func (s *Session) writeNext() {
	buf := s.outbound.Peek().([]byte)
	s.writing = true

	ok := s.loop.Go(func() func() {
		_, err := s.conn.Write(buf)
		return func() { s.onWrite(len(buf), err) }
	})
	if !ok {
		s.writing = false
		s.fail(eventloop.ErrLoopStopped)
	}
}

func (s *Session) onWrite(n int, err error) {
	s.writing = false
	if s.closing() {
		return
	}
	if err != nil {
		s.fail(err)
		return
	}

	s.outbound.Remove()
	s.metrics.RecordFrameSent(n)

	if s.outbound.Length() > 0 {
		s.writeNext()
	}
}

func (s *Session) armHeartbeat() {
	s.heartbeat = s.loop.AfterFunc(s.config.HeartbeatInterval, s.onHeartbeat)
}

func (s *Session) onHeartbeat() {
	s.heartbeat = nil
	if s.State() != StateEstablished {
		return
	}
	s.enqueue(s.heartbeatFrame)
	s.metrics.RecordHeartbeatSent()
	s.armHeartbeat()
}

// armIdleTimer starts a fresh idle window. The generation check drops an
// expiry that was already posted when the timer got cancelled.
func (s *Session) armIdleTimer() {
	s.idleGen++
	gen := s.idleGen
	s.idle = s.loop.AfterFunc(s.config.IdleTimeout, func() {
		if gen != s.idleGen {
			return
		}
		s.idle = nil
		s.fail(fmt.Errorf("%w after %s", ErrIdleTimeout, s.config.IdleTimeout))
	})
}

func (s *Session) cancelIdleTimer() {
	s.idleGen++
	s.idle.Stop()
	s.idle = nil
}

// fail logs err by class, notifies the error handler for anything but an
// orderly close, and shuts the session down.
func (s *Session) fail(err error) {
	if s.closing() {
		return
	}

	code := Classify(err)
	switch code {
	case ErrorClosed:
		logger.Info("%s: connection closed: %v", s, err)
	case ErrorProtocol:
		logger.Warn("%s: protocol violation: %v", s, err)
	case ErrorTimeout:
		logger.Warn("%s: %v", s, err)
	default:
		logger.Error("%s: I/O error: %v", s, err)
	}

	if code != ErrorClosed {
		s.metrics.RecordSessionError(code.String())

		s.mu.Lock()
		h := s.onError
		s.mu.Unlock()
		if h != nil {
			s.invoke("error handler", func() { h(s, code, err) })
		}
	}

	s.shutdown()
}

func (s *Session) shutdown() {
	for {
		cur := s.state.Load()
		if State(cur) >= StateClosing {
			return
		}
		if s.state.CompareAndSwap(cur, int32(StateClosing)) {
			break
		}
	}

	s.idleGen++
	s.idle.Stop()
	s.idle = nil
	s.heartbeat.Stop()
	s.heartbeat = nil

	if tc, ok := s.conn.(*net.TCPConn); ok {
		_ = tc.CloseRead()
		_ = tc.CloseWrite()
	}
	if err := s.conn.Close(); err != nil {
		logger.Debug("%s: close: %v", s, err)
	}

	for s.outbound.Length() > 0 {
		s.outbound.Remove()
	}

	s.state.Store(int32(StateClosed))
	logger.Debug("%s: closed", s)

	s.mu.Lock()
	handlers := s.onClose
	s.onClose = nil
	s.closeFired = true
	s.mu.Unlock()

	for _, h := range handlers {
		s.invoke("close handler", func() { h(s) })
	}
	close(s.done)
}

// invoke runs a user handler, reporting false if it panicked.
func (s *Session) invoke(what string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("%s: panic in %s: %v", s, what, r)
			ok = false
		}
	}()
	fn()
	return true
}
