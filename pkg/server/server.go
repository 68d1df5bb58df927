// Package server accepts TCP connections and runs each one as a framed
// session on an event loop pool.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittonet/internal/logger"
	"github.com/marmos91/dittonet/internal/ratelimiter"
	"github.com/marmos91/dittonet/pkg/eventloop"
	"github.com/marmos91/dittonet/pkg/metrics"
	"github.com/marmos91/dittonet/pkg/session"
)

var (
	// ErrServerStopped is returned by Start after Stop.
	ErrServerStopped = errors.New("server stopped")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("server already started")
)

// ConnectionHandler is called for every accepted session before it starts,
// so it can install message, error and close handlers. It runs on the
// acceptor's event loop and must not block.
type ConnectionHandler func(s *session.Session)

// Server accepts connections and owns the registry of live sessions.
//
// Accepts are event loop operations: each pending accept blocks a helper
// goroutine in Accept and posts its result to the acceptor loop, which
// creates, registers and starts the session and then issues the next
// accept. AcceptConcurrency accepts are kept pending at once.
//
// A session is in the registry from the moment it is accepted until its
// close handler removes it by ID. Removal of an ID that is already gone is
// a no-op.
//
// Thread safety:
// All exported methods are safe for concurrent use. Stop must not be called
// from a session handler.
type Server struct {
	config   Config
	loops    *eventloop.Pool
	ownLoops bool
	acceptor *eventloop.Loop
	metrics  metrics.ServerMetrics
	limiter  *ratelimiter.RateLimiter
	handler  atomic.Pointer[ConnectionHandler]

	// connSemaphore limits concurrent sessions if MaxConnections > 0.
	connSemaphore chan struct{}

	mu       sync.Mutex
	listener net.Listener
	sessions map[uuid.UUID]*session.Session
	started  bool
	stopped  bool

	shutdown     chan struct{}
	shutdownCtx  context.Context
	cancel       context.CancelFunc
	stopOnce     sync.Once
	sessionCount atomic.Int32
}

// New creates a stopped server.
//
// Parameters:
//   - config: server configuration; zero fields take defaults
//   - loops: shared event loop pool; ignored (may be nil) with OwnEventLoops
//   - m: metrics sink, nil for none
func New(config Config, loops *eventloop.Pool, m metrics.ServerMetrics) (*Server, error) {
	config.ApplyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	own := false
	if config.OwnEventLoops {
		loops = eventloop.NewPool(eventloop.Config{Size: config.EventLoopThreads})
		own = true
	}
	if loops == nil {
		return nil, errors.New("server needs an event loop pool or OwnEventLoops")
	}

	acceptor := loops.Acquire()
	if acceptor == nil {
		return nil, fmt.Errorf("event loop pool is stopped: %w", eventloop.ErrLoopStopped)
	}

	if m == nil {
		m = metrics.NewNoopServerMetrics()
	}

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:        config,
		loops:         loops,
		ownLoops:      own,
		acceptor:      acceptor,
		metrics:       m,
		limiter:       ratelimiter.New(config.AcceptRate, config.AcceptBurst),
		connSemaphore: connSemaphore,
		sessions:      make(map[uuid.UUID]*session.Session),
		shutdown:      make(chan struct{}),
		shutdownCtx:   ctx,
		cancel:        cancel,
	}, nil
}

// OnConnection installs the connection handler. Set it before Start.
func (s *Server) OnConnection(h ConnectionHandler) {
	s.handler.Store(&h)
}

// Start listens and issues the initial accepts. Listen failures abort the
// start and are returned.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrServerStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}

	addr := net.JoinHostPort(s.config.BindAddress, strconv.Itoa(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.started = true

	logger.Info("TCP server listening on %s", ln.Addr())
	logger.Debug("TCP server config: accept_concurrency=%d event_loops=%d own_loops=%v balance=%v max_connections=%d accept_rate=%d",
		s.config.AcceptConcurrency, s.loops.Size(), s.ownLoops, s.config.BalanceSessions,
		s.config.MaxConnections, s.config.AcceptRate)

	for i := 0; i < s.config.AcceptConcurrency; i++ {
		s.accept(ln)
	}

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics()
	}
	return nil
}

// accept issues one accept operation on the acceptor loop.
func (s *Server) accept(ln net.Listener) {
	ok := s.acceptor.Go(func() func() {
		if err := s.admit(); err != nil {
			return nil
		}
		conn, err := ln.Accept()
		return func() { s.handleAccept(ln, conn, err) }
	})
	if !ok {
		logger.Debug("TCP server: acceptor loop stopped, accept not issued")
	}
}

// admit blocks until the connection limit and rate limit allow one more
// accept, or the server shuts down.
func (s *Server) admit() error {
	if s.connSemaphore != nil {
		select {
		case s.connSemaphore <- struct{}{}:
		case <-s.shutdown:
			return ErrServerStopped
		}
	}
	if err := s.limiter.Wait(s.shutdownCtx); err != nil {
		s.releaseSlot()
		return err
	}
	return nil
}

func (s *Server) releaseSlot() {
	if s.connSemaphore != nil {
		<-s.connSemaphore
	}
}

func (s *Server) handleAccept(ln net.Listener, conn net.Conn, err error) {
	if err != nil {
		s.releaseSlot()
		select {
		case <-s.shutdown:
			return
		default:
		}
		if errors.Is(err, net.ErrClosed) {
			return
		}
		logger.Error("Error accepting TCP connection: %v", err)
		// Back off before retrying so a persistent failure does not spin.
		s.acceptor.AfterFunc(100*time.Millisecond, func() { s.accept(ln) })
		return
	}

	loop := s.acceptor
	if s.config.BalanceSessions {
		loop = s.loops.Acquire()
	}
	if loop == nil {
		s.reject(conn, "no event loop available")
		return
	}

	sess := session.New(conn, loop, s.config.Session, s.metrics)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.reject(conn, "server stopping")
		return
	}
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()

	active := s.sessionCount.Add(1)
	s.metrics.RecordConnectionAccepted()
	s.metrics.SetActiveSessions(int(active))
	logger.Debug("TCP connection accepted from %s as %s (active: %d)", conn.RemoteAddr(), sess.ID(), active)

	sess.OnClose(func(closed *session.Session) {
		s.remove(closed.ID())
	})

	if h := s.handler.Load(); h != nil && *h != nil {
		s.callHandler(*h, sess)
	}

	if err := sess.Start(); err != nil {
		logger.Error("Failed to start %s: %v", sess, err)
		sess.Close()
	}

	s.accept(ln)
}

func (s *Server) reject(conn net.Conn, reason string) {
	logger.Debug("Rejecting TCP connection from %s: %s", conn.RemoteAddr(), reason)
	_ = conn.Close()
	s.releaseSlot()
	s.metrics.RecordConnectionRejected()
}

func (s *Server) callHandler(h ConnectionHandler, sess *session.Session) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in connection handler for %s: %v", sess, r)
			sess.Close()
		}
	}()
	h(sess)
}

// remove drops id from the registry. Removing an absent id is a no-op.
func (s *Server) remove(id uuid.UUID) {
	s.mu.Lock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return
	}

	s.releaseSlot()
	active := s.sessionCount.Add(-1)
	s.metrics.RecordConnectionClosed()
	s.metrics.SetActiveSessions(int(active))
	logger.Debug("Session %s removed (active: %d)", id, active)
}

// Stop closes the listener, closes and forgets every live session, waits
// up to ShutdownTimeout for them to finish closing and stops a private loop
// pool. Idempotent.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		logger.Info("TCP server stopping")
		close(s.shutdown)
		s.cancel()

		s.mu.Lock()
		s.stopped = true
		ln := s.listener
		live := make([]*session.Session, 0, len(s.sessions))
		for _, sess := range s.sessions {
			live = append(live, sess)
		}
		clear(s.sessions)
		s.mu.Unlock()

		if ln != nil {
			if err := ln.Close(); err != nil {
				logger.Debug("TCP listener close: %v", err)
			}
		}

		// Registry entries are gone, so close handlers will not release
		// their semaphore slots. Drain them here instead.
		for range live {
			s.releaseSlot()
		}
		s.sessionCount.Store(0)
		s.metrics.SetActiveSessions(0)

		for _, sess := range live {
			sess.Close()
		}
		s.awaitSessions(live)

		if s.ownLoops {
			s.loops.Stop()
		}
		logger.Info("TCP server stopped (%d sessions closed)", len(live))
	})
}

func (s *Server) awaitSessions(live []*session.Session) {
	timer := time.NewTimer(s.config.ShutdownTimeout)
	defer timer.Stop()

	for _, sess := range live {
		select {
		case <-sess.Done():
		case <-timer.C:
			logger.Warn("TCP server: shutdown timeout (%v) exceeded waiting for sessions", s.config.ShutdownTimeout)
			return
		}
	}
}

func (s *Server) logMetrics() {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			logger.Info("TCP server metrics: active_sessions=%d", s.SessionCount())
		}
	}
}

// Session looks up a live session by ID.
func (s *Server) Session(id uuid.UUID) (*session.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// SessionCount returns the number of registered sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Broadcast sends body to every live session and returns how many accepted
// it.
func (s *Server) Broadcast(body []byte) int {
	s.mu.Lock()
	live := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	sent := 0
	for _, sess := range live {
		if err := sess.Send(body); err == nil {
			sent++
		}
	}
	return sent
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound TCP port, or 0 before Start.
func (s *Server) Port() int {
	if tcp, ok := s.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}
