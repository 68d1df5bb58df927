package server

import (
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/dittonet/pkg/eventloop"
	"github.com/marmos91/dittonet/pkg/frame"
	"github.com/marmos91/dittonet/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 3 * time.Second

func testConfig() Config {
	return Config{
		BindAddress: "127.0.0.1",
		Port:        0,
		Session: session.Config{
			HeartbeatInterval: time.Hour,
			IdleTimeout:       time.Hour,
		},
	}
}

func startServer(t *testing.T, cfg Config, h ConnectionHandler) *Server {
	t.Helper()
	loops := eventloop.NewPool(eventloop.Config{Size: 2})
	t.Cleanup(loops.Stop)

	srv, err := New(cfg, loops, nil)
	require.NoError(t, err)
	srv.OnConnection(h)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	_ = c.SetDeadline(time.Now().Add(waitTimeout))
	return c
}

func TestEndToEndMessageThenOversizedFrame(t *testing.T) {
	messages := make(chan string, 4)
	closed := make(chan struct{})

	srv := startServer(t, testConfig(), func(s *session.Session) {
		s.OnMessage(func(_ *session.Session, body []byte) { messages <- string(body) })
		s.OnClose(func(*session.Session) { close(closed) })
	})

	c := dial(t, srv)
	_, err := c.Write([]byte{0, 0, 0, 5, 'h', 'e', 'l', 'l', 'o'})
	require.NoError(t, err)

	select {
	case m := <-messages:
		assert.Equal(t, "hello", m)
	case <-time.After(waitTimeout):
		t.Fatal("hello not received")
	}
	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, waitTimeout, 5*time.Millisecond)

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 20000000)
	_, err = c.Write(hdr[:])
	require.NoError(t, err)

	select {
	case <-closed:
	case <-time.After(waitTimeout):
		t.Fatal("session not closed after oversized header")
	}
	assert.Empty(t, messages, "oversized frame must not reach the handler")
	require.Eventually(t, func() bool { return srv.SessionCount() == 0 }, waitTimeout, 5*time.Millisecond)
}

func TestEchoRoundTrip(t *testing.T) {
	srv := startServer(t, testConfig(), func(s *session.Session) {
		s.OnMessage(func(s *session.Session, body []byte) { _ = s.Send(body) })
	})

	c := dial(t, srv)
	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, frame.WriteFrame(c, []byte(msg)))
		body, err := frame.ReadFrame(c, frame.DefaultMaxBodyLength)
		require.NoError(t, err)
		assert.Equal(t, msg, string(body))
	}
}

func TestRegistryTracksSessions(t *testing.T) {
	var mu sync.Mutex
	var accepted []*session.Session

	srv := startServer(t, testConfig(), func(s *session.Session) {
		mu.Lock()
		accepted = append(accepted, s)
		mu.Unlock()
	})

	conns := make([]net.Conn, 5)
	for i := range conns {
		conns[i] = dial(t, srv)
	}
	require.Eventually(t, func() bool { return srv.SessionCount() == 5 }, waitTimeout, 5*time.Millisecond)

	mu.Lock()
	first := accepted[0]
	mu.Unlock()
	got, ok := srv.Session(first.ID())
	require.True(t, ok)
	assert.Same(t, first, got)

	for _, c := range conns {
		require.NoError(t, c.Close())
	}
	require.Eventually(t, func() bool { return srv.SessionCount() == 0 }, waitTimeout, 5*time.Millisecond)

	_, ok = srv.Session(first.ID())
	assert.False(t, ok)

	// Removing an already removed ID is silent.
	srv.remove(first.ID())
	assert.Zero(t, srv.SessionCount())
}

func TestBalanceSessionsSpreadsAcrossLoops(t *testing.T) {
	cfg := testConfig()
	cfg.BalanceSessions = true

	var mu sync.Mutex
	loops := make(map[int]int)
	srv := startServer(t, cfg, func(s *session.Session) {
		mu.Lock()
		loops[s.Loop().ID()]++
		mu.Unlock()
	})

	for i := 0; i < 4; i++ {
		dial(t, srv)
	}
	require.Eventually(t, func() bool { return srv.SessionCount() == 4 }, waitTimeout, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, loops, 2, "sessions should land on both loops")
}

func TestStopClosesSessionsAndIsIdempotent(t *testing.T) {
	var closes atomic.Int32
	srv := startServer(t, testConfig(), func(s *session.Session) {
		s.OnClose(func(*session.Session) { closes.Add(1) })
	})

	conns := []net.Conn{dial(t, srv), dial(t, srv), dial(t, srv)}
	require.Eventually(t, func() bool { return srv.SessionCount() == 3 }, waitTimeout, 5*time.Millisecond)
	addr := srv.Addr().String()

	srv.Stop()
	srv.Stop()

	assert.Zero(t, srv.SessionCount())
	assert.Equal(t, int32(3), closes.Load())
	for _, c := range conns {
		_, err := c.Read(make([]byte, 1))
		assert.Error(t, err)
	}

	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err, "listener must be closed")
	assert.ErrorIs(t, srv.Start(), ErrServerStopped)
}

func TestStartTwice(t *testing.T) {
	srv := startServer(t, testConfig(), nil)
	assert.ErrorIs(t, srv.Start(), ErrAlreadyStarted)
}

func TestStartFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	cfg.OwnEventLoops = true
	cfg.EventLoopThreads = 1

	srv, err := New(cfg, nil, nil)
	require.NoError(t, err)
	defer srv.Stop()

	assert.Error(t, srv.Start())
}

func TestOwnEventLoopsStoppedWithServer(t *testing.T) {
	cfg := testConfig()
	cfg.OwnEventLoops = true
	cfg.EventLoopThreads = 2

	srv, err := New(cfg, nil, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	dial(t, srv)
	require.Eventually(t, func() bool { return srv.SessionCount() == 1 }, waitTimeout, 5*time.Millisecond)

	srv.Stop()
	assert.Zero(t, srv.loops.Size())
}

func TestNewRequiresLoops(t *testing.T) {
	_, err := New(testConfig(), nil, nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Port = 70000
	loops := eventloop.NewPool(eventloop.Config{Size: 1})
	defer loops.Stop()
	_, err = New(cfg, loops, nil)
	assert.Error(t, err)
}

func TestMaxConnectionsPausesAccepts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	cfg.AcceptConcurrency = 1

	var accepted atomic.Int32
	srv := startServer(t, cfg, func(*session.Session) { accepted.Add(1) })

	first := dial(t, srv)
	require.Eventually(t, func() bool { return accepted.Load() == 1 }, waitTimeout, 5*time.Millisecond)

	// The second connection completes the TCP handshake in the backlog but
	// no session is created while the first one is live.
	dial(t, srv)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, 1, srv.SessionCount())

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return accepted.Load() == 2 }, waitTimeout, 5*time.Millisecond)
	assert.Equal(t, 1, srv.SessionCount())
}

func TestBroadcast(t *testing.T) {
	srv := startServer(t, testConfig(), nil)

	a, b := dial(t, srv), dial(t, srv)
	require.Eventually(t, func() bool { return srv.SessionCount() == 2 }, waitTimeout, 5*time.Millisecond)

	assert.Equal(t, 2, srv.Broadcast([]byte("all")))

	for _, c := range []net.Conn{a, b} {
		body, err := frame.ReadFrame(c, frame.DefaultMaxBodyLength)
		require.NoError(t, err)
		assert.Equal(t, "all", string(body))
	}
}

func TestConnectionHandlerPanicClosesSession(t *testing.T) {
	srv := startServer(t, testConfig(), func(*session.Session) { panic("bad handler") })

	c := dial(t, srv)
	_, err := c.Read(make([]byte, 1))
	assert.Error(t, err)
	require.Eventually(t, func() bool { return srv.SessionCount() == 0 }, waitTimeout, 5*time.Millisecond)
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.AcceptRate = 50
	cfg.ApplyDefaults()

	assert.Equal(t, 4, cfg.AcceptConcurrency)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, uint(50), cfg.AcceptBurst)
	assert.Equal(t, 30*time.Second, cfg.Session.HeartbeatInterval)
}
