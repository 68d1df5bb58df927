package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, port int, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, path))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestNoopServerMetrics(t *testing.T) {
	m := NewNoopServerMetrics()
	assert.NotPanics(t, func() {
		m.RecordFrameReceived(10)
		m.RecordFrameSent(14)
		m.RecordHeartbeatSent()
		m.RecordSessionError("io")
		m.RecordConnectionAccepted()
		m.RecordConnectionClosed()
		m.RecordConnectionRejected()
		m.SetActiveSessions(3)
	})
}

func TestServerServesMetricsAndHealth(t *testing.T) {
	InitRegistry()
	require.True(t, IsEnabled())

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dittonet_test_server_hits_total",
		Help: "Test counter",
	})
	require.NoError(t, GetRegistry().Register(c))
	c.Add(3)

	srv := NewServer(ServerConfig{Port: -1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.Port() != 0 }, 3*time.Second, 5*time.Millisecond)

	code, body := get(t, srv.Port(), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok\n", body)

	code, body = get(t, srv.Port(), "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "dittonet_test_server_hits_total 3")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}

	// Stop after shutdown is a no-op.
	assert.NoError(t, srv.Stop(context.Background()))
}

func TestServerStartFailsOnBusyPort(t *testing.T) {
	first := NewServer(ServerConfig{Port: -1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = first.Start(ctx) }()
	require.Eventually(t, func() bool { return first.Port() != 0 }, 3*time.Second, 5*time.Millisecond)

	second := NewServer(ServerConfig{Port: first.Port()})
	assert.Error(t, second.Start(context.Background()))
}
