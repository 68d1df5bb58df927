package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/marmos91/dittonet/pkg/eventloop"
	"github.com/marmos91/dittonet/pkg/server"
	"github.com/marmos91/dittonet/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configPath = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dittonet.yaml")

	out, err := execute(t, "config", "init", "--path", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = execute(t, "config", "init", "--path", path)
	assert.ErrorContains(t, err, "already exists")

	out, err = execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "idle_timeout: 2m0s")
	assert.Contains(t, out, "heartbeat_body: HEARTBEAT")
}

func TestConfigSchema(t *testing.T) {
	out, err := execute(t, "config", "schema")
	require.NoError(t, err)
	assert.Contains(t, out, `"title": "dittonet configuration"`)
	assert.Contains(t, out, `"heartbeat_interval"`)

	path := filepath.Join(t.TempDir(), "schema.json")
	t.Cleanup(func() { configSchemaOutput = "" })
	out, err = execute(t, "config", "schema", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"accept_concurrency"`)
}

func TestSendPrintsReplies(t *testing.T) {
	loops := eventloop.NewPool(eventloop.Config{Size: 1})
	t.Cleanup(loops.Stop)

	srv, err := server.New(server.Config{BindAddress: "127.0.0.1"}, loops, nil)
	require.NoError(t, err)
	srv.OnConnection(func(s *session.Session) {
		s.OnMessage(func(s *session.Session, body []byte) {
			if !s.IsHeartbeat(body) {
				_ = s.Send(append([]byte("re:"), body...))
			}
		})
	})
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	addr := "127.0.0.1:" + strconv.Itoa(srv.Port())
	out, err := execute(t, "send", "--addr", addr, "--timeout", "3s", "one", "two")
	require.NoError(t, err)
	assert.Equal(t, "re:one\nre:two\n", out)
}

func TestSendFailsWithoutServer(t *testing.T) {
	start := time.Now()
	_, err := execute(t, "send", "--addr", "127.0.0.1:1", "--timeout", "1s", "x")
	require.Error(t, err)

	var serr *session.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, session.ErrorConnect, serr.Code)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dittonet dev\n", out)
}
