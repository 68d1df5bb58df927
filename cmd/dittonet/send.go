package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittonet/internal/logger"
	"github.com/marmos91/dittonet/pkg/config"
	"github.com/marmos91/dittonet/pkg/eventloop"
	"github.com/marmos91/dittonet/pkg/session"
	"github.com/spf13/cobra"
)

var sendFlags struct {
	addr    string
	timeout time.Duration
}

var sendCmd = &cobra.Command{
	Use:   "send [message...]",
	Short: "Send frames to a server and print the replies",
	Long: `Connect to a dittonet server, send one frame per argument and print one
reply per frame. Heartbeats from the server are not printed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	f := sendCmd.Flags()
	f.StringVarP(&sendFlags.addr, "addr", "a", fmt.Sprintf("127.0.0.1:%d", config.DefaultPort), "server address")
	f.DurationVarP(&sendFlags.timeout, "timeout", "t", 5*time.Second, "how long to wait for the connection and all replies")
}

func runSend(cmd *cobra.Command, args []string) error {
	logger.SetLevel("WARN")

	loops := eventloop.NewPool(eventloop.Config{Size: 1})
	defer loops.Stop()

	ctx, cancel := context.WithTimeout(cmd.Context(), sendFlags.timeout)
	defer cancel()

	s, err := session.Dial(ctx, loops.Acquire(), sendFlags.addr, session.Config{}, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	replies := make(chan []byte, len(args))
	failed := make(chan error, 1)

	s.OnMessage(func(s *session.Session, body []byte) {
		if s.IsHeartbeat(body) {
			return
		}
		select {
		case replies <- body:
		default:
			logger.Warn("Dropping unexpected reply from %s", s.RemoteAddr())
		}
	})
	s.OnError(func(_ *session.Session, code session.ErrorCode, err error) {
		select {
		case failed <- fmt.Errorf("%s: %w", code, err):
		default:
		}
	})

	if err := s.Start(); err != nil {
		return err
	}

	for _, msg := range args {
		if err := s.Send([]byte(msg)); err != nil {
			return fmt.Errorf("send %q: %w", msg, err)
		}
	}

	out := cmd.OutOrStdout()
	for received := 0; received < len(args); received++ {
		select {
		case body := <-replies:
			_, _ = fmt.Fprintln(out, string(body))
		case err := <-failed:
			return err
		case <-s.Done():
			return errors.New("connection closed by server")
		case <-ctx.Done():
			return fmt.Errorf("waiting for replies (%d of %d received): %w", received, len(args), ctx.Err())
		}
	}
	return nil
}
