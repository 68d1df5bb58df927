package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittonet/internal/logger"
	"github.com/marmos91/dittonet/pkg/config"
	"github.com/marmos91/dittonet/pkg/echo"
	"github.com/marmos91/dittonet/pkg/eventloop"
	promMetrics "github.com/marmos91/dittonet/pkg/metrics/prometheus"
	"github.com/marmos91/dittonet/pkg/server"
	"github.com/marmos91/dittonet/pkg/workerpool"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveFlags struct {
	port      int
	logLevel  string
	uppercase bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the echo server",
	Long: `Run a TCP server that answers every frame with the same body.

Flags override the configuration file and environment. The echo handler
reads its own settings from the "echo" section (echo.uppercase).`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.IntVarP(&serveFlags.port, "port", "p", 0, "TCP port to listen on (overrides server.port)")
	f.StringVar(&serveFlags.logLevel, "log-level", "", "log level: DEBUG, INFO, WARN, ERROR (overrides logging.level)")
	f.BoolVar(&serveFlags.uppercase, "uppercase", false, "upper-case echoed ASCII letters (overrides echo.uppercase)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = serveFlags.port
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = serveFlags.logLevel
		if err := config.Validate(cfg); err != nil {
			return err
		}
	}

	if err := configureLogger(cfg.Logging); err != nil {
		return err
	}

	uppercase := cfg.Source().GetBool("echo", "uppercase", false)
	if cmd.Flags().Changed("uppercase") {
		uppercase = serveFlags.uppercase
	}

	m := config.InitializeMetrics(cfg)

	var loops *eventloop.Pool
	if !cfg.Server.OwnEventLoops {
		loops = eventloop.NewPool(cfg.EventLoops)
		defer loops.Stop()
		logger.Info("Event loop pool started with %d loops", loops.Size())
	}

	workers := workerpool.New(cfg.Workers.Count)
	defer workers.Shutdown()
	promMetrics.RegisterWorkerPool("echo", workers)

	buffers, err := echo.NewBufferPool(cfg.Buffers.Config, cfg.Buffers.Size)
	if err != nil {
		return fmt.Errorf("failed to create buffer pool: %w", err)
	}
	defer buffers.Close()
	promMetrics.RegisterResourcePool("echo_buffers", buffers)

	handler := echo.NewHandler(workers, buffers, uppercase)

	srv, err := server.New(cfg.Server, loops, m.TCPMetrics)
	if err != nil {
		return err
	}
	srv.OnConnection(handler.Handle)

	if err := srv.Start(); err != nil {
		return err
	}
	logger.Info("dittonet %s serving on %s (workers: %d, uppercase: %v)", Version, srv.Addr(), workers.Size(), uppercase)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if m.Server != nil {
		g.Go(func() error {
			return m.Server.Start(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		srv.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error: %v", err)
		return err
	}

	logger.Info("Server stopped gracefully (echoed %d frames)", handler.Echoed())
	return nil
}

func configureLogger(cfg config.LoggingConfig) error {
	logger.SetLevel(cfg.Level)
	logger.SetFormat(cfg.Format)
	if err := logger.SetOutput(cfg.Output); err != nil {
		return fmt.Errorf("failed to set log output: %w", err)
	}
	return nil
}
