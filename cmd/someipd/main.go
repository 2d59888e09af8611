package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/someipd/internal/admin"
	"github.com/danmuck/someipd/internal/config"
	"github.com/danmuck/someipd/internal/logging"
	"github.com/danmuck/someipd/internal/observability"
	"github.com/danmuck/someipd/internal/participant"
	"github.com/danmuck/someipd/internal/transport"
	"github.com/rs/zerolog"
)

func main() {
	path := flag.String("config", "cmd/someipd/config.toml", "daemon config path")
	flag.Parse()

	cfg, err := loadDaemonConfig(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "someipd: %v\n", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "someipd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.DaemonConfig) error {
	logger := observability.InitLogger(cfg.ID)
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		zerolog.SetGlobalLevel(lvl)
	}

	tc, err := cfg.Transport()
	if err != nil {
		return err
	}
	stats := observability.NewStats()
	srv, err := transport.NewServer(tc,
		transport.WithObserver(participant.Observers(stats, observability.NewMetrics(cfg.ID))),
		transport.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer srv.Close()

	unbind := bindReceivers(srv.Registry(), cfg.Receivers, logger)
	defer unbind()

	exec := srv.Executor()
	execDone := make(chan struct{})
	go func() {
		defer close(execDone)
		exec.Run()
	}()
	defer func() {
		exec.Stop()
		<-execDone
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	adminErr := make(chan error, 1)
	if cfg.AdminAddr != "" {
		adm := admin.New(cfg.ID, cfg.AdminAddr, cfg.CorsOrigins, srv, stats, logger)
		go func() {
			adminErr <- adm.Serve(ctx)
		}()
		logger.Info().Str("addr", cfg.AdminAddr).Msg("admin listening")
	}

	logger.Info().
		Str("protocol", tc.Protocol.String()).
		Bool("resync", tc.Participant.SupportsResync).
		Bool("magic_cookies", tc.Participant.SendMagicCookies).
		Int("receivers", srv.Registry().Len()).
		Msg("someipd starting")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe(ctx)
	}()
	select {
	case err := <-serveErr:
		cancel()
		return err
	case err := <-adminErr:
		cancel()
		if err != nil {
			return err
		}
		return <-serveErr
	}
}
