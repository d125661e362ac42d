//go:build linux || darwin || freebsd
// +build linux darwin freebsd

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fzft/go-fdwatch/cmd"
	"github.com/fzft/go-fdwatch/config"
	"github.com/fzft/go-fdwatch/log"
	"github.com/fzft/go-fdwatch/reactor"
	"github.com/fzft/go-fdwatch/server"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file")
		listen     = flag.String("listen", "", "listen address, overrides the config file")
		logLevel   = flag.String("log-level", "", "debug, info, warn or error, overrides the config file")
		console    = flag.Bool("console", true, "run the operator console on stdin")
		version    = flag.Bool("version", false, "print the version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println(cmd.Version())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	cfg.Console.Enabled = cfg.Console.Enabled && *console
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := log.InitLogger(cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg); err != nil {
		log.Logger.Error("fdwatch exited", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := reactor.New(
		reactor.WithLogger(log.Logger),
		reactor.WithMaxEvents(cfg.MaxEvents),
		reactor.WithTombstones(cfg.Tombstones),
		reactor.WithWaitTimeout(cfg.WaitTimeout),
	)
	if err != nil {
		return err
	}
	srv := server.New(cfg.Listen, r, server.WithLogger(log.Logger), server.WithMaxConns(cfg.MaxConns))

	g, gctx := errgroup.WithContext(ctx)
	// the loop outlives gctx so the server can be closed on it
	g.Go(func() error {
		return r.Run(context.Background())
	})
	g.Go(func() error {
		defer r.Stop()
		if err := r.DoWait(gctx, srv.Start); err != nil {
			return err
		}
		<-gctx.Done()
		return r.DoWait(context.Background(), srv.Close)
	})
	if cfg.Console.Enabled {
		c := cmd.NewConsole(r,
			cmd.WithLogger(log.Logger),
			cmd.WithPrompt(cfg.Console.Prompt),
			cmd.WithHistoryFile(cfg.Console.HistoryFile),
		)
		g.Go(func() error {
			return c.Run(gctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, cmd.ErrQuit) {
		return nil
	}
	return err
}
