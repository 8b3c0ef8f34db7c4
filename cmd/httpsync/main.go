// Copyright 2021 The httpsync Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Command httpsync plays a YAML scenario of desired request sets
// against live HTTP servers and prints every progress event the
// manager relays.
//
// Usage:
//
//	httpsync [flags] scenario.yaml
//
// Every flag may also be set through an HTTPSYNC_* environment
// variable; run httpsync -h for the list.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"syscall"

	"github.com/gogama/httpsync"
	"github.com/gogama/httpsync/internal/config"
	"github.com/gogama/httpsync/internal/logging"
	"github.com/gogama/httpsync/internal/scenario"
	"github.com/gogama/httpsync/internal/telemetry"
	"github.com/gogama/httpsync/timeout"
	"github.com/rs/zerolog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Parse(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "httpsync: %v\n", err)
		os.Exit(2)
	}
	if err := run(ctx, cfg, http.DefaultTransport, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "httpsync: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, rt http.RoundTripper, out, errOut io.Writer) error {
	logger, closer, err := logging.New(logging.Options{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		File:      cfg.LogFile,
		MaxSizeMB: cfg.LogMaxSizeMB,
	}, errOut)
	if err != nil {
		return err
	}
	defer func() {
		_ = closer.Close()
	}()

	shutdown, err := telemetry.Setup(ctx, "httpsync", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("trace shutdown")
		}
	}()

	sc, err := scenario.Load(cfg.Scenario)
	if err != nil {
		return err
	}
	policy, err := sc.Policy(cfg.Cooldown)
	if err != nil {
		return err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}

	stats := &stats{}
	handlers := &httpsync.HandlerGroup{}
	for _, evt := range httpsync.Events() {
		handlers.PushBack(evt, stats)
	}
	m := &httpsync.Manager{
		Transport: &httpsync.HTTPTransport{
			HTTPDoer:      &http.Client{Transport: rt},
			TimeoutPolicy: timeout.Capped(timeout.Descriptor(timeout.Fixed(cfg.Timeout)), cfg.MaxTimeout),
			Jar:           jar,
		},
		RateLimit: policy,
		Handlers:  handlers,
		Logger:    &logger,
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	loopErr := make(chan error, 1)
	go func() {
		loopErr <- m.Run(loopCtx)
	}()

	logger.Info().Str("scenario", sc.Name).Int("steps", len(sc.Steps)).Msg("starting")
	runner := &scenario.Runner{
		Manager:      m,
		Out:          out,
		AwaitTimeout: cfg.AwaitTimeout,
		Logger:       &logger,
	}
	err = runner.Run(loopCtx, sc)
	cancel()
	if lerr := <-loopErr; lerr != nil && !errors.Is(lerr, context.Canceled) {
		logger.Error().Err(lerr).Msg("control loop")
	}
	stats.log(&logger)
	return err
}

// stats counts lifecycle events. It is only written on the control
// loop goroutine and only read after the loop has stopped.
type stats struct {
	counts map[httpsync.Event]int
}

func (s *stats) Handle(evt httpsync.Event, _ *httpsync.Operation) {
	if s.counts == nil {
		s.counts = make(map[httpsync.Event]int)
	}
	s.counts[evt]++
}

func (s *stats) log(logger *zerolog.Logger) {
	e := logger.Info()
	for _, evt := range httpsync.Events() {
		e = e.Int(evt.Name(), s.counts[evt])
	}
	e.Msg("finished")
}
