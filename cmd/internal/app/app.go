// Package app wires the comet server runtime: config, logging, HTTP routes and the delivery transports.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/api"
	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/broker"
	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/longpoll"
	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/metrics"
	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/producer"
	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/realtime"
	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/stream"
)

// App is the comet server runtime: it owns the broker, the transports and the HTTP server.
type App struct {
	cfg Config
	log Logger

	registry *prometheus.Registry
	broker   *broker.Broker

	poll   *longpoll.Handler
	stream *stream.Handler
	ws     *realtime.Gateway
	api    *api.Handler

	ready atomic.Bool
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	b := broker.New(log,
		broker.WithRetention(cfg.Broker.retention()),
		broker.WithMetrics(m),
	)

	runner, err := newRunner(ctx, cfg.Producer, log)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		log:      log,
		registry: reg,
		broker:   b,
		poll:     longpoll.NewHandler(log, b, cfg.Broker.longPoll()),
		stream:   stream.NewHandler(log, b, cfg.Broker.stream()),
		ws:       realtime.NewGateway(log, runner, m, cfg.Socket.gateway()),
		api: api.New(log, b, runner,
			api.WithMaxBody(cfg.MaxBodyBytes),
			api.WithSendTimeout(cfg.Producer.SendTimeout),
		),
	}
	a.ready.Store(true)
	return a, nil
}

// newRunner returns nil when the producer is disabled; socket runs and POST /send then fail cleanly.
func newRunner(ctx context.Context, cfg ProducerConfig, log Logger) (producer.Runner, error) {
	if cfg.Disabled {
		log.Info("producer.disabled")
		return nil, nil
	}
	model, err := producer.NewModel(ctx, cfg.model())
	if err != nil {
		return nil, fmt.Errorf("producer: %w", err)
	}
	log.Info("producer.ready", "provider", cfg.Provider, "model", model.Name())
	return producer.New(log, model, producer.NewMemory(cfg.MemoryTurns)), nil
}

// Broker exposes the dispatch engine, mainly for tests and embedding.
func (a *App) Broker() *broker.Broker { return a.broker }

// Run listens on the configured address and serves until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.HTTPAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, defaultReadHeaderTimeout),
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, defaultIdleTimeout),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	a.log.Info("server.start", "addr", ln.Addr().String(), "metrics", a.cfg.MetricsEnabled)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "error", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", context.Cause(gctx))
		a.ready.Store(false)

		// streams, sockets and held polls never go idle on their own
		a.stream.Close()
		a.ws.Close()
		cancelBase()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx),
			nonZeroDuration(a.cfg.ShutdownTimeout, defaultShutdownTimeout))
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "error", err)
			return err
		}
		return nil
	})

	err := g.Wait()
	if err == nil {
		a.log.Info("server.stopped")
	}
	return err
}
