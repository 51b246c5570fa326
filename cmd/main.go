package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"

	"github.com/angeloszaimis/dispatcher/config"
	"github.com/angeloszaimis/dispatcher/internal/dispatcher"
	"github.com/angeloszaimis/dispatcher/internal/eventlog"
	"github.com/angeloszaimis/dispatcher/internal/handler"
	"github.com/angeloszaimis/dispatcher/internal/healthcheck"
	"github.com/angeloszaimis/dispatcher/internal/httpserver"
	"github.com/angeloszaimis/dispatcher/internal/loadbalancer"
	"github.com/angeloszaimis/dispatcher/internal/metrics"
	"github.com/angeloszaimis/dispatcher/internal/registry"
	"github.com/angeloszaimis/dispatcher/internal/transport"
	"github.com/angeloszaimis/dispatcher/pkg/logger"
)

type flags struct {
	configPath string
	service    string
	method     string
	path       string
	data       string
}

func parseFlags(args []string) (flags, error) {
	var f flags

	fs := pflag.NewFlagSet("dispatcher", pflag.ContinueOnError)
	fs.StringVarP(&f.configPath, "config", "c", "", "path to a config file (default ./config/config.yaml)")
	fs.StringVar(&f.service, "service", "", "dispatch a single request to this service and exit")
	fs.StringVar(&f.method, "method", "GET", "HTTP method for a single request")
	fs.StringVar(&f.path, "path", "/", "entrance path for a single request")
	fs.StringVar(&f.data, "data", "", "request body for a single request")

	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	cfg, err := config.LoadFile(f.configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, true, cfg.Server.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(cfg, log)
	if err != nil {
		log.Error("Failed to initialize", slog.Any("err", err))
		os.Exit(1)
	}
	defer a.close()

	if f.service != "" {
		err = oneShot(ctx, a, f, os.Stdout)
	} else {
		err = serve(ctx, a)
	}
	if err != nil {
		log.Error("Exiting with error", slog.Any("err", err))
		a.close()
		os.Exit(1)
	}
}

type app struct {
	cfg        *config.Config
	log        *slog.Logger
	store      registry.Store
	events     eventlog.Logger
	collector  *metrics.Collector
	dispatcher *dispatcher.Dispatcher
	monitor    *healthcheck.Monitor
	closed     bool
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	events, err := eventlog.New(cfg.EventLog)
	if err != nil {
		log.Warn("Event log disabled", slog.Any("err", err))
		events = eventlog.Nop{}
	}
	a.events = events

	a.collector = metrics.NewCollector(cfg.Metrics.BufferSize, log)

	tr := transport.NewHTTPTransport(
		config.Duration(cfg.Transport.Timeout),
		transport.WithRateLimit(cfg.Transport.RateLimit, cfg.Transport.Burst),
	)

	opts := []dispatcher.Option{
		dispatcher.WithLogger(log),
		dispatcher.WithMetrics(a.collector),
	}

	if cfg.Dispatch.ClientLoadBalance {
		store, err := registry.Open(cfg.Registry)
		if err != nil {
			a.close()
			return nil, errors.Wrap(err, "open registry")
		}
		a.store = store
		a.monitor = healthcheck.NewMonitor(store, config.Duration(cfg.Registry.HealthCheckInterval), log)

		lb := loadbalancer.NewLoadBalancer(store, store, cfg.Dispatch.MaxPolling, cfg.Dispatch.DefaultTargetID)
		opts = append(opts, dispatcher.WithLoadBalancer(lb))

		log.Info("Client load balancing enabled", slog.String("registry", cfg.Registry.Driver))
	} else {
		log.Info("Dispatching through gateway", slog.String("gateway", cfg.Dispatch.Gateway))
	}

	d, err := dispatcher.New(cfg.Dispatch, tr, a.events, opts...)
	if err != nil {
		a.close()
		return nil, err
	}
	a.dispatcher = d

	return a, nil
}

func (a *app) close() {
	if a.closed {
		return
	}
	a.closed = true

	if c, ok := a.events.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Warn("Failed to close event log", slog.Any("err", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("Failed to close registry", slog.Any("err", err))
		}
	}
}

// writeTimeout leaves room for every attempt of one dispatch.
func writeTimeout(cfg *config.Config) time.Duration {
	perAttempt := config.Duration(cfg.Transport.Timeout)
	if perAttempt <= 0 {
		return 0
	}
	return time.Duration(cfg.Dispatch.TryTimes)*perAttempt + 5*time.Second
}

func serve(ctx context.Context, a *app) error {
	a.collector.Start(ctx)
	if a.monitor != nil {
		go a.monitor.Run(ctx)
	}

	h := handler.NewDispatchHandler(a.log, a.dispatcher)

	srv, err := httpserver.New(a.cfg.Server.Address, setupRouter(h, a.collector, a.monitor),
		httpserver.WithWriteTimeout(writeTimeout(a.cfg)))
	if err != nil {
		return errors.Wrap(err, "create server")
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	a.log.Info("Sidecar listening", slog.String("addr", a.cfg.Server.Address))

	select {
	case <-ctx.Done():
		a.log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			a.log.Error("Error during shutdown", slog.Any("err", err))
		}
		<-a.collector.Done()
		return nil
	case err := <-srvErrCh:
		return err
	}
}

func oneShot(ctx context.Context, a *app, f flags, out io.Writer) error {
	a.collector.Start(ctx)

	body, err := a.dispatcher.PerformRequest(ctx, f.service, f.method, f.path, transport.Options{Body: f.data})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, body)
	return err
}
