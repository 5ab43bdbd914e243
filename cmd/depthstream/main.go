// Command depthstream streams one venue order book, logs it and serves it over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/depthstream/internal/adapters/shared"
	"github.com/coachpo/depthstream/internal/config"
	"github.com/coachpo/depthstream/internal/engine"
	"github.com/coachpo/depthstream/internal/feed"
	"github.com/coachpo/depthstream/internal/observability"
	"github.com/coachpo/depthstream/internal/schema"
	httpserver "github.com/coachpo/depthstream/internal/server/http"
	"github.com/coachpo/depthstream/internal/supervisor"
	"github.com/coachpo/depthstream/internal/telemetry"
)

const (
	defaultConfigPath        = "config/depthstream.yaml"
	serviceName              = "depthstream"
	loggerPrefix             = serviceName + " "
	shutdownTimeout          = 20 * time.Second
	apiServerShutdownTimeout = 5 * time.Second
	feedShutdownTimeout      = 10 * time.Second
	lifecycleShutdownTimeout = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	apiReadHeaderTimeout     = 5 * time.Second
	listInstrumentsTimeout   = 30 * time.Second
)

type cliOptions struct {
	configPath      string
	venue           string
	instrument      string
	listInstruments bool
}

func main() {
	opts := parseFlags(os.Args[1:])
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newLogger()

	appCfg, err := loadConfig(ctx, opts)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	observability.SetLogger(observability.NewZeroLogger(observability.ZeroOptions{
		Out:       os.Stdout,
		Pretty:    appCfg.Logging.Pretty,
		Debug:     appCfg.Logging.Debug,
		Component: serviceName,
	}))
	logger.Printf("configuration initialised: env=%s, venue=%s, instrument=%s",
		appCfg.Environment, appCfg.Feed.Venue, appCfg.Feed.Instrument)

	venue, err := schema.ParseVenue(appCfg.Feed.Venue)
	if err != nil {
		logger.Fatalf("resolve venue: %v", err)
	}

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	manager := feed.NewManager(managerOptions(appCfg, telemetryProvider)...)

	if opts.listInstruments {
		listCtx, listCancel := context.WithTimeout(ctx, listInstrumentsTimeout)
		instruments, err := manager.Instruments(listCtx, venue)
		listCancel()
		if err != nil {
			logger.Fatalf("list instruments: %v", err)
		}
		printInstruments(os.Stdout, instruments)
		return
	}

	var lifecycle conc.WaitGroup

	handle, err := manager.Subscribe(ctx, venue, appCfg.Feed.Instrument, newFeedLogger(observability.Log()))
	if err != nil {
		logger.Fatalf("subscribe: %v", err)
	}
	logger.Printf("subscribed: handle=%s", handle)

	var apiServer *http.Server
	if appCfg.APIServer.Addr != "" {
		apiServer = buildAPIServer(appCfg.APIServer, manager)
		startAPIServer(&lifecycle, logger, apiServer)
		logger.Printf("book API listening on %s", apiServer.Addr)
	}

	logger.Print("depthstream started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:    apiServer,
		feed:      manager,
		lifecycle: &lifecycle,
		telemetry: telemetryProvider,
	})
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags(args []string) cliOptions {
	var opts cliOptions
	fs := flag.NewFlagSet("depthstream", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "", fmt.Sprintf("Path to configuration file (default: %s)", defaultConfigPath))
	fs.StringVar(&opts.venue, "venue", "", "Venue to stream: OKX, Bybit or Deribit (overrides config)")
	fs.StringVar(&opts.instrument, "instrument", "", "Instrument to stream (overrides config)")
	fs.BoolVar(&opts.listInstruments, "list-instruments", false, "List the venue's tradable instruments and exit")
	_ = fs.Parse(args)
	return opts
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newLogger() *log.Logger {
	return log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

// loadConfig reads the configuration file and applies the command line overrides.
func loadConfig(ctx context.Context, opts cliOptions) (config.AppConfig, error) {
	cfg, err := config.LoadOrDefault(ctx, resolveConfigPath(opts.configPath))
	if err != nil {
		return config.AppConfig{}, err
	}
	if venue := strings.TrimSpace(opts.venue); venue != "" {
		cfg.Feed.Venue = venue
	}
	if instrument := strings.TrimSpace(opts.instrument); instrument != "" {
		cfg.Feed.Instrument = instrument
	}
	if err := cfg.Validate(); err != nil {
		return config.AppConfig{}, err
	}
	return cfg, nil
}

func initTelemetry(ctx context.Context, logger *log.Logger, appCfg config.AppConfig) (*telemetry.Provider, error) {
	cfg := appCfg.Telemetry
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	if cfg.MetricInterval > 0 {
		telemetryCfg.MetricInterval = cfg.MetricInterval
	}
	telemetryCfg.Environment = string(appCfg.Environment)
	telemetryCfg.OTLPInsecure = cfg.OTLPInsecure
	telemetryCfg.Enabled = telemetryCfg.Enabled || cfg.Enabled

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

func engineConfig(cfg config.AppConfig) engine.Config {
	return engine.Config{
		Instrument:        cfg.Feed.Instrument,
		Depth:             cfg.Book.Depth,
		ThrottleInterval:  cfg.Book.Throttle,
		HeartbeatInterval: cfg.Connection.HeartbeatInterval,
		Retry: supervisor.RetryPolicy{
			InitialDelay: cfg.Connection.InitialRetryDelay,
			MaxDelay:     cfg.Connection.MaxRetryDelay,
			MaxAttempts:  cfg.Connection.MaxReconnectAttempts,
		},
		DialTimeout:  cfg.Connection.DialTimeout,
		WriteTimeout: cfg.Connection.WriteTimeout,
		ReadLimit:    cfg.Connection.ReadLimit,
	}
}

func managerOptions(cfg config.AppConfig, provider *telemetry.Provider) []feed.Option {
	opts := []feed.Option{
		feed.WithEngineConfig(engineConfig(cfg)),
		feed.WithLogger(observability.Log()),
	}
	for _, venue := range schema.Venues() {
		override := cfg.Venue(venue)
		opts = append(opts, feed.WithVenueOptions(venue, shared.Options{
			Endpoint:          override.Endpoint,
			RESTBaseURL:       override.RESTBaseURL,
			RequestsPerSecond: override.RequestsPerSecond,
		}))
	}
	if provider != nil {
		opts = append(opts, feed.WithMeter(provider.Meter(telemetry.MeterName), string(cfg.Environment)))
	}
	return opts
}

// feedLogger logs status changes and the top of book on every publish.
type feedLogger struct {
	logger observability.Logger
	last   schema.Status
}

func newFeedLogger(logger observability.Logger) *feedLogger {
	return &feedLogger{logger: logger}
}

func (f *feedLogger) OnUpdate(update schema.Update) {
	if update.Snapshot == nil {
		fields := []observability.Field{
			observability.F("handle", update.Handle),
			observability.F("status", update.Status),
			observability.F("state", update.State),
		}
		if update.NextDelay > 0 {
			fields = append(fields, observability.F("retry_in", update.NextDelay), observability.F("attempt", update.Attempt))
		}
		if update.Err != nil {
			fields = append(fields, observability.F("error", update.Err))
			f.logger.Error("feed status", fields...)
		} else if update.Status != f.last || update.State == schema.StateReconnecting {
			f.logger.Info("feed status", fields...)
		}
		f.last = update.Status
		return
	}
	snap := update.Snapshot
	fields := []observability.Field{
		observability.F("seq", snap.Sequence),
		observability.F("spread", snap.Spread),
		observability.F("mid", snap.MidPrice),
	}
	if bid, ok := snap.BestBid(); ok {
		fields = append(fields, observability.F("bid", bid.Price), observability.F("bid_size", bid.Size))
	}
	if ask, ok := snap.BestAsk(); ok {
		fields = append(fields, observability.F("ask", ask.Price), observability.F("ask_size", ask.Size))
	}
	f.logger.Debug("book", fields...)
}

func printInstruments(w io.Writer, instruments []schema.Instrument) {
	for _, inst := range instruments {
		_, _ = fmt.Fprintf(w, "%s\t%s/%s\ttick=%s\tlot=%s\n",
			inst.ID, inst.BaseCurrency, inst.QuoteCurrency, inst.TickSize, inst.LotSize)
	}
}

func buildAPIServer(cfg config.APIServerConfig, manager *feed.Manager) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpserver.NewHandler(manager),
		ReadHeaderTimeout: apiReadHeaderTimeout,
	}
}

func startAPIServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("book API server: %v", err)
		}
	})
}

type gracefulShutdownConfig struct {
	server    *http.Server
	feed      *feed.Manager
	lifecycle *conc.WaitGroup
	telemetry *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping book API server", apiServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	if cfg.feed != nil {
		shutdownStep("closing subscriptions", feedShutdownTimeout, func(stepCtx context.Context) error {
			return waitOrTimeout(stepCtx, cfg.feed.Close)
		})
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			return waitOrTimeout(stepCtx, func() error {
				cfg.lifecycle.Wait()
				return nil
			})
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}

// waitOrTimeout runs fn and gives up waiting for it once ctx ends.
func waitOrTimeout(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timeout: %w", ctx.Err())
	}
}
