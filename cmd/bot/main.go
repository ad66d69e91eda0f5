// Package main runs the trading loop:
// - Market data (continuous): WebSocket ticker feed into the quote cache
// - Trading cycle (every loop.interval): admission → execution → reconciliation
// - HTTP: /health, /metrics, /status
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"coinbase-trader/internal/alert"
	"coinbase-trader/internal/config"
	"coinbase-trader/internal/domain"
	"coinbase-trader/internal/exchange"
	"coinbase-trader/internal/exchange/coinbase"
	"coinbase-trader/internal/exchange/paper"
	"coinbase-trader/internal/exchange/stub"
	"coinbase-trader/internal/execution"
	"coinbase-trader/internal/fees"
	"coinbase-trader/internal/killswitch"
	"coinbase-trader/internal/lock"
	"coinbase-trader/internal/logging"
	"coinbase-trader/internal/marketdata"
	"coinbase-trader/internal/observability"
	"coinbase-trader/internal/orchestrator"
	"coinbase-trader/internal/proposals"
	"coinbase-trader/internal/reconcile"
)

// Server holds the running components.
type Server struct {
	cfg     config.Config
	orch    *orchestrator.Orchestrator
	feed    *coinbase.TickerFeed // nil when streaming is off
	kill    killswitch.Switch
	logger  zerolog.Logger
	started time.Time
}

func main() {
	// Parse flags (env vars as defaults)
	configPath := flag.String("config", envOr("BOT_CONFIG", "config.yaml"), "Policy file (YAML)")
	envFile := flag.String("env-file", ".env", "Optional .env file with secrets")
	httpAddr := flag.String("http-addr", envOr("BOT_HTTP_ADDR", ":9090"), "Health, metrics and status HTTP address")
	once := flag.Bool("once", false, "Run a single cycle and exit")
	pretty := flag.Bool("pretty", false, "Human-readable console logs")
	flag.Parse()

	if err := config.LoadEnvFiles(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	secrets := config.SecretsFromEnv()
	if err := secrets.Check(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	newLogger := func(component string) zerolog.Logger {
		if *pretty {
			return logging.Console(cfg.LogLevel, component)
		}
		return logging.New(cfg.LogLevel, component)
	}
	logger := newLogger("bot")

	// Single instance
	lk, err := lock.Acquire(cfg.Loop.LockFile)
	if err != nil {
		logger.Fatal().Err(err).Str("lock", cfg.Loop.LockFile).Msg("another instance is running")
	}
	defer lk.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("initiating graceful shutdown")
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn().Str("signal", sig.String()).Msg("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error().Msg("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	server, cleanup, err := newServer(ctx, cfg, secrets, newLogger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer cleanup()

	if *once {
		res, err := server.orch.RunCycle(ctx)
		close(done)
		if err != nil {
			logger.Error().Err(err).Msg("cycle failed")
			cleanup()
			lk.Release()
			os.Exit(1)
		}
		logger.Info().Str("status", res.Status).Msg(res.Reason)
		return
	}

	go server.startHTTPServer(ctx, *httpAddr)
	go server.watchFeed(ctx)

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("account", cfg.Account).
		Dur("interval", cfg.Loop.Interval).
		Strs("symbols", cfg.Symbols).
		Msg("trading loop starting")
	err = server.orch.Run(ctx)
	close(done)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("trading loop stopped")
	}
	logger.Info().Msg("shutdown complete")
}

// newServer wires every component for the configured mode.
func newServer(ctx context.Context, cfg config.Config, secrets config.Secrets, newLogger func(component string) zerolog.Logger) (*Server, func(), error) {
	logger := newLogger("bot")
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Server, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	// Stores
	stores, closeStores, err := createStores(ctx, cfg, secrets, newLogger("storage"))
	if err != nil {
		return fail(fmt.Errorf("create stores: %w", err))
	}
	cleanups = append(cleanups, closeStores)

	// Exchange client and market data
	client, err := newClient(cfg, secrets, newLogger("coinbase"))
	if err != nil {
		return fail(err)
	}
	cache := marketdata.NewCache(marketdata.CacheOptions{Upstream: client})

	var feed *coinbase.TickerFeed
	if len(cfg.Symbols) > 0 {
		feed, err = coinbase.NewTickerFeed(ctx, coinbase.FeedOptions{
			Endpoint: cfg.Exchange.WSURL,
			Symbols:  cfg.Symbols,
			Sink:     cache,
			Logger:   newLogger("ticker"),
		})
		if err != nil {
			// Quotes fall back to REST; freshness checks still apply.
			logger.Warn().Err(err).Msg("ticker feed unavailable; quoting over REST")
			feed = nil
		} else {
			cleanups = append(cleanups, func() { feed.Close() })
		}
	}

	// Alerts
	sinks := []alert.Sink{alert.LogSink{Logger: newLogger("alert")}}
	if cfg.Alert.DiscordEnabled {
		sinks = append(sinks, alert.NewDiscordSink(secrets.DiscordWebhook, &http.Client{Timeout: 10 * time.Second}))
	}
	notifier := alert.NewDispatcher(alert.Options{
		Sinks:         sinks,
		DedupWindow:   cfg.Alert.DedupWindow,
		EscalateAfter: cfg.Alert.EscalateAfter,
		Logger:        newLogger("alert"),
	})

	// Order routing and the fill source for reconciliation
	conn, err := connectorFor(cfg, client, cache, secrets.APIKeyName != "")
	if err != nil {
		return fail(err)
	}
	execOpts := execution.Options{
		Config:   cfg,
		Market:   cache,
		Orders:   stores.orders,
		Notifier: notifier,
		Logger:   newLogger("execution"),
	}
	switch cfg.Mode {
	case domain.ModePaper:
		execOpts.Paper = conn
	case domain.ModeLive:
		execOpts.Connector = conn
	}
	executor, err := execution.New(execOpts)
	if err != nil {
		return fail(err)
	}

	rec := reconcile.New(reconcile.Options{
		Config:    cfg,
		Connector: conn,
		Snapshots: stores.snapshots,
		Orders:    stores.orders,
		Market:    cache,
		Logger:    newLogger("reconcile"),
	})

	kill := killswitch.NewFile(cfg.KillSwitch.File)
	orch, err := orchestrator.New(orchestrator.Options{
		Config: cfg,
		Proposals: proposals.NewFileSource(proposals.Options{
			Path:   cfg.Proposals.Path,
			MaxAge: cfg.Proposals.MaxAge,
			Logger: newLogger("proposals"),
		}),
		Market:     cache,
		Snapshots:  stores.snapshots,
		Executor:   executor,
		Reconciler: rec,
		Audit:      stores.audit,
		Connector:  conn,
		KillSwitch: kill,
		Notifier:   notifier,
		Logger:     newLogger("orchestrator"),
	})
	if err != nil {
		return fail(err)
	}

	return &Server{
		cfg:     cfg,
		orch:    orch,
		feed:    feed,
		kill:    kill,
		logger:  logger,
		started: time.Now(),
	}, cleanup, nil
}

func newClient(cfg config.Config, secrets config.Secrets, logger zerolog.Logger) (*coinbase.Client, error) {
	opts := []coinbase.ClientOption{
		coinbase.WithTimeout(cfg.Exchange.Timeout),
		coinbase.WithRetryPolicy(exchange.NewRetryPolicy(cfg.Exchange.Retry)),
		coinbase.WithReadOnly(cfg.Exchange.ReadOnly || cfg.Mode != domain.ModeLive),
		coinbase.WithLogger(logger),
	}
	if secrets.APIKeyName != "" && secrets.APIPrivateKey != "" {
		signer, err := coinbase.NewSigner(secrets.APIKeyName, secrets.APIPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("load api key: %w", err)
		}
		opts = append(opts, coinbase.WithSigner(signer))
	}
	client, err := coinbase.NewClient(cfg.Exchange.BaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create coinbase client: %w", err)
	}
	return client, nil
}

// connectorFor picks the connector that routes orders and reports fills:
// the paper ledger in PAPER, the exchange in LIVE. DRY_RUN reconciles
// against the exchange when credentials allow it and against a stub
// holding the paper starting cash otherwise.
func connectorFor(cfg config.Config, client *coinbase.Client, market marketdata.Provider, hasKeys bool) (exchange.Connector, error) {
	switch cfg.Mode {
	case domain.ModePaper:
		return paper.New(paper.Options{
			Market:       market,
			Fees:         fees.New(cfg.Fees.MakerBps, cfg.Fees.TakerBps),
			StartingCash: cfg.Paper.StartingCash,
		}), nil
	case domain.ModeLive:
		if client.ReadOnly() {
			return nil, execution.ErrReadOnlyConnector
		}
		return client, nil
	case domain.ModeDryRun:
		if hasKeys {
			return client, nil
		}
		s := stub.New()
		s.SetReadOnly(true)
		s.Balances = []domain.Balance{{Currency: "USD", Available: cfg.Paper.StartingCash}}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

// watchFeed exports ticker feed health.
func (s *Server) watchFeed(ctx context.Context) {
	if s.feed == nil {
		return
	}
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n := s.feed.Reconnects()
		if n > last {
			observability.RecordFeedReconnects(n - last)
			last = n
		}
		if age := time.Since(s.feed.LastMessage()); age > time.Minute {
			s.logger.Warn().Dur("silent_for", age).Msg("ticker feed quiet")
		}
	}
}

func (s *Server) startHTTPServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", s.handleStatus)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	s.logger.Info().Str("addr", addr).Msg("starting HTTP server")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error().Err(err).Msg("HTTP server error")
	}
}

// StatusResponse is the /status payload.
type StatusResponse struct {
	Status           string    `json:"status"`
	Mode             string    `json:"mode"`
	Account          string    `json:"account"`
	Uptime           string    `json:"uptime"`
	KillSwitch       bool      `json:"kill_switch"`
	KillSwitchReason string    `json:"kill_switch_reason,omitempty"`
	FeedLastMessage  time.Time `json:"feed_last_message,omitempty"`

	LastCycle *CycleStatus `json:"last_cycle,omitempty"`
}

// CycleStatus summarises the most recent cycle.
type CycleStatus struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason"`
	Batch      string    `json:"batch,omitempty"`
	Proposals  int       `json:"proposals"`
	Admitted   int       `json:"admitted"`
	Orders     int       `json:"orders"`
	NAV        float64   `json:"nav,omitempty"`
	Blocked    []string  `json:"blocked,omitempty"`
	Errors     []string  `json:"errors,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	engaged, reason := s.kill.Engaged()
	resp := StatusResponse{
		Status:           "running",
		Mode:             string(s.cfg.Mode),
		Account:          s.cfg.Account,
		Uptime:           time.Since(s.started).Round(time.Second).String(),
		KillSwitch:       engaged,
		KillSwitchReason: reason,
	}
	if s.feed != nil {
		resp.FeedLastMessage = s.feed.LastMessage()
	}
	if last, ok := s.orch.LastCycle(); ok {
		cs := &CycleStatus{
			ID:         last.CycleID,
			Status:     last.Status,
			Reason:     last.Reason,
			Batch:      last.BatchID,
			Proposals:  last.Proposals,
			Admitted:   len(last.Admission.ApprovedProposals),
			Orders:     len(last.Orders),
			Errors:     last.Errors,
			FinishedAt: last.FinishedAt,
		}
		if rs := last.Reconciliation; rs != nil {
			cs.NAV = rs.AccountValue
			cs.Blocked = rs.Blocked
		}
		resp.LastCycle = cs
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
