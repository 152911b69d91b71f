package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/psantana5/sweepwatch/internal/api"
	"github.com/psantana5/sweepwatch/internal/engine"
	"github.com/psantana5/sweepwatch/internal/logfacts"
	"github.com/psantana5/sweepwatch/internal/metrics"
	"github.com/psantana5/sweepwatch/internal/poll"
	"github.com/psantana5/sweepwatch/internal/session"
	"github.com/psantana5/sweepwatch/internal/transport"
	"github.com/psantana5/sweepwatch/pkg/logging"
	tlsutil "github.com/psantana5/sweepwatch/pkg/tls"
	"github.com/psantana5/sweepwatch/pkg/tracing"
)

// runtime is the wired object graph shared by the commands
type runtime struct {
	logger  *logging.Logger
	metrics *metrics.Metrics
	tracer  *tracing.Provider
	session *session.Memory
	guard   *transport.Guard
	client  *api.Client
	engine  *engine.Engine
}

func newRuntime() (*runtime, error) {
	cfg, err := loadSettings()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to load location %q: %w", cfg.Location, err)
	}

	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "sweepctl",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTLPEndpoint != "",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	tcfg := transport.DefaultConfig()
	tcfg.BaseURL = cfg.ServerURL
	tcfg.FailureWindow = cfg.FailureWindow
	tcfg.Timeout = cfg.RequestTimeout

	tlsOpts := tlsutil.Options{
		CAFile:             viper.GetString("tls.ca_file"),
		CertFile:           viper.GetString("tls.cert_file"),
		KeyFile:            viper.GetString("tls.key_file"),
		InsecureSkipVerify: viper.GetBool("tls.insecure_skip_verify"),
	}
	if tlsOpts.Enabled() {
		tcfg.TLS, err = tlsutil.LoadClientTLSConfig(tlsOpts)
		if err != nil {
			return nil, err
		}
	}

	m := metrics.New()
	sess := session.NewMemory(cfg.APIKey, logger)
	guard := transport.NewGuard(tcfg, sess,
		transport.WithLogger(logger),
		transport.WithTracer(tracer),
		transport.WithObserver(m),
	)
	sess.OnLogout(func(string) { guard.Reset() })
	client := api.NewClient(guard, loc, logger)

	ecfg := engine.DefaultConfig()
	ecfg.Cadence = poll.Cadence{
		StatusFast: cfg.StatusFast,
		StatusSlow: cfg.StatusSlow,
		LogFast:    cfg.LogFast,
		LogSlow:    cfg.LogSlow,
	}
	ecfg.LogCapacity = cfg.LogCapacity
	ecfg.ConfirmTimeout = cfg.ConfirmTimeout
	ecfg.ConfirmInterval = cfg.ConfirmEvery
	ecfg.Facts = logfacts.Config{Location: loc, Freshness: cfg.Freshness}
	ecfg.ETA.LowProgressPercent = cfg.LowProgress
	ecfg.ETA.BaseWeight = cfg.BaseWeight
	ecfg.ETA.Window = cfg.ETAWindow

	eng := engine.New(ecfg, client, sess,
		engine.WithLogger(logger),
		engine.WithMetrics(m),
	)

	return &runtime{
		logger:  logger,
		metrics: m,
		tracer:  tracer,
		session: sess,
		guard:   guard,
		client:  client,
		engine:  eng,
	}, nil
}

func newLogger(cfg settings) (*logging.Logger, error) {
	level := logging.ParseLevel(logLevel)
	jsonFormat := cfg.LogFormat == "json"

	if cfg.LogFile != "" {
		logger, err := logging.NewFileLogger(cfg.LogFile, level, jsonFormat)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return logger, nil
	}
	return logging.NewLogger(level, jsonFormat), nil
}

// close flushes tracing and the log file
func (r *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracer.Shutdown(ctx); err != nil {
		r.logger.Warn("tracer shutdown failed", logging.Fields{"error": err.Error()})
	}
	r.logger.Close()
}
