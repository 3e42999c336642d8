package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"topicbus/src/broker"
	"topicbus/src/config"
	"topicbus/src/logger"
	"topicbus/src/metrics"
	"topicbus/src/store"
)

// runtime holds what every subcommand shares: the bus, its metrics and the
// optional metrics endpoint.
type runtime struct {
	cfg     *config.Config
	log     logger.Logger
	metrics *metrics.BusMetrics
	bus     *broker.Bus
	source  string

	local         *broker.InMemoryBroker
	metricsServer *http.Server
}

func newRuntime(cfg *config.Config, local bool, log logger.Logger) *runtime {
	rt := &runtime{cfg: cfg, log: log, metrics: metrics.Discard()}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		rt.metrics = metrics.New(reg)
		rt.startMetricsServer(reg)
	}

	var dialer broker.Dialer
	if local {
		rt.local = broker.NewInMemoryBroker()
		rt.source = "local"
		dialer = rt.local
	} else {
		brokers := cfg.Brokers()
		rt.source = brokers[0]
		dialer = broker.NewKafkaDialer(brokers, log)
	}

	rt.bus = broker.NewBus(dialer, broker.BusConfig{
		Retry:   cfg.RetryPolicy(),
		Topics:  cfg.TopicPolicy(),
		Logger:  log,
		Metrics: rt.metrics,
	})
	return rt
}

func (rt *runtime) startMetricsServer(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	rt.metricsServer = &http.Server{
		Addr:              rt.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		rt.log.Info("Metrics listening on %s/metrics", rt.cfg.MetricsAddr)
		if err := rt.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.log.Error("Metrics server failed: %v", err)
		}
	}()
}

// openJournal returns the Postgres journal when POSTGRES_DSN is set and an
// in-memory one otherwise.
func (rt *runtime) openJournal(ctx context.Context) (store.Journal, error) {
	if rt.cfg.PostgresDSN == "" {
		return store.NewMemoryJournal(1000), nil
	}
	j, err := store.NewPostgresJournal(ctx, rt.cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	rt.log.Info("Journaling deliveries to Postgres")
	return j, nil
}

// Close stops the metrics endpoint and the in-process broker. Publishers and
// subscribers are shut down by the commands that created them.
func (rt *runtime) Close() {
	if rt.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = rt.metricsServer.Shutdown(ctx)
	}
	if rt.local != nil {
		_ = rt.local.Close()
	}
}

// consoleLogger is the logger for commands that print data on stdout.
func consoleLogger(cfg *config.Config) logger.Logger {
	return logger.NewStderrLogger(cfg.Level())
}
