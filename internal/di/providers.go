package di

import (
	"context"
	"fmt"
	"time"

	"CandleSync/internal/domain/repository"
	"CandleSync/internal/handler/api"
	internalrepo "CandleSync/internal/repository"
	"CandleSync/internal/service/binance"
	"CandleSync/internal/service/indicator"
	"CandleSync/internal/service/serial"
	"CandleSync/internal/usecase"
	"CandleSync/pkg/cache"
	pkgch "CandleSync/pkg/clickhouse"
	"CandleSync/pkg/config"
	xhttp "CandleSync/pkg/http"
	pkgkafka "CandleSync/pkg/kafka"
	applogger "CandleSync/pkg/logger"
	"CandleSync/pkg/metrics"
	"CandleSync/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideClickHouseClient creates a ClickHouse client and initializes the
// schema. The connection pool is pinned to a single connection so that
// query execution order matches submission order at the gate.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithSingleConnection(),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, internalrepo.Schema(cfg.ClickHouse.Database, cfg.ClickHouse.RetentionDays)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideCandleStore creates the ClickHouse store wrapped in the serial
// access gate.
func ProvideCandleStore(chClient *pkgch.Client, cfg *config.Config, l *applogger.Logger) repository.CandleStore {
	inner := internalrepo.NewCHCandleStore(chClient, cfg.ClickHouse.Database, l)
	return internalrepo.NewGatedStore(inner, serial.New())
}

// ProvideCache selects Redis when enabled, otherwise an in-process cache.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(), nil
	}
	c, err := cache.NewRedisCache(
		cache.WithAddr(cfg.Redis.Host, cfg.Redis.Port),
		cache.WithAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return c, nil
}

// ProvidePublisher creates the Kafka event publisher, or nil when Kafka is
// disabled.
func ProvidePublisher(cfg *config.Config) (repository.EventPublisher, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithTimeouts(cfg.Kafka.WriteTimeout, cfg.Kafka.ReadTimeout),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic), nil
}

// ProvideSource creates the Binance REST candle source.
func ProvideSource(cfg *config.Config, l *applogger.Logger) repository.Source {
	return binance.New(cfg.Source.Name, l,
		binance.WithBaseURL(cfg.Source.BaseURL),
		binance.WithRateLimit(cfg.Source.RateLimit, cfg.Source.Burst),
		binance.WithTimeout(cfg.Source.Timeout),
	)
}

// ProvideIndicators builds the configured indicator instances.
func ProvideIndicators(cfg *config.Config) ([]*indicator.Indicator, error) {
	out := make([]*indicator.Indicator, 0, len(cfg.Indicators.List))
	for _, spec := range cfg.Indicators.List {
		in, err := indicator.New(spec.Name, indicator.Kind(spec.Kind), indicator.Params{
			Period:  spec.Params.Period,
			Fast:    spec.Params.Fast,
			Slow:    spec.Params.Slow,
			Signal:  spec.Params.Signal,
			KPeriod: spec.Params.KPeriod,
			KSlow:   spec.Params.KSlow,
			DPeriod: spec.Params.DPeriod,
		})
		if err != nil {
			return nil, fmt.Errorf("indicator %s: %w", spec.Name, err)
		}
		out = append(out, in)
	}
	return out, nil
}

// ProvideSyncScheduler creates the candle sync scheduler.
func ProvideSyncScheduler(
	store repository.CandleStore,
	source repository.Source,
	publisher repository.EventPublisher,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.SyncScheduler {
	targets := make([]repository.Timeframe, 0, len(cfg.Sync.Targets))
	for _, tf := range cfg.Sync.Targets {
		targets = append(targets, repository.Timeframe(tf))
	}
	return usecase.NewSyncScheduler(store, source, publisher, m, l, usecase.SyncConfig{
		Source:        cfg.Source.Name,
		Instruments:   cfg.Sync.Instruments,
		BaseTimeframe: repository.Timeframe(cfg.Sync.BaseTimeframe),
		Targets:       targets,
		Interval:      cfg.Sync.Interval,
		BackfillCount: cfg.Sync.BackfillCount,
		RefreshCount:  cfg.Sync.RefreshCount,
		RetryMax:      cfg.Sync.RetryMax,
		RetryBackoff:  cfg.Sync.RetryBackoff,
	})
}

// ProvideIndicatorScheduler creates the indicator scheduler.
func ProvideIndicatorScheduler(
	store repository.CandleStore,
	cacheStore cache.Service,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
	indicators []*indicator.Indicator,
) *usecase.IndicatorScheduler {
	timeframes := make([]repository.Timeframe, 0, len(cfg.Indicators.Timeframes))
	for _, tf := range cfg.Indicators.Timeframes {
		timeframes = append(timeframes, repository.Timeframe(tf))
	}
	if len(timeframes) == 0 {
		timeframes = []repository.Timeframe{repository.Timeframe(cfg.Sync.BaseTimeframe)}
	}
	return usecase.NewIndicatorScheduler(store, cacheStore, m, l, usecase.IndicatorConfig{
		Source:       cfg.Source.Name,
		Instruments:  cfg.Sync.Instruments,
		Timeframes:   timeframes,
		Interval:     cfg.Indicators.Interval,
		InitialDelay: cfg.Indicators.InitialDelay,
		Lookback:     cfg.Indicators.Lookback,
		CatchUpLimit: cfg.Indicators.CatchUpLimit,
		CacheTTL:     cfg.Indicators.CacheTTL,
	}, indicators)
}

// ProvideTickCollector creates the live tick collector, or nil when
// streaming is disabled.
func ProvideTickCollector(
	store repository.CandleStore,
	m repository.Metrics,
	l *applogger.Logger,
	cfg *config.Config,
) *usecase.TickCollector {
	if !cfg.Stream.Enabled {
		return nil
	}
	stream := binance.NewStream(cfg.Stream.URL, cfg.Sync.Instruments,
		cfg.Stream.ReconnectDelay, cfg.Stream.PingInterval, l)
	return usecase.NewTickCollector(stream, store, m, l, usecase.TickCollectorConfig{
		Source:        cfg.Source.Name,
		FlushInterval: cfg.Stream.FlushInterval,
	})
}

// ProvideHTTPHandler creates the read-side API handler.
func ProvideHTTPHandler(
	l *applogger.Logger,
	store repository.CandleStore,
	cacheStore cache.Service,
	cfg *config.Config,
) xhttp.Handler {
	return api.NewCandlesEchoHandler(l, store, cacheStore, cfg.Source.Name)
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	syncSched *usecase.SyncScheduler,
	indSched *usecase.IndicatorScheduler,
	collector *usecase.TickCollector,
	store repository.CandleStore,
	cacheStore cache.Service,
	publisher repository.EventPublisher,
	chClient *pkgch.Client,
	httpHandler xhttp.Handler,
) *server.App {
	return server.New(cfg, l, syncSched, indSched, collector, store, cacheStore, publisher, chClient, httpHandler)
}
