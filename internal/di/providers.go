package di

import (
	"context"
	"fmt"
	"time"

	"GammaScalp/internal/domain/models"
	domrepo "GammaScalp/internal/domain/repository"
	domsvc "GammaScalp/internal/domain/service"
	"GammaScalp/internal/handler/api"
	internalrepo "GammaScalp/internal/repository"
	"GammaScalp/internal/service/broker"
	icache "GammaScalp/internal/service/cache"
	"GammaScalp/internal/service/eventbus"
	"GammaScalp/internal/service/finnhub"
	"GammaScalp/internal/services/bias"
	"GammaScalp/internal/services/lifecycle"
	"GammaScalp/internal/services/pattern"
	"GammaScalp/internal/services/risk"
	"GammaScalp/internal/services/signal"
	"GammaScalp/internal/services/zone"
	"GammaScalp/internal/usecase"
	"GammaScalp/pkg/cache"
	pkgch "GammaScalp/pkg/clickhouse"
	"GammaScalp/pkg/config"
	xhttp "GammaScalp/pkg/http"
	pkgkafka "GammaScalp/pkg/kafka"
	"GammaScalp/pkg/logger"
	pkgmetrics "GammaScalp/pkg/metrics"
	"GammaScalp/pkg/queue"
	"GammaScalp/pkg/server"
	"GammaScalp/pkg/util"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// ProvideLogger creates the root logger. With a kafka producer and
// collection enabled, repeated errors are aggregated onto the logs topic.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*logger.Logger, error) {
	lgr, err := logger.New(&logger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, err
	}
	if c := cfg.Logger.Collect; c.Enabled && producer != nil {
		lgr.AddCollector(&logger.CollectionConfig{
			TimeInterval:   c.Interval,
			CountThreshold: c.Threshold,
			Topic:          c.Topic,
			Publisher:      producer,
		})
	}
	return lgr, nil
}

// ProvideRegistry creates the registry served at /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) domrepo.Metrics {
	return pkgmetrics.New(reg)
}

// ProvideStore opens redis, or the degraded in-memory store.
func ProvideStore(cfg *config.Config, lgr *logger.Logger) (*cache.Store, error) {
	r := cfg.Store.Redis
	return cache.Open(lgr,
		cache.WithStoreMode(cfg.Store.Mode),
		cache.WithStoreRedis(
			cache.WithRedisHost(r.Host),
			cache.WithRedisPort(r.Port),
			cache.WithRedisPassword(r.Password),
			cache.WithRedisDB(r.DB),
			cache.WithRedisPool(r.PoolSize, r.MinIdleConns, r.PoolTimeout),
			cache.WithRedisDialTimeout(r.DialTimeout),
			cache.WithRedisPrefix(r.Prefix),
		),
		cache.WithStoreMemory(
			cache.WithMemoryMaxSize(cfg.Store.Memory.MaxSize),
			cache.WithMemoryCleanup(cfg.Store.Memory.Cleanup),
		),
	)
}

func ProvideSession(cfg *config.Config) (*util.Session, error) {
	return util.NewSession(cfg.Session.Zone, cfg.Session.Open, cfg.Session.Close)
}

// ProvideKafkaProducer creates the event stream producer, nil when kafka
// is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	k := cfg.Kafka
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(k.Brokers),
		pkgkafka.WithCompression(k.Compression),
		pkgkafka.WithRequiredAcks(k.RequiredAcks),
		pkgkafka.WithBatching(k.Producer.BatchSize, k.Producer.BatchBytes, k.Producer.Linger),
		pkgkafka.WithTimeouts(k.Producer.WriteTimeout, k.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(k.Producer.MaxAttempts),
		pkgkafka.WithAsync(k.Producer.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithAutoCreateTopic(k.Producer.AutoCreate),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideClickHouseClient connects and applies the journal schema, nil when
// clickhouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	ch := cfg.ClickHouse
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddress(ch.Host, ch.Port),
		pkgch.WithDatabase(ch.Database),
		pkgch.WithCredentials(ch.User, ch.Password),
		pkgch.WithMaxConnections(ch.MaxOpenConns, ch.MaxIdleConns),
		pkgch.WithHTTP(ch.UseHTTP),
		pkgch.WithAsyncInsert(ch.AsyncInsert, ch.WaitForAsync),
		pkgch.WithTimeouts(ch.DialTimeout, ch.ReadTimeout),
		pkgch.WithMaxExecutionTime(ch.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.JournalSchema(ch.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideJournal wraps the clickhouse pool, nil without clickhouse.
func ProvideJournal(client *pkgch.Client, lgr *logger.Logger) *internalrepo.ClickHouseJournal {
	if client == nil {
		return nil
	}
	return internalrepo.NewClickHouseJournal(client.DB(), client.Database(), lgr)
}

// ProvideEventLog keeps each day's events in the store.
func ProvideEventLog(store *cache.Store, sess *util.Session) *internalrepo.KVEventLog {
	return internalrepo.NewKVEventLog(store, sess.Date)
}

// ProvideEventBus subscribes the sinks in order: the store log inline, the
// kafka stream and the journal on their own queues.
func ProvideEventBus(
	lgr *logger.Logger,
	eventLog *internalrepo.KVEventLog,
	producer *pkgkafka.Producer,
	journal *internalrepo.ClickHouseJournal,
	cfg *config.Config,
) *eventbus.Bus {
	bus := eventbus.New(lgr)
	bus.Subscribe("event_log", eventLog.Handle)
	if producer != nil {
		pub := internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.EventsTopic)
		bus.SubscribeAsync("kafka", 1024, pub.Handle)
	}
	if journal != nil {
		bus.SubscribeAsync("journal", 512, journal.Handle,
			models.EventSignal, models.EventSignalRejected, models.EventTradeClosed)
	}
	return bus
}

func ProvideEventPublisher(bus *eventbus.Bus) domrepo.EventPublisher { return bus }

func ProvideTradeRepository(store *cache.Store) domrepo.TradeRepository {
	return internalrepo.NewKVTradeRepository(store)
}

func ProvideDailyRepository(store *cache.Store) domrepo.DailyStateRepository {
	return internalrepo.NewKVDailyRepository(store)
}

func ProvidePatternRepository(store *cache.Store) domrepo.PatternRepository {
	return internalrepo.NewKVPatternRepository(store)
}

func ProvideLevelsRepository(store *cache.Store) domrepo.LevelsRepository {
	return internalrepo.NewKVLevelsRepository(store)
}

func ProvideBiasRepository(store *cache.Store) domrepo.BiasRepository {
	return internalrepo.NewKVBiasRepository(store)
}

func ProvideSnapshots() *icache.Snapshots { return icache.NewSnapshots() }

func ProvideZones(cfg *config.Config) *zone.Engine {
	return zone.New(zone.WithWidth(cfg.Zone.Width), zone.WithZeroGammaMultiplier(cfg.Zone.ZeroGammaMultiplier))
}

func ProvidePatterns(cfg *config.Config) *pattern.Engine {
	p := cfg.Pattern
	return pattern.New(pattern.WithMinGap(p.MinGapPct), pattern.WithCapacity(p.Capacity), pattern.WithMaxAge(p.MaxAge))
}

func ProvideSignals(cfg *config.Config, zones *zone.Engine) *signal.Engine {
	s := cfg.Signal
	return signal.New(zones,
		signal.WithMinBody(s.MinBodyPct),
		signal.WithIFVGTolerance(s.IFVGTolerance),
		signal.WithStopBuffer(s.StopBuffer),
		signal.WithMaxStop(cfg.Risk.MaxStopPct),
		signal.WithTP1(s.TP1Pct),
		signal.WithSweepExpiry(s.SweepExpiry),
		signal.WithCooldown(s.Cooldown),
	)
}

// ProvideRiskGate creates the daily budget gate.
func ProvideRiskGate(cfg *config.Config, repo domrepo.DailyStateRepository, sess *util.Session, lgr *logger.Logger) *risk.Gate {
	r := cfg.Risk
	return risk.New(repo, lgr, sess.Date,
		risk.WithEquity(r.Equity),
		risk.WithMaxTrades(r.MaxTradesPerDay),
		risk.WithMaxConsecutiveLosses(r.MaxConsecutiveLosses),
		risk.WithMaxDailyLoss(r.MaxDailyLossPct),
		risk.WithPerTradeRisk(r.PerTradeRiskPct),
		risk.WithMaxAccountFraction(r.MaxAccountFraction),
		risk.WithMaxStop(r.MaxStopPct),
	)
}

// ProvideBroker creates the order gateway for live mode. Paper mode fills
// at the reference price and needs none.
func ProvideBroker(cfg *config.Config, lgr *logger.Logger) (domsvc.Broker, error) {
	if cfg.Trading.Mode != lifecycle.ModeLive {
		return nil, nil
	}
	b := cfg.Broker
	hb, err := broker.New(b.BaseURL, b.APIKey, lgr,
		broker.WithTimeout(b.Timeout),
		broker.WithAttempts(b.Attempts),
		broker.WithOrderRate(b.OrdersPerSec, b.OrderBurst),
	)
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}
	return hb, nil
}

// ProvideTradeManager creates the trade lifecycle manager.
func ProvideTradeManager(
	cfg *config.Config,
	gate *risk.Gate,
	trades domrepo.TradeRepository,
	brk domsvc.Broker,
	events domrepo.EventPublisher,
	metrics domrepo.Metrics,
	sess *util.Session,
	lgr *logger.Logger,
) (*lifecycle.Manager, error) {
	x := cfg.Exits
	return lifecycle.New(gate, trades, brk, events, metrics, lgr,
		lifecycle.WithMode(cfg.Trading.Mode),
		lifecycle.WithPartialFraction(x.PartialFraction),
		lifecycle.WithTimeStop(x.TimeStop, x.TimeStopMinGain),
		lifecycle.WithQuickExit(x.QuickExit, x.QuickExitLoss),
		lifecycle.WithBrokerTimeout(cfg.Broker.Timeout),
		lifecycle.WithLocation(sess.Loc),
	)
}

func ProvideLevelsBook(repo domrepo.LevelsRepository, snaps *icache.Snapshots, zones *zone.Engine, events domrepo.EventPublisher, lgr *logger.Logger) *usecase.LevelsBook {
	return usecase.NewLevelsBook(repo, snaps, zones, events, lgr)
}

// ProvideBiasEngine creates the daily bias engine over the sentiment service.
func ProvideBiasEngine(cfg *config.Config, repo domrepo.BiasRepository, snaps *icache.Snapshots, lgr *logger.Logger) *bias.Engine {
	s := cfg.Sentiment
	scorer := bias.NewHTTPScorer(s.BaseURL, s.Timeout, s.Attempts)
	return bias.New(scorer, repo, snaps, lgr, bias.WithTimeout(s.Timeout*time.Duration(s.Attempts)+time.Second))
}

// ProvideEngine creates the candle engine. Candle history and warm-up need
// clickhouse; the instance lock lives in the store.
func ProvideEngine(
	cfg *config.Config,
	patterns *pattern.Engine,
	signals *signal.Engine,
	gate *risk.Gate,
	trades *lifecycle.Manager,
	levels *usecase.LevelsBook,
	biasEngine *bias.Engine,
	patRepo domrepo.PatternRepository,
	events domrepo.EventPublisher,
	metrics domrepo.Metrics,
	sess *util.Session,
	store *cache.Store,
	journal *internalrepo.ClickHouseJournal,
	lgr *logger.Logger,
) *usecase.Engine {
	opts := []usecase.EngineOption{
		usecase.WithSymbols(cfg.Trading.Symbols...),
		usecase.WithQueueSize(cfg.Engine.QueueSize),
		usecase.WithTickTimeout(cfg.Engine.TickTimeout),
		usecase.WithSession(sess),
		usecase.WithInstanceLock(internalrepo.NewKVInstanceLock(store), cfg.Engine.LockTTL),
	}
	if journal != nil {
		h := cfg.Feed.History
		rec := usecase.NewCandleRecorder(journal, metrics, lgr, h.BatchSize, h.BatchTimeout)
		opts = append(opts, usecase.WithHistory(journal, rec, h.WarmupBars))
	}
	return usecase.NewEngine(patterns, signals, gate, trades, levels, biasEngine, patRepo, events, metrics, lgr, opts...)
}

func ProvideMonitor(
	cfg *config.Config,
	gate *risk.Gate,
	trades *lifecycle.Manager,
	engine *usecase.Engine,
	events domrepo.EventPublisher,
	metrics domrepo.Metrics,
	lgr *logger.Logger,
) *usecase.EmergencyMonitor {
	m := cfg.Monitor
	return usecase.NewEmergencyMonitor(gate, trades, engine, events, metrics, lgr,
		usecase.WithVIXSpike(m.VIXSpikePct),
		usecase.WithStaleAfter(m.StaleAfter),
		usecase.WithCheckInterval(m.CheckInterval),
	)
}

// Jobs is the collaborator job intake. Redis is nil when jobs run in
// process.
type Jobs struct {
	Service queue.QueueService
	Redis   *queue.RedisQueue
}

// ProvideJobs registers the levels, bias and vix jobs on the redis queue,
// or on the in-process queue when the store is degraded or local is asked.
func ProvideJobs(
	cfg *config.Config,
	store *cache.Store,
	levels *usecase.LevelsBook,
	biasEngine *bias.Engine,
	monitor *usecase.EmergencyMonitor,
	sess *util.Session,
	lgr *logger.Logger,
) Jobs {
	q := cfg.Queue
	jobs := []queue.Job{
		usecase.NewLevelsJob(levels),
		usecase.NewBiasJob(biasEngine, sess.Date),
		usecase.NewVIXJob(monitor),
	}
	rc, ok := store.Service.(*cache.RedisCache)
	if q.Backend != "redis" || !ok {
		if q.Backend == "redis" {
			lgr.Warn("redis queue unavailable on a degraded store, running jobs in process")
		}
		return Jobs{Service: queue.NewLocal(q.JobTimeout, jobs...)}
	}
	rq := queue.NewRedisQueue(lgr, queue.QueueConfig{
		Workers:    q.Workers,
		RetryLimit: q.RetryLimit,
		RetryDelay: q.RetryDelay,
		JobTimeout: q.JobTimeout,
	}, rc.Client(), jobs, queue.WithKeyPrefix(q.KeyPrefix))
	return Jobs{Service: rq, Redis: rq}
}

// Feed is the selected candle source plus its connection state, which is
// nil for the kafka feed.
type Feed struct {
	Source server.Feed
	State  api.FeedState
}

// ProvideFeed builds the finnhub collector or the kafka candle consumer.
func ProvideFeed(cfg *config.Config, engine *usecase.Engine, metrics domrepo.Metrics, reg *prometheus.Registry, lgr *logger.Logger) (Feed, error) {
	switch cfg.Feed.Source {
	case "kafka":
		k := cfg.Kafka
		consumer, err := pkgkafka.NewConsumer(
			pkgkafka.WithConsumerBrokers(k.Brokers),
			pkgkafka.WithConsumerGroupID(k.Consumer.GroupID),
			pkgkafka.WithConsumerStartOffset(k.Consumer.StartOffset),
			pkgkafka.WithConsumerWorkers(k.Consumer.Workers),
			pkgkafka.WithConsumerBufferSize(k.Consumer.BufferSize),
			pkgkafka.WithConsumerRetry(k.Consumer.RetryMax, k.Consumer.BackoffMin, k.Consumer.BackoffMax),
			pkgkafka.WithConsumerDLQ(k.Consumer.DLQTopic),
			pkgkafka.WithConsumerRegisterer(reg),
			pkgkafka.WithConsumerLogger(lgr),
		)
		if err != nil {
			return Feed{}, fmt.Errorf("kafka consumer: %w", err)
		}
		h := usecase.NewKafkaCandlesHandler(k.CandlesTopic, engine, metrics)
		return Feed{Source: server.ConsumerFeed(consumer, h)}, nil
	default:
		f := cfg.Feed.Finnhub
		stream := finnhub.New(f.APIKey, f.WebSocketURL, cfg.Trading.Symbols, f.ReconnectDelay, f.PingInterval, lgr)
		collector := usecase.NewCandleCollector(stream, engine, metrics, lgr, cfg.Feed.Grace)
		return Feed{Source: collector, State: collector}, nil
	}
}

func ProvideStatus(
	store *cache.Store,
	gate *risk.Gate,
	trades *lifecycle.Manager,
	biasEngine *bias.Engine,
	monitor *usecase.EmergencyMonitor,
	levels *usecase.LevelsBook,
	tradeDB domrepo.TradeRepository,
	dailyDB domrepo.DailyStateRepository,
	eventLog *internalrepo.KVEventLog,
	sess *util.Session,
) *usecase.StatusUseCase {
	return usecase.NewStatusUseCase(gate, trades, biasEngine, monitor, levels, tradeDB, dailyDB, eventLog, sess.Date, store.Degraded)
}

func ProvideHandler(lgr *logger.Logger, status *usecase.StatusUseCase, jobs Jobs, feed Feed) *api.EngineEchoHandler {
	opts := []api.HandlerOption{api.WithJobs(jobs.Service)}
	if feed.State != nil {
		opts = append(opts, api.WithFeed(feed.State))
	}
	return api.NewEngineEchoHandler(lgr, status, opts...)
}

func ProvideHTTPServer(cfg *config.Config, h *api.EngineEchoHandler, reg *prometheus.Registry, lgr *logger.Logger) *xhttp.Server {
	s := cfg.Server
	return xhttp.NewServer(h, lgr,
		xhttp.WithHost(s.Host),
		xhttp.WithPort(s.Port),
		xhttp.WithTimeouts(s.ReadTimeout, s.WriteTimeout, s.ShutdownTimeout),
		xhttp.WithCORS(s.CORS),
		xhttp.WithSlowRequest(s.SlowRequest),
		xhttp.WithRegistry(reg),
	)
}

type closeFunc func() error

func (f closeFunc) Close() error { return f() }

// ProvideApp assembles the lifecycle: bias restore before the engine, the
// queue and monitor as workers, then the closers in drain order.
func ProvideApp(
	cfg *config.Config,
	lgr *logger.Logger,
	store *cache.Store,
	engine *usecase.Engine,
	feed Feed,
	jobs Jobs,
	monitor *usecase.EmergencyMonitor,
	biasEngine *bias.Engine,
	sess *util.Session,
	httpServer *xhttp.Server,
	bus *eventbus.Bus,
	producer *pkgkafka.Producer,
	chClient *pkgch.Client,
) *server.App {
	opts := []server.Option{
		server.WithFeed(feed.Source),
		server.WithHTTP(httpServer),
		server.WithShutdownTimeout(cfg.Server.ShutdownTimeout + cfg.Engine.TickTimeout),
		server.WithWarmup(func(ctx context.Context) error {
			_, _, err := biasEngine.Restore(ctx, sess.Date(time.Now()))
			return err
		}),
	}
	if jobs.Redis != nil {
		opts = append(opts, server.WithWorker("queue", jobs.Redis))
	}
	opts = append(opts, server.WithWorker("monitor", monitor))

	// Bus first so async sinks flush before their writers close.
	opts = append(opts, server.WithCloser("event bus", bus))
	if producer != nil {
		if cfg.Logger.Collect.Enabled {
			opts = append(opts, server.WithCloser("log collector", closeFunc(func() error {
				lgr.RemoveCollector()
				return nil
			})))
		}
		opts = append(opts, server.WithCloser("kafka producer", producer))
	}
	if chClient != nil {
		opts = append(opts, server.WithCloser("clickhouse", chClient))
	}
	return server.New(lgr, store, engine, opts...)
}
