package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mediaguard/internal/blobstore"
	"mediaguard/internal/consensus"
	consensusmetrics "mediaguard/internal/consensus/metrics"
	"mediaguard/internal/evidence"
	"mediaguard/internal/ledger"
	"mediaguard/internal/monitor"
	monitormetrics "mediaguard/internal/monitor/metrics"
	"mediaguard/internal/oracle"
	"mediaguard/internal/platform/config"
	"mediaguard/internal/platform/grpcserver"
	"mediaguard/internal/platform/kafka"
	"mediaguard/internal/platform/postgres"
	"mediaguard/internal/platform/redis"
	"mediaguard/internal/platform/workqueue"
	"mediaguard/internal/proof"
	proofmetrics "mediaguard/internal/proof/metrics"
	registrymetrics "mediaguard/internal/registry/metrics"
	registryservice "mediaguard/internal/registry/service"
	registrystore "mediaguard/internal/registry/store"
	takedownmetrics "mediaguard/internal/takedown/metrics"
	"mediaguard/internal/takedown/platforms"
	"mediaguard/internal/takedown/platforms/twitter"
	"mediaguard/internal/takedown/platforms/webform"
	"mediaguard/internal/takedown/platforms/youtube"
	takedownservice "mediaguard/internal/takedown/service"
	takedownstore "mediaguard/internal/takedown/store"
	"mediaguard/pkg/platform/audit/publisher"
	"mediaguard/pkg/platform/audit/publishers/compliance"
	auditmemory "mediaguard/pkg/platform/audit/store/memory"
)

// app holds every long-lived component of the process.
type app struct {
	registry  *registryservice.Service
	validator *consensus.Validator
	takedowns *takedownservice.Service
	monitor   *monitor.Monitor
	queue     *workqueue.Queue
	ingestor  *consensus.Ingestor
	health    *grpcserver.Server

	checks  map[string]grpcserver.Check
	closers []func()
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// ready runs every dependency check; it backs /healthz.
func (a *app) ready(ctx context.Context) error {
	var errs []error
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (a *app) addCheck(name string, check grpcserver.Check) {
	a.checks[name] = check
	a.health.AddCheck(name, check)
}

func build(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{
		checks: make(map[string]grpcserver.Check),
		health: grpcserver.New(grpcserver.WithLogger(log)),
	}
	if err := a.wire(ctx, cfg, log); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	pool, err := a.openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if rc != nil {
		a.onClose(func() { _ = rc.Close() })
		a.addCheck("redis", rc.Health)
	}
	blobs, err := a.openBlobs(cfg)
	if err != nil {
		return err
	}
	eventLog, err := a.openLedger(ctx, cfg, log)
	if err != nil {
		return err
	}

	auditStore := auditmemory.NewInMemoryStore()
	complianceAudit := compliance.New(auditStore, compliance.WithLogger(log))
	securityAudit := publisher.NewPublisher(auditStore, publisher.WithAsyncBuffer(256), publisher.WithLogger(log))
	a.onClose(func() { _ = securityAudit.Close() })

	var revocations proof.RevocationList = proof.NewMemoryRevocationList()
	if rc != nil {
		revocations = proof.NewRedisRevocationList(rc.Client)
	}
	engine := proof.NewEngine(
		proof.WithRevocationList(revocations),
		proof.WithMetrics(proofmetrics.New()),
		proof.WithLogger(log),
	)

	var contentStore registryservice.Store = registrystore.NewInMemory()
	var requestStore takedownservice.Store = takedownstore.NewInMemory()
	if pool != nil {
		rs := registrystore.NewPostgres(pool)
		if err := rs.Migrate(ctx, log); err != nil {
			return fmt.Errorf("migrate registry: %w", err)
		}
		ts := takedownstore.NewPostgres(pool)
		if err := ts.Migrate(ctx, log); err != nil {
			return fmt.Errorf("migrate takedowns: %w", err)
		}
		contentStore, requestStore = rs, ts
	}

	a.registry = registryservice.New(contentStore, engine,
		registryservice.WithBlobStore(blobs),
		registryservice.WithLedger(eventLog),
		registryservice.WithComplianceAuditor(complianceAudit),
		registryservice.WithMetrics(registrymetrics.New()),
		registryservice.WithLogger(log),
	)

	peers := consensus.NewStaticDirectory()
	for _, v := range cfg.Validators {
		if err := peers.AddBase64(v.ID, v.PublicKey); err != nil {
			return err
		}
	}
	validatorOpts := []consensus.Option{
		consensus.WithLedger(eventLog),
		consensus.WithMetrics(consensusmetrics.New()),
		consensus.WithLogger(log),
	}
	if rc != nil {
		validatorOpts = append(validatorOpts, consensus.WithDeduplicator(consensus.NewRedisDeduplicator(rc.Client, 2*cfg.Consensus.SessionWindow)))
	}
	if cfg.Oracle.URL != "" {
		validatorOpts = append(validatorOpts, consensus.WithOracle(oracle.NewHTTPClient(cfg.Oracle.URL, cfg.Oracle.Timeout)))
	}
	a.validator = consensus.NewValidator(consensus.Config{
		Quorum:            cfg.Consensus.Quorum,
		SessionWindow:     cfg.Consensus.SessionWindow,
		DeepfakeThreshold: cfg.Consensus.DeepfakeThreshold,
	}, a.registry, peers, validatorOpts...)

	directory, err := buildPlatforms(cfg.Platforms, cfg.Takedown.CallTimeout)
	if err != nil {
		return err
	}
	key, err := sealingKey(cfg, log)
	if err != nil {
		return err
	}
	a.takedowns = takedownservice.New(takedownservice.Config{
		Fanout:      cfg.Takedown.Fanout,
		CallTimeout: cfg.Takedown.CallTimeout,
	}, requestStore, a.registry, engine, directory,
		takedownservice.WithLedger(eventLog),
		takedownservice.WithComplianceAuditor(complianceAudit),
		takedownservice.WithEvidenceBuilder(evidence.NewBuilder(blobs, key, evidence.WithLogger(log))),
		takedownservice.WithMetrics(takedownmetrics.New()),
		takedownservice.WithLogger(log),
	)

	a.queue = workqueue.New(cfg.Queue.Capacity, cfg.Queue.Workers,
		workqueue.WithLogger(log),
		workqueue.WithMetrics(workqueue.NewMetrics("scan")),
	)
	if cfg.Monitor.Enabled {
		a.monitor = monitor.New(a.registry, a.validator, directory, a.queue,
			monitor.WithSecurityAuditor(securityAudit),
			monitor.WithInterval(cfg.Monitor.ScanInterval),
			monitor.WithMetrics(monitormetrics.New()),
			monitor.WithLogger(log),
		)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err := kafka.NewClient(kafka.Config{
			Brokers:       cfg.Kafka.Brokers,
			ClientID:      cfg.Kafka.ClientID + "-intake",
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
			ConsumeTopics: []string{cfg.Kafka.IntakeTopic},
		})
		if err != nil {
			return fmt.Errorf("kafka intake client: %w", err)
		}
		a.onClose(consumer.Close)
		a.ingestor = consensus.NewIngestor(consumer, a.validator, log)
	}
	return nil
}

func (a *app) openPostgres(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.Postgres.DSN == "" {
		return nil, nil
	}
	pool, err := postgres.Connect(ctx, postgres.Config{DSN: cfg.Postgres.DSN, MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.onClose(pool.Close)
	a.addCheck("postgres", pool.Ping)
	return pool, nil
}

type blobStore interface {
	Put(ctx context.Context, key string, blob []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

func (a *app) openBlobs(cfg config.Config) (blobStore, error) {
	if cfg.LevelDB.Path == "" {
		return blobstore.NewMemory(), nil
	}
	db, err := blobstore.OpenLevelDB(cfg.LevelDB.Path)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	a.onClose(func() { _ = db.Close() })
	return db, nil
}

func (a *app) openLedger(ctx context.Context, cfg config.Config, log *slog.Logger) (ledger.Ledger, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		log.WarnContext(ctx, "no kafka brokers configured, using in-memory ledger")
		return ledger.NewMemoryLedger(), nil
	}
	producer, err := kafka.NewClient(kafka.Config{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
	})
	if err != nil {
		return nil, fmt.Errorf("kafka ledger client: %w", err)
	}
	a.onClose(producer.Close)
	if err := kafka.EnsureTopics(ctx, producer, cfg.Kafka.Partitions, cfg.Kafka.LedgerTopic, cfg.Kafka.IntakeTopic); err != nil {
		return nil, err
	}
	a.addCheck("kafka", func(ctx context.Context) error { return kafka.Health(ctx, producer) })
	return ledger.NewKafkaLedger(producer, cfg.Kafka.LedgerTopic), nil
}

func buildPlatforms(configured []config.Platform, defaultTimeout time.Duration) (*platforms.Registry, error) {
	directory := platforms.NewRegistry()
	for _, p := range configured {
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		var adapter platforms.Platform
		switch p.Kind {
		case "twitter":
			adapter = twitter.New(p.ID, p.BaseURL, p.Token, timeout)
		case "youtube":
			adapter = youtube.New(p.ID, p.BaseURL, p.Token, timeout)
		default:
			adapter = webform.New(p.ID, p.BaseURL, p.Token, timeout, webform.Endpoints{})
		}
		if err := directory.Register(adapter); err != nil {
			return nil, fmt.Errorf("platform %s: %w", p.ID, err)
		}
	}
	return directory, nil
}

// sealingKey parses the evidence key. Outside production a missing key is
// replaced by a random one, so sealed backups do not survive a restart.
func sealingKey(cfg config.Config, log *slog.Logger) ([evidence.KeySize]byte, error) {
	if cfg.Evidence.SealingKey != "" {
		return evidence.ParseKey(cfg.Evidence.SealingKey)
	}
	var key [evidence.KeySize]byte
	if cfg.Server.IsProduction() {
		return key, errors.New("evidence.sealing_key is required in production")
	}
	if _, err := rand.Read(key[:]); err != nil {
		return key, err
	}
	log.Warn("no evidence sealing key configured, using an ephemeral key")
	return key, nil
}
