package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"fieldops/internal/compliance/events"
	"fieldops/internal/compliance/invoker"
	compliancemetrics "fieldops/internal/compliance/metrics"
	"fieldops/internal/compliance/pipeline"
	"fieldops/internal/compliance/ports"
	"fieldops/internal/compliance/recorder"
	"fieldops/internal/compliance/service"
	"fieldops/internal/compliance/store/memory"
	pgstore "fieldops/internal/compliance/store/postgres"
	"fieldops/internal/compliance/workflow"
	jwttoken "fieldops/internal/jwt_token"
	"fieldops/internal/platform/config"
	"fieldops/internal/platform/kafka"
	"fieldops/internal/platform/kafka/consumer"
	"fieldops/internal/platform/kafka/producer"
	"fieldops/internal/platform/middleware"
	"fieldops/internal/platform/postgres"
	"fieldops/internal/platform/redis"
	rlmetrics "fieldops/internal/ratelimit/metrics"
	rlmiddleware "fieldops/internal/ratelimit/middleware"
	rlmodels "fieldops/internal/ratelimit/models"
	rlservice "fieldops/internal/ratelimit/service"
	"fieldops/internal/ratelimit/store/window"
	"fieldops/internal/realtime"
	"fieldops/pkg/platform/httputil"
)

// complianceStore is everything the pipeline needs from one storage backend.
type complianceStore interface {
	ports.JobStore
	ports.MembershipStore
	ports.AuditStore
	ports.EventStore
	ports.OutboxStore
	ports.IdempotencyStore
	ports.RunLocker
}

type worker struct {
	name string
	run  func(ctx context.Context) error
}

type pinger struct {
	name string
	ping func(ctx context.Context) error
}

type app struct {
	service     *service.Service
	hub         *realtime.Hub
	requireAuth func(http.Handler) http.Handler
	auditLimit  func(http.Handler) http.Handler
	workers     []worker
	pingers     []pinger
	closers     []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for _, p := range a.pingers {
		if err := p.ping(ctx); err != nil {
			status[p.name] = "unavailable"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[p.name] = "ok"
	}
	httputil.WriteJSON(w, code, status)
}

func buildApp(ctx context.Context, cfg config.Config, log *slog.Logger) (*app, error) {
	a := &app{}
	cm := compliancemetrics.New()
	a.hub = realtime.NewHub(realtime.WithHubMetrics(cm))

	var (
		store complianceStore
		tx    ports.TxRunner
	)
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		a.pingers = append(a.pingers, pinger{name: "postgres", ping: db.PingContext})
		store = pgstore.New(db)
		tx = postgres.NewTxRunner(db, cfg.Database.TxTimeout)
		a.workers = append(a.workers, worker{
			name: "realtime-listener",
			run:  realtime.NewListener(cfg.Database.URL, a.hub, log).Run,
		})
	} else {
		log.WarnContext(ctx, "DATABASE_URL not set, using in-memory compliance store")
		mem := memory.New(memory.WithInsertHook(a.hub.PublishAudit))
		store, tx = mem, mem
	}

	if err := a.wireRateLimit(ctx, cfg, log, rlmetrics.New()); err != nil {
		a.Close()
		return nil, err
	}

	signingKey := cfg.Auth.JWTSigningKey
	if signingKey == "" {
		log.WarnContext(ctx, "JWT_SIGNING_KEY not set, using development signing key")
		signingKey = config.DevSigningKey
	}
	a.requireAuth = middleware.RequireAuth(jwttoken.NewVerifier(signingKey, cfg.Auth.Audience), log)

	policy, err := invoker.LoadPolicy(cfg.Reasoning.PolicyFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Reasoning.Model != "" {
		policy.Model = cfg.Reasoning.Model
	}
	if cfg.Reasoning.APIKey == "" {
		log.WarnContext(ctx, "OPENAI_API_KEY not set, reasoning calls will fail upstream")
	}
	evaluator, err := invoker.New(
		invoker.NewOpenAIClient(cfg.Reasoning.APIKey, cfg.Reasoning.BaseURL, &http.Client{}),
		policy,
		invoker.WithLogger(log),
		invoker.WithMetrics(cm),
		invoker.WithTimeout(cfg.Reasoning.Timeout),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build reasoning invoker: %w", err)
	}

	var (
		emitterOpts    = []events.EmitterOption{events.WithEmitterLogger(log)}
		consumerClient *kgo.Client
	)
	if cfg.Kafka.Enabled() {
		producerClient, err := kafka.NewClient(ctx, cfg.Kafka)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, producerClient.Close)
		a.pingers = append(a.pingers, pinger{name: "kafka", ping: producerClient.Ping})
		if err := kafka.EnsureTopics(ctx, producerClient, cfg.Kafka.Partitions, cfg.Kafka.Replication,
			cfg.Kafka.RequestedTopic, cfg.Kafka.CompletedTopic); err != nil {
			a.Close()
			return nil, err
		}

		relay := events.NewRelay(tx, store, producer.New(producerClient),
			events.WithRelayLogger(log),
			events.WithRelayMetrics(cm),
			events.WithPollInterval(cfg.Outbox.PollInterval),
			events.WithBatchSize(cfg.Outbox.BatchSize),
			events.WithMaxAttempts(cfg.Outbox.MaxAttempts),
		)
		emitterOpts = append(emitterOpts, events.WithNudger(relay))
		a.workers = append(a.workers, worker{name: "outbox-relay", run: relay.Run})

		consumerClient, err = kafka.NewClient(ctx, cfg.Kafka,
			consumer.GroupOptions(cfg.Kafka.ConsumerGroup, cfg.Kafka.RequestedTopic)...)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, consumerClient.Close)
	} else {
		log.WarnContext(ctx, "KAFKA_BROKERS not set, completion signals stay in the outbox and workflow requests are not consumed")
	}

	emitter := events.NewEmitter(tx, store, cfg.Kafka.CompletedTopic, emitterOpts...)
	runner := pipeline.New(evaluator, recorder.New(store, log), emitter,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(cm),
	)
	a.service = service.New(store, store, store, runner,
		service.WithLogger(log),
		service.WithMetrics(cm),
		service.WithIdempotency(store),
	)

	if consumerClient != nil {
		orchestrator := workflow.New(store, store, runner,
			workflow.WithLogger(log),
			workflow.WithMetrics(cm),
			workflow.WithRunLocker(store),
		)
		router := consumer.NewRouter(log, nil)
		router.Register(cfg.Kafka.RequestedTopic, workflow.NewDeliveryHandler(orchestrator, log))
		c := consumer.New(consumerClient, router, log,
			consumer.WithMaxAttempts(cfg.Workflow.MaxAttempts),
			consumer.WithBackoff(cfg.Workflow.RetryBackoff),
		)
		a.workers = append(a.workers, worker{name: "workflow-consumer", run: c.Run})
	}

	return a, nil
}

// wireRateLimit builds the per-user audit quota. Outside production an absent
// or unreachable counter store leaves the limiter without a counter, so every
// request is allowed with a warning.
func (a *app) wireRateLimit(ctx context.Context, cfg config.Config, log *slog.Logger, m *rlmetrics.Metrics) error {
	var counter rlservice.Counter
	rc, err := redis.New(ctx, cfg.Redis)
	switch {
	case err != nil && cfg.Production:
		return fmt.Errorf("connect redis: %w", err)
	case err != nil:
		log.WarnContext(ctx, "redis unavailable, audit rate limit fails open", "error", err)
	case rc == nil && !cfg.Production:
		log.WarnContext(ctx, "REDIS_URL not set, audit rate limit fails open")
	case rc == nil:
		return errors.New("REDIS_URL is required in production")
	default:
		a.closers = append(a.closers, func() { _ = rc.Close() })
		a.pingers = append(a.pingers, pinger{name: "redis", ping: rc.Health})
		counter = window.NewRedisCounter(rc.Client)
	}

	limiter := rlservice.New(counter,
		rlservice.WithLogger(log),
		rlservice.WithMetrics(m),
		rlservice.WithProduction(cfg.Production),
	)
	policy := rlmodels.Policy{Limit: cfg.RateLimit.AuditLimit, Window: cfg.RateLimit.AuditWindow}
	a.auditLimit = rlmiddleware.New(limiter, log).RateLimitUser(rlmodels.ScopeAudit, policy)
	return nil
}
