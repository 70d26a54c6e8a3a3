package main

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/albapepper/race-alerts/internal/config"
	"github.com/albapepper/race-alerts/internal/db"
	"github.com/albapepper/race-alerts/internal/delay"
	"github.com/albapepper/race-alerts/internal/metrics"
	"github.com/albapepper/race-alerts/internal/notifications"
	"github.com/albapepper/race-alerts/internal/provider/openf1"
	"github.com/albapepper/race-alerts/internal/race"
	"github.com/albapepper/race-alerts/internal/scrape"
)

// backend holds the delayed-execution connections a command opened.
// Exactly one of store or amqpCh is set.
type backend struct {
	pool     *db.Pool
	store    *delay.Store
	amqpConn *amqp.Connection
	amqpCh   *amqp.Channel
	redis    *redis.Client
	starter  notifications.Starter
}

// connectBackend opens the configured delayed-execution backend and builds the
// Starter the scheduler hands decisions to. When REDIS_URL is set the Starter
// is wrapped with the Redis idempotency check.
func connectBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	if err := cfg.RequireDelayBackend(); err != nil {
		return nil, err
	}
	b := &backend{}

	switch cfg.DelayBackend {
	case config.BackendAMQP:
		conn, ch, err := delay.Dial(cfg.AMQPURL)
		if err != nil {
			return nil, err
		}
		b.amqpConn, b.amqpCh = conn, ch
		if err := delay.SetupTopology(ch); err != nil {
			b.Close()
			return nil, err
		}
		b.starter = delay.NewAMQPStarter(ch, logger)
		logger.Info("Delay backend connected", "backend", cfg.DelayBackend, "queue", delay.DueQueue)

	default:
		logger.Info("Connecting to database...")
		pool, err := db.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		b.pool = pool
		b.store = delay.NewStore(pool)
		b.starter = b.store
		logger.Info("Database connected",
			"min_conns", cfg.DBPoolMinConns,
			"max_conns", cfg.DBPoolMaxConns)
	}

	if cfg.RedisURL != "" {
		client, err := delay.NewRedisClient(cfg.RedisURL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.redis = client
		if err := client.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		ttl := cfg.Horizon + cfg.LeadTime + time.Hour
		b.starter = delay.Deduplicated(b.starter, delay.NewRedisStore(client, cfg.RedisKeyPrefix), ttl, logger)
		logger.Info("Idempotency store enabled", "prefix", cfg.RedisKeyPrefix, "ttl", ttl)
	}

	return b, nil
}

// Close releases every connection the backend opened.
func (b *backend) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.amqpCh != nil {
		_ = b.amqpCh.Close()
	}
	if b.amqpConn != nil {
		_ = b.amqpConn.Close()
	}
	if b.pool != nil {
		b.pool.Close()
	}
}

// newSource returns the configured race source. The OpenF1 source is also
// returned on its own for driver-count enrichment; it is nil for scraping.
func newSource(cfg *config.Config) (race.Source, *openf1.Source) {
	if cfg.ScheduleSource == config.SourceOpenF1 {
		client := openf1.NewClient(cfg.OpenF1BaseURL, cfg.OpenF1RequestsPerMinute, logger)
		src := openf1.NewSource(client, cfg.SeasonYear, logger)
		return src, src
	}
	return scrape.New(cfg.F1BaseURL, cfg.SeasonYear, cfg.ScrapeRequestsPerMinute, logger), nil
}

func policyFrom(cfg *config.Config) notifications.Policy {
	return notifications.Policy{
		LeadTime:     cfg.LeadTime,
		Horizon:      cfg.Horizon,
		MaxKeyLength: cfg.MaxKeyLength,
	}
}

// newDispatcher builds the Pushover-backed dispatcher. Missing credentials are
// not an error here; every dispatch then fails with ErrConfiguration.
func newDispatcher(cfg *config.Config, sink metrics.Sink) *notifications.Dispatcher {
	sender := notifications.NewPushoverSender(cfg.PushoverURL, cfg.PushoverToken, cfg.PushoverUserKey, logger)
	return notifications.NewDispatcher(sender, cfg.LeadTime, cfg.DisplayLocation(), sink, logger)
}
