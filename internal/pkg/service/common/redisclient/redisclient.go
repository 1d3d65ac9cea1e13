// Package redisclient creates the go-redis client shared by all components of the process.
package redisclient

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/keboola/dtimer/internal/pkg/log"
	"github.com/keboola/dtimer/internal/pkg/service/common/servicectx"
	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

type config struct {
	logger log.Logger
}

type Option func(c *config)

func WithLogger(v log.Logger) Option {
	return func(c *config) {
		c.logger = v
	}
}

// New creates a new Redis client and waits until the server responds to PING.
// Failed attempts are retried with an exponential backoff until the ConnectTimeout.
// The client is closed on the process shutdown.
func New(ctx context.Context, proc *servicectx.Process, cfg Config, opts ...Option) (*redis.Client, error) {
	c := config{logger: log.NewNopLogger()}
	for _, o := range opts {
		o(&c)
	}

	// Normalize and validate
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := c.logger.WithComponent("redis.client")
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if cfg.DebugLog {
		client.AddHook(newDebugHook(logger))
	}

	startTime := time.Now()
	logger.Infof(ctx, `connecting to redis "%s"`, cfg.Address)
	if err := ping(ctx, client, cfg.ConnectTimeout, logger); err != nil {
		_ = client.Close()
		return nil, errors.Errorf(`cannot connect to redis "%s": %w`, cfg.Address, err)
	}
	logger.WithDuration(time.Since(startTime)).Infof(ctx, `connected to redis "%s"`, cfg.Address)

	if proc != nil {
		proc.OnShutdown(func(ctx context.Context) {
			logger.Info(ctx, "closing redis connection")
			if err := client.Close(); err != nil {
				logger.Warnf(ctx, "cannot close redis connection: %s", err)
			}
			logger.Info(ctx, "closed redis connection")
		})
	}

	return client, nil
}

func ping(ctx context.Context, client redis.UniversalClient, timeout time.Duration, logger log.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = timeout

	return backoff.Retry(func() error {
		err := client.Ping(ctx).Err()
		if err != nil {
			logger.Warnf(ctx, "redis ping failed: %s", err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}
