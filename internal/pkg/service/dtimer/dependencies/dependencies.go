// Package dependencies provides dependencies for the dtimer service.
//
// # Dependency Containers
//
// The ServiceScope contains common dependencies of the process:
//   - Clock, Logger and Telemetry, used by all components.
//   - Process, for the graceful shutdown.
//   - Config of the service.
//   - RedisClient, the shared store connection.
//
// The Mocked scope, for tests, is created by the NewMocked function.
package dependencies

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/keboola/dtimer/internal/pkg/log"
	"github.com/keboola/dtimer/internal/pkg/service/common/redisclient"
	"github.com/keboola/dtimer/internal/pkg/service/common/servicectx"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/config"
	"github.com/keboola/dtimer/internal/pkg/telemetry"
)

type ServiceScope interface {
	Clock() clockwork.Clock
	Logger() log.Logger
	Telemetry() telemetry.Telemetry
	Process() *servicectx.Process
	Config() config.Config
	RedisClient() *redis.Client
}

type serviceScope struct {
	clock       clockwork.Clock
	logger      log.Logger
	telemetry   telemetry.Telemetry
	process     *servicectx.Process
	config      config.Config
	redisClient *redis.Client
}

func NewServiceScope(ctx context.Context, cfg config.Config, proc *servicectx.Process, logger log.Logger, tel telemetry.Telemetry) (ServiceScope, error) {
	return newServiceScope(ctx, cfg, proc, logger, tel, clockwork.NewRealClock())
}

func newServiceScope(ctx context.Context, cfg config.Config, proc *servicectx.Process, logger log.Logger, tel telemetry.Telemetry, clk clockwork.Clock) (_ *serviceScope, err error) {
	ctx, span := tel.Tracer().Start(ctx, "keboola.go.dtimer.dependencies.NewServiceScope")
	defer span.End(&err)

	client, err := redisclient.New(ctx, proc, cfg.Redis, redisclient.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return &serviceScope{
		clock:       clk,
		logger:      logger,
		telemetry:   tel,
		process:     proc,
		config:      cfg,
		redisClient: client,
	}, nil
}

func (v *serviceScope) Clock() clockwork.Clock {
	return v.clock
}

func (v *serviceScope) Logger() log.Logger {
	return v.logger
}

func (v *serviceScope) Telemetry() telemetry.Telemetry {
	return v.telemetry
}

func (v *serviceScope) Process() *servicectx.Process {
	return v.process
}

func (v *serviceScope) Config() config.Config {
	return v.config
}

func (v *serviceScope) RedisClient() *redis.Client {
	return v.redisClient
}
