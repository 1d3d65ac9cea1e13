package dependencies

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/keboola/dtimer/internal/pkg/idgenerator"
	"github.com/keboola/dtimer/internal/pkg/log"
	"github.com/keboola/dtimer/internal/pkg/service/common/servicectx"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/config"
	"github.com/keboola/dtimer/internal/pkg/telemetry"
)

// Mocked dependencies for tests, the store is emulated by the miniredis server.
type Mocked interface {
	ServiceScope
	DebugLogger() log.DebugLogger
	TestTelemetry() telemetry.ForTest
	RedisServer() *miniredis.Miniredis
}

type mocked struct {
	*serviceScope
	debugLogger log.DebugLogger
	telemetry   telemetry.ForTest
	redisServer *miniredis.Miniredis
}

type MockedConfig struct {
	clock       clockwork.Clock
	debugLogger log.DebugLogger
	redisServer *miniredis.Miniredis
	modifyCfg   []func(cfg *config.Config)
}

type MockedOption func(c *MockedConfig)

// WithClock sets the clock, by default, the real clock is used.
func WithClock(v clockwork.Clock) MockedOption {
	return func(c *MockedConfig) {
		c.clock = v
	}
}

func WithDebugLogger(v log.DebugLogger) MockedOption {
	return func(c *MockedConfig) {
		c.debugLogger = v
	}
}

// WithRedisServer shares the server between multiple mocked scopes, by default, a new server is started.
func WithRedisServer(v *miniredis.Miniredis) MockedOption {
	return func(c *MockedConfig) {
		c.redisServer = v
	}
}

func WithConfig(fn func(cfg *config.Config)) MockedOption {
	return func(c *MockedConfig) {
		c.modifyCfg = append(c.modifyCfg, fn)
	}
}

func NewMocked(t *testing.T, opts ...MockedOption) Mocked {
	t.Helper()

	c := &MockedConfig{}
	for _, o := range opts {
		o(c)
	}

	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.debugLogger == nil {
		c.debugLogger = log.NewDebugLogger()
	}
	if c.redisServer == nil {
		c.redisServer = miniredis.RunT(t)
	}

	// Each test uses a unique namespace
	cfg := config.New()
	cfg.Redis.Address = c.redisServer.Addr()
	cfg.Node.Namespace = idgenerator.RedisNamespaceForTest()
	for _, fn := range c.modifyCfg {
		fn(&cfg)
	}

	tel := telemetry.NewForTest(t)
	proc := servicectx.NewForTest(t)
	scope, err := newServiceScope(context.Background(), cfg, proc, c.debugLogger, tel, c.clock)
	require.NoError(t, err)

	return &mocked{
		serviceScope: scope,
		debugLogger:  c.debugLogger,
		telemetry:    tel,
		redisServer:  c.redisServer,
	}
}

func (v *mocked) DebugLogger() log.DebugLogger {
	return v.debugLogger
}

func (v *mocked) TestTelemetry() telemetry.ForTest {
	return v.telemetry
}

func (v *mocked) RedisServer() *miniredis.Miniredis {
	return v.redisServer
}
