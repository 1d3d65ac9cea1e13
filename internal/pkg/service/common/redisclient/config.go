package redisclient

import (
	"strings"
	"time"

	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultDialTimeout    = 5 * time.Second
	DefaultReadTimeout    = 3 * time.Second
	DefaultWriteTimeout   = 3 * time.Second
)

type Config struct {
	Address        string        `configKey:"address" configUsage:"Redis address, host:port." validate:"required"`
	Username       string        `configKey:"username" configUsage:"Redis ACL username."`
	Password       string        `configKey:"password" configUsage:"Redis password."`
	DB             int           `configKey:"db" configUsage:"Redis logical database number." validate:"min=0"`
	ConnectTimeout time.Duration `configKey:"connectTimeout" configUsage:"Maximum time to establish the first connection, including retries." validate:"required"`
	DialTimeout    time.Duration `configKey:"dialTimeout" configUsage:"Timeout of one connection attempt." validate:"required"`
	ReadTimeout    time.Duration `configKey:"readTimeout" configUsage:"Socket read timeout." validate:"required"`
	WriteTimeout   time.Duration `configKey:"writeTimeout" configUsage:"Socket write timeout." validate:"required"`
	DebugLog       bool          `configKey:"debugLog" configUsage:"Redis commands logging as debug messages."`
}

func NewConfig() Config {
	return Config{
		Address:        "localhost:6379",
		ConnectTimeout: DefaultConnectTimeout,
		DialTimeout:    DefaultDialTimeout,
		ReadTimeout:    DefaultReadTimeout,
		WriteTimeout:   DefaultWriteTimeout,
	}
}

func (c *Config) Normalize() {
	c.Address = strings.TrimSpace(c.Address)
	c.Address = strings.TrimPrefix(c.Address, "redis://")
	c.Address = strings.TrimRight(c.Address, "/")
}

func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("redis address is not set")
	}
	if c.DB < 0 {
		return errors.Errorf(`redis db must be non-negative, found "%d"`, c.DB)
	}
	return nil
}
