// Package config contains configuration of the dtimer service.
// Values are bound from flags, ENVs and config files, see the configmap package.
package config

import (
	"context"
	"strings"

	"github.com/spf13/pflag"

	"github.com/keboola/dtimer/internal/pkg/env"
	"github.com/keboola/dtimer/internal/pkg/log"
	"github.com/keboola/dtimer/internal/pkg/service/common/configmap"
	"github.com/keboola/dtimer/internal/pkg/service/common/redisclient"
	"github.com/keboola/dtimer/internal/pkg/service/dtimer/node"
	"github.com/keboola/dtimer/internal/pkg/telemetry/prometheus"
	"github.com/keboola/dtimer/internal/pkg/utils/errors"
	"github.com/keboola/dtimer/internal/pkg/validator"
)

const (
	AppName   = "dtimer"
	EnvPrefix = "DTIMER_"
)

type Config struct {
	NodeID    string             `configKey:"nodeId" configUsage:"Unique ID of the node, it is generated if empty."`
	DebugLog  bool               `configKey:"debugLog" configUsage:"Enable debug log level."`
	LogFormat string             `configKey:"logFormat" configUsage:"Log format, \"console\" or \"json\"." validate:"required,oneof=console json"`
	Metrics   prometheus.Config  `configKey:"metrics"`
	Redis     redisclient.Config `configKey:"redis"`
	Node      node.Config        `configKey:"node"`
}

func New() Config {
	return Config{
		LogFormat: string(log.LogFormatConsole),
		Metrics:   prometheus.NewConfig(),
		Redis:     redisclient.NewConfig(),
		Node:      node.NewConfig(),
	}
}

// Bind configuration from the command line arguments, without the program name, and ENVs.
// The HelpError is returned if the help flag is present.
func Bind(args []string, envs env.Provider) (Config, error) {
	return BindWithFlags(AppName, args, envs, nil)
}

// BindWithFlags binds configuration together with additional flags of a CLI command.
func BindWithFlags(name string, args []string, envs env.Provider, flags *pflag.FlagSet) (Config, error) {
	cfg := New()
	err := configmap.Bind(configmap.BindSpec{
		AppName:   name,
		Args:      args,
		EnvNaming: env.NewNamingConvention(EnvPrefix),
		Envs:      envs,
		Flags:     flags,
	}, &cfg)
	return cfg, err
}

func (c *Config) Normalize() {
	c.NodeID = strings.TrimSpace(c.NodeID)
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.Redis.Normalize()
}

func (c *Config) Validate() error {
	errs := errors.NewMultiError()
	if strings.ContainsAny(c.NodeID, " \t\r\n") {
		errs.Append(errors.Errorf(`"nodeId" must not contain whitespace, found "%s"`, c.NodeID))
	}
	errs.Append(validator.New().Validate(context.Background(), c))
	if err := errs.ErrorOrNil(); err != nil {
		return errors.PrefixError(err, "invalid configuration")
	}
	return nil
}

// LogFormatValue returns the validated log format.
func (c *Config) LogFormatValue() log.LogFormat {
	format, _ := log.NewLogFormat(c.LogFormat)
	return format
}
