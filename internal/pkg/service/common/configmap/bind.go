package configmap

import (
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/keboola/dtimer/internal/pkg/env"
	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

type BindSpec struct {
	// AppName is used in the help text.
	AppName string
	// Args are command line arguments, without the program name.
	Args      []string
	EnvNaming *env.NamingConvention
	Envs      env.Provider
	// Flags is an optional flag set with additional flags, for example flags of a CLI command.
	// Positional arguments are available via Flags.Args() after the Bind call.
	Flags *pflag.FlagSet
}

// Bind flags, ENVs and config files to the target configuration structure.
// Values already present in the target structure are used as default values.
// The target is normalized and validated if it implements ValueWithNormalization or ValueWithValidation.
// It returns HelpError if the help flag is present.
func Bind(spec BindSpec, target any) error {
	if reflect.ValueOf(target).Kind() != reflect.Pointer {
		return errors.Errorf(`cannot bind to type "%T": expected a pointer`, target)
	}

	fs := spec.Flags
	if fs == nil {
		fs = pflag.NewFlagSet(spec.AppName, pflag.ContinueOnError)
	}
	fs.Usage = func() {}
	if fs.Lookup(HelpFlag) == nil {
		fs.Bool(HelpFlag, false, "Print help message.")
	}
	fs.StringSlice(ConfigFileFlag, nil, "Path to a JSON/YAML configuration file, it can be used multiple times.")
	if err := GenerateFlags(fs, target); err != nil {
		return err
	}

	if err := fs.Parse(spec.Args); err != nil {
		return err
	}

	if help, _ := fs.GetBool(HelpFlag); help {
		return newHelpError(spec.AppName, fs, spec)
	}

	v := viper.New()

	// Config files have the lowest priority
	configFiles, _ := fs.GetStringSlice(ConfigFileFlag)
	for _, path := range configFiles {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return errors.Errorf(`cannot read config file "%s": %w`, path, err)
		}
	}

	// Flags, ENVs
	errs := errors.NewMultiError()
	err := visit(reflect.ValueOf(target), nil, func(f field) error {
		flag := fs.Lookup(f.FlagName)
		if spec.EnvNaming != nil && spec.Envs != nil && !flag.Changed {
			if value, found := spec.Envs.Lookup(spec.EnvNaming.FlagToEnv(f.FlagName)); found {
				v.Set(f.Key, value)
				return nil
			}
		}
		if flag.Changed || !v.IsSet(f.Key) {
			errs.Append(v.BindPFlag(f.Key, flag))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}

	if err := v.Unmarshal(target, func(c *mapstructure.DecoderConfig) {
		c.TagName = configKeyTag
	}); err != nil {
		return errors.PrefixError(err, "cannot decode configuration")
	}

	if v, ok := target.(ValueWithNormalization); ok {
		v.Normalize()
	}
	if v, ok := target.(ValueWithValidation); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}

	return nil
}
