package configmap

import (
	"reflect"
	"time"

	"github.com/spf13/pflag"

	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

func MustGenerateFlags(fs *pflag.FlagSet, v any) {
	if err := GenerateFlags(fs, v); err != nil {
		panic(err)
	}
}

// GenerateFlags generates FlagSet from the provided configuration structure.
// Current values of the structure are used as default values of the flags.
func GenerateFlags(fs *pflag.FlagSet, v any) error {
	return visit(reflect.ValueOf(v), nil, func(f field) error {
		switch value := f.Value.Interface().(type) {
		case time.Duration:
			fs.DurationP(f.FlagName, f.Shorthand, value, f.Usage)
		case string:
			fs.StringP(f.FlagName, f.Shorthand, value, f.Usage)
		case bool:
			fs.BoolP(f.FlagName, f.Shorthand, value, f.Usage)
		case int:
			fs.IntP(f.FlagName, f.Shorthand, value, f.Usage)
		case int64:
			fs.Int64P(f.FlagName, f.Shorthand, value, f.Usage)
		case uint:
			fs.UintP(f.FlagName, f.Shorthand, value, f.Usage)
		case float64:
			fs.Float64P(f.FlagName, f.Shorthand, value, f.Usage)
		case []string:
			fs.StringSliceP(f.FlagName, f.Shorthand, value, f.Usage)
		default:
			return errors.Errorf(`unexpected type "%T" of the key "%s"`, value, f.Key)
		}
		return nil
	})
}
