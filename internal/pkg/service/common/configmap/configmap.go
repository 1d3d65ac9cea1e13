// Package configmap binds a configuration structure to flags, ENVs and config files.
//
// Each field tagged by the "configKey" tag is mapped to a flag, nested structures are separated by a dot,
// for example the "redis.connectTimeout" key is mapped to the "--redis-connect-timeout" flag
// and to the "<PREFIX>REDIS_CONNECT_TIMEOUT" ENV.
//
// Configuration source priority: 1. flag, 2. ENV, 3. config file, 4. default value from the structure.
package configmap

import (
	"reflect"
	"strings"
	"time"

	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

const (
	configKeyTag       = "configKey"
	configUsageTag     = "configUsage"
	configShorthandTag = "configShorthand"
	HelpFlag           = "help"
	ConfigFileFlag     = "config-file"
)

// ValueWithNormalization is implemented by a configuration structure, which should be normalized after binding.
type ValueWithNormalization interface {
	Normalize()
}

// ValueWithValidation is implemented by a configuration structure, which should be validated after binding.
type ValueWithValidation interface {
	Validate() error
}

// field is a leaf of the configuration structure.
type field struct {
	Key       string
	FlagName  string
	Usage     string
	Shorthand string
	Value     reflect.Value
}

// visit all leaf fields tagged by the "configKey" tag.
func visit(value reflect.Value, path []string, fn func(f field) error) error {
	// Dereference pointer, if any
	if value.Kind() == reflect.Pointer {
		value = value.Elem()
	}

	if value.Kind() != reflect.Struct {
		return errors.Errorf(`type "%s" is not a struct or a pointer to a struct`, value.Type().String())
	}

	for i := 0; i < value.NumField(); i++ {
		structField := value.Type().Field(i)
		tag, found := structField.Tag.Lookup(configKeyTag)
		if !found || tag == "" || tag == "-" || !structField.IsExported() {
			continue
		}

		fieldPath := append(append([]string{}, path...), tag)
		fieldValue := value.Field(i)
		if fieldValue.Kind() == reflect.Struct && fieldValue.Type() != reflect.TypeOf(time.Time{}) {
			if err := visit(fieldValue, fieldPath, fn); err != nil {
				return err
			}
			continue
		}

		key := strings.Join(fieldPath, ".")
		err := fn(field{
			Key:       key,
			FlagName:  fieldToFlagName(key),
			Usage:     structField.Tag.Get(configUsageTag),
			Shorthand: structField.Tag.Get(configShorthandTag),
			Value:     fieldValue,
		})
		if err != nil {
			return err
		}
	}

	return nil
}
