// Package validator wraps the go-playground validator with English error messages and custom rules.
package validator

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslation "github.com/go-playground/validator/v10/translations/en"

	"github.com/keboola/dtimer/internal/pkg/utils/errors"
)

type Rule struct {
	Tag          string
	Func         validator.FuncCtx
	ErrorMsgFunc func(fe validator.FieldError) string
}

type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
	rules      map[string]Rule
}

func New(rules ...Rule) *Validator {
	v := &Validator{validate: validator.New(), rules: make(map[string]Rule)}

	// Register default EN translator
	enLocale := en.New()
	translator, found := ut.New(enLocale, enLocale).GetTranslator("en")
	if !found {
		panic(errors.New("en translator was not found"))
	}
	if err := enTranslation.RegisterDefaultTranslations(v.validate, translator); err != nil {
		panic(errors.Errorf("translator was not registered: %w", err))
	}
	v.translator = translator

	// Register custom validation rules
	for _, rule := range append(defaultRules(), rules...) {
		if err := v.validate.RegisterValidationCtx(rule.Tag, rule.Func); err != nil {
			panic(err)
		}
		v.rules[rule.Tag] = rule
	}

	// Set "__nested__" name for anonymous fields, so they can be removed from the error namespace.
	v.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if fld.Anonymous {
			return "__nested__"
		}
		for _, tag := range []string{"configKey", "json", "yaml"} {
			if name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]; name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})

	return v
}

// Validate a struct or a value with the "dive" tag.
func (v *Validator) Validate(ctx context.Context, value any) error {
	return v.ValidateCtx(ctx, value, "dive", "")
}

// ValidateValue validates a single value with the tag.
func (v *Validator) ValidateValue(value any, tag string) error {
	return v.ValidateCtx(context.Background(), value, tag, "")
}

// ValidateCtx validates a struct, or a value with the tag. Error messages are prefixed with the namespace.
func (v *Validator) ValidateCtx(ctx context.Context, value any, tag, namespace string) error {
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}

	isStruct := rv.Kind() == reflect.Struct
	var err error
	if isStruct {
		err = v.validate.StructCtx(ctx, rv.Interface())
	} else {
		err = v.validate.VarCtx(ctx, value, tag)
	}

	if err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return v.processError(validationErrs, isStruct, namespace)
		}
		return err
	}

	return nil
}

func (v *Validator) processError(errs validator.ValidationErrors, isStruct bool, prefix string) error {
	result := errors.NewMultiError()
	for _, e := range errs {
		path := e.Namespace()
		if isStruct {
			// Remove struct name
			if i := strings.IndexByte(path, '.'); i >= 0 {
				path = path[i+1:]
			} else {
				path = ""
			}
		}
		path = strings.ReplaceAll(path, "__nested__.", "")
		if prefix != "" {
			if path == "" {
				path = prefix
			} else {
				path = prefix + "." + path
			}
		}

		msg := v.message(e)
		if path == "" {
			result.Append(errors.New(msg))
		} else {
			result.Append(errors.Errorf(`"%s" %s`, path, msg))
		}
	}
	return result.ErrorOrNil()
}

func (v *Validator) message(e validator.FieldError) string {
	if rule, found := v.rules[e.Tag()]; found && rule.ErrorMsgFunc != nil {
		return rule.ErrorMsgFunc(e)
	}
	msg := e.Translate(v.translator)
	return strings.TrimSpace(strings.TrimPrefix(msg, e.Field()))
}

func defaultRules() []Rule {
	return []Rule{
		{
			Tag: "required_not_empty",
			Func: func(_ context.Context, fl validator.FieldLevel) bool {
				field := fl.Field()
				switch field.Kind() {
				case reflect.Slice, reflect.Map, reflect.Array, reflect.String:
					return field.Len() > 0
				default:
					return !field.IsZero()
				}
			},
			ErrorMsgFunc: func(fe validator.FieldError) string {
				return "is a required field"
			},
		},
		{
			Tag: "minDuration",
			Func: func(_ context.Context, fl validator.FieldLevel) bool {
				return time.Duration(fl.Field().Int()) >= mustParseDuration(fl.Param())
			},
			ErrorMsgFunc: func(fe validator.FieldError) string {
				return fmt.Sprintf("must be %s or greater", fe.Param())
			},
		},
		{
			Tag: "maxDuration",
			Func: func(_ context.Context, fl validator.FieldLevel) bool {
				return time.Duration(fl.Field().Int()) <= mustParseDuration(fl.Param())
			},
			ErrorMsgFunc: func(fe validator.FieldError) string {
				return fmt.Sprintf("must be %s or less", fe.Param())
			},
		},
	}
}

func mustParseDuration(str string) time.Duration {
	v, err := time.ParseDuration(str)
	if err != nil {
		panic(errors.Errorf(`invalid duration "%s": %w`, str, err))
	}
	return v
}
