// Package validator validates configuration structures using go-playground/validator.
// Error messages use field names from the "configKey" tag, so they match configuration keys and flags.
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

	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

const nestedName = "__nested__"

type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

type Rule struct {
	Tag     string
	Func    validator.FuncCtx
	Message func(path string, param string) string
}

func New(rules ...Rule) *Validator {
	validate := validator.New()

	enLocale := en.New()
	translator, found := ut.New(enLocale, enLocale).GetTranslator("en")
	if !found {
		panic(errors.New("en translator was not found"))
	}
	if err := enTranslation.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(errors.Errorf("translator was not registered: %w", err))
	}

	v := &Validator{validate: validate, translator: translator}

	for _, rule := range append(durationRules(), rules...) {
		if err := validate.RegisterValidationCtx(rule.Tag, rule.Func); err != nil {
			panic(err)
		}
		if rule.Message != nil {
			msgFn := rule.Message
			tag := rule.Tag
			err := validate.RegisterTranslation(tag, translator,
				func(ut ut.Translator) error { return nil },
				func(ut ut.Translator, fe validator.FieldError) string { return msgFn(fe.Field(), fe.Param()) },
			)
			if err != nil {
				panic(err)
			}
		}
	}

	// Use configKey as the field name, anonymous fields are removed from the namespace.
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		if field.Anonymous {
			return nestedName
		}
		name := strings.SplitN(field.Tag.Get("configKey"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	return v
}

// Validate a structure, all errors are returned as a MultiError.
func (v *Validator) Validate(ctx context.Context, value any) error {
	err := v.validate.StructCtx(ctx, value)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	result := errors.NewMultiError()
	for _, e := range validationErrs {
		path := fieldPath(e.Namespace())
		msg := e.Translate(v.translator)
		msg = strings.Replace(msg, e.Field(), fmt.Sprintf("%q", path), 1)
		result.Append(errors.New(msg))
	}
	return result.ErrorOrNil()
}

// fieldPath removes the struct name (first part) and nested parts.
func fieldPath(namespace string) string {
	namespace = strings.ReplaceAll(namespace, nestedName+".", "")
	if _, after, found := strings.Cut(namespace, "."); found {
		return after
	}
	return namespace
}

func durationRules() []Rule {
	compare := func(fn func(actual, limit time.Duration) bool) validator.FuncCtx {
		return func(_ context.Context, fl validator.FieldLevel) bool {
			limit, err := time.ParseDuration(fl.Param())
			if err != nil {
				panic(errors.Errorf(`invalid duration "%s" in the "%s" rule`, fl.Param(), fl.GetTag()))
			}
			actual, ok := fl.Field().Interface().(time.Duration)
			if !ok {
				return false
			}
			return fn(actual, limit)
		}
	}
	return []Rule{
		{
			Tag:     "minDuration",
			Func:    compare(func(actual, limit time.Duration) bool { return actual >= limit }),
			Message: func(path, param string) string { return fmt.Sprintf("%s must be %s or greater", path, param) },
		},
		{
			Tag:     "maxDuration",
			Func:    compare(func(actual, limit time.Duration) bool { return actual <= limit }),
			Message: func(path, param string) string { return fmt.Sprintf("%s must be %s or less", path, param) },
		},
	}
}
