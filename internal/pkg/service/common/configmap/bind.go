// Package configmap maps configuration structures to flags, ENVs and YAML config files.
//
// The priority of the values, from the highest: flag, ENV, config file, default value from the structure.
package configmap

import (
	"bytes"
	"context"
	"os"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
	"github.com/keboola/shard-requirements/internal/pkg/validator"
)

const ConfigFileFlag = "config-file"

type BindSpec struct {
	// Flags must be generated by GenerateFlags from the target and parsed.
	Flags *pflag.FlagSet
	// EnvPrefix is prepended to the upper-cased flag name, for example "REQNODE_".
	EnvPrefix string
	// Envs returns value of an ENV, os.LookupEnv by default.
	Envs func(name string) (string, bool)
}

// ValueWithNormalization is a configuration structure with Normalize method, it is called before the validation.
type ValueWithNormalization interface {
	Normalize()
}

// ValueWithValidation is a configuration structure with custom Validate method, it is called after the tags validation.
type ValueWithValidation interface {
	Validate() error
}

// Bind flags, ENVs and config files to the target configuration structure.
// The target must be a pointer to a structure with default values.
func Bind(spec BindSpec, target any) error {
	if reflect.ValueOf(target).Kind() != reflect.Pointer {
		return errors.Errorf(`target must be a pointer, found "%T"`, target)
	}
	if spec.Envs == nil {
		spec.Envs = os.LookupEnv
	}

	v := viper.New()
	v.SetConfigType("yaml")

	// Config files, the later file has higher priority
	if flag := spec.Flags.Lookup(ConfigFileFlag); flag != nil {
		files, err := spec.Flags.GetStringSlice(ConfigFileFlag)
		if err != nil {
			return err
		}
		for _, path := range files {
			content, err := os.ReadFile(path) // nolint: forbidigo
			if err != nil {
				return errors.Wrapf(err, `cannot read config file "%s"`, path)
			}
			if err := v.MergeConfig(bytes.NewReader(content)); err != nil {
				return errors.Wrapf(err, `cannot parse config file "%s"`, path)
			}
		}
	}

	// Flags and ENVs
	errs := errors.NewMultiError()
	err := visitFields(valueOf(target), "", func(f field) error {
		flagName := fieldToFlagName(f.Path)
		flag := spec.Flags.Lookup(flagName)
		if flag == nil {
			return errors.Errorf(`flag "%s" for the config key "%s" is not defined`, flagName, f.Path)
		}

		// Changed flag has the highest priority, unchanged flag provides the default value.
		if err := v.BindPFlag(f.Path, flag); err != nil {
			errs.Append(err)
		}

		if !flag.Changed {
			if value, found := spec.Envs(flagToEnvName(spec.EnvPrefix, flagName)); found {
				v.Set(f.Path, value)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := errs.ErrorOrNil(); err != nil {
		return err
	}

	// Decode values to the target
	err = v.Unmarshal(target, func(c *mapstructure.DecoderConfig) {
		c.TagName = configKeyTag
		c.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return errors.Wrap(err, "cannot decode configuration")
	}

	return NormalizeAndValidate(target)
}

// NormalizeAndValidate calls Normalize and Validate methods, if present, and validates tags of the structure.
func NormalizeAndValidate(target any) error {
	if v, ok := target.(ValueWithNormalization); ok {
		v.Normalize()
	}
	if err := validator.New().Validate(context.Background(), target); err != nil {
		return err
	}
	if v, ok := target.(ValueWithValidation); ok {
		return v.Validate()
	}
	return nil
}

func valueOf(v any) reflect.Value {
	value := reflect.ValueOf(v)
	if value.Kind() == reflect.Pointer {
		value = value.Elem()
	}
	return value
}
