package configmap

import (
	"encoding"
	"reflect"
	"time"

	"github.com/spf13/pflag"

	"github.com/keboola/shard-requirements/internal/pkg/utils/errors"
)

func MustGenerateFlags(fs *pflag.FlagSet, v any) {
	if err := GenerateFlags(fs, v); err != nil {
		panic(err)
	}
}

// GenerateFlags generates FlagSet from the provided configuration structure.
// Each field tagged by "configKey" tag is mapped to a flag, the current value is used as the default.
// Field can optionally have the "configUsage" and "configShorthand" tags.
func GenerateFlags(fs *pflag.FlagSet, v any) error {
	return visitFields(valueOf(v), "", func(f field) error {
		flagName := fieldToFlagName(f.Path)
		if flagName == "" {
			return nil
		}

		// Types with a text representation, for example datasize.ByteSize
		if f.Value.CanAddr() {
			if marshaler, ok := f.Value.Addr().Interface().(encoding.TextMarshaler); ok {
				if _, ok := f.Value.Addr().Interface().(encoding.TextUnmarshaler); ok {
					text, err := marshaler.MarshalText()
					if err != nil {
						return err
					}
					fs.StringP(flagName, f.Shorthand, string(text), f.Usage)
					return nil
				}
			}
		}

		switch v := f.Value.Interface().(type) {
		case time.Duration:
			fs.DurationP(flagName, f.Shorthand, v, f.Usage)
		case int:
			fs.IntP(flagName, f.Shorthand, v, f.Usage)
		case int64:
			fs.Int64P(flagName, f.Shorthand, v, f.Usage)
		case uint:
			fs.UintP(flagName, f.Shorthand, v, f.Usage)
		case uint64:
			fs.Uint64P(flagName, f.Shorthand, v, f.Usage)
		case float64:
			fs.Float64P(flagName, f.Shorthand, v, f.Usage)
		case bool:
			fs.BoolP(flagName, f.Shorthand, v, f.Usage)
		case string:
			fs.StringP(flagName, f.Shorthand, v, f.Usage)
		case []string:
			fs.StringSliceP(flagName, f.Shorthand, v, f.Usage)
		default:
			// Named types, for example "type Type string"
			switch f.Value.Kind() {
			case reflect.String:
				fs.StringP(flagName, f.Shorthand, f.Value.String(), f.Usage)
			case reflect.Int:
				fs.IntP(flagName, f.Shorthand, int(f.Value.Int()), f.Usage)
			case reflect.Bool:
				fs.BoolP(flagName, f.Shorthand, f.Value.Bool(), f.Usage)
			default:
				return errors.Errorf(`unexpected type "%T" of the config field "%s"`, v, f.Path)
			}
		}
		return nil
	})
}
