package configmap

import (
	"encoding"
	"reflect"
	"strings"
	"time"
)

const (
	configKeyTag       = "configKey"
	configUsageTag     = "configUsage"
	configShorthandTag = "configShorthand"
	tagValuesSeparator = ","
)

// field is a leaf of a configuration structure.
type field struct {
	Path      string
	Usage     string
	Shorthand string
	Value     reflect.Value
}

// visitFields calls fn for each leaf field tagged by the "configKey" tag.
// Nested structures are traversed, their keys are joined by a dot.
// Fields with the ",squash" tag are merged to the parent level.
func visitFields(value reflect.Value, parent string, fn func(f field) error) error {
	if value.Kind() == reflect.Pointer {
		value = value.Elem()
	}

	typ := value.Type()
	for i := 0; i < typ.NumField(); i++ {
		structField := typ.Field(i)
		tag, found := structField.Tag.Lookup(configKeyTag)
		if !found {
			continue
		}

		parts := strings.Split(tag, tagValuesSeparator)
		name := parts[0]
		squash := len(parts) == 2 && parts[1] == "squash"
		if name == "-" || (name == "" && !squash) {
			continue
		}

		path := name
		if parent != "" && name != "" {
			path = parent + "." + name
		} else if name == "" {
			path = parent
		}

		fieldValue := value.Field(i)
		if isNestedStruct(fieldValue) {
			if err := visitFields(fieldValue, path, fn); err != nil {
				return err
			}
			continue
		}

		err := fn(field{
			Path:      path,
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

func isNestedStruct(v reflect.Value) bool {
	if v.Kind() != reflect.Struct {
		return false
	}
	if _, ok := v.Interface().(time.Time); ok {
		return false
	}
	if v.CanAddr() {
		if _, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return false
		}
	}
	return true
}
