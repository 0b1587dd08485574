// Package config provides configuration loading and parsing for crankmeter.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Settings come from viper's AllSettings, so values are whatever the JSON or
// YAML decoder produced. Strings are trimmed and parsed here; every other
// scalar goes through cast.

// lookupSetting returns the first candidate key present in settings, also
// trying its lowercase form since viper lowercases keys.
func lookupSetting(settings map[string]interface{}, candidates ...string) (interface{}, bool) {
	for _, key := range candidates {
		if val, ok := settings[key]; ok {
			return val, true
		}
		if val, ok := settings[strings.ToLower(key)]; ok {
			return val, true
		}
	}
	return nil, false
}

// trimmed reports whether value is a string, and its trimmed form.
func trimmed(value interface{}) (string, bool) {
	s, ok := value.(string)
	return strings.TrimSpace(s), ok
}

// asString accepts strings and scalars. Lists and maps are rejected so a
// misplaced section does not silently become a string setting.
func asString(value interface{}) (string, error) {
	s, err := cast.ToStringE(value)
	if err != nil {
		return "", fmt.Errorf("expected string, got %T", value)
	}
	return s, nil
}

func asInt(value interface{}) (int, error) {
	if s, ok := trimmed(value); ok {
		if s == "" {
			return 0, nil
		}
		return strconv.Atoi(s)
	}
	n, err := cast.ToIntE(value)
	if err != nil {
		return 0, fmt.Errorf("unsupported numeric type %T", value)
	}
	return n, nil
}

func asFloat64(value interface{}) (float64, error) {
	if s, ok := trimmed(value); ok {
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	}
	f, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, fmt.Errorf("unsupported float type %T", value)
	}
	return f, nil
}

func asBool(value interface{}) (bool, error) {
	if s, ok := trimmed(value); ok {
		if s == "" {
			return false, nil
		}
		return strconv.ParseBool(s)
	}
	b, err := cast.ToBoolE(value)
	if err != nil {
		return false, fmt.Errorf("unsupported boolean type %T", value)
	}
	return b, nil
}

// asDuration parses Go duration strings. Bare numbers are seconds, so
// "timeout: 5" in a config file means five seconds.
func asDuration(value interface{}) (time.Duration, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return v, nil
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0, nil
		}
		return time.ParseDuration(v)
	}
	secs, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, fmt.Errorf("unsupported duration type %T", value)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// asStringMap reads a header-style map. Empty keys are rejected.
func asStringMap(value interface{}) (map[string]string, error) {
	if value == nil {
		return nil, nil
	}
	m, err := cast.ToStringMapStringE(value)
	if err != nil {
		return nil, fmt.Errorf("unsupported headers type %T", value)
	}
	result := make(map[string]string, len(m))
	for k, v := range m {
		if strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("header key cannot be empty")
		}
		result[k] = v
	}
	return result, nil
}

// asStringSlice accepts a list or a single string, which becomes a
// one-element list.
func asStringSlice(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	}
	s, err := cast.ToStringSliceE(value)
	if err != nil {
		return nil, fmt.Errorf("unsupported string slice type %T", value)
	}
	return s, nil
}

// asFloat64Slice accepts a list or a comma separated string.
func asFloat64Slice(value interface{}) ([]float64, error) {
	var items []interface{}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []float64:
		return v, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		for _, part := range strings.Split(v, ",") {
			items = append(items, part)
		}
	default:
		list, err := toInterfaceSlice(value)
		if err != nil {
			return nil, err
		}
		items = list
	}
	result := make([]float64, len(items))
	for i, item := range items {
		f, err := asFloat64(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		result[i] = f
	}
	return result, nil
}

func toInterfaceSlice(value interface{}) ([]interface{}, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []map[interface{}]interface{}:
		items := make([]interface{}, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return items, nil
	}
	items, err := cast.ToSliceE(value)
	if err != nil {
		return nil, fmt.Errorf("expected list, got %T", value)
	}
	return items, nil
}

// toStringKeyMap reads a nested section with trimmed, lowercase keys.
func toStringKeyMap(value interface{}) (map[string]interface{}, error) {
	m, err := cast.ToStringMapE(value)
	if err != nil || value == nil {
		return nil, fmt.Errorf("expected map, got %T", value)
	}
	result := make(map[string]interface{}, len(m))
	for key, val := range m {
		result[strings.ToLower(strings.TrimSpace(key))] = val
	}
	return result, nil
}
