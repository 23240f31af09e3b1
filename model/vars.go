package model

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"reflect"
	"slices"
)

// ErrVarNotFound is returned when a variable is not found in the provided Vars map.
var ErrVarNotFound = errors.New("variable not found")

// Vars holds process variables keyed by name.
// Values that are stored by the engine round trip as string, bool, int64, uint64, float64,
// []byte, []any or map[string]any.
type Vars map[string]any

// NewVars creates and returns an empty variable set.
func NewVars() Vars {
	return make(Vars)
}

// get takes the desired return type as parameter and safely searches the map and returns the value
// if it is found and is of the desired type.
func get[V any](vars Vars, key string) (V, error) { //nolint:ireturn
	var v V

	if vars[key] == nil {
		return v, fmt.Errorf("workflow var %s found nil: %w", key, ErrVarNotFound)
	}

	v, ok := vars[key].(V)
	if !ok {
		return v, fmt.Errorf("workflow var %s is %T: %w", key, vars[key], ErrVarNotFound)
	}

	return v, nil
}

// GetString validates that a key has an underlying string value and returns it.
func (vars Vars) GetString(key string) (string, error) {
	v, err := get[string](vars, key)
	if err != nil {
		return "", fmt.Errorf("getString: %w", err)
	}
	return v, nil
}

// GetInt64 returns an integer variable widened to int64.
func (vars Vars) GetInt64(key string) (int64, error) {
	xt, ok := vars[key]
	if !ok {
		return 0, fmt.Errorf("workflow var %s not present: %w", key, ErrVarNotFound)
	}
	switch ut := xt.(type) {
	case int:
		return int64(ut), nil
	case int8:
		return int64(ut), nil
	case int16:
		return int64(ut), nil
	case int32:
		return int64(ut), nil
	case int64:
		return ut, nil
	case uint8:
		return int64(ut), nil
	case uint16:
		return int64(ut), nil
	case uint32:
		return int64(ut), nil
	case uint64:
		return int64(ut), nil
	default:
		return 0, fmt.Errorf("workflow var %s is %s not int64: %w", key, reflect.TypeOf(xt).Name(), ErrVarNotFound)
	}
}

// GetBool validates that a key has an underlying bool value and returns it.
func (vars Vars) GetBool(key string) (bool, error) {
	v, err := get[bool](vars, key)
	if err != nil {
		return false, fmt.Errorf("getBool: %w", err)
	}
	return v, nil
}

// GetFloat64 returns a floating point variable widened to float64.
func (vars Vars) GetFloat64(key string) (float64, error) {
	switch v := vars[key].(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	v, err := get[float64](vars, key)
	if err != nil {
		return 0, fmt.Errorf("getFloat64: %w", err)
	}
	return v, nil
}

// SetString sets a string variable.
func (vars Vars) SetString(key string, value string) {
	vars[key] = value
}

// SetInt64 sets an integer variable.
func (vars Vars) SetInt64(key string, value int64) {
	vars[key] = value
}

// SetFloat64 sets a floating point variable.
func (vars Vars) SetFloat64(key string, value float64) {
	vars[key] = value
}

// SetBool sets a boolean variable.
func (vars Vars) SetBool(key string, value bool) {
	vars[key] = value
}

// Keys returns the variable names in sorted order.
func (vars Vars) Keys() iter.Seq[string] {
	return slices.Values(slices.Sorted(maps.Keys(vars)))
}

// Len returns the number of variables.
func (vars Vars) Len() int {
	return len(vars)
}
