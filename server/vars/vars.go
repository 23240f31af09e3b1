// Package vars encodes process variable values for storage and applies call activity variable mappings.
package vars

import (
	"bytes"
	"context"
	"fmt"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"gitlab.com/shar-workflow/bpmnrt/common/expression"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"strconv"
	"strings"
	"unicode/utf8"
)

// SearchableLength is the maximum number of characters kept in the searchable projection of a value.
const SearchableLength = 250

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// EncodeValue serialises a single variable value into its compressed blob form.
// Map keys are sorted so equal values always give equal blobs.
func EncodeValue(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := msgpack.NewEncoder(buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode variable value: %w", err)
	}
	b := buf.Bytes()
	return encoder.EncodeAll(b, make([]byte, 0, len(b))), nil
}

// DecodeValue restores a value written by EncodeValue. Integers come back as int64.
func DecodeValue(b []byte) (any, error) { //nolint:ireturn
	raw, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress variable value: %w", err)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	dec.UseLooseInterfaceDecoding(true)
	v, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return nil, fmt.Errorf("decode variable value: %w", err)
	}
	return v, nil
}

// Encode serialises a whole variable set.
func Encode(ctx context.Context, vars model.Vars) ([]byte, error) {
	if vars == nil {
		vars = model.NewVars()
	}
	b, err := EncodeValue(map[string]any(vars))
	if err != nil {
		return nil, fmt.Errorf("encode variables: %w", err)
	}
	return b, nil
}

// Decode restores a variable set written by Encode. An empty input gives an empty set.
func Decode(ctx context.Context, b []byte) (model.Vars, error) {
	ret := model.NewVars()
	if len(b) == 0 {
		return ret, nil
	}
	v, err := DecodeValue(b)
	if err != nil {
		return nil, fmt.Errorf("decode variables: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode variables: blob holds %T, not a map", v)
	}
	for k, val := range m {
		ret[k] = val
	}
	return ret, nil
}

// Searchable returns the lower cased, truncated text form of a scalar value.
// Values that are not scalars have no searchable form and return nil.
func Searchable(v any) *string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case bool:
		s = strconv.FormatBool(t)
	case int:
		s = strconv.FormatInt(int64(t), 10)
	case int8:
		s = strconv.FormatInt(int64(t), 10)
	case int16:
		s = strconv.FormatInt(int64(t), 10)
	case int32:
		s = strconv.FormatInt(int64(t), 10)
	case int64:
		s = strconv.FormatInt(t, 10)
	case uint:
		s = strconv.FormatUint(uint64(t), 10)
	case uint8:
		s = strconv.FormatUint(uint64(t), 10)
	case uint16:
		s = strconv.FormatUint(uint64(t), 10)
	case uint32:
		s = strconv.FormatUint(uint64(t), 10)
	case uint64:
		s = strconv.FormatUint(t, 10)
	case float32:
		s = strconv.FormatFloat(float64(t), 'g', -1, 32)
	case float64:
		s = strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return nil
	}
	s = strings.ToLower(s)
	if utf8.RuneCountInString(s) > SearchableLength {
		s = string([]rune(s)[:SearchableLength])
	}
	return &s
}

// Mapping copies one variable across a call activity boundary.
// Either Source names a variable to copy or Expression is evaluated against the source variables.
type Mapping struct {
	Source     string
	Expression string
	Target     string
}

// ApplyMappings evaluates mappings against the source variables and returns the resulting target variables.
// A source variable that does not exist maps to nil.
func ApplyMappings(ctx context.Context, eng expression.Engine, mappings []Mapping, source model.Vars) (model.Vars, error) {
	ret := model.NewVars()
	for _, m := range mappings {
		if m.Expression != "" {
			exp := m.Expression
			if !expression.IsExpression(exp) {
				exp = "=" + exp
			}
			v, err := expression.EvalAny(ctx, eng, exp, source)
			if err != nil {
				return nil, fmt.Errorf("evaluate mapping for %s: %w", m.Target, err)
			}
			ret[m.Target] = v
			continue
		}
		ret[m.Target] = source[m.Source]
	}
	return ret, nil
}
