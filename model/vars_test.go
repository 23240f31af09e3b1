package model_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"gitlab.com/shar-workflow/bpmnrt/model"
)

func TestVarsGet(t *testing.T) {
	vars := model.NewVars()
	vars.SetString("1", "value")
	vars.SetFloat64("2", 77777.77777)
	vars.SetInt64("3", 42)
	vars.SetBool("4", true)
	vars["5"] = uint32(7)

	s, err := vars.GetString("1")
	assert.NoError(t, err)
	assert.Equal(t, "value", s)

	f, err := vars.GetFloat64("2")
	assert.NoError(t, err)
	assert.Equal(t, 77777.77777, f)

	i, err := vars.GetInt64("3")
	assert.NoError(t, err)
	assert.Equal(t, int64(42), i)

	b, err := vars.GetBool("4")
	assert.NoError(t, err)
	assert.True(t, b)

	u, err := vars.GetInt64("5")
	assert.NoError(t, err)
	assert.Equal(t, int64(7), u)
}

func TestVarsMissing(t *testing.T) {
	vars := model.NewVars()
	_, err := vars.GetString("nope")
	assert.ErrorIs(t, err, model.ErrVarNotFound)
	vars.SetInt64("n", 1)
	_, err = vars.GetString("n")
	assert.ErrorIs(t, err, model.ErrVarNotFound)
}

func TestVarsKeys(t *testing.T) {
	vars := model.Vars{"b": 1, "a": 2, "c": 3}
	assert.Equal(t, []string{"a", "b", "c"}, slices.Collect(vars.Keys()))
	assert.Equal(t, 3, vars.Len())
}
