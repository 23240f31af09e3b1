// Package valueparsing turns command line variable arguments into process variables.
package valueparsing

import (
	"fmt"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var argRe = regexp.MustCompile(`^("?)([A-Za-z_][A-Za-z0-9_]*)("?):([A-Za-z0-9]+)\((.*)\)$`)

// Parse turns arguments of the form "name":type(value) into variables.
// Supported types are int, float64, string, bool and time (RFC3339, stored as unix millis).
func Parse(args []string) (model.Vars, error) {
	vars := model.NewVars()
	for _, arg := range args {
		key, varType, value, err := extract(arg)
		if err != nil {
			return nil, fmt.Errorf("extract variables: %w", err)
		}
		switch varType {
		case "int":
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse int %s: %w", key, err)
			}
			vars.SetInt64(key, v)
		case "float64":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("parse float64 %s: %w", key, err)
			}
			vars.SetFloat64(key, v)
		case "string":
			vars.SetString(key, value)
		case "bool":
			v, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("parse bool %s: %w", key, err)
			}
			vars.SetBool(key, v)
		case "time":
			v, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return nil, fmt.Errorf("parse time %s: %w", key, err)
			}
			vars.SetInt64(key, v.UnixMilli())
		default:
			return nil, fmt.Errorf("variable %s has unsupported type %s: %w", key, varType, errors.ErrExtractingVar)
		}
	}
	return vars, nil
}

func extract(text string) (string, string, string, error) {
	m := argRe.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", "", "", fmt.Errorf("extract var from %s: %w", text, errors.ErrExtractingVar)
	}
	if m[1] != m[3] {
		return "", "", "", fmt.Errorf("identifier %s not correctly quoted: %w", text, errors.ErrBadlyQuotedIdentifier)
	}
	return m[2], m[4], m[5], nil
}
