package workflow

import (
	"context"
	"fmt"
	"github.com/relvacode/iso8601"
	"gitlab.com/shar-workflow/bpmnrt/common/expression"
	"gitlab.com/shar-workflow/bpmnrt/model"
	"gitlab.com/shar-workflow/bpmnrt/server/errors"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationPattern = regexp.MustCompile(`^P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:[.,]\d+)?)S)?)?$`)

// ParseDuration parses an ISO 8601 duration made of weeks, days, hours, minutes and seconds, such as
// P1DT2H or PT0.5S. Years and months have no fixed length and are rejected.
func ParseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" || (len(s) > 1 && s[len(s)-1] == 'T') {
		return 0, fmt.Errorf("parse duration %q: %w", s, errors.ErrBadTimer)
	}
	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute}
	var d time.Duration
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil || n > math.MaxInt64/int64(unit) {
			return 0, fmt.Errorf("parse duration %q: %w", s, errors.ErrBadTimer)
		}
		d += time.Duration(n) * unit
	}
	if m[5] != "" {
		secs, err := strconv.ParseFloat(strings.Replace(m[5], ",", ".", 1), 64)
		if err != nil {
			return 0, fmt.Errorf("parse duration %q: %w", s, errors.ErrBadTimer)
		}
		d += time.Duration(secs * float64(time.Second))
	}
	return d, nil
}

// timerDue evaluates when a timer event fires. A time date is an ISO 8601 instant, a time duration is
// counted from now. Either may be an expression.
func (c *Engine) timerDue(ctx context.Context, d EventDefinition, vars model.Vars) (time.Time, error) {
	switch {
	case d.TimeDate != "":
		s, err := expression.EvalString(ctx, c.exprEng, d.TimeDate, vars)
		if err != nil {
			return time.Time{}, fmt.Errorf("evaluate time date: %w", err)
		}
		t, err := iso8601.ParseString(s)
		if err != nil {
			return time.Time{}, errors.Fatalf("time date %q: %w", s, errors.ErrBadTimer)
		}
		return t, nil
	case d.TimeDuration != "":
		s, err := expression.EvalString(ctx, c.exprEng, d.TimeDuration, vars)
		if err != nil {
			return time.Time{}, fmt.Errorf("evaluate time duration: %w", err)
		}
		dur, err := ParseDuration(s)
		if err != nil {
			return time.Time{}, errors.Fatal(err)
		}
		return c.clock().Add(dur), nil
	}
	return time.Time{}, errors.Fatalf("timer without date or duration: %w", errors.ErrBadTimer)
}
