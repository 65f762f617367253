// Package cron evaluates 5-field cron expressions: parsing, validation,
// next-run computation, and human-readable descriptions.
package cron

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrNoUpcomingRun is returned when the forward scan finds no matching
// timestamp within the one-year horizon. Expressions naming impossible
// dates (day 31 in February) surface here rather than at parse time.
var ErrNoUpcomingRun = errors.New("no upcoming run within one year")

// horizon bounds the forward scan.
const horizon = time.Hour * 24 * 366

type fieldSpec struct {
	name string
	min  int
	max  int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// fieldSet is the set of accepted values for one cron field.
type fieldSet struct {
	wildcard bool
	step     int // non-zero for */n fields
	mask     uint64
}

func (f fieldSet) contains(v int) bool {
	if f.wildcard {
		return true
	}
	return f.mask&(1<<uint(v)) != 0
}

// Expression is a parsed, validated cron expression.
type Expression struct {
	raw    string
	fields [5]fieldSet
}

// Parse validates a 5-field cron expression (minute, hour, day-of-month,
// month, day-of-week). Each field may be `*`, a literal, a comma list,
// an `a-b` range, or a `*/n` step.
func Parse(expr string) (*Expression, error) {
	tokens := strings.Fields(strings.TrimSpace(expr))
	if len(tokens) != 5 {
		return nil, fmt.Errorf("expected 5 fields (minute hour day month day-of-week), got %d", len(tokens))
	}

	e := &Expression{raw: strings.Join(tokens, " ")}
	for i, token := range tokens {
		set, err := parseField(token, fieldSpecs[i])
		if err != nil {
			return nil, fmt.Errorf("%s field %q: %w", fieldSpecs[i].name, token, err)
		}
		e.fields[i] = set
	}

	return e, nil
}

func parseField(token string, spec fieldSpec) (fieldSet, error) {
	if token == "*" {
		return fieldSet{wildcard: true}, nil
	}

	if rest, ok := strings.CutPrefix(token, "*/"); ok {
		step, err := strconv.Atoi(rest)
		if err != nil {
			return fieldSet{}, fmt.Errorf("step must be a number")
		}
		if step < 1 {
			return fieldSet{}, fmt.Errorf("step must be at least 1")
		}
		if step > spec.max {
			return fieldSet{}, fmt.Errorf("step must be at most %d", spec.max)
		}
		var set fieldSet
		set.step = step
		for v := spec.min; v <= spec.max; v += step {
			set.mask |= 1 << uint(v)
		}
		return set, nil
	}

	var set fieldSet
	for _, part := range strings.Split(token, ",") {
		if part == "" {
			return fieldSet{}, fmt.Errorf("empty list entry")
		}

		if lo, hi, ok := strings.Cut(part, "-"); ok {
			a, err := parseValue(lo, spec)
			if err != nil {
				return fieldSet{}, err
			}
			b, err := parseValue(hi, spec)
			if err != nil {
				return fieldSet{}, err
			}
			if a > b {
				return fieldSet{}, fmt.Errorf("range start %d exceeds end %d", a, b)
			}
			for v := a; v <= b; v++ {
				set.mask |= 1 << uint(v)
			}
			continue
		}

		v, err := parseValue(part, spec)
		if err != nil {
			return fieldSet{}, err
		}
		set.mask |= 1 << uint(v)
	}

	return set, nil
}

func parseValue(s string, spec fieldSpec) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if v < spec.min || v > spec.max {
		return 0, fmt.Errorf("%d out of range %d-%d", v, spec.min, spec.max)
	}
	return v, nil
}

// String returns the normalized expression text.
func (e *Expression) String() string {
	return e.raw
}

// Matches reports whether all five fields match the given timestamp.
// Seconds and finer are ignored.
func (e *Expression) Matches(t time.Time) bool {
	return e.fields[0].contains(t.Minute()) &&
		e.fields[1].contains(t.Hour()) &&
		e.fields[2].contains(t.Day()) &&
		e.fields[3].contains(int(t.Month())) &&
		e.fields[4].contains(int(t.Weekday()))
}

// Next returns the first matching timestamp strictly after `after`,
// rounded to a minute boundary. The scan is bounded to one year;
// ErrNoUpcomingRun past that.
func (e *Expression) Next(after time.Time) (time.Time, error) {
	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(horizon)

	for !t.After(limit) {
		if e.Matches(t) {
			return t, nil
		}
		t = t.Add(time.Minute)
	}

	return time.Time{}, ErrNoUpcomingRun
}

// Result is the outcome of evaluating a cron expression.
type Result struct {
	Valid       bool
	NextRun     time.Time
	Description string
	Err         error
}

// Evaluate parses an expression and computes its next run from `now`.
// An expression that can never fire within the horizon is reported invalid.
func Evaluate(expr string, now time.Time) Result {
	e, err := Parse(expr)
	if err != nil {
		return Result{Err: err}
	}

	next, err := e.Next(now)
	if err != nil {
		return Result{Err: err}
	}

	return Result{
		Valid:       true,
		NextRun:     next,
		Description: e.Describe(),
	}
}
