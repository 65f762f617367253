package cron

import (
	"fmt"
	"strings"
	"time"
)

// Describe renders the expression as a human-readable phrase. A small set
// of well-known patterns gets a dedicated phrase; anything else falls back
// to a generic field summary.
func (e *Expression) Describe() string {
	minute, minuteOne := e.singleValue(0)
	hour, hourOne := e.singleValue(1)
	day, dayOne := e.singleValue(2)
	dow, dowOne := e.singleValue(4)

	dayAny := e.fields[2].wildcard
	monthAny := e.fields[3].wildcard
	dowAny := e.fields[4].wildcard

	switch {
	case e.fields[0].step > 0 && e.fields[1].wildcard && dayAny && monthAny && dowAny:
		if e.fields[0].step == 1 {
			return "Every minute"
		}
		return fmt.Sprintf("Every %d minutes", e.fields[0].step)

	case e.fields[1].step > 0 && minuteOne && dayAny && monthAny && dowAny:
		if e.fields[1].step == 1 {
			return "Every hour"
		}
		return fmt.Sprintf("Every %d hours", e.fields[1].step)

	case minuteOne && hourOne && dayAny && monthAny && dowOne:
		return fmt.Sprintf("Weekly on %s at %02d:%02d", time.Weekday(dow), hour, minute)

	case minuteOne && hourOne && dayOne && monthAny && dowAny:
		return fmt.Sprintf("Monthly on day %d at %02d:%02d", day, hour, minute)

	case minuteOne && hourOne && dayAny && monthAny && dowAny:
		return fmt.Sprintf("Daily at %02d:%02d", hour, minute)
	}

	return e.summary()
}

// singleValue reports the value of a field restricted to exactly one literal.
func (e *Expression) singleValue(i int) (int, bool) {
	set := e.fields[i]
	if set.wildcard || set.step > 0 {
		return 0, false
	}
	if set.mask == 0 || set.mask&(set.mask-1) != 0 {
		return 0, false
	}
	for v := fieldSpecs[i].min; v <= fieldSpecs[i].max; v++ {
		if set.mask&(1<<uint(v)) != 0 {
			return v, true
		}
	}
	return 0, false
}

func (e *Expression) summary() string {
	parts := make([]string, 0, 5)
	tokens := strings.Fields(e.raw)
	for i, token := range tokens {
		if token == "*" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s", fieldSpecs[i].name, token))
	}
	if len(parts) == 0 {
		return "Every minute"
	}
	return "At " + strings.Join(parts, ", ")
}
