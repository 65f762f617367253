package cron

import (
	"errors"
	"testing"
	"time"

	robfig "github.com/robfig/cron/v3"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		name       string
		expression string
	}{
		{
			name:       "every minute",
			expression: "* * * * *",
		},
		{
			name:       "every hour",
			expression: "0 * * * *",
		},
		{
			name:       "daily at nine",
			expression: "0 9 * * *",
		},
		{
			name:       "weekly on monday",
			expression: "0 0 * * 1",
		},
		{
			name:       "monthly on the first",
			expression: "0 0 1 * *",
		},
		{
			name:       "with ranges",
			expression: "0 9-17 * * 1-5",
		},
		{
			name:       "with steps",
			expression: "*/5 * * * *",
		},
		{
			name:       "with comma lists",
			expression: "0,15,30,45 8,12,18 * * *",
		},
		{
			name:       "extra whitespace",
			expression: "  0   9 * *   * ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.expression); err != nil {
				t.Errorf("Parse(%q) error = %v", tt.expression, err)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		expression string
	}{
		{
			name:       "too few fields",
			expression: "* * *",
		},
		{
			name:       "too many fields",
			expression: "* * * * * *",
		},
		{
			name:       "empty",
			expression: "",
		},
		{
			name:       "minute out of range",
			expression: "60 * * * *",
		},
		{
			name:       "hour out of range",
			expression: "0 25 * * *",
		},
		{
			name:       "day out of range",
			expression: "0 0 0 * *",
		},
		{
			name:       "month out of range",
			expression: "0 0 1 13 *",
		},
		{
			name:       "day-of-week out of range",
			expression: "0 0 * * 7",
		},
		{
			name:       "not a number",
			expression: "x * * * *",
		},
		{
			name:       "inverted range",
			expression: "0 17-9 * * *",
		},
		{
			name:       "zero step",
			expression: "*/0 * * * *",
		},
		{
			name:       "empty list entry",
			expression: "0, * * * *",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.expression)
			if err == nil {
				t.Errorf("Parse(%q) expected error, got nil", tt.expression)
			} else if err.Error() == "" {
				t.Errorf("Parse(%q) error message is empty", tt.expression)
			}
		})
	}
}

func TestNext(t *testing.T) {
	ref := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC) // Monday

	tests := []struct {
		name       string
		expression string
		after      time.Time
		want       time.Time
	}{
		{
			name:       "daily at nine from eight",
			expression: "0 9 * * *",
			after:      ref,
			want:       time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		},
		{
			name:       "daily at nine from half past nine",
			expression: "0 9 * * *",
			after:      time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC),
			want:       time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC),
		},
		{
			name:       "every five minutes rounds up",
			expression: "*/5 * * * *",
			after:      time.Date(2024, 1, 1, 8, 1, 30, 0, time.UTC),
			want:       time.Date(2024, 1, 1, 8, 5, 0, 0, time.UTC),
		},
		{
			name:       "monthly on the first at midnight",
			expression: "0 0 1 * *",
			after:      ref,
			want:       time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:       "next sunday",
			expression: "30 6 * * 0",
			after:      ref,
			want:       time.Date(2024, 1, 7, 6, 30, 0, 0, time.UTC),
		},
		{
			name:       "strictly after the reference minute",
			expression: "0 8 * * *",
			after:      ref,
			want:       time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Parse(tt.expression)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.expression, err)
			}

			got, err := e.Next(tt.after)
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Next() = %v, want %v", got, tt.want)
			}
			if !got.After(tt.after) {
				t.Errorf("Next() = %v is not after reference %v", got, tt.after)
			}
		})
	}
}

func TestNext_NoUpcomingRun(t *testing.T) {
	// February never has a 31st; the scan exhausts the horizon.
	e, err := Parse("0 0 31 2 *")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	_, err = e.Next(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrNoUpcomingRun) {
		t.Errorf("Next() error = %v, want ErrNoUpcomingRun", err)
	}
}

func TestMatches(t *testing.T) {
	e, err := Parse("30 9 * * 1-5")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	monday := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	if !e.Matches(monday) {
		t.Errorf("Matches(%v) = false, want true", monday)
	}

	saturday := time.Date(2024, 1, 6, 9, 30, 0, 0, time.UTC)
	if e.Matches(saturday) {
		t.Errorf("Matches(%v) = true, want false", saturday)
	}

	wrongMinute := time.Date(2024, 1, 1, 9, 31, 0, 0, time.UTC)
	if e.Matches(wrongMinute) {
		t.Errorf("Matches(%v) = true, want false", wrongMinute)
	}
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	res := Evaluate("0 9 * * *", now)
	if !res.Valid {
		t.Fatalf("Evaluate() valid = false, err = %v", res.Err)
	}
	want := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	if !res.NextRun.Equal(want) {
		t.Errorf("Evaluate() next run = %v, want %v", res.NextRun, want)
	}
	if res.Description == "" {
		t.Error("Evaluate() description is empty")
	}

	res = Evaluate("0 25 * * *", now)
	if res.Valid {
		t.Error("Evaluate() valid = true for invalid hour")
	}
	if res.Err == nil {
		t.Error("Evaluate() err is nil for invalid hour")
	}

	// Never-firing expressions are reported invalid as well.
	res = Evaluate("0 0 31 4 *", now)
	if res.Valid {
		t.Error("Evaluate() valid = true for impossible date")
	}
	if !errors.Is(res.Err, ErrNoUpcomingRun) {
		t.Errorf("Evaluate() err = %v, want ErrNoUpcomingRun", res.Err)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		expression string
		want       string
	}{
		{"0 9 * * *", "Daily at 09:00"},
		{"30 18 * * *", "Daily at 18:30"},
		{"0 9 * * 1", "Weekly on Monday at 09:00"},
		{"0 0 1 * *", "Monthly on day 1 at 00:00"},
		{"*/5 * * * *", "Every 5 minutes"},
		{"*/1 * * * *", "Every minute"},
		{"0 */2 * * *", "Every 2 hours"},
		{"* * * * *", "Every minute"},
		{"0 9-17 * * 1-5", "At minute 0, hour 9-17, day-of-week 1-5"},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			e, err := Parse(tt.expression)
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.expression, err)
			}
			if got := e.Describe(); got != tt.want {
				t.Errorf("Describe() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestNext_AgainstReference cross-checks the forward scan against
// robfig/cron for expressions where day-of-month and day-of-week do not
// both restrict (the two parsers agree only outside that corner).
func TestNext_AgainstReference(t *testing.T) {
	expressions := []string{
		"* * * * *",
		"*/5 * * * *",
		"0 9 * * *",
		"30 6 * * 0",
		"0 0 1 * *",
		"15 14 1 * *",
		"0 9-17 * * *",
		"0,30 */3 * * *",
	}

	refs := []time.Time{
		time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 28, 23, 59, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 23, 30, 0, 0, time.UTC),
		time.Date(2025, 6, 15, 12, 7, 42, 0, time.UTC),
	}

	parser := robfig.NewParser(robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow)

	for _, expr := range expressions {
		e, err := Parse(expr)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", expr, err)
		}

		ref, err := parser.Parse(expr)
		if err != nil {
			t.Fatalf("reference parser rejected %q: %v", expr, err)
		}

		for _, after := range refs {
			got, err := e.Next(after)
			if err != nil {
				t.Fatalf("Next(%q, %v) error = %v", expr, after, err)
			}

			want := ref.Next(after)
			if !got.Equal(want) {
				t.Errorf("Next(%q, %v) = %v, reference = %v", expr, after, got, want)
			}
		}
	}
}
