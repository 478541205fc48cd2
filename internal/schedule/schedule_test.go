package schedule

import (
	"testing"
	"time"
)

func TestParseValid(t *testing.T) {
	tests := []string{
		"* * * * *",
		"0 3 * * *",
		"*/15 * * * *",
		"30 2 1 * *",
		"@hourly",
		"@daily",
	}
	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			s, err := Parse(expr)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", expr, err)
			}
			if s.String() != expr {
				t.Errorf("String() = %q, want %q", s.String(), expr)
			}
		})
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []string{
		"",
		"not a cron",
		"61 * * * *",
		"* * * * * * *",
		"0 25 * * *",
	}
	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			if _, err := Parse(expr); err == nil {
				t.Errorf("Parse(%q) succeeded, want error", expr)
			}
		})
	}
}

func TestNextStrictlyAfter(t *testing.T) {
	tests := []struct {
		expr string
		now  time.Time
		want time.Time
	}{
		{
			expr: "0 3 * * *",
			now:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC),
		},
		{
			// Exactly on the boundary: next must be strictly after.
			expr: "0 3 * * *",
			now:  time.Date(2024, 1, 1, 3, 0, 0, 0, time.UTC),
			want: time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC),
		},
		{
			expr: "*/15 * * * *",
			now:  time.Date(2024, 6, 15, 10, 7, 30, 0, time.UTC),
			want: time.Date(2024, 6, 15, 10, 15, 0, 0, time.UTC),
		},
		{
			// End of month rollover.
			expr: "30 2 1 * *",
			now:  time.Date(2024, 1, 31, 23, 59, 0, 0, time.UTC),
			want: time.Date(2024, 2, 1, 2, 30, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s := MustParse(tt.expr)
			got := s.Next(tt.now)
			if !got.After(tt.now) {
				t.Errorf("Next(%v) = %v, not strictly after now", tt.now, got)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Next(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestNextDeterministic(t *testing.T) {
	s := MustParse("*/5 * * * *")
	now := time.Date(2024, 3, 10, 12, 1, 0, 0, time.UTC)
	first := s.Next(now)
	for i := 0; i < 10; i++ {
		if got := s.Next(now); !got.Equal(first) {
			t.Fatalf("Next(%v) = %v on call %d, want %v", now, got, i+2, first)
		}
	}
}
