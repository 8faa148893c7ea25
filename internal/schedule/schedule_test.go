package schedule

import (
	"strings"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	s, err := Parse(`{"kind":"interval","interval_ms":60000}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Kind != "interval" || s.IntervalMs != 60000 {
		t.Errorf("got %+v", s)
	}

	if _, err := Parse("not json"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestNextRunInterval(t *testing.T) {
	s := &Schedule{Kind: "interval", IntervalMs: 60000}
	now := time.Now()

	next := s.NextRun(now)
	if next == nil {
		t.Fatal("expected next run")
	}
	if got := next.Sub(now); got != time.Minute {
		t.Errorf("next run in %v, want 1m", got)
	}
}

func TestNextRunCron(t *testing.T) {
	s := &Schedule{Kind: "cron", CronExpr: "*/5 * * * *"}
	now := time.Now()

	next := s.NextRun(now)
	if next == nil {
		t.Fatal("expected next run")
	}
	if !next.After(now) {
		t.Errorf("next run %v is not after now", next)
	}
	if next.Minute()%5 != 0 {
		t.Errorf("next run minute = %d, want a multiple of 5", next.Minute())
	}

	bad := &Schedule{Kind: "cron", CronExpr: "not a cron"}
	if got := bad.NextRun(now); got != nil {
		t.Errorf("invalid cron produced next run %v", got)
	}
}

func TestNextRunOnce(t *testing.T) {
	now := time.Now()

	future := now.Add(time.Hour)
	s := &Schedule{Kind: "once", AtMs: future.UnixMilli()}
	next := s.NextRun(now)
	if next == nil || next.UnixMilli() != future.UnixMilli() {
		t.Errorf("next = %v, want %v", next, future)
	}

	// An expired one-shot never fires again.
	s = &Schedule{Kind: "once", AtMs: now.Add(-time.Hour).UnixMilli()}
	if got := s.NextRun(now); got != nil {
		t.Errorf("expired one-shot produced next run %v", got)
	}
}

func TestNextRunUnknownKind(t *testing.T) {
	s := &Schedule{Kind: "lunar"}
	if got := s.NextRun(time.Now()); got != nil {
		t.Errorf("unknown kind produced next run %v", got)
	}
}

func TestCalculateNextRun(t *testing.T) {
	if got := CalculateNextRun(`{"kind":"interval","interval_ms":1000}`); got == nil {
		t.Error("expected next run for valid schedule")
	}
	if got := CalculateNextRun("garbage"); got != nil {
		t.Errorf("garbage input produced next run %v", got)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "bare cron wrapped",
			input: "0 9 * * *",
			want:  `{"kind":"cron","cron_expr":"0 9 * * *"}`,
		},
		{
			name:  "schedule JSON passed through",
			input: `{"kind":"interval","interval_ms":5000}`,
			want:  `{"kind":"interval","interval_ms":5000}`,
		},
		{
			name:    "invalid cron",
			input:   "99 99 * * *",
			wantErr: true,
		},
		{
			name:    "unknown kind",
			input:   `{"kind":"lunar"}`,
			wantErr: true,
		},
		{
			name:    "non-positive interval",
			input:   `{"kind":"interval","interval_ms":0}`,
			wantErr: true,
		},
		{
			name:    "non-positive once",
			input:   `{"kind":"once","at_ms":-5}`,
			wantErr: true,
		},
		{
			name:    "invalid cron inside JSON",
			input:   `{"kind":"cron","cron_expr":"nope"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize(%q) succeeded, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`{"kind":"cron","cron_expr":"0 9 * * *"}`, "cron: 0 9 * * *"},
		{`{"kind":"interval","interval_ms":3600000}`, "every hour"},
		{`{"kind":"interval","interval_ms":7200000}`, "every 2 hours"},
		{`{"kind":"interval","interval_ms":60000}`, "every minute"},
		{`{"kind":"interval","interval_ms":300000}`, "every 5 minutes"},
		{`{"kind":"interval","interval_ms":45000}`, "every 45 seconds"},
		{"garbage", "garbage"},
	}
	for _, tt := range tests {
		if got := Describe(tt.input); got != tt.want {
			t.Errorf("Describe(%s) = %q, want %q", tt.input, got, tt.want)
		}
	}

	got := Describe(`{"kind":"once","at_ms":1767171600000}`)
	if !strings.HasPrefix(got, "once at ") {
		t.Errorf("Describe(once) = %q", got)
	}
}
