package priority

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWeight(t *testing.T) {
	cases := []struct {
		name     string
		priority Priority
		want     float64
	}{
		{name: "critical", priority: Critical, want: 3.0},
		{name: "important", priority: Important, want: 2.0},
		{name: "optional", priority: Optional, want: 1.0},
		{name: "unrecognized falls back to important", priority: Priority("exotic"), want: 2.0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.priority.Weight(); got != tc.want {
				t.Fatalf("Weight() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		want    Priority
		wantErr bool
	}{
		{name: "critical", value: "critical", want: Critical},
		{name: "mixed case with spaces", value: "  Important ", want: Important},
		{name: "optional", value: "OPTIONAL", want: Optional},
		{name: "unknown", value: "urgent", wantErr: true},
		{name: "empty", value: "", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.value)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %q", tc.value, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tc.value, err)
			}
			if got != tc.want {
				t.Fatalf("Parse(%q) = %q, want %q", tc.value, got, tc.want)
			}
		})
	}
}

func TestClassifierResolutionOrder(t *testing.T) {
	overrides := Overrides{
		"staging": {
			"redis":      Optional,
			"clickhouse": Important,
		},
	}
	classifier := NewClassifier("staging",
		WithExplicit(map[string]Priority{"redis": Critical}),
		WithOverrides(overrides),
	)

	cases := []struct {
		name    string
		service string
		want    Priority
	}{
		{name: "explicit wins over override", service: "redis", want: Critical},
		{name: "override wins over default", service: "clickhouse", want: Important},
		{name: "default table", service: "postgres", want: Critical},
		{name: "unknown service is important", service: "billing", want: Important},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifier.For(tc.service); got != tc.want {
				t.Fatalf("For(%q) = %q, want %q", tc.service, got, tc.want)
			}
		})
	}
}

func TestClassifierIgnoresOtherEnvironments(t *testing.T) {
	overrides := Overrides{
		"staging": {"redis": Optional},
	}
	classifier := NewClassifier("production", WithOverrides(overrides))

	if got := classifier.For("redis"); got != Important {
		t.Fatalf("For(redis) = %q, want %q", got, Important)
	}
}

func TestPriorities(t *testing.T) {
	classifier := NewClassifier("production")
	got := classifier.Priorities([]string{"postgres", "clickhouse", "unknown"})

	want := map[string]Priority{
		"postgres":   Critical,
		"clickhouse": Optional,
		"unknown":    Important,
	}
	if len(got) != len(want) {
		t.Fatalf("Priorities returned %d entries, want %d", len(got), len(want))
	}
	for name, p := range want {
		if got[name] != p {
			t.Fatalf("Priorities[%s] = %q, want %q", name, got[name], p)
		}
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yml")
	content := "environments:\n  staging:\n    redis: optional\n  production:\n    clickhouse: important\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write overrides: %v", err)
	}

	overrides, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	if got := overrides["staging"]["redis"]; got != Optional {
		t.Fatalf("staging redis = %q, want %q", got, Optional)
	}
	if got := overrides["production"]["clickhouse"]; got != Important {
		t.Fatalf("production clickhouse = %q, want %q", got, Important)
	}
}

func TestLoadOverridesEmptyPath(t *testing.T) {
	overrides, err := LoadOverrides("")
	if err != nil {
		t.Fatalf("LoadOverrides(\"\"): %v", err)
	}
	if overrides != nil {
		t.Fatalf("LoadOverrides(\"\") = %v, want nil", overrides)
	}
}

func TestLoadOverridesRejectsBadPriority(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yml")
	if err := os.WriteFile(path, []byte("environments:\n  staging:\n    redis: urgent\n"), 0o600); err != nil {
		t.Fatalf("write overrides: %v", err)
	}

	if _, err := LoadOverrides(path); err == nil {
		t.Fatal("expected error for unknown priority value")
	}
}
