package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
general:
  logLevel: debug
  metricsAddr: ":9120"
discord:
  token: abc123
mappings:
  - "111:222"
  - "333:444:https://discord.com/api/webhooks/1/tok:all"
backfill:
  postDelayMs: 250
  pageSize: 50
journal:
  enabled: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.LogLevel != "debug" || cfg.General.MetricsAddr != ":9120" {
		t.Fatalf("general config wrong: %+v", cfg.General)
	}
	if cfg.Discord.Token != "abc123" {
		t.Fatalf("token wrong: %q", cfg.Discord.Token)
	}
	if len(cfg.Mappings) != 2 {
		t.Fatalf("want 2 mappings, got %v", cfg.Mappings)
	}
	if cfg.Backfill.PostDelayMs != 250 || cfg.Backfill.PageSize != 50 {
		t.Fatalf("backfill config wrong: %+v", cfg.Backfill)
	}
	if cfg.Journal.Enabled {
		t.Fatal("journal should be disabled")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `discord: {token: abc}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.LogLevel != "info" {
		t.Fatalf("default logLevel not applied: %q", cfg.General.LogLevel)
	}
	if cfg.Backfill.PostDelayMs != 500 || cfg.Backfill.PageSize != 100 {
		t.Fatalf("backfill defaults not applied: %+v", cfg.Backfill)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("RELAY_TEST_TOKEN", "s3cret")
	path := writeConfig(t, `discord: {token: ${RELAY_TEST_TOKEN}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "s3cret" {
		t.Fatalf("env var not expanded: %q", cfg.Discord.Token)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	path := writeConfig(t, `
general: {logLevel: loud}
backfill: {pageSize: 500}
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("want validation error")
	}
	if !strings.Contains(err.Error(), "logLevel") || !strings.Contains(err.Error(), "pageSize") {
		t.Fatalf("validation should report both problems: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("want error for missing file")
	}
}

func TestEnvMappings_NumberedAndOrdered(t *testing.T) {
	environ := []string{
		"PATH=/usr/bin",
		"THREAD_MAPPING_2=222:888",
		"THREAD_MAPPING_10=1010:999",
		"THREAD_MAPPING_1=111:777",
		"THREAD_MAPPING_X=skip:me",
		"OTHER_MAPPING_1=skip:me",
	}

	got := EnvMappings(environ)
	want := []string{"111:777", "222:888", "1010:999"}
	if len(got) != len(want) {
		t.Fatalf("EnvMappings = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("EnvMappings = %v, want %v (numeric order, not lexical)", got, want)
		}
	}
}

func TestExpandEnvVars_Defaults(t *testing.T) {
	os.Unsetenv("RELAY_TEST_UNSET")
	got := ExpandEnvVars("a=${RELAY_TEST_UNSET:-fallback} b=${RELAY_TEST_UNSET}")
	if got != "a=fallback b=${RELAY_TEST_UNSET}" {
		t.Fatalf("ExpandEnvVars = %q", got)
	}
}

func TestExpandEnvVars_EmptyDefault(t *testing.T) {
	os.Unsetenv("RELAY_TEST_UNSET")
	if got := ExpandEnvVars("a=[${RELAY_TEST_UNSET:-}]"); got != "a=[]" {
		t.Fatalf("empty default must expand to the empty string, got %q", got)
	}
}
