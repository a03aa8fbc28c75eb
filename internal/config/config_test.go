package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfigIsWellFormed(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Listen.Addr == "" {
		t.Fatal("expected a default listen addr")
	}
	if cfg.QueueDefaults.MaxQueueSize <= 0 {
		t.Fatal("expected a positive default max queue size")
	}
	if cfg.RateLimit.ConnectionCap <= 0 || cfg.RateLimit.MessageCap <= 0 {
		t.Fatal("expected positive default rate limit caps")
	}
}

func TestLoadFromFileOverridesOnlyGivenFields(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/vibemq.json"
	if err := os.WriteFile(path, []byte(`{"listen":{"addr":":9999"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Listen.Addr != ":9999" {
		t.Fatalf("expected overridden addr, got %q", cfg.Listen.Addr)
	}
	if cfg.QueueDefaults.MaxQueueSize != DefaultConfig().QueueDefaults.MaxQueueSize {
		t.Fatal("expected untouched fields to keep their default")
	}
}

func TestLoadFromFileMissingReturnsError(t *testing.T) {
	if _, err := LoadFromFile("/nonexistent/path/vibemq.json"); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("VIBEMQ_LISTEN_ADDR", ":1234")
	t.Setenv("VIBEMQ_AUTH_TOKEN", "s3cret")
	t.Setenv("VIBEMQ_RATELIMIT_MESSAGE_CAP", "42")
	t.Setenv("VIBEMQ_ACK_BASE_RETRY_DELAY", "5s")
	t.Setenv("VIBEMQ_TLS_BUNDLE_PATH", "/etc/vibemq/bundle.p12")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Listen.Addr != ":1234" {
		t.Fatalf("expected listen addr override, got %q", cfg.Listen.Addr)
	}
	if cfg.Auth.Token != "s3cret" {
		t.Fatalf("expected auth token override, got %q", cfg.Auth.Token)
	}
	if cfg.RateLimit.MessageCap != 42 {
		t.Fatalf("expected message cap override, got %d", cfg.RateLimit.MessageCap)
	}
	if cfg.Ack.BaseRetryDelay != 5*time.Second {
		t.Fatalf("expected base retry delay override, got %v", cfg.Ack.BaseRetryDelay)
	}
	if !cfg.Listen.TLS.Enabled || cfg.Listen.TLS.BundlePath != "/etc/vibemq/bundle.p12" {
		t.Fatal("expected setting bundle path to also enable TLS")
	}
}

func TestParseBool(t *testing.T) {
	cases := map[string]bool{
		"true": true, "TRUE": true, "1": true, "yes": true,
		"false": false, "0": false, "": false, "nah": false,
	}
	for in, want := range cases {
		if got := parseBool(in); got != want {
			t.Errorf("parseBool(%q) = %v, want %v", in, got, want)
		}
	}
}
