package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("defaults should load: %v", err)
	}
	if cfg.Predictor.AttemptTimeout != 10*time.Second {
		t.Fatalf("attempt timeout default = %v", cfg.Predictor.AttemptTimeout)
	}
	if cfg.Predictor.MaxAttempts != 3 || cfg.Predictor.BaseBackoff != time.Second {
		t.Fatalf("retry defaults = %d/%v", cfg.Predictor.MaxAttempts, cfg.Predictor.BaseBackoff)
	}
	if len(cfg.Alerting.Levels) != 2 || cfg.Alerting.Levels[0] != "High" {
		t.Fatalf("alert levels default = %v", cfg.Alerting.Levels)
	}
	if err := cfg.RequirePipeline(); err == nil {
		t.Fatal("missing redis url and endpoint should be reported")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RISKBOT_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("RISKBOT_PREDICTOR_ENDPOINT", "http://ml.local/predict")
	t.Setenv("RISKBOT_PREDICTOR_ATTEMPT_TIMEOUT", "3s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Fatalf("redis url not overridden: %q", cfg.Redis.URL)
	}
	if cfg.Predictor.AttemptTimeout != 3*time.Second {
		t.Fatalf("attempt timeout not overridden: %v", cfg.Predictor.AttemptTimeout)
	}
	if err := cfg.RequirePipeline(); err != nil {
		t.Fatalf("pipeline settings present: %v", err)
	}
}

func TestLoadFileAndValidate(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "riskbot.yaml")
	content := "predictor:\n  max_attempts: 0\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("max_attempts 0 should fail validation")
	}
}

func TestValidateTelegram(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Alerting.Telegram.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("telegram without token should fail")
	}
	cfg.Alerting.Telegram.BotToken = "t"
	cfg.Alerting.Telegram.ChatID = "c"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("complete telegram config should pass: %v", err)
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 50}}
	if cfg.ResolveMaxPoints(0) != 50 || cfg.ResolveMaxPoints(7) != 7 {
		t.Fatal("override should win when positive")
	}
}

func TestValidateRejectsNonPositiveBackoff(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, backoff := range []time.Duration{0, -time.Second} {
		cfg.Predictor.BaseBackoff = backoff
		if err := cfg.Validate(); err == nil {
			t.Fatalf("base_backoff %v should fail validation", backoff)
		}
	}
}

func TestLoadRejectsZeroBackoffFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RISKBOT_PREDICTOR_BASE_BACKOFF", "0s")

	if _, err := Load(""); err == nil {
		t.Fatal("base_backoff 0s would be replaced by the client default and must be rejected")
	}
}

func TestRequestTimeoutDefaultAndValidation(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.RequestTimeout != 50*time.Second {
		t.Fatalf("request timeout default = %v", cfg.HTTP.RequestTimeout)
	}
	cfg.HTTP.RequestTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero request timeout should fail while http is enabled")
	}
}

// chdir changes the working directory for the duration of the test,
// mirroring testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
