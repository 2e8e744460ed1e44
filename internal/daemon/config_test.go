package daemon

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}
	if cfg.Heartbeat.TimeoutSeconds != 30 {
		t.Errorf("Heartbeat.TimeoutSeconds = %d, want %d", cfg.Heartbeat.TimeoutSeconds, 30)
	}
	if cfg.Capacity.ReservedPct != 20 {
		t.Errorf("Capacity.ReservedPct = %v, want %v", cfg.Capacity.ReservedPct, 20)
	}
	if cfg.Plans.TrialMaxConcurrent != 1 {
		t.Errorf("Plans.TrialMaxConcurrent = %d, want %d", cfg.Plans.TrialMaxConcurrent, 1)
	}
}

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("TUNNELD_HOME", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestSaveConfigThenLoadConfig_RoundTrips(t *testing.T) {
	t.Setenv("TUNNELD_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.Server.Port = 9999
	cfg.Auth.JWTSecret = "test-secret"

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want %d", loaded.Server.Port, 9999)
	}
	if loaded.Auth.JWTSecret != "test-secret" {
		t.Errorf("Auth.JWTSecret = %q, want %q", loaded.Auth.JWTSecret, "test-secret")
	}
}
