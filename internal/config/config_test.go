package config

import "testing"

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.InfluxHost != "localhost" || cfg.InfluxPort != 8086 {
		t.Errorf("influx endpoint = %s:%d, want localhost:8086", cfg.InfluxHost, cfg.InfluxPort)
	}
	if cfg.InfluxDatabase != "polar_hub" {
		t.Errorf("InfluxDatabase = %q, want polar_hub", cfg.InfluxDatabase)
	}
	if cfg.HRVSummaryIntervalMs != 300_000 {
		t.Errorf("HRVSummaryIntervalMs = %d, want 300000", cfg.HRVSummaryIntervalMs)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("POLARHUB_PORT", "8080")
	t.Setenv("POLARHUB_INFLUX_HOST", "influx.internal")
	t.Setenv("POLARHUB_INFLUX_DATABASE", "hrv_test")
	t.Setenv("POLARHUB_HRV_SUMMARY_INTERVAL_MS", "60000")

	cfg := FromEnv()
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.InfluxHost != "influx.internal" {
		t.Errorf("InfluxHost = %q, want influx.internal", cfg.InfluxHost)
	}
	if cfg.InfluxDatabase != "hrv_test" {
		t.Errorf("InfluxDatabase = %q, want hrv_test", cfg.InfluxDatabase)
	}
	if cfg.HRVSummaryIntervalMs != 60_000 {
		t.Errorf("HRVSummaryIntervalMs = %d, want 60000", cfg.HRVSummaryIntervalMs)
	}
}

func TestFromEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("POLARHUB_PORT", "not-a-port")
	t.Setenv("POLARHUB_HRV_SUMMARY_INTERVAL_MS", "-5")

	cfg := FromEnv()
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want default 3000 for unparseable override", cfg.Port)
	}
	if cfg.HRVSummaryIntervalMs != 300_000 {
		t.Errorf("HRVSummaryIntervalMs = %d, want default for non-positive override", cfg.HRVSummaryIntervalMs)
	}
}
