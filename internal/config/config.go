// Package config holds the hub's runtime configuration: defaults, then
// POLARHUB_* environment overrides, then command-line flags on top.
package config

import (
	"os"
	"strconv"
)

// Config is the full runtime configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int
	// InfluxHost / InfluxPort / InfluxDatabase locate the time-series store.
	InfluxHost     string
	InfluxPort     int
	InfluxDatabase string
	// HRVSummaryIntervalMs is the summary window width.
	HRVSummaryIntervalMs int64
	// Pretty switches log output to the human console writer.
	Pretty bool
}

// Default returns a Config with the stock defaults.
func Default() Config {
	return Config{
		Port:                 3000,
		InfluxHost:           "localhost",
		InfluxPort:           8086,
		InfluxDatabase:       "polar_hub",
		HRVSummaryIntervalMs: 300_000,
	}
}

// FromEnv returns the defaults with POLARHUB_* environment overrides
// applied. Unparseable numeric values are ignored.
func FromEnv() Config {
	cfg := Default()
	if v := os.Getenv("POLARHUB_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("POLARHUB_INFLUX_HOST"); v != "" {
		cfg.InfluxHost = v
	}
	if v := os.Getenv("POLARHUB_INFLUX_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.InfluxPort = n
		}
	}
	if v := os.Getenv("POLARHUB_INFLUX_DATABASE"); v != "" {
		cfg.InfluxDatabase = v
	}
	if v := os.Getenv("POLARHUB_HRV_SUMMARY_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.HRVSummaryIntervalMs = n
		}
	}
	if v := os.Getenv("POLARHUB_PRETTY_LOGS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Pretty = b
		}
	}
	return cfg
}
