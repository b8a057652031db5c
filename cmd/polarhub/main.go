// polarhub — heart-beat ingest and HRV analysis hub.
//
// Receives R-peak data from BLE chest-strap relays and retroactive mobile
// uploads, stores every beat in InfluxDB, and maintains a real-time HRV
// stream plus an artifact-corrected canonical series with five-minute
// summaries.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mtakala/polarhub/internal/config"
	"github.com/mtakala/polarhub/internal/device"
	"github.com/mtakala/polarhub/internal/ingest"
	"github.com/mtakala/polarhub/internal/postprocess"
	"github.com/mtakala/polarhub/internal/server"
	"github.com/mtakala/polarhub/internal/store"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "polarhub",
		Short: "Heart-beat ingest and HRV analysis hub",
		Long: `polarhub — ingest hub for chest-strap R-peak data.

Accepts real-time beat frames and retroactive batch uploads over HTTP,
deduplicates them against InfluxDB, and runs a deferred artifact
classifier (Lipponen & Tarvainen 2019) that maintains a corrected RR
series and five-minute HRV summaries.`,
		Version: version,
	}

	cfg := config.FromEnv()

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest HTTP server and the post-processor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cfg)
		},
	}
	serveCmd.Flags().IntVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	serveCmd.Flags().StringVar(&cfg.InfluxHost, "influx-host", cfg.InfluxHost, "InfluxDB host")
	serveCmd.Flags().IntVar(&cfg.InfluxPort, "influx-port", cfg.InfluxPort, "InfluxDB port")
	serveCmd.Flags().StringVar(&cfg.InfluxDatabase, "influx-database", cfg.InfluxDatabase, "InfluxDB database")
	serveCmd.Flags().Int64Var(&cfg.HRVSummaryIntervalMs, "hrv-summary-interval-ms", cfg.HRVSummaryIntervalMs, "HRV summary window width in ms")
	serveCmd.Flags().BoolVar(&cfg.Pretty, "pretty", cfg.Pretty, "human-readable console logs")

	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cfg config.Config) error {
	log := newLogger(cfg.Pretty)

	st, err := store.NewInflux(cfg.InfluxHost, cfg.InfluxPort, cfg.InfluxDatabase, log)
	if err != nil {
		return fmt.Errorf("connect influxdb: %w", err)
	}
	defer st.Close()

	devices := device.NewRegistry()
	post := postprocess.New(st, devices, cfg.HRVSummaryIntervalMs, log)
	pipe := ingest.NewPipeline(st, devices, post, log)
	srv := server.New(pipe, st, devices, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go post.Run(ctx)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).
			Str("influx", fmt.Sprintf("%s:%d/%s", cfg.InfluxHost, cfg.InfluxPort, cfg.InfluxDatabase)).
			Msg("polarhub listening")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func newLogger(pretty bool) zerolog.Logger {
	if pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
