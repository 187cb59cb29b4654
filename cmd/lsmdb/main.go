// Command lsmdb runs one embedded storage engine instance with its
// background compactor and read-only admin HTTP surface, grounded in the
// teacher's cmd/main.go signal-driven startup/shutdown sequence.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	adminhttp "lsmdb/internal/http"
	"lsmdb/pkg/config"
	"lsmdb/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML options file (optional)")
	flag.Parse()

	opts := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lsmdb: %v\n", err)
			os.Exit(1)
		}
		opts = loaded
	}
	configureLogger(opts.Logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := store.Open(opts)
	if err != nil {
		slog.Error("lsmdb: failed to open store", "error", err)
		os.Exit(1)
	}
	s.StartCompacter(ctx)

	admin := adminhttp.NewServer(s, strconv.Itoa(opts.Server.Port))
	if err := admin.Start(); err != nil {
		slog.Error("lsmdb: failed to start admin server", "error", err)
		os.Exit(1)
	}

	slog.Info("lsmdb: running", "work_dir", opts.WorkDir, "admin_addr", admin.URL)
	<-ctx.Done()

	slog.Info("lsmdb: shutting down")
	if err := admin.Stop(); err != nil {
		slog.Error("lsmdb: admin server shutdown error", "error", err)
	}
	if err := s.Close(); err != nil {
		slog.Error("lsmdb: store close error", "error", err)
	}
}

func configureLogger(cfg config.LoggerConfig) {
	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.Level))

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
