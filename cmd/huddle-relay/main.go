package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/Ankitkumar72/Huddle/internal/auth"
	"github.com/Ankitkumar72/Huddle/internal/config"
	"github.com/Ankitkumar72/Huddle/internal/httpserver"
	"github.com/Ankitkumar72/Huddle/internal/metrics"
	"github.com/Ankitkumar72/Huddle/internal/room"
	"github.com/Ankitkumar72/Huddle/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting huddle-relay",
		"listen_addr", cfg.ListenAddr,
		"auth_server_url", cfg.AuthServerURL,
		"mode", cfg.Mode,
		"max_participants_per_room", cfg.MaxParticipantsPerRoom,
		"max_messages_per_second", cfg.MaxMessagesPerSecond,
		"room_idle_ttl", cfg.RoomIdleTTL,
		"room_sweep_interval", cfg.RoomSweepInterval,
		"max_message_bytes", cfg.MaxMessageBytes,
		"public_key_cache_ttl", cfg.PublicKeyCacheTTL,
	)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	build := resolveBuildInfo(buildCommit, buildTime)

	rooms := room.NewRegistry(cfg.MaxParticipantsPerRoom)
	m := metrics.New()
	keys := auth.NewKeyCache(cfg.AuthServerURL, cfg.PublicKeyCacheTTL, cfg.KeyFetchTimeout)
	verifier := auth.NewVerifier(keys)

	srv := httpserver.New(cfg, logger, build, rooms)
	sig := signaling.NewServer(logger, verifier, rooms, m, signaling.Config{
		MaxMessageBytes:      cfg.MaxMessageBytes,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
	})
	sig.RegisterRoutes(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reaper := signaling.NewReaper(logger, rooms, m, cfg.RoomIdleTTL, cfg.RoomSweepInterval)
	go reaper.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) httpserver.BuildInfo {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return httpserver.BuildInfo{Commit: commit, BuildTime: buildTime}
}
