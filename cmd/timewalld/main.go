// Package main provides the timewall daemon entry point.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm/logger"

	"github.com/timewall/timewall/internal/clock"
	"github.com/timewall/timewall/internal/config"
	"github.com/timewall/timewall/internal/server"
	"github.com/timewall/timewall/internal/server/sse"
	"github.com/timewall/timewall/internal/store"
	"github.com/timewall/timewall/internal/tracker"
	"github.com/timewall/timewall/internal/watcher"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	dbPath := flag.String("db", "", "Database path (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directory")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *debug || cfg.LogLevel == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down")
		cancel()
	}()

	st, err := store.NewStore(store.Config{
		Path:     cfg.DBPath,
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}
	defer st.Close()

	broadcaster := sse.NewBroadcaster()
	commander := server.NewCommander(broadcaster)

	trk := tracker.New(st, clock.System{}, commander, cfg.DebounceWindow(), cfg.HeartbeatInterval())
	svc := server.NewService(Version, cfg, st, trk, broadcaster)

	startWatcher(ctx)

	trk.Start(ctx)
	defer trk.Stop()

	log.Info().
		Str("version", Version).
		Str("db", cfg.DBPath).
		Dur("heartbeat", cfg.HeartbeatInterval()).
		Msg("Starting timewall daemon")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
}

// startWatcher exits the process when the config file changes so a
// supervisor can restart with fresh settings.
func startWatcher(ctx context.Context) {
	path := config.ConfigPath()
	w, err := watcher.New(path, func() {
		log.Warn().Str("path", path).Msg("Config file changed, exiting for restart")
		time.Sleep(100 * time.Millisecond) // let logs flush
		os.Exit(0)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher")
		return
	}
	if err := w.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start config watcher")
		return
	}
	log.Info().Str("path", path).Msg("Config file watcher started")
}
