package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/relay/go/internal/config"
	"github.com/mcdev12/relay/go/internal/events"
	"github.com/mcdev12/relay/go/internal/offline"
	"github.com/mcdev12/relay/go/internal/realtime"
	"github.com/mcdev12/relay/go/internal/relay"
	"github.com/mcdev12/relay/go/internal/remote"
	"github.com/mcdev12/relay/go/internal/syncmanager"
)

// Headless device agent: keeps a local replica of one team's race in step
// with relayd and reports queue and conflict changes in the log.
func main() {
	configPath := flag.String("config", os.Getenv("RELAY_CONFIG"), "path to relay.yaml")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.ValidateDevice(); err != nil {
		log.Fatal().Err(err).Msg("invalid device config")
	}
	if cfg.Log.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.SetGlobalLevel(cfg.LogLevel())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	seed, err := relay.LoadSeed(cfg.Device.RosterPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load roster")
	}

	storage, err := offline.OpenSQLite(cfg.Device.QueuePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open offline queue")
	}

	clock := clockwork.NewRealClock()
	reg := prometheus.NewRegistry()
	client := remote.NewConnectClient(http.DefaultClient, cfg.Device.BackendURL)

	race, err := relay.Open(ctx, relay.Options{
		Sync: syncmanager.Config{
			DeviceID:       cfg.Device.DeviceID,
			TeamID:         cfg.Device.TeamID,
			Cooldown:       cfg.Device.Cooldown,
			Debounce:       cfg.Device.Debounce,
			SettleDelay:    cfg.Device.SettleDelay,
			RequestTimeout: cfg.Device.Timeout,
		},
		Remote:      client,
		Storage:     storage,
		Metrics:     offline.NewPrometheusMetrics(reg),
		MaxAttempts: cfg.Device.MaxAttempts,
		Tolerance:   cfg.Device.Tolerance,
		Clock:       clock,
	}, seed)
	if err != nil {
		_ = storage.Close()
		log.Fatal().Err(err).Msg("failed to open race")
	}
	defer func() {
		if err := race.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close race")
		}
	}()

	logRaceEvents(race.Bus)

	if cfg.Device.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		server := &http.Server{Addr: cfg.Device.MetricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer server.Close()
	}

	go func() {
		if err := race.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("sync loop stopped")
		}
	}()

	watchConnectivity(ctx, clock, cfg, race, client)
	log.Info().Msg("device agent shutdown complete")
}

// watchConnectivity probes the backend and keeps the realtime subscription
// open while it is reachable.
func watchConnectivity(ctx context.Context, clock clockwork.Clock, cfg *config.Config, race *relay.Race, client remote.Client) {
	source := realtime.NewWebSocketSource(cfg.Device.GatewayURL)
	var stopListening func()
	defer func() {
		if stopListening != nil {
			stopListening()
		}
	}()

	ticker := clock.NewTicker(cfg.Device.ProbeEvery)
	defer ticker.Stop()

	for {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.Device.Timeout)
		_, err := client.ListRunners(probeCtx, remote.ListRequest{TeamID: cfg.Device.TeamID, DeviceID: cfg.Device.DeviceID})
		cancel()
		online := err == nil || !errors.Is(err, remote.ErrNetwork)
		race.Sync.SetOnline(online)

		if online && stopListening == nil {
			stop, err := race.Sync.Listen(ctx, source)
			if err != nil {
				log.Warn().Err(err).Msg("realtime channel unavailable")
			} else {
				stopListening = stop
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}
	}
}

func logRaceEvents(bus *events.Bus) {
	events.On(bus, func(e events.QueueChanged) error {
		log.Info().Int("pending", e.Pending).Int("failed", e.Failed).Msg("offline queue changed")
		return nil
	})
	events.On(bus, func(e events.ConflictsChanged) error {
		log.Warn().Int("pending", e.Pending).Msg("timing conflicts need a decision")
		return nil
	})
	events.On(bus, func(e events.SyncCompleted) error {
		ev := log.Info()
		if e.Err != nil {
			ev = log.Warn().Err(e.Err)
		}
		ev.Int("flushed", e.Flushed).Int("failed", e.Failed).Int("conflicts", e.Conflicts).Msg("sync finished")
		return nil
	})
}
