package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/relay/go/internal/backend"
	"github.com/mcdev12/relay/go/internal/backend/gateway"
	"github.com/mcdev12/relay/go/internal/config"
	"github.com/mcdev12/relay/go/internal/realtime"
)

type Services struct {
	Race    *backend.Service
	Gateway *gateway.ConnectionManager
	NATS    *realtime.NATSChannel

	stopForward func()
}

// setupServices wires repository → app → service. Without NATS the app
// publishes straight into the local gateway; with NATS every relayd instance
// publishes to NATS and forwards the team subjects into its own gateway.
func setupServices(ctx context.Context, cfg *config.Config, repo backend.Repository, reg prometheus.Registerer) (*Services, error) {
	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	s := &Services{Gateway: cm}

	var publisher realtime.Publisher = cm
	if cfg.NATS.URL != "" {
		natsCfg := realtime.DefaultNATSConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
		natsCfg.ReconnectWait = cfg.NATS.ReconnectWait

		nc, err := realtime.ConnectNATS(natsCfg)
		if err != nil {
			return nil, err
		}
		stop, err := cm.Forward(ctx, nc)
		if err != nil {
			nc.Close()
			return nil, err
		}
		s.NATS = nc
		s.stopForward = stop
		publisher = nc
		log.Info().Str("url", natsCfg.URL).Str("prefix", natsCfg.SubjectPrefix).Msg("broadcasting over NATS")
	}

	app := backend.NewApp(repo, publisher, clockwork.NewRealClock())
	s.Race = backend.NewService(app)

	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "relay",
		Subsystem: "gateway",
		Name:      "connections",
		Help:      "Open device websocket connections.",
	}, func() float64 {
		return float64(cm.Stats().TotalConnections)
	}))

	return s, nil
}

func (s *Services) Close() {
	if s.stopForward != nil {
		s.stopForward()
	}
	if s.NATS != nil {
		s.NATS.Close()
	}
}

func setupHealth(pool *pgxpool.Pool, services *Services) *backend.HealthChecker {
	var db backend.Pinger
	if pool != nil {
		db = pool
	}
	var nats backend.ConnectionChecker
	if services.NATS != nil {
		nats = services.NATS
	}
	return backend.NewHealthChecker(db, nats, func() int {
		return services.Gateway.Stats().TotalConnections
	})
}
