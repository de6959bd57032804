package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dd0wney/cluso-signaling/pkg/auth"
	"github.com/dd0wney/cluso-signaling/pkg/cluster"
	"github.com/dd0wney/cluso-signaling/pkg/config"
	"github.com/dd0wney/cluso-signaling/pkg/health"
	"github.com/dd0wney/cluso-signaling/pkg/logging"
	"github.com/dd0wney/cluso-signaling/pkg/metrics"
	"github.com/dd0wney/cluso-signaling/pkg/room"
	"github.com/dd0wney/cluso-signaling/pkg/server"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	port := flag.Int("port", 0, "Listen port (overrides config)")
	redisAddr := flag.String("redis", "", "Redis address (overrides config, enables clustering)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *redisAddr != "" {
		cfg.Redis.Addr = *redisAddr
	}

	log := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.Logging.Level))
	m := metrics.NewRegistry()

	validator, err := auth.NewJWTValidator(cfg.Auth.JWTSecret)
	if err != nil {
		log.Error("invalid JWT secret", logging.Error(err))
		os.Exit(1)
	}

	registry := room.NewRegistry()
	policy := cfg.RoomPolicy()

	var coordinator room.Coordinator
	var storePing func() error
	clustered := false

	if cfg.Clustered() {
		clusterCfg := cfg.ClusterConfig()
		store, err := cluster.NewRedisStore(context.Background(), cfg.RedisConfig(), log)
		if err != nil {
			// A dead store at boot is not fatal: run local-only and let
			// operators fix Redis without a crash loop
			log.Warn("coordination store unreachable, starting in local mode",
				logging.String("addr", cfg.Redis.Addr),
				logging.Error(err))
			coordinator = room.NewLocalCoordinator(registry, policy, log, m)
		} else {
			coord, err := cluster.NewCoordinator(clusterCfg, store, registry, policy, log, m)
			if err != nil {
				log.Error("invalid cluster configuration", logging.Error(err))
				os.Exit(1)
			}
			if err := coord.Start(context.Background()); err != nil {
				log.Error("cluster startup failed", logging.Error(err))
				os.Exit(1)
			}
			coordinator = coord
			clustered = true
			storePing = func() error {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.Timeout)
				defer cancel()
				return store.Ping(ctx)
			}
			log.Info("cluster mode enabled",
				logging.Node(clusterCfg.NodeID),
				logging.String("store", cfg.Redis.Addr))
		}
	} else {
		coordinator = room.NewLocalCoordinator(registry, policy, log, m)
		log.Info("local mode enabled, no coordination store configured")
	}
	defer coordinator.Close()

	checker := health.NewChecker(cfg.Cluster.NodeID)
	checker.RegisterLivenessCheck("process", func() health.Check {
		return health.Check{Name: "process", Status: health.StatusHealthy}
	})
	checker.RegisterReadinessCheck("store", health.StoreCheck(storePing))
	checker.RegisterCheck("store", health.StoreCheck(storePing))
	checker.RegisterCheck("cluster", health.ClusterCheck(func() (bool, bool) {
		return clustered, coordinator.Healthy(context.Background())
	}))
	checker.RegisterCheck("connections", health.ConnectionsCheck(registry.Len, cfg.Server.MaxConnections))
	checker.RegisterCheck("memory", health.MemoryCheck(m.MemoryUsage))

	srv := server.New(cfg.Server, validator, coordinator, checker, m, log)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	gs := server.NewGracefulServer(addr, srv.Routes(), cfg.Server.ShutdownTimeout, log)

	// System gauges on a slow tick
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gs.ShutdownChannel():
				return
			case <-ticker.C:
				m.UpdateSystemMetrics()
			}
		}
	}()

	log.Info("signaling server starting",
		logging.String("addr", addr),
		logging.Bool("clustered", clustered))

	if err := gs.Start(); err != nil {
		log.Error("server failed", logging.Error(err))
		os.Exit(1)
	}
}
