package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/Wikid82/rampart/internal/config"
	"github.com/Wikid82/rampart/internal/database"
	"github.com/Wikid82/rampart/internal/defense"
	"github.com/Wikid82/rampart/internal/logger"
	"github.com/Wikid82/rampart/internal/metrics"
	"github.com/Wikid82/rampart/internal/server"
	"github.com/Wikid82/rampart/internal/services"
	"github.com/Wikid82/rampart/internal/store"
	"github.com/Wikid82/rampart/internal/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server. Configuration comes from defaults, the YAML file
named by RAMPART_CONFIG and RAMPART_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	setupLogging(cfg)
	logger.Log().Infof("starting %s %s", version.Name, version.Full())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *gorm.DB
	if cfg.Security.ArchiveEvents {
		db, err = database.Connect(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("connect database: %v", err)
		}
	}

	opts, closeStores, err := engineOptions(ctx, cfg.Security)
	if err != nil {
		log.Fatalf("configure defense engine: %v", err)
	}
	defer closeStores()

	var archiver *services.EventArchiver
	if db != nil {
		archiver = services.NewEventArchiver(services.NewSecurityService(db), 0)
		opts.Sinks = append(opts.Sinks, archiver)
	}
	notifier := services.NewNotifier(cfg.Security.NotifyURLs, cfg.Security.NotifyPerMinute)
	opts.Sinks = append(opts.Sinks, notifier)

	engine, err := defense.New(opts)
	if err != nil {
		log.Fatalf("create defense engine: %v", err)
	}
	if err := engine.Start(); err != nil {
		log.Fatalf("start defense engine: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	srv, err := server.New(engine, db, registry, cfg)
	if err != nil {
		log.Fatalf("create server: %v", err)
	}

	runErr := srv.Run(ctx)

	engine.Close()
	if archiver != nil {
		archiver.Close()
		if n := archiver.Dropped(); n > 0 {
			logger.Log().WithField("dropped", n).Warn("events were not archived")
		}
	}
	notifier.Wait()

	if runErr != nil {
		return fmt.Errorf("server error: %w", runErr)
	}
	logger.Log().Info("shutdown complete")
	return nil
}

// setupLogging sends logs to stdout and a rotated file under cfg.LogDir.
func setupLogging(cfg config.Config) {
	out, err := logger.Setup(logger.Options{Debug: cfg.Debug, Dir: cfg.LogDir})
	if err != nil {
		log.Printf("WARNING: logging to stdout only: %v", err)
	}
	log.SetOutput(out)
}

// engineOptions turns configuration into engine options: rules, allowlist
// and the state stores for the selected backend. The returned func releases
// the store connection.
func engineOptions(ctx context.Context, cfg config.SecurityConfig) (defense.Options, func(), error) {
	noop := func() {}
	opts := defense.DefaultOptions()
	opts.Allowlist = cfg.Allowlist
	opts.TrustProxyHeaders = cfg.TrustProxyHeaders
	if cfg.MaxBodyBytes > 0 {
		opts.MaxBodyBytes = cfg.MaxBodyBytes
	}

	if cfg.RulesFile != "" {
		rules, err := defense.LoadRulesFile(cfg.RulesFile)
		if err != nil {
			return defense.Options{}, noop, err
		}
		opts.Rules = rules
	}

	if cfg.StoreBackend == config.StoreRedis {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		client, err := store.NewRedisClient(connectCtx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return defense.Options{}, noop, err
		}
		opts.IPs = store.NewRedis[*defense.IPInfo](client, cfg.RedisPrefix+"ip:")
		opts.Blocked = store.NewRedis[time.Time](client, cfg.RedisPrefix+"blocked:")
		opts.Counters = store.NewRedisCounters(client, cfg.RedisPrefix+"rl:")
		return opts, func() { _ = client.Close() }, nil
	}
	return opts, noop, nil
}
