// rpcqueue relays run records to remote sinks through bounded, retrying
// dispatch queues.
//
// Batches arrive over HTTP (POST /api/v1/runs/{run}/records) or MQTT
// ({prefix}/ingest/{run}) and are written to every enabled sink: the SQLite
// run store, InfluxDB, and the MQTT forward topic. Each sink has its own
// queue, so one unreachable sink never stalls the others.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nerrad567/rpcqueue/internal/api"
	"github.com/nerrad567/rpcqueue/internal/cleanup"
	"github.com/nerrad567/rpcqueue/internal/dispatch"
	"github.com/nerrad567/rpcqueue/internal/infrastructure/config"
	"github.com/nerrad567/rpcqueue/internal/infrastructure/database"
	"github.com/nerrad567/rpcqueue/internal/infrastructure/influxdb"
	"github.com/nerrad567/rpcqueue/internal/infrastructure/logging"
	"github.com/nerrad567/rpcqueue/internal/infrastructure/mqtt"
	"github.com/nerrad567/rpcqueue/internal/relay"
	"github.com/nerrad567/rpcqueue/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// Teardown order: stop intake, drain queues, then release sinks.
const (
	priorityHealthDown = 300
	priorityAPI        = 200
	priorityIngest     = 150
	prioritySinks      = 10
	priorityHealthStop = 0
)

// healthPollInterval is how often the gRPC health status follows the queues.
const healthPollInterval = 5 * time.Second

func main() {
	// Cancel on Ctrl+C and SIGTERM; queues drain before exit.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, stdout io.Writer) (err error) {
	flags := pflag.NewFlagSet("rpcqueue", pflag.ContinueOnError)
	configFlag := flags.StringP("config", "c", "", "path to the YAML configuration file (env RPCQUEUE_CONFIG)")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Fprintf(stdout, "rpcqueue %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	configPath := getConfigPath(*configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version).With("instance", cfg.Relay.Instance)
	log.Info("starting rpcqueue",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
	)

	registry := cleanup.New(log.Component("cleanup"))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout)
		defer cancel()
		err = multierr.Append(err, registry.Run(shutdownCtx))
	}()

	sinks, err := openSinks(ctx, cfg, log, registry)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	healthSrv := health.NewServer()
	rl, err := relay.New(relay.Config{
		Queue:      cfg.Queue,
		Supervisor: cfg.Supervisor,
		Logger:     log.Component("dispatch"),
		Metrics:    dispatch.NewMetrics(reg),
		OnFatal: func(*dispatch.FatalError) {
			healthSrv.SetServingStatus(cfg.Relay.Instance, healthpb.HealthCheckResponse_NOT_SERVING)
		},
	}, sinks.list...)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	rl.RegisterCleanup(registry)

	if cfg.Health.Enabled {
		if err := startHealth(ctx, cfg, healthSrv, rl, log, registry); err != nil {
			return err
		}
	}

	if cfg.MQTT.Ingest {
		topic := sinks.mqtt.Topics().AllIngest()
		if err := sinks.mqtt.Subscribe(topic, byte(cfg.MQTT.QoS), rl.HandleIngest); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		registry.Register("mqtt-ingest", priorityIngest, func(context.Context) error {
			return ignoreNotConnected(sinks.mqtt.Unsubscribe(topic))
		})
		log.Info("MQTT ingest subscribed", "topic", topic)
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		Logger:   log.Component("api"),
		Relay:    rl,
		Checks:   sinks.checks,
		Gatherer: reg,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	registry.Register("api", priorityAPI, server.Shutdown)

	log.Info("rpcqueue running", "queues", rl.Names(), "api", server.Addr())

	<-ctx.Done()
	log.Info("shutdown signal received, draining queues", "timeout", cfg.Queue.ShutdownTimeout)
	return nil
}

// getConfigPath returns the configuration file path.
// Priority: --config flag, RPCQUEUE_CONFIG, default path.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("RPCQUEUE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// openedSinks holds the connected sinks in fixed order.
type openedSinks struct {
	list   []relay.Sink
	checks map[string]api.HealthChecker
	mqtt   *mqtt.Client
}

// openSinks connects every enabled sink concurrently. Each opened sink is
// registered for teardown even if another one fails.
func openSinks(ctx context.Context, cfg *config.Config, log *logging.Logger, registry *cleanup.Registry) (*openedSinks, error) {
	var (
		db         *database.DB
		influx     *influxdb.Client
		mqttClient *mqtt.Client
	)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Database.Enabled {
		g.Go(func() error {
			d, err := database.Open(gctx, database.Config{
				Path:        cfg.Database.Path,
				WALMode:     cfg.Database.WALMode,
				BusyTimeout: cfg.Database.BusyTimeout,
			})
			if err != nil {
				return fmt.Errorf("opening database: %w", err)
			}
			registry.Register("database", prioritySinks, func(context.Context) error { return d.Close() })
			if err := d.Migrate(gctx, migrations.FS); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			db = d
			log.Info("database ready", "path", cfg.Database.Path)
			return nil
		})
	}

	if cfg.InfluxDB.Enabled {
		g.Go(func() error {
			c, err := influxdb.Connect(gctx, cfg.InfluxDB)
			if err != nil {
				return fmt.Errorf("connecting to InfluxDB: %w", err)
			}
			registry.Register("influxdb", prioritySinks, func(context.Context) error { return c.Close() })
			influx = c
			log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
			return nil
		})
	}

	if cfg.MQTT.Enabled {
		g.Go(func() error {
			c, err := mqtt.Connect(gctx, cfg.MQTT)
			if err != nil {
				return fmt.Errorf("connecting to MQTT: %w", err)
			}
			c.SetLogger(log.Component("mqtt"))
			registry.Register("mqtt", prioritySinks, func(context.Context) error { return c.Close() })
			mqttClient = c
			log.Info("MQTT connected",
				"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
				"client_id", cfg.MQTT.Broker.ClientID,
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &openedSinks{checks: make(map[string]api.HealthChecker), mqtt: mqttClient}
	if db != nil {
		store := database.NewRunStore(db)
		out.list = append(out.list, store)
		out.checks[store.Name()] = db
	}
	if influx != nil {
		out.list = append(out.list, influx)
		out.checks[influx.Name()] = influx
	}
	if mqttClient != nil {
		if cfg.MQTT.Forward {
			out.list = append(out.list, mqtt.NewForwarder(mqttClient, byte(cfg.MQTT.QoS)))
		}
		out.checks["mqtt"] = mqttClient
	}
	return out, nil
}

// startHealth serves grpc.health.v1 for the instance and keeps its status
// in line with the relay's queues.
func startHealth(ctx context.Context, cfg *config.Config, hs *health.Server, rl *relay.Relay, log *logging.Logger, registry *cleanup.Registry) error {
	addr := fmt.Sprintf(":%d", cfg.Health.Port)
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening for health on %s: %w", addr, err)
	}

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(cfg.Relay.Instance, healthpb.HealthCheckResponse_SERVING)

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("health server error", "error", err)
		}
	}()

	pollCtx, stopPoll := context.WithCancel(context.Background())
	go followRelay(pollCtx, hs, cfg.Relay.Instance, rl)

	registry.Register("health-down", priorityHealthDown, func(context.Context) error {
		stopPoll()
		hs.Shutdown()
		return nil
	})
	registry.Register("health", priorityHealthStop, func(context.Context) error {
		srv.GracefulStop()
		return nil
	})

	log.Info("gRPC health serving", "address", ln.Addr().String(), "service", cfg.Relay.Instance)
	return nil
}

// followRelay mirrors rl.Healthy into the health status until ctx is done.
func followRelay(ctx context.Context, hs *health.Server, service string, rl *relay.Relay) {
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status := healthpb.HealthCheckResponse_SERVING
		if !rl.Healthy() {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus(service, status)
	}
}

func ignoreNotConnected(err error) error {
	if errors.Is(err, mqtt.ErrNotConnected) {
		return nil
	}
	return err
}
