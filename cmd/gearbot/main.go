// Command gearbot is the composition root for one cluster instance: it
// loads configuration, wires cache/datastore/backfill/queue/controller/
// dispatch/gatewayclient together, and serves /metrics, grounded on the
// teacher's main.go (flag parsing, manager construction, signal-driven
// shutdown) generalized from "one manager per simulated cluster" to "one
// instance of one cluster per process".
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gearbot/GearBot-2/internal/backfill"
	"github.com/gearbot/GearBot-2/internal/cache"
	"github.com/gearbot/GearBot-2/internal/config"
	"github.com/gearbot/GearBot-2/internal/controller"
	"github.com/gearbot/GearBot-2/internal/datastore"
	"github.com/gearbot/GearBot-2/internal/dispatch"
	"github.com/gearbot/GearBot-2/internal/gatewayclient"
	"github.com/gearbot/GearBot-2/internal/metrics"
	"github.com/gearbot/GearBot-2/internal/queue"
)

func main() {
	clusterID := flag.Int("cluster-id", 0, "this process's cluster id within CLUSTER_IDENTIFIER's topology")
	shardCount := flag.Int("shards", 0, "total shard count to run; 0 uses Discord's recommendation")
	metricsAddr := flag.String("metrics-addr", ":9091", "address to serve /metrics on")
	flag.Parse()

	log := config.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if err := run(*clusterID, *shardCount, *metricsAddr, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("gearbot exited with error")
	}
}

func run(clusterID, shardCount int, metricsAddr string, cfg *config.Config, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := datastore.Open(ctx, cfg.DatabaseURL, cfg.PoolConnections, cfg.EncryptionKey, log)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := metrics.New()

	c := cache.New(log, reg.CacheSink())

	followups := gatewayclient.NewFollowupClient(cfg.BotToken, log)

	// dispatcher and scheduler reference each other (Dispatch routes
	// GUILD_CREATE/CHUNK events into the scheduler; the scheduler's
	// ReadinessGate is the controller, built after both exist), so the
	// scheduler is built with a placeholder gate and rebound once the
	// controller exists — mirrors the two-step Controller/Consumer wiring
	// below, the same "later collaborator supplies the earlier one's
	// interface" pattern.
	gwManager := gatewayclient.New(cfg.BotToken, nil, log)

	gate := &readinessGate{}
	sched := backfill.New(log, c, gwManager, gate, 1)

	d := dispatch.New(log, c, sched, store, reg)
	gwManager.SetDispatcher(d)

	interactionHandler := dispatch.NewInteractionHandler(d, followups)

	topic := cfg.Topic(clusterID)
	producer, err := queue.NewProducer(cfg.KafkaBootstrap, topic, log)
	if err != nil {
		return err
	}
	defer producer.Close()

	self := uuid.New()
	ctl := controller.New(log, reg.ControllerSink(), self, producer, sched, interactionHandler)
	gate.controller = ctl

	consumer, err := queue.NewConsumer(cfg.KafkaBootstrap, topic, topic, ctl.Handler(), log)
	if err != nil {
		return err
	}
	ctl.AttachConsumer(consumer)

	if err := gwManager.Open(shardCount); err != nil {
		return err
	}
	defer gwManager.Close()

	sched.SetTotalShards(gwManager.ShardCount())

	ctl.Start(ctx)
	defer ctl.Shutdown()

	srv := &http.Server{Addr: metricsAddr, Handler: reg.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")
	return nil
}

// readinessGate defers to a *controller.Controller constructed after the
// scheduler that holds this gate.
type readinessGate struct {
	controller *controller.Controller
}

func (g *readinessGate) OnAllShardsBackfilled() {
	if g.controller != nil {
		g.controller.OnAllShardsBackfilled()
	}
}
