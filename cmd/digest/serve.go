package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/cuemby/digest/pkg/api"
	"github.com/cuemby/digest/pkg/config"
	"github.com/cuemby/digest/pkg/events"
	"github.com/cuemby/digest/pkg/health"
	"github.com/cuemby/digest/pkg/log"
	"github.com/cuemby/digest/pkg/metrics"
	"github.com/cuemby/digest/pkg/queue"
	"github.com/cuemby/digest/pkg/reconciler"
	"github.com/cuemby/digest/pkg/repair"
	"github.com/cuemby/digest/pkg/scheduler"
	"github.com/cuemby/digest/pkg/storage"
	"github.com/cuemby/digest/pkg/supervisor"
	"github.com/cuemby/digest/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the summary pipeline and the admin API",
	Long: `Start the summary pipeline: load group configs from the data directory,
schedule one job per group, run the supervised queue consumer, and serve the
admin API and the gRPC health service.

A health pass runs every health.interval. With health.auto_repair it starts
a stopped scheduler, respawns a dead consumer and removes orphaned jobs.
Use "digest repair" for a full repair.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("data-dir", "", "Data directory for group configs")
	serveCmd.Flags().String("api-addr", "", "Address for the HTTP admin API")
	serveCmd.Flags().String("grpc-addr", "", "Address for the gRPC health service")
	serveCmd.Flags().String("webhook-url", "", "POST due summaries to this URL instead of logging them")
}

// pipeline holds every long-running component of a server
type pipeline struct {
	store      *storage.BoltStore
	broker     *events.Broker
	queue      *queue.Queue
	supervisor *supervisor.Supervisor
	scheduler  *scheduler.Scheduler
	checker    *health.Checker
	repair     *repair.Orchestrator
	loop       *reconciler.Loop
	collector  *metrics.Collector
	api        *api.Server
	grpc       *api.GRPCHealth
}

func newPipeline(cfg *config.Config) (*pipeline, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "failed to create data directory %s", cfg.DataDir)
	}
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	metrics.UpdateComponent(metrics.ComponentStore, true, "")

	p := &pipeline{store: store}

	p.broker = events.NewBroker()
	p.broker.Start()

	p.queue = queue.New(cfg.Queue.Capacity)

	var proc queue.Processor = queue.LogProcessor{}
	if cfg.Processor.WebhookURL != "" {
		proc = queue.NewWebhookProcessor(cfg.Processor.WebhookURL, cfg.Processor.Timeout)
	}
	consumer := queue.NewConsumer(p.queue, proc, queue.ConsumerConfig{
		Concurrency: cfg.Queue.Concurrency,
		TaskTimeout: cfg.Queue.TaskTimeout,
	})
	p.supervisor = supervisor.New(consumer.Run, supervisor.Config{
		Name:        types.ConsumerName,
		GracePeriod: cfg.Supervisor.GracePeriod,
		Publisher:   p.broker,
	})

	p.scheduler = scheduler.NewScheduler(p.queue, loc)

	auditor := reconciler.NewAuditor(p.scheduler, store)
	p.checker = health.NewChecker(p.scheduler, p.supervisor, p.queue, auditor, health.Options{
		AutoRepair: cfg.Health.AutoRepair,
		Publisher:  p.broker,
	})
	if cfg.Processor.WebhookURL != "" {
		p.checker.AddProbe("summary webhook", health.NewHTTPProbe(cfg.Processor.WebhookURL), health.DefaultConfig())
	}

	p.repair = repair.New(repair.Deps{
		Consumer:  p.supervisor,
		Scheduler: p.scheduler,
		Store:     store,
		Auditor:   auditor,
		Health:    p.checker,
		Publisher: p.broker,
	})

	p.grpc = api.NewGRPCHealth()
	p.loop = reconciler.NewLoop(cfg.Health.Interval, p.healthPass)
	p.collector = metrics.NewCollector(p.snapshot, 15*time.Second)
	p.api = api.NewServer(api.Deps{
		Store:     store,
		Scheduler: p.scheduler,
		Health:    p.checker,
		Repair:    p.repair,
		OnHealth:  p.verdict,
	})

	return p, nil
}

func (p *pipeline) verdict(r *health.Report) {
	p.grpc.SetServing(r.Healthy)
}

// healthPass runs one periodic health check
func (p *pipeline) healthPass(ctx context.Context) error {
	report, err := p.checker.Check(ctx)
	if err != nil {
		return err
	}
	p.verdict(report)
	return nil
}

func (p *pipeline) snapshot() (metrics.Snapshot, error) {
	keys, err := p.store.ListGroupKeys()
	if err != nil {
		return metrics.Snapshot{}, err
	}
	return metrics.Snapshot{
		Groups:           len(keys),
		Jobs:             len(p.scheduler.JobNames()),
		SchedulerRunning: p.scheduler.IsRunning(),
		QueueSize:        p.queue.Len(),
		ConsumerActive:   p.supervisor.IsRunning(),
	}, nil
}

// storeCleanupJob removes invalid group records every night. It sits outside
// the summary job prefix, so audits ignore it.
const (
	storeCleanupJob      = "store_cleanup"
	storeCleanupSchedule = "0 0 4 * * *"
)

// cleanupStore drops records that can never be scheduled
func (p *pipeline) cleanupStore() {
	logger := log.WithComponent("serve")

	n, err := p.store.CleanupInvalidGroups()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to clean up invalid group configs")
		return
	}
	if n > 0 {
		logger.Info().Int("removed", n).Msg("Removed invalid group configs")
	}
}

// start schedules every stored group and starts the background components
func (p *pipeline) start(ctx context.Context) error {
	logger := log.WithComponent("serve")

	p.cleanupStore()
	if err := p.scheduler.AddFunc(storeCleanupJob, storeCleanupSchedule, p.cleanupStore); err != nil {
		return errors.Wrap(err, "failed to schedule store cleanup")
	}

	n, err := p.scheduler.LoadGroups(ctx, p.store)
	if err != nil {
		// Groups that failed to load are reported as unscheduled by the next
		// health pass and recreated by a repair.
		logger.Warn().Err(err).Int("loaded", n).Msg("Some groups could not be scheduled")
	} else {
		logger.Info().Int("groups", n).Msg("Groups scheduled")
	}

	if err := p.scheduler.Start(); err != nil {
		return errors.Wrap(err, "failed to start scheduler")
	}
	if out := p.supervisor.Restart(); !out.Success {
		return errors.Newf("failed to start queue consumer: %s", out.Message)
	}

	p.loop.Start()
	p.collector.Start()

	return p.healthPass(ctx)
}

// stop shuts components down in reverse dependency order
func (p *pipeline) stop(ctx context.Context) {
	logger := log.WithComponent("serve")

	p.loop.Stop()
	if err := p.api.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Admin API did not shut down cleanly")
	}
	p.grpc.Stop()
	p.repair.Close()
	p.scheduler.Stop()
	if err := p.supervisor.Stop(ctx); err != nil {
		logger.Warn().Err(err).Msg("Queue consumer did not stop in time")
	}
	p.collector.Stop()
	p.broker.Stop()
	if err := p.store.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close store")
	}
}

// logEvents writes pipeline events to the log until the subscription closes
func logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for ev := range sub {
		e := logger.Info()
		if ev.Type == events.EventHealthDegraded || ev.Type == events.EventConsumerFailed {
			e = logger.Warn()
		}
		e.Str("event", string(ev.Type)).Interface("metadata", ev.Metadata).Msg(ev.Message)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	metrics.SetVersion(Version)

	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	go logEvents(p.broker.Subscribe())

	ctx := context.Background()
	if err := p.start(ctx); err != nil {
		p.stop(ctx)
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		if err := p.api.Start(cfg.API.Addr); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := p.grpc.Start(cfg.API.GRPCAddr); err != nil {
			errCh <- err
		}
	}()

	fmt.Printf("Digest is running (API %s, gRPC %s). Press Ctrl+C to stop.\n", cfg.API.Addr, cfg.API.GRPCAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case runErr = <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.stop(shutdownCtx)

	fmt.Println("✓ Shutdown complete")
	return runErr
}
