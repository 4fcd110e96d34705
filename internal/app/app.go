// Package app is the composition root of the drey service: it builds every component
// from configuration, wires them together and runs them until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/drey/internal/agents"
	"github.com/dyluth/drey/internal/config"
	"github.com/dyluth/drey/internal/embedding"
	"github.com/dyluth/drey/internal/pipeline"
	"github.com/dyluth/drey/internal/repository"
	"github.com/dyluth/drey/internal/server"
	"github.com/dyluth/drey/internal/telemetry"
	"github.com/dyluth/drey/internal/vectorindex"
	"github.com/dyluth/drey/internal/worker"
	"github.com/dyluth/drey/pkg/blackboard"
	"github.com/dyluth/drey/pkg/objective"
)

const shutdownTimeout = 10 * time.Second

// App holds the wired service.
type App struct {
	Config     *config.Config
	Telemetry  *telemetry.Provider
	Blackboard *blackboard.Client
	Repository *repository.SQLite
	Index      *vectorindex.Index
	Pipeline   *pipeline.Pipeline
	Worker     *worker.Worker
	Server     *server.Server
}

// New builds every component from cfg. Connections opened before a failure are closed.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// 1. Telemetry
	a.Telemetry, err = telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialise telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics(a.Telemetry.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	// 2. Redis: staging store and event stream
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return nil, err
	}
	a.Blackboard, err = blackboard.NewClient(redisOpts, cfg.Namespace, blackboard.Options{
		DefaultTTL:   cfg.Staging.DefaultTTL,
		StreamName:   cfg.Stream.Name,
		StreamMaxLen: cfg.Stream.MaxLen,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create blackboard client: %w", err)
	}
	if err := a.Blackboard.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis not accessible at %s: %w", redisOpts.Addr, err)
	}

	// 3. Relational store
	a.Repository, err = repository.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	// 4. Semantic index
	embedder, err := embedding.NewHashingEmbedder(cfg.Embedding.Dimension)
	if err != nil {
		return nil, err
	}
	a.Index = vectorindex.New(cfg.Embedding.Dimension)

	// 5. Pipeline
	a.Pipeline, err = pipeline.New(pipeline.Deps{
		Staging:    a.Blackboard,
		Events:     a.Blackboard,
		Repository: a.Repository,
		Knowledge:  a.Repository,
		Index:      a.Index,
		Embedder:   embedder,
		Structurer: agents.NewRuleBasedStructurer(),
		Planner:    agents.NewRuleBasedPlanner(),
		Tracer:     a.Telemetry.Tracer,
		Metrics:    metrics,
	}, pipeline.Options{
		Namespace:  cfg.Namespace,
		StagingTTL: cfg.Staging.DefaultTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	// 6. Worker
	a.Worker = worker.New(a.Blackboard, worker.Options{
		Namespace:       cfg.Namespace,
		Group:           cfg.Stream.Group,
		Consumer:        cfg.Stream.Consumer,
		BatchSize:       cfg.Stream.BatchSize,
		Block:           cfg.Stream.Block,
		IdempotencySize: cfg.Worker.IdempotencySize,
		IdempotencyTTL:  cfg.Worker.IdempotencyTTL,
		AckOnFailure:    cfg.Worker.AckOnFailure == nil || *cfg.Worker.AckOnFailure,
	}, a.Telemetry.Tracer, metrics)
	a.Worker.Handle(objective.EventUserInputReceived, worker.ProcessHandler(a.Pipeline))

	// 7. HTTP API
	a.Server, err = server.New(server.Config{
		Addr:    cfg.Server.Addr,
		Service: a.Pipeline,
		Checks: map[string]server.Pinger{
			"redis":    a.Blackboard,
			"database": a.Repository,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	return a, nil
}

// Run rebuilds the vector index, starts the HTTP server and runs the worker until ctx
// is cancelled, then shuts the server down.
func (a *App) Run(ctx context.Context) error {
	log.Printf("[App] Starting drey for namespace '%s'", a.Config.Namespace)

	n, err := a.Pipeline.Backfill(ctx, pipeline.DefaultBackfillBatch)
	if err != nil {
		return fmt.Errorf("failed to backfill vector index: %w", err)
	}
	log.Printf("[App] Vector index rebuilt with %d objective(s)", n)

	if err := a.Server.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[App] Server shutdown error: %v", err)
		}
	}()

	if err := a.Worker.Run(ctx); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}

	log.Printf("[App] Stopped")
	return nil
}

// Close releases every connection. Safe to call on a partially built App.
func (a *App) Close() error {
	var errs []error
	if a.Repository != nil {
		errs = append(errs, a.Repository.Close())
	}
	if a.Blackboard != nil {
		errs = append(errs, a.Blackboard.Close())
	}
	if a.Telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		errs = append(errs, a.Telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
