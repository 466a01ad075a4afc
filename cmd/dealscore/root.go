package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipedesk/dealscore/internal/engine"
	"github.com/pipedesk/dealscore/internal/infrastructure/db"
	"github.com/pipedesk/dealscore/internal/pipeline"
	"github.com/pipedesk/dealscore/internal/scoring"
)

var (
	scoringConfigPath string
	sweepRate         float64
)

// Execute runs the dealscore CLI
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:     appName,
		Short:   "Deal confidence scoring engine",
		Long:    "Computes and maintains 0-100 confidence scores for open sales deals:\ncall-score factors, engagement milestones and time-decay penalties,\nwith full per-deal history and audit ledgers.",
		Version: version,
	}

	root.PersistentFlags().StringVar(&scoringConfigPath, "scoring-config", "",
		"Path to scoring.yaml (built-in defaults when empty)")
	root.PersistentFlags().Float64Var(&sweepRate, "sweep-rate", 50,
		"Max sweep recalculations per second (0 disables the throttle)")

	root.AddCommand(serveCmd(ctx))
	root.AddCommand(sweepCmd(ctx))
	root.AddCommand(recalcCmd(ctx))

	return root.ExecuteContext(ctx)
}

// runtime bundles the wired components shared by all subcommands
type runtime struct {
	manager *db.Manager
	cache   *pipeline.Cache
	engine  *engine.Orchestrator
}

func (rt *runtime) Close() {
	if rt.cache != nil {
		rt.cache.Close()
	}
	if rt.manager != nil {
		rt.manager.Close()
	}
}

func loadScoringConfig() (*scoring.Config, error) {
	if scoringConfigPath == "" {
		return scoring.DefaultConfig(), nil
	}
	return scoring.LoadConfig(scoringConfigPath)
}

// buildRuntime wires the database, optional Redis cache and the engine.
// Redis is optional: an unset REDIS_ADDR runs the engine cache-less.
func buildRuntime(opts ...engine.Option) (*runtime, error) {
	cfg, err := loadScoringConfig()
	if err != nil {
		return nil, err
	}

	manager, err := db.NewManager(db.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	rt := &runtime{manager: manager}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cache, err := pipeline.NewCache(addr, os.Getenv("REDIS_PASSWORD"), 0, 5*time.Minute)
		if err != nil {
			manager.Close()
			return nil, fmt.Errorf("redis init failed: %w", err)
		}
		rt.cache = cache
		opts = append(opts, engine.WithInvalidator(cache))
	}

	opts = append(opts, engine.WithSweepRate(sweepRate))
	eng, err := engine.New(manager.Repository(), cfg, opts...)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.engine = eng
	return rt, nil
}
