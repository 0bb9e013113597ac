// Command findqueryd is the query worker: it owns the SQLite database, the
// ranking pipeline, and the online learning engine, and exposes them over
// IPC to the host and the GUI shell. Modeled on joestump-claude-ops's
// cmd/claudeops/main.go cobra/viper/signal-handling shape, with the
// supervisor's readiness-marker/ping/shutdown protocol from
// internal/ipc.ServiceBase.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/findcore/findcore/internal/config"
	"github.com/findcore/findcore/internal/ipc"
	"github.com/findcore/findcore/internal/learning"
	"github.com/findcore/findcore/internal/ranking"
	"github.com/findcore/findcore/internal/storage"
)

const appName = "findcore"

func main() {
	rootCmd := &cobra.Command{
		Use:   "findqueryd",
		Short: "findcore query worker: ranking pipeline and online learning engine",
		RunE:  run,
	}

	f := rootCmd.Flags()
	config.RegisterFlags(f, appName)
	f.Bool("verbose", false, "enable debug logging")
	f.Duration("idle-cycle-interval", 90*time.Second, "interval between automatic idle training cycle attempts")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	verbose, _ := cmd.Flags().GetBool("verbose")
	idleInterval, _ := cmd.Flags().GetDuration("idle-cycle-interval")

	logger := newLogger(verbose).With(zap.String("component", "findqueryd"))
	defer logger.Sync() //nolint:errcheck

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("findqueryd: create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.RuntimeDir, 0o755); err != nil {
		return fmt.Errorf("findqueryd: create runtime dir: %w", err)
	}

	db, err := storage.Open(filepath.Join(cfg.DataDir, "index.db"))
	if err != nil {
		return fmt.Errorf("findqueryd: open database: %w", err)
	}
	defer db.Close() //nolint:errcheck

	reg := prometheus.NewRegistry()

	engine := learning.New(db, learning.DefaultConfig(), filepath.Join(cfg.ModelsDir, "online-ranker-v1"), logger, reg)
	if err := engine.SeedBootstrap(cfg.OnlineRankerBootstrapDir); err != nil {
		logger.Warn("failed to seed bootstrap model", zap.Error(err))
	}
	if err := engine.Initialize(); err != nil {
		logger.Warn("failed to load active learning model, starting cold", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	indexerClient := ipc.NewClient("indexer", ipc.SocketPathFor(cfg.RuntimeDir, "indexer"), ipc.DefaultReconnectConfig(), logger)
	defer indexerClient.Close()
	inferenceClient := ipc.NewClient("inference", ipc.SocketPathFor(cfg.RuntimeDir, "inference"), ipc.DefaultReconnectConfig(), logger)
	defer inferenceClient.Close()
	extractorClient := ipc.NewClient("extractor", ipc.SocketPathFor(cfg.RuntimeDir, "extractor"), ipc.DefaultReconnectConfig(), logger)
	defer extractorClient.Close()
	go indexerClient.RunAutoReconnect(ctx, 2000)
	go inferenceClient.RunAutoReconnect(ctx, 2000)
	go extractorClient.RunAutoReconnect(ctx, 2000)

	pipeline := &ranking.Pipeline{
		Lexical:  lexicalClient{indexerClient},
		Semantic: semanticClient{inferenceClient},
		Items:    storageItemLookup{db},
		Scorer:   ranking.NewScorer(ranking.DefaultScoringWeights(), ranking.DefaultContextSignals{}),
		LTR:      ranking.NewPersonalizedLTR(filepath.Join(cfg.ModelsDir, "personalized-ltr", "model.json")),
		Exposer:  engine,
	}

	answers := ranking.NewAnswerLedger(128)

	base := ipc.NewServiceBase("query", ipc.SocketPathFor(cfg.RuntimeDir, "query"), logger, cancel)
	registerHandlers(base, pipeline, engine, answers, extractorClient, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	go runIdleCycleLoop(ctx, engine, idleInterval, logger)

	if err := base.Run(ctx); err != nil {
		return fmt.Errorf("findqueryd: serve: %w", err)
	}
	return nil
}

func runIdleCycleLoop(ctx context.Context, engine *learning.Engine, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ran, reason, err := engine.MaybeRunIdleCycle()
			if err != nil {
				logger.Warn("idle training cycle failed", zap.Error(err), zap.String("reason", reason))
				continue
			}
			if ran {
				logger.Info("idle training cycle completed", zap.String("reason", reason))
			}
		}
	}
}

func newLogger(verbose bool) *zap.Logger {
	if verbose {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}
