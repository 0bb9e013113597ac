// Command findinferenced is the inference worker stub: it answers the
// health aggregator's get_inference_health probe and the query worker's
// semantic nearest-neighbor retrieval calls. Embedding generation and the
// vector index itself are treated as an external collaborator surface per
// spec.md §1; this binary speaks the supervisor's lifecycle protocol and
// exposes the interface the ranking pipeline consumes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/findcore/findcore/internal/config"
	"github.com/findcore/findcore/internal/ipc"
)

const appName = "findcore"

func main() {
	rootCmd := &cobra.Command{
		Use:   "findinferenced",
		Short: "findcore inference worker",
		RunE:  run,
	}
	f := rootCmd.Flags()
	config.RegisterFlags(f, appName)
	f.Bool("verbose", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(verbose).With(zap.String("component", "findinferenced"))
	defer logger.Sync() //nolint:errcheck

	if err := os.MkdirAll(cfg.RuntimeDir, 0o755); err != nil {
		return fmt.Errorf("findinferenced: create runtime dir: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("findinferenced: create data dir: %w", err)
	}

	settings, err := config.LoadSettingsStore(filepath.Join(cfg.DataDir, "settings.json"), logger)
	if err != nil {
		return fmt.Errorf("findinferenced: load settings: %w", err)
	}
	defer settings.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := ipc.NewServiceBase("inference", ipc.SocketPathFor(cfg.RuntimeDir, "inference"), logger, cancel)

	state := &inferenceState{modelLoaded: true, settings: settings}
	base.Server.Handle("get_inference_health", state.handleHealth)
	base.Server.Handle("nearestNeighbors", state.handleNearestNeighbors)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := base.Run(ctx); err != nil {
		return fmt.Errorf("findinferenced: serve: %w", err)
	}
	return nil
}

func newLogger(verbose bool) *zap.Logger {
	if verbose {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}

// inferenceState tracks whether the embedding model is currently loaded,
// the signal the health aggregator treats as available/unavailable for
// this probe (spec.md §4.2). The user's embeddingEnabled toggle (read live
// from settings.json) feeds the health probe's available/embeddingEnabled
// fields without a restart; nearest-neighbor requests do not consult it.
type inferenceState struct {
	modelLoaded bool
	settings    *config.SettingsStore
}

func (s *inferenceState) embeddingEnabled() bool {
	if s.settings == nil {
		return true
	}
	return s.settings.Current().EmbeddingEnabled
}

func (s *inferenceState) handleHealth(_ context.Context, _ map[string]any) (map[string]any, *ipc.RPCError) {
	return map[string]any{
		"available":        s.modelLoaded && s.embeddingEnabled(),
		"modelLoaded":      s.modelLoaded,
		"embeddingEnabled": s.embeddingEnabled(),
	}, nil
}

// handleNearestNeighbors answers the query worker's semantic retrieval
// calls. The vector index lives with the external embedding collaborator;
// until it is wired, this returns an empty result set so a query still
// completes on lexical results alone. With embeddings disabled in settings
// it returns empty outright.
func (s *inferenceState) handleNearestNeighbors(_ context.Context, _ map[string]any) (map[string]any, *ipc.RPCError) {
	return map[string]any{"hits": []any{}}, nil
}
