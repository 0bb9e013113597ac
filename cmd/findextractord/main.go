// Command findextractord is the text-extraction worker: spec.md §1 delegates
// "extracting text from specific container formats (PDF, office, OCR)" to an
// external extractor, so this binary's extraction itself stays a stub (plain
// files only); its role in the core module is to speak the supervisor's
// lifecycle protocol and serve the query worker's answer-snippet requests
// (spec.md §4.4) over the reserved ping RPC plus extractSnippet.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/findcore/findcore/internal/config"
	"github.com/findcore/findcore/internal/ipc"
)

const appName = "findcore"

func main() {
	rootCmd := &cobra.Command{
		Use:   "findextractord",
		Short: "findcore text extraction worker",
		RunE:  run,
	}
	f := rootCmd.Flags()
	config.RegisterFlags(f, appName)
	f.Bool("verbose", false, "enable debug logging")
	f.Int64("extract-permits", 2, "max concurrent extractions")
	f.Int("extract-acquire-timeout-ms", 500, "permit acquisition timeout")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(verbose).With(zap.String("component", "findextractord"))
	defer logger.Sync() //nolint:errcheck

	if err := os.MkdirAll(cfg.RuntimeDir, 0o755); err != nil {
		return fmt.Errorf("findextractord: create runtime dir: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("findextractord: create data dir: %w", err)
	}

	settings, err := config.LoadSettingsStore(filepath.Join(cfg.DataDir, "settings.json"), logger)
	if err != nil {
		return fmt.Errorf("findextractord: load settings: %w", err)
	}
	defer settings.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	permits, _ := cmd.Flags().GetInt64("extract-permits")
	if !cmd.Flags().Changed("extract-permits") {
		permits = int64(settings.Current().ExtractionPermits)
	}
	acquireTimeoutMs, _ := cmd.Flags().GetInt("extract-acquire-timeout-ms")
	pool := newExtractionPool(permits, time.Duration(acquireTimeoutMs)*time.Millisecond)

	base := ipc.NewServiceBase("extractor", ipc.SocketPathFor(cfg.RuntimeDir, "extractor"), logger, cancel)
	base.Server.Handle("extractSnippet", func(reqCtx context.Context, params map[string]any) (map[string]any, *ipc.RPCError) {
		path, _ := params["path"].(string)
		if path == "" {
			return nil, &ipc.RPCError{Code: ipc.CodeInvalidParams, Message: "path is required"}
		}
		maxChars := 400
		if v, ok := params["maxChars"].(float64); ok && v > 0 {
			maxChars = int(v)
		}
		maxBytes := int64(settings.Current().MaxExtractionMB) * 1024 * 1024
		snippet, err := pool.withPermit(reqCtx, func() (string, error) {
			return extractPlainTextSnippet(path, maxChars, maxBytes)
		})
		if err != nil {
			logger.Debug("snippet extraction failed", zap.String("path", path), zap.Error(err))
			return map[string]any{"snippet": ""}, nil
		}
		return map[string]any{"snippet": snippet}, nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := base.Run(ctx); err != nil {
		return fmt.Errorf("findextractord: serve: %w", err)
	}
	return nil
}

// extractionPool bounds concurrent extraction with a counting semaphore, with
// a timeout on permit acquisition so a stuck extraction cannot back up the
// RPC loop indefinitely.
type extractionPool struct {
	sem            *semaphore.Weighted
	acquireTimeout time.Duration
}

func newExtractionPool(permits int64, acquireTimeout time.Duration) *extractionPool {
	if permits < 1 {
		permits = 1
	}
	return &extractionPool{
		sem:            semaphore.NewWeighted(permits),
		acquireTimeout: acquireTimeout,
	}
}

func (p *extractionPool) withPermit(ctx context.Context, fn func() (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire extraction permit: %w", err)
	}
	defer p.sem.Release(1)
	return fn()
}

// extractPlainTextSnippet reads a leading window of path and trims it to
// maxChars, refusing files over maxBytes (the user's extraction cap).
// Container formats (PDF, office, OCR) are out of scope here per spec.md §1;
// this stub only serves plain-text files, which is enough to exercise the
// answer-snippet sub-flow end to end.
func extractPlainTextSnippet(path string, maxChars int, maxBytes int64) (string, error) {
	if maxBytes > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		if info.Size() > maxBytes {
			return "", fmt.Errorf("file exceeds extraction cap: %d > %d bytes", info.Size(), maxBytes)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(data))
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	return text, nil
}

func newLogger(verbose bool) *zap.Logger {
	if verbose {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}
