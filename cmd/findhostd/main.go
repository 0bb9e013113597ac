// Command findhostd is the host process: it owns the single-instance lock,
// the service supervisor, and the health aggregator, and exposes a small
// HTTP surface (/healthz, /metrics) for the GUI shell and Prometheus
// scraping. Modeled on joestump-claude-ops's cmd/claudeops/main.go
// cobra/viper/signal-handling shape.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/findcore/findcore/internal/config"
	"github.com/findcore/findcore/internal/health"
	"github.com/findcore/findcore/internal/ipc"
	"github.com/findcore/findcore/internal/lock"
	"github.com/findcore/findcore/internal/supervisor"
)

const appName = "findcore"

func main() {
	rootCmd := &cobra.Command{
		Use:   "findhostd",
		Short: "findcore host process: supervisor, health aggregator, single-instance lock",
		RunE:  run,
	}

	f := rootCmd.Flags()
	config.RegisterFlags(f, appName)
	f.Int("http-port", 8787, "port for /healthz and /metrics")
	f.Bool("verbose", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	verbose, _ := cmd.Flags().GetBool("verbose")
	httpPort, _ := cmd.Flags().GetInt("http-port")

	logger := newLogger(verbose).With(zap.String("component", "findhostd"))
	defer logger.Sync() //nolint:errcheck

	if err := os.MkdirAll(cfg.RuntimeDir, 0o755); err != nil {
		return fmt.Errorf("findhostd: create runtime dir: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("findhostd: create data dir: %w", err)
	}

	instanceLock := lock.New(filepath.Join(cfg.DataDir, appName+".lock"), appName)
	acquired, err := instanceLock.TryLock(0)
	if err != nil {
		return fmt.Errorf("findhostd: acquire instance lock: %w", err)
	}
	if !acquired {
		owner, infoErr := lock.GetLockInfo(filepath.Join(cfg.DataDir, appName+".lock"))
		if infoErr == nil {
			logger.Info("another instance is already running, exiting",
				zap.Int("ownerPid", owner.PID), zap.String("ownerHost", owner.Host))
		}
		return nil
	}
	defer instanceLock.Unlock() //nolint:errcheck

	reg := prometheus.NewRegistry()

	sup := supervisor.New(supervisor.OSLauncher{}, cfg.RuntimeDir, supervisor.DefaultCrashBudget(), logger)
	sup.AddService("indexer", filepath.Join(binDir(), "findindexerd"))
	sup.AddService("query", filepath.Join(binDir(), "findqueryd"))
	sup.AddService("inference", filepath.Join(binDir(), "findinferenced"))
	sup.AddService("extractor", filepath.Join(binDir(), "findextractord"))

	agg := health.New(supervisorStatusAdapter{sup: sup}, cfg.InstanceID, logger, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := agg.Latest()
		w.Header().Set("Content-Type", "application/json")
		if snap == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"overall": "unavailable", "reason": "no_snapshot_yet"})
			return
		}
		_ = json.NewEncoder(w).Encode(snap)
	})
	httpServer := &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", httpPort), Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	if !sup.StartAll(ctx, 10*time.Second) {
		logger.Warn("not every service reached ready within the startup window")
	}

	go agg.Run(ctx)

	statusCh, unsubscribe := sup.Subscribe()
	defer unsubscribe()
	go func() {
		for ev := range statusCh {
			logger.Info("service status changed", zap.String("service", ev.Name), zap.String("state", string(ev.State)))
			agg.RequestRefresh()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	sup.StopAll(context.Background(), 3*time.Second)
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

func binDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// supervisorStatusAdapter narrows *supervisor.Supervisor to the
// health.ServiceStatusProvider interface so health does not need to import
// supervisor (the two packages only share the small status-query surface).
type supervisorStatusAdapter struct {
	sup *supervisor.Supervisor
}

func (a supervisorStatusAdapter) ServiceSnapshot() []health.ServiceStatus {
	managed := a.sup.ServiceSnapshot()
	out := make([]health.ServiceStatus, 0, len(managed))
	for _, m := range managed {
		out = append(out, health.ServiceStatus{
			Name:    m.Name,
			State:   string(m.State),
			Running: m.Running,
			Ready:   m.Ready,
		})
	}
	return out
}

func (a supervisorStatusAdapter) ProbeClient(name string) health.ProbeClient {
	client := a.sup.ClientFor(name)
	if client == nil {
		return nil
	}
	return ipcClientAdapter{client}
}

type ipcClientAdapter struct {
	c *ipc.Client
}

func (a ipcClientAdapter) SendRequest(method string, params map[string]any, timeoutMs int) (map[string]any, bool) {
	return a.c.SendRequest(method, params, timeoutMs)
}
