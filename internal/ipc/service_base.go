package ipc

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// ServiceBase wires the two reserved methods every worker exposes
// (ping/shutdown) onto a Server listening on the socket path its caller
// supplies.
type ServiceBase struct {
	Name   string
	Server *Server
	logger *zap.Logger

	shutdownFn func()
}

// SocketPathFor returns "${runtimeDir}/${serviceName}.sock", per spec.md §6.
func SocketPathFor(runtimeDir, serviceName string) string {
	return filepath.Join(runtimeDir, serviceName+".sock")
}

// RuntimeDir resolves RUNTIME_DIR from the environment, defaulting to
// "/tmp/<app>-<uid>" per spec.md §6.
func RuntimeDir(appName string) string {
	if v := os.Getenv("RUNTIME_DIR"); v != "" {
		return v
	}
	return filepath.Join(os.TempDir(), appName+"-"+currentUID())
}

func currentUID() string {
	return strconv.Itoa(os.Getuid())
}

// NewServiceBase creates a ServiceBase bound to socketPath. onShutdown is
// invoked once the shutdown RPC is acknowledged, and should cancel the
// process's root context; the caller is responsible for a hard exit after a
// bounded grace period (the supervisor also enforces its own timeout before
// sending a terminate signal).
func NewServiceBase(name, socketPath string, logger *zap.Logger, onShutdown func()) *ServiceBase {
	sb := &ServiceBase{
		Name:       name,
		Server:     NewServer(socketPath, logger),
		logger:     logger,
		shutdownFn: onShutdown,
	}
	sb.Server.Handle("ping", sb.handlePing)
	sb.Server.Handle("shutdown", sb.handleShutdown)
	return sb
}

func (sb *ServiceBase) handlePing(_ context.Context, _ map[string]any) (map[string]any, *RPCError) {
	return map[string]any{
		"pong":      true,
		"timestamp": time.Now().UnixMilli(),
		"service":   sb.Name,
	}, nil
}

func (sb *ServiceBase) handleShutdown(_ context.Context, _ map[string]any) (map[string]any, *RPCError) {
	if sb.shutdownFn != nil {
		go sb.shutdownFn()
	}
	return map[string]any{"shutting_down": true}, nil
}

// Run starts serving on the bound socket and blocks until ctx is cancelled.
func (sb *ServiceBase) Run(ctx context.Context) error {
	return sb.Server.ListenAndServe(ctx)
}
