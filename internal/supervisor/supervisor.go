// Package supervisor owns the lifecycle of worker processes: registration,
// start/readiness, crash-budget restarts with exponential backoff, and
// shutdown. Adapted from joestump-claude-ops's ProcessRunner/CLIRunner split
// (internal/session/runner.go) and the control-plane actor's state machine
// described in original_source/src/app/control_plane/control_plane_actor.h.
package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/findcore/findcore/internal/ipc"
	"github.com/findcore/findcore/internal/notify"
)

// State is the managed-service lifecycle state, exactly the enumeration in
// spec.md §4.2.
type State string

const (
	StateRegistered State = "registered"
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateDegraded   State = "degraded"
	StateBackoff    State = "backoff"
	StateCrashed    State = "crashed"
	StateStopped    State = "stopped"
	StateGivingUp   State = "giving_up"
)

// LifecyclePhase tracks the supervisor's own phase, independent of any one
// service's state, so the shutdown-suppression rule in spec.md §4.2 can be
// enforced ("after ShuttingDown or Stopped, no further status signals").
type LifecyclePhase string

const (
	PhaseStarting     LifecyclePhase = "starting"
	PhaseRunning      LifecyclePhase = "running"
	PhaseShuttingDown LifecyclePhase = "shutting_down"
	PhaseStopped      LifecyclePhase = "stopped"
)

// CrashBudget bounds how many times a service may crash within Window before
// the supervisor gives up on it.
type CrashBudget struct {
	MaxCrashes  int
	Window      time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultCrashBudget matches the original's observed restart behavior: a
// handful of crashes tolerated per minute before giving up.
func DefaultCrashBudget() CrashBudget {
	return CrashBudget{MaxCrashes: 5, Window: time.Minute, BaseBackoff: 500 * time.Millisecond, MaxBackoff: 30 * time.Second}
}

// ManagedService is the point-in-time, JSON-serializable view of one
// supervised worker, matching original_source's ServiceRuntimeState shape.
type ManagedService struct {
	Name        string `json:"name"`
	BinaryPath  string `json:"-"`
	State       State  `json:"state"`
	Running     bool   `json:"running"`
	Ready       bool   `json:"ready"`
	PID         int    `json:"pid"`
	CrashCount  int    `json:"crashCount"`
	UpdatedAtMs int64  `json:"updatedAtMs"`
	Reason      string `json:"reason"`
}

// ProcessLauncher starts a worker binary and returns a handle the supervisor
// can wait on/signal. Mirrors claude-ops's ProcessRunner interface so fakes
// can be substituted in tests without spawning real subprocesses.
type ProcessLauncher interface {
	Launch(ctx context.Context, binaryPath string, args []string) (ProcessHandle, error)
}

// ProcessHandle is a running (or exited) child process.
type ProcessHandle interface {
	PID() int
	Stdout() *bufio.Scanner
	Wait() error
	Signal(sig os.Signal) error
	Terminate() error
	Kill() error
}

type service struct {
	mu        sync.Mutex
	managed   ManagedService
	client    *ipc.Client
	crashLog  []time.Time
	handle    ProcessHandle
	cancelRun context.CancelFunc
}

// Supervisor registers and runs worker services, publishing status changes
// through a notify.Hub so the aggregator (and, eventually, a UI) can observe
// them.
type Supervisor struct {
	launcher   ProcessLauncher
	runtimeDir string
	budget     CrashBudget
	logger     *zap.Logger
	hub        *notify.Hub[StatusEvent]

	mu       sync.Mutex
	order    []string
	services map[string]*service
	phase    LifecyclePhase

	epochMu       sync.Mutex
	allReadyFired bool
}

// StatusEvent is published on service state transitions.
type StatusEvent struct {
	Name  string
	State State
	Count int
}

// New constructs a Supervisor. runtimeDir is where worker sockets live
// (spec.md §6: "${RUNTIME_DIR}/${serviceName}.sock").
func New(launcher ProcessLauncher, runtimeDir string, budget CrashBudget, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		launcher:   launcher,
		runtimeDir: runtimeDir,
		budget:     budget,
		logger:     logger.With(zap.String("component", "supervisor")),
		hub:        notify.NewHub[StatusEvent](256),
		services:   make(map[string]*service),
		phase:      PhaseStarting,
	}
}

// Subscribe returns a channel of status events; see notify.Hub for delivery
// semantics.
func (s *Supervisor) Subscribe() (<-chan StatusEvent, func()) {
	return s.hub.Subscribe()
}

// AddService registers name/binary idempotently: a second registration for
// an already-known name is a no-op that keeps the first binary, per
// spec.md §3's "Service registration is idempotent by name" invariant.
func (s *Supervisor) AddService(name, binaryPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.services[name]; exists {
		return
	}
	s.order = append(s.order, name)
	s.services[name] = &service{
		managed: ManagedService{Name: name, BinaryPath: binaryPath, State: StateRegistered, UpdatedAtMs: nowMs()},
	}
}

// ServiceSnapshot returns a point-in-time copy of every registered service,
// each name appearing exactly once regardless of how many times AddService
// was called for it.
func (s *Supervisor) ServiceSnapshot() []ManagedService {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ManagedService, 0, len(s.order))
	for _, name := range s.order {
		svc := s.services[name]
		svc.mu.Lock()
		out = append(out, svc.managed)
		svc.mu.Unlock()
	}
	return out
}

// ClientFor returns the RPC client for name, or nil if it isn't Ready yet.
func (s *Supervisor) ClientFor(name string) *ipc.Client {
	s.mu.Lock()
	svc, ok := s.services[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.managed.State != StateReady {
		return nil
	}
	return svc.client
}

// StartAll launches every registered service concurrently, waits for each
// to print its readiness marker, connects an RPC client, and
// transitions it to Ready. Returns true iff every service reached Ready
// within readyTimeout. allServicesReady fires exactly once per call to
// StartAll ("per Start epoch").
func (s *Supervisor) StartAll(ctx context.Context, readyTimeout time.Duration) bool {
	s.mu.Lock()
	s.phase = PhaseRunning
	names := append([]string(nil), s.order...)
	s.mu.Unlock()

	s.epochMu.Lock()
	s.allReadyFired = false
	s.epochMu.Unlock()

	var wg sync.WaitGroup
	results := make([]bool, len(names))
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = s.startOne(ctx, name, readyTimeout)
		}(i, name)
	}
	wg.Wait()

	allReady := true
	for _, ok := range results {
		if !ok {
			allReady = false
		}
	}
	if allReady {
		s.fireAllServicesReady()
	}
	return allReady
}

func (s *Supervisor) fireAllServicesReady() {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	if s.allReadyFired {
		return
	}
	s.allReadyFired = true
	s.hub.Publish(StatusEvent{Name: "*", State: StateReady})
}

func (s *Supervisor) startOne(ctx context.Context, name string, readyTimeout time.Duration) bool {
	s.mu.Lock()
	svc := s.services[name]
	s.mu.Unlock()

	s.setState(svc, StateStarting, "")

	handle, err := s.launcher.Launch(ctx, svc.managed.BinaryPath, nil)
	if err != nil {
		s.logger.Error("launch failed", zap.String("service", name), zap.Error(err))
		s.setState(svc, StateCrashed, fmt.Sprintf("launch failed: %v", err))
		return false
	}

	svc.mu.Lock()
	svc.handle = handle
	svc.managed.PID = handle.PID()
	svc.mu.Unlock()

	readyCh := make(chan bool, 1)
	go func() {
		readyCh <- waitForReadyMarker(handle, readyTimeout)
	}()

	select {
	case ready := <-readyCh:
		if !ready {
			s.setState(svc, StateCrashed, "readiness timeout")
			return false
		}
	case <-ctx.Done():
		return false
	}

	sockPath := ipc.SocketPathFor(s.runtimeDir, name)
	client := ipc.NewClient(name, sockPath, ipc.DefaultReconnectConfig(), s.logger)
	if !client.ConnectToServer(ctx, 2000) {
		s.setState(svc, StateCrashed, "connect after ready failed")
		return false
	}

	svc.mu.Lock()
	svc.client = client
	svc.mu.Unlock()

	s.setState(svc, StateReady, "")
	go s.watchCrash(ctx, name, svc)
	return true
}

func waitForReadyMarker(handle ProcessHandle, timeout time.Duration) bool {
	scanner := handle.Stdout()
	done := make(chan bool, 1)
	go func() {
		for scanner != nil && scanner.Scan() {
			if scanner.Text() == "ready" {
				done <- true
				return
			}
			// anything prior to the marker is startup noise, per spec.md §6.
		}
		done <- false
	}()

	select {
	case ok := <-done:
		return ok
	case <-time.After(timeout):
		return false
	}
}

func (s *Supervisor) watchCrash(ctx context.Context, name string, svc *service) {
	svc.mu.Lock()
	handle := svc.handle
	svc.mu.Unlock()
	if handle == nil {
		return
	}

	err := handle.Wait()

	s.mu.Lock()
	shuttingDown := s.phase == PhaseShuttingDown || s.phase == PhaseStopped
	s.mu.Unlock()
	if shuttingDown {
		return
	}
	if err == nil {
		return
	}

	svc.mu.Lock()
	svc.managed.CrashCount++
	svc.crashLog = append(svc.crashLog, time.Now())
	cutoff := time.Now().Add(-s.budget.Window)
	kept := svc.crashLog[:0]
	for _, t := range svc.crashLog {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	svc.crashLog = kept
	crashesInWindow := len(svc.crashLog)
	svc.mu.Unlock()

	s.setState(svc, StateCrashed, fmt.Sprintf("exited: %v", err))
	s.hub.Publish(StatusEvent{Name: name, State: StateCrashed, Count: crashesInWindow})

	if crashesInWindow > s.budget.MaxCrashes {
		s.setState(svc, StateGivingUp, "crash budget exceeded")
		return
	}

	s.setState(svc, StateBackoff, "")
	backoff := s.budget.BaseBackoff * time.Duration(1<<uint(crashesInWindow))
	if backoff > s.budget.MaxBackoff {
		backoff = s.budget.MaxBackoff
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}

	s.startOne(ctx, name, 10*time.Second)
}

func (s *Supervisor) setState(svc *service, state State, reason string) {
	svc.mu.Lock()
	svc.managed.State = state
	svc.managed.Running = state == StateReady || state == StateStarting || state == StateDegraded
	svc.managed.Ready = state == StateReady
	svc.managed.Reason = reason
	svc.managed.UpdatedAtMs = nowMs()
	name := svc.managed.Name
	svc.mu.Unlock()

	s.mu.Lock()
	suppressed := s.phase == PhaseShuttingDown || s.phase == PhaseStopped
	s.mu.Unlock()
	if suppressed {
		return
	}

	s.hub.Publish(StatusEvent{Name: name, State: state})
}

// StopAll stops every registered service in reverse registration order:
// disconnect client, send shutdown RPC, wait bounded, terminate, then kill
// if still alive. Idempotent; concurrent calls while stopping are ignored.
func (s *Supervisor) StopAll(ctx context.Context, grace time.Duration) {
	s.mu.Lock()
	if s.phase == PhaseShuttingDown || s.phase == PhaseStopped {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseShuttingDown
	names := append([]string(nil), s.order...)
	s.mu.Unlock()

	for i := len(names) - 1; i >= 0; i-- {
		s.stopOne(ctx, names[i], grace)
	}

	s.mu.Lock()
	s.phase = PhaseStopped
	s.mu.Unlock()
}

func (s *Supervisor) stopOne(ctx context.Context, name string, grace time.Duration) {
	s.mu.Lock()
	svc := s.services[name]
	s.mu.Unlock()

	svc.mu.Lock()
	client := svc.client
	handle := svc.handle
	svc.mu.Unlock()

	if client != nil {
		_, _ = client.SendRequest("shutdown", nil, int(grace/time.Millisecond))
		client.Close()
	}

	if handle != nil {
		done := make(chan error, 1)
		go func() { done <- handle.Wait() }()
		select {
		case <-done:
		case <-time.After(grace):
			_ = handle.Terminate()
			select {
			case <-done:
			case <-time.After(grace):
				_ = handle.Kill()
			}
		}
	}

	svc.mu.Lock()
	svc.managed.State = StateStopped
	svc.managed.Running = false
	svc.managed.Ready = false
	svc.managed.UpdatedAtMs = nowMs()
	svc.mu.Unlock()
}

func nowMs() int64 { return time.Now().UnixMilli() }
