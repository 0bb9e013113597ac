package supervisor

import (
	"bufio"
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// fakeHandle is a ProcessHandle that never actually execs anything; it just
// emits a canned stdout stream and blocks on Wait() until told to exit.
type fakeHandle struct {
	pid     int
	scanner *bufio.Scanner
	exitCh  chan error
}

func (h *fakeHandle) PID() int               { return h.pid }
func (h *fakeHandle) Stdout() *bufio.Scanner { return h.scanner }
func (h *fakeHandle) Wait() error            { return <-h.exitCh }
func (h *fakeHandle) Signal(os.Signal) error  { return nil }
func (h *fakeHandle) Terminate() error        { h.exitCh <- nil; return nil }
func (h *fakeHandle) Kill() error             { return nil }

type fakeLauncher struct {
	handles map[string]*fakeHandle
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{handles: make(map[string]*fakeHandle)}
}

func (f *fakeLauncher) Launch(_ context.Context, binaryPath string, _ []string) (ProcessHandle, error) {
	h := &fakeHandle{
		pid:     1000 + len(f.handles),
		scanner: bufio.NewScanner(strings.NewReader("starting up\nready\n")),
		exitCh:  make(chan error, 1),
	}
	f.handles[binaryPath] = h
	return h, nil
}

func TestAddServiceIdempotentByName(t *testing.T) {
	s := New(newFakeLauncher(), t.TempDir(), DefaultCrashBudget(), nil)
	s.AddService("indexer", "/bin/cat")
	s.AddService("indexer", "/bin/echo")

	snap := s.ServiceSnapshot()
	count := 0
	var binary string
	for _, m := range snap {
		if m.Name == "indexer" {
			count++
			binary = m.BinaryPath
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one 'indexer' entry, got %d", count)
	}
	if binary != "/bin/cat" {
		t.Fatalf("expected the first registered binary to win, got %q", binary)
	}
}

func TestServiceSnapshotHasEachNameOnce(t *testing.T) {
	s := New(newFakeLauncher(), t.TempDir(), DefaultCrashBudget(), nil)
	names := []string{"indexer", "query", "inference", "extractor"}
	for _, n := range names {
		for i := 0; i < 3; i++ {
			s.AddService(n, "/bin/true")
		}
	}

	snap := s.ServiceSnapshot()
	if len(snap) != len(names) {
		t.Fatalf("expected %d services, got %d", len(names), len(snap))
	}
}

func TestStopAllIsIdempotent(t *testing.T) {
	s := New(newFakeLauncher(), t.TempDir(), DefaultCrashBudget(), nil)
	s.AddService("indexer", "/bin/true")

	ctx := context.Background()
	s.StopAll(ctx, 50*time.Millisecond)
	s.StopAll(ctx, 50*time.Millisecond) // re-entrant call must be a no-op, not a hang or panic

	s.mu.Lock()
	phase := s.phase
	s.mu.Unlock()
	if phase != PhaseStopped {
		t.Fatalf("expected phase stopped, got %s", phase)
	}
}

func TestShutdownSuppressesFurtherStatusSignals(t *testing.T) {
	s := New(newFakeLauncher(), t.TempDir(), DefaultCrashBudget(), nil)
	s.AddService("indexer", "/bin/true")

	sub, unsub := s.Subscribe()
	defer unsub()

	s.StopAll(context.Background(), 50*time.Millisecond)

	// Drain anything already buffered/published during StopAll, then assert
	// a subsequent setState does not publish.
	drain := func() int {
		n := 0
		for {
			select {
			case <-sub:
				n++
			default:
				return n
			}
		}
	}
	drain()

	s.mu.Lock()
	svc := s.services["indexer"]
	s.mu.Unlock()
	s.setState(svc, StateCrashed, "late crash after shutdown")

	select {
	case ev := <-sub:
		t.Fatalf("expected no status signal after shutdown, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
