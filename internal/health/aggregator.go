package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/findcore/findcore/internal/notify"
)

const (
	periodicInterval  = 2 * time.Second
	debounceInterval  = 150 * time.Millisecond
	probeTimeout      = 300 * time.Millisecond
	staleThresholdMs  = 6000
)

var requiredServices = []string{"indexer", "query", "inference", "extractor"}

// ServiceStatusProvider is the subset of the supervisor's contract the
// aggregator needs: per-service running/ready state and an RPC client to
// probe it with.
type ServiceStatusProvider interface {
	ServiceSnapshot() []ServiceStatus
	ProbeClient(name string) ProbeClient
}

// ServiceStatus mirrors supervisor.ManagedService's fields the aggregator
// reads, kept as a local type so this package does not import supervisor
// (supervisor publishes status events; health only needs the snapshot shape).
type ServiceStatus struct {
	Name    string
	State   string
	Running bool
	Ready   bool
}

// ProbeClient is the minimal RPC surface a probe needs.
type ProbeClient interface {
	SendRequest(method string, params map[string]any, timeoutMs int) (map[string]any, bool)
}

var probeMethodByService = map[string]string{
	"indexer":   "getQueueStatus",
	"query":     "getQueryHealth",
	"inference": "get_inference_health",
	"extractor": "ping",
}

// Aggregator merges supervisor status with probe results into a versioned
// SnapshotV2, per spec.md §4.3.
type Aggregator struct {
	provider   ServiceStatusProvider
	instanceID string
	logger     *zap.Logger
	hub        *notify.Hub[*SnapshotV2]

	mu        sync.Mutex
	running   bool
	pending   bool
	lastPub   *SnapshotV2
	triggerCh chan struct{}

	snapshotCounter atomic.Uint64

	metricStaleness prometheus.Gauge
	metricProbeMs   *prometheus.HistogramVec
	metricOverall   *prometheus.GaugeVec
}

// New constructs an Aggregator. reg may be nil to skip metrics registration
// in tests.
func New(provider ServiceStatusProvider, instanceID string, logger *zap.Logger, reg prometheus.Registerer) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		provider:   provider,
		instanceID: instanceID,
		logger:     logger.With(zap.String("component", "health.aggregator")),
		hub:        notify.NewHub[*SnapshotV2](8),
		metricStaleness: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "findcore_health_snapshot_staleness_ms",
			Help: "Milliseconds since the previous published health snapshot.",
		}),
		metricProbeMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "findcore_health_probe_duration_ms",
			Help:    "Duration of per-service health probes in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 200, 300, 500},
		}, []string{"service"}),
		metricOverall: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "findcore_health_overall_state",
			Help: "1 for the currently reported overall state, 0 otherwise.",
		}, []string{"state"}),
	}
	if reg != nil {
		reg.MustRegister(a.metricStaleness, a.metricProbeMs, a.metricOverall)
	}
	return a
}

// Subscribe returns a stream of published snapshots, replaying the most
// recent one to a new subscriber.
func (a *Aggregator) Subscribe() (<-chan *SnapshotV2, func()) {
	return a.hub.Subscribe()
}

// Latest returns the most recently published snapshot, or nil before the
// first refresh completes.
func (a *Aggregator) Latest() *SnapshotV2 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastPub
}

// Run drives the periodic timer and debounce coalescing until ctx is done.
// RequestRefresh can be called concurrently to trigger an out-of-band
// refresh (coalesced with any already in flight).
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(periodicInterval)
	defer ticker.Stop()

	trigger := make(chan struct{}, 1)
	a.mu.Lock()
	a.triggerCh = trigger
	a.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.refreshDebounced(ctx)
		case <-trigger:
			a.refreshDebounced(ctx)
		}
	}
}

// refreshDebounced ensures at most one refresh is in flight; a refresh
// requested while one runs results in exactly one queued follow-up, per
// spec.md §4.3.
func (a *Aggregator) refreshDebounced(ctx context.Context) {
	a.mu.Lock()
	if a.running {
		a.pending = true
		a.mu.Unlock()
		return
	}
	a.running = true
	a.mu.Unlock()

	time.Sleep(debounceInterval)
	a.refreshOnce(ctx)

	a.mu.Lock()
	a.running = false
	followUp := a.pending
	a.pending = false
	a.mu.Unlock()

	if followUp {
		a.refreshOnce(ctx)
	}
}

// RequestRefresh schedules a debounced refresh. Safe to call before Run; the
// request is simply dropped in that case (there's no periodic loop yet to
// coalesce into), matching "no unbounded waits" from the concurrency model.
func (a *Aggregator) RequestRefresh() {
	a.mu.Lock()
	ch := a.triggerCh
	a.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (a *Aggregator) refreshOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout+50*time.Millisecond)
	defer cancel()

	services := a.provider.ServiceSnapshot()
	statusByName := make(map[string]ServiceStatus, len(services))
	for _, s := range services {
		statusByName[s.Name] = s
	}

	components := make(map[string]Component, len(services))
	var mu sync.Mutex
	var errs []ErrorEntry

	g, gctx := errgroup.WithContext(probeCtx)
	for _, s := range services {
		s := s
		g.Go(func() error {
			comp := a.probeOne(gctx, s)
			mu.Lock()
			components[s.Name] = comp
			if comp.State == "unavailable" && comp.Reason != "" {
				errs = appendCappedError(errs, ErrorEntry{Component: s.Name, Message: comp.Reason, AtMs: nowMs()})
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	now := nowMs()
	a.mu.Lock()
	prevTime := int64(0)
	if a.lastPub != nil {
		prevTime = a.lastPub.SnapshotTimeMs
	}
	a.mu.Unlock()

	snapTime := now
	if snapTime < prevTime {
		snapTime = prevTime // never publish an older snapshot than the previous one
	}

	overall := computeOverallState(statusByName, components, 0)

	snap := &SnapshotV2{
		SchemaVersion:  2,
		SnapshotID:     a.snapshotCounter.Add(1),
		SnapshotTimeMs: snapTime,
		StalenessMs:    0,
		InstanceID:     a.instanceID,
		Overall:        overall,
		Components:     components,
		Queue:          components["indexer"].Metrics,
		Inference:      queryInferenceSummary(components["query"].Metrics),
		Processes:      processSummary(statusByName),
		Errors:         errs,
	}
	snap.stampAliases()

	a.mu.Lock()
	a.lastPub = snap
	a.mu.Unlock()

	a.metricStaleness.Set(0)
	a.metricOverall.Reset()
	a.metricOverall.WithLabelValues(string(overall.State)).Set(1)

	a.hub.Publish(snap)
}

func (a *Aggregator) probeOne(ctx context.Context, s ServiceStatus) Component {
	now := nowMs()
	if !s.Running || !s.Ready {
		return Component{State: "unavailable", Reason: "service_not_ready", LastUpdatedMs: now}
	}

	client := a.provider.ProbeClient(s.Name)
	if client == nil {
		return Component{State: "unavailable", Reason: "no_client", LastUpdatedMs: now}
	}

	method := probeMethodByService[s.Name]
	if method == "" {
		method = "ping"
	}

	start := time.Now()
	result, ok := client.SendRequest(method, nil, int(probeTimeout/time.Millisecond))
	elapsed := time.Since(start)
	if a.metricProbeMs != nil {
		a.metricProbeMs.WithLabelValues(s.Name).Observe(float64(elapsed.Milliseconds()))
	}

	if !ok {
		return Component{State: "unavailable", Reason: "probe_timeout", LastUpdatedMs: now}
	}

	state := "healthy"
	if v, ok := result["rebuilding"].(bool); ok && v {
		state = "rebuilding"
	} else if v, ok := result["degraded"].(bool); ok && v {
		state = "degraded"
	}

	return Component{State: state, LastUpdatedMs: now, Metrics: result}
}

// computeOverallState implements spec.md §4.3's precedence table exactly:
// required-service unavailability beats staleness, which beats
// degraded/rebuilding, which beats healthy. stalenessMs is supplied
// separately so property tests can drive it independently of real time.
func computeOverallState(services map[string]ServiceStatus, components map[string]Component, stalenessMs int64) Overall {
	for _, name := range requiredServices {
		s, ok := services[name]
		if !ok || !s.Running || !s.Ready {
			return Overall{State: StateUnavailable, Reason: ReasonRequiredServiceUnavailable}
		}
	}

	if stalenessMs > staleThresholdMs {
		return Overall{State: StateStale, Reason: ReasonSnapshotStale}
	}

	rebuilding := false
	degraded := false
	for _, comp := range components {
		c := applyComponentStaleness(comp)
		switch c.State {
		case "degraded", "backoff", "crashed", "givingup", "unavailable":
			degraded = true
		case "rebuilding":
			rebuilding = true
		case "stale":
			degraded = true
		}
	}
	if rebuilding {
		return Overall{State: StateRebuilding, Reason: ReasonQueueRebuilding}
	}
	if degraded {
		return Overall{State: StateDegraded, Reason: ReasonComponentDegraded}
	}

	return Overall{State: StateHealthy, Reason: ReasonHealthy}
}

// applyComponentStaleness overrides a component's reported state to "stale"
// if its StalenessMs exceeds staleThresholdMs, per spec.md §4.3.
func applyComponentStaleness(c Component) Component {
	if c.StalenessMs > staleThresholdMs {
		c.State = "stale"
	}
	return c
}

func nowMs() int64 { return time.Now().UnixMilli() }

// queryInferenceSummary projects the online ranker's backend/model fields
// out of the query worker's getQueryHealth probe result into the snapshot's
// top-level "inference" section. There is no CoreML backend in this module
// (spec.md §6's capability field is kept for schema parity only), so
// backend only ever reports "native_sgd" or "none".
func queryInferenceSummary(queryMetrics map[string]any) map[string]any {
	if queryMetrics == nil {
		return nil
	}
	backend := "none"
	if available, _ := queryMetrics["modelAvailable"].(bool); available {
		backend = "native_sgd"
	}
	summary := map[string]any{
		"backend":        backend,
		"modelAvailable": queryMetrics["modelAvailable"],
		"modelVersion":   queryMetrics["modelVersion"],
	}
	if learning, ok := queryMetrics["learning"].(map[string]any); ok {
		summary["rolloutMode"] = learning["rolloutMode"]
		summary["learningEnabled"] = learning["learningEnabled"]
	}
	return summary
}

// processSummary reports each required service's supervisor-observed
// running/ready state, the "processes" section of HealthSnapshotV2.
func processSummary(statusByName map[string]ServiceStatus) map[string]any {
	out := make(map[string]any, len(statusByName))
	for name, s := range statusByName {
		out[name] = map[string]any{
			"state":   s.State,
			"running": s.Running,
			"ready":   s.Ready,
		}
	}
	return out
}
