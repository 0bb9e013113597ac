// Package health merges supervisor status with per-worker probe results into
// a single schema-versioned snapshot, debounced against event storms.
// Grounded on original_source/src/app/control_plane/health_aggregator_actor.cpp
// and health_snapshot_v2.h's field set and legacy aliases.
package health

// OverallState is the top-level health verdict, in ascending precedence
// order as read bottom-to-top against spec.md §4.3's list (Unavailable wins
// over everything, Healthy is the default).
type OverallState string

const (
	StateHealthy     OverallState = "healthy"
	StateDegraded    OverallState = "degraded"
	StateRebuilding  OverallState = "rebuilding"
	StateStale       OverallState = "stale"
	StateUnavailable OverallState = "unavailable"
)

// Reason codes used in Overall.Reason and per-component Reason.
const (
	ReasonRequiredServiceUnavailable = "required_service_unavailable"
	ReasonSnapshotStale              = "snapshot_stale"
	ReasonComponentDegraded          = "component_degraded"
	ReasonQueueRebuilding            = "queue_rebuilding"
	ReasonHealthy                    = "healthy"
)

// Overall carries the top-level verdict and why.
type Overall struct {
	State  OverallState `json:"state"`
	Reason string       `json:"reason"`
}

// Component is one probed or supervisor-reported subsystem's status.
type Component struct {
	State         string         `json:"state"`
	Reason        string         `json:"reason"`
	LastUpdatedMs int64          `json:"lastUpdatedMs"`
	StalenessMs   int64          `json:"stalenessMs"`
	Metrics       map[string]any `json:"metrics,omitempty"`
}

// ErrorEntry is one entry in the capped error list.
type ErrorEntry struct {
	Component string `json:"component"`
	Message   string `json:"message"`
	AtMs      int64  `json:"atMs"`
}

const maxErrors = 50

// SnapshotV2 is the publication schema: schemaVersion=2 plus the legacy flat
// aliases (overallStatus, snapshotState, healthStatusReason) that Design
// Notes §9 calls out as exact-byte compatibility fields. The aliases live on
// this type and are filled from the canonical fields only by stampAliases.
type SnapshotV2 struct {
	SchemaVersion  int                  `json:"schemaVersion"`
	SnapshotID     uint64               `json:"snapshotId"`
	SnapshotTimeMs int64                `json:"snapshotTimeMs"`
	StalenessMs    int64                `json:"stalenessMs"`
	InstanceID     string               `json:"instanceId"`
	Overall        Overall              `json:"overall"`
	Components     map[string]Component `json:"components"`
	Queue          map[string]any       `json:"queue,omitempty"`
	Index          map[string]any       `json:"index,omitempty"`
	Vector         map[string]any       `json:"vector,omitempty"`
	Inference      map[string]any       `json:"inference,omitempty"`
	Processes      map[string]any       `json:"processes,omitempty"`
	Errors         []ErrorEntry         `json:"errors"`

	// Backward-compat flat aliases, per Design Notes §9.
	OverallStatus      string `json:"overallStatus"`
	HealthStatusReason string `json:"healthStatusReason"`
	SnapshotState      string `json:"snapshotState"`
}

// stampAliases stamps the legacy aliases from the canonical fields right
// before publication, so internal code (and tests) never reads them back.
func (s *SnapshotV2) stampAliases() {
	s.OverallStatus = string(s.Overall.State)
	s.HealthStatusReason = s.Overall.Reason
	s.SnapshotState = string(s.Overall.State)
}

func appendCappedError(errs []ErrorEntry, e ErrorEntry) []ErrorEntry {
	out := append(errs, e)
	if len(out) > maxErrors {
		out = out[len(out)-maxErrors:]
	}
	return out
}
