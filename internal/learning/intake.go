package learning

import (
	"encoding/json"
	"strings"

	"github.com/findcore/findcore/internal/storage"
)

// captureScope is the set of per-category toggles settings.json exposes for
// the behavior stream, read fresh on every event so a live toggle flip takes
// effect immediately.
type captureScope struct {
	streamEnabled          bool
	appActivityEnabled     bool
	inputActivityEnabled   bool
	searchEventsEnabled    bool
	windowTitleHashEnabled bool
	browserHostHashEnabled bool
	denylistApps           map[string]bool
}

func (e *Engine) readCaptureScope() captureScope {
	scope := captureScope{
		streamEnabled:          e.settingBool("behaviorStreamEnabled", false),
		appActivityEnabled:     e.settingBool("behaviorCaptureAppActivityEnabled", true),
		inputActivityEnabled:   e.settingBool("behaviorCaptureInputActivityEnabled", true),
		searchEventsEnabled:    e.settingBool("behaviorCaptureSearchEventsEnabled", true),
		windowTitleHashEnabled: e.settingBool("behaviorCaptureWindowTitleHashEnabled", true),
		browserHostHashEnabled: e.settingBool("behaviorCaptureBrowserHostHashEnabled", true),
		denylistApps:           e.readDenylistApps(),
	}
	return scope
}

func (e *Engine) readDenylistApps() map[string]bool {
	raw, ok, err := e.db.GetSetting("learningDenylistApps")
	out := map[string]bool{}
	if err != nil || !ok || raw == "" {
		return out
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return out
	}
	for _, app := range list {
		normalized := strings.ToLower(strings.TrimSpace(app))
		if normalized != "" {
			out[normalized] = true
		}
	}
	return out
}

var searchEventTypes = map[string]bool{
	"query_submitted": true,
	"result_open":     true,
	"result_select":   true,
	"result_activate":  true,
}

// RecordBehaviorEvent applies the privacy/capture-scope filters and, if the
// event survives them, persists it, per spec.md §4.5.1. A filtered-out event
// is not an error: it is simply dropped, mirroring the original engine's
// "return true" early-outs.
func (e *Engine) RecordBehaviorEvent(ev *storage.BehaviorEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	scope := e.readCaptureScope()
	if !scope.streamEnabled {
		return nil
	}

	eventType := strings.ToLower(strings.TrimSpace(ev.EventType))
	source := strings.ToLower(strings.TrimSpace(ev.Source))
	bypassScope := alwaysCapturedEventTypes[eventType]

	if !bypassScope {
		if eventType == "app_activated" && !scope.appActivityEnabled {
			return nil
		}
		if eventType == "input_activity" && !scope.inputActivityEnabled {
			return nil
		}
		if source == "findcore" && searchEventTypes[eventType] && !scope.searchEventsEnabled {
			return nil
		}
	}

	e.maybePruneExpiredLocked()

	if ev.AppBundleID != nil {
		normalized := strings.ToLower(strings.TrimSpace(*ev.AppBundleID))
		if scope.denylistApps[normalized] {
			return nil
		}
	}

	if ev.SecureInput || ev.PrivateContext || ev.DenylistedApp || ev.Redacted {
		return nil
	}

	if !scope.windowTitleHashEnabled {
		ev.WindowTitleHash = nil
	}
	if !scope.browserHostHashEnabled {
		ev.BrowserHostHash = nil
	}

	e.lastUserActivityMs = nowMs()

	return e.db.InsertBehaviorEvent(ev)
}

// NoteUserActivity records that the user is currently interacting, used to
// gate idle training cycles (spec.md §4.5.4's "pause on user input").
func (e *Engine) NoteUserActivity() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUserActivityMs = nowMs()
}
