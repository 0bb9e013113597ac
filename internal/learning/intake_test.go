package learning

import (
	"testing"

	"github.com/findcore/findcore/internal/storage"
)

func behaviorEventCount(t *testing.T, db *storage.DB) int {
	t.Helper()
	var n int
	if err := db.Conn().QueryRow(`SELECT COUNT(*) FROM behavior_events_v1`).Scan(&n); err != nil {
		t.Fatalf("count behavior events: %v", err)
	}
	return n
}

func testEvent(id, source, eventType string) *storage.BehaviorEvent {
	return &storage.BehaviorEvent{
		EventID:     id,
		TimestampMs: 1000,
		Source:      source,
		EventType:   eventType,
		CreatedAt:   1000,
	}
}

func TestBehaviorStreamDisabledDropsEverything(t *testing.T) {
	e, db := newTestEngine(t, DefaultConfig())

	if err := e.RecordBehaviorEvent(testEvent("e1", "system", "app_activated")); err != nil {
		t.Fatalf("RecordBehaviorEvent: %v", err)
	}
	if n := behaviorEventCount(t, db); n != 0 {
		t.Fatalf("expected 0 persisted events with the stream disabled, got %d", n)
	}
}

func TestCaptureScopeDisabledAllowsOnlyAlwaysCapturedTypes(t *testing.T) {
	e, db := newTestEngine(t, DefaultConfig())
	enableTraining(t, db, storage.RolloutShadowTraining)
	for _, key := range []string{
		"behaviorCaptureAppActivityEnabled",
		"behaviorCaptureInputActivityEnabled",
		"behaviorCaptureSearchEventsEnabled",
	} {
		if err := db.SetSetting(key, "false"); err != nil {
			t.Fatalf("disable %s: %v", key, err)
		}
	}

	events := []*storage.BehaviorEvent{
		testEvent("e1", "system", "app_activated"),
		testEvent("e2", "system", "input_activity"),
		testEvent("e3", "findcore", "query_submitted"),
		testEvent("e4", "app", "custom_activity"),
	}
	for _, ev := range events {
		if err := e.RecordBehaviorEvent(ev); err != nil {
			t.Fatalf("RecordBehaviorEvent %s: %v", ev.EventID, err)
		}
	}

	if n := behaviorEventCount(t, db); n != 1 {
		t.Fatalf("expected only the always-captured event to persist, got %d", n)
	}
	var persisted string
	if err := db.Conn().QueryRow(`SELECT event_type FROM behavior_events_v1`).Scan(&persisted); err != nil {
		t.Fatalf("read persisted event: %v", err)
	}
	if persisted != "custom_activity" {
		t.Fatalf("expected custom_activity to bypass scope gating, got %q", persisted)
	}
}

func TestPrivacyFlagsDropEvents(t *testing.T) {
	e, db := newTestEngine(t, DefaultConfig())
	enableTraining(t, db, storage.RolloutShadowTraining)

	secure := testEvent("e1", "system", "app_activated")
	secure.SecureInput = true
	private := testEvent("e2", "system", "app_activated")
	private.PrivateContext = true
	redacted := testEvent("e3", "system", "app_activated")
	redacted.Redacted = true

	for _, ev := range []*storage.BehaviorEvent{secure, private, redacted} {
		if err := e.RecordBehaviorEvent(ev); err != nil {
			t.Fatalf("RecordBehaviorEvent %s: %v", ev.EventID, err)
		}
	}
	if n := behaviorEventCount(t, db); n != 0 {
		t.Fatalf("privacy-flagged events must be dropped, got %d persisted", n)
	}
}

func TestDenylistedAppDropped(t *testing.T) {
	e, db := newTestEngine(t, DefaultConfig())
	enableTraining(t, db, storage.RolloutShadowTraining)
	if err := db.SetSetting("learningDenylistApps", `["com.example.vault"]`); err != nil {
		t.Fatalf("set denylist: %v", err)
	}

	denied := testEvent("e1", "system", "app_activated")
	app := "com.example.Vault"
	denied.AppBundleID = &app
	if err := e.RecordBehaviorEvent(denied); err != nil {
		t.Fatalf("RecordBehaviorEvent: %v", err)
	}

	allowed := testEvent("e2", "system", "app_activated")
	other := "com.example.editor"
	allowed.AppBundleID = &other
	if err := e.RecordBehaviorEvent(allowed); err != nil {
		t.Fatalf("RecordBehaviorEvent: %v", err)
	}

	if n := behaviorEventCount(t, db); n != 1 {
		t.Fatalf("expected only the non-denylisted event, got %d", n)
	}
}

func TestWindowTitleHashClearedWhenCaptureOff(t *testing.T) {
	e, db := newTestEngine(t, DefaultConfig())
	enableTraining(t, db, storage.RolloutShadowTraining)
	if err := db.SetSetting("behaviorCaptureWindowTitleHashEnabled", "false"); err != nil {
		t.Fatalf("disable window title capture: %v", err)
	}

	ev := testEvent("e1", "system", "app_activated")
	hash := "abcd1234"
	ev.WindowTitleHash = &hash
	if err := e.RecordBehaviorEvent(ev); err != nil {
		t.Fatalf("RecordBehaviorEvent: %v", err)
	}

	var stored *string
	if err := db.Conn().QueryRow(`SELECT window_title_hash FROM behavior_events_v1 WHERE event_id = 'e1'`).Scan(&stored); err != nil {
		t.Fatalf("read window title hash: %v", err)
	}
	if stored != nil {
		t.Fatalf("window title hash must be cleared when capture is off, got %q", *stored)
	}
}
