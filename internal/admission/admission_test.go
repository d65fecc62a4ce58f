package admission

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/orchestra/internal/db"
)

// evaluate covers the row-locked counter arithmetic; the surrounding
// transaction and audit write require a database and are exercised in
// integration tests.

func TestEvaluate_AdmitsAndIncrementsCounters(t *testing.T) {
	now := time.Now()
	counters := db.ExecutionCounters{
		OrganizationID:     uuid.New(),
		RunningExecutions:  1,
		ExecutionsInWindow: 5,
		WindowStart:        now.Add(-10 * time.Second),
	}
	limits := Limits{MaxConcurrentExecutions: 2, MaxExecutionsPerMinute: 30}

	decision, updated := evaluate(counters, limits, now)

	if !decision.Admitted {
		t.Fatalf("expected admission, got rejected with event %q", decision.EventType)
	}
	if decision.EventType != EventAdmitted {
		t.Errorf("EventType = %q, want %q", decision.EventType, EventAdmitted)
	}
	if updated.RunningExecutions != 2 {
		t.Errorf("RunningExecutions = %d, want 2", updated.RunningExecutions)
	}
	if updated.ExecutionsInWindow != 6 {
		t.Errorf("ExecutionsInWindow = %d, want 6", updated.ExecutionsInWindow)
	}
}

func TestEvaluate_RejectsAtConcurrencyLimit(t *testing.T) {
	now := time.Now()
	counters := db.ExecutionCounters{
		RunningExecutions:  2,
		ExecutionsInWindow: 1,
		WindowStart:        now,
	}
	limits := Limits{MaxConcurrentExecutions: 2, MaxExecutionsPerMinute: 30}

	decision, updated := evaluate(counters, limits, now)

	if decision.Admitted {
		t.Fatal("expected rejection at concurrency limit")
	}
	if decision.EventType != EventConcurrencyExceeded {
		t.Errorf("EventType = %q, want %q", decision.EventType, EventConcurrencyExceeded)
	}
	if decision.Observed != 2 || decision.Limit != 2 {
		t.Errorf("Observed/Limit = %d/%d, want 2/2", decision.Observed, decision.Limit)
	}
	if updated.RunningExecutions != 2 {
		t.Errorf("RunningExecutions should be unchanged on rejection, got %d", updated.RunningExecutions)
	}
}

func TestEvaluate_RejectsAtRPMLimit(t *testing.T) {
	now := time.Now()
	counters := db.ExecutionCounters{
		RunningExecutions:  0,
		ExecutionsInWindow: 30,
		WindowStart:        now.Add(-5 * time.Second),
	}
	limits := Limits{MaxConcurrentExecutions: 10, MaxExecutionsPerMinute: 30}

	decision, updated := evaluate(counters, limits, now)

	if decision.Admitted {
		t.Fatal("expected rejection at rpm limit")
	}
	if decision.EventType != EventRPMExceeded {
		t.Errorf("EventType = %q, want %q", decision.EventType, EventRPMExceeded)
	}
	if updated.ExecutionsInWindow != 30 {
		t.Errorf("ExecutionsInWindow should be unchanged on rejection, got %d", updated.ExecutionsInWindow)
	}
}

func TestEvaluate_WindowRolloverResetsCount(t *testing.T) {
	now := time.Now()
	counters := db.ExecutionCounters{
		RunningExecutions:  0,
		ExecutionsInWindow: 30,
		WindowStart:        now.Add(-90 * time.Second),
	}
	limits := Limits{MaxConcurrentExecutions: 10, MaxExecutionsPerMinute: 30}

	decision, updated := evaluate(counters, limits, now)

	if !decision.Admitted {
		t.Fatalf("expected admission after window rollover, got rejected with event %q", decision.EventType)
	}
	if updated.ExecutionsInWindow != 1 {
		t.Errorf("ExecutionsInWindow after rollover = %d, want 1", updated.ExecutionsInWindow)
	}
	if !updated.WindowStart.Equal(now) {
		t.Errorf("WindowStart after rollover = %v, want %v", updated.WindowStart, now)
	}
}

func TestEvaluate_WindowExactlyAtBoundaryDoesNotRollover(t *testing.T) {
	now := time.Now()
	counters := db.ExecutionCounters{
		ExecutionsInWindow: 30,
		WindowStart:        now.Add(-60 * time.Second),
	}
	limits := Limits{MaxConcurrentExecutions: 10, MaxExecutionsPerMinute: 30}

	decision, _ := evaluate(counters, limits, now)

	if decision.Admitted {
		t.Fatal("expected rejection: 60s exactly is not yet past the window")
	}
}

func TestResolveLimits_UsesPlanDefaults(t *testing.T) {
	limits := ResolveLimits("pro", nil)
	if limits.MaxConcurrentExecutions != 10 || limits.MaxExecutionsPerMinute != 300 {
		t.Errorf("pro limits = %+v, want {10 300}", limits)
	}
}

func TestResolveLimits_UnknownPlanFallsBackToFree(t *testing.T) {
	limits := ResolveLimits("nonexistent", nil)
	free := planDefaults["free"]
	if limits != free {
		t.Errorf("unknown plan limits = %+v, want free defaults %+v", limits, free)
	}
}

func TestResolveLimits_ConfigOverridesOnePlanField(t *testing.T) {
	config := json.RawMessage(`{"limits": {"maxConcurrentExecutions": 25}}`)
	limits := ResolveLimits("pro", config)

	if limits.MaxConcurrentExecutions != 25 {
		t.Errorf("MaxConcurrentExecutions = %d, want 25", limits.MaxConcurrentExecutions)
	}
	if limits.MaxExecutionsPerMinute != 300 {
		t.Errorf("MaxExecutionsPerMinute should keep plan default, got %d", limits.MaxExecutionsPerMinute)
	}
}

func TestResolveLimits_MalformedConfigFallsBackToPlanDefaults(t *testing.T) {
	config := json.RawMessage(`not json`)
	limits := ResolveLimits("enterprise", config)
	if limits != planDefaults["enterprise"] {
		t.Errorf("malformed config limits = %+v, want enterprise defaults", limits)
	}
}

func TestResolveLimits_ZeroOverrideFieldsIgnored(t *testing.T) {
	config := json.RawMessage(`{"limits": {"maxConcurrentExecutions": 0, "maxExecutionsPerMinute": 0}}`)
	limits := ResolveLimits("trial", config)
	if limits != planDefaults["trial"] {
		t.Errorf("zero-valued overrides should be ignored, got %+v", limits)
	}
}
