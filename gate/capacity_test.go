package gate

import (
	"testing"

	"outreachflow/eventlog"
)

func intPtr(n int) *int { return &n }

func healthyCapacity() CapacityContext {
	return CapacityContext{
		FounderAvailable: true,
		Channel:          "email",
		AdapterHealth:    HealthHealthy,
		AdapterDailyCap:  intPtr(50),
		AdapterSentToday: 10,
		AgentID:          "agent-1",
		AgentDailyCap:    25,
		AgentSentToday:   5,
	}
}

func TestEvaluateCapacity_Pass(t *testing.T) {
	res := EvaluateCapacity(healthyCapacity())
	if res.Verdict != Pass {
		t.Fatalf("verdict = %q (%s), want PASS", res.Verdict, res.Reason)
	}
	if res.Gate != Capacity {
		t.Errorf("gate = %q, want capacity", res.Gate)
	}
}

func TestEvaluateCapacity_GlobalKillSwitchDominates(t *testing.T) {
	// Everything else healthy and under cap; the flag alone must block.
	ctx := healthyCapacity()
	ctx.FounderAvailable = false

	res := EvaluateCapacity(ctx)
	if res.Verdict != Block {
		t.Fatalf("verdict = %q, want BLOCK", res.Verdict)
	}
	if res.BlockEvent != eventlog.EventSignalDropped {
		t.Errorf("block event = %q, want SIGNAL_DROPPED", res.BlockEvent)
	}
}

func TestEvaluateCapacity_Order(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CapacityContext)
	}{
		{"adapter paused", func(c *CapacityContext) { c.AdapterHealth = HealthPaused }},
		{"adapter cap reached", func(c *CapacityContext) { c.AdapterSentToday = 50 }},
		{"adapter cap exceeded", func(c *CapacityContext) { c.AdapterSentToday = 51 }},
		{"agent cap reached", func(c *CapacityContext) { c.AgentSentToday = 25 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := healthyCapacity()
			tc.mutate(&ctx)
			res := EvaluateCapacity(ctx)
			if res.Verdict != Block {
				t.Fatalf("verdict = %q, want BLOCK", res.Verdict)
			}
			if res.BlockEvent != eventlog.EventSignalDropped {
				t.Errorf("block event = %q, want SIGNAL_DROPPED", res.BlockEvent)
			}
		})
	}
}

func TestEvaluateCapacity_NilAdapterCapIsUnlimited(t *testing.T) {
	ctx := healthyCapacity()
	ctx.AdapterDailyCap = nil
	ctx.AdapterSentToday = 100000

	if res := EvaluateCapacity(ctx); res.Verdict != Pass {
		t.Fatalf("verdict = %q (%s), want PASS with nil cap", res.Verdict, res.Reason)
	}
}

func TestEvaluateCapacity_DegradedAdapterStillPasses(t *testing.T) {
	ctx := healthyCapacity()
	ctx.AdapterHealth = HealthDegraded

	if res := EvaluateCapacity(ctx); res.Verdict != Pass {
		t.Fatalf("verdict = %q, want PASS for degraded adapter", res.Verdict)
	}
}
