package gate

import (
	"fmt"

	"outreachflow/eventlog"
)

// AdapterHealth mirrors the channel_status.health column.
type AdapterHealth string

const (
	HealthHealthy  AdapterHealth = "healthy"
	HealthDegraded AdapterHealth = "degraded"
	HealthPaused   AdapterHealth = "paused"
)

// CapacityContext carries everything the capacity gate needs, gathered by
// the context assembler before the run starts.
type CapacityContext struct {
	FounderAvailable bool

	Channel          string
	AdapterHealth    AdapterHealth
	AdapterDailyCap  *int
	AdapterSentToday int

	AgentID        string
	AgentDailyCap  int
	AgentSentToday int
}

// EvaluateCapacity applies the capacity checks in strict order, first
// failure wins. The global availability flag dominates everything else.
func EvaluateCapacity(ctx CapacityContext) Result {
	if !ctx.FounderAvailable {
		return block(Capacity, "founder calendar unavailable, outbound globally paused", eventlog.EventSignalDropped)
	}
	if ctx.AdapterHealth == HealthPaused {
		return block(Capacity, fmt.Sprintf("adapter for channel %q is paused", ctx.Channel), eventlog.EventSignalDropped)
	}
	if ctx.AdapterDailyCap != nil && ctx.AdapterSentToday >= *ctx.AdapterDailyCap {
		return block(Capacity,
			fmt.Sprintf("channel %q daily cap reached (%d/%d)", ctx.Channel, ctx.AdapterSentToday, *ctx.AdapterDailyCap),
			eventlog.EventSignalDropped)
	}
	if ctx.AgentSentToday >= ctx.AgentDailyCap {
		return block(Capacity,
			fmt.Sprintf("agent %q daily cap reached (%d/%d)", ctx.AgentID, ctx.AgentSentToday, ctx.AgentDailyCap),
			eventlog.EventSignalDropped)
	}
	return pass(Capacity, "capacity available")
}
