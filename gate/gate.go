// Package gate holds the three admission gates guarding the dispatch
// pipeline. Each gate is a pure function over a context struct assembled
// before the run starts, so every decision is reproducible in tests
// without a live database.
package gate

import "outreachflow/eventlog"

// Verdict is a gate's decision.
type Verdict string

const (
	Pass      Verdict = "PASS"
	Block     Verdict = "BLOCK"
	Downgrade Verdict = "DOWNGRADE"
)

// Name identifies which gate produced a result.
type Name string

const (
	Capacity    Name = "capacity"
	Suppression Name = "suppression"
	Freshness   Name = "freshness"
)

// Result is the immutable outcome of one gate evaluation. BlockEvent is set
// only on BLOCK so callers never re-derive the audit event type;
// DowngradedTier is set only on DOWNGRADE (and on freshness PASS, where it
// echoes the unchanged tier).
type Result struct {
	Gate           Name
	Verdict        Verdict
	Reason         string
	BlockEvent     eventlog.EventType
	DowngradedTier int
}

func pass(gate Name, reason string) Result {
	return Result{Gate: gate, Verdict: Pass, Reason: reason}
}

func block(gate Name, reason string, event eventlog.EventType) Result {
	return Result{Gate: gate, Verdict: Block, Reason: reason, BlockEvent: event}
}
