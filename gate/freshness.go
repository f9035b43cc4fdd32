package gate

import (
	"fmt"
	"time"

	"outreachflow/eventlog"
)

// Intelligence tiers run 1 (richest) to 5 (poorest).
const (
	TierBest  = 1
	TierWorst = 5
)

// Source names for per-source freshness records. SourcePeople is the hard
// one: stale contact data blocks unconditionally.
const (
	SourcePeople    = "people"
	SourceCompany   = "company"
	SourceFinancial = "financial"
	SourceNews      = "news"
)

// SourceFreshness records when one data source was last fetched and how
// many days the fetch stays usable. A nil FetchedAt means never fetched.
type SourceFreshness struct {
	Name       string
	FetchedAt  *time.Time
	WindowDays int
}

// Stale reports whether the source is unusable at now.
func (s SourceFreshness) Stale(now time.Time) bool {
	if s.FetchedAt == nil {
		return true
	}
	return now.Sub(*s.FetchedAt) > time.Duration(s.WindowDays)*24*time.Hour
}

// FreshnessContext carries the data-freshness inputs. RequiredFields and
// FallbackFrameID are empty on the first evaluation (before the frame is
// known); the post-frame re-check fills them in.
type FreshnessContext struct {
	CurrentTier     int
	Sources         []SourceFreshness
	RequiredFields  []string
	FallbackFrameID string
	Now             time.Time
}

// EvaluateFreshness decides whether the intelligence backing this run is
// fresh enough to send on.
func EvaluateFreshness(ctx FreshnessContext) Result {
	staleOthers := 0
	for _, src := range ctx.Sources {
		if !src.Stale(ctx.Now) {
			continue
		}
		if src.Name == SourcePeople {
			// Never contact without fresh contact data, regardless of
			// every other source's state.
			return block(Freshness, "people source stale, contact data unusable", eventlog.EventSignalStale)
		}
		staleOthers++
	}

	if staleOthers == 0 {
		r := pass(Freshness, fmt.Sprintf("all sources fresh at tier %d", ctx.CurrentTier))
		r.DowngradedTier = ctx.CurrentTier
		return r
	}

	downgraded := ctx.CurrentTier + staleOthers
	if downgraded > TierWorst {
		downgraded = TierWorst
	}

	if downgraded == ctx.CurrentTier {
		r := pass(Freshness, fmt.Sprintf("%d stale sources but already at worst tier %d", staleOthers, TierWorst))
		r.DowngradedTier = ctx.CurrentTier
		return r
	}

	if len(ctx.RequiredFields) == 0 {
		return Result{
			Gate:           Freshness,
			Verdict:        Downgrade,
			Reason:         fmt.Sprintf("%d stale sources, tier %d -> %d", staleOthers, ctx.CurrentTier, downgraded),
			DowngradedTier: downgraded,
		}
	}

	if ctx.FallbackFrameID != "" {
		return Result{
			Gate:           Freshness,
			Verdict:        Downgrade,
			Reason:         fmt.Sprintf("tier %d -> %d, re-route to fallback frame %s", ctx.CurrentTier, downgraded, ctx.FallbackFrameID),
			DowngradedTier: downgraded,
		}
	}

	// A partially populated message is worse than no message.
	return block(Freshness,
		fmt.Sprintf("tier %d -> %d cannot satisfy %d required fields and no fallback frame", ctx.CurrentTier, downgraded, len(ctx.RequiredFields)),
		eventlog.EventSignalStale)
}
