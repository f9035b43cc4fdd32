package gate

import (
	"fmt"
	"time"

	"outreachflow/eventlog"
)

// SuppressionContext carries the recipient-protection inputs for the target
// entity. Permanent flags and states short-circuit before any frequency
// math: a permanently suppressed recipient's contact timing must never be
// used to justify a send.
type SuppressionContext struct {
	State eventlog.SuppressionState

	NeverContact bool
	Unsubscribed bool
	HardBounced  bool
	Complained   bool

	LastContactedAt *time.Time
	MinIntervalDays int

	CompanySendsThisWeek int
	WeeklyCap            int

	Now time.Time
}

// EvaluateSuppression applies the recipient-protection checks in strict
// order, fail-fast.
func EvaluateSuppression(ctx SuppressionContext) Result {
	switch {
	case ctx.NeverContact:
		return block(Suppression, "entity flagged never-contact", eventlog.EventRecipientSuppressed)
	case ctx.Unsubscribed:
		return block(Suppression, "entity unsubscribed", eventlog.EventRecipientSuppressed)
	case ctx.HardBounced:
		return block(Suppression, "entity hard-bounced", eventlog.EventRecipientSuppressed)
	case ctx.Complained:
		return block(Suppression, "entity complained", eventlog.EventRecipientSuppressed)
	}

	switch ctx.State {
	case eventlog.StateSuppressed:
		return block(Suppression, "entity permanently suppressed", eventlog.EventRecipientSuppressed)
	case eventlog.StateParked:
		return block(Suppression, "entity parked, contact withheld", eventlog.EventRecipientParked)
	case eventlog.StateCooled:
		// Throttle, not suppression: monitoring needs to tell "paused"
		// apart from "opted out".
		return block(Suppression, "entity cooling down after recent contact", eventlog.EventRecipientThrottled)
	}

	if ctx.LastContactedAt != nil {
		days := int(ctx.Now.Sub(*ctx.LastContactedAt).Hours() / 24)
		if days < ctx.MinIntervalDays {
			return block(Suppression,
				fmt.Sprintf("contacted %d days ago, minimum interval %d days", days, ctx.MinIntervalDays),
				eventlog.EventRecipientThrottled)
		}
	}

	if ctx.CompanySendsThisWeek >= ctx.WeeklyCap {
		return block(Suppression,
			fmt.Sprintf("company weekly cap reached (%d/%d)", ctx.CompanySendsThisWeek, ctx.WeeklyCap),
			eventlog.EventCompanyThrottled)
	}

	return pass(Suppression, "entity eligible for contact")
}
