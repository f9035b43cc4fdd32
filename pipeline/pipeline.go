// Package pipeline drives the nine-step dispatch sequence for one inbound
// signal: intake, intelligence, frame match, id minting, audience
// resolution, adapter invocation, delivery logging, escalation, and
// finalization, with the capacity, freshness and suppression gates
// interleaved at fixed points. State flows forward only; no step re-enters.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"outreachflow/adapter"
	"outreachflow/eventlog"
	"outreachflow/frame"
	"outreachflow/gate"
	"outreachflow/ident"
	"outreachflow/intel"
	"outreachflow/orbt"
	"outreachflow/signal"
)

// Step numbers and names, in execution order.
const (
	StepIntake    = 1
	StepIntel     = 2
	StepFrame     = 3
	StepMintComm  = 4
	StepAudience  = 5
	StepDispatch  = 6
	StepDelivery  = 7
	StepEscalate  = 8
	StepFinalize  = 9
)

var stepNames = map[int]string{
	StepIntake:   "signal_intake",
	StepIntel:    "collect_intelligence",
	StepFrame:    "match_frame",
	StepMintComm: "mint_communication_id",
	StepAudience: "resolve_audience",
	StepDispatch: "dispatch_message",
	StepDelivery: "log_delivery",
	StepEscalate: "escalate_failures",
	StepFinalize: "finalize_run",
}

// Sender is the identity outbound messages are sent as.
type Sender struct {
	ID    string
	Email string
}

// Contexts bundles the three gate contexts the context assembler gathers
// before a run starts. Attempt is the delivery attempt number for this
// invocation; zero means first attempt.
type Contexts struct {
	Capacity    gate.CapacityContext
	Suppression gate.SuppressionContext
	Freshness   gate.FreshnessContext
	Attempt     int
}

// Escalator is the ORBT handler surface the orchestrator needs.
type Escalator interface {
	Handle(ctx context.Context, f orbt.Failure) (orbt.Record, error)
}

// Result reports one finished run: the highest step reached, both minted
// ids if minting happened, every gate verdict observed, the terminal
// delivery status if the adapter was invoked, and a reason when the run
// halted early. Enough for an operator to tell "blocked by policy" from
// "failed to deliver" from "malformed input" without reading logs.
type Result struct {
	StepReached     int
	CommunicationID ident.CommunicationID
	MessageRunID    ident.MessageRunID
	DeliveryStatus  adapter.DeliveryStatus
	Gates           []gate.Result
	Escalation      *orbt.Record
	Halted          bool
	Reason          string
}

// Orchestrator owns one run at a time; instances share no mutable state,
// so independent signals may run concurrently.
type Orchestrator struct {
	frames   frame.Repository
	intel    intel.Repository
	registry *adapter.Registry
	log      eventlog.Repository
	orbt     Escalator
	minter   *ident.Minter
	sender   Sender
	now      func() time.Time
}

func NewOrchestrator(
	frames frame.Repository,
	intelRepo intel.Repository,
	registry *adapter.Registry,
	log eventlog.Repository,
	escalator Escalator,
	sender Sender,
) *Orchestrator {
	return &Orchestrator{
		frames:   frames,
		intel:    intelRepo,
		registry: registry,
		log:      log,
		orbt:     escalator,
		minter:   ident.NewMinter(),
		sender:   sender,
		now:      time.Now,
	}
}

// WithMinter swaps the id minter; used by tests that need a fixed clock.
func (o *Orchestrator) WithMinter(m *ident.Minter) *Orchestrator {
	o.minter = m
	return o
}

// state is the mutable accumulator threaded through the steps. Owned by
// one run, discarded at run end; persisted only via the event log.
type state struct {
	sig       signal.Signal
	snapshot  intel.Snapshot
	tier      int
	baseTier  int
	frame     frame.Frame
	commID    ident.CommunicationID
	runID     ident.MessageRunID
	recipient intel.Recipient
	channel   adapter.Channel
	response  *adapter.Response
	gates     []gate.Result
}

// Run executes the nine-step sequence for one signal. A BLOCKing gate or a
// failing step halts the run immediately; the terminating audit row is
// written before returning. The error return is reserved for
// infrastructure faults (event log unavailable, minter defects surface as
// panics).
func (o *Orchestrator) Run(ctx context.Context, sig signal.Signal, cx Contexts) (Result, error) {
	st := &state{sig: sig}
	attempt := cx.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	// Step 1: intake. Fail closed on missing required fields.
	if err := sig.Validate(); err != nil {
		if logErr := o.record(ctx, st, StepIntake, eventlog.EventSignalInvalid, map[string]any{"error": err.Error()}); logErr != nil {
			return Result{}, logErr
		}
		return o.halted(st, StepIntake, "invalid signal: "+err.Error()), nil
	}
	if err := o.record(ctx, st, StepIntake, eventlog.EventSignalReceived, map[string]any{
		"source": sig.Source,
		"hash":   sig.Hash,
		"phase":  string(sig.Phase),
	}); err != nil {
		return Result{}, err
	}

	// Capacity gate guards everything downstream of intake.
	capRes := gate.EvaluateCapacity(cx.Capacity)
	st.gates = append(st.gates, capRes)
	if capRes.Verdict == gate.Block {
		if err := o.recordBlock(ctx, st, StepIntake, capRes); err != nil {
			return Result{}, err
		}
		return o.halted(st, StepIntake, capRes.Reason), nil
	}

	// Step 2: collect intelligence. Absence degrades to the worst tier.
	snap, found, err := o.intel.GetSnapshot(ctx, sig.CompanyID)
	if err != nil {
		return Result{}, err
	}
	if found {
		st.snapshot = snap
		st.tier = snap.Tier
	} else {
		st.tier = gate.TierWorst
	}
	st.baseTier = st.tier
	if err := o.record(ctx, st, StepIntel, eventlog.EventIntelCollected, map[string]any{
		"found": found,
		"tier":  st.tier,
	}); err != nil {
		return Result{}, err
	}

	// Freshness gate, first pass: the frame is not known yet, so required
	// fields are empty and any downgrade is accepted.
	fc := cx.Freshness
	fc.CurrentTier = st.tier
	fc.RequiredFields = nil
	fc.FallbackFrameID = ""
	freshRes := gate.EvaluateFreshness(fc)
	st.gates = append(st.gates, freshRes)
	switch freshRes.Verdict {
	case gate.Block:
		if err := o.recordBlock(ctx, st, StepIntel, freshRes); err != nil {
			return Result{}, err
		}
		return o.halted(st, StepIntel, freshRes.Reason), nil
	case gate.Downgrade:
		st.tier = freshRes.DowngradedTier
	}

	// Step 3: match frame at the (possibly downgraded) tier.
	frames, err := o.frames.ListActive(ctx, sig.Phase)
	if err != nil {
		return Result{}, err
	}
	matched, err := frame.Match(frames, st.tier)
	if err != nil {
		if logErr := o.record(ctx, st, StepFrame, eventlog.EventFrameUnmatched, map[string]any{"tier": st.tier}); logErr != nil {
			return Result{}, logErr
		}
		return o.halted(st, StepFrame, fmt.Sprintf("no eligible frame at tier %d", st.tier)), nil
	}
	st.frame = matched

	// Freshness re-check: only when the first pass downgraded, and now with
	// the matched frame's real required fields. The people source's
	// staleness is already known from the first pass, so this can only
	// re-route or block on required fields.
	if freshRes.Verdict == gate.Downgrade {
		fc = cx.Freshness
		fc.CurrentTier = st.baseTier
		fc.RequiredFields = matched.RequiredFields
		fc.FallbackFrameID = matched.FallbackFrameID
		recheck := gate.EvaluateFreshness(fc)
		st.gates = append(st.gates, recheck)
		switch recheck.Verdict {
		case gate.Block:
			if err := o.recordBlock(ctx, st, StepFrame, recheck); err != nil {
				return Result{}, err
			}
			return o.halted(st, StepFrame, recheck.Reason), nil
		case gate.Downgrade:
			if matched.FallbackFrameID != "" {
				if fb, ok := frameByID(frames, matched.FallbackFrameID); ok {
					st.frame = fb
				}
			}
		}
	}
	if err := o.record(ctx, st, StepFrame, eventlog.EventFrameMatched, map[string]any{
		"frame_id": st.frame.ID,
		"tier":     st.tier,
	}); err != nil {
		return Result{}, err
	}

	// Step 4: mint the communication id.
	commID, err := o.minter.MintCommunicationID(sig.Phase)
	if err != nil {
		return Result{}, err
	}
	st.commID = commID
	if err := o.record(ctx, st, StepMintComm, eventlog.EventCommIDMinted, nil); err != nil {
		return Result{}, err
	}

	// Suppression gate guards audience resolution.
	supRes := gate.EvaluateSuppression(cx.Suppression)
	st.gates = append(st.gates, supRes)
	if supRes.Verdict == gate.Block {
		if err := o.recordBlock(ctx, st, StepMintComm, supRes); err != nil {
			return Result{}, err
		}
		return o.halted(st, StepMintComm, supRes.Reason), nil
	}

	// Step 5: resolve the audience by fixed role priority.
	recipient, err := intel.ResolveAudience(st.snapshot)
	if err != nil {
		if logErr := o.record(ctx, st, StepAudience, eventlog.EventAudienceUnresolved, nil); logErr != nil {
			return Result{}, logErr
		}
		return o.halted(st, StepAudience, "no usable recipient"), nil
	}
	st.recipient = recipient
	st.channel = ResolveChannel(sig, recipient)
	if err := o.record(ctx, st, StepAudience, eventlog.EventAudienceResolved, map[string]any{
		"role":    recipient.Role,
		"channel": string(st.channel),
	}); err != nil {
		return Result{}, err
	}

	// Step 6: mint the run id and invoke the adapter. Adapter failures are
	// not fatal to the step; they are marked for post-hoc escalation.
	code, err := st.channel.Code()
	if err != nil {
		return Result{}, err
	}
	runID, err := o.minter.MintMessageRunID(st.commID, code, attempt)
	if err != nil {
		return Result{}, err
	}
	st.runID = runID

	resp := o.dispatch(ctx, st)
	st.response = &resp
	if err := o.record(ctx, st, StepDispatch, eventlog.EventMessageDispatched, map[string]any{
		"channel":  string(st.channel),
		"agent_id": o.agentID(sig),
		"attempt":  attempt,
	}); err != nil {
		return Result{}, err
	}

	// Step 7: translate the adapter response into the terminal delivery
	// event. An absent response (no delivery status at all) is itself fatal.
	if st.response.Status == "" {
		if logErr := o.record(ctx, st, StepDelivery, eventlog.EventDeliveryFailed, map[string]any{"error": "adapter returned no delivery status"}); logErr != nil {
			return Result{}, logErr
		}
		return o.halted(st, StepDelivery, "adapter returned no delivery status"), nil
	}
	deliveryEvent, failed := deliveryOutcome(*st.response)
	if err := o.record(ctx, st, StepDelivery, deliveryEvent, map[string]any{
		"status":      string(st.response.Status),
		"external_id": st.response.ExternalID,
		"error":       st.response.Error,
		"raw":         st.response.Raw,
	}); err != nil {
		return Result{}, err
	}

	// Step 8: escalate failures through ORBT; clean deliveries record a
	// clean-outcome row so the step count stays uniform in the log.
	var escalation *orbt.Record
	if failed {
		rec, err := o.orbt.Handle(ctx, orbt.Failure{
			MessageRunID:    st.runID,
			CommunicationID: st.commID,
			Channel:         st.channel,
			FailureType:     failureType(*st.response),
			Detail:          st.response.Error,
		})
		if err != nil {
			return Result{}, err
		}
		escalation = &rec
		if err := o.record(ctx, st, StepEscalate, eventlog.EventEscalationRecorded, map[string]any{
			"strike": rec.Strike,
			"action": string(rec.Action),
		}); err != nil {
			return Result{}, err
		}
	} else {
		if err := o.record(ctx, st, StepEscalate, eventlog.EventOutcomeClean, nil); err != nil {
			return Result{}, err
		}
	}

	// Step 9: finalize.
	if err := o.record(ctx, st, StepFinalize, eventlog.EventRunCompleted, map[string]any{
		"delivery_status": string(st.response.Status),
		"gate_verdicts":   len(st.gates),
	}); err != nil {
		return Result{}, err
	}

	return Result{
		StepReached:     StepFinalize,
		CommunicationID: st.commID,
		MessageRunID:    st.runID,
		DeliveryStatus:  st.response.Status,
		Gates:           st.gates,
		Escalation:      escalation,
	}, nil
}

// dispatch resolves the adapter and calls it. Every failure mode collapses
// into a structured failed response so step 7 always has something to log.
func (o *Orchestrator) dispatch(ctx context.Context, st *state) adapter.Response {
	a, err := o.registry.Resolve(st.channel)
	if err != nil {
		return adapter.Response{Success: false, Status: adapter.StatusFailed, Error: err.Error()}
	}

	resp, err := a.Send(ctx, adapter.Payload{
		CommunicationID:   st.commID,
		MessageRunID:      st.runID,
		Channel:           st.channel,
		RecipientEntityID: st.recipient.EntityID,
		RecipientEmail:    st.recipient.Email,
		RecipientURL:      st.recipient.LinkedInURL,
		SenderID:          o.agentID(st.sig),
		SenderEmail:       o.sender.Email,
		Content: map[string]string{
			"subject": fmt.Sprintf("%s:%s", st.frame.Name, st.sig.Hash),
			"body":    st.frame.ID,
		},
		Metadata: map[string]any{
			"frame_id": st.frame.ID,
			"lane":     st.sig.LaneHint,
		},
	})
	if err != nil {
		return adapter.Response{Success: false, Status: adapter.StatusFailed, Error: err.Error()}
	}
	return resp
}

func (o *Orchestrator) agentID(sig signal.Signal) string {
	if sig.AgentID != "" {
		return sig.AgentID
	}
	return o.sender.ID
}

func (o *Orchestrator) record(ctx context.Context, st *state, step int, typ eventlog.EventType, payload map[string]any) error {
	return o.log.Append(ctx, eventlog.AuditEvent{
		CommunicationID: st.commID.String(),
		MessageRunID:    st.runID.String(),
		CompanyID:       st.sig.CompanyID,
		EntityID:        st.recipient.EntityID,
		Step:            step,
		StepName:        stepNames[step],
		Type:            typ,
		Payload:         payload,
	})
}

func (o *Orchestrator) recordBlock(ctx context.Context, st *state, step int, res gate.Result) error {
	return o.log.Append(ctx, eventlog.AuditEvent{
		CommunicationID: st.commID.String(),
		CompanyID:       st.sig.CompanyID,
		EntityID:        st.recipient.EntityID,
		Step:            step,
		StepName:        string(res.Gate) + "_gate",
		Type:            res.BlockEvent,
		Payload:         map[string]any{"reason": res.Reason},
	})
}

func (o *Orchestrator) halted(st *state, step int, reason string) Result {
	res := Result{
		StepReached:     step,
		CommunicationID: st.commID,
		MessageRunID:    st.runID,
		Gates:           st.gates,
		Halted:          true,
		Reason:          reason,
	}
	if st.response != nil {
		res.DeliveryStatus = st.response.Status
	}
	return res
}

// ResolveChannel picks the outbound channel for a signal and recipient:
// a valid hint wins, otherwise email when the recipient has one, otherwise
// LinkedIn. The context assembler uses the same rule so the capacity gate
// vets the channel the run will actually use.
func ResolveChannel(sig signal.Signal, rec intel.Recipient) adapter.Channel {
	if hint := adapter.Channel(sig.ChannelHint); hint.Valid() {
		return hint
	}
	if rec.Email != "" {
		return adapter.ChannelEmail
	}
	return adapter.ChannelLinkedIn
}

func deliveryOutcome(resp adapter.Response) (eventlog.EventType, bool) {
	switch resp.Status {
	case adapter.StatusDelivered:
		return eventlog.EventDeliveryDelivered, false
	case adapter.StatusSent:
		return eventlog.EventDeliverySent, false
	case adapter.StatusBounced:
		return eventlog.EventDeliveryBounced, true
	default:
		return eventlog.EventDeliveryFailed, true
	}
}

func failureType(resp adapter.Response) string {
	if resp.Status == adapter.StatusBounced {
		return "bounce"
	}
	return "provider_error"
}

func frameByID(frames []frame.Frame, id string) (frame.Frame, bool) {
	for _, f := range frames {
		if f.ID == id {
			return f, true
		}
	}
	return frame.Frame{}, false
}
