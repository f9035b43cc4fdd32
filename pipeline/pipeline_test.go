package pipeline

import (
	"context"
	"testing"
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

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// ── fakes ──

type memoryLog struct {
	events []eventlog.AuditEvent
}

func (m *memoryLog) Append(ctx context.Context, ev eventlog.AuditEvent) error {
	ev.CreatedAt = testNow
	m.events = append(m.events, ev)
	return nil
}

func (m *memoryLog) EventsForCommunication(ctx context.Context, commID string) ([]eventlog.AuditEvent, error) {
	out := []eventlog.AuditEvent{}
	for _, ev := range m.events {
		if ev.CommunicationID == commID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memoryLog) SuppressionInputs(ctx context.Context, entityID string) (eventlog.SuppressionInputs, error) {
	return eventlog.SuppressionInputs{}, nil
}

func (m *memoryLog) DispatchCounts(ctx context.Context, q eventlog.CountQuery) (eventlog.DispatchCounts, error) {
	return eventlog.DispatchCounts{}, nil
}

type fakeFrames struct {
	frames []frame.Frame
}

func (f *fakeFrames) ListActive(ctx context.Context, phase ident.Phase) ([]frame.Frame, error) {
	return f.frames, nil
}

type fakeIntel struct {
	snap  intel.Snapshot
	found bool
}

func (f *fakeIntel) GetSnapshot(ctx context.Context, companyID string) (intel.Snapshot, bool, error) {
	return f.snap, f.found, nil
}

type orbtRepo struct {
	records []orbt.Record
}

func (f *orbtRepo) Insert(ctx context.Context, rec orbt.Record) (orbt.Record, error) {
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *orbtRepo) CountStrikes(ctx context.Context, commID ident.CommunicationID) (int, error) {
	n := 0
	for _, r := range f.records {
		if r.CommunicationID == commID.String() {
			n++
		}
	}
	return n, nil
}

type scriptedEmail struct {
	results []adapter.ProviderResult
	calls   int
}

func (s *scriptedEmail) Deliver(ctx context.Context, req adapter.EmailRequest) (adapter.ProviderResult, error) {
	res := s.results[s.calls%len(s.results)]
	s.calls++
	return res, nil
}

// ── fixtures ──

func testSignal() signal.Signal {
	return signal.Signal{
		ID:        "sig-1",
		Source:    "apollo-import",
		Hash:      signal.ComputeHash("apollo-import", "funding-round", "series-b"),
		CompanyID: "company-42",
		Phase:     ident.PhaseOutreach,
		AgentID:   "agent-1",
	}
}

func testSnapshot() intel.Snapshot {
	fetched := testNow.AddDate(0, 0, -1)
	return intel.Snapshot{
		CompanyID: "company-42",
		Tier:      1,
		Domain:    "example.com",
		Contacts: []intel.Contact{
			{EntityID: "ceo-1", Role: intel.RoleCEO, FullName: "Pat Doe", Email: "ceo@example.com"},
		},
		Sources: []gate.SourceFreshness{
			{Name: gate.SourcePeople, FetchedAt: &fetched, WindowDays: 30},
			{Name: gate.SourceCompany, FetchedAt: &fetched, WindowDays: 90},
			{Name: gate.SourceFinancial, FetchedAt: &fetched, WindowDays: 90},
			{Name: gate.SourceNews, FetchedAt: &fetched, WindowDays: 7},
		},
	}
}

func passingContexts() Contexts {
	return Contexts{
		Capacity: gate.CapacityContext{
			FounderAvailable: true,
			Channel:          "email",
			AdapterHealth:    gate.HealthHealthy,
			AgentID:          "agent-1",
			AgentDailyCap:    25,
		},
		Suppression: gate.SuppressionContext{
			State:           eventlog.StateActive,
			MinIntervalDays: 7,
			WeeklyCap:       3,
			Now:             testNow,
		},
		Freshness: gate.FreshnessContext{
			Sources: testSnapshot().Sources,
			Now:     testNow,
		},
	}
}

func newTestOrchestrator(t *testing.T, email adapter.EmailClient, log *memoryLog, strikes *orbtRepo) *Orchestrator {
	t.Helper()
	reg, err := adapter.NewRegistry(
		adapter.NewEmailAdapter(email, time.Second),
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	frames := &fakeFrames{frames: []frame.Frame{
		{ID: "frame-rich", Name: "rich-outreach", Phase: ident.PhaseOutreach, MinTier: 1, RequiredFields: []string{"first_name", "news_hook"}, FallbackFrameID: "frame-generic", Active: true},
		{ID: "frame-generic", Name: "generic-outreach", Phase: ident.PhaseOutreach, MinTier: 5, Active: true},
	}}

	return NewOrchestrator(
		frames,
		&fakeIntel{snap: testSnapshot(), found: true},
		reg,
		log,
		orbt.NewHandler(strikes),
		Sender{ID: "founder", Email: "outreach@example.com"},
	)
}

// ── scenarios ──

func TestRun_SuccessfulDelivery(t *testing.T) {
	log := &memoryLog{}
	email := &scriptedEmail{results: []adapter.ProviderResult{
		{Accepted: true, Status: adapter.StatusDelivered, ExternalID: "ext-1"},
	}}
	o := newTestOrchestrator(t, email, log, &orbtRepo{})

	res, err := o.Run(context.Background(), testSignal(), passingContexts())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Halted {
		t.Fatalf("run halted: %s", res.Reason)
	}
	if res.StepReached != StepFinalize {
		t.Errorf("step reached = %d, want %d", res.StepReached, StepFinalize)
	}
	if res.DeliveryStatus != adapter.StatusDelivered {
		t.Errorf("delivery status = %q, want delivered", res.DeliveryStatus)
	}
	if res.CommunicationID == "" || res.MessageRunID == "" {
		t.Error("both ids must be minted on a full run")
	}
	if len(res.Gates) != 3 {
		t.Errorf("gate verdicts = %d, want capacity+freshness+suppression", len(res.Gates))
	}
	for _, g := range res.Gates {
		if g.Verdict != gate.Pass {
			t.Errorf("gate %s verdict = %q, want PASS", g.Gate, g.Verdict)
		}
	}

	// Exactly one audit row per step for this communication id, plus the
	// pre-mint intake rows.
	perStep := map[int]int{}
	for _, ev := range log.events {
		perStep[ev.Step]++
	}
	for step := StepIntake; step <= StepFinalize; step++ {
		if perStep[step] != 1 {
			t.Errorf("step %d has %d audit rows, want exactly 1", step, perStep[step])
		}
	}

	if email.calls != 1 {
		t.Errorf("adapter called %d times, want 1", email.calls)
	}
}

func TestRun_InvalidSignalNeverMints(t *testing.T) {
	log := &memoryLog{}
	o := newTestOrchestrator(t, &scriptedEmail{results: []adapter.ProviderResult{{}}}, log, &orbtRepo{})

	for _, mutate := range []func(*signal.Signal){
		func(s *signal.Signal) { s.CompanyID = "" },
		func(s *signal.Signal) { s.Hash = "" },
		func(s *signal.Signal) { s.Phase = "" },
	} {
		sig := testSignal()
		mutate(&sig)

		res, err := o.Run(context.Background(), sig, passingContexts())
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if !res.Halted || res.StepReached != StepIntake {
			t.Errorf("result = %+v, want halt at step 1", res)
		}
		if res.CommunicationID != "" {
			t.Error("communication id must never be minted for invalid signals")
		}
	}

	for _, ev := range log.events {
		if ev.Type != eventlog.EventSignalInvalid {
			t.Errorf("unexpected event %q for invalid signals", ev.Type)
		}
		if ev.CommunicationID != "" {
			t.Error("invalid-signal events must carry no communication id")
		}
	}
}

func TestRun_CapacityBlockHaltsBeforeIntel(t *testing.T) {
	log := &memoryLog{}
	o := newTestOrchestrator(t, &scriptedEmail{results: []adapter.ProviderResult{{}}}, log, &orbtRepo{})

	cx := passingContexts()
	cx.Capacity.FounderAvailable = false

	res, err := o.Run(context.Background(), testSignal(), cx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Halted || res.StepReached != StepIntake {
		t.Fatalf("result = %+v, want halt at step 1", res)
	}

	var blocks int
	for _, ev := range log.events {
		if ev.Type == eventlog.EventSignalDropped {
			blocks++
		}
	}
	if blocks != 1 {
		t.Errorf("block events = %d, want exactly 1", blocks)
	}
}

func TestRun_SuppressionBlockAfterMinting(t *testing.T) {
	log := &memoryLog{}
	o := newTestOrchestrator(t, &scriptedEmail{results: []adapter.ProviderResult{{}}}, log, &orbtRepo{})

	cx := passingContexts()
	cx.Suppression.NeverContact = true

	res, err := o.Run(context.Background(), testSignal(), cx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Halted || res.StepReached != StepMintComm {
		t.Fatalf("result = %+v, want halt at step 4", res)
	}
	if res.CommunicationID == "" {
		t.Error("communication id is minted before the suppression gate")
	}
	if res.MessageRunID != "" {
		t.Error("no run id may exist for a suppressed recipient")
	}

	var blocks int
	for _, ev := range log.events {
		if ev.Type == eventlog.EventRecipientSuppressed {
			blocks++
			if ev.CommunicationID != res.CommunicationID.String() {
				t.Error("block event must correlate to the minted communication id")
			}
		}
	}
	if blocks != 1 {
		t.Errorf("suppression block events = %d, want exactly 1", blocks)
	}
}

func TestRun_MissingIntelDegradesToWorstTier(t *testing.T) {
	log := &memoryLog{}
	reg, _ := adapter.NewRegistry(adapter.NewEmailAdapter(&scriptedEmail{results: []adapter.ProviderResult{
		{Accepted: true, Status: adapter.StatusSent},
	}}, time.Second))

	frames := &fakeFrames{frames: []frame.Frame{
		{ID: "frame-generic", Name: "generic-outreach", Phase: ident.PhaseOutreach, MinTier: 5, Active: true},
	}}
	o := NewOrchestrator(frames, &fakeIntel{found: false}, reg, log, orbt.NewHandler(&orbtRepo{}), Sender{ID: "founder", Email: "outreach@example.com"})

	cx := passingContexts()
	res, err := o.Run(context.Background(), testSignal(), cx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Missing snapshot is not fatal at step 2; the run dies later at
	// audience resolution because there are no contacts.
	if !res.Halted || res.StepReached != StepAudience {
		t.Fatalf("result = %+v, want halt at step 5", res)
	}
}

func TestRun_FreshnessDowngradeReRoutesToFallback(t *testing.T) {
	log := &memoryLog{}
	o := newTestOrchestrator(t, &scriptedEmail{results: []adapter.ProviderResult{
		{Accepted: true, Status: adapter.StatusDelivered},
	}}, log, &orbtRepo{})

	cx := passingContexts()
	stale := testNow.AddDate(0, 0, -200)
	cx.Freshness.Sources = []gate.SourceFreshness{
		{Name: gate.SourcePeople, FetchedAt: &stale, WindowDays: 10000},
		{Name: gate.SourceCompany, FetchedAt: &stale, WindowDays: 90},
		{Name: gate.SourceNews, FetchedAt: &stale, WindowDays: 7},
	}

	res, err := o.Run(context.Background(), testSignal(), cx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Halted {
		t.Fatalf("run halted: %s", res.Reason)
	}

	var matched string
	for _, ev := range log.events {
		if ev.Type == eventlog.EventFrameMatched {
			matched, _ = ev.Payload["frame_id"].(string)
		}
	}
	if matched != "frame-generic" {
		t.Errorf("matched frame = %q, want fallback frame-generic after downgrade", matched)
	}

	// Two freshness verdicts: the pre-frame downgrade and the re-check.
	var freshness int
	for _, g := range res.Gates {
		if g.Gate == gate.Freshness {
			freshness++
		}
	}
	if freshness != 2 {
		t.Errorf("freshness evaluations = %d, want 2", freshness)
	}
}

func TestRun_StalePeopleBlocks(t *testing.T) {
	log := &memoryLog{}
	o := newTestOrchestrator(t, &scriptedEmail{results: []adapter.ProviderResult{{}}}, log, &orbtRepo{})

	cx := passingContexts()
	cx.Freshness.Sources = []gate.SourceFreshness{
		{Name: gate.SourcePeople, WindowDays: 30},
	}

	res, err := o.Run(context.Background(), testSignal(), cx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Halted || res.StepReached != StepIntel {
		t.Fatalf("result = %+v, want halt at step 2", res)
	}
}

func TestRun_AdapterFailureEscalatesThroughORBT(t *testing.T) {
	log := &memoryLog{}
	strikes := &orbtRepo{}
	o := newTestOrchestrator(t, &scriptedEmail{results: []adapter.ProviderResult{
		{Accepted: false, Status: adapter.StatusFailed, Message: "provider 500"},
	}}, log, strikes)

	res, err := o.Run(context.Background(), testSignal(), passingContexts())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Adapter failure is not fatal to step 6; the run finishes all nine
	// steps with the failure escalated.
	if res.Halted {
		t.Fatalf("run halted: %s", res.Reason)
	}
	if res.StepReached != StepFinalize {
		t.Errorf("step reached = %d, want %d", res.StepReached, StepFinalize)
	}
	if res.DeliveryStatus != adapter.StatusFailed {
		t.Errorf("delivery status = %q, want failed", res.DeliveryStatus)
	}
	if res.Escalation == nil {
		t.Fatal("expected an ORBT escalation record")
	}
	if res.Escalation.Strike != 1 || res.Escalation.Action != orbt.ActionRetry {
		t.Errorf("escalation = %+v, want strike 1 auto_retry", res.Escalation)
	}
	if len(strikes.records) != 1 {
		t.Errorf("orbt records = %d, want 1", len(strikes.records))
	}
}

func TestRun_RepeatedFailuresWalkTheStrikes(t *testing.T) {
	strikes := &orbtRepo{}
	email := &scriptedEmail{results: []adapter.ProviderResult{
		{Accepted: false, Status: adapter.StatusFailed, Message: "provider 500"},
	}}

	log := &memoryLog{}
	o := newTestOrchestrator(t, email, log, strikes)

	// First run mints the communication id; replay the failure twice more
	// against the same id by re-handling through the same orbt repo.
	res, err := o.Run(context.Background(), testSignal(), passingContexts())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	h := orbt.NewHandler(strikes)
	for i, want := range []orbt.Action{orbt.ActionAlternate, orbt.ActionEscalate} {
		rec, err := h.Handle(context.Background(), orbt.Failure{
			MessageRunID:    res.MessageRunID,
			CommunicationID: res.CommunicationID,
			Channel:         adapter.ChannelEmail,
			FailureType:     "provider_error",
		})
		if err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
		if rec.Strike != i+2 {
			t.Errorf("strike = %d, want %d", rec.Strike, i+2)
		}
		if rec.Action != want {
			t.Errorf("action = %q, want %q", rec.Action, want)
		}
	}
}
