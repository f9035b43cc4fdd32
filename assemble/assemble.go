// Package assemble builds the three gate contexts a pipeline run needs,
// querying ops settings, channel and agent status, recipient flags, and
// audit-log projections before the run starts. The gates themselves stay
// pure; everything stateful funnels through here.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"outreachflow/adapter"
	"outreachflow/eventlog"
	"outreachflow/gate"
	"outreachflow/intel"
	"outreachflow/pipeline"
	"outreachflow/signal"
)

// Defaults applied when a company or agent has no explicit configuration.
const (
	DefaultAgentDailyCap   = 25
	DefaultWeeklyCap       = 3
	DefaultMinIntervalDays = 7
	DefaultCooldownDays    = 3
)

// rowQuerier is the slice of pgxpool.Pool the assembler reads with.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Assembler gathers gate contexts from PostgreSQL.
type Assembler struct {
	pool   rowQuerier
	events eventlog.Repository
	intel  intel.Repository
	now    func() time.Time
}

func New(pool *pgxpool.Pool, events eventlog.Repository, intelRepo intel.Repository) *Assembler {
	return &Assembler{
		pool:   pool,
		events: events,
		intel:  intelRepo,
		now:    time.Now,
	}
}

// Assemble builds the capacity, suppression and freshness contexts for one
// signal. The suppression context is keyed on the primary recipient the
// audience resolver would pick, so the gate sees the same entity the
// pipeline will contact.
func (a *Assembler) Assemble(ctx context.Context, sig signal.Signal) (pipeline.Contexts, error) {
	now := a.now().UTC()

	snap, _, err := a.intel.GetSnapshot(ctx, sig.CompanyID)
	if err != nil {
		return pipeline.Contexts{}, err
	}

	entityID := ""
	rec, audienceErr := intel.ResolveAudience(snap)
	if audienceErr == nil {
		entityID = rec.EntityID
	}
	channel := pipeline.ResolveChannel(sig, rec)

	counts, err := a.events.DispatchCounts(ctx, eventlog.CountQuery{
		CompanyID: sig.CompanyID,
		Channel:   string(channel),
		AgentID:   sig.AgentID,
		Now:       now,
	})
	if err != nil {
		return pipeline.Contexts{}, err
	}

	capacity, err := a.capacityContext(ctx, sig, channel, counts)
	if err != nil {
		return pipeline.Contexts{}, err
	}

	suppression, err := a.suppressionContext(ctx, entityID, counts, now)
	if err != nil {
		return pipeline.Contexts{}, err
	}

	return pipeline.Contexts{
		Capacity:    capacity,
		Suppression: suppression,
		Freshness: gate.FreshnessContext{
			Sources: snap.Sources,
			Now:     now,
		},
	}, nil
}

func (a *Assembler) capacityContext(ctx context.Context, sig signal.Signal, channel adapter.Channel, counts eventlog.DispatchCounts) (gate.CapacityContext, error) {
	available, err := a.founderAvailable(ctx)
	if err != nil {
		return gate.CapacityContext{}, err
	}

	health, dailyCap, err := a.channelStatus(ctx, channel)
	if err != nil {
		return gate.CapacityContext{}, err
	}

	agentCap, err := a.agentDailyCap(ctx, sig.AgentID)
	if err != nil {
		return gate.CapacityContext{}, err
	}

	return gate.CapacityContext{
		FounderAvailable: available,
		Channel:          string(channel),
		AdapterHealth:    health,
		AdapterDailyCap:  dailyCap,
		AdapterSentToday: counts.ChannelSendsToday,
		AgentID:          sig.AgentID,
		AgentDailyCap:    agentCap,
		AgentSentToday:   counts.AgentSendsToday,
	}, nil
}

func (a *Assembler) suppressionContext(ctx context.Context, entityID string, counts eventlog.DispatchCounts, now time.Time) (gate.SuppressionContext, error) {
	sup := gate.SuppressionContext{
		State:                eventlog.StateActive,
		MinIntervalDays:      DefaultMinIntervalDays,
		CompanySendsThisWeek: counts.CompanySendsWeek,
		WeeklyCap:            DefaultWeeklyCap,
		Now:                  now,
	}
	if entityID == "" {
		return sup, nil
	}

	const flagsQuery = `
		SELECT never_contact, unsubscribed, hard_bounced, complained
		FROM recipient_flags
		WHERE entity_id = $1
	`
	err := a.pool.QueryRow(ctx, flagsQuery, entityID).
		Scan(&sup.NeverContact, &sup.Unsubscribed, &sup.HardBounced, &sup.Complained)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return gate.SuppressionContext{}, fmt.Errorf("assemble: recipient flags: %w", err)
	}

	inputs, err := a.events.SuppressionInputs(ctx, entityID)
	if err != nil {
		return gate.SuppressionContext{}, err
	}
	sup.State = eventlog.ProjectSuppression(inputs, DefaultCooldownDays*24*time.Hour, now)
	sup.LastContactedAt = inputs.LastContactedAt

	return sup, nil
}

func (a *Assembler) founderAvailable(ctx context.Context) (bool, error) {
	const query = `SELECT value FROM ops_settings WHERE key = 'founder_calendar_available'`
	var value bool
	err := a.pool.QueryRow(ctx, query).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		// Default closed: no explicit availability means no outbound.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("assemble: founder availability: %w", err)
	}
	return value, nil
}

func (a *Assembler) channelStatus(ctx context.Context, channel adapter.Channel) (gate.AdapterHealth, *int, error) {
	const query = `SELECT health, daily_cap FROM channel_status WHERE channel = $1`
	var (
		health   string
		dailyCap *int
	)
	err := a.pool.QueryRow(ctx, query, string(channel)).Scan(&health, &dailyCap)
	if errors.Is(err, pgx.ErrNoRows) {
		return gate.HealthHealthy, nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("assemble: channel status: %w", err)
	}
	return gate.AdapterHealth(health), dailyCap, nil
}

func (a *Assembler) agentDailyCap(ctx context.Context, agentID string) (int, error) {
	if agentID == "" {
		return DefaultAgentDailyCap, nil
	}
	const query = `SELECT daily_cap FROM agent_status WHERE agent_id = $1`
	var daily int
	err := a.pool.QueryRow(ctx, query, agentID).Scan(&daily)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultAgentDailyCap, nil
	}
	if err != nil {
		return 0, fmt.Errorf("assemble: agent cap: %w", err)
	}
	return daily, nil
}
