package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrMissingEventType = errors.New("eventlog: event type required")
	ErrMissingStepName  = errors.New("eventlog: step name required")
)

// Repository is the append-and-project surface the pipeline and the
// context assembler depend on.
type Repository interface {
	Append(ctx context.Context, event AuditEvent) error
	EventsForCommunication(ctx context.Context, commID string) ([]AuditEvent, error)
	SuppressionInputs(ctx context.Context, entityID string) (SuppressionInputs, error)
	DispatchCounts(ctx context.Context, counts CountQuery) (DispatchCounts, error)
}

// SuppressionInputs are the raw log facts the suppression projection runs on.
type SuppressionInputs struct {
	LatestStateEvent *EventType
	LastContactedAt  *time.Time
}

// CountQuery selects the dispatch counters the capacity and suppression
// gates consume.
type CountQuery struct {
	CompanyID string
	Channel   string
	AgentID   string
	Now       time.Time
}

// DispatchCounts are today's and this week's send totals derived from the log.
type DispatchCounts struct {
	ChannelSendsToday int
	AgentSendsToday   int
	CompanySendsWeek  int
}

// ProjectSuppression derives the four-value suppression state from the
// latest suppression-class event and the last contact time. Pure so the
// rule stays testable without a database.
func ProjectSuppression(in SuppressionInputs, cooldown time.Duration, now time.Time) SuppressionState {
	if in.LatestStateEvent != nil {
		switch *in.LatestStateEvent {
		case EventEntitySuppressed:
			return StateSuppressed
		case EventEntityParked:
			return StateParked
		case EventEntityReactivated:
			return StateActive
		}
	}
	if in.LastContactedAt != nil && now.Sub(*in.LastContactedAt) < cooldown {
		return StateCooled
	}
	return StateActive
}

// PGRepository persists audit events in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Append inserts one immutable audit row.
func (r *PGRepository) Append(ctx context.Context, event AuditEvent) error {
	return appendEvent(ctx, r.pool, event)
}

// AppendTx inserts the audit row through an open transaction, so callers
// pairing the append with other writes keep both atomic.
func (r *PGRepository) AppendTx(ctx context.Context, tx pgx.Tx, event AuditEvent) error {
	return appendEvent(ctx, tx, event)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func appendEvent(ctx context.Context, db execer, event AuditEvent) error {
	if event.Type == "" {
		return ErrMissingEventType
	}
	if event.StepName == "" {
		return ErrMissingStepName
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("eventlog: marshal payload: %w", err)
	}

	const query = `
		INSERT INTO audit_events (id, communication_id, message_run_id, company_id, entity_id, step, step_name, type, payload)
		VALUES ($1, NULLIF($2,''), NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), $6, $7, $8, $9)
	`
	if _, err := db.Exec(ctx, query,
		event.ID,
		event.CommunicationID,
		event.MessageRunID,
		event.CompanyID,
		event.EntityID,
		event.Step,
		event.StepName,
		string(event.Type),
		payload,
	); err != nil {
		return fmt.Errorf("eventlog: append event: %w", err)
	}
	return nil
}

// EventsForCommunication returns every audit row for one communication id
// in append order.
func (r *PGRepository) EventsForCommunication(ctx context.Context, commID string) ([]AuditEvent, error) {
	const query = `
		SELECT id, COALESCE(communication_id,''), COALESCE(message_run_id,''), COALESCE(company_id,''), COALESCE(entity_id,''),
		       step, step_name, type, payload, created_at
		FROM audit_events
		WHERE communication_id = $1
		ORDER BY created_at, step
	`
	rows, err := r.pool.Query(ctx, query, commID)
	if err != nil {
		return nil, fmt.Errorf("eventlog: list events: %w", err)
	}
	defer rows.Close()

	events := make([]AuditEvent, 0, 16)
	for rows.Next() {
		var (
			ev      AuditEvent
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.CommunicationID, &ev.MessageRunID, &ev.CompanyID, &ev.EntityID,
			&ev.Step, &ev.StepName, &ev.Type, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("eventlog: scan event: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("eventlog: unmarshal payload: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: iterate events: %w", err)
	}
	return events, nil
}

// SuppressionInputs loads the latest suppression-class event and the last
// dispatch time for one entity.
func (r *PGRepository) SuppressionInputs(ctx context.Context, entityID string) (SuppressionInputs, error) {
	var in SuppressionInputs

	const stateQuery = `
		SELECT type
		FROM audit_events
		WHERE entity_id = $1 AND type IN ('ENTITY_SUPPRESSED','ENTITY_PARKED','ENTITY_REACTIVATED')
		ORDER BY created_at DESC
		LIMIT 1
	`
	var latest string
	err := r.pool.QueryRow(ctx, stateQuery, entityID).Scan(&latest)
	switch {
	case err == nil:
		t := EventType(latest)
		in.LatestStateEvent = &t
	case errors.Is(err, pgx.ErrNoRows):
		// No state events: entity defaults to ACTIVE or COOLED.
	default:
		return SuppressionInputs{}, fmt.Errorf("eventlog: latest state event: %w", err)
	}

	const contactQuery = `
		SELECT created_at
		FROM audit_events
		WHERE entity_id = $1 AND type = 'MESSAGE_DISPATCHED'
		ORDER BY created_at DESC
		LIMIT 1
	`
	var at time.Time
	err = r.pool.QueryRow(ctx, contactQuery, entityID).Scan(&at)
	switch {
	case err == nil:
		in.LastContactedAt = &at
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return SuppressionInputs{}, fmt.Errorf("eventlog: last contact: %w", err)
	}

	return in, nil
}

// DispatchCounts computes today's channel/agent sends and this week's
// company sends from the log. Weeks start Monday UTC.
func (r *PGRepository) DispatchCounts(ctx context.Context, q CountQuery) (DispatchCounts, error) {
	dayStart := time.Date(q.Now.Year(), q.Now.Month(), q.Now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := dayStart.AddDate(0, 0, -mondayOffset(dayStart.Weekday()))

	var counts DispatchCounts

	const channelQuery = `
		SELECT COUNT(*) FROM audit_events
		WHERE type = 'MESSAGE_DISPATCHED' AND payload->>'channel' = $1 AND created_at >= $2
	`
	if err := r.pool.QueryRow(ctx, channelQuery, q.Channel, dayStart).Scan(&counts.ChannelSendsToday); err != nil {
		return DispatchCounts{}, fmt.Errorf("eventlog: channel sends today: %w", err)
	}

	const agentQuery = `
		SELECT COUNT(*) FROM audit_events
		WHERE type = 'MESSAGE_DISPATCHED' AND payload->>'agent_id' = $1 AND created_at >= $2
	`
	if err := r.pool.QueryRow(ctx, agentQuery, q.AgentID, dayStart).Scan(&counts.AgentSendsToday); err != nil {
		return DispatchCounts{}, fmt.Errorf("eventlog: agent sends today: %w", err)
	}

	const companyQuery = `
		SELECT COUNT(*) FROM audit_events
		WHERE type = 'MESSAGE_DISPATCHED' AND company_id = $1 AND created_at >= $2
	`
	if err := r.pool.QueryRow(ctx, companyQuery, q.CompanyID, weekStart).Scan(&counts.CompanySendsWeek); err != nil {
		return DispatchCounts{}, fmt.Errorf("eventlog: company sends this week: %w", err)
	}

	return counts, nil
}

func mondayOffset(d time.Weekday) int {
	if d == time.Sunday {
		return 6
	}
	return int(d) - 1
}
