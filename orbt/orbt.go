// Package orbt implements the three-strike failure escalation protocol:
// strike 1 auto-retries on the same channel, strike 2 moves to the
// channel's alternate when one exists, strike 3 escalates to a human.
// The handler records exactly one error row per failure and never retries
// on its own; retries are later pipeline invocations with an incremented
// attempt number.
package orbt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"outreachflow/adapter"
	"outreachflow/ident"
)

// Action is the remediation mapped to a strike number.
type Action string

const (
	ActionRetry     Action = "auto_retry"
	ActionAlternate Action = "alternate_channel"
	ActionEscalate  Action = "human_escalation"
)

const maxStrike = 3

var ErrMissingRunID = errors.New("orbt: message run id required")

// Record mirrors one row of the orbt_errors table. CommunicationID is
// empty when the failure happened before minting.
type Record struct {
	ID              string
	MessageRunID    string
	CommunicationID string
	FailureType     string
	Strike          int
	Action          Action
	AltEligible     bool
	AltChannel      adapter.Channel
	Detail          string
	CreatedAt       time.Time
}

// Repository persists error records and counts prior strikes per
// communication id.
type Repository interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	CountStrikes(ctx context.Context, commID ident.CommunicationID) (int, error)
}

// Failure describes one delivery failure feeding the handler.
type Failure struct {
	MessageRunID    ident.MessageRunID
	CommunicationID ident.CommunicationID
	Channel         adapter.Channel
	FailureType     string
	Detail          string
}

// Handler escalates failures across strikes.
type Handler struct {
	repo Repository
	now  func() time.Time
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo, now: time.Now}
}

// Handle computes the next strike for the communication id, maps it to an
// action, and appends one error record.
func (h *Handler) Handle(ctx context.Context, f Failure) (Record, error) {
	if f.MessageRunID == "" {
		return Record{}, ErrMissingRunID
	}

	strike := 1
	if f.CommunicationID != "" {
		prior, err := h.repo.CountStrikes(ctx, f.CommunicationID)
		if err != nil {
			return Record{}, err
		}
		strike = prior + 1
		if strike > maxStrike {
			strike = maxStrike
		}
	}

	alt, altOK := f.Channel.Alternate()

	rec := Record{
		ID:              uuid.NewString(),
		MessageRunID:    f.MessageRunID.String(),
		CommunicationID: f.CommunicationID.String(),
		FailureType:     f.FailureType,
		Strike:          strike,
		Action:          actionForStrike(strike, altOK),
		AltEligible:     altOK,
		Detail:          f.Detail,
		CreatedAt:       h.now(),
	}
	if altOK {
		rec.AltChannel = alt
	}

	return h.repo.Insert(ctx, rec)
}

func actionForStrike(strike int, altEligible bool) Action {
	switch strike {
	case 1:
		return ActionRetry
	case 2:
		if altEligible {
			return ActionAlternate
		}
		return ActionEscalate
	default:
		return ActionEscalate
	}
}

// PGRepository persists ORBT records in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Insert(ctx context.Context, rec Record) (Record, error) {
	const query = `
		INSERT INTO orbt_errors (id, message_run_id, communication_id, failure_type, strike, action, alt_eligible, alt_channel, detail)
		VALUES ($1, $2, NULLIF($3,''), $4, $5, $6, $7, NULLIF($8,''), NULLIF($9,''))
		RETURNING created_at
	`
	if err := r.pool.QueryRow(ctx, query,
		rec.ID, rec.MessageRunID, rec.CommunicationID, rec.FailureType,
		rec.Strike, string(rec.Action), rec.AltEligible, string(rec.AltChannel), rec.Detail,
	).Scan(&rec.CreatedAt); err != nil {
		return Record{}, fmt.Errorf("orbt: insert record: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) CountStrikes(ctx context.Context, commID ident.CommunicationID) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orbt_errors WHERE communication_id = $1`, commID.String(),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("orbt: count strikes: %w", err)
	}
	return count, nil
}
