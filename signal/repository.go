package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QueueStatus is the lifecycle state of a queued signal.
type QueueStatus string

const (
	StatusQueued  QueueStatus = "queued"
	StatusClaimed QueueStatus = "claimed"
	StatusDone    QueueStatus = "done"
	StatusDropped QueueStatus = "dropped"
)

var (
	ErrSignalNotFound  = errors.New("signal: not found")
	ErrSignalDuplicate = errors.New("signal: duplicate hash for company")
)

// QueueRepository is the durable intake queue. Producers enqueue; the
// dispatcher claims batches, runs pipelines, and marks terminal status.
type QueueRepository interface {
	Enqueue(ctx context.Context, sig Signal) (Signal, error)
	Claim(ctx context.Context, limit int) ([]Signal, error)
	MarkDone(ctx context.Context, id string) error
	MarkDropped(ctx context.Context, id, reason string) error
}

// PGQueueRepository persists the signal queue in PostgreSQL.
type PGQueueRepository struct {
	pool *pgxpool.Pool
}

func NewQueueRepository(pool *pgxpool.Pool) *PGQueueRepository {
	return &PGQueueRepository{pool: pool}
}

// Enqueue inserts a new queued signal. A duplicate (company, hash) pair
// while a prior signal is still pending is rejected so one trigger cannot
// fan out into repeated sends.
func (r *PGQueueRepository) Enqueue(ctx context.Context, sig Signal) (Signal, error) {
	if err := sig.Validate(); err != nil {
		return Signal{}, err
	}
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}

	payload, err := json.Marshal(sig.Payload)
	if err != nil {
		return Signal{}, fmt.Errorf("signal: marshal payload: %w", err)
	}

	const query = `
		INSERT INTO signal_queue (id, source, hash, company_id, phase, channel_hint, lane_hint, agent_id, payload, status)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), NULLIF($7,''), NULLIF($8,''), $9, 'queued')
		RETURNING created_at
	`
	if err := r.pool.QueryRow(ctx, query,
		sig.ID, sig.Source, sig.Hash, sig.CompanyID, string(sig.Phase),
		sig.ChannelHint, sig.LaneHint, sig.AgentID, payload,
	).Scan(&sig.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Signal{}, ErrSignalDuplicate
		}
		return Signal{}, fmt.Errorf("signal: enqueue: %w", err)
	}
	return sig, nil
}

// Claim atomically moves up to limit queued signals to claimed and returns
// them, using SKIP LOCKED so concurrent dispatchers never double-claim.
func (r *PGQueueRepository) Claim(ctx context.Context, limit int) ([]Signal, error) {
	const query = `
		UPDATE signal_queue
		SET status = 'claimed', claimed_at = now()
		WHERE id IN (
			SELECT id FROM signal_queue
			WHERE status = 'queued'
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, source, hash, company_id, phase, COALESCE(channel_hint,''), COALESCE(lane_hint,''), COALESCE(agent_id,''), payload, created_at
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("signal: claim batch: %w", err)
	}
	defer rows.Close()

	signals := make([]Signal, 0, limit)
	for rows.Next() {
		var (
			sig     Signal
			payload []byte
		)
		if err := rows.Scan(&sig.ID, &sig.Source, &sig.Hash, &sig.CompanyID, &sig.Phase,
			&sig.ChannelHint, &sig.LaneHint, &sig.AgentID, &payload, &sig.CreatedAt); err != nil {
			return nil, fmt.Errorf("signal: scan claimed: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &sig.Payload); err != nil {
				return nil, fmt.Errorf("signal: unmarshal payload: %w", err)
			}
		}
		signals = append(signals, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("signal: iterate claimed: %w", err)
	}
	return signals, nil
}

func (r *PGQueueRepository) MarkDone(ctx context.Context, id string) error {
	return r.markTerminal(ctx, id, StatusDone, "")
}

func (r *PGQueueRepository) MarkDropped(ctx context.Context, id, reason string) error {
	return r.markTerminal(ctx, id, StatusDropped, reason)
}

func (r *PGQueueRepository) markTerminal(ctx context.Context, id string, status QueueStatus, reason string) error {
	const query = `
		UPDATE signal_queue
		SET status = $2, drop_reason = NULLIF($3,''), finished_at = now()
		WHERE id = $1 AND status = 'claimed'
	`
	tag, err := r.pool.Exec(ctx, query, id, string(status), reason)
	if err != nil {
		return fmt.Errorf("signal: mark %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSignalNotFound
	}
	return nil
}
