// Package frame holds the delivery frame (template family) catalog and the
// matcher that picks the best frame for a signal's phase and intelligence
// tier.
package frame

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"outreachflow/ident"
)

var ErrNoEligibleFrame = errors.New("frame: no eligible frame for phase and tier")

// Frame is one template family. MinTier is the poorest intelligence tier
// the frame still works at (tier 1 is richest, 5 poorest); a frame is
// eligible when the current tier is at or richer than MinTier.
type Frame struct {
	ID              string
	Name            string
	Phase           ident.Phase
	MinTier         int
	RequiredFields  []string
	FallbackFrameID string
	Active          bool
}

// Repository loads the active frame catalog.
type Repository interface {
	ListActive(ctx context.Context, phase ident.Phase) ([]Frame, error)
}

// Match selects the best-fitting eligible frame: the one demanding the
// richest data the current tier can still satisfy. Ties break on id so the
// choice is deterministic.
func Match(frames []Frame, tier int) (Frame, error) {
	eligible := make([]Frame, 0, len(frames))
	for _, f := range frames {
		if !f.Active {
			continue
		}
		if tier <= f.MinTier {
			eligible = append(eligible, f)
		}
	}
	if len(eligible) == 0 {
		return Frame{}, ErrNoEligibleFrame
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].MinTier != eligible[j].MinTier {
			return eligible[i].MinTier < eligible[j].MinTier
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible[0], nil
}

// PGRepository reads frames from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) ListActive(ctx context.Context, phase ident.Phase) ([]Frame, error) {
	const query = `
		SELECT id, name, phase, min_tier, required_fields, COALESCE(fallback_frame_id,''), active
		FROM frames
		WHERE active AND phase = $1
		ORDER BY min_tier, id
	`
	rows, err := r.pool.Query(ctx, query, string(phase))
	if err != nil {
		return nil, fmt.Errorf("frame: list active: %w", err)
	}
	defer rows.Close()

	frames := make([]Frame, 0, 8)
	for rows.Next() {
		var f Frame
		if err := rows.Scan(&f.ID, &f.Name, &f.Phase, &f.MinTier, &f.RequiredFields, &f.FallbackFrameID, &f.Active); err != nil {
			return nil, fmt.Errorf("frame: scan frame: %w", err)
		}
		frames = append(frames, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("frame: iterate frames: %w", err)
	}
	return frames, nil
}
