// Package intel provides the company intelligence snapshot the pipeline
// runs on: tier, per-source freshness, and the contact roster audience
// resolution picks from.
package intel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"outreachflow/gate"
)

// Contact roles, in audience-resolution priority order.
const (
	RoleCEO = "ceo"
	RoleCFO = "cfo"
	RoleHR  = "hr"
)

var rolePriority = []string{RoleCEO, RoleCFO, RoleHR}

var ErrNoUsableRecipient = errors.New("intel: no usable recipient in snapshot")

// Contact is one person attached to a company snapshot.
type Contact struct {
	EntityID    string
	Role        string
	FullName    string
	Email       string
	LinkedInURL string
}

// Snapshot is the intelligence available for one company. Tier runs 1
// (richest) to 5 (poorest).
type Snapshot struct {
	CompanyID string
	Tier      int
	Domain    string
	Contacts  []Contact
	Sources   []gate.SourceFreshness
	FetchedAt time.Time
}

// Recipient is the resolved audience for one communication.
type Recipient struct {
	EntityID    string
	EntityType  string
	Role        string
	FullName    string
	Email       string
	LinkedInURL string
}

// ResolveAudience picks a recipient by fixed role priority (CEO, else CFO,
// else HR); within a role the first contact with any usable contact method
// wins. Returns ErrNoUsableRecipient when nobody is reachable — fatal for
// the signal.
func ResolveAudience(snap Snapshot) (Recipient, error) {
	for _, role := range rolePriority {
		for _, c := range snap.Contacts {
			if c.Role != role {
				continue
			}
			if c.Email == "" && c.LinkedInURL == "" {
				continue
			}
			return Recipient{
				EntityID:    c.EntityID,
				EntityType:  "person",
				Role:        c.Role,
				FullName:    c.FullName,
				Email:       c.Email,
				LinkedInURL: c.LinkedInURL,
			}, nil
		}
	}
	return Recipient{}, ErrNoUsableRecipient
}

// Repository loads company snapshots.
type Repository interface {
	GetSnapshot(ctx context.Context, companyID string) (Snapshot, bool, error)
}

// PGRepository reads intelligence from PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GetSnapshot loads the snapshot for a company. The boolean is false when
// the company has no intelligence at all; callers degrade to the worst
// tier rather than aborting.
func (r *PGRepository) GetSnapshot(ctx context.Context, companyID string) (Snapshot, bool, error) {
	const snapQuery = `
		SELECT company_id, tier, COALESCE(domain,''), fetched_at
		FROM intel_snapshots
		WHERE company_id = $1
	`
	var snap Snapshot
	if err := r.pool.QueryRow(ctx, snapQuery, companyID).
		Scan(&snap.CompanyID, &snap.Tier, &snap.Domain, &snap.FetchedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("intel: get snapshot: %w", err)
	}

	contacts, err := r.listContacts(ctx, companyID)
	if err != nil {
		return Snapshot{}, false, err
	}
	snap.Contacts = contacts

	sources, err := r.listSources(ctx, companyID)
	if err != nil {
		return Snapshot{}, false, err
	}
	snap.Sources = sources

	return snap, true, nil
}

func (r *PGRepository) listContacts(ctx context.Context, companyID string) ([]Contact, error) {
	const query = `
		SELECT entity_id, role, COALESCE(full_name,''), COALESCE(email,''), COALESCE(linkedin_url,'')
		FROM intel_contacts
		WHERE company_id = $1
		ORDER BY role, entity_id
	`
	rows, err := r.pool.Query(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("intel: list contacts: %w", err)
	}
	defer rows.Close()

	contacts := make([]Contact, 0, 4)
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.EntityID, &c.Role, &c.FullName, &c.Email, &c.LinkedInURL); err != nil {
			return nil, fmt.Errorf("intel: scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("intel: iterate contacts: %w", err)
	}
	return contacts, nil
}

func (r *PGRepository) listSources(ctx context.Context, companyID string) ([]gate.SourceFreshness, error) {
	const query = `
		SELECT source, fetched_at, window_days
		FROM intel_freshness
		WHERE company_id = $1
		ORDER BY source
	`
	rows, err := r.pool.Query(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("intel: list freshness: %w", err)
	}
	defer rows.Close()

	sources := make([]gate.SourceFreshness, 0, 4)
	for rows.Next() {
		var (
			src       gate.SourceFreshness
			fetchedAt *time.Time
		)
		if err := rows.Scan(&src.Name, &fetchedAt, &src.WindowDays); err != nil {
			return nil, fmt.Errorf("intel: scan freshness: %w", err)
		}
		src.FetchedAt = fetchedAt
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("intel: iterate freshness: %w", err)
	}
	return sources, nil
}
