// Package signal defines the inbound trigger consumed exactly once by the
// dispatch pipeline, plus the durable queue upstream producers write into.
package signal

import (
	"errors"
	"time"

	"outreachflow/ident"
)

var (
	ErrMissingCompany = errors.New("signal: target company required")
	ErrMissingHash    = errors.New("signal: signal hash required")
	ErrInvalidPhase   = errors.New("signal: lifecycle phase must be outreach, sales or client")
)

// Signal is an inbound request that a communication be considered for a
// company. Immutable once created.
type Signal struct {
	ID          string
	Source      string
	Hash        string
	CompanyID   string
	Phase       ident.Phase
	ChannelHint string
	LaneHint    string
	AgentID     string
	Payload     map[string]any
	CreatedAt   time.Time
}

// Validate fails closed when any required field is missing. A signal that
// fails here must never reach id minting.
func (s Signal) Validate() error {
	if s.CompanyID == "" {
		return ErrMissingCompany
	}
	if s.Hash == "" {
		return ErrMissingHash
	}
	if !s.Phase.Valid() {
		return ErrInvalidPhase
	}
	return nil
}
