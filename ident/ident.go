// Package ident mints and validates the two correlation identifiers used
// across the dispatch pipeline: the communication id (one per signal) and
// the message run id (one per delivery attempt).
package ident

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Phase is the lifecycle phase of the target company at signal time.
type Phase string

const (
	PhaseOutreach Phase = "outreach"
	PhaseSales    Phase = "sales"
	PhaseClient   Phase = "client"
)

var phaseCodes = map[Phase]string{
	PhaseOutreach: "OUT",
	PhaseSales:    "SAL",
	PhaseClient:   "CLI",
}

// Code returns the 3-letter phase code embedded in communication ids.
func (p Phase) Code() (string, bool) {
	code, ok := phaseCodes[p]
	return code, ok
}

// Valid reports whether p is one of the three known phases.
func (p Phase) Valid() bool {
	_, ok := phaseCodes[p]
	return ok
}

var (
	ErrInvalidPhase     = errors.New("ident: invalid lifecycle phase")
	ErrInvalidChannel   = errors.New("ident: invalid channel code")
	ErrInvalidAttempt   = errors.New("ident: attempt must be between 1 and 999")
	ErrMalformedID      = errors.New("ident: malformed identifier")
	ErrEmptyCommunicationID = errors.New("ident: empty communication id")
)

var (
	commIDPattern = regexp.MustCompile(`^LCS-(OUT|SAL|CLI)-\d{8}-[A-Za-z0-9]{10,}$`)
	runIDPattern  = regexp.MustCompile(`^RUN-(LCS-(?:OUT|SAL|CLI)-\d{8}-[A-Za-z0-9]{10,})-([A-Z]{2})-(\d{3})$`)
	channelCode   = regexp.MustCompile(`^[A-Z]{2}$`)
)

// CommunicationID is the correlation key for every event belonging to one
// communication attempt. Construct via MintCommunicationID or
// ParseCommunicationID only; the zero value is invalid.
type CommunicationID string

// ParseCommunicationID validates s against the canonical format
// LCS-{OUT|SAL|CLI}-{YYYYMMDD}-{unique}.
func ParseCommunicationID(s string) (CommunicationID, error) {
	if s == "" {
		return "", ErrEmptyCommunicationID
	}
	if !commIDPattern.MatchString(s) {
		return "", fmt.Errorf("%w: communication id %q", ErrMalformedID, s)
	}
	return CommunicationID(s), nil
}

func (c CommunicationID) String() string { return string(c) }

// Phase extracts the lifecycle phase encoded in the id.
func (c CommunicationID) Phase() (Phase, error) {
	parts := strings.SplitN(string(c), "-", 3)
	if len(parts) < 3 {
		return "", fmt.Errorf("%w: communication id %q", ErrMalformedID, string(c))
	}
	for phase, code := range phaseCodes {
		if code == parts[1] {
			return phase, nil
		}
	}
	return "", fmt.Errorf("%w: communication id %q", ErrMalformedID, string(c))
}

// MessageRunID identifies one delivery attempt under a communication id.
// Construct via MintMessageRunID or ParseMessageRunID only.
type MessageRunID string

func (r MessageRunID) String() string { return string(r) }

// RunComponents are the parts recovered from a message run id.
type RunComponents struct {
	CommunicationID CommunicationID
	ChannelCode     string
	Attempt         int
}

// ParseMessageRunID validates s against RUN-{comm id}-{2-letter channel}-{3-digit attempt}
// and recovers its components.
func ParseMessageRunID(s string) (RunComponents, error) {
	m := runIDPattern.FindStringSubmatch(s)
	if m == nil {
		return RunComponents{}, fmt.Errorf("%w: message run id %q", ErrMalformedID, s)
	}
	attempt, err := strconv.Atoi(m[3])
	if err != nil || attempt < 1 || attempt > 999 {
		return RunComponents{}, fmt.Errorf("%w: message run id %q", ErrInvalidAttempt, s)
	}
	return RunComponents{
		CommunicationID: CommunicationID(m[1]),
		ChannelCode:     m[2],
		Attempt:         attempt,
	}, nil
}

// Minter generates identifiers. It is pure with respect to its inputs except
// for the injected clock and unique-suffix source, so concurrent pipeline
// runs mint without coordination.
type Minter struct {
	now    func() time.Time
	suffix func() string
}

// NewMinter returns a Minter backed by the wall clock and a UUID-derived
// suffix source.
func NewMinter() *Minter {
	return &Minter{
		now: time.Now,
		suffix: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
	}
}

// NewMinterAt builds a Minter with explicit clock and suffix sources.
func NewMinterAt(now func() time.Time, suffix func() string) *Minter {
	return &Minter{now: now, suffix: suffix}
}

// MintCommunicationID mints the per-signal correlation id.
// The minted value is checked against the canonical format before being
// returned; a mismatch is a programming defect and panics.
func (m *Minter) MintCommunicationID(phase Phase) (CommunicationID, error) {
	code, ok := phase.Code()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhase, phase)
	}

	id := fmt.Sprintf("LCS-%s-%s-%s", code, m.now().UTC().Format("20060102"), m.suffix())
	if !commIDPattern.MatchString(id) {
		panic(fmt.Sprintf("ident: minted malformed communication id %q", id))
	}
	return CommunicationID(id), nil
}

// MintMessageRunID mints the per-attempt id under an existing communication id.
// Same self-validation discipline as MintCommunicationID.
func (m *Minter) MintMessageRunID(comm CommunicationID, channel string, attempt int) (MessageRunID, error) {
	if _, err := ParseCommunicationID(string(comm)); err != nil {
		return "", err
	}
	if !channelCode.MatchString(channel) {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	if attempt < 1 || attempt > 999 {
		return "", fmt.Errorf("%w: got %d", ErrInvalidAttempt, attempt)
	}

	id := fmt.Sprintf("RUN-%s-%s-%03d", comm, channel, attempt)
	if !runIDPattern.MatchString(id) {
		panic(fmt.Sprintf("ident: minted malformed message run id %q", id))
	}
	return MessageRunID(id), nil
}
