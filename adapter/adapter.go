// Package adapter defines the uniform delivery contract implemented once
// per channel. The orchestrator resolves adapters through an explicit
// registry and never sees channel-specific protocol details.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"outreachflow/ident"
)

// Channel is the closed set of delivery channels.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelLinkedIn Channel = "linkedin"
	ChannelHandoff  Channel = "handoff"
)

var channelWireCodes = map[Channel]string{
	ChannelEmail:    "EM",
	ChannelLinkedIn: "LI",
	ChannelHandoff:  "IN",
}

// Alternate-channel pairing is a hardcoded business rule, not derived
// data: email and LinkedIn back each other up, internal handoff has no
// fallback.
var alternates = map[Channel]Channel{
	ChannelEmail:    ChannelLinkedIn,
	ChannelLinkedIn: ChannelEmail,
}

var (
	ErrUnknownChannel    = errors.New("adapter: unknown channel")
	ErrNoAdapter         = errors.New("adapter: no adapter registered for channel")
	ErrDuplicateAdapter  = errors.New("adapter: channel registered twice")
)

// Valid reports whether c is one of the three known channels.
func (c Channel) Valid() bool {
	_, ok := channelWireCodes[c]
	return ok
}

// Code returns the 2-letter code embedded in message run ids.
func (c Channel) Code() (string, error) {
	code, ok := channelWireCodes[c]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, c)
	}
	return code, nil
}

// ChannelFromCode maps a 2-letter wire code back to its channel.
func ChannelFromCode(code string) (Channel, error) {
	for ch, c := range channelWireCodes {
		if c == code {
			return ch, nil
		}
	}
	return "", fmt.Errorf("%w: code %q", ErrUnknownChannel, code)
}

// Alternate returns the fallback channel for ORBT strike 2, if the channel
// has one.
func (c Channel) Alternate() (Channel, bool) {
	alt, ok := alternates[c]
	return alt, ok
}

// DeliveryStatus is the normalized provider outcome.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusBounced   DeliveryStatus = "bounced"
	StatusFailed    DeliveryStatus = "failed"
)

// Payload carries everything an adapter needs for one delivery attempt.
// Metadata is an opaque pass-through bag for adapter-specific correlation
// (frame id, lane, and so on); adapters must not base decisions on it.
type Payload struct {
	CommunicationID ident.CommunicationID
	MessageRunID    ident.MessageRunID
	Channel         Channel

	RecipientEntityID string
	RecipientEmail    string
	RecipientURL      string

	SenderID    string
	SenderEmail string

	Content  map[string]string
	Metadata map[string]any
}

// Response reports a delivery attempt's outcome. Raw holds the provider
// response for the audit payload only, never for business logic.
type Response struct {
	Success    bool
	Status     DeliveryStatus
	ExternalID string
	Raw        map[string]any
	Error      string
}

// Adapter is implemented once per channel. Implementations validate their
// own channel-specific required fields and return a structured failure
// rather than an error for expected delivery problems; the error return is
// reserved for infrastructure faults (the caller treats an absent response
// as fatal).
type Adapter interface {
	Channel() Channel
	Send(ctx context.Context, p Payload) (Response, error)
}

// Registry resolves channels to adapters. Construction is explicit so a
// missing or doubled channel is caught at wiring time, not at send time.
type Registry struct {
	adapters map[Channel]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	reg := &Registry{adapters: make(map[Channel]Adapter, len(adapters))}
	for _, a := range adapters {
		ch := a.Channel()
		if !ch.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
		}
		if _, dup := reg.adapters[ch]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateAdapter, ch)
		}
		reg.adapters[ch] = a
	}
	return reg, nil
}

// Resolve returns the adapter for a channel.
func (r *Registry) Resolve(ch Channel) (Adapter, error) {
	a, ok := r.adapters[ch]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoAdapter, ch)
	}
	return a, nil
}

func failure(status DeliveryStatus, msg string) Response {
	return Response{Success: false, Status: status, Error: msg}
}
