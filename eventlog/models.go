// Package eventlog is the append-only audit sink for the dispatch pipeline.
// One row is written per pipeline step or gate block; rows are never updated
// or deleted, and every gate decision must be re-derivable from them.
package eventlog

import "time"

// EventType names the business meaning of one audit row.
type EventType string

const (
	// Step events.
	EventSignalReceived     EventType = "SIGNAL_RECEIVED"
	EventIntelCollected     EventType = "INTEL_COLLECTED"
	EventFrameMatched       EventType = "FRAME_MATCHED"
	EventCommIDMinted       EventType = "COMMUNICATION_ID_MINTED"
	EventAudienceResolved   EventType = "AUDIENCE_RESOLVED"
	EventMessageDispatched  EventType = "MESSAGE_DISPATCHED"
	EventDeliveryDelivered  EventType = "DELIVERY_CONFIRMED"
	EventDeliverySent       EventType = "DELIVERY_SENT_UNCONFIRMED"
	EventDeliveryBounced    EventType = "DELIVERY_BOUNCED"
	EventDeliveryFailed     EventType = "DELIVERY_FAILED"
	EventEscalationRecorded EventType = "ESCALATION_RECORDED"
	EventOutcomeClean       EventType = "OUTCOME_CLEAN"
	EventRunCompleted       EventType = "RUN_COMPLETED"
	EventRunAborted         EventType = "RUN_ABORTED"

	// Fatal intake events.
	EventSignalInvalid     EventType = "SIGNAL_INVALID"
	EventFrameUnmatched    EventType = "FRAME_UNMATCHED"
	EventAudienceUnresolved EventType = "AUDIENCE_UNRESOLVED"

	// Gate block events.
	EventSignalDropped      EventType = "SIGNAL_DROPPED"
	EventSignalStale        EventType = "SIGNAL_STALE"
	EventRecipientSuppressed EventType = "RECIPIENT_SUPPRESSED"
	EventRecipientParked    EventType = "RECIPIENT_PARKED"
	EventRecipientThrottled EventType = "RECIPIENT_THROTTLED"
	EventCompanyThrottled   EventType = "COMPANY_THROTTLED"

	// Suppression lifecycle events written by operators or feedback handlers.
	EventEntitySuppressed  EventType = "ENTITY_SUPPRESSED"
	EventEntityParked      EventType = "ENTITY_PARKED"
	EventEntityReactivated EventType = "ENTITY_REACTIVATED"
)

// SuppressionState is the four-value contactability state of a recipient
// entity, derived from the latest suppression-class event, never stored
// as its own row.
type SuppressionState string

const (
	StateActive     SuppressionState = "ACTIVE"
	StateCooled     SuppressionState = "COOLED"
	StateParked     SuppressionState = "PARKED"
	StateSuppressed SuppressionState = "SUPPRESSED"
)

// AuditEvent mirrors the audit_events table columns.
type AuditEvent struct {
	ID              string
	CommunicationID string
	MessageRunID    string
	CompanyID       string
	EntityID        string
	Step            int
	StepName        string
	Type            EventType
	Payload         map[string]any
	CreatedAt       time.Time
}
