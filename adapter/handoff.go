package adapter

import (
	"context"
	"time"
)

// HandoffSink receives internal handoff tasks; typically backed by the
// CRM's task queue. Handoffs are always "delivered" once the sink accepts
// them, there is no downstream bounce path.
type HandoffSink interface {
	CreateTask(ctx context.Context, req HandoffRequest) (ProviderResult, error)
}

// HandoffRequest describes one internal handoff task.
type HandoffRequest struct {
	EntityID   string
	AssigneeID string
	Summary    string
	Metadata   map[string]any
}

// HandoffAdapter routes a communication to a human instead of an outbound
// provider.
type HandoffAdapter struct {
	sink    HandoffSink
	timeout time.Duration
}

func NewHandoffAdapter(sink HandoffSink, timeout time.Duration) *HandoffAdapter {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HandoffAdapter{sink: sink, timeout: timeout}
}

func (a *HandoffAdapter) Channel() Channel { return ChannelHandoff }

func (a *HandoffAdapter) Send(ctx context.Context, p Payload) (Response, error) {
	if p.RecipientEntityID == "" {
		return failure(StatusFailed, "handoff adapter: entity id missing"), nil
	}
	if p.SenderID == "" {
		return failure(StatusFailed, "handoff adapter: assignee missing"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	res, err := a.sink.CreateTask(ctx, HandoffRequest{
		EntityID:   p.RecipientEntityID,
		AssigneeID: p.SenderID,
		Summary:    p.Content["subject"],
		Metadata:   p.Metadata,
	})
	if err != nil {
		return failure(StatusFailed, "handoff adapter: "+err.Error()), nil
	}

	return Response{
		Success:    res.Accepted,
		Status:     res.Status,
		ExternalID: res.ExternalID,
		Raw:        res.Raw,
		Error:      res.Message,
	}, nil
}
