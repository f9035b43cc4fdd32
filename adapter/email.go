package adapter

import (
	"context"
	"time"
)

// EmailClient is the transport boundary for the email provider. The wire
// protocol lives entirely behind this interface.
type EmailClient interface {
	Deliver(ctx context.Context, req EmailRequest) (ProviderResult, error)
}

// EmailRequest is the provider-facing shape of one email send.
type EmailRequest struct {
	To       string
	From     string
	Subject  string
	Body     string
	Metadata map[string]any
}

// ProviderResult is the normalized provider reply shared by all clients.
type ProviderResult struct {
	Accepted   bool
	Status     DeliveryStatus
	ExternalID string
	Raw        map[string]any
	Message    string
}

// EmailAdapter sends via the email provider with a bounded per-send timeout.
type EmailAdapter struct {
	client  EmailClient
	timeout time.Duration
}

func NewEmailAdapter(client EmailClient, timeout time.Duration) *EmailAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EmailAdapter{client: client, timeout: timeout}
}

func (a *EmailAdapter) Channel() Channel { return ChannelEmail }

func (a *EmailAdapter) Send(ctx context.Context, p Payload) (Response, error) {
	if p.RecipientEmail == "" {
		return failure(StatusFailed, "email adapter: recipient email missing"), nil
	}
	if p.SenderEmail == "" {
		return failure(StatusFailed, "email adapter: sender email missing"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	res, err := a.client.Deliver(ctx, EmailRequest{
		To:       p.RecipientEmail,
		From:     p.SenderEmail,
		Subject:  p.Content["subject"],
		Body:     p.Content["body"],
		Metadata: p.Metadata,
	})
	if err != nil {
		return failure(StatusFailed, "email adapter: "+err.Error()), nil
	}

	return Response{
		Success:    res.Accepted,
		Status:     res.Status,
		ExternalID: res.ExternalID,
		Raw:        res.Raw,
		Error:      res.Message,
	}, nil
}
