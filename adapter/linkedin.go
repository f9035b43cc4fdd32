package adapter

import (
	"context"
	"strings"
	"time"
)

// LinkedInClient is the transport boundary for the LinkedIn messaging
// provider.
type LinkedInClient interface {
	Message(ctx context.Context, req LinkedInRequest) (ProviderResult, error)
}

// LinkedInRequest is the provider-facing shape of one LinkedIn message.
type LinkedInRequest struct {
	ProfileURL string
	SenderID   string
	Body       string
	Metadata   map[string]any
}

// LinkedInAdapter sends via the LinkedIn provider with a bounded timeout.
type LinkedInAdapter struct {
	client  LinkedInClient
	timeout time.Duration
}

func NewLinkedInAdapter(client LinkedInClient, timeout time.Duration) *LinkedInAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LinkedInAdapter{client: client, timeout: timeout}
}

func (a *LinkedInAdapter) Channel() Channel { return ChannelLinkedIn }

func (a *LinkedInAdapter) Send(ctx context.Context, p Payload) (Response, error) {
	if p.RecipientURL == "" {
		return failure(StatusFailed, "linkedin adapter: recipient profile url missing"), nil
	}
	if !strings.HasPrefix(p.RecipientURL, "https://") {
		return failure(StatusFailed, "linkedin adapter: profile url must be https"), nil
	}
	if p.SenderID == "" {
		return failure(StatusFailed, "linkedin adapter: sender identity missing"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	res, err := a.client.Message(ctx, LinkedInRequest{
		ProfileURL: p.RecipientURL,
		SenderID:   p.SenderID,
		Body:       p.Content["body"],
		Metadata:   p.Metadata,
	})
	if err != nil {
		return failure(StatusFailed, "linkedin adapter: "+err.Error()), nil
	}

	return Response{
		Success:    res.Accepted,
		Status:     res.Status,
		ExternalID: res.ExternalID,
		Raw:        res.Raw,
		Error:      res.Message,
	}, nil
}
