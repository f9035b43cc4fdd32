package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"outreachflow/adapter"
)

// providerClient is a minimal JSON-over-HTTP caller shared by the three
// outbound providers. Each provider exposes a single POST endpoint and
// returns {accepted, status, external_id, message}.
type providerClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

type providerReply struct {
	Accepted   bool           `json:"accepted"`
	Status     string         `json:"status"`
	ExternalID string         `json:"external_id"`
	Message    string         `json:"message"`
	Raw        map[string]any `json:"raw"`
}

func (c *providerClient) post(ctx context.Context, path string, body any) (adapter.ProviderResult, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return adapter.ProviderResult{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return adapter.ProviderResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return adapter.ProviderResult{}, fmt.Errorf("call provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return adapter.ProviderResult{}, fmt.Errorf("provider returned %d", resp.StatusCode)
	}

	var reply providerReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return adapter.ProviderResult{}, fmt.Errorf("decode reply: %w", err)
	}
	return adapter.ProviderResult{
		Accepted:   reply.Accepted,
		Status:     adapter.DeliveryStatus(reply.Status),
		ExternalID: reply.ExternalID,
		Raw:        reply.Raw,
		Message:    reply.Message,
	}, nil
}

type emailClient struct{ providerClient }

func (c *emailClient) Deliver(ctx context.Context, req adapter.EmailRequest) (adapter.ProviderResult, error) {
	return c.post(ctx, "/v1/messages", map[string]any{
		"to":       req.To,
		"from":     req.From,
		"subject":  req.Subject,
		"body":     req.Body,
		"metadata": req.Metadata,
	})
}

type linkedInClient struct{ providerClient }

func (c *linkedInClient) Message(ctx context.Context, req adapter.LinkedInRequest) (adapter.ProviderResult, error) {
	return c.post(ctx, "/v1/messages", map[string]any{
		"profile_url": req.ProfileURL,
		"sender_id":   req.SenderID,
		"body":        req.Body,
		"metadata":    req.Metadata,
	})
}

type handoffClient struct{ providerClient }

func (c *handoffClient) CreateTask(ctx context.Context, req adapter.HandoffRequest) (adapter.ProviderResult, error) {
	return c.post(ctx, "/v1/tasks", map[string]any{
		"entity_id":   req.EntityID,
		"assignee_id": req.AssigneeID,
		"summary":     req.Summary,
		"metadata":    req.Metadata,
	})
}
