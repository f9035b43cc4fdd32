package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"outreachflow/ident"
)

type fakeEmailClient struct {
	result ProviderResult
	err    error
	got    EmailRequest
}

func (f *fakeEmailClient) Deliver(ctx context.Context, req EmailRequest) (ProviderResult, error) {
	f.got = req
	return f.result, f.err
}

func emailPayload() Payload {
	return Payload{
		CommunicationID:   ident.CommunicationID("LCS-OUT-20260314-a1b2c3d4e5f6"),
		MessageRunID:      ident.MessageRunID("RUN-LCS-OUT-20260314-a1b2c3d4e5f6-EM-001"),
		Channel:           ChannelEmail,
		RecipientEntityID: "person-1",
		RecipientEmail:    "ceo@example.com",
		SenderID:          "agent-1",
		SenderEmail:       "outreach@example.com",
		Content:           map[string]string{"subject": "hello", "body": "hi"},
		Metadata:          map[string]any{"frame_id": "frame-1"},
	}
}

func TestChannelCodes(t *testing.T) {
	for ch, want := range map[Channel]string{
		ChannelEmail:    "EM",
		ChannelLinkedIn: "LI",
		ChannelHandoff:  "IN",
	} {
		code, err := ch.Code()
		if err != nil {
			t.Fatalf("Code(%q): %v", ch, err)
		}
		if code != want {
			t.Errorf("Code(%q) = %q, want %q", ch, code, want)
		}
		back, err := ChannelFromCode(code)
		if err != nil || back != ch {
			t.Errorf("ChannelFromCode(%q) = %q, %v; want %q", code, back, err, ch)
		}
	}

	if _, err := Channel("sms").Code(); err == nil {
		t.Error("expected error for unknown channel")
	}
	if _, err := ChannelFromCode("SM"); err == nil {
		t.Error("expected error for unknown code")
	}
}

func TestAlternatePairing(t *testing.T) {
	if alt, ok := ChannelEmail.Alternate(); !ok || alt != ChannelLinkedIn {
		t.Errorf("email alternate = %q, %v; want linkedin", alt, ok)
	}
	if alt, ok := ChannelLinkedIn.Alternate(); !ok || alt != ChannelEmail {
		t.Errorf("linkedin alternate = %q, %v; want email", alt, ok)
	}
	if _, ok := ChannelHandoff.Alternate(); ok {
		t.Error("handoff must have no alternate")
	}
}

func TestRegistry(t *testing.T) {
	email := NewEmailAdapter(&fakeEmailClient{}, time.Second)
	reg, err := NewRegistry(email)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	got, err := reg.Resolve(ChannelEmail)
	if err != nil || got != Adapter(email) {
		t.Fatalf("Resolve(email) = %v, %v", got, err)
	}
	if _, err := reg.Resolve(ChannelLinkedIn); !errors.Is(err, ErrNoAdapter) {
		t.Errorf("Resolve(linkedin) err = %v, want ErrNoAdapter", err)
	}

	if _, err := NewRegistry(email, NewEmailAdapter(&fakeEmailClient{}, time.Second)); !errors.Is(err, ErrDuplicateAdapter) {
		t.Errorf("duplicate registration err = %v, want ErrDuplicateAdapter", err)
	}
}

func TestEmailAdapter_Send(t *testing.T) {
	client := &fakeEmailClient{result: ProviderResult{
		Accepted:   true,
		Status:     StatusSent,
		ExternalID: "msg-ext-1",
		Raw:        map[string]any{"provider": "ok"},
	}}
	a := NewEmailAdapter(client, time.Second)

	res, err := a.Send(context.Background(), emailPayload())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !res.Success || res.Status != StatusSent || res.ExternalID != "msg-ext-1" {
		t.Fatalf("response = %+v", res)
	}
	if client.got.To != "ceo@example.com" || client.got.From != "outreach@example.com" {
		t.Errorf("request = %+v", client.got)
	}
}

func TestEmailAdapter_ValidatesOwnFields(t *testing.T) {
	a := NewEmailAdapter(&fakeEmailClient{}, time.Second)

	p := emailPayload()
	p.RecipientEmail = ""
	res, err := a.Send(context.Background(), p)
	if err != nil {
		t.Fatalf("validation must be a structured failure, got error: %v", err)
	}
	if res.Success || res.Status != StatusFailed || res.Error == "" {
		t.Fatalf("response = %+v, want structured failure", res)
	}

	p = emailPayload()
	p.SenderEmail = ""
	if res, _ := a.Send(context.Background(), p); res.Success {
		t.Error("missing sender must fail")
	}
}

func TestEmailAdapter_ClientErrorIsStructuredFailure(t *testing.T) {
	a := NewEmailAdapter(&fakeEmailClient{err: errors.New("connection refused")}, time.Second)

	res, err := a.Send(context.Background(), emailPayload())
	if err != nil {
		t.Fatalf("client errors must not escape as adapter errors: %v", err)
	}
	if res.Success || res.Status != StatusFailed {
		t.Fatalf("response = %+v, want failed", res)
	}
}

type fakeLinkedInClient struct {
	result ProviderResult
	err    error
}

func (f *fakeLinkedInClient) Message(ctx context.Context, req LinkedInRequest) (ProviderResult, error) {
	return f.result, f.err
}

func TestLinkedInAdapter_Validation(t *testing.T) {
	a := NewLinkedInAdapter(&fakeLinkedInClient{result: ProviderResult{Accepted: true, Status: StatusSent}}, time.Second)

	p := emailPayload()
	p.Channel = ChannelLinkedIn
	p.RecipientURL = "https://linkedin.com/in/ceo"

	res, err := a.Send(context.Background(), p)
	if err != nil || !res.Success {
		t.Fatalf("send: %+v, %v", res, err)
	}

	p.RecipientURL = "http://linkedin.com/in/ceo"
	if res, _ := a.Send(context.Background(), p); res.Success {
		t.Error("plain http profile url must fail")
	}

	p.RecipientURL = ""
	if res, _ := a.Send(context.Background(), p); res.Success {
		t.Error("missing profile url must fail")
	}
}

type fakeSink struct {
	result ProviderResult
	err    error
}

func (f *fakeSink) CreateTask(ctx context.Context, req HandoffRequest) (ProviderResult, error) {
	return f.result, f.err
}

func TestHandoffAdapter(t *testing.T) {
	a := NewHandoffAdapter(&fakeSink{result: ProviderResult{Accepted: true, Status: StatusDelivered}}, time.Second)

	p := emailPayload()
	p.Channel = ChannelHandoff
	res, err := a.Send(context.Background(), p)
	if err != nil || !res.Success || res.Status != StatusDelivered {
		t.Fatalf("send: %+v, %v", res, err)
	}

	p.RecipientEntityID = ""
	if res, _ := a.Send(context.Background(), p); res.Success {
		t.Error("missing entity id must fail")
	}
}
