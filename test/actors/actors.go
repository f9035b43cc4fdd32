package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"outreachflow/adapter"
	"outreachflow/assemble"
	"outreachflow/ident"
	"outreachflow/pipeline"
	"outreachflow/signal"
	"outreachflow/webhook"
)

// Producer enqueues signals for a fixed set of companies, deliberately
// reusing a small hash space so duplicate submissions contend on the
// queue's uniqueness guarantee.
func Producer(ctx context.Context, queue signal.QueueRepository, companies []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		company := companies[rand.Intn(len(companies))]
		detail := fmt.Sprintf("round-%d", rand.Intn(50))
		_, err := queue.Enqueue(ctx, signal.Signal{
			Source:    "stress",
			Hash:      signal.ComputeHash("stress", "funding_event", company+detail),
			CompanyID: company,
			Phase:     ident.PhaseOutreach,
			AgentID:   "agent-stress",
		})
		if err != nil && !errors.Is(err, signal.ErrSignalDuplicate) {
			return fmt.Errorf("producer enqueue: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Dispatcher drains the queue the way the daemon does: claim a batch,
// assemble contexts, run the pipeline, mark the signal terminal.
func Dispatcher(ctx context.Context, queue signal.QueueRepository, asm *assemble.Assembler, orch *pipeline.Orchestrator, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		signals, err := queue.Claim(ctx, 5)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		for _, sig := range signals {
			cx, err := asm.Assemble(ctx, sig)
			if err != nil {
				_ = queue.MarkDropped(ctx, sig.ID, "assembly: "+err.Error())
				continue
			}
			res, err := orch.Run(ctx, sig, cx)
			if err != nil {
				_ = queue.MarkDropped(ctx, sig.ID, "pipeline: "+err.Error())
				continue
			}
			if res.Halted {
				_ = queue.MarkDropped(ctx, sig.ID, res.Reason)
			} else {
				_ = queue.MarkDone(ctx, sig.ID)
			}
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// FeedbackCaller replays provider status callbacks for recently dispatched
// runs, including duplicate idempotency keys to exercise the replay guard.
func FeedbackCaller(ctx context.Context, pool *pgxpool.Pool, svc *webhook.Service, stop <-chan struct{}) error {
	statuses := []string{"delivered", "bounced", "failed"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var runID string
		err := pool.QueryRow(ctx, `SELECT message_run_id FROM audit_events
			WHERE type = 'MESSAGE_DISPATCHED' AND message_run_id IS NOT NULL
			ORDER BY created_at DESC LIMIT 1`).Scan(&runID)
		if err == nil && runID != "" {
			token, err := svc.IssueToken("provider-stress", time.Minute)
			if err != nil {
				return fmt.Errorf("feedback token: %w", err)
			}
			upd := webhook.StatusUpdate{
				Token:          token,
				IdempotencyKey: fmt.Sprintf("fb-%s-%d", runID, rand.Intn(3)),
				MessageRunID:   runID,
				Status:         statuses[rand.Intn(len(statuses))],
			}
			_ = svc.HandleStatusUpdate(ctx, upd)
			// replay with the same key; must be a silent no-op
			_ = svc.HandleStatusUpdate(ctx, upd)
		}
		time.Sleep(time.Duration(60+rand.Intn(80)) * time.Millisecond)
	}
}

// FlagFlipper toggles suppression flags and channel health underneath the
// running dispatchers so gate decisions race against state changes.
func FlagFlipper(ctx context.Context, pool *pgxpool.Pool, entityIDs []string, stop <-chan struct{}) error {
	healths := []string{"healthy", "degraded", "paused"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		entity := entityIDs[rand.Intn(len(entityIDs))]
		_, _ = pool.Exec(ctx, `INSERT INTO recipient_flags (entity_id, unsubscribed) VALUES ($1, $2)
			ON CONFLICT (entity_id) DO UPDATE SET unsubscribed = $2`, entity, rand.Intn(4) == 0)
		_, _ = pool.Exec(ctx, `INSERT INTO channel_status (channel, health) VALUES ('email', $1)
			ON CONFLICT (channel) DO UPDATE SET health = $1`, healths[rand.Intn(len(healths))])
		time.Sleep(time.Duration(150+rand.Intn(150)) * time.Millisecond)
	}
}

// FlakyEmailClient accepts most sends and fails the rest, so escalation
// paths get real traffic.
type FlakyEmailClient struct {
	FailEvery int
}

func (c *FlakyEmailClient) Deliver(_ context.Context, _ adapter.EmailRequest) (adapter.ProviderResult, error) {
	n := c.FailEvery
	if n <= 0 {
		n = 10
	}
	if rand.Intn(n) == 0 {
		return adapter.ProviderResult{
			Accepted: false,
			Status:   adapter.StatusFailed,
			Message:  "provider rejected message",
		}, nil
	}
	return adapter.ProviderResult{
		Accepted:   true,
		Status:     adapter.StatusSent,
		ExternalID: fmt.Sprintf("ext-%d", rand.Int63()),
	}, nil
}

// SteadyLinkedInClient always accepts.
type SteadyLinkedInClient struct{}

func (SteadyLinkedInClient) Message(_ context.Context, _ adapter.LinkedInRequest) (adapter.ProviderResult, error) {
	return adapter.ProviderResult{
		Accepted:   true,
		Status:     adapter.StatusSent,
		ExternalID: fmt.Sprintf("li-%d", rand.Int63()),
	}, nil
}

// SteadyHandoffSink always creates the task.
type SteadyHandoffSink struct{}

func (SteadyHandoffSink) CreateTask(_ context.Context, _ adapter.HandoffRequest) (adapter.ProviderResult, error) {
	return adapter.ProviderResult{
		Accepted:   true,
		Status:     adapter.StatusDelivered,
		ExternalID: fmt.Sprintf("task-%d", rand.Int63()),
	}, nil
}
