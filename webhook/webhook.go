// Package webhook records asynchronous delivery-status feedback from
// providers. Updates correlate back to a run purely via the minted ids;
// an idempotency key guards against provider redelivery.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"outreachflow/adapter"
	"outreachflow/eventlog"
	"outreachflow/ident"
)

var (
	ErrInvalidToken       = errors.New("webhook: invalid bearer token")
	ErrMissingIdempotency = errors.New("webhook: missing idempotency key")
	ErrUnknownStatus      = errors.New("webhook: unknown delivery status")
)

// StatusUpdate is a provider feedback event normalized for the service.
type StatusUpdate struct {
	Token          string
	IdempotencyKey string
	MessageRunID   string
	Status         string
	ExternalID     string
	Raw            map[string]any
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EventAppender is the slice of the event log the webhook service writes to.
// The append rides the same transaction as the idempotency-key reservation,
// so a redelivered key can never leave a second feedback row behind.
type EventAppender interface {
	AppendTx(ctx context.Context, tx pgx.Tx, event eventlog.AuditEvent) error
}

// Service validates and records feedback events.
type Service struct {
	pool   TxBeginner
	log    EventAppender
	secret []byte
	now    func() time.Time
}

func NewService(pool TxBeginner, log EventAppender, secret string) *Service {
	return &Service{
		pool:   pool,
		log:    log,
		secret: []byte(secret),
		now:    time.Now,
	}
}

// HandleStatusUpdate validates the caller, reserves the idempotency key,
// and appends one delivery-status audit event keyed by the parsed run id.
// A replayed idempotency key is a no-op, not an error.
func (s *Service) HandleStatusUpdate(ctx context.Context, upd StatusUpdate) error {
	if err := s.verifyToken(upd.Token); err != nil {
		return err
	}
	if upd.IdempotencyKey == "" {
		return ErrMissingIdempotency
	}

	parts, err := ident.ParseMessageRunID(upd.MessageRunID)
	if err != nil {
		return fmt.Errorf("webhook: parse run id: %w", err)
	}

	eventType, err := statusEvent(upd.Status)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("webhook: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertIdempotencyKey(ctx, tx, upd.IdempotencyKey); err != nil {
		if errors.Is(err, errDuplicateKey) {
			return nil
		}
		return err
	}

	if err := s.log.AppendTx(ctx, tx, eventlog.AuditEvent{
		CommunicationID: parts.CommunicationID.String(),
		MessageRunID:    upd.MessageRunID,
		Step:            0,
		StepName:        "webhook_feedback",
		Type:            eventType,
		Payload: map[string]any{
			"status":      upd.Status,
			"external_id": upd.ExternalID,
			"channel":     parts.ChannelCode,
			"attempt":     parts.Attempt,
			"raw":         upd.Raw,
		},
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("webhook: commit tx: %w", err)
	}
	return nil
}

func (s *Service) verifyToken(raw string) error {
	if raw == "" {
		return ErrInvalidToken
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("webhook: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

var errDuplicateKey = errors.New("webhook: duplicate idempotency key")

func insertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if _, err := tx.Exec(ctx, `INSERT INTO webhook_idempotency (key) VALUES ($1)`, key); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errDuplicateKey
		}
		return fmt.Errorf("webhook: insert idempotency key: %w", err)
	}
	return nil
}

func statusEvent(status string) (eventlog.EventType, error) {
	switch adapter.DeliveryStatus(status) {
	case adapter.StatusDelivered:
		return eventlog.EventDeliveryDelivered, nil
	case adapter.StatusSent:
		return eventlog.EventDeliverySent, nil
	case adapter.StatusBounced:
		return eventlog.EventDeliveryBounced, nil
	case adapter.StatusFailed:
		return eventlog.EventDeliveryFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
}

// IssueToken mints a provider bearer token; used by ops tooling and tests.
func (s *Service) IssueToken(subject string, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": s.now().Unix(),
		"exp": s.now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("webhook: sign token: %w", err)
	}
	return signed, nil
}
