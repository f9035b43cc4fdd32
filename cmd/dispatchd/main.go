package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"outreachflow/adapter"
	"outreachflow/assemble"
	"outreachflow/db"
	"outreachflow/dispatchd"
	"outreachflow/eventlog"
	"outreachflow/frame"
	"outreachflow/ident"
	"outreachflow/intel"
	"outreachflow/orbt"
	"outreachflow/pipeline"
	sigqueue "outreachflow/signal"
	"outreachflow/webhook"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := run(logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("dispatchd exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		return err
	}
	defer pool.Close()

	events := eventlog.NewRepository(pool)
	frames := frame.NewRepository(pool)
	intelRepo := intel.NewRepository(pool)
	queue := sigqueue.NewQueueRepository(pool)
	escalator := orbt.NewHandler(orbt.NewRepository(pool))

	httpClient := &http.Client{Timeout: cfg.SendTimeout}
	registry, err := adapter.NewRegistry(
		adapter.NewEmailAdapter(&emailClient{providerClient{http: httpClient, baseURL: cfg.EmailBaseURL, apiKey: cfg.EmailAPIKey}}, cfg.SendTimeout),
		adapter.NewLinkedInAdapter(&linkedInClient{providerClient{http: httpClient, baseURL: cfg.LinkedInBaseURL, apiKey: cfg.LinkedInAPIKey}}, cfg.SendTimeout),
		adapter.NewHandoffAdapter(&handoffClient{providerClient{http: httpClient, baseURL: cfg.HandoffBaseURL}}, cfg.SendTimeout),
	)
	if err != nil {
		return err
	}

	sender := pipeline.Sender{ID: cfg.SenderID, Email: cfg.SenderEmail}
	orchestrator := pipeline.NewOrchestrator(frames, intelRepo, registry, events, escalator, sender)
	assembler := assemble.New(pool, events, intelRepo)
	daemon := dispatchd.New(queue, assembler, orchestrator, logger, dispatchd.Config{
		BatchSize:    cfg.BatchSize,
		Workers:      cfg.Workers,
		PollInterval: cfg.PollInterval,
	})

	feedback := webhook.NewService(pool, events, cfg.WebhookSecret)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("POST /webhooks/delivery", deliveryHandler(feedback, logger))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("dispatcher started",
			zap.Int("batch_size", cfg.BatchSize),
			zap.Int("workers", cfg.Workers),
		)
		return daemon.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("http listener started", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func deliveryHandler(svc *webhook.Service, logger *zap.Logger) http.HandlerFunc {
	type request struct {
		IdempotencyKey string         `json:"idempotency_key"`
		MessageRunID   string         `json:"message_run_id"`
		Status         string         `json:"status"`
		ExternalID     string         `json:"external_id"`
		Raw            map[string]any `json:"raw"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}

		upd := webhook.StatusUpdate{
			Token:          bearerToken(r),
			IdempotencyKey: req.IdempotencyKey,
			MessageRunID:   req.MessageRunID,
			Status:         req.Status,
			ExternalID:     req.ExternalID,
			Raw:            req.Raw,
		}
		if err := svc.HandleStatusUpdate(r.Context(), upd); err != nil {
			switch {
			case errors.Is(err, webhook.ErrInvalidToken):
				http.Error(w, "invalid token", http.StatusUnauthorized)
			case errors.Is(err, webhook.ErrMissingIdempotency),
				errors.Is(err, webhook.ErrUnknownStatus),
				errors.Is(err, ident.ErrMalformedID):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				logger.Error("webhook processing failed", zap.Error(err))
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return ""
}
