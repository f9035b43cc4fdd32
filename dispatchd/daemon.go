// Package dispatchd runs the dispatcher loop: claim queued signals,
// assemble gate contexts, run pipelines concurrently, and mark each
// signal's terminal status.
package dispatchd

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"outreachflow/metrics"
	"outreachflow/pipeline"
	"outreachflow/signal"
)

// Assembler builds the per-signal gate contexts before a run.
type Assembler interface {
	Assemble(ctx context.Context, sig signal.Signal) (pipeline.Contexts, error)
}

// Runner executes one pipeline run. Satisfied by *pipeline.Orchestrator.
type Runner interface {
	Run(ctx context.Context, sig signal.Signal, cx pipeline.Contexts) (pipeline.Result, error)
}

// Config bounds the loop.
type Config struct {
	BatchSize    int
	Workers      int
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	return c
}

// Daemon is the dispatcher loop.
type Daemon struct {
	queue     signal.QueueRepository
	assembler Assembler
	runner    Runner
	logger    *zap.Logger
	metrics   *metrics.Metrics
	cfg       Config
}

func New(queue signal.QueueRepository, assembler Assembler, runner Runner, logger *zap.Logger, cfg Config) *Daemon {
	return &Daemon{
		queue:     queue,
		assembler: assembler,
		runner:    runner,
		logger:    logger,
		metrics:   metrics.New(),
		cfg:       cfg.withDefaults(),
	}
}

// Run polls the queue until ctx is cancelled. Claimed batches are
// processed concurrently, one pipeline run per signal; runs share no
// mutable state so the only coordination is the errgroup limit.
func (d *Daemon) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := d.tick(ctx); err != nil {
			d.logger.Error("dispatch tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Daemon) tick(ctx context.Context) error {
	signals, err := d.queue.Claim(ctx, d.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(signals) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for _, sig := range signals {
		g.Go(func() error {
			d.process(gctx, sig)
			return nil
		})
	}
	return g.Wait()
}

func (d *Daemon) process(ctx context.Context, sig signal.Signal) {
	logger := d.logger.With(
		zap.String("signal_id", sig.ID),
		zap.String("company_id", sig.CompanyID),
		zap.String("phase", string(sig.Phase)),
	)

	cx, err := d.assembler.Assemble(ctx, sig)
	if err != nil {
		logger.Error("context assembly failed", zap.Error(err))
		d.metrics.RunsTotal.WithLabelValues("errored").Inc()
		if markErr := d.queue.MarkDropped(ctx, sig.ID, "context assembly failed: "+err.Error()); markErr != nil {
			logger.Error("mark dropped failed", zap.Error(markErr))
		}
		return
	}

	res, err := d.runner.Run(ctx, sig, cx)
	if err != nil {
		logger.Error("pipeline run failed", zap.Error(err))
		d.metrics.RunsTotal.WithLabelValues("errored").Inc()
		if markErr := d.queue.MarkDropped(ctx, sig.ID, "pipeline error: "+err.Error()); markErr != nil {
			logger.Error("mark dropped failed", zap.Error(markErr))
		}
		return
	}

	d.observe(res)

	if res.Halted {
		logger.Info("run halted",
			zap.Int("step_reached", res.StepReached),
			zap.String("reason", res.Reason),
		)
		if err := d.queue.MarkDropped(ctx, sig.ID, res.Reason); err != nil {
			logger.Error("mark dropped failed", zap.Error(err))
		}
		return
	}

	logger.Info("run completed",
		zap.String("communication_id", res.CommunicationID.String()),
		zap.String("message_run_id", res.MessageRunID.String()),
		zap.String("delivery_status", string(res.DeliveryStatus)),
	)
	if err := d.queue.MarkDone(ctx, sig.ID); err != nil {
		logger.Error("mark done failed", zap.Error(err))
	}
}

func (d *Daemon) observe(res pipeline.Result) {
	outcome := "completed"
	if res.Halted {
		outcome = "halted"
	}
	d.metrics.RunsTotal.WithLabelValues(outcome).Inc()

	for _, g := range res.Gates {
		d.metrics.GateVerdictsTotal.WithLabelValues(string(g.Gate), string(g.Verdict)).Inc()
	}
	if res.DeliveryStatus != "" {
		d.metrics.DeliveriesTotal.WithLabelValues(string(res.DeliveryStatus)).Inc()
	}
	if res.Escalation != nil {
		d.metrics.StrikesTotal.WithLabelValues(strconv.Itoa(res.Escalation.Strike)).Inc()
	}
}
