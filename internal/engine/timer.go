package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ouvrio/dossier/internal/catalog"
	"github.com/ouvrio/dossier/internal/store"
	"github.com/ouvrio/dossier/model"
)

// TimerProcessor completes TIMER step instances whose configured delay has
// elapsed. It runs on a ticker and goes through the orchestrator's approval
// path, so a timer completion advances the dossier exactly like a human one.
type TimerProcessor struct {
	store        store.Store
	catalog      *catalog.Registry
	orchestrator *Orchestrator
	interval     time.Duration
	logger       *zap.Logger
}

// NewTimerProcessor creates a timer-step processor ticking at the given
// interval.
func NewTimerProcessor(st store.Store, cat *catalog.Registry, orch *Orchestrator, interval time.Duration, logger *zap.Logger) *TimerProcessor {
	return &TimerProcessor{
		store:        st,
		catalog:      cat,
		orchestrator: orch,
		interval:     interval,
		logger:       logger,
	}
}

// Run ticks until the context is cancelled. It is meant to be launched in
// its own goroutine from main.
func (p *TimerProcessor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("timer processor started", zap.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("timer processor stopped")
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep completes every elapsed timer instance once. A per-instance failure
// is logged and the sweep continues; the next tick retries.
func (p *TimerProcessor) Sweep(ctx context.Context) {
	instances, err := p.store.ListOpenByType(ctx, model.StepTypeTimer)
	if err != nil {
		p.logger.Error("timer sweep failed", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	for _, inst := range instances {
		step, ok := p.catalog.GetStep(inst.StepCode)
		if !ok {
			p.logger.Warn("timer instance references unknown step",
				zap.String("instance_id", inst.ID),
				zap.String("step_code", inst.StepCode),
			)
			continue
		}
		if step.TimerDelay <= 0 || now.Before(inst.StartedAt.Add(step.TimerDelay.Std())) {
			continue
		}

		if _, err := p.orchestrator.CompleteTimerStep(ctx, inst.ID); err != nil {
			// Conflicts mean a concurrent completion won; anything else
			// is retried on the next tick.
			if model.IsCode(err, model.ErrConflict) {
				continue
			}
			p.logger.Error("timer completion failed",
				zap.String("instance_id", inst.ID),
				zap.String("step_code", inst.StepCode),
				zap.Error(err),
			)
			continue
		}
		p.logger.Info("timer step completed",
			zap.String("instance_id", inst.ID),
			zap.String("dossier_id", inst.DossierID),
			zap.String("step_code", inst.StepCode),
		)
	}
}
