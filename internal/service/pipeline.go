// Package service sequences the risk ingestion pipeline and the history archiver.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"vault-riskbot/internal/mapper"
	"vault-riskbot/internal/metrics"
	"vault-riskbot/internal/predictor"
	"vault-riskbot/internal/storage"
	"vault-riskbot/internal/vault"
)

// Stage names a pipeline state.
type Stage string

const (
	StageReceived     Stage = "received"
	StageMapped       Stage = "mapped"
	StagePredicted    Stage = "predicted"
	StageStored       Stage = "stored"
	StageAcknowledged Stage = "acknowledged"
	StageFailed       Stage = "failed"
)

// Alerter is notified after metrics are stored. It must not fail the run.
type Alerter interface {
	Consider(ctx context.Context, id vault.Identity, m vault.VaultMetrics) bool
}

// Options carry the shared, process-wide dependencies of a Pipeline.
type Options struct {
	Predictor predictor.Predictor
	Store     storage.MetricsWriter
	Alerter   Alerter
	Now       func() time.Time
}

// Pipeline runs Received → Mapped → Predicted → Stored → Acknowledged for one
// event at a time. It is safe for concurrent use; it retries nothing itself.
type Pipeline struct {
	predictor predictor.Predictor
	store     storage.MetricsWriter
	alerter   Alerter
	now       func() time.Time
	logger    zerolog.Logger
}

// New constructs a Pipeline.
func New(opts Options, logger zerolog.Logger) (*Pipeline, error) {
	if opts.Predictor == nil {
		return nil, fmt.Errorf("pipeline requires a predictor")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("pipeline requires a metrics store")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		predictor: opts.Predictor,
		store:     opts.Store,
		alerter:   opts.Alerter,
		now:       opts.Now,
		logger:    logger.With().Str("component", "pipeline").Logger(),
	}, nil
}

// Process decodes a raw payload and runs it through the pipeline. transportID
// is the delivery mechanism's message id, used when the envelope has none.
// A non-nil error means the event was not acknowledged and must be redelivered
// by the caller's host.
func (p *Pipeline) Process(ctx context.Context, payload []byte, transportID string) (vault.VaultMetrics, error) {
	started := time.Now()

	env, event, err := DecodeEvent(payload)
	eventID := ResolveEventID(env.ID, transportID, payload)
	if err != nil {
		p.finish(started, err)
		p.logger.Error().Err(err).
			Str("event_id", eventID).
			Str("stage", string(StageFailed)).
			Msg("event rejected")
		return vault.VaultMetrics{}, err
	}

	return p.handle(ctx, started, eventID, event)
}

// Handle runs an already decoded event through the pipeline.
func (p *Pipeline) Handle(ctx context.Context, eventID string, event vault.BlockchainEvent) (vault.VaultMetrics, error) {
	return p.handle(ctx, time.Now(), eventID, event)
}

func (p *Pipeline) handle(ctx context.Context, started time.Time, eventID string, event vault.BlockchainEvent) (vault.VaultMetrics, error) {
	log := p.logger.With().
		Str("event_id", eventID).
		Str("vault_id", event.VaultID).
		Str("network", event.Network).
		Logger()
	log.Debug().Str("stage", string(StageReceived)).Str("event_type", event.EventType).Msg("event received")

	req := mapper.Map(event)
	log.Debug().Str("stage", string(StageMapped)).
		Int("collateral", len(req.Collateral)).
		Int("debt", len(req.Debt)).
		Msg("event mapped")

	prediction, err := p.predictor.Predict(ctx, req)
	if err != nil {
		err = asPredictionError(err)
		return p.fail(log, started, StageMapped, err)
	}
	log.Debug().Str("stage", string(StagePredicted)).Str("liquidation_risk", prediction.LiquidationRisk).Msg("prediction obtained")

	m := mapper.NewMetrics(prediction, eventID, p.now())
	if err := p.store.StoreMetrics(ctx, event.VaultID, event.Network, m); err != nil {
		err = asStorageError(err)
		return p.fail(log, started, StagePredicted, err)
	}
	log.Debug().Str("stage", string(StageStored)).Msg("metrics stored")

	if p.alerter != nil {
		p.alerter.Consider(ctx, vault.Identity{Network: event.Network, VaultID: event.VaultID}, m)
	}

	p.finish(started, nil)
	log.Info().Str("stage", string(StageAcknowledged)).
		Str("ltv", m.LTV.String()).
		Str("tvl", m.TVL.String()).
		Str("liquidation_risk", m.LiquidationRisk).
		Dur("elapsed", time.Since(started)).
		Msg("event processed")
	return m, nil
}

func (p *Pipeline) fail(log zerolog.Logger, started time.Time, from Stage, err error) (vault.VaultMetrics, error) {
	p.finish(started, err)
	log.Error().Err(err).
		Str("stage", string(StageFailed)).
		Str("from_stage", string(from)).
		Msg("event failed")
	return vault.VaultMetrics{}, err
}

func (p *Pipeline) finish(started time.Time, err error) {
	outcome := Outcome(err)
	metrics.EventsTotal.WithLabelValues(outcome).Inc()
	metrics.PipelineDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
}

// Outcome classifies a pipeline result for metrics and transport responses.
func Outcome(err error) string {
	var (
		derr *vault.DeserializationError
		perr *vault.PredictionServiceError
		serr *vault.StorageError
	)
	switch {
	case err == nil:
		return "acknowledged"
	case errors.As(err, &derr):
		return "deserialization_failed"
	case errors.As(err, &perr):
		return "prediction_failed"
	case errors.As(err, &serr):
		return "storage_failed"
	default:
		return "failed"
	}
}

func asPredictionError(err error) error {
	var perr *vault.PredictionServiceError
	if errors.As(err, &perr) {
		return err
	}
	return &vault.PredictionServiceError{Attempts: 1, Err: err}
}

func asStorageError(err error) error {
	var serr *vault.StorageError
	if errors.As(err, &serr) {
		return err
	}
	return &vault.StorageError{Op: "write", Err: err}
}
