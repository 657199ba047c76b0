// Package predictor wraps the external risk scoring service.
package predictor

import (
	"context"

	"vault-riskbot/internal/vault"
)

// Predictor obtains a risk prediction for a mapped request.
type Predictor interface {
	Predict(ctx context.Context, req vault.RiskPredictionRequest) (vault.RiskPrediction, error)
}
