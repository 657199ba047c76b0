// Package trigger adapts inbound delivery mechanisms to the pipeline. A
// pipeline error is translated into the host's redelivery signal.
package trigger

import (
	"context"

	"vault-riskbot/internal/vault"
)

// Processor runs one raw event payload through the pipeline.
type Processor interface {
	Process(ctx context.Context, payload []byte, transportID string) (vault.VaultMetrics, error)
}

// Pinger reports backing store readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}
