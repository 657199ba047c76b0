package alerting

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vault-riskbot/internal/metrics"
	"vault-riskbot/internal/vault"
)

// Options configure the risk alerter.
type Options struct {
	// Levels lists the liquidation risk categories that alert, matched case-insensitively.
	Levels   []string
	Cooldown time.Duration
}

// RiskAlerter decides whether stored metrics warrant an alert and delivers it.
// Delivery failures are logged and counted, never returned.
type RiskAlerter struct {
	notifier Notifier
	levels   map[string]struct{}
	cooldown time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[vault.Identity]time.Time
}

// NewRiskAlerter constructs an alerter around a notifier.
func NewRiskAlerter(opts Options, notifier Notifier, logger zerolog.Logger) *RiskAlerter {
	levels := make(map[string]struct{}, len(opts.Levels))
	for _, level := range opts.Levels {
		level = strings.ToLower(strings.TrimSpace(level))
		if level != "" {
			levels[level] = struct{}{}
		}
	}
	return &RiskAlerter{
		notifier: notifier,
		levels:   levels,
		cooldown: opts.Cooldown,
		logger:   logger.With().Str("component", "alerter").Logger(),
		now:      time.Now,
		lastSent: make(map[vault.Identity]time.Time),
	}
}

// Matches reports whether a liquidation risk category is configured to alert.
func (a *RiskAlerter) Matches(liquidationRisk string) bool {
	_, ok := a.levels[strings.ToLower(strings.TrimSpace(liquidationRisk))]
	return ok
}

// Consider sends an alert for m when its risk level matches and the vault is
// outside its cooldown. It reports whether a notification was delivered.
func (a *RiskAlerter) Consider(ctx context.Context, id vault.Identity, m vault.VaultMetrics) bool {
	if a == nil || a.notifier == nil || !a.Matches(m.LiquidationRisk) {
		return false
	}

	now := a.now()
	if !a.reserve(id, now) {
		metrics.AlertsTotal.WithLabelValues("suppressed").Inc()
		a.logger.Debug().Str("network", id.Network).Str("vault_id", id.VaultID).Msg("告警处于冷却期，已跳过")
		return false
	}

	note := Notification{
		Network:         id.Network,
		VaultID:         id.VaultID,
		EventID:         m.EventID,
		LiquidationRisk: m.LiquidationRisk,
		LTV:             m.LTV,
		TVL:             m.TVL,
		RiskScore:       m.RiskScore,
		At:              m.Timestamp,
	}
	if err := a.notifier.Notify(ctx, note); err != nil {
		a.release(id, now)
		metrics.AlertsTotal.WithLabelValues("failed").Inc()
		a.logger.Warn().Err(err).Str("network", id.Network).Str("vault_id", id.VaultID).Msg("风险告警发送失败")
		return false
	}
	metrics.AlertsTotal.WithLabelValues("sent").Inc()
	return true
}

func (a *RiskAlerter) reserve(id vault.Identity, now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if last, ok := a.lastSent[id]; ok && a.cooldown > 0 && now.Sub(last) < a.cooldown {
		return false
	}
	a.lastSent[id] = now
	return true
}

// release undoes a reservation so the next matching event can retry delivery.
func (a *RiskAlerter) release(id vault.Identity, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastSent[id].Equal(at) {
		delete(a.lastSent, id)
	}
}
