package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vault-riskbot/internal/metrics"
	"vault-riskbot/internal/retry"
	"vault-riskbot/internal/vault"
)

const (
	defaultAttemptTimeout = 10 * time.Second
	defaultMaxAttempts    = 3
	defaultBaseBackoff    = time.Second
	maxResponseBytes      = 1 << 20
)

var errNullPrediction = errors.New("response body is null")

// Options parameterise the prediction client.
type Options struct {
	Endpoint       string
	AttemptTimeout time.Duration
	MaxAttempts    int
	// BaseBackoff is multiplied by 2^attempt between attempts.
	BaseBackoff  time.Duration
	UserAgent    string
	APIKey       string
	MaxIdleConns int
}

// Client calls the external scoring endpoint. It is safe for concurrent use and
// meant to live for the whole process.
type Client struct {
	opts   Options
	logger zerolog.Logger
	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewClient constructs a prediction client.
func NewClient(opts Options, logger zerolog.Logger) *Client {
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaultAttemptTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = defaultBaseBackoff
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "riskbot/1.0"
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.MaxIdleConns > 0 {
		transport.MaxIdleConns = opts.MaxIdleConns
		transport.MaxIdleConnsPerHost = opts.MaxIdleConns
	}

	return &Client{
		opts:   opts,
		logger: logger.With().Str("component", "predictor").Logger(),
		// Deadlines are applied per attempt through the request context.
		client: &http.Client{Transport: transport},
		sleep:  retry.Sleep,
	}
}

// Predict obtains a risk prediction, retrying transport failures, attempt
// timeouts and non-2xx responses alike. A 2xx body that does not decode into a
// prediction fails immediately.
func (c *Client) Predict(ctx context.Context, req vault.RiskPredictionRequest) (vault.RiskPrediction, error) {
	if strings.TrimSpace(c.opts.Endpoint) == "" {
		return vault.RiskPrediction{}, &vault.PredictionServiceError{Err: errors.New("prediction endpoint not configured")}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return vault.RiskPrediction{}, &vault.PredictionServiceError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	log := c.logger.With().Str("vault_id", req.VaultID).Str("network", req.Network).Logger()
	log.Debug().Msg("calling prediction service")

	var prediction vault.RiskPrediction
	policy := retry.Policy{
		MaxAttempts: c.opts.MaxAttempts,
		Backoff:     retry.Exponential(c.opts.BaseBackoff),
		Sleep:       c.sleep,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("retrying prediction call")
		},
	}

	attempts, err := retry.Do(ctx, policy, func(ctx context.Context) error {
		p, err := c.attempt(ctx, body)
		switch {
		case err == nil:
			metrics.PredictionAttempts.WithLabelValues("success").Inc()
		case retry.IsPermanent(err):
			metrics.PredictionAttempts.WithLabelValues("malformed").Inc()
		default:
			metrics.PredictionAttempts.WithLabelValues("retryable").Inc()
		}
		if err != nil {
			return err
		}
		prediction = p
		return nil
	})
	if err != nil {
		perr := &vault.PredictionServiceError{
			Attempts:  attempts,
			Malformed: retry.IsPermanent(err),
			Err:       unwrapPermanent(err),
		}
		log.Error().Err(perr.Err).Int("attempts", attempts).Bool("malformed", perr.Malformed).Msg("prediction call failed")
		return vault.RiskPrediction{}, perr
	}

	return prediction, nil
}

func (c *Client) attempt(ctx context.Context, body []byte) (vault.RiskPrediction, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return vault.RiskPrediction{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.opts.UserAgent)
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return vault.RiskPrediction{}, fmt.Errorf("post prediction: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return vault.RiskPrediction{}, fmt.Errorf("read prediction body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return vault.RiskPrediction{}, parseHTTPError(resp.StatusCode, payload)
	}

	prediction, err := decodePrediction(payload)
	if err != nil {
		return vault.RiskPrediction{}, retry.Permanent(err)
	}
	return prediction, nil
}

func decodePrediction(payload []byte) (vault.RiskPrediction, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return vault.RiskPrediction{}, errNullPrediction
	}

	var prediction *vault.RiskPrediction
	if err := json.Unmarshal(trimmed, &prediction); err != nil {
		return vault.RiskPrediction{}, fmt.Errorf("decode prediction: %w", err)
	}
	if prediction == nil {
		return vault.RiskPrediction{}, errNullPrediction
	}
	return *prediction, nil
}

type errorResponse struct {
	Error   string `json:"error"`
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		switch {
		case apiErr.Detail != "":
			return fmt.Errorf("prediction api error (%d): %s", status, apiErr.Detail)
		case apiErr.Message != "":
			return fmt.Errorf("prediction api error (%d): %s", status, apiErr.Message)
		case apiErr.Error != "":
			return fmt.Errorf("prediction api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		text := strings.TrimSpace(string(payload))
		if len(text) > 256 {
			text = text[:256]
		}
		return fmt.Errorf("prediction api error (%d): %s", status, text)
	}
	return fmt.Errorf("prediction api error (%d)", status)
}

func unwrapPermanent(err error) error {
	var pe *retry.PermanentError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}

var _ Predictor = (*Client)(nil)
