package trigger

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

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"vault-riskbot/internal/metrics"
	"vault-riskbot/internal/service"
	"vault-riskbot/internal/vault"
)

const (
	subscriptionValidationEvent = "Microsoft.EventGrid.SubscriptionValidationEvent"
	readinessTimeout            = 2 * time.Second
	defaultMaxBodyBytes         = 1 << 20
	defaultRequestTimeout       = 50 * time.Second
	// writeTimeoutMargin leaves room to write the failure response after
	// the request deadline fires.
	writeTimeoutMargin = 10 * time.Second
)

// HTTPOptions configure the webhook server.
type HTTPOptions struct {
	ListenAddr      string
	EventsPath      string
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	// RequestTimeout bounds a whole delivery, batches included.
	RequestTimeout time.Duration
}

// HTTPServer accepts EventGrid-style deliveries on EventsPath and serves
// /healthz, /readyz and /metrics.
type HTTPServer struct {
	opts      HTTPOptions
	processor Processor
	pinger    Pinger
	router    *gin.Engine
	logger    zerolog.Logger
}

type eventResult struct {
	EventID         string `json:"eventId"`
	LiquidationRisk string `json:"liquidationRisk"`
}

// NewHTTPServer builds the router. pinger may be nil, in which case /readyz
// always reports ready.
func NewHTTPServer(opts HTTPOptions, processor Processor, pinger Pinger, logger zerolog.Logger) *HTTPServer {
	if opts.EventsPath == "" {
		opts.EventsPath = "/api/events"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	s := &HTTPServer{
		opts:      opts,
		processor: processor,
		pinger:    pinger,
		router:    gin.New(),
		logger:    logger.With().Str("component", "http").Logger(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

func (s *HTTPServer) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.logger.Error().Interface("panic", recovered).Str("path", c.Request.URL.Path).Msg("panic recovered")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}))
	s.router.Use(s.observe())
}

func (s *HTTPServer) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, metrics.StatusClass(status)).Inc()

		event := s.logger.Debug()
		switch {
		case status >= 500:
			event = s.logger.Error()
		case status >= 400:
			event = s.logger.Warn()
		}
		event.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request completed")
	}
}

func (s *HTTPServer) setupRoutes() {
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/readyz", s.readyHandler)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.router.POST(s.opts.EventsPath, s.eventsHandler)
}

func (s *HTTPServer) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *HTTPServer) readyHandler(c *gin.Context) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// eventsHandler processes a single envelope or an array of them, in order. The
// first failure fails the whole delivery: deserialization failures answer 400
// so the sender dead-letters them, everything else answers 500 so it retries.
func (s *HTTPServer) eventsHandler(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body: " + err.Error()})
		return
	}

	payloads, batched, err := splitBatch(body)
	if err != nil {
		s.fail(c, 0, err)
		return
	}

	if code, ok := validationCode(payloads); ok {
		s.logger.Info().Msg("answering subscription validation handshake")
		c.JSON(http.StatusOK, gin.H{"validationResponse": code})
		return
	}

	transportID := ""
	if !batched {
		transportID = c.GetHeader("aeg-event-id")
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.RequestTimeout)
	defer cancel()

	results := make([]eventResult, 0, len(payloads))
	for i, payload := range payloads {
		if err := ctx.Err(); err != nil {
			s.fail(c, i, fmt.Errorf("request deadline reached after %d of %d events: %w", i, len(payloads), err))
			return
		}
		m, err := s.processor.Process(ctx, payload, transportID)
		if err != nil {
			s.fail(c, i, err)
			return
		}
		results = append(results, eventResult{EventID: m.EventID, LiquidationRisk: m.LiquidationRisk})
	}

	c.JSON(http.StatusOK, gin.H{"processed": len(results), "results": results})
}

func (s *HTTPServer) fail(c *gin.Context, processed int, err error) {
	status := http.StatusInternalServerError
	var derr *vault.DeserializationError
	if errors.As(err, &derr) {
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{
		"error":     err.Error(),
		"outcome":   service.Outcome(err),
		"processed": processed,
	})
}

// splitBatch returns the individual payloads of a delivery.
func splitBatch(body []byte) ([]json.RawMessage, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return []json.RawMessage{trimmed}, false, nil
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		return nil, true, &vault.DeserializationError{Reason: "invalid event batch", Err: err}
	}
	if len(batch) == 0 {
		return nil, true, &vault.DeserializationError{Reason: "empty event batch"}
	}
	return batch, true, nil
}

func validationCode(payloads []json.RawMessage) (string, bool) {
	if len(payloads) == 0 {
		return "", false
	}
	var head struct {
		EventType string `json:"eventType"`
		Data      struct {
			ValidationCode string `json:"validationCode"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payloads[0], &head); err != nil {
		return "", false
	}
	if !strings.EqualFold(head.EventType, subscriptionValidationEvent) || head.Data.ValidationCode == "" {
		return "", false
	}
	return head.Data.ValidationCode, true
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.opts.RequestTimeout + writeTimeoutMargin,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.ListenAddr).Str("events_path", s.opts.EventsPath).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info().Msg("http server stopped")
	return nil
}
