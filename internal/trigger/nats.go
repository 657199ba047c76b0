package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vault-riskbot/internal/vault"
)

// NATSOptions configure the JetStream consumer.
type NATSOptions struct {
	URL        string
	Stream     string
	Subject    string
	Durable    string
	Workers    int
	FetchBatch int
	FetchWait  time.Duration
	AckWait    time.Duration
	MaxDeliver int
	NakDelay   time.Duration
}

const defaultAckWait = 30 * time.Second

// acker is the acknowledgement surface of a JetStream message.
type acker interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	InProgress(opts ...nats.AckOpt) error
	Term(opts ...nats.AckOpt) error
}

// delivery is one fetched message awaiting its pipeline run.
type delivery struct {
	data      []byte
	msgID     string
	delivered uint64
	msg       acker
}

// NATSConsumer pulls events from a durable JetStream consumer. Each message is
// one pipeline run: success acks it, a payload that cannot be decoded is
// terminated, any other error naks it for redelivery, and the consumer's
// MaxDeliver bounds how often that happens. Messages of a fetched batch that
// are still queued or running are kept alive with InProgress so their AckWait
// does not expire behind a slow prediction call.
type NATSConsumer struct {
	opts      NATSOptions
	processor Processor
	logger    zerolog.Logger

	conn *nats.Conn
	sub  *nats.Subscription
}

// NewNATSConsumer constructs a consumer; Connect must be called before Run.
func NewNATSConsumer(opts NATSOptions, processor Processor, logger zerolog.Logger) *NATSConsumer {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.FetchBatch <= 0 {
		opts.FetchBatch = 10
	}
	if opts.FetchWait <= 0 {
		opts.FetchWait = 5 * time.Second
	}
	if opts.NakDelay < 0 {
		opts.NakDelay = 0
	}
	if opts.AckWait <= 0 {
		opts.AckWait = defaultAckWait
	}
	return &NATSConsumer{
		opts:      opts,
		processor: processor,
		logger:    logger.With().Str("component", "nats_consumer").Logger(),
	}
}

// Connect dials NATS, creates the stream when missing and binds the durable
// pull subscription.
func (c *NATSConsumer) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := nats.Connect(c.opts.URL,
		nats.Name("riskbot"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("create jetstream context: %w", err)
	}

	if err := c.ensureStream(js); err != nil {
		conn.Close()
		return err
	}

	subOpts := []nats.SubOpt{
		nats.BindStream(c.opts.Stream),
		nats.ManualAck(),
		nats.DeliverAll(),
	}
	if c.opts.AckWait > 0 {
		subOpts = append(subOpts, nats.AckWait(c.opts.AckWait))
	}
	if c.opts.MaxDeliver > 0 {
		subOpts = append(subOpts, nats.MaxDeliver(c.opts.MaxDeliver))
	}

	sub, err := js.PullSubscribe(c.opts.Subject, c.opts.Durable, subOpts...)
	if err != nil {
		conn.Close()
		return fmt.Errorf("pull subscribe %s: %w", c.opts.Subject, err)
	}

	c.conn = conn
	c.sub = sub
	c.logger.Info().
		Str("stream", c.opts.Stream).
		Str("subject", c.opts.Subject).
		Str("durable", c.opts.Durable).
		Msg("nats consumer bound")
	return nil
}

func (c *NATSConsumer) ensureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(c.opts.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", c.opts.Stream, err)
	}

	c.logger.Info().Str("stream", c.opts.Stream).Str("subject", c.opts.Subject).Msg("creating stream")
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      c.opts.Stream,
		Subjects:  []string{c.opts.Subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
		MaxAge:    7 * 24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", c.opts.Stream, err)
	}
	return nil
}

// Run fetches and processes messages with the configured number of workers
// until ctx is cancelled.
func (c *NATSConsumer) Run(ctx context.Context) error {
	if c.sub == nil {
		return fmt.Errorf("nats consumer not connected")
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.opts.Workers; i++ {
		worker := i
		g.Go(func() error {
			return c.work(ctx, worker)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *NATSConsumer) work(ctx context.Context, worker int) error {
	log := c.logger.With().Int("worker", worker).Logger()
	for {
		if ctx.Err() != nil {
			return nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.opts.FetchWait)
		msgs, err := c.sub.Fetch(c.opts.FetchBatch, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return fmt.Errorf("fetch: %w", err)
			}
			log.Warn().Err(err).Msg("fetch failed")
			continue
		}

		batch := make([]delivery, 0, len(msgs))
		for _, msg := range msgs {
			var delivered uint64
			if meta, err := msg.Metadata(); err == nil {
				delivered = meta.NumDelivered
			}
			batch = append(batch, delivery{data: msg.Data, msgID: msg.Header.Get(nats.MsgIdHdr), delivered: delivered, msg: msg})
		}
		c.processBatch(ctx, batch)
	}
}

// processBatch runs a fetched batch in order while a heartbeat marks every
// unfinished message in progress each half AckWait.
func (c *NATSConsumer) processBatch(ctx context.Context, batch []delivery) {
	if len(batch) == 0 {
		return
	}

	var (
		mu   sync.Mutex
		next int
	)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(max(c.opts.AckWait/2, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				mu.Lock()
				pending := batch[next:]
				mu.Unlock()
				for _, d := range pending {
					if err := d.msg.InProgress(); err != nil {
						c.logger.Debug().Err(err).Str("msg_id", d.msgID).Msg("in-progress signal failed")
					}
				}
			}
		}
	}()

	for i, d := range batch {
		c.handle(ctx, d.data, d.msgID, d.delivered, d.msg)
		mu.Lock()
		next = i + 1
		mu.Unlock()
	}
	close(stop)
	<-done
}

func (c *NATSConsumer) handle(ctx context.Context, data []byte, msgID string, delivered uint64, msg acker) {
	_, err := c.processor.Process(ctx, data, msgID)
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Warn().Err(ackErr).Str("msg_id", msgID).Msg("ack failed; message will be redelivered")
		}
		return
	}

	var derr *vault.DeserializationError
	if errors.As(err, &derr) {
		c.logger.Error().Err(err).
			Str("msg_id", msgID).
			Uint64("delivered", delivered).
			Msg("undecodable event terminated")
		if termErr := msg.Term(); termErr != nil {
			c.logger.Warn().Err(termErr).Str("msg_id", msgID).Msg("term failed; message redelivers after ack wait")
		}
		return
	}

	c.logger.Warn().Err(err).
		Str("msg_id", msgID).
		Uint64("delivered", delivered).
		Dur("nak_delay", c.opts.NakDelay).
		Msg("event not acknowledged; requesting redelivery")
	if nakErr := msg.NakWithDelay(c.opts.NakDelay); nakErr != nil {
		c.logger.Warn().Err(nakErr).Str("msg_id", msgID).Msg("nak failed; message redelivers after ack wait")
	}
}

// Close drains the connection.
func (c *NATSConsumer) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
