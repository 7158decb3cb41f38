package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	// URL is the NATS server URL, comma-separated for a cluster
	URL string
	// StreamName enables JetStream with a stream capturing all call
	// manager subjects. Empty publishes on core NATS.
	StreamName string
	// MaxAge bounds how long the stream keeps events
	MaxAge time.Duration
	// AsyncBufferSize bounds events queued by PublishAsync
	AsyncBufferSize int
	ConnectTimeout  time.Duration
	MaxReconnects   int
	ReconnectWait   time.Duration
	// Auth, first match wins
	CredsFile string
	Token     string
	User      string
	Password  string
}

// DefaultNATSConfig returns the defaults for a single call manager node
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:             nats.DefaultURL,
		MaxAge:          7 * 24 * time.Hour,
		AsyncBufferSize: 1024,
		ConnectTimeout:  5 * time.Second,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
	}
}

type sendFunc func(ctx context.Context, subject string, data []byte, msgID string) error

// NATSPublisher publishes events as JSON to NATS, optionally through a
// JetStream stream that deduplicates on the event id.
type NATSPublisher struct {
	send    sendFunc
	flush   func(ctx context.Context) error
	closeFn func()
	logger  *slog.Logger

	asyncCh   chan Event
	pending   sync.WaitGroup
	workerWg  sync.WaitGroup
	closedMu  sync.RWMutex
	closed    bool
	published atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewNATSPublisher connects to NATS and, when a stream is configured,
// creates or updates it.
func NewNATSPublisher(cfg NATSConfig, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name("callmanager-events"),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("[Events] NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("[Events] NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	switch {
	case cfg.CredsFile != "":
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	case cfg.Token != "":
		opts = append(opts, nats.Token(cfg.Token))
	case cfg.User != "":
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	send := func(_ context.Context, subject string, data []byte, _ string) error {
		return conn.Publish(subject, data)
	}

	if cfg.StreamName != "" {
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:       cfg.StreamName,
			Subjects:   []string{SubjectPrefix + ".>"},
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     cfg.MaxAge,
			Storage:    jetstream.FileStorage,
			Replicas:   1,
			Duplicates: 5 * time.Minute,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create stream %s: %w", cfg.StreamName, err)
		}

		send = func(ctx context.Context, subject string, data []byte, msgID string) error {
			ack, err := js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID))
			if err != nil {
				return err
			}
			logger.Debug("[Events] Event stored", "subject", subject, "stream", ack.Stream, "seq", ack.Sequence)
			return nil
		}
	}

	p := newNATSPublisher(send, conn.FlushWithContext, conn.Close, cfg.AsyncBufferSize, logger)
	logger.Info("[Events] NATS publisher initialized", "url", cfg.URL, "stream", cfg.StreamName)
	return p, nil
}

func newNATSPublisher(send sendFunc, flush func(context.Context) error, closeFn func(), bufSize int, logger *slog.Logger) *NATSPublisher {
	if bufSize <= 0 {
		bufSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &NATSPublisher{
		send:    send,
		flush:   flush,
		closeFn: closeFn,
		logger:  logger,
		asyncCh: make(chan Event, bufSize),
	}
	p.workerWg.Add(1)
	go p.asyncWorker()
	return p
}

func (p *NATSPublisher) asyncWorker() {
	defer p.workerWg.Done()
	for event := range p.asyncCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.Publish(ctx, event); err != nil {
			p.logger.Warn("[Events] Async publish failed",
				"type", string(event.Type()),
				"call_id", event.CallID(),
				"error", err,
			)
		}
		cancel()
		p.pending.Done()
	}
}

func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	subject := event.Subject()
	if err := p.send(ctx, subject, data, event.ID()); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	p.published.Add(1)
	return nil
}

func (p *NATSPublisher) PublishAsync(event Event) {
	p.closedMu.RLock()
	defer p.closedMu.RUnlock()
	if p.closed {
		return
	}
	p.pending.Add(1)
	select {
	case p.asyncCh <- event:
	default:
		p.pending.Done()
		p.dropped.Add(1)
		p.logger.Warn("[Events] Async buffer full, event dropped",
			"type", string(event.Type()),
			"call_id", event.CallID(),
		)
	}
}

// Flush waits for queued async events, then for the connection to flush
func (p *NATSPublisher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.flush(ctx)
}

func (p *NATSPublisher) Close() error {
	p.closedMu.Lock()
	if p.closed {
		p.closedMu.Unlock()
		return nil
	}
	p.closed = true
	close(p.asyncCh)
	p.closedMu.Unlock()

	p.workerWg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.flush(ctx); err != nil {
		p.logger.Warn("[Events] Flush failed during close", "error", err)
	}
	p.closeFn()
	return nil
}

// Stats returns the published, failed and dropped event counts
func (p *NATSPublisher) Stats() (published, failed, dropped int64) {
	return p.published.Load(), p.failed.Load(), p.dropped.Load()
}
