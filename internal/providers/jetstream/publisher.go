package jetstream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/messaging"
)

// Config holds the configuration for NATS JetStream connection
type Config struct {
	URL            string
	SubjectPrefix  string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
}

type publisher struct {
	nc            adapter.NatsConn
	js            adapter.JetStream
	subjectPrefix string
	jcs           adapter.JCS

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPublisher creates a new NATS JetStream publisher
func NewPublisher(cfg Config, natsJS adapter.NatsJetStream, jcs adapter.JCS) (messaging.Publisher, error) {
	p := &publisher{
		subjectPrefix: strings.TrimSuffix(cfg.SubjectPrefix, "."),
		jcs:           jcs,
		closed:        make(chan struct{}),
	}

	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
			p.markClosed()
		}),
	}

	nc, js, err := natsJS.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}
	p.nc = nc
	p.js = js

	return p, nil
}

// PublishEvent publishes a canonical event. The event id doubles as the JetStream
// message id so a re-published event is dropped by the stream's duplicate window.
func (p *publisher) PublishEvent(ctx context.Context, event *domain.CanonicalEvent) error {
	logger.DebugCtx(ctx, "Publishing canonical event",
		zap.String("eventID", event.EventID),
		zap.Uint64("offset", event.Offset))

	data, err := adapter.CanonicalJSON(p.jcs, event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.js.Publish(ctx, p.buildSubject(event), data, natsjs.WithMsgID(event.EventID))
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// buildSubject constructs the NATS subject of an event
func (p *publisher) buildSubject(event *domain.CanonicalEvent) string {
	// Format: {prefix}.{event_type}, e.g. gifts.events.gift_claimed
	return fmt.Sprintf("%s.%s", p.subjectPrefix, event.Type)
}

func (p *publisher) markClosed() {
	p.closeOnce.Do(func() { close(p.closed) })
}

// Close closes the NATS connection
func (p *publisher) Close() {
	if p.nc == nil {
		return
	}

	p.nc.Close()
	p.markClosed()
}

func (p *publisher) CloseChan() <-chan struct{} {
	return p.closed
}
