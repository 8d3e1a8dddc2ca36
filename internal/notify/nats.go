// Package notify tells downstream consumers that a refresh has replaced the snapshots.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"mobility-rollups/internal/models"
	"mobility-rollups/pkg/logging"
	"mobility-rollups/pkg/metrics"
)

// Publisher announces completed refreshes.
type Publisher interface {
	PublishRefresh(ctx context.Context, ev RefreshEvent) error
	Close()
}

// RefreshEvent is the JSON body published after a refresh commits.
type RefreshEvent struct {
	RunID        string           `json:"runId"`
	WindowStart  string           `json:"windowStart"`
	WindowEnd    string           `json:"windowEnd"`
	RegionPrefix string           `json:"regionPrefix,omitempty"`
	LegsInWindow int              `json:"legsInWindow"`
	RowCounts    models.RowCounts `json:"rowCounts"`
	CompletedAt  time.Time        `json:"completedAt"`
}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
	Close()
}

type NATSPublisher struct {
	nc      conn
	subject string
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewPublisher connects to url. An empty url yields a publisher that does nothing.
func NewPublisher(url, subjectPrefix string, logger *logging.StructuredLogger, m *metrics.Collector) (Publisher, error) {
	if strings.TrimSpace(url) == "" {
		return NopPublisher{}, nil
	}

	ctx := context.Background()
	nc, err := nats.Connect(url,
		nats.Name("mobility-rollups"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn(ctx, "[NATS_DISCONNECTED] Connection lost", logging.Fields{"error": fmt.Sprint(err)})
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(ctx, "[NATS_RECONNECTED] Connection restored", logging.Fields{"url": c.ConnectedUrl()})
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Debug(ctx, "[NATS_CLOSED] Connection closed", nil)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return newNATSPublisher(nc, subjectPrefix, logger, m), nil
}

func newNATSPublisher(nc conn, subjectPrefix string, logger *logging.StructuredLogger, m *metrics.Collector) *NATSPublisher {
	return &NATSPublisher{
		nc:      nc,
		subject: RefreshSubject(subjectPrefix),
		logger:  logger,
		metrics: m,
	}
}

// RefreshSubject is "<prefix>.refresh.completed".
func RefreshSubject(prefix string) string {
	return subjectToken(prefix) + ".refresh.completed"
}

// PublishRefresh publishes ev and waits for the server to acknowledge the flush.
func (p *NATSPublisher) PublishRefresh(ctx context.Context, ev RefreshEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode refresh event: %w", err)
	}

	err = p.nc.Publish(p.subject, b)
	if err == nil {
		err = p.nc.FlushWithContext(ctx)
	}
	if err != nil {
		p.metrics.NotifyErrors.Inc()
		return fmt.Errorf("failed to publish refresh event: %w", err)
	}

	p.metrics.NotifyPublished.Inc()
	p.logger.Debug(ctx, "[NATS_PUBLISH] Refresh event published", logging.Fields{
		"subject": p.subject,
		"run_id":  ev.RunID,
	})
	return nil
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// NopPublisher is used when no NATS server is configured.
type NopPublisher struct{}

func (NopPublisher) PublishRefresh(context.Context, RefreshEvent) error { return nil }

func (NopPublisher) Close() {}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
