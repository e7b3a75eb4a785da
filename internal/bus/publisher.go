// Package bus mirrors accepted engagement observations onto NATS so other
// processes can consume the live stream.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"classlens/pkg/types"
)

// publisher is the subset of *nats.Conn the mirror needs
type publisher interface {
	Publish(subject string, data []byte) error
}

// Publisher implements engagement.Subscriber over a NATS connection
type Publisher struct {
	nc     *nats.Conn
	pub    publisher
	prefix string
	logger *slog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// Connect dials url and returns a Publisher. An empty url yields a disabled
// publisher whose Observe is a no-op.
func Connect(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = "classlens"
	}
	if url == "" {
		logger.Info("NATS mirror disabled")
		return &Publisher{prefix: prefix, logger: logger}, nil
	}

	nc, err := nats.Connect(url,
		nats.Name("classlens"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	p := newPublisher(nc, prefix, logger)
	p.nc = nc
	return p, nil
}

func newPublisher(pub publisher, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{pub: pub, prefix: prefix, logger: logger}
}

// Subject returns the subject an update for sessionID is published on
func (p *Publisher) Subject(sessionID string) string {
	return p.prefix + ".engagement." + escapeToken(sessionID)
}

// Observe publishes the update; failures are logged and counted, never returned
// FUNCTIONAL DISCOVERY: The mirror is best-effort and must not fail ingestion
func (p *Publisher) Observe(update types.EngagementUpdatePayload) {
	if p.pub == nil {
		return
	}

	data, err := json.Marshal(update)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("failed to encode engagement update", "error", err)
		return
	}

	subject := p.Subject(update.SessionID)
	if err := p.pub.Publish(subject, data); err != nil {
		p.failed.Add(1)
		p.logger.Warn("failed to publish engagement update",
			"subject", subject,
			"session_id", update.SessionID,
			"error", err)
		return
	}
	p.published.Add(1)
}

// Enabled reports whether a connection was configured
func (p *Publisher) Enabled() bool {
	return p.pub != nil
}

// GetStats returns publish counters
func (p *Publisher) GetStats() map[string]int {
	return map[string]int{
		"published": int(p.published.Load()),
		"failed":    int(p.failed.Load()),
	}
}

// Close drains pending publishes and closes the connection
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// escapeToken turns a session id into a single subject token.
// '.', '*', '>', '%' and whitespace become %XX, so distinct ids never share a subject
// TECHNICAL DISCOVERY: Session ids may contain '.', which NATS treats as a
// token separator
func escapeToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '.', '*', '>', '%', ' ', '\t', '\r', '\n':
			fmt.Fprintf(&b, "%%%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
