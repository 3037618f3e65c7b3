package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/pesio-ai/be-procurement-cases/internal/common/logger"
	"github.com/pesio-ai/be-procurement-cases/internal/repository"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "notifications.pr"

// natsConn is the part of *nats.Conn the publisher needs.
type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher forwards notifications to NATS for consumption by other
// services.
//
// Subject convention: <prefix>.<user_id>
//
// All publish operations are non-fatal: errors are logged but never
// propagated to the caller.
type NATSPublisher struct {
	conn   natsConn
	prefix string
	log    *logger.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string `json:"event_type"`
	Notification string `json:"notification_id"`
	Recipient    string `json:"recipient"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Title        string `json:"title"`
	Body         string `json:"body"`
	Severity     string `json:"severity,omitempty"`
	Category     string `json:"category,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// NewNATSPublisher creates a publisher backed by conn. A nil conn makes every
// publish a no-op.
func NewNATSPublisher(conn *nats.Conn, prefix string, log *logger.Logger) *NATSPublisher {
	p := newNATSPublisher(nil, prefix, log)
	if conn != nil {
		p.conn = conn
	}
	return p
}

func newNATSPublisher(conn natsConn, prefix string, log *logger.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if log == nil {
		log = logger.Nop()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, log: log.With("nats_publisher")}
}

// Connect dials NATS with reconnect handlers that log through log.
func Connect(url, name string, log *logger.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return conn, nil
}

// Subject returns the subject notifications for userID are published on.
func (p *NATSPublisher) Subject(userID string) string {
	return fmt.Sprintf("%s.%s", p.prefix, userID)
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, n *repository.Notification) {
	if p.conn == nil {
		return
	}

	event := &NotificationEvent{
		EventType:    n.Type,
		Notification: n.ID,
		Recipient:    n.UserID,
		Title:        n.Title,
		Body:         n.Body,
		Severity:     n.Severity,
		Category:     "procurement",
		CreatedAt:    n.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if n.CaseID != nil {
		event.ResourceType = "case"
		event.ResourceID = *n.CaseID
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", n.Type).Msg("notification: failed to marshal event")
		return
	}

	subject := p.Subject(n.UserID)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("notification_id", n.ID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("notification_id", n.ID).
		Msg("notification: event published")
}
