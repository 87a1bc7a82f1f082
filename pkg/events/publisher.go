package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Domain event types published after a transaction commits.
const (
	TypeSessionsCreated       = "sessions.created"
	TypeSessionStatusChanged  = "sessions.status_changed"
	TypeSessionsCancelled     = "sessions.cancelled"
	TypeCreditsChanged        = "credits.changed"
	TypeEnrollmentCreated     = "enrollments.created"
	TypeEnrollmentCompleted   = "enrollments.completed"
	TypeProgramCreated        = "programs.created"
	TypeCancellationRequested = "cancellations.requested"
	TypeCancellationReviewed  = "cancellations.reviewed"
)

// Event is the JSON envelope written to NATS.
type Event struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// Publisher writes domain events to NATS subjects under a common prefix.
// A Publisher without a connection drops events silently.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// Connect opens a NATS connection that keeps reconnecting in the background.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return nats.Connect(url,
		nats.Name("tutorhub-api"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", conn.ConnectedUrl()))
		}),
	)
}

// NewPublisher constructs a Publisher.
func NewPublisher(conn *nats.Conn, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "tutorhub"
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the NATS subject used for eventType.
func (p *Publisher) Subject(eventType string) string {
	return fmt.Sprintf("%s.%s", p.prefix, eventType)
}

// Publish marshals data into an Event and publishes it.
func (p *Publisher) Publish(ctx context.Context, eventType string, data interface{}) error {
	if p == nil || p.conn == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", eventType, err)
	}

	if err := p.conn.Publish(p.Subject(eventType), payload); err != nil {
		return fmt.Errorf("publish event %s: %w", eventType, err)
	}
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("nats drain failed", zap.Error(err))
	}
}
