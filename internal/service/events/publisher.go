package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/zhouzirui/aaroh/backend/internal/model/practice"
)

// Subjects for terminal session outcomes.
const (
	SubjectDelivered = "practice.session.delivered"
	SubjectFailed    = "practice.session.failed"
)

// Delivered is published once a summary reached the client.
type Delivered struct {
	SessionID string                   `json:"session_id"`
	Summary   practice.FeedbackSummary `json:"summary"`
	Timestamp time.Time                `json:"timestamp"`
}

// Failed is published when a session ends in the failed stage.
type Failed struct {
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher fans terminal session outcomes out to other services.
type Publisher interface {
	Delivered(Delivered) error
	Failed(Failed) error
	Close()
}

type conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes outcomes as JSON on NATS subjects.
type NATSPublisher struct {
	conn   conn
	close  func()
	logger *slog.Logger
}

// Connect dials url. The connection keeps retrying in the background, so a
// broker that is down at startup does not block the service.
func Connect(url, token string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "events"))

	opts := []nats.Option{
		nats.Name("aaroh-practice"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{conn: nc, close: nc.Close, logger: logger}, nil
}

func (p *NATSPublisher) Delivered(ev Delivered) error {
	return p.publish(SubjectDelivered, ev)
}

func (p *NATSPublisher) Failed(ev Failed) error {
	return p.publish(SubjectFailed, ev)
}

func (p *NATSPublisher) publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	if p.close != nil {
		p.close()
	}
}

// Noop discards every event. Used when no broker is configured.
type Noop struct{}

func (Noop) Delivered(Delivered) error { return nil }
func (Noop) Failed(Failed) error       { return nil }
func (Noop) Close()                    {}
