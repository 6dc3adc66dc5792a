package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the analysis lifecycle.
const (
	TopicAnalysisRequested = "analysis.requested"
	TopicAnalysisCompleted = "analysis.completed"
	TopicAnalysisAlert     = "analysis.alert"
)

// TenantWildcard subscribes to a topic across every tenant. It is the
// NATS single-token wildcard, and the channel bus fans published
// messages out to wildcard subscribers alongside exact-tenant ones.
const TenantWildcard = "*"

// AnalysisRequest is the payload published on TopicAnalysisRequested.
// The CSV body rides along so workers need no shared filesystem.
type AnalysisRequest struct {
	AnalysisID string `json:"analysis_id"`
	TenantID   string `json:"tenant_id"`
	Filename   string `json:"filename,omitempty"`
	CSV        []byte `json:"csv"`
}

// AnalysisCompleted is the payload published on TopicAnalysisCompleted
// and TopicAnalysisAlert.
type AnalysisCompleted struct {
	AnalysisID string         `json:"analysis_id"`
	TenantID   string         `json:"tenant_id"`
	Status     AnalysisStatus `json:"status"`
	Error      string         `json:"error,omitempty"`
	Summary    *Summary       `json:"summary,omitempty"`
	MaxRisk    float64        `json:"max_risk"`
}
