// Package events publishes the outcome of sync attempts to external systems:
// an AMQP exchange for downstream consumers and mail for operators.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contactdir/contactdir-server/internal/config"
	"github.com/contactdir/contactdir-server/internal/status"
)

//go:generate mockgen -destination=mocks/mock_publisher.go -package=mocks -source=events.go Publisher

// Type is the type of a sync event
type Type string

const (
	// TypeSyncSucceeded is published when an attempt ends in Success
	TypeSyncSucceeded Type = "sync.succeeded"
	// TypeSyncFailed is published when an attempt ends in Failed
	TypeSyncFailed Type = "sync.failed"
	// TypeSyncCancelled is published when an attempt is stopped
	TypeSyncCancelled Type = "sync.cancelled"
)

// TypeFor returns the event type of a finished attempt's state
func TypeFor(state *status.SyncState) Type {
	switch state.Status {
	case status.StatusSuccess:
		return TypeSyncSucceeded
	case status.StatusFailed:
		return TypeSyncFailed
	default:
		return TypeSyncCancelled
	}
}

// Event describes the end of a sync attempt
type Event struct {
	Type          Type              `json:"type"`
	DirectoryName string            `json:"directoryName"`
	AttemptID     string            `json:"attemptId"`
	State         *status.SyncState `json:"state"`
	OccurredAt    time.Time         `json:"occurredAt"`
}

// Publisher delivers sync events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type noopPublisher struct{}

// NewNoopPublisher returns a publisher that drops every event
func NewNoopPublisher() Publisher {
	return noopPublisher{}
}

func (noopPublisher) Publish(context.Context, Event) error { return nil }
func (noopPublisher) Close() error                         { return nil }

type multiPublisher []Publisher

// NewMultiPublisher fans events out to every publisher
func NewMultiPublisher(publishers ...Publisher) Publisher {
	return multiPublisher(publishers)
}

func (m multiPublisher) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New builds the publishers configured in cfg. A nil config yields a no-op publisher.
func New(cfg *config.EventsConfig) (Publisher, error) {
	if cfg == nil || (cfg.AMQP == nil && cfg.Mail == nil) {
		return NewNoopPublisher(), nil
	}

	var publishers []Publisher
	if cfg.AMQP != nil {
		p, err := NewAMQPPublisher(cfg.AMQP)
		if err != nil {
			return nil, fmt.Errorf("failed to create AMQP publisher: %w", err)
		}
		publishers = append(publishers, p)
	}
	if cfg.Mail != nil {
		p, err := NewMailNotifier(cfg.Mail)
		if err != nil {
			_ = NewMultiPublisher(publishers...).Close()
			return nil, fmt.Errorf("failed to create mail notifier: %w", err)
		}
		publishers = append(publishers, p)
	}

	if len(publishers) == 1 {
		return publishers[0], nil
	}
	return NewMultiPublisher(publishers...), nil
}
