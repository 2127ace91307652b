package messaging

import (
	"context"

	"github.com/feral-file/ff-gift-engine/internal/domain"
)

// Publisher defines the interface for publishing canonical events to the message broker
//
//go:generate mockgen -source=publisher.go -destination=../mocks/publisher.go -package=mocks -mock_names=Publisher=MockPublisher
type Publisher interface {
	// PublishEvent publishes a newly appended canonical event
	PublishEvent(ctx context.Context, event *domain.CanonicalEvent) error
	// Close closes the connection
	Close()
	// CloseChan returns a channel that is closed when the connection is closed
	CloseChan() <-chan struct{}
}
