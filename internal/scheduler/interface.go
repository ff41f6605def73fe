package scheduler

import "github.com/mattjoyce/saya/internal/events"

//go:generate mockgen -destination=mocks/mock_publisher.go -package=mocks github.com/mattjoyce/saya/internal/scheduler Publisher

// Publisher records scheduler activity. *events.Hub implements it.
type Publisher interface {
	Publish(eventType, module string, data any) events.Event
}
