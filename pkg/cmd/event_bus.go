package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/pumba68/qatering-journeys/pkg/channels/gochannel"
	"github.com/pumba68/qatering-journeys/pkg/channels/kafka"
	"github.com/pumba68/qatering-journeys/pkg/eventbus"
)

// NewEventBus builds the event bus for a binary. "kafka" talks to the
// brokers named by KAFKA_BROKERS; "memory" runs an in-process GoChannel
// bus for tests and single-binary setups.
func NewEventBus(transport, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch transport {
	case "kafka":
		publisher, subscriber, err := kafka.CreateChannel(wmLogger, serviceName)
		if err != nil {
			return nil, fmt.Errorf("creating kafka channel: %w", err)
		}

		return eventbus.NewWatermillEventBus(publisher, subscriber), nil
	case "memory", "gochannel":
		publisher, subscriber, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("creating gochannel: %w", err)
		}

		return eventbus.NewWatermillEventBus(publisher, subscriber), nil
	default:
		return nil, fmt.Errorf("unsupported event bus transport %q", transport)
	}
}
