// Package kafka provides the Kafka channel the engine uses in production.
package kafka

import (
	"errors"
	"os"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
)

const brokersEnv = "KAFKA_BROKERS"

// brokerList parses the comma-separated broker addresses from the
// environment, dropping empty entries left by stray commas.
func brokerList() ([]string, error) {
	var brokers []string
	for _, broker := range strings.Split(os.Getenv(brokersEnv), ",") {
		broker = strings.TrimSpace(broker)
		if broker != "" {
			brokers = append(brokers, broker)
		}
	}

	if len(brokers) == 0 {
		return nil, errors.New(brokersEnv + " environment variable is not set or empty")
	}

	return brokers, nil
}

// CreateChannel builds the publisher and subscriber pair for one engine
// service. Each service gets its own consumer group so the engine, the
// evaluator and the API consume journey events independently.
func CreateChannel(logger watermill.LoggerAdapter, serviceName string) (*kafka.Publisher, *kafka.Subscriber, error) {
	brokers, err := brokerList()
	if err != nil {
		return nil, nil, err
	}

	subscriberConfig := kafka.DefaultSaramaSubscriberConfig()
	subscriberConfig.ClientID = "qatering-journeys-" + serviceName
	subscriberConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: subscriberConfig,
			ConsumerGroup:         "journeys-" + serviceName,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		return nil, nil, err
	}

	// Wake claims rely on exactly-once hand-off between the scheduler and
	// the executor, so the producer is idempotent and waits for a full
	// ISR ack before reporting success.
	publisherConfig := sarama.NewConfig()
	publisherConfig.ClientID = "qatering-journeys-" + serviceName
	publisherConfig.Version = sarama.V2_1_0_0
	publisherConfig.Producer.Return.Successes = true
	publisherConfig.Producer.RequiredAcks = sarama.WaitForAll
	publisherConfig.Producer.Idempotent = true
	publisherConfig.Net.MaxOpenRequests = 1

	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: publisherConfig,
			OTELEnabled:           true,
		},
		logger,
	)
	if err != nil {
		return nil, nil, err
	}

	return publisher, subscriber, nil
}
