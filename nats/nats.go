package nats

import (
	"context"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

var (
	// NC is the global NATS connection
	NC *nats.Conn
)

// Connect initializes the global NATS connection
func Connect(natsURL string) error {
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}

	var err error
	NC, err = nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("connecting to NATS at %s: %w", natsURL, err)
	}

	log.Println("NATS connection established:", natsURL)
	return nil
}

// Close closes the global NATS connection
func Close() {
	if NC != nil {
		NC.Close()
		log.Println("NATS connection closed")
	}
}

// CreateDurableConsumer creates (or looks up) a durable JetStream consumer
// filtered to the deployment request subject.
func CreateDurableConsumer(ctx context.Context, streamName, consumerName, filterSubject string) (jetstream.Consumer, error) {
	js, err := jetstream.New(NC)
	if err != nil {
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	stream, err := js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("looking up stream %s: %w", streamName, err)
	}

	cons, err := stream.CreateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: filterSubject,
	})
	if err != nil {
		return nil, fmt.Errorf("creating consumer %s: %w", consumerName, err)
	}
	return cons, nil
}

// Publish sends a payload to a JetStream subject. Used to publish deployment
// records for downstream automation.
func Publish(ctx context.Context, subject string, data []byte) error {
	js, err := jetstream.New(NC)
	if err != nil {
		return fmt.Errorf("creating JetStream context: %w", err)
	}
	if _, err := js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
