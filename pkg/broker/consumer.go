// Package broker consumes telemetry packets from a Kafka topic and feeds
// them into the ingestion router. It is the asynchronous counterpart of
// the HTTP ingress: the two paths converge on the same Ingest call.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"fleetlink/pkg/telemetry"
)

// compressedHeader marks a message payload as delta-encoded. Messages
// without the header default to compressed, since the edge encoder only
// publishes compressed packets; legacy replays set it to "0".
const compressedHeader = "compressed"

// Ingester is the router-side entry point the consumer feeds.
type Ingester interface {
	Ingest(raw []byte, vin string, compressed bool) (telemetry.Sample, error)
}

// Config holds the Kafka consumer settings.
type Config struct {
	// Brokers is the bootstrap server list. Empty disables the consumer.
	Brokers string

	Topic   string
	GroupID string

	// PollTimeout bounds each poll so a stop request is observed
	// promptly. Defaults to one second.
	PollTimeout time.Duration
}

// Consumer runs the background intake loop. Delivery is at-least-once:
// offsets auto-commit, and a crash between processing and commit can
// replay a message. Reconstruction tolerates that — a replays only nudges
// the predictor smoothing, it cannot corrupt state.
type Consumer struct {
	consumer    *kafka.Consumer
	topic       string
	pollTimeout time.Duration
	ingester    Ingester
}

// NewConsumer connects to the broker and joins the consumer group. A
// connection-level failure here is the one fatal broker condition; the
// caller logs it and runs without the consumer rather than crashing,
// since the HTTP ingress stays independently functional.
func NewConsumer(cfg Config, ingester Ingester) (*Consumer, error) {
	if cfg.Brokers == "" {
		return nil, errors.New("broker: no bootstrap servers configured")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}

	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":    cfg.Brokers,
		"group.id":             cfg.GroupID,
		"auto.offset.reset":    "latest",
		"enable.auto.commit":   true,
		"enable.partition.eof": true,
	})
	if err != nil {
		return nil, fmt.Errorf("broker: create consumer: %w", err)
	}

	if err := consumer.SubscribeTopics([]string{cfg.Topic}, nil); err != nil {
		consumer.Close()
		return nil, fmt.Errorf("broker: subscribe %s: %w", cfg.Topic, err)
	}

	log.Printf("Broker consumer subscribed to %s (group %s)", cfg.Topic, cfg.GroupID)
	return &Consumer{
		consumer:    consumer,
		topic:       cfg.Topic,
		pollTimeout: cfg.PollTimeout,
		ingester:    ingester,
	}, nil
}

// Run polls until ctx is cancelled. No single message's failure
// terminates the loop.
func (c *Consumer) Run(ctx context.Context) {
	log.Println("Broker consumer loop started")
	for {
		if ctx.Err() != nil {
			log.Println("Broker consumer loop stopped")
			return
		}

		event := c.consumer.Poll(int(c.pollTimeout.Milliseconds()))
		switch e := event.(type) {
		case nil:
			// Poll timeout; loop around and re-check the stop flag.

		case *kafka.Message:
			c.handleMessage(e)

		case kafka.PartitionEOF:
			// Caught up with the partition; keep polling.

		case kafka.Error:
			// Transient broker errors (including disconnects, which
			// the client retries internally): log and keep polling.
			log.Printf("Broker error (%s): %v", e.Code(), e)

		default:
			// Stats, rebalance notices, etc.
		}
	}
}

func (c *Consumer) handleMessage(msg *kafka.Message) {
	vin := string(msg.Key)
	compressed := true
	for _, h := range msg.Headers {
		if h.Key == compressedHeader {
			compressed = parseCompressed(h.Value)
		}
	}

	if _, err := c.ingester.Ingest(msg.Value, vin, compressed); err != nil {
		// Drop the message; the stream must keep flowing.
		log.Printf("Broker message rejected (vin %s, offset %v): %v", vin, msg.TopicPartition.Offset, err)
	}
}

// Close leaves the consumer group and releases the client.
func (c *Consumer) Close() error {
	return c.consumer.Close()
}

func parseCompressed(value []byte) bool {
	b, err := strconv.ParseBool(string(value))
	if err != nil {
		return true
	}
	return b
}
