// Package publisher forwards created events to the fleet message bus.
package publisher

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog/log"

	"DRIVER_MONITOR/go-backend/internal/models"
)

const flushTimeout = 5 * time.Second

// EventMessage is the bus representation of a DrowsinessEvent.
type EventMessage struct {
	ID          string  `json:"id"`
	VehicleID   string  `json:"vehicle_id"`
	TimestampMS int64   `json:"timestamp_ms"`
	EventType   string  `json:"event_type"`
	EAR         float64 `json:"ear"`
	MAR         float64 `json:"mar"`
	Image       string  `json:"image"`
	Device      string  `json:"device,omitempty"`
}

// Encode builds the message key and JSON payload for e.
func Encode(e models.DrowsinessEvent, device string) (key, value []byte, err error) {
	value, err = json.Marshal(EventMessage{
		ID:          e.ID.String(),
		VehicleID:   e.VehicleID,
		TimestampMS: e.Timestamp.UnixMilli(),
		EventType:   string(e.EventType),
		EAR:         e.EAR,
		MAR:         e.MAR,
		Image:       e.ImagePath,
		Device:      device,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode event: %w", err)
	}
	return []byte(e.VehicleID), value, nil
}

// KafkaPublisher produces one message per event, keyed by vehicle id so a
// vehicle's events stay ordered within a partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	device   string
	delivery chan kafka.Event

	sent   atomic.Int64
	acked  atomic.Int64
	failed atomic.Int64

	wg   sync.WaitGroup
	once sync.Once
}

func NewKafkaPublisher(brokers, topic, device string) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":   brokers,
		"acks":                "all",
		"enable.idempotence":  true,
		"linger.ms":           20,
		"compression.type":    "snappy",
		"request.timeout.ms":  30000,
		"delivery.timeout.ms": 120000,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	kp := &KafkaPublisher{
		producer: p,
		topic:    topic,
		device:   device,
		delivery: make(chan kafka.Event, 256),
	}
	kp.wg.Add(1)
	go kp.handleDeliveryReports()

	log.Info().Str("brokers", brokers).Str("topic", topic).Msg("Kafka publisher initialized")
	return kp, nil
}

func (kp *KafkaPublisher) handleDeliveryReports() {
	defer kp.wg.Done()
	for e := range kp.delivery {
		m, ok := e.(*kafka.Message)
		if !ok {
			continue
		}
		if m.TopicPartition.Error != nil {
			kp.failed.Add(1)
			log.Error().Err(m.TopicPartition.Error).Str("key", string(m.Key)).Msg("Event delivery failed")
			continue
		}
		kp.acked.Add(1)
		log.Debug().Int32("partition", m.TopicPartition.Partition).Str("offset", m.TopicPartition.Offset.String()).Msg("Event delivered")
	}
}

// Publish enqueues e for delivery. It does not wait for the broker.
func (kp *KafkaPublisher) Publish(e models.DrowsinessEvent) error {
	key, value, err := Encode(e, kp.device)
	if err != nil {
		return err
	}
	err = kp.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &kp.topic, Partition: kafka.PartitionAny},
		Key:            key,
		Value:          value,
		Timestamp:      e.Timestamp,
	}, kp.delivery)
	if err != nil {
		kp.failed.Add(1)
		return fmt.Errorf("produce event %s: %w", e.ID, err)
	}
	kp.sent.Add(1)
	return nil
}

// Stats returns sent, acknowledged and failed message counts.
func (kp *KafkaPublisher) Stats() (sent, acked, failed int64) {
	return kp.sent.Load(), kp.acked.Load(), kp.failed.Load()
}

// Close flushes outstanding messages and releases the producer.
func (kp *KafkaPublisher) Close() {
	kp.once.Do(func() {
		if remaining := kp.producer.Flush(int(flushTimeout.Milliseconds())); remaining > 0 {
			log.Warn().Int("remaining", remaining).Msg("Kafka flush timed out")
		}
		kp.producer.Close()
		close(kp.delivery)
		kp.wg.Wait()
	})
}
