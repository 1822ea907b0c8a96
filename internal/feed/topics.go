package feed

import (
	"context"
	"log"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/fieldtrack/tracker/internal/config"
)

// EnsureTopics creates the feed and DLQ topics if the cluster does not
// have them yet.
func EnsureTopics(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	bootstrap := cfg.KafkaBrokers[0]
	logger.Printf("[kafka] ensuring topics on bootstrap %s", bootstrap)

	conn, err := kafka.DialContext(ctx, "tcp", bootstrap)
	if err != nil {
		return err
	}
	defer conn.Close()

	exists := func(topic string) bool {
		parts, err := conn.ReadPartitions(topic)
		return err == nil && len(parts) > 0
	}

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	ctrlConn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer ctrlConn.Close()

	create := func(topic string, partitions int) error {
		if exists(topic) {
			logger.Printf("[kafka] topic %s already exists, skipping", topic)
			return nil
		}
		logger.Printf("[kafka] creating topic %s (partitions=%d rf=%d)", topic, partitions, cfg.KafkaReplicationFactor)
		return ctrlConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: cfg.KafkaReplicationFactor,
			ConfigEntries: []kafka.ConfigEntry{
				{ConfigName: "compression.type", ConfigValue: cfg.KafkaCompression},
			},
		})
	}

	if err := create(cfg.KafkaTopic, cfg.KafkaTopicPartitions); err != nil {
		return err
	}
	return create(cfg.KafkaDLQTopic, cfg.KafkaDLQPartitions)
}
