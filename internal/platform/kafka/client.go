// Package kafka builds franz-go clients and bootstraps the topics the
// compliance pipeline publishes to and consumes from.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"fieldops/internal/platform/config"
)

// NewClient returns a connected client for cfg's brokers. Extra options such as
// consumer group membership are appended by the caller.
func NewClient(ctx context.Context, cfg config.KafkaConfig, opts ...kgo.Opt) (*kgo.Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("kafka brokers not configured")
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka ping failed: %w", err)
	}
	return client, nil
}

// EnsureTopics creates topics that do not exist yet. Existing topics are left untouched.
func EnsureTopics(ctx context.Context, client *kgo.Client, partitions int32, replication int16, topics ...string) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, topics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, t := range resp.Sorted() {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", t.Topic, t.Err)
		}
	}
	return nil
}
