package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ptz-panel/internal/mqtt"
)

// MQTTSink publishes snapshots as JSON to <prefix>/telemetry.
type MQTTSink struct {
	client mqtt.ClientAPI
	topic  string
}

// NewMQTTSink returns a sink publishing under prefix.
func NewMQTTSink(client mqtt.ClientAPI, prefix string) *MQTTSink {
	return &MQTTSink{client: client, topic: prefix + "/telemetry"}
}

func (m *MQTTSink) Push(s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := m.client.Publish(m.topic, data); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	return nil
}

// RedisClient is the subset of *redis.Client the Redis sink uses.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisSink publishes snapshots on a channel and keeps the latest one under
// <channel>:last.
type RedisSink struct {
	client  RedisClient
	channel string
	timeout time.Duration
}

// NewRedisSink returns a sink publishing on channel.
func NewRedisSink(client RedisClient, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel, timeout: time.Second}
}

func (r *RedisSink) Push(s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.channel+":last", data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store last snapshot: %w", err)
	}
	return nil
}
