package propagate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel name used when none is set.
const DefaultRedisChannel = "benchsync:changes"

// RedisChannel is a Channel over Redis pub/sub, for windows running as
// separate processes on one device. Redis pub/sub is fire-and-forget, which
// is the at-most-once contract Channel promises.
type RedisChannel struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisChannel creates a channel publishing on name (DefaultRedisChannel
// when empty).
func NewRedisChannel(client *redis.Client, name string, logger *slog.Logger) *RedisChannel {
	if name == "" {
		name = DefaultRedisChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisChannel{client: client, channel: name, logger: logger}
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return client, nil
}

// Publish implements Channel.
func (c *RedisChannel) Publish(ctx context.Context, msg Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, c.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", c.channel, err)
	}
	return nil
}

// Subscribe implements Channel. It waits for the subscription to be
// confirmed so messages published after it returns are received.
func (c *RedisChannel) Subscribe(ctx context.Context) (<-chan Message, func(), error) {
	ps := c.client.Subscribe(ctx, c.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe %s: %w", c.channel, err)
	}

	out := make(chan Message)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			ps.Close()
		})
	}

	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				cancel()
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				msg, err := DecodeMessage([]byte(m.Payload))
				if err != nil {
					droppedTotal.WithLabelValues("redis").Inc()
					c.logger.Warn("dropping malformed broadcast", "channel", c.channel, "error", err)
					continue
				}
				select {
				case out <- msg:
				case <-done:
					return
				case <-ctx.Done():
					cancel()
					return
				}
			}
		}
	}()

	return out, cancel, nil
}
