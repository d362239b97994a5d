package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const streamChannelPrefix = "stream:"

// RedisRegistry decorates a local Registry with Redis pub/sub so that a
// broadcast on one instance reaches viewers connected to other instances.
// Join and Leave stay local (each instance only writes to its own sockets);
// Broadcast publishes to Redis and the subscriber loop delivers to the local
// member sets, including the publishing instance's own.
type RedisRegistry struct {
	local *Registry
	rdb   *redis.Client

	ctx    context.Context
	cancel context.CancelFunc
	pubsub *redis.PubSub
}

func NewRedisRegistry(local *Registry, rdb *redis.Client) *RedisRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisRegistry{
		local:  local,
		rdb:    rdb,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *RedisRegistry) Join(streamID uint, conn Conn) {
	r.local.Join(streamID, conn)
}

func (r *RedisRegistry) Leave(streamID uint, conn Conn) {
	r.local.Leave(streamID, conn)
}

// Broadcast publishes the payload to the stream's Redis channel. Local
// delivery happens when the message comes back through the subscriber, which
// keeps delivery exactly-once per instance. If the publish fails, the local
// viewers are served directly so a Redis outage degrades to single-instance
// behavior instead of silence.
func (r *RedisRegistry) Broadcast(streamID uint, payload []byte) {
	channel := streamChannelPrefix + strconv.FormatUint(uint64(streamID), 10)
	if err := r.rdb.Publish(r.ctx, channel, payload).Err(); err != nil {
		slog.Error("Redis publish failed, broadcasting locally", "streamID", streamID, "error", err)
		r.local.Broadcast(streamID, payload)
	}
}

// Run subscribes to all stream channels and delivers incoming messages to the
// local registry until the context is cancelled or Stop is called.
func (r *RedisRegistry) Run() error {
	r.pubsub = r.rdb.PSubscribe(r.ctx, streamChannelPrefix+"*")

	// Fail fast if the subscription could not be established.
	if _, err := r.pubsub.Receive(r.ctx); err != nil {
		return fmt.Errorf("subscribe to stream channels: %w", err)
	}

	ch := r.pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			streamID, err := parseStreamChannel(msg.Channel)
			if err != nil {
				slog.Error("Ignoring message on unexpected channel", "channel", msg.Channel, "error", err)
				continue
			}
			r.local.Broadcast(streamID, []byte(msg.Payload))

		case <-r.ctx.Done():
			return nil
		}
	}
}

// Stop terminates the subscriber loop and closes the subscription.
func (r *RedisRegistry) Stop() {
	r.cancel()
	if r.pubsub != nil {
		r.pubsub.Close()
	}
}

func parseStreamChannel(channel string) (uint, error) {
	raw, ok := strings.CutPrefix(channel, streamChannelPrefix)
	if !ok {
		return 0, fmt.Errorf("channel %q lacks prefix %q", channel, streamChannelPrefix)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("channel %q has non-numeric stream id: %w", channel, err)
	}
	return uint(id), nil
}
