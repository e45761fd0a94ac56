package stream

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const bridgeChannel = "stream_fanout"

// bridgeEnvelope carries one bus message between instances. Payload is kept
// as raw JSON on the receive side; subscribers get it as json.RawMessage.
type bridgeEnvelope struct {
	Instance string          `json:"instance"`
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload"`
}

// Bridge extends the in-process Bus across server instances through Redis
// pub/sub. Local delivery always happens first, so a Redis outage degrades
// to single-instance behavior instead of dropping messages.
type Bridge struct {
	local    *Bus
	rdb      *redis.Client
	instance string
	logger   *zap.Logger
}

func NewBridge(local *Bus, rdb *redis.Client, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		local:    local,
		rdb:      rdb,
		instance: uuid.NewString(),
		logger:   logger.Named("snapshot.bridge"),
	}
}

func (b *Bridge) Publish(key string, payload any) {
	b.local.Publish(key, payload)

	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("bridge payload marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	envelope, err := json.Marshal(bridgeEnvelope{Instance: b.instance, Key: key, Payload: data})
	if err != nil {
		b.logger.Warn("bridge envelope marshal failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := b.rdb.Publish(context.Background(), bridgeChannel, envelope).Err(); err != nil {
		b.logger.Warn("bridge redis publish failed, delivered locally only",
			zap.String("key", key), zap.Error(err))
	}
}

// Start consumes the fan-out channel until ctx is cancelled, republishing
// remote messages onto the local bus.
func (b *Bridge) Start(ctx context.Context) {
	sub := b.rdb.Subscribe(ctx, bridgeChannel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.handleMessage([]byte(msg.Payload))
			}
		}
	}()
}

func (b *Bridge) handleMessage(data []byte) {
	var envelope bridgeEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		b.logger.Warn("bridge received malformed message", zap.Error(err))
		return
	}
	// Skip messages we published ourselves; those were delivered locally.
	if envelope.Instance == b.instance {
		return
	}
	b.local.Publish(envelope.Key, envelope.Payload)
}
