package txn

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

const (
	// ChannelPrefix prefixes the Pub/Sub channel of each status.
	ChannelPrefix = "microinsure:tx:"
	// ChannelPattern matches every status channel.
	ChannelPattern = ChannelPrefix + "*"
	// JournalStream records every transition.
	JournalStream = "microinsure:txjournal"
)

// Channel returns the Pub/Sub channel for status.
func Channel(s Status) string { return ChannelPrefix + string(s) }

// Broker is the subset of the Redis client the publisher needs.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{})
	XAdd(ctx context.Context, stream string, values map[string]interface{}) string
}

// Publisher forwards coordinator updates to Redis so other processes can
// stream them. Delivery is best-effort.
type Publisher struct {
	broker  Broker
	logger  *zap.Logger
	timeout time.Duration
}

// NewPublisher returns a Publisher over broker.
func NewPublisher(broker Broker, logger *zap.Logger) *Publisher {
	return &Publisher{broker: broker, logger: logger, timeout: 2 * time.Second}
}

// Observe is a Coordinator subscriber.
func (p *Publisher) Observe(u Update) {
	payload, err := json.Marshal(u)
	if err != nil {
		p.logger.Warn("Failed to encode transaction update", zap.String("tx_id", u.TxID), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	p.broker.Publish(ctx, Channel(u.Status), payload)
	p.broker.XAdd(ctx, JournalStream, map[string]interface{}{
		"tx_id":   u.TxID,
		"action":  u.Action,
		"status":  string(u.Status),
		"message": u.Message,
		"at":      u.At.UnixMilli(),
	})
}
