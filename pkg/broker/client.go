// Package broker is the adapter for the Redis streams that connect the
// pipeline stages. Each stage shares one Client; records move between
// streams with an append-then-delete pair that preserves at-least-once
// delivery.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spamwatch/spamwatch/pkg/config"
)

// Stream names connecting the pipeline stages, in flow order.
const (
	StreamEvent          = "event"
	StreamVerification   = "verification"
	StreamRetrieval      = "retrieval"
	StreamClassification = "classification"
)

// ErrNoMessages is returned by ReadOne when the blocking window elapsed
// without a pending record.
var ErrNoMessages = errors.New("no messages pending")

// Message is a single record read from a stream. Kind is the record's
// single field name and Payload its value.
type Message struct {
	ID      string
	Kind    string
	Payload []byte
}

// Client wraps the Redis connection used for stream operations.
type Client struct {
	rdb redis.UniversalClient
}

// Connect builds the Redis client for the configured mode and verifies the
// connection with a ping. A failed ping is fatal to stage startup.
func Connect(ctx context.Context, cfg config.BrokerConfig) (*Client, error) {
	var rdb redis.UniversalClient
	switch cfg.Mode {
	case config.BrokerModeSentinel:
		rdb = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       cfg.MasterSet,
			SentinelAddrs:    cfg.SentinelHosts,
			SentinelPassword: cfg.SentinelPassword,
			Password:         cfg.Password,
			DB:               cfg.DB,
		})
	default:
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging broker: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// NewWithClient wraps an existing Redis client. Used by tests with miniredis.
func NewWithClient(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Append adds one {kind: payload} record to the named stream.
func (c *Client) Append(ctx context.Context, stream, kind string, payload []byte) error {
	err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{kind: string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("appending to stream %s: %w", stream, err)
	}
	return nil
}

// ReadOne reads the oldest pending record from the stream, blocking up to
// the given window. Reading always starts from position 0: deletion is the
// ack, so undeleted records are redelivered on the next read.
func (c *Client) ReadOne(ctx context.Context, stream string, block time.Duration) (*Message, error) {
	streams, err := c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, "0"},
		Count:   1,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoMessages
	}
	if err != nil {
		return nil, fmt.Errorf("reading stream %s: %w", stream, err)
	}

	for _, s := range streams {
		for _, m := range s.Messages {
			for field, value := range m.Values {
				raw, ok := value.(string)
				if !ok {
					return nil, fmt.Errorf("stream %s message %s: unexpected value type %T", stream, m.ID, value)
				}
				return &Message{ID: m.ID, Kind: field, Payload: []byte(raw)}, nil
			}
		}
	}
	return nil, ErrNoMessages
}

// Ack deletes a processed record from its stream.
func (c *Client) Ack(ctx context.Context, stream, id string) error {
	if err := c.rdb.XDel(ctx, stream, id).Err(); err != nil {
		return fmt.Errorf("deleting %s from stream %s: %w", id, stream, err)
	}
	return nil
}

// Len returns the number of records currently on the stream. Used for
// queue-size gauges.
func (c *Client) Len(ctx context.Context, stream string) (int64, error) {
	n, err := c.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("measuring stream %s: %w", stream, err)
	}
	return n, nil
}
