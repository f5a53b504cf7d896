// Package events fans committed workflow events out through Redis.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"shipflow/api/internal/workflow"
)

const (
	defaultPrefix = "shipflow:"
	defaultKeep   = 200
)

// Message is the wire form of a workflow event on the feed.
type Message struct {
	ID           string             `json:"id"`
	Type         workflow.EventType `json:"type"`
	ShipmentID   string             `json:"shipmentId"`
	Actor        string             `json:"actor"`
	Stage        int                `json:"stage"`
	Document     string             `json:"document,omitempty"`
	At           time.Time          `json:"at"`
	CurrentStage int                `json:"currentStage"`
	Finalized    bool               `json:"finalized"`
}

// RedisFeed publishes events on a channel and keeps a capped per-shipment
// list of recent ones.
type RedisFeed struct {
	client *redis.Client
	prefix string
	keep   int64
}

// NewRedisFeed connects to redisURL and verifies the connection.
func NewRedisFeed(redisURL string) (*RedisFeed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisFeedWithClient(client), nil
}

func NewRedisFeedWithClient(client *redis.Client) *RedisFeed {
	return &RedisFeed{
		client: client,
		prefix: defaultPrefix,
		keep:   defaultKeep,
	}
}

// Channel is the pub/sub channel every event is published on.
func (f *RedisFeed) Channel() string {
	return f.prefix + "events"
}

func (f *RedisFeed) listKey(shipmentID string) string {
	return f.prefix + "events:" + shipmentID
}

func (f *RedisFeed) HandleEvent(ctx context.Context, event workflow.Event) error {
	payload, err := json.Marshal(toMessage(event))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := f.listKey(event.ShipmentID)
	pipe := f.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, f.keep-1)
	pipe.Publish(ctx, f.Channel(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	return nil
}

// Recent returns up to limit events of a shipment, newest first.
func (f *RedisFeed) Recent(ctx context.Context, shipmentID string, limit int) ([]Message, error) {
	if limit <= 0 || int64(limit) > f.keep {
		limit = int(f.keep)
	}
	raw, err := f.client.LRange(ctx, f.listKey(shipmentID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read recent events: %w", err)
	}
	items := make([]Message, 0, len(raw))
	for _, entry := range raw {
		var msg Message
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		items = append(items, msg)
	}
	return items, nil
}

// Subscribe streams every published event until ctx is cancelled.
func (f *RedisFeed) Subscribe(ctx context.Context) (<-chan Message, error) {
	pubsub := f.client.Subscribe(ctx, f.Channel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", f.Channel(), err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (f *RedisFeed) Close() error {
	return f.client.Close()
}

func (f *RedisFeed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

func toMessage(event workflow.Event) Message {
	return Message{
		ID:           event.ID,
		Type:         event.Type,
		ShipmentID:   event.ShipmentID,
		Actor:        event.Actor,
		Stage:        event.Stage,
		Document:     event.Document,
		At:           event.At,
		CurrentStage: event.Shipment.CurrentStage,
		Finalized:    event.Shipment.Finalized,
	}
}
