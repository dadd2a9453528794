// Package events publishes post lifecycle notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/emilythestrangee/memories/backend/internal/models"
)

type Type string

const (
	PostCreated Type = "post.created"
	PostUpdated Type = "post.updated"
	PostDeleted Type = "post.deleted"
	PostLiked   Type = "post.liked"
)

// Event describes one committed change. Post is nil for deletions.
type Event struct {
	Type      Type         `json:"type"`
	PostID    string       `json:"postId"`
	Principal string       `json:"principal"`
	At        time.Time    `json:"at"`
	Post      *models.Post `json:"post,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Kafka writes events as JSON to a single topic, keyed by post id so all
// events for one post land on the same partition in order. Writes are
// asynchronous: Publish returns once the message is batched, and delivery
// failures are logged from the writer's completion callback.
type Kafka struct {
	w   *kafka.Writer
	log logrus.FieldLogger
}

func NewKafka(brokers []string, topic string, log logrus.FieldLogger) (*Kafka, error) {
	var addrs []string
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("no kafka topic configured")
	}

	k := &Kafka{log: log}
	k.w = &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		MaxAttempts:            3,
		Async:                  true,
		Completion:             k.completed,
		AllowAutoTopicCreation: true,
	}
	return k, nil
}

func (k *Kafka) completed(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	keys := make([]string, len(msgs))
	for i, m := range msgs {
		keys[i] = string(m.Key)
	}
	k.log.WithError(err).WithFields(logrus.Fields{
		"topic":    k.w.Topic,
		"post_ids": keys,
	}).Warn("Failed to deliver post events")
}

func (k *Kafka) Publish(ctx context.Context, e Event) error {
	msg, err := Message(e)
	if err != nil {
		return err
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.w.Close()
}

// Message encodes e as a kafka message.
func Message(e Event) (kafka.Message, error) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", e.Type, err)
	}
	return kafka.Message{
		Key:   []byte(e.PostID),
		Value: b,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}, nil
}
