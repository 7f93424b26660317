package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// Notifier delivers a human-facing message to a user. The actual messaging
// channel (Telegram, email) lives outside this service; the default
// implementation just logs.
type Notifier interface {
	Notify(ctx context.Context, userID int64, message string)
}

type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, userID int64, message string) {
	slog.Info("notification", "user_id", userID, "message", message)
}

// Consumer turns deal and withdrawal events into participant notifications.
type Consumer struct {
	reader   *kafka.Reader
	notifier Notifier
}

func NewConsumer(brokers []string, topic, groupID string, notifier Notifier) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		notifier: notifier,
	}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		slog.Info("Kafka message received", "topic", msg.Topic, "key", string(msg.Key))

		switch msg.Topic {
		case "deal-events":
			var event struct {
				EventType string  `json:"event_type"`
				DealID    string  `json:"deal_id"`
				BuyerID   int64   `json:"buyer_id"`
				SellerID  int64   `json:"seller_id"`
				Amount    float64 `json:"amount"`
			}
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				slog.Error("failed to unmarshal deal event", "error", err)
				continue
			}

			text := dealEventText(event.EventType, event.DealID, event.Amount)
			if text == "" {
				continue
			}
			c.notifier.Notify(ctx, event.BuyerID, text)
			c.notifier.Notify(ctx, event.SellerID, text)

		case "withdrawal-events":
			var event struct {
				EventType    string  `json:"event_type"`
				WithdrawalID int64   `json:"withdrawal_id"`
				UserID       int64   `json:"user_id"`
				Amount       float64 `json:"amount"`
			}
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				slog.Error("failed to unmarshal withdrawal event", "error", err)
				continue
			}

			switch event.EventType {
			case "withdrawal_requested":
				c.notifier.Notify(ctx, event.UserID,
					fmt.Sprintf("Withdrawal request #%d for %.2f accepted, awaiting processing", event.WithdrawalID, event.Amount))
			case "withdrawal_completed":
				c.notifier.Notify(ctx, event.UserID,
					fmt.Sprintf("Withdrawal #%d for %.2f has been paid out", event.WithdrawalID, event.Amount))
			}
		}
	}
}

func dealEventText(eventType, dealID string, amount float64) string {
	switch eventType {
	case "deal_created":
		return fmt.Sprintf("Deal #%s created for %.2f", dealID, amount)
	case "deal_confirmed":
		return fmt.Sprintf("Participation in deal #%s confirmed", dealID)
	case "deal_rejected":
		return fmt.Sprintf("Deal #%s was rejected", dealID)
	case "payment_received":
		return fmt.Sprintf("Payment for deal #%s received, the seller may start working", dealID)
	case "work_completed":
		return fmt.Sprintf("Seller marked work on deal #%s as done, buyer should confirm receipt", dealID)
	case "deal_completed":
		return fmt.Sprintf("Deal #%s completed, %.2f credited to the seller", dealID, amount)
	case "dispute_opened":
		return fmt.Sprintf("Dispute opened on deal #%s, an arbitrator will join shortly", dealID)
	case "dispute_refunded":
		return fmt.Sprintf("Dispute on deal #%s resolved: buyer refunded", dealID)
	}
	return ""
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
