package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/honeynil/safedeal/internal/infrastructure/kafka"
	"github.com/honeynil/safedeal/internal/models"
)

const (
	dealEventsTopic       = "deal-events"
	withdrawalEventsTopic = "withdrawal-events"
)

type dealEvent struct {
	EventType string  `json:"event_type"`
	DealID    string  `json:"deal_id"`
	ActorID   int64   `json:"actor_id,omitempty"`
	BuyerID   int64   `json:"buyer_id"`
	SellerID  int64   `json:"seller_id"`
	Amount    float64 `json:"amount"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
}

type withdrawalEvent struct {
	EventType    string  `json:"event_type"`
	WithdrawalID int64   `json:"withdrawal_id"`
	UserID       int64   `json:"user_id"`
	Amount       float64 `json:"amount"`
	Wallet       string  `json:"wallet,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// publishDealEvent sends a lifecycle event, best effort: the transition has
// already committed, so a broker failure only costs a notification.
func publishDealEvent(producer kafka.KafkaProducer, eventType string, deal *models.Deal, actorID int64) {
	event := dealEvent{
		EventType: eventType,
		DealID:    deal.ID,
		ActorID:   actorID,
		BuyerID:   deal.BuyerID,
		SellerID:  deal.SellerID,
		Amount:    deal.Amount,
		Status:    string(deal.Status),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal deal event", "deal_id", deal.ID, "error", err)
		return
	}
	if err := producer.Send(context.Background(), dealEventsTopic, deal.ID, payload); err != nil {
		slog.Error("failed to publish deal event", "event_type", eventType, "deal_id", deal.ID, "error", err)
	}
}

func publishWithdrawalEvent(producer kafka.KafkaProducer, eventType string, w *models.Withdrawal) {
	event := withdrawalEvent{
		EventType:    eventType,
		WithdrawalID: w.ID,
		UserID:       w.UserID,
		Amount:       w.Amount,
		Wallet:       w.Wallet,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal withdrawal event", "withdrawal_id", w.ID, "error", err)
		return
	}
	if err := producer.Send(context.Background(), withdrawalEventsTopic, strconv.FormatInt(w.UserID, 10), payload); err != nil {
		slog.Error("failed to publish withdrawal event", "event_type", eventType, "withdrawal_id", w.ID, "error", err)
	}
}
