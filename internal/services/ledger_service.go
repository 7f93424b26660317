package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/honeynil/safedeal/internal/infrastructure/kafka"
	"github.com/honeynil/safedeal/internal/infrastructure/observability"
	"github.com/honeynil/safedeal/internal/infrastructure/payment"
	"github.com/honeynil/safedeal/internal/infrastructure/redis"
	"github.com/honeynil/safedeal/internal/models"
	"github.com/honeynil/safedeal/internal/repository"
	pkgerrors "github.com/honeynil/safedeal/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var walletPattern = regexp.MustCompile(`^\d{11,16}$`)

const balanceCacheTTL = 5 * time.Minute

// LedgerService exposes user balances and the withdrawal flow. Balances are
// only ever credited by deal completion, so the service itself never adds
// money; it reads, caches, and drains.
type LedgerService interface {
	GetBalance(ctx context.Context, userID int64) (float64, error)
	RequestWithdrawal(ctx context.Context, userID int64, wallet string) (*models.Withdrawal, error)
	ProcessWithdrawal(ctx context.Context, withdrawalID, arbitratorID int64) error
	ListUserWithdrawals(ctx context.Context, userID int64) ([]models.Withdrawal, error)
}

type ledgerService struct {
	userRepo       repository.UserRepository
	withdrawalRepo repository.WithdrawalRepository
	gateway        payment.Gateway
	redisClient    redis.RedisClient
	producer       kafka.KafkaProducer
	arbitrators    map[int64]struct{}
}

func NewLedgerService(
	userRepo repository.UserRepository,
	withdrawalRepo repository.WithdrawalRepository,
	gateway payment.Gateway,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
	arbitrators map[int64]struct{},
) *ledgerService {
	return &ledgerService{
		userRepo:       userRepo,
		withdrawalRepo: withdrawalRepo,
		gateway:        gateway,
		redisClient:    redisClient,
		producer:       producer,
		arbitrators:    arbitrators,
	}
}

func (s *ledgerService) GetBalance(ctx context.Context, userID int64) (float64, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "GetBalance")
	span.SetAttributes(attribute.Int64("user_id", userID))
	defer span.End()

	key := balanceCacheKey(userID)
	if cached, err := s.redisClient.Get(ctx, key); err == nil {
		if balance, parseErr := strconv.ParseFloat(cached, 64); parseErr == nil {
			return balance, nil
		}
	}

	balance, err := s.userRepo.GetBalance(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	if err := s.redisClient.Set(ctx, key, strconv.FormatFloat(balance, 'f', 2, 64), balanceCacheTTL); err != nil {
		slog.Error("failed to cache balance", "user_id", userID, "error", err)
	}
	return balance, nil
}

func (s *ledgerService) RequestWithdrawal(ctx context.Context, userID int64, wallet string) (*models.Withdrawal, error) {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "RequestWithdrawal")
	span.SetAttributes(attribute.Int64("user_id", userID))
	defer span.End()

	if !walletPattern.MatchString(wallet) {
		span.SetStatus(codes.Error, "invalid wallet")
		return nil, pkgerrors.ErrInvalidWallet
	}

	// Short redis lock keeps concurrent requests from the same user out of the
	// store; the FOR UPDATE row lock inside CreateFromBalance is the actual
	// correctness guarantee, so a redis outage just skips the fast path.
	lockKey := fmt.Sprintf("user:%d:withdrawal-lock", userID)
	if acquired, lockErr := s.redisClient.SetNX(ctx, lockKey, "1", 10*time.Second); lockErr == nil && !acquired {
		span.SetStatus(codes.Error, "withdrawal already in progress")
		return nil, pkgerrors.ErrInvalidState
	}
	defer func() {
		if err := s.redisClient.Del(ctx, lockKey); err != nil {
			slog.Error("failed to release withdrawal lock", "user_id", userID, "error", err)
		}
	}()

	w, err := s.withdrawalRepo.CreateFromBalance(ctx, userID, wallet, models.MinWithdrawal)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := s.redisClient.Del(ctx, balanceCacheKey(userID)); err != nil {
		slog.Error("failed to invalidate balance cache", "user_id", userID, "error", err)
	}

	publishWithdrawalEvent(s.producer, "withdrawal_requested", w)
	slog.Info("withdrawal requested", "withdrawal_id", w.ID, "user_id", userID, "amount", w.Amount)
	return w, nil
}

func (s *ledgerService) ProcessWithdrawal(ctx context.Context, withdrawalID, arbitratorID int64) error {
	tracer := otel.Tracer("ledger-service")
	ctx, span := tracer.Start(ctx, "ProcessWithdrawal")
	span.SetAttributes(attribute.Int64("withdrawal_id", withdrawalID), attribute.Int64("arbitrator_id", arbitratorID))
	defer span.End()

	if _, ok := s.arbitrators[arbitratorID]; !ok {
		span.SetStatus(codes.Error, "not an arbitrator")
		return pkgerrors.ErrNotAuthorized
	}

	w, err := s.withdrawalRepo.GetByID(ctx, withdrawalID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if w.Status != models.WithdrawalPending {
		span.SetStatus(codes.Error, "not pending")
		return pkgerrors.ErrInvalidState
	}

	// The funds were already debited at request time, so a gateway failure
	// leaves the request pending and retryable without double-paying.
	ok, err := s.gateway.Payout(ctx, w.Wallet, w.Amount)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payout failed")
		return err
	}
	if !ok {
		return fmt.Errorf("%w: payout rejected", pkgerrors.ErrGatewayUnavailable)
	}

	if err := s.withdrawalRepo.MarkCompleted(ctx, withdrawalID); err != nil {
		span.RecordError(err)
		return err
	}

	observability.WithdrawalsProcessed.Inc()
	publishWithdrawalEvent(s.producer, "withdrawal_completed", w)
	slog.Info("withdrawal processed", "withdrawal_id", withdrawalID, "amount", w.Amount, "arbitrator_id", arbitratorID)
	return nil
}

func (s *ledgerService) ListUserWithdrawals(ctx context.Context, userID int64) ([]models.Withdrawal, error) {
	return s.withdrawalRepo.ListByUser(ctx, userID)
}

func balanceCacheKey(userID int64) string {
	return fmt.Sprintf("user:%d:balance", userID)
}
