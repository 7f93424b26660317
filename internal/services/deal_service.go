package service

import (
	"context"
	crand "crypto/rand"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/honeynil/safedeal/internal/infrastructure/kafka"
	"github.com/honeynil/safedeal/internal/infrastructure/observability"
	"github.com/honeynil/safedeal/internal/infrastructure/payment"
	"github.com/honeynil/safedeal/internal/infrastructure/redis"
	"github.com/honeynil/safedeal/internal/models"
	"github.com/honeynil/safedeal/internal/repository"
	"github.com/honeynil/safedeal/internal/syncutil"
	pkgerrors "github.com/honeynil/safedeal/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const minDescriptionLen = 5

// DisputeOutcome directs escrowed funds when an arbitrator resolves a dispute.
type DisputeOutcome string

const (
	OutcomeRefundBuyer DisputeOutcome = "refund_buyer"
	OutcomePaySeller   DisputeOutcome = "pay_seller"
)

// CreateDealRequest carries the validated inputs for a new deal. The session
// layer collects these over several steps and calls CreateDeal exactly once.
type CreateDealRequest struct {
	CreatorID      int64
	CreatorRole    models.Role
	CounterpartyID int64
	Amount         float64
	Description    string
	DeadlineDays   int
	GroupLink      string
}

// DealService owns every legal status transition of a deal and the two
// crediting transitions that move money onto a seller's balance.
type DealService interface {
	CreateDeal(ctx context.Context, req CreateDealRequest) (*models.Deal, error)
	GetDeal(ctx context.Context, dealID string) (*models.Deal, error)
	ListUserDeals(ctx context.Context, userID int64) ([]models.Deal, error)
	ConfirmParticipation(ctx context.Context, dealID string, userID int64) (alreadyConfirmed bool, err error)
	RejectParticipation(ctx context.Context, dealID string, userID int64) error
	InitiatePayment(ctx context.Context, dealID string, buyerID int64) (string, error)
	ConfirmPaymentReceived(ctx context.Context, dealID string) error
	MarkWorkCompleted(ctx context.Context, dealID string, sellerID int64) error
	ConfirmReceipt(ctx context.Context, dealID string, buyerID int64) error
	OpenDispute(ctx context.Context, dealID string, userID int64) error
	ResolveDispute(ctx context.Context, dealID string, arbitratorID int64, outcome DisputeOutcome) error
	LeaveReview(ctx context.Context, dealID string, reviewerID int64, rating int, text string) (*models.Review, error)
	GetUserReviews(ctx context.Context, userID int64) ([]models.Review, float64, error)
}

type dealService struct {
	dealRepo    repository.DealRepository
	userRepo    repository.UserRepository
	reviewRepo  repository.ReviewRepository
	gateway     payment.Gateway
	redisClient redis.RedisClient
	producer    kafka.KafkaProducer
	arbitrators map[int64]struct{}
	locks       syncutil.KeyedMutex
}

func NewDealService(
	dealRepo repository.DealRepository,
	userRepo repository.UserRepository,
	reviewRepo repository.ReviewRepository,
	gateway payment.Gateway,
	redisClient redis.RedisClient,
	producer kafka.KafkaProducer,
	arbitrators map[int64]struct{},
) *dealService {
	return &dealService{
		dealRepo:    dealRepo,
		userRepo:    userRepo,
		reviewRepo:  reviewRepo,
		gateway:     gateway,
		redisClient: redisClient,
		producer:    producer,
		arbitrators: arbitrators,
	}
}

func (s *dealService) CreateDeal(ctx context.Context, req CreateDealRequest) (*models.Deal, error) {
	tracer := otel.Tracer("deal-service")
	ctx, span := tracer.Start(ctx, "CreateDeal")
	defer span.End()

	if req.Amount <= 0 {
		span.SetStatus(codes.Error, "invalid amount")
		return nil, pkgerrors.ErrInvalidAmount
	}
	if len(strings.TrimSpace(req.Description)) < minDescriptionLen {
		span.SetStatus(codes.Error, "description too short")
		return nil, pkgerrors.ErrDescriptionTooShort
	}
	if !req.CreatorRole.Valid() {
		span.SetStatus(codes.Error, "invalid role")
		return nil, pkgerrors.ErrInvalidRole
	}
	if req.DeadlineDays <= 0 {
		span.SetStatus(codes.Error, "invalid deadline")
		return nil, pkgerrors.ErrInvalidDeadline
	}
	if req.CreatorID == req.CounterpartyID {
		span.SetStatus(codes.Error, "same participant")
		return nil, pkgerrors.ErrSameParticipant
	}

	if err := s.userRepo.Ensure(ctx, req.CreatorID, ""); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.userRepo.Ensure(ctx, req.CounterpartyID, ""); err != nil {
		span.RecordError(err)
		return nil, err
	}

	amount := models.Round2(req.Amount)
	fee := models.FeeFor(amount)
	deal := &models.Deal{
		CreatorID:    req.CreatorID,
		CreatorRole:  req.CreatorRole,
		Amount:       amount,
		GuarantorFee: fee,
		TotalAmount:  models.Round2(amount + fee),
		Description:  req.Description,
		DeadlineDays: req.DeadlineDays,
		GroupLink:    req.GroupLink,
		Status:       models.StatusCreated,
	}

	// The creator authored the terms, so their confirmation flag is set at
	// creation; only the counterparty still has to agree.
	if req.CreatorRole == models.RoleBuyer {
		deal.BuyerID = req.CreatorID
		deal.SellerID = req.CounterpartyID
		deal.BuyerConfirmed = true
	} else {
		deal.SellerID = req.CreatorID
		deal.BuyerID = req.CounterpartyID
		deal.SellerConfirmed = true
	}

	id, err := s.uniqueDealID(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	deal.ID = id
	span.SetAttributes(attribute.String("deal_id", deal.ID), attribute.Float64("amount", deal.Amount))

	if err := s.dealRepo.Create(ctx, deal); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "deal creation failed")
		return nil, err
	}

	publishDealEvent(s.producer, "deal_created", deal, req.CreatorID)
	slog.Info("deal created",
		"deal_id", deal.ID,
		"creator_id", req.CreatorID,
		"amount", deal.Amount,
		"fee", deal.GuarantorFee,
		"total", deal.TotalAmount)
	return deal, nil
}

// uniqueDealID draws 6-digit ids until one is free. Collisions are rare at
// realistic deal volumes, so a few retries suffice.
func (s *dealService) uniqueDealID(ctx context.Context) (string, error) {
	for i := 0; i < 10; i++ {
		n, err := crand.Int(crand.Reader, big.NewInt(900000))
		if err != nil {
			return "", fmt.Errorf("failed to generate deal id: %w", err)
		}
		id := fmt.Sprintf("%d", n.Int64()+100000)

		exists, err := s.dealRepo.Exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
		slog.Warn("deal id collision, regenerating", "deal_id", id)
	}
	return "", fmt.Errorf("failed to generate unique deal id")
}

func (s *dealService) GetDeal(ctx context.Context, dealID string) (*models.Deal, error) {
	return s.dealRepo.GetByID(ctx, dealID)
}

func (s *dealService) ListUserDeals(ctx context.Context, userID int64) ([]models.Deal, error) {
	return s.dealRepo.ListByUser(ctx, userID)
}

func (s *dealService) ConfirmParticipation(ctx context.Context, dealID string, userID int64) (bool, error) {
	tracer := otel.Tracer("deal-service")
	ctx, span := tracer.Start(ctx, "ConfirmParticipation")
	span.SetAttributes(attribute.String("deal_id", dealID), attribute.Int64("user_id", userID))
	defer span.End()

	unlock := s.locks.Lock(dealID)
	defer unlock()

	deal, err := s.dealRepo.GetByID(ctx, dealID)
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	role, ok := deal.ParticipantRole(userID)
	if !ok {
		span.SetStatus(codes.Error, "not a participant")
		return false, pkgerrors.ErrNotParticipant
	}
	if deal.Status != models.StatusCreated {
		span.SetStatus(codes.Error, "invalid state")
		return false, pkgerrors.ErrInvalidState
	}

	confirmed := deal.BuyerConfirmed
	if role == models.RoleSeller {
		confirmed = deal.SellerConfirmed
	}
	if confirmed {
		// Confirming twice is a no-op success.
		return true, nil
	}

	if err := s.dealRepo.SetConfirmed(ctx, dealID, role); err != nil {
		span.RecordError(err)
		return false, err
	}

	publishDealEvent(s.producer, "deal_confirmed", deal, userID)
	slog.Info("participation confirmed", "deal_id", dealID, "user_id", userID, "role", role)
	return false, nil
}

func (s *dealService) RejectParticipation(ctx context.Context, dealID string, userID int64) error {
	tracer := otel.Tracer("deal-service")
	ctx, span := tracer.Start(ctx, "RejectParticipation")
	span.SetAttributes(attribute.String("deal_id", dealID), attribute.Int64("user_id", userID))
	defer span.End()

	unlock := s.locks.Lock(dealID)
	defer unlock()

	deal, err := s.dealRepo.GetByID(ctx, dealID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if _, ok := deal.ParticipantRole(userID); !ok {
		span.SetStatus(codes.Error, "not a participant")
		return pkgerrors.ErrNotParticipant
	}
	if deal.Status != models.StatusCreated || deal.BothConfirmed() {
		span.SetStatus(codes.Error, "invalid state")
		return pkgerrors.ErrInvalidState
	}

	if err := s.dealRepo.UpdateStatus(ctx, dealID, []models.DealStatus{models.StatusCreated}, models.StatusRejected); err != nil {
		span.RecordError(err)
		return err
	}

	publishDealEvent(s.producer, "deal_rejected", deal, userID)
	slog.Info("deal rejected", "deal_id", dealID, "user_id", userID)
	return nil
}

func (s *dealService) InitiatePayment(ctx context.Context, dealID string, buyerID int64) (string, error) {
	tracer := otel.Tracer("deal-service")
	ctx, span := tracer.Start(ctx, "InitiatePayment")
	span.SetAttributes(attribute.String("deal_id", dealID), attribute.Int64("buyer_id", buyerID))
	defer span.End()

	deal, err := s.dealRepo.GetByID(ctx, dealID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	if buyerID != deal.BuyerID {
		span.SetStatus(codes.Error, "not the buyer")
		return "", pkgerrors.ErrNotAuthorized
	}
	if deal.Status != models.StatusCreated || !deal.BothConfirmed() {
		span.SetStatus(codes.Error, "not ready for payment")
		return "", pkgerrors.ErrInvalidState
	}

	// The gateway call runs outside the per-deal lock; only the local write
	// below is serialized.
	url, err := s.gateway.CreatePaymentLink(ctx, deal.TotalAmount, deal.PaymentReference(), deal.Description)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway link creation failed")
		return "", err
	}

	unlock := s.locks.Lock(dealID)
	defer unlock()

	fresh, err := s.dealRepo.GetByID(ctx, dealID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if fresh.Status != models.StatusCreated {
		span.SetStatus(codes.Error, "state changed during gateway call")
		return "", pkgerrors.ErrInvalidState
	}

	if err := s.dealRepo.SetPaymentURL(ctx, dealID, url); err != nil {
		span.RecordError(err)
		return "", err
	}

	slog.Info("payment link issued", "deal_id", dealID, "total", deal.TotalAmount)
	return url, nil
}

func (s *dealService) ConfirmPaymentReceived(ctx context.Context, dealID string) error {
	tracer := otel.Tracer("deal-service")
	ctx, span := tracer.Start(ctx, "ConfirmPaymentReceived")
	span.SetAttributes(attribute.String("deal_id", dealID))
	defer span.End()

	deal, err := s.dealRepo.GetByID(ctx, dealID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	// Safe to retry after success.
	if deal.Status == models.StatusPaymentReceived {
		return nil
	}
	if deal.Status != models.StatusCreated && deal.Status != models.StatusAwaitingPayment {
		span.SetStatus(codes.Error, "invalid state")
		return pkgerrors.ErrInvalidState
	}
	// Deal ids are guessable and the gateway reference is deterministic, so a
	// payment can show up before the counterparty ever agreed. Both flags must
	// be set before the deal may leave created.
	if !deal.BothConfirmed() {
		span.SetStatus(codes.Error, "not both confirmed")
		return pkgerrors.ErrInvalidState
	}

	// Poll the gateway without holding the per-deal lock; a negative or
	// failed check mutates nothing so the caller can retry indefinitely.
	paid, err := s.gateway.CheckPayment(ctx, deal.PaymentReference())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway check failed")
		return err
	}
	if !paid {
		return pkgerrors.ErrPaymentNotFound
	}

	unlock := s.locks.Lock(dealID)
	defer unlock()

	if err := s.dealRepo.ConfirmPayment(ctx, dealID); err != nil {
		if stderrors.Is(err, pkgerrors.ErrInvalidState) {
			// A concurrent check won the race; the payment is recorded.
			fresh, freshErr := s.dealRepo.GetByID(ctx, dealID)
			if freshErr == nil && fresh.Status == models.StatusPaymentReceived {
				return nil
			}
		}
		span.RecordError(err)
		return err
	}

	deal.Status = models.StatusPaymentReceived
	publishDealEvent(s.producer, "payment_received", deal, 0)
	slog.Info("payment received", "deal_id", dealID, "total", deal.TotalAmount)
	return nil
}

// MarkWorkCompleted records the seller's signal that the work is done. It is
// unverified, so it never changes status: the buyer's explicit receipt
// confirmation gates the authoritative transition.
func (s *dealService) MarkWorkCompleted(ctx context.Context, dealID string, sellerID int64) error {
	tracer := otel.Tracer("deal-service")
	ctx, span := tracer.Start(ctx, "MarkWorkCompleted")
	span.SetAttributes(attribute.String("deal_id", dealID), attribute.Int64("seller_id", sellerID))
	defer span.End()

	deal, err := s.dealRepo.GetByID(ctx, dealID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if sellerID != deal.SellerID {
		span.SetStatus(codes.Error, "not the seller")
		return pkgerrors.ErrNotAuthorized
	}
	if deal.Status != models.StatusPaymentReceived {
		span.SetStatus(codes.Error, "invalid state")
		return pkgerrors.ErrInvalidState
	}

	publishDealEvent(s.producer, "work_completed", deal, sellerID)
	slog.Info("work marked completed", "deal_id", dealID, "seller_id", sellerID)
	return nil
}

func (s *dealService) ConfirmReceipt(ctx context.Context, dealID string, buyerID int64) error {
	tracer := otel.Tracer("deal-service")
	ctx, span := tracer.Start(ctx, "ConfirmReceipt")
	span.SetAttributes(attribute.String("deal_id", dealID), attribute.Int64("buyer_id", buyerID))
	defer span.End()

	unlock := s.locks.Lock(dealID)
	defer unlock()

	deal, err := s.dealRepo.GetByID(ctx, dealID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if buyerID != deal.BuyerID {
		span.SetStatus(codes.Error, "not the buyer")
		return pkgerrors.ErrNotAuthorized
	}
	if deal.Status != models.StatusPaymentReceived {
		span.SetStatus(codes.Error, "invalid state")
		return pkgerrors.ErrInvalidState
	}

	// The seller receives the principal; the fee never enters the ledger.
	if err := s.dealRepo.CompleteWithCredit(ctx, dealID, models.StatusPaymentReceived, deal.SellerID, deal.Amount); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return err
	}

	s.invalidateBalance(ctx, deal.SellerID)
	observability.DealsCompleted.Inc()

	deal.Status = models.StatusCompleted
	publishDealEvent(s.producer, "deal_completed", deal, buyerID)
	slog.Info("deal completed", "deal_id", dealID, "seller_id", deal.SellerID, "credited", deal.Amount)
	return nil
}

func (s *dealService) OpenDispute(ctx context.Context, dealID string, userID int64) error {
	tracer := otel.Tracer("deal-service")
	ctx, span := tracer.Start(ctx, "OpenDispute")
	span.SetAttributes(attribute.String("deal_id", dealID), attribute.Int64("user_id", userID))
	defer span.End()

	unlock := s.locks.Lock(dealID)
	defer unlock()

	deal, err := s.dealRepo.GetByID(ctx, dealID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if _, ok := deal.ParticipantRole(userID); !ok {
		span.SetStatus(codes.Error, "not a participant")
		return pkgerrors.ErrNotParticipant
	}
	if deal.Status.IsTerminal() || deal.Status == models.StatusDispute {
		span.SetStatus(codes.Error, "invalid state")
		return pkgerrors.ErrInvalidState
	}

	if err := s.dealRepo.MarkDisputed(ctx, dealID); err != nil {
		span.RecordError(err)
		return err
	}

	deal.Status = models.StatusDispute
	publishDealEvent(s.producer, "dispute_opened", deal, userID)
	slog.Info("dispute opened", "deal_id", dealID, "user_id", userID)
	return nil
}

func (s *dealService) ResolveDispute(ctx context.Context, dealID string, arbitratorID int64, outcome DisputeOutcome) error {
	tracer := otel.Tracer("deal-service")
	ctx, span := tracer.Start(ctx, "ResolveDispute")
	span.SetAttributes(
		attribute.String("deal_id", dealID),
		attribute.Int64("arbitrator_id", arbitratorID),
		attribute.String("outcome", string(outcome)),
	)
	defer span.End()

	if _, ok := s.arbitrators[arbitratorID]; !ok {
		span.SetStatus(codes.Error, "not an arbitrator")
		return pkgerrors.ErrNotAuthorized
	}

	unlock := s.locks.Lock(dealID)
	defer unlock()

	deal, err := s.dealRepo.GetByID(ctx, dealID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if deal.Status != models.StatusDispute {
		span.SetStatus(codes.Error, "invalid state")
		return pkgerrors.ErrInvalidState
	}

	switch outcome {
	case OutcomeRefundBuyer:
		// The buyer's payment is refunded by the gateway outside the ledger;
		// no balance moves here.
		if err := s.dealRepo.UpdateStatus(ctx, dealID, []models.DealStatus{models.StatusDispute}, models.StatusCancelled); err != nil {
			span.RecordError(err)
			return err
		}
		observability.DisputesResolved.WithLabelValues("refund_buyer").Inc()
		deal.Status = models.StatusCancelled
		publishDealEvent(s.producer, "dispute_refunded", deal, arbitratorID)
		slog.Info("dispute resolved, buyer refunded", "deal_id", dealID, "arbitrator_id", arbitratorID)

	case OutcomePaySeller:
		if err := s.dealRepo.CompleteWithCredit(ctx, dealID, models.StatusDispute, deal.SellerID, deal.Amount); err != nil {
			span.RecordError(err)
			return err
		}
		s.invalidateBalance(ctx, deal.SellerID)
		observability.DisputesResolved.WithLabelValues("pay_seller").Inc()
		observability.DealsCompleted.Inc()
		deal.Status = models.StatusCompleted
		publishDealEvent(s.producer, "deal_completed", deal, arbitratorID)
		slog.Info("dispute resolved, seller paid", "deal_id", dealID, "arbitrator_id", arbitratorID, "credited", deal.Amount)

	default:
		return fmt.Errorf("unknown dispute outcome %q", outcome)
	}
	return nil
}

func (s *dealService) LeaveReview(ctx context.Context, dealID string, reviewerID int64, rating int, text string) (*models.Review, error) {
	tracer := otel.Tracer("deal-service")
	ctx, span := tracer.Start(ctx, "LeaveReview")
	span.SetAttributes(attribute.String("deal_id", dealID), attribute.Int64("reviewer_id", reviewerID))
	defer span.End()

	if rating < 1 || rating > 5 {
		return nil, pkgerrors.ErrInvalidRating
	}
	if len(strings.TrimSpace(text)) < minDescriptionLen {
		return nil, pkgerrors.ErrReviewTooShort
	}

	deal, err := s.dealRepo.GetByID(ctx, dealID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	role, ok := deal.ParticipantRole(reviewerID)
	if !ok {
		return nil, pkgerrors.ErrNotParticipant
	}
	if deal.Status != models.StatusCompleted {
		return nil, pkgerrors.ErrInvalidState
	}

	reviewed := deal.SellerID
	if role == models.RoleSeller {
		reviewed = deal.BuyerID
	}

	review := &models.Review{
		DealID:         dealID,
		ReviewerID:     reviewerID,
		ReviewedUserID: reviewed,
		Rating:         rating,
		Text:           text,
	}
	if _, err := s.reviewRepo.Create(ctx, review); err != nil {
		span.RecordError(err)
		return nil, err
	}

	slog.Info("review left", "deal_id", dealID, "reviewer_id", reviewerID, "rating", rating)
	return review, nil
}

func (s *dealService) GetUserReviews(ctx context.Context, userID int64) ([]models.Review, float64, error) {
	reviews, err := s.reviewRepo.ListByReviewedUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	avg, _, err := s.reviewRepo.AverageRating(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return reviews, avg, nil
}

func (s *dealService) invalidateBalance(ctx context.Context, userID int64) {
	if err := s.redisClient.Del(ctx, balanceCacheKey(userID)); err != nil {
		slog.Error("failed to invalidate balance cache", "user_id", userID, "error", err)
	}
}
