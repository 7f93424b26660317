package service

import (
	"context"
	"sync"
	"testing"

	"github.com/honeynil/safedeal/internal/models"
	pkgerrors "github.com/honeynil/safedeal/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	buyerID      = int64(100)
	sellerID     = int64(200)
	arbitratorID = int64(900)
	strangerID   = int64(555)
)

func newTestDealService(store *memStore, gw *fakeGateway) *dealService {
	return NewDealService(
		memDealRepo{store},
		memUserRepo{store},
		memReviewRepo{store},
		gw,
		newFakeRedis(),
		&fakeProducer{},
		map[int64]struct{}{arbitratorID: {}},
	)
}

func createTestDeal(t *testing.T, svc *dealService) *models.Deal {
	t.Helper()
	deal, err := svc.CreateDeal(context.Background(), CreateDealRequest{
		CreatorID:      buyerID,
		CreatorRole:    models.RoleBuyer,
		CounterpartyID: sellerID,
		Amount:         500,
		Description:    "logo design",
		DeadlineDays:   7,
	})
	require.NoError(t, err)
	return deal
}

// fundTestDeal walks a fresh deal to payment_received.
func fundTestDeal(t *testing.T, svc *dealService, gw *fakeGateway) *models.Deal {
	t.Helper()
	deal := createTestDeal(t, svc)
	ctx := context.Background()

	_, err := svc.ConfirmParticipation(ctx, deal.ID, sellerID)
	require.NoError(t, err)

	_, err = svc.InitiatePayment(ctx, deal.ID, buyerID)
	require.NoError(t, err)

	gw.markPaid(deal.PaymentReference())
	require.NoError(t, svc.ConfirmPaymentReceived(ctx, deal.ID))
	return deal
}

func TestCreateDeal(t *testing.T) {
	t.Run("computes fee and total", func(t *testing.T) {
		svc := newTestDealService(newMemStore(), newFakeGateway())
		deal, err := svc.CreateDeal(context.Background(), CreateDealRequest{
			CreatorID:      buyerID,
			CreatorRole:    models.RoleBuyer,
			CounterpartyID: sellerID,
			Amount:         1000,
			Description:    "site redesign",
			DeadlineDays:   14,
		})
		require.NoError(t, err)
		assert.Equal(t, 1000.0, deal.Amount)
		assert.Equal(t, 80.0, deal.GuarantorFee)
		assert.Equal(t, 1080.0, deal.TotalAmount)
		assert.Equal(t, models.StatusCreated, deal.Status)
		assert.Len(t, deal.ID, 6)
	})

	t.Run("creator confirmation is implicit", func(t *testing.T) {
		svc := newTestDealService(newMemStore(), newFakeGateway())
		deal := createTestDeal(t, svc)
		assert.True(t, deal.BuyerConfirmed)
		assert.False(t, deal.SellerConfirmed)
		assert.Equal(t, buyerID, deal.BuyerID)
		assert.Equal(t, sellerID, deal.SellerID)
	})

	t.Run("seller creator maps counterparty to buyer", func(t *testing.T) {
		svc := newTestDealService(newMemStore(), newFakeGateway())
		deal, err := svc.CreateDeal(context.Background(), CreateDealRequest{
			CreatorID:      sellerID,
			CreatorRole:    models.RoleSeller,
			CounterpartyID: buyerID,
			Amount:         250,
			Description:    "copywriting",
			DeadlineDays:   3,
		})
		require.NoError(t, err)
		assert.Equal(t, buyerID, deal.BuyerID)
		assert.Equal(t, sellerID, deal.SellerID)
		assert.True(t, deal.SellerConfirmed)
		assert.False(t, deal.BuyerConfirmed)
	})

	t.Run("validation", func(t *testing.T) {
		svc := newTestDealService(newMemStore(), newFakeGateway())
		base := CreateDealRequest{
			CreatorID:      buyerID,
			CreatorRole:    models.RoleBuyer,
			CounterpartyID: sellerID,
			Amount:         100,
			Description:    "valid description",
			DeadlineDays:   7,
		}

		cases := []struct {
			name    string
			mutate  func(*CreateDealRequest)
			wantErr error
		}{
			{"zero amount", func(r *CreateDealRequest) { r.Amount = 0 }, pkgerrors.ErrInvalidAmount},
			{"negative amount", func(r *CreateDealRequest) { r.Amount = -10 }, pkgerrors.ErrInvalidAmount},
			{"short description", func(r *CreateDealRequest) { r.Description = "abc" }, pkgerrors.ErrDescriptionTooShort},
			{"same participant", func(r *CreateDealRequest) { r.CounterpartyID = buyerID }, pkgerrors.ErrSameParticipant},
			{"bad role", func(r *CreateDealRequest) { r.CreatorRole = "broker" }, pkgerrors.ErrInvalidRole},
			{"zero deadline", func(r *CreateDealRequest) { r.DeadlineDays = 0 }, pkgerrors.ErrInvalidDeadline},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				req := base
				tc.mutate(&req)
				_, err := svc.CreateDeal(context.Background(), req)
				assert.ErrorIs(t, err, tc.wantErr)
			})
		}
	})
}

func TestConfirmParticipation(t *testing.T) {
	t.Run("counterparty confirms", func(t *testing.T) {
		store := newMemStore()
		svc := newTestDealService(store, newFakeGateway())
		deal := createTestDeal(t, svc)

		already, err := svc.ConfirmParticipation(context.Background(), deal.ID, sellerID)
		require.NoError(t, err)
		assert.False(t, already)

		got, err := svc.GetDeal(context.Background(), deal.ID)
		require.NoError(t, err)
		assert.True(t, got.BothConfirmed())
	})

	t.Run("second confirm is a no-op", func(t *testing.T) {
		svc := newTestDealService(newMemStore(), newFakeGateway())
		deal := createTestDeal(t, svc)

		_, err := svc.ConfirmParticipation(context.Background(), deal.ID, sellerID)
		require.NoError(t, err)

		already, err := svc.ConfirmParticipation(context.Background(), deal.ID, sellerID)
		require.NoError(t, err)
		assert.True(t, already)
	})

	t.Run("stranger cannot confirm", func(t *testing.T) {
		svc := newTestDealService(newMemStore(), newFakeGateway())
		deal := createTestDeal(t, svc)

		_, err := svc.ConfirmParticipation(context.Background(), deal.ID, strangerID)
		assert.ErrorIs(t, err, pkgerrors.ErrNotParticipant)
	})

	t.Run("missing deal", func(t *testing.T) {
		svc := newTestDealService(newMemStore(), newFakeGateway())
		_, err := svc.ConfirmParticipation(context.Background(), "000000", buyerID)
		assert.ErrorIs(t, err, pkgerrors.ErrDealNotFound)
	})
}

func TestRejectParticipation(t *testing.T) {
	t.Run("counterparty rejects fresh deal", func(t *testing.T) {
		svc := newTestDealService(newMemStore(), newFakeGateway())
		deal := createTestDeal(t, svc)

		require.NoError(t, svc.RejectParticipation(context.Background(), deal.ID, sellerID))

		got, err := svc.GetDeal(context.Background(), deal.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, got.Status)
	})

	t.Run("cannot reject after both confirmed", func(t *testing.T) {
		svc := newTestDealService(newMemStore(), newFakeGateway())
		deal := createTestDeal(t, svc)

		_, err := svc.ConfirmParticipation(context.Background(), deal.ID, sellerID)
		require.NoError(t, err)

		err = svc.RejectParticipation(context.Background(), deal.ID, sellerID)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
	})
}

func TestInitiatePayment(t *testing.T) {
	t.Run("issues link once both confirmed", func(t *testing.T) {
		svc := newTestDealService(newMemStore(), newFakeGateway())
		deal := createTestDeal(t, svc)
		_, err := svc.ConfirmParticipation(context.Background(), deal.ID, sellerID)
		require.NoError(t, err)

		url, err := svc.InitiatePayment(context.Background(), deal.ID, buyerID)
		require.NoError(t, err)
		assert.Contains(t, url, deal.PaymentReference())

		got, err := svc.GetDeal(context.Background(), deal.ID)
		require.NoError(t, err)
		assert.Equal(t, url, got.PaymentURL)
		assert.Equal(t, models.StatusCreated, got.Status)
	})

	t.Run("requires both confirmations", func(t *testing.T) {
		svc := newTestDealService(newMemStore(), newFakeGateway())
		deal := createTestDeal(t, svc)

		_, err := svc.InitiatePayment(context.Background(), deal.ID, buyerID)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
	})

	t.Run("only the buyer pays", func(t *testing.T) {
		svc := newTestDealService(newMemStore(), newFakeGateway())
		deal := createTestDeal(t, svc)
		_, err := svc.ConfirmParticipation(context.Background(), deal.ID, sellerID)
		require.NoError(t, err)

		_, err = svc.InitiatePayment(context.Background(), deal.ID, sellerID)
		assert.ErrorIs(t, err, pkgerrors.ErrNotAuthorized)
	})
}

func TestConfirmPaymentReceived(t *testing.T) {
	t.Run("unpaid deal stays put", func(t *testing.T) {
		gw := newFakeGateway()
		svc := newTestDealService(newMemStore(), gw)
		deal := createTestDeal(t, svc)
		_, err := svc.ConfirmParticipation(context.Background(), deal.ID, sellerID)
		require.NoError(t, err)

		err = svc.ConfirmPaymentReceived(context.Background(), deal.ID)
		assert.ErrorIs(t, err, pkgerrors.ErrPaymentNotFound)

		got, err := svc.GetDeal(context.Background(), deal.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCreated, got.Status)
	})

	t.Run("paid but not both confirmed stays created", func(t *testing.T) {
		gw := newFakeGateway()
		svc := newTestDealService(newMemStore(), gw)
		deal := createTestDeal(t, svc)

		// Payment lands at the gateway before the seller ever agreed.
		gw.markPaid(deal.PaymentReference())

		err := svc.ConfirmPaymentReceived(context.Background(), deal.ID)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)

		got, err := svc.GetDeal(context.Background(), deal.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCreated, got.Status)
		assert.False(t, got.SellerConfirmed)
	})

	t.Run("paid deal transitions", func(t *testing.T) {
		gw := newFakeGateway()
		svc := newTestDealService(newMemStore(), gw)
		deal := fundTestDeal(t, svc, gw)

		got, err := svc.GetDeal(context.Background(), deal.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPaymentReceived, got.Status)
	})

	t.Run("retry after success is a no-op", func(t *testing.T) {
		gw := newFakeGateway()
		svc := newTestDealService(newMemStore(), gw)
		deal := fundTestDeal(t, svc, gw)

		assert.NoError(t, svc.ConfirmPaymentReceived(context.Background(), deal.ID))
	})

	t.Run("gateway outage fails closed", func(t *testing.T) {
		gw := newFakeGateway()
		gw.checkErr = pkgerrors.ErrGatewayUnavailable
		svc := newTestDealService(newMemStore(), gw)
		deal := createTestDeal(t, svc)
		_, err := svc.ConfirmParticipation(context.Background(), deal.ID, sellerID)
		require.NoError(t, err)

		err = svc.ConfirmPaymentReceived(context.Background(), deal.ID)
		assert.ErrorIs(t, err, pkgerrors.ErrGatewayUnavailable)
	})
}

func TestMarkWorkCompleted(t *testing.T) {
	gw := newFakeGateway()
	svc := newTestDealService(newMemStore(), gw)
	deal := fundTestDeal(t, svc, gw)

	t.Run("buyer cannot signal completion", func(t *testing.T) {
		err := svc.MarkWorkCompleted(context.Background(), deal.ID, buyerID)
		assert.ErrorIs(t, err, pkgerrors.ErrNotAuthorized)
	})

	t.Run("seller signals, status unchanged", func(t *testing.T) {
		require.NoError(t, svc.MarkWorkCompleted(context.Background(), deal.ID, sellerID))

		got, err := svc.GetDeal(context.Background(), deal.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPaymentReceived, got.Status)
	})
}

func TestConfirmReceipt(t *testing.T) {
	t.Run("credits seller the principal only", func(t *testing.T) {
		store := newMemStore()
		gw := newFakeGateway()
		svc := newTestDealService(store, gw)
		deal := fundTestDeal(t, svc, gw)

		require.NoError(t, svc.ConfirmReceipt(context.Background(), deal.ID, buyerID))

		got, err := svc.GetDeal(context.Background(), deal.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)

		balance, err := store.GetBalance(context.Background(), sellerID)
		require.NoError(t, err)
		assert.Equal(t, 500.0, balance)
	})

	t.Run("seller cannot confirm receipt", func(t *testing.T) {
		gw := newFakeGateway()
		svc := newTestDealService(newMemStore(), gw)
		deal := fundTestDeal(t, svc, gw)

		err := svc.ConfirmReceipt(context.Background(), deal.ID, sellerID)
		assert.ErrorIs(t, err, pkgerrors.ErrNotAuthorized)
	})

	t.Run("requires payment first", func(t *testing.T) {
		svc := newTestDealService(newMemStore(), newFakeGateway())
		deal := createTestDeal(t, svc)

		err := svc.ConfirmReceipt(context.Background(), deal.ID, buyerID)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
	})

	t.Run("concurrent confirms credit exactly once", func(t *testing.T) {
		store := newMemStore()
		gw := newFakeGateway()
		svc := newTestDealService(store, gw)
		deal := fundTestDeal(t, svc, gw)

		const workers = 20
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- svc.ConfirmReceipt(context.Background(), deal.ID, buyerID)
			}()
		}
		wg.Wait()
		close(errs)

		var succeeded int
		for err := range errs {
			if err == nil {
				succeeded++
			} else {
				assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
			}
		}
		assert.Equal(t, 1, succeeded)

		balance, err := store.GetBalance(context.Background(), sellerID)
		require.NoError(t, err)
		assert.Equal(t, 500.0, balance)
	})
}

func TestDisputes(t *testing.T) {
	t.Run("participant opens dispute", func(t *testing.T) {
		gw := newFakeGateway()
		svc := newTestDealService(newMemStore(), gw)
		deal := fundTestDeal(t, svc, gw)

		require.NoError(t, svc.OpenDispute(context.Background(), deal.ID, buyerID))

		got, err := svc.GetDeal(context.Background(), deal.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDispute, got.Status)
		assert.True(t, got.DisputeOpened)
	})

	t.Run("no dispute on terminal deal", func(t *testing.T) {
		gw := newFakeGateway()
		svc := newTestDealService(newMemStore(), gw)
		deal := fundTestDeal(t, svc, gw)
		require.NoError(t, svc.ConfirmReceipt(context.Background(), deal.ID, buyerID))

		err := svc.OpenDispute(context.Background(), deal.ID, sellerID)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
	})

	t.Run("refund leaves ledger untouched", func(t *testing.T) {
		store := newMemStore()
		gw := newFakeGateway()
		svc := newTestDealService(store, gw)
		deal := fundTestDeal(t, svc, gw)
		require.NoError(t, svc.OpenDispute(context.Background(), deal.ID, buyerID))

		require.NoError(t, svc.ResolveDispute(context.Background(), deal.ID, arbitratorID, OutcomeRefundBuyer))

		got, err := svc.GetDeal(context.Background(), deal.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, got.Status)

		balance, err := store.GetBalance(context.Background(), sellerID)
		require.NoError(t, err)
		assert.Zero(t, balance)
	})

	t.Run("pay seller credits principal", func(t *testing.T) {
		store := newMemStore()
		gw := newFakeGateway()
		svc := newTestDealService(store, gw)
		deal := fundTestDeal(t, svc, gw)
		require.NoError(t, svc.OpenDispute(context.Background(), deal.ID, sellerID))

		require.NoError(t, svc.ResolveDispute(context.Background(), deal.ID, arbitratorID, OutcomePaySeller))

		got, err := svc.GetDeal(context.Background(), deal.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)

		balance, err := store.GetBalance(context.Background(), sellerID)
		require.NoError(t, err)
		assert.Equal(t, 500.0, balance)
	})

	t.Run("resolved dispute cannot be resolved again", func(t *testing.T) {
		gw := newFakeGateway()
		svc := newTestDealService(newMemStore(), gw)
		deal := fundTestDeal(t, svc, gw)
		require.NoError(t, svc.OpenDispute(context.Background(), deal.ID, buyerID))
		require.NoError(t, svc.ResolveDispute(context.Background(), deal.ID, arbitratorID, OutcomeRefundBuyer))

		err := svc.ResolveDispute(context.Background(), deal.ID, arbitratorID, OutcomePaySeller)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
	})

	t.Run("only arbitrators resolve", func(t *testing.T) {
		gw := newFakeGateway()
		svc := newTestDealService(newMemStore(), gw)
		deal := fundTestDeal(t, svc, gw)
		require.NoError(t, svc.OpenDispute(context.Background(), deal.ID, buyerID))

		err := svc.ResolveDispute(context.Background(), deal.ID, buyerID, OutcomeRefundBuyer)
		assert.ErrorIs(t, err, pkgerrors.ErrNotAuthorized)
	})
}

func TestReviews(t *testing.T) {
	completed := func(t *testing.T) (*dealService, *models.Deal) {
		gw := newFakeGateway()
		svc := newTestDealService(newMemStore(), gw)
		deal := fundTestDeal(t, svc, gw)
		require.NoError(t, svc.ConfirmReceipt(context.Background(), deal.ID, buyerID))
		return svc, deal
	}

	t.Run("buyer reviews seller", func(t *testing.T) {
		svc, deal := completed(t)

		review, err := svc.LeaveReview(context.Background(), deal.ID, buyerID, 5, "fast and clean work")
		require.NoError(t, err)
		assert.Equal(t, sellerID, review.ReviewedUserID)

		reviews, avg, err := svc.GetUserReviews(context.Background(), sellerID)
		require.NoError(t, err)
		assert.Len(t, reviews, 1)
		assert.Equal(t, 5.0, avg)
	})

	t.Run("seller reviews buyer", func(t *testing.T) {
		svc, deal := completed(t)

		review, err := svc.LeaveReview(context.Background(), deal.ID, sellerID, 4, "prompt payment")
		require.NoError(t, err)
		assert.Equal(t, buyerID, review.ReviewedUserID)
	})

	t.Run("only completed deals", func(t *testing.T) {
		svc := newTestDealService(newMemStore(), newFakeGateway())
		deal := createTestDeal(t, svc)

		_, err := svc.LeaveReview(context.Background(), deal.ID, buyerID, 5, "great work")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
	})

	t.Run("rating bounds", func(t *testing.T) {
		svc, deal := completed(t)

		_, err := svc.LeaveReview(context.Background(), deal.ID, buyerID, 0, "great work")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidRating)

		_, err = svc.LeaveReview(context.Background(), deal.ID, buyerID, 6, "great work")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidRating)
	})

	t.Run("text too short", func(t *testing.T) {
		svc, deal := completed(t)

		_, err := svc.LeaveReview(context.Background(), deal.ID, buyerID, 5, "ok")
		assert.ErrorIs(t, err, pkgerrors.ErrReviewTooShort)
	})

	t.Run("stranger cannot review", func(t *testing.T) {
		svc, deal := completed(t)

		_, err := svc.LeaveReview(context.Background(), deal.ID, strangerID, 5, "great work")
		assert.ErrorIs(t, err, pkgerrors.ErrNotParticipant)
	})
}
