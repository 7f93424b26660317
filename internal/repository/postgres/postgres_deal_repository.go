package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/safedeal/internal/infrastructure/observability"
	"github.com/honeynil/safedeal/internal/models"
	pkgerrors "github.com/honeynil/safedeal/pkg/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresDealRepository struct {
	db *sql.DB
}

func NewPostgresDealRepository(db *sql.DB) *PostgresDealRepository {
	return &PostgresDealRepository{db: db}
}

const dealColumns = `id, creator_id, creator_role, buyer_id, seller_id, amount, guarantor_fee,
	total_amount, description, deadline_days, group_link, payment_url,
	buyer_confirmed, seller_confirmed, dispute_opened, status, created_at`

func scanDeal(row interface{ Scan(...any) error }) (*models.Deal, error) {
	var d models.Deal
	var groupLink, paymentURL sql.NullString
	err := row.Scan(
		&d.ID, &d.CreatorID, &d.CreatorRole, &d.BuyerID, &d.SellerID,
		&d.Amount, &d.GuarantorFee, &d.TotalAmount, &d.Description,
		&d.DeadlineDays, &groupLink, &paymentURL,
		&d.BuyerConfirmed, &d.SellerConfirmed, &d.DisputeOpened,
		&d.Status, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.GroupLink = groupLink.String
	d.PaymentURL = paymentURL.String
	return &d, nil
}

func (r *PostgresDealRepository) Create(ctx context.Context, deal *models.Deal) error {
	var err error
	tracer := otel.Tracer("deal-repository")
	ctx, span := tracer.Start(ctx, "CreateDeal")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateDeal", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateDeal").Observe(time.Since(start).Seconds())
	}()

	if deal == nil {
		err = pkgerrors.ErrNilDeal
		return err
	}
	if !deal.Status.Valid() {
		err = fmt.Errorf("invalid deal status %q", deal.Status)
		return err
	}

	span.SetAttributes(
		attribute.String("deal_id", deal.ID),
		attribute.Float64("amount", deal.Amount),
		attribute.String("status", string(deal.Status)),
	)

	query := `INSERT INTO deals
		(id, creator_id, creator_role, buyer_id, seller_id, amount, guarantor_fee,
		 total_amount, description, deadline_days, group_link, payment_url,
		 buyer_confirmed, seller_confirmed, dispute_opened, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at`
	err = r.db.QueryRowContext(ctx, query,
		deal.ID, deal.CreatorID, deal.CreatorRole, deal.BuyerID, deal.SellerID,
		deal.Amount, deal.GuarantorFee, deal.TotalAmount, deal.Description,
		deal.DeadlineDays, deal.GroupLink, deal.PaymentURL,
		deal.BuyerConfirmed, deal.SellerConfirmed, deal.DisputeOpened, deal.Status,
	).Scan(&deal.CreatedAt)
	if err != nil {
		slog.Error("failed to create deal", "method", "Create", "deal_id", deal.ID, "error", err)
		return fmt.Errorf("failed to create deal: %w", err)
	}

	slog.Info("deal created", "method", "Create", "deal_id", deal.ID, "buyer_id", deal.BuyerID, "seller_id", deal.SellerID, "amount", deal.Amount)
	return nil
}

func (r *PostgresDealRepository) GetByID(ctx context.Context, id string) (*models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE id = $1`
	deal, err := scanDeal(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrDealNotFound
	}
	if err != nil {
		slog.Error("failed to get deal", "method", "GetByID", "deal_id", id, "error", err)
		return nil, fmt.Errorf("failed to get deal by id: %w", err)
	}
	return deal, nil
}

func (r *PostgresDealRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM deals WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check deal existence: %w", err)
	}
	return exists, nil
}

func (r *PostgresDealRepository) ListByUser(ctx context.Context, userID int64) ([]models.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Error("failed to list deals", "method", "ListByUser", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list deals: %w", err)
	}
	defer rows.Close()

	var deals []models.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deal: %w", err)
		}
		deals = append(deals, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deals: %w", err)
	}
	return deals, nil
}

func (r *PostgresDealRepository) SetConfirmed(ctx context.Context, id string, role models.Role) error {
	var query string
	switch role {
	case models.RoleBuyer:
		query = `UPDATE deals SET buyer_confirmed = TRUE WHERE id = $1`
	case models.RoleSeller:
		query = `UPDATE deals SET seller_confirmed = TRUE WHERE id = $1`
	default:
		return pkgerrors.ErrInvalidRole
	}

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to set confirmation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrDealNotFound
	}
	slog.Info("participant confirmed", "method", "SetConfirmed", "deal_id", id, "role", role)
	return nil
}

func (r *PostgresDealRepository) SetPaymentURL(ctx context.Context, id, url string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE deals SET payment_url = $1 WHERE id = $2`, url, id)
	if err != nil {
		return fmt.Errorf("failed to set payment url: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrDealNotFound
	}
	return nil
}

// UpdateStatus is the compare-and-swap transition primitive: the write only
// lands when the current status is one of the expected predecessors.
func (r *PostgresDealRepository) UpdateStatus(ctx context.Context, id string, from []models.DealStatus, to models.DealStatus) error {
	var err error
	tracer := otel.Tracer("deal-repository")
	ctx, span := tracer.Start(ctx, "UpdateDealStatus")
	span.SetAttributes(attribute.String("deal_id", id), attribute.String("to", string(to)))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("UpdateDealStatus", status).Inc()
		observability.RepositoryDuration.WithLabelValues("UpdateDealStatus").Observe(time.Since(start).Seconds())
	}()

	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	query := `UPDATE deals SET status = $1 WHERE id = $2 AND status = ANY($3)`
	res, execErr := r.db.ExecContext(ctx, query, to, id, pq.Array(fromStrs))
	if execErr != nil {
		err = fmt.Errorf("failed to update deal status: %w", execErr)
		slog.Error("failed to update deal status", "method", "UpdateStatus", "deal_id", id, "to", to, "error", execErr)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		exists, exErr := r.Exists(ctx, id)
		if exErr == nil && !exists {
			err = pkgerrors.ErrDealNotFound
			return err
		}
		err = pkgerrors.ErrInvalidState
		return err
	}

	slog.Info("deal status updated", "method", "UpdateStatus", "deal_id", id, "to", to)
	return nil
}

// ConfirmPayment requires both confirmation flags in the predicate: a payment
// observed at the gateway must never advance a deal the counterparty has not
// agreed to.
func (r *PostgresDealRepository) ConfirmPayment(ctx context.Context, id string) error {
	query := `UPDATE deals SET status = $1
		WHERE id = $2 AND status = ANY($3) AND buyer_confirmed AND seller_confirmed`
	from := []string{string(models.StatusCreated), string(models.StatusAwaitingPayment)}
	res, err := r.db.ExecContext(ctx, query, models.StatusPaymentReceived, id, pq.Array(from))
	if err != nil {
		slog.Error("failed to confirm payment", "method", "ConfirmPayment", "deal_id", id, "error", err)
		return fmt.Errorf("failed to confirm payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		exists, exErr := r.Exists(ctx, id)
		if exErr == nil && !exists {
			return pkgerrors.ErrDealNotFound
		}
		return pkgerrors.ErrInvalidState
	}
	slog.Info("payment confirmed", "method", "ConfirmPayment", "deal_id", id)
	return nil
}

func (r *PostgresDealRepository) MarkDisputed(ctx context.Context, id string) error {
	from := []string{
		string(models.StatusCreated),
		string(models.StatusAwaitingPayment),
		string(models.StatusPaymentReceived),
	}
	query := `UPDATE deals SET status = $1, dispute_opened = TRUE WHERE id = $2 AND status = ANY($3)`
	res, err := r.db.ExecContext(ctx, query, models.StatusDispute, id, pq.Array(from))
	if err != nil {
		slog.Error("failed to mark dispute", "method", "MarkDisputed", "deal_id", id, "error", err)
		return fmt.Errorf("failed to mark dispute: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		exists, exErr := r.Exists(ctx, id)
		if exErr == nil && !exists {
			return pkgerrors.ErrDealNotFound
		}
		return pkgerrors.ErrInvalidState
	}
	slog.Info("dispute opened", "method", "MarkDisputed", "deal_id", id)
	return nil
}

// CompleteWithCredit performs the single crediting transition: the status CAS
// and the seller balance credit commit together or not at all, which is what
// makes the credit at-most-once per deal.
func (r *PostgresDealRepository) CompleteWithCredit(ctx context.Context, id string, from models.DealStatus, sellerID int64, amount float64) error {
	var err error
	tracer := otel.Tracer("deal-repository")
	ctx, span := tracer.Start(ctx, "CompleteDealWithCredit")
	span.SetAttributes(
		attribute.String("deal_id", id),
		attribute.Int64("seller_id", sellerID),
		attribute.Float64("amount", amount),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CompleteDealWithCredit", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CompleteDealWithCredit").Observe(time.Since(start).Seconds())
	}()

	if amount <= 0 {
		err = pkgerrors.ErrInvalidAmount
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "CompleteWithCredit", "deal_id", id, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	res, execErr := tx.ExecContext(ctx,
		`UPDATE deals SET status = $1 WHERE id = $2 AND status = $3`,
		models.StatusCompleted, id, from)
	if execErr != nil {
		_ = tx.Rollback()
		err = fmt.Errorf("failed to complete deal: %w", execErr)
		slog.Error("failed to complete deal", "method", "CompleteWithCredit", "deal_id", id, "error", execErr)
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		exists, exErr := r.Exists(ctx, id)
		if exErr == nil && !exists {
			err = pkgerrors.ErrDealNotFound
			return err
		}
		err = pkgerrors.ErrInvalidState
		return err
	}

	_, execErr = tx.ExecContext(ctx,
		`INSERT INTO users (user_id, balance) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET balance = users.balance + EXCLUDED.balance`,
		sellerID, amount)
	if execErr != nil {
		_ = tx.Rollback()
		err = fmt.Errorf("failed to credit seller: %w", execErr)
		slog.Error("failed to credit seller", "method", "CompleteWithCredit", "deal_id", id, "seller_id", sellerID, "error", execErr)
		return err
	}

	if err = tx.Commit(); err != nil {
		slog.Error("failed to commit completion", "method", "CompleteWithCredit", "deal_id", id, "error", err)
		return fmt.Errorf("failed to commit completion: %w", err)
	}

	slog.Info("deal completed and seller credited", "method", "CompleteWithCredit", "deal_id", id, "seller_id", sellerID, "amount", amount)
	return nil
}
