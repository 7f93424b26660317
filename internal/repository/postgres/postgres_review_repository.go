package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/honeynil/safedeal/internal/models"
	pkgerrors "github.com/honeynil/safedeal/pkg/errors"
)

type PostgresReviewRepository struct {
	db *sql.DB
}

func NewPostgresReviewRepository(db *sql.DB) *PostgresReviewRepository {
	return &PostgresReviewRepository{db: db}
}

func (r *PostgresReviewRepository) Create(ctx context.Context, review *models.Review) (int64, error) {
	if review == nil {
		return 0, pkgerrors.ErrReviewNotFound
	}
	if review.Rating < 1 || review.Rating > 5 {
		return 0, pkgerrors.ErrInvalidRating
	}

	query := `INSERT INTO reviews (deal_id, reviewer_id, reviewed_user_id, rating, review_text)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query,
		review.DealID, review.ReviewerID, review.ReviewedUserID, review.Rating, review.Text,
	).Scan(&review.ID, &review.CreatedAt)
	if err != nil {
		slog.Error("failed to create review", "method", "Create", "deal_id", review.DealID, "error", err)
		return 0, fmt.Errorf("failed to create review: %w", err)
	}

	slog.Info("review created", "method", "Create", "review_id", review.ID, "deal_id", review.DealID, "rating", review.Rating)
	return review.ID, nil
}

func (r *PostgresReviewRepository) ListByReviewedUser(ctx context.Context, userID int64) ([]models.Review, error) {
	query := `SELECT id, deal_id, reviewer_id, reviewed_user_id, rating, review_text, created_at
		FROM reviews WHERE reviewed_user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var rv models.Review
		if err := rows.Scan(&rv.ID, &rv.DealID, &rv.ReviewerID, &rv.ReviewedUserID, &rv.Rating, &rv.Text, &rv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, rv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reviews: %w", err)
	}
	return reviews, nil
}

func (r *PostgresReviewRepository) AverageRating(ctx context.Context, userID int64) (float64, int, error) {
	var avg sql.NullFloat64
	var count int
	query := `SELECT AVG(rating), COUNT(*) FROM reviews WHERE reviewed_user_id = $1`
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&avg, &count); err != nil {
		return 0, 0, fmt.Errorf("failed to get average rating: %w", err)
	}
	return avg.Float64, count, nil
}
