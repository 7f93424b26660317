package repository

import (
	"context"

	"github.com/honeynil/safedeal/internal/models"
)

type ReviewRepository interface {
	Create(ctx context.Context, review *models.Review) (int64, error)
	ListByReviewedUser(ctx context.Context, userID int64) ([]models.Review, error)
	AverageRating(ctx context.Context, userID int64) (avg float64, count int, err error)
}
