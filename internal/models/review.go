package models

import "time"

// Review is feedback left by one participant about the other after a deal
// reaches the completed status.
type Review struct {
	ID             int64     `json:"id"`
	DealID         string    `json:"deal_id"`
	ReviewerID     int64     `json:"reviewer_id"`
	ReviewedUserID int64     `json:"reviewed_user_id"`
	Rating         int       `json:"rating"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}
