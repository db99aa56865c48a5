package domain

import "github.com/google/uuid"

// Stock is a tracked financial instrument as served by the backend.
type Stock struct {
	ID          uuid.UUID `json:"id"`
	Symbol      string    `json:"symbol"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	EKD         *string   `json:"ekd,omitempty"`
	City        *string   `json:"city,omitempty"`
	Country     *string   `json:"country,omitempty"`
}
