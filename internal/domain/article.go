package domain

import (
	"time"

	"github.com/google/uuid"
)

// ArticleContent is the immutable input submitted for classification.
type ArticleContent struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// ProcessingStatus enumerates job lifecycle milestones.
type ProcessingStatus string

const (
	StatusQueued     ProcessingStatus = "queued"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// IsTerminal reports whether no further processing is expected.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Resumable reports whether a delivery observing this status may run the job.
// Processing and failed are treated as a requeue of an interrupted run.
func (s ProcessingStatus) Resumable() bool {
	return s == StatusQueued || s == StatusProcessing || s == StatusFailed
}

// Impact records the severity an article carries for one stock.
type Impact struct {
	StockID uuid.UUID `json:"stock_id"`
	Impact  Severity  `json:"impact"`
	Reason  *string   `json:"reason"`
}

// Article is the persisted processing job for one submitted news item.
type Article struct {
	ID             uuid.UUID        `json:"id"`
	Content        ArticleContent   `json:"content"`
	Status         ProcessingStatus `json:"status"`
	ImpactedStocks []Impact         `json:"impacted_stocks"`
	ErrorMessage   *string          `json:"error_message"`
	ExternalID     *uuid.UUID       `json:"external_id,omitempty"`
	Version        int64            `json:"version"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// NewArticle builds a queued job with an empty impact list.
func NewArticle(content ArticleContent, externalID *uuid.UUID, now time.Time) (*Article, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return &Article{
		ID:             id,
		Content:        content,
		Status:         StatusQueued,
		ImpactedStocks: []Impact{},
		ExternalID:     externalID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// AppendImpacts adds impacts without touching the ones already recorded.
func (a *Article) AppendImpacts(impacts ...Impact) {
	a.ImpactedStocks = append(a.ImpactedStocks, impacts...)
}

// MarkProcessing moves the job into processing.
func (a *Article) MarkProcessing() {
	a.Status = StatusProcessing
}

// MarkCompleted finishes the job successfully and clears any prior error.
func (a *Article) MarkCompleted() {
	a.Status = StatusCompleted
	a.ErrorMessage = nil
}

// MarkFailed finishes the job with an error message.
func (a *Article) MarkFailed(message string) {
	a.Status = StatusFailed
	a.ErrorMessage = &message
}

// Clone returns a copy that shares no mutable state with a.
func (a *Article) Clone() *Article {
	if a == nil {
		return nil
	}
	cp := *a
	cp.ImpactedStocks = make([]Impact, len(a.ImpactedStocks))
	copy(cp.ImpactedStocks, a.ImpactedStocks)
	if a.ErrorMessage != nil {
		msg := *a.ErrorMessage
		cp.ErrorMessage = &msg
	}
	if a.ExternalID != nil {
		ext := *a.ExternalID
		cp.ExternalID = &ext
	}
	if a.Content.PublishedAt != nil {
		ts := *a.Content.PublishedAt
		cp.Content.PublishedAt = &ts
	}
	return &cp
}
