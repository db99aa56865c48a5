package domain

import "errors"

var (
	ErrArticleNotFound  = errors.New("article not found")
	ErrVersionConflict  = errors.New("article was modified concurrently")
	ErrDuplicateSymbol  = errors.New("duplicate stock symbol")
	ErrUnknownSeverity  = errors.New("unknown severity")
	ErrRateLimited      = errors.New("rate limit slot not acquired")
	ErrInvalidConfig    = errors.New("invalid provider config")
	ErrMissingAPIKey    = errors.New("missing provider api key")
	ErrSchemaViolation  = errors.New("response does not match schema")
	ErrNotificationLost = errors.New("notifications lost")
	ErrInvalidArticle   = errors.New("invalid article")
	ErrNotRequeueable   = errors.New("article cannot be requeued")
)
