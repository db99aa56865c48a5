package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"newsimpact/internal/domain"
	"newsimpact/internal/ports"
)

const articlesTable = "articles"

var articleColumns = []string{
	"id", "title", "description", "published_at", "external_id",
	"status", "impacted_stocks", "error_message", "version", "created_at", "updated_at",
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS articles (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		published_at BIGINT NULL,
		external_id TEXT NULL,
		status TEXT NOT NULL,
		impacted_stocks TEXT NOT NULL,
		error_message TEXT NULL,
		version BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS articles_created_at_idx ON articles (created_at)`,
}

// SQLRepository persists jobs through database/sql for both sqlite and postgres.
// Timestamps are stored as unix milliseconds so the schema stays portable.
type SQLRepository struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	now     func() time.Time
}

var _ ports.ArticleRepository = (*SQLRepository)(nil)

// NewSQLRepository wires a sql.DB opened for dialect.
func NewSQLRepository(db *sql.DB, dialect Dialect) *SQLRepository {
	var placeholder sq.PlaceholderFormat = sq.Question
	if dialect == DialectPostgres {
		placeholder = sq.Dollar
	}
	return &SQLRepository{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
		now:     time.Now,
	}
}

// Migrate creates the schema if it does not exist.
func (r *SQLRepository) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Create inserts a new job.
func (r *SQLRepository) Create(ctx context.Context, article *domain.Article) error {
	impacts, err := json.Marshal(nonNilImpacts(article.ImpactedStocks))
	if err != nil {
		return fmt.Errorf("marshal impacts: %w", err)
	}

	query, args, err := r.builder.Insert(articlesTable).
		Columns(articleColumns...).
		Values(
			article.ID.String(),
			article.Content.Title,
			article.Content.Description,
			nullMillis(article.Content.PublishedAt),
			nullUUID(article.ExternalID),
			string(article.Status),
			string(impacts),
			nullString(article.ErrorMessage),
			article.Version,
			article.CreatedAt.UnixMilli(),
			article.UpdatedAt.UnixMilli(),
		).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert article %s: %w", article.ID, err)
	}
	return nil
}

// Get loads a job by id.
func (r *SQLRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Article, error) {
	query, args, err := r.builder.Select(articleColumns...).
		From(articlesTable).
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	article, err := scanArticle(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrArticleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load article %s: %w", id, err)
	}
	return article, nil
}

// Update writes the mutable fields if article.Version is still current and bumps the version.
func (r *SQLRepository) Update(ctx context.Context, article *domain.Article) error {
	impacts, err := json.Marshal(nonNilImpacts(article.ImpactedStocks))
	if err != nil {
		return fmt.Errorf("marshal impacts: %w", err)
	}
	updatedAt := r.now().UTC()

	query, args, err := r.builder.Update(articlesTable).
		Set("status", string(article.Status)).
		Set("impacted_stocks", string(impacts)).
		Set("error_message", nullString(article.ErrorMessage)).
		Set("updated_at", updatedAt.UnixMilli()).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": article.ID.String(), "version": article.Version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update article %s: %w", article.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return r.missingOrStale(ctx, article.ID)
	}

	article.Version++
	article.UpdatedAt = time.UnixMilli(updatedAt.UnixMilli()).UTC()
	return nil
}

func (r *SQLRepository) missingOrStale(ctx context.Context, id uuid.UUID) error {
	query, args, err := r.builder.Select("COUNT(1)").
		From(articlesTable).
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build count: %w", err)
	}
	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return fmt.Errorf("count article %s: %w", id, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", domain.ErrArticleNotFound, id)
	}
	return fmt.Errorf("%w: %s", domain.ErrVersionConflict, id)
}

// List returns the most recent jobs first.
func (r *SQLRepository) List(ctx context.Context, limit int) ([]domain.Article, error) {
	stmt := r.builder.Select(articleColumns...).
		From(articlesTable).
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		stmt = stmt.Limit(uint64(limit))
	}
	query, args, err := stmt.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}

	result := make([]domain.Article, 0)
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan article: %w", err)
		}
		result = append(result, *article)
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", rowsErr)
	}

	if closeErr := rows.Close(); closeErr != nil {
		return nil, fmt.Errorf("close rows: %w", closeErr)
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (*domain.Article, error) {
	var (
		id, title, description, status, impacts string
		publishedAt                             sql.NullInt64
		externalID, errorMessage                sql.NullString
		version, createdAt, updatedAt           int64
	)
	if err := row.Scan(&id, &title, &description, &publishedAt, &externalID,
		&status, &impacts, &errorMessage, &version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	article := &domain.Article{
		Content: domain.ArticleContent{
			Title:       title,
			Description: description,
		},
		Status:    domain.ProcessingStatus(status),
		Version:   version,
		CreatedAt: time.UnixMilli(createdAt).UTC(),
		UpdatedAt: time.UnixMilli(updatedAt).UTC(),
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse id: %w", err)
	}
	article.ID = parsed

	if publishedAt.Valid {
		ts := time.UnixMilli(publishedAt.Int64).UTC()
		article.Content.PublishedAt = &ts
	}
	if externalID.Valid {
		ext, err := uuid.Parse(externalID.String)
		if err != nil {
			return nil, fmt.Errorf("parse external id: %w", err)
		}
		article.ExternalID = &ext
	}
	if errorMessage.Valid {
		msg := errorMessage.String
		article.ErrorMessage = &msg
	}
	if err := json.Unmarshal([]byte(impacts), &article.ImpactedStocks); err != nil {
		return nil, fmt.Errorf("decode impacts: %w", err)
	}
	article.ImpactedStocks = nonNilImpacts(article.ImpactedStocks)
	return article, nil
}

func nonNilImpacts(impacts []domain.Impact) []domain.Impact {
	if impacts == nil {
		return []domain.Impact{}
	}
	return impacts
}

func nullMillis(ts *time.Time) sql.NullInt64 {
	if ts == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: ts.UnixMilli(), Valid: true}
}

func nullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
