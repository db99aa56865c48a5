package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"newsimpact/internal/ports"
)

// Dialect selects the SQL flavour used by SQLRepository.
type Dialect string

const (
	DialectMemory   Dialect = "memory"
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Open builds the configured repository. The returned close function releases the database, if any.
func Open(ctx context.Context, driver, dsn string) (ports.ArticleRepository, func() error, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(driver))) {
	case DialectMemory, "":
		return NewMemoryRepository(), func() error { return nil }, nil
	case DialectSQLite:
		db, err := openSQLite(dsn)
		if err != nil {
			return nil, nil, err
		}
		return migrated(ctx, db, DialectSQLite)
	case DialectPostgres:
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		return migrated(ctx, db, DialectPostgres)
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}

func openSQLite(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	return db, nil
}

func migrated(ctx context.Context, db *sql.DB, dialect Dialect) (ports.ArticleRepository, func() error, error) {
	repo := NewSQLRepository(db, dialect)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repo, db.Close, nil
}
