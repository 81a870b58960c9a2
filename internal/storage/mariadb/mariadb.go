package mariadb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/facesentry/facesentry/internal/config"
)

// Pool wraps a read-only connection to an external case database. The
// service never writes to it; identity records are managed by the case
// management system that owns the schema.
type Pool struct {
	db *sql.DB
}

// NewPool opens a connection pool against the case database and verifies
// connectivity.
func NewPool(cfg *config.CaseDBConfig) (*Pool, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("could not open case database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not ping case database: %w", err)
	}

	return &Pool{db: db}, nil
}

// Close closes the underlying connection pool.
func (p *Pool) Close() error {
	return p.db.Close()
}
