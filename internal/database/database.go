package database

import (
	"context"
	"fmt"

	"crm-backend/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Database owns the pgx pool shared by migrations and the sqlx Store.
type Database struct {
	Pool *pgxpool.Pool
}

func NewConnection(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*Database, error) {
	pool, err := pgxpool.New(ctx, cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	log.WithField("host", cfg.Database.Host).Info("Successfully connected to database")
	return &Database{Pool: pool}, nil
}

func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}
