package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver for sql.DB and sqlx.DB

	"github.com/AntonStoeckl/stilt-pipeline-go/config"
	"github.com/AntonStoeckl/stilt-pipeline-go/pipeline/store/pgstore"
	"github.com/AntonStoeckl/stilt-pipeline-go/queue/postgresengine"
)

const (
	maxConnections    = 8
	minConnections    = 1
	maxIdleConns      = 4
	maxConnLifetime   = time.Hour
	maxConnIdleTime   = 5 * time.Minute
	healthCheckPeriod = time.Minute
	connectTimeout    = 5 * time.Second
)

// openStore connects with the configured driver and returns the store and a function
// closing the connection pool.
func openStore(ctx context.Context, cfg *config.Config, options ...postgresengine.Option) (*pgstore.Store, func(), error) {
	var (
		q       *postgresengine.Queue
		closeDB func()
		err     error
	)

	switch cfg.DBDriver {
	case config.DBDriverSQL:
		var db *sql.DB
		if db, err = sql.Open("postgres", cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		configureSQLPool(db)
		closeDB = func() { _ = db.Close() }
		q, err = postgresengine.NewQueueFromSQLDB(db, options...)

	case config.DBDriverSQLX:
		var db *sqlx.DB
		if db, err = sqlx.Open("postgres", cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		configureSQLPool(db.DB)
		closeDB = func() { _ = db.Close() }
		q, err = postgresengine.NewQueueFromSQLX(db, options...)

	default:
		var poolConfig *pgxpool.Config
		if poolConfig, err = pgxpool.ParseConfig(cfg.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("parse database url: %w", err)
		}
		poolConfig.MaxConns = maxConnections
		poolConfig.MinConns = minConnections
		poolConfig.MaxConnLifetime = maxConnLifetime
		poolConfig.MaxConnIdleTime = maxConnIdleTime
		poolConfig.HealthCheckPeriod = healthCheckPeriod
		poolConfig.ConnConfig.ConnectTimeout = connectTimeout

		var pool *pgxpool.Pool
		if pool, err = pgxpool.NewWithConfig(ctx, poolConfig); err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		closeDB = pool.Close
		q, err = postgresengine.NewQueueFromPGXPool(pool, options...)
	}

	if err != nil {
		closeDB()
		return nil, nil, err
	}

	st, err := pgstore.New(q)
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	if err := st.Ping(ctx); err != nil {
		closeDB()
		return nil, nil, err
	}

	return st, closeDB, nil
}

func configureSQLPool(db *sql.DB) {
	db.SetMaxOpenConns(maxConnections)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(maxConnLifetime)
	db.SetConnMaxIdleTime(maxConnIdleTime)
}
