package database

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/itstheanurag/codearena/internal/config"
	"github.com/itstheanurag/codearena/internal/worker"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const DatabasePingTimeout = 10

const createExecutionsTable = `
CREATE TABLE IF NOT EXISTS executions (
	id          BIGSERIAL PRIMARY KEY,
	job_id      UUID        NOT NULL,
	language    TEXT        NOT NULL,
	status      TEXT        NOT NULL,
	passed      INTEGER     NOT NULL,
	total       INTEGER     NOT NULL,
	duration_ms BIGINT      NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertExecution = `
INSERT INTO executions (job_id, language, status, passed, total, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6)`

type Database struct {
	Pool *pgxpool.Pool
	log  *zerolog.Logger
}

type queryStartKey struct{}

// queryTracer logs every statement at debug level and failed ones as warnings.
type queryTracer struct {
	log *zerolog.Logger
}

func (t *queryTracer) TraceQueryStart(
	ctx context.Context,
	_ *pgx.Conn,
	data pgx.TraceQueryStartData,
) context.Context {
	return context.WithValue(ctx, queryStartKey{}, time.Now())
}

func (t *queryTracer) TraceQueryEnd(
	ctx context.Context,
	_ *pgx.Conn,
	data pgx.TraceQueryEndData,
) {
	event := t.log.Debug()
	if data.Err != nil {
		event = t.log.Warn().Err(data.Err)
	}
	if start, ok := ctx.Value(queryStartKey{}).(time.Time); ok {
		event = event.Dur("duration", time.Since(start))
	}
	event.Str("command", data.CommandTag.String()).Msg("query finished")
}

func buildDSN(conf config.DbConfig) string {
	dsn := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(conf.User, conf.Password),
		Host:     net.JoinHostPort(conf.Host, strconv.Itoa(conf.Port)),
		Path:     "/" + conf.Name,
		RawQuery: url.Values{"sslmode": {conf.SSLMode}}.Encode(),
	}
	return dsn.String()
}

func New(conf *config.Config, log *zerolog.Logger) (*Database, error) {
	pgxPoolConfig, err := pgxpool.ParseConfig(buildDSN(conf.Db))

	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pgxPoolConfig.ConnConfig.RuntimeParams["application_name"] = "codearena"
	pgxPoolConfig.ConnConfig.Tracer = &queryTracer{log: log}

	pgxPoolConfig.ConnConfig.DialFunc = func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		return dialer.DialContext(ctx, network, addr)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), pgxPoolConfig)

	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), DatabasePingTimeout*time.Second)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, createExecutionsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info().Msg("database connection established")

	return &Database{Pool: pool, log: log}, nil
}

// Record stores the summary of one finished execution.
func (db *Database) Record(ctx context.Context, rec worker.Record) error {
	_, err := db.Pool.Exec(ctx, insertExecution,
		rec.JobID,
		rec.Language,
		rec.Status,
		rec.Passed,
		rec.Total,
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution %s: %w", rec.JobID, err)
	}
	return nil
}

func (db *Database) Close() error {
	db.log.Info().Msg("Closing database connection pool")
	db.Pool.Close()
	return nil
}
