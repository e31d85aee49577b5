// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlstore implements storage.Store on a relational database.
//
// Two dialects are supported: SQLite (modernc.org/sqlite, the default) and
// PostgreSQL (pgx, with pgvector columns). Schema is managed by embedded
// goose migrations that run on Open. All timestamps are stored as unix
// milliseconds.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/poiesic/folio/storage"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL flavor.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const (
	defaultClaimLease  = 15 * time.Minute
	defaultPingTimeout = 30 * time.Second
	insertBatchSize    = 100
)

// Config configures a Store.
type Config struct {
	// Dialect is "sqlite" (default) or "postgres".
	Dialect Dialect
	// DSN is a file path (or file: URI) for SQLite, a connection URI for PostgreSQL.
	DSN string
	// ClaimLease is how long an IN_PROGRESS claim is honored before another
	// owner may take the chunk over.
	ClaimLease time.Duration
	// PingTimeout bounds the initial connection retry.
	PingTimeout time.Duration
	// SkipMigrations disables running migrations on Open.
	SkipMigrations bool
	Logger         *slog.Logger
}

type txKey struct{}

// runner is satisfied by both *sql.DB and *sql.Tx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements storage.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
	lease   time.Duration
	logger  *slog.Logger
	now     func() time.Time
	closed  atomic.Bool
}

var _ storage.Store = (*Store)(nil)

// Open connects to the database, waits for it to answer, and applies
// migrations.
func Open(ctx context.Context, cfg Config) (storage.Store, error) {
	return open(ctx, cfg)
}

// OpenSQLite opens (creating if needed) a SQLite store at path.
func OpenSQLite(ctx context.Context, path string) (storage.Store, error) {
	return open(ctx, Config{Dialect: DialectSQLite, DSN: path})
}

func open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Dialect == "" {
		cfg.Dialect = DialectSQLite
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = defaultClaimLease
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaultPingTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: empty DSN", storage.ErrInvalidQuery)
	}

	var (
		driver string
		dsn    = cfg.DSN
		format sq.PlaceholderFormat
		err    error
	)
	switch cfg.Dialect {
	case DialectSQLite:
		driver = "sqlite"
		format = sq.Question
		if dsn, err = PrepareDSN(dsn); err != nil {
			return nil, err
		}
	case DialectPostgres:
		driver = "pgx"
		format = sq.Dollar
	default:
		return nil, fmt.Errorf("%w: unknown dialect %q", storage.ErrInvalidQuery, cfg.Dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("initialize %s connection: %w", cfg.Dialect, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = cfg.PingTimeout
	attempt := 1
	err = backoff.Retry(func() error {
		if err := db.PingContext(ctx); err != nil {
			cfg.Logger.Info("waiting for database", "dialect", cfg.Dialect, "attempt", attempt)
			attempt++
			return err
		}
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if !cfg.SkipMigrations {
		if err := migrate(ctx, db, cfg.Dialect); err != nil {
			db.Close()
			return nil, err
		}
	}

	if cfg.Dialect == DialectSQLite {
		// One writer at a time; transactions carry their connection in ctx.
		db.SetMaxOpenConns(1)
	}

	return &Store{
		db:      db,
		dialect: cfg.Dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(format),
		lease:   cfg.ClaimLease,
		logger:  cfg.Logger.With("component", "sqlstore", "dialect", string(cfg.Dialect)),
		now:     time.Now,
	}, nil
}

// PrepareDSN adds default pragmas to a SQLite DSN: WAL journaling, a busy
// timeout, foreign key enforcement, and immediate transactions.
func PrepareDSN(uri string) (string, error) {
	query := url.Values{}
	var err error

	if i := strings.Index(uri, "?"); i != -1 {
		query, err = url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("error parsing dsn: %w", err)
		}
		uri = uri[:i]
	}

	found := map[string]bool{}
	for _, val := range query["_pragma"] {
		name, _, _ := strings.Cut(val, "(")
		found[name] = true
	}
	if !found["journal_mode"] {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !found["busy_timeout"] {
		query.Add("_pragma", "busy_timeout(5000)")
	}
	if !found["foreign_keys"] {
		query.Add("_pragma", "foreign_keys(1)")
	}
	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}

	return uri + "?" + query.Encode(), nil
}

// Dialect returns the SQL flavor in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Close closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// WithTransaction runs fn in a transaction carried by the context passed to
// fn. Nested calls join the outer transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	var tx *sql.Tx
	err := s.retry(func() error {
		var err error
		tx, err = s.db.BeginTx(ctx, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: begin: %w", storage.ErrTransactionFailed, err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", "err", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", storage.ErrTransactionFailed, s.handle(err))
	}
	return nil
}

func (s *Store) runner(ctx context.Context) runner {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sql.Tx)
	return ok
}

// retry retries SQLite busy errors outside of transactions. Inside a
// transaction the lock is already held.
func (s *Store) retry(fn func() error) error {
	if s.dialect != DialectSQLite {
		return fn()
	}
	return busyRetry(fn)
}

func (s *Store) exec(ctx context.Context, q sq.Sqlizer) (sql.Result, error) {
	if s.closed.Load() {
		return nil, storage.ErrStorageClosed
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrInvalidQuery, err)
	}
	var res sql.Result
	run := func() error {
		var err error
		res, err = s.runner(ctx).ExecContext(ctx, query, args...)
		return err
	}
	if inTx(ctx) {
		err = run()
	} else {
		err = s.retry(run)
	}
	if err != nil {
		return nil, s.handle(err)
	}
	return res, nil
}

func (s *Store) query(ctx context.Context, q sq.Sqlizer) (*sql.Rows, error) {
	if s.closed.Load() {
		return nil, storage.ErrStorageClosed
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrInvalidQuery, err)
	}
	var rows *sql.Rows
	run := func() error {
		var err error
		rows, err = s.runner(ctx).QueryContext(ctx, query, args...)
		return err
	}
	if inTx(ctx) {
		err = run()
	} else {
		err = s.retry(run)
	}
	if err != nil {
		return nil, s.handle(err)
	}
	return rows, nil
}

// queryRow runs q and scans its single row into dest.
// Returns storage.ErrNotFound when there is no row.
func (s *Store) queryRow(ctx context.Context, q sq.Sqlizer, dest ...any) error {
	if s.closed.Load() {
		return storage.ErrStorageClosed
	}
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidQuery, err)
	}
	run := func() error {
		return s.runner(ctx).QueryRowContext(ctx, query, args...).Scan(dest...)
	}
	if inTx(ctx) {
		err = run()
	} else {
		err = s.retry(run)
	}
	if err != nil {
		return s.handle(err)
	}
	return nil
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullIfZero(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
