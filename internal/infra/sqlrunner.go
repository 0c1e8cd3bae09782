package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor defines the contract required by repositories for executing SQL queries.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// DefaultSlowQuery is the latency above which statements are logged at warn.
const DefaultSlowQuery = 500 * time.Millisecond

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// SQLRunner executes marker-prefixed queries against the pool. Every log
// line carries the marker so a statement can be traced back to sqlinline.
// Task progress writes arrive several times per second, so successful
// statements log at debug and only slow or failing ones rise above it.
type SQLRunner struct {
	Pool      SQLExecutor
	Logger    zerolog.Logger
	SlowQuery time.Duration
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{Pool: pool, Logger: logger, SlowQuery: DefaultSlowQuery}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	started := time.Now()
	tag, err := r.Pool.Exec(ctx, trimmed, args...)
	r.observe(marker, "exec", started, err).Int64("rows", tag.RowsAffected()).Msg("sql: statement")
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return &loggingRow{
		row:     r.Pool.QueryRow(ctx, trimmed, args...),
		runner:  r,
		marker:  marker,
		started: time.Now(),
	}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	rows, err := r.Pool.Query(ctx, trimmed, args...)
	if err != nil {
		r.observe(marker, "query", started, err).Msg("sql: statement")
		return nil, err
	}
	return &loggingRows{Rows: rows, runner: r, marker: marker, started: started}, nil
}

// observe picks the level for one finished statement: error on failure,
// warn when slower than SlowQuery, debug otherwise.
func (r *SQLRunner) observe(marker, op string, started time.Time, err error) *zerolog.Event {
	elapsed := time.Since(started)
	slow := r.SlowQuery
	if slow <= 0 {
		slow = DefaultSlowQuery
	}
	var event *zerolog.Event
	switch {
	case err != nil && !IsNoRows(err):
		event = r.Logger.Error().Err(err)
	case elapsed >= slow:
		event = r.Logger.Warn().Bool("slow", true)
	default:
		event = r.Logger.Debug()
	}
	return event.Str("sql", marker).Str("op", op).Dur("elapsed", elapsed)
}

type loggingRow struct {
	row     pgx.Row
	runner  *SQLRunner
	marker  string
	started time.Time
}

func (l *loggingRow) Scan(dest ...any) error {
	err := l.row.Scan(dest...)
	l.runner.observe(l.marker, "query_row", l.started, err).Bool("no_rows", IsNoRows(err)).Msg("sql: statement")
	return err
}

type loggingRows struct {
	pgx.Rows
	runner  *SQLRunner
	marker  string
	started time.Time
	closed  bool
}

func (l *loggingRows) Close() {
	l.Rows.Close()
	if l.closed {
		return
	}
	l.closed = true
	l.runner.observe(l.marker, "query", l.started, l.Rows.Err()).Msg("sql: statement")
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

// extractMarker splits the "--sql <uuid>" first line from the statement body.
func extractMarker(query string) (string, string, error) {
	first, body, _ := strings.Cut(strings.TrimSpace(query), "\n")
	first = strings.TrimSpace(first)
	if first == "" {
		return "", "", errors.New("empty query")
	}
	if !markerRegexp.MatchString(first) {
		return "", "", errors.New("sql marker missing or invalid")
	}
	return strings.TrimPrefix(first, "--sql "), body, nil
}

// IsNoRows reports whether err signals an empty single-row result.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

var _ SQLExecutor = (*SQLRunner)(nil)
