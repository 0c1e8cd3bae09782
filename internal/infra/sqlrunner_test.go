package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

const testMarker = "0b1d7c52-3f8e-4c53-9d0a-6c1f2d9e4a11"

type stubRow struct {
	err error
}

func (s stubRow) Scan(dest ...any) error {
	return s.err
}

type stubExecutor struct {
	delay   time.Duration
	err     error
	queries []string
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.queries = append(s.queries, query)
	time.Sleep(s.delay)
	if s.err != nil {
		return pgconn.CommandTag{}, s.err
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queries = append(s.queries, query)
	return stubRow{err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.queries = append(s.queries, query)
	return nil, s.err
}

func newTestRunner(exec *stubExecutor, slow time.Duration) (*SQLRunner, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	return &SQLRunner{Pool: exec, Logger: logger, SlowQuery: slow}, &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", lines[len(lines)-1], err)
	}
	return entry
}

func TestExtractMarker(t *testing.T) {
	query := "--sql " + testMarker + "\nSELECT 1"
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		t.Fatalf("extractMarker returned error: %v", err)
	}
	if marker != testMarker {
		t.Fatalf("marker = %q", marker)
	}
	if trimmed != "SELECT 1" {
		t.Fatalf("trimmed = %q, want %q", trimmed, "SELECT 1")
	}
}

func TestExtractMarkerRejectsMissingMarker(t *testing.T) {
	if _, _, err := extractMarker("SELECT 1"); err == nil {
		t.Fatalf("expected error for query without marker")
	}
	if _, _, err := extractMarker("--sql not-a-uuid\nSELECT 1"); err == nil {
		t.Fatalf("expected error for malformed marker")
	}
	if _, _, err := extractMarker("   "); err == nil {
		t.Fatalf("expected error for empty query")
	}
}

func TestExecStripsMarkerAndLogsDebug(t *testing.T) {
	exec := &stubExecutor{}
	runner, buf := newTestRunner(exec, time.Second)

	tag, err := runner.Exec(context.Background(), "--sql "+testMarker+"\nUPDATE tasks SET progress = 1")
	if err != nil {
		t.Fatalf("Exec returned error: %v", err)
	}
	if tag.RowsAffected() != 1 {
		t.Fatalf("RowsAffected = %d, want 1", tag.RowsAffected())
	}
	if len(exec.queries) != 1 || exec.queries[0] != "UPDATE tasks SET progress = 1" {
		t.Fatalf("queries = %q", exec.queries)
	}
	entry := lastEntry(t, buf)
	if entry["level"] != "debug" || entry["sql"] != testMarker || entry["op"] != "exec" {
		t.Fatalf("log entry = %v", entry)
	}
}

func TestExecSlowStatementLogsWarn(t *testing.T) {
	exec := &stubExecutor{delay: 20 * time.Millisecond}
	runner, buf := newTestRunner(exec, 5*time.Millisecond)

	if _, err := runner.Exec(context.Background(), "--sql "+testMarker+"\nSELECT pg_sleep(0)"); err != nil {
		t.Fatalf("Exec returned error: %v", err)
	}
	entry := lastEntry(t, buf)
	if entry["level"] != "warn" || entry["slow"] != true {
		t.Fatalf("log entry = %v", entry)
	}
}

func TestExecFailureLogsError(t *testing.T) {
	exec := &stubExecutor{err: errors.New("connection reset")}
	runner, buf := newTestRunner(exec, time.Second)

	if _, err := runner.Exec(context.Background(), "--sql "+testMarker+"\nDELETE FROM tasks"); err == nil {
		t.Fatalf("expected Exec error")
	}
	entry := lastEntry(t, buf)
	if entry["level"] != "error" || entry["error"] != "connection reset" {
		t.Fatalf("log entry = %v", entry)
	}
}

func TestExecWithoutMarkerNeverReachesPool(t *testing.T) {
	exec := &stubExecutor{}
	runner, _ := newTestRunner(exec, time.Second)

	if _, err := runner.Exec(context.Background(), "SELECT 1"); err == nil {
		t.Fatalf("expected error for unmarked query")
	}
	if err := runner.QueryRow(context.Background(), "SELECT 1").Scan(); err == nil {
		t.Fatalf("expected error from QueryRow for unmarked query")
	}
	if len(exec.queries) != 0 {
		t.Fatalf("queries = %q, want none", exec.queries)
	}
}

func TestQueryRowNoRowsIsNotAnError(t *testing.T) {
	exec := &stubExecutor{err: pgx.ErrNoRows}
	runner, buf := newTestRunner(exec, time.Second)

	err := runner.QueryRow(context.Background(), "--sql "+testMarker+"\nSELECT id FROM tasks").Scan()
	if !IsNoRows(err) {
		t.Fatalf("Scan error = %v, want ErrNoRows", err)
	}
	entry := lastEntry(t, buf)
	if entry["level"] != "debug" || entry["no_rows"] != true {
		t.Fatalf("log entry = %v", entry)
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("scan: %w", pgx.ErrNoRows)) {
		t.Fatalf("IsNoRows(wrapped ErrNoRows) = false")
	}
	if IsNoRows(errors.New("boom")) {
		t.Fatalf("IsNoRows(other) = true")
	}
}
