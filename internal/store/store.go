package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrStorage marks persistence-medium failures (disk full, permission
// denied, corruption). Non-retryable by the store; callers decide.
var ErrStorage = errors.New("storage unavailable")

// Store is the single arbitration point for all captured records. All
// writers from all goroutines funnel through one sqlite connection, so each
// append is atomic with respect to every other append.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the capture database and runs migration.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: %w: path is empty", ErrStorage)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: %w: create directory: %v", ErrStorage, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: %w: open: %v", ErrStorage, err)
	}
	// One connection serializes concurrent writers at the pool level.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS network_traffic (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT,
			method TEXT,
			url TEXT,
			status_code INTEGER,
			request_headers TEXT,
			response_headers TEXT,
			request_body TEXT,
			response_body TEXT,
			source TEXT DEFAULT 'proxy'
		);`,
		`CREATE TABLE IF NOT EXISTS frida_hooks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT,
			hook_type TEXT,
			function_name TEXT,
			parameters TEXT,
			return_value TEXT,
			additional_data TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS scraped_articles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT,
			title TEXT,
			url TEXT,
			content TEXT,
			metadata TEXT,
			extraction_method TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_traffic_ts ON network_traffic(timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_hooks_ts ON frida_hooks(timestamp);`,
		`CREATE INDEX IF NOT EXISTS idx_articles_ts ON scraped_articles(timestamp);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: %w: migrate: %v", ErrStorage, err)
		}
	}
	return nil
}

// AppendTraffic inserts one traffic row and returns its generated id.
func (s *Store) AppendTraffic(ctx context.Context, rec TrafficRecord) (int64, error) {
	if rec.Timestamp == "" {
		rec.Timestamp = NowISO()
	}
	if rec.Source == "" {
		rec.Source = "proxy"
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO network_traffic
		(timestamp, method, url, status_code, request_headers, response_headers, request_body, response_body, source)
		VALUES (?,?,?,?,?,?,?,?,?);`,
		rec.Timestamp,
		rec.Method,
		rec.URL,
		nullableInt(rec.StatusCode),
		nullable(rec.RequestHeaders),
		nullable(rec.ResponseHeaders),
		nullable(rec.RequestBody),
		nullable(rec.ResponseBody),
		rec.Source,
	)
	if err != nil {
		return 0, fmt.Errorf("store: %w: insert traffic: %v", ErrStorage, err)
	}
	return res.LastInsertId()
}

// AppendHook inserts one hook row and returns its generated id.
func (s *Store) AppendHook(ctx context.Context, rec HookRecord) (int64, error) {
	if rec.Timestamp == "" {
		rec.Timestamp = NowISO()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO frida_hooks
		(timestamp, hook_type, function_name, parameters, return_value, additional_data)
		VALUES (?,?,?,?,?,?);`,
		rec.Timestamp,
		rec.HookType,
		rec.FunctionName,
		nullable(rec.Parameters),
		nullable(rec.ReturnValue),
		nullable(rec.AdditionalData),
	)
	if err != nil {
		return 0, fmt.Errorf("store: %w: insert hook: %v", ErrStorage, err)
	}
	return res.LastInsertId()
}

// AppendArtifact inserts one extracted-artifact row and returns its id.
func (s *Store) AppendArtifact(ctx context.Context, rec ArtifactRecord) (int64, error) {
	if rec.Timestamp == "" {
		rec.Timestamp = NowISO()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scraped_articles
		(timestamp, title, url, content, metadata, extraction_method)
		VALUES (?,?,?,?,?,?);`,
		rec.Timestamp,
		rec.Title,
		rec.URL,
		nullable(rec.Content),
		nullable(rec.Metadata),
		rec.ExtractionMethod,
	)
	if err != nil {
		return 0, fmt.Errorf("store: %w: insert artifact: %v", ErrStorage, err)
	}
	return res.LastInsertId()
}

// Count returns the total row count for a record kind.
func (s *Store) Count(ctx context.Context, kind Kind) (int64, error) {
	switch kind {
	case KindTraffic, KindHook, KindArtifact:
	default:
		return 0, fmt.Errorf("store: unknown kind %q", kind)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+string(kind)).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: %w: count %s: %v", ErrStorage, kind, err)
	}
	return n, nil
}

// RecentArtifacts returns the newest artifacts, newest first, at most limit.
func (s *Store) RecentArtifacts(ctx context.Context, limit int) ([]ArtifactRecord, error) {
	if limit <= 0 {
		limit = 3
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, title, url,
		       COALESCE(content, ''), COALESCE(metadata, ''), extraction_method
		FROM scraped_articles
		ORDER BY timestamp DESC, id DESC
		LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: %w: recent artifacts: %v", ErrStorage, err)
	}
	defer rows.Close()

	var out []ArtifactRecord
	for rows.Next() {
		var rec ArtifactRecord
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Title, &rec.URL,
			&rec.Content, &rec.Metadata, &rec.ExtractionMethod); err != nil {
			return nil, fmt.Errorf("store: %w: scan artifact: %v", ErrStorage, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: %w: recent artifacts rows: %v", ErrStorage, err)
	}
	return out, nil
}

// RecentHooks returns the newest hook rows, newest first, at most limit.
func (s *Store) RecentHooks(ctx context.Context, limit int) ([]HookRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, hook_type, function_name,
		       COALESCE(parameters, ''), COALESCE(return_value, ''), COALESCE(additional_data, '')
		FROM frida_hooks
		ORDER BY timestamp DESC, id DESC
		LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: %w: recent hooks: %v", ErrStorage, err)
	}
	defer rows.Close()

	var out []HookRecord
	for rows.Next() {
		var rec HookRecord
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.HookType, &rec.FunctionName,
			&rec.Parameters, &rec.ReturnValue, &rec.AdditionalData); err != nil {
			return nil, fmt.Errorf("store: %w: scan hook: %v", ErrStorage, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: %w: recent hooks rows: %v", ErrStorage, err)
	}
	return out, nil
}

// RecentTraffic returns the newest traffic rows, newest first, at most limit.
func (s *Store) RecentTraffic(ctx context.Context, limit int) ([]TrafficRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, method, url, status_code,
		       COALESCE(request_headers, ''), COALESCE(response_headers, ''),
		       COALESCE(request_body, ''), COALESCE(response_body, ''), source
		FROM network_traffic
		ORDER BY timestamp DESC, id DESC
		LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: %w: recent traffic: %v", ErrStorage, err)
	}
	defer rows.Close()

	var out []TrafficRecord
	for rows.Next() {
		var rec TrafficRecord
		var status sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.Method, &rec.URL, &status,
			&rec.RequestHeaders, &rec.ResponseHeaders,
			&rec.RequestBody, &rec.ResponseBody, &rec.Source); err != nil {
			return nil, fmt.Errorf("store: %w: scan traffic: %v", ErrStorage, err)
		}
		if status.Valid {
			v := int(status.Int64)
			rec.StatusCode = &v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: %w: recent traffic rows: %v", ErrStorage, err)
	}
	return out, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
