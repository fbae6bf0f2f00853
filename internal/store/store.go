// Package store persists the scan queue and the thumbnail cache index.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/raaihank/photo-sentinel/internal/logger"
	"github.com/raaihank/photo-sentinel/internal/pii"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	insertChunk = 500
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uri TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'pending',
		findings TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		processing_started_at INTEGER,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_images_status ON images (status, id)`,
	`CREATE TABLE IF NOT EXISTS cache_index (
		original_uri TEXT NOT NULL,
		size_bucket INTEGER NOT NULL,
		cached_uri TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (original_uri, size_bucket)
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS images (
		id BIGSERIAL PRIMARY KEY,
		uri TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'pending',
		findings TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		processing_started_at BIGINT,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_images_status ON images (status, id)`,
	`CREATE TABLE IF NOT EXISTS cache_index (
		original_uri TEXT NOT NULL,
		size_bucket INTEGER NOT NULL,
		cached_uri TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (original_uri, size_bucket)
	)`,
}

const imageColumns = `id, uri, status, findings, attempts, processing_started_at, updated_at`

// Store is the scan queue backed by sqlite or PostgreSQL
type Store struct {
	db     *sqlx.DB
	driver string
	logger *logger.Logger
	now    func() time.Time
}

// Open connects to the configured database and creates the schema
func Open(ctx context.Context, config *Config, log *logger.Logger) (*Store, error) {
	driver, dsn, err := dataSource(config)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if driver == DriverSQLite {
		// sqlite allows a single writer
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	s := &Store{
		db:     db,
		driver: driver,
		logger: log.WithComponent("store"),
		now:    time.Now,
	}

	if err := s.initialize(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	s.logger.Info("Scan store initialized",
		zap.String("driver", driver),
		zap.String("dsn", maskDatabaseURL(dsn)),
		zap.Int("max_open_conns", maxOpen))

	return s, nil
}

func dataSource(config *Config) (string, string, error) {
	switch config.Driver {
	case "", DriverSQLite:
		if config.Path == "" {
			return "", "", fmt.Errorf("sqlite path is required")
		}
		if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
			return "", "", fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn := "file:" + config.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		return DriverSQLite, dsn, nil
	case DriverPostgres:
		if config.DSN == "" {
			return "", "", fmt.Errorf("postgres dsn is required")
		}
		return DriverPostgres, config.DSN, nil
	default:
		return "", "", fmt.Errorf("unsupported storage driver: %s", config.Driver)
	}
}

func (s *Store) initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	schema := sqliteSchema
	if s.driver == DriverPostgres {
		schema = postgresSchema
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CacheIndex returns the thumbnail index sharing this database
func (s *Store) CacheIndex() *CacheIndex {
	return &CacheIndex{store: s}
}

func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

// InsertPending adds every unknown URI as Pending in one transaction and
// returns how many were new. Known URIs keep their status.
func (s *Store) InsertPending(ctx context.Context, uris []string) (int64, error) {
	if len(uris) == 0 {
		return 0, nil
	}

	start := time.Now()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().Unix()
	var inserted int64

	for offset := 0; offset < len(uris); offset += insertChunk {
		end := offset + insertChunk
		if end > len(uris) {
			end = len(uris)
		}
		chunk := uris[offset:end]

		valueStrings := make([]string, 0, len(chunk))
		valueArgs := make([]interface{}, 0, len(chunk)*3)
		for _, uri := range chunk {
			valueStrings = append(valueStrings, "(?, ?, ?)")
			valueArgs = append(valueArgs, uri, string(StatusPending), now)
		}

		query := fmt.Sprintf(`
			INSERT INTO images (uri, status, updated_at)
			VALUES %s
			ON CONFLICT (uri) DO NOTHING`, strings.Join(valueStrings, ","))

		res, err := tx.ExecContext(ctx, s.rebind(query), valueArgs...)
		if err != nil {
			return 0, fmt.Errorf("failed to insert pending images: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to count inserted images: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit pending images: %w", err)
	}

	s.logger.Debug("Pending images inserted",
		zap.Int("offered", len(uris)),
		zap.Int64("inserted", inserted),
		zap.Duration("duration", time.Since(start)))

	return inserted, nil
}

// ListPending returns up to limit Pending records, oldest first. A limit of
// zero or less returns all of them.
func (s *Store) ListPending(ctx context.Context, limit int) ([]ScanRecord, error) {
	return s.ListRecords(ctx, RecordFilter{Statuses: []Status{StatusPending}, Limit: limit})
}

// MarkProcessing moves a Pending record to Processing. It reports false when
// the record is missing or no longer Pending.
func (s *Store) MarkProcessing(ctx context.Context, uri string) (bool, error) {
	now := s.now().Unix()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE images
		SET status = ?, processing_started_at = ?, updated_at = ?
		WHERE uri = ? AND status = ?`),
		string(StatusProcessing), now, now, uri, string(StatusPending))
	if err != nil {
		return false, fmt.Errorf("failed to mark image processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark image processing: %w", err)
	}
	return n == 1, nil
}

// Complete records the outcome of a successful scan
func (s *Store) Complete(ctx context.Context, uri string, status Status, findings []pii.Finding) error {
	if !status.Terminal() || !CanTransition(StatusProcessing, status) {
		return &TransitionError{URI: uri, From: StatusProcessing, To: status}
	}

	var encoded *string
	if len(findings) > 0 {
		data, err := json.Marshal(findings)
		if err != nil {
			return fmt.Errorf("failed to encode findings: %w", err)
		}
		value := string(data)
		encoded = &value
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE images
		SET status = ?, findings = ?, processing_started_at = NULL, updated_at = ?
		WHERE uri = ? AND status = ?`),
		string(status), encoded, s.now().Unix(), uri, string(StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to complete image: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to complete image: %w", err)
	} else if n == 0 {
		return s.rejectTransition(ctx, uri, status)
	}
	return nil
}

// Fail reverts a Processing record after an error. The record goes back to
// Pending, or to Failed once it has used maxAttempts.
func (s *Store) Fail(ctx context.Context, uri string, maxAttempts int) (Status, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row imageRow
	err = tx.GetContext(ctx, &row, s.rebind(`SELECT `+imageColumns+` FROM images WHERE uri = ?`), uri)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load image: %w", err)
	}
	if Status(row.Status) != StatusProcessing {
		return "", &TransitionError{URI: uri, From: Status(row.Status), To: StatusPending}
	}

	attempts := row.Attempts + 1
	next := StatusPending
	if maxAttempts > 0 && attempts >= maxAttempts {
		next = StatusFailed
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE images
		SET status = ?, attempts = ?, processing_started_at = NULL, updated_at = ?
		WHERE id = ?`),
		string(next), attempts, s.now().Unix(), row.ID); err != nil {
		return "", fmt.Errorf("failed to revert image: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit revert: %w", err)
	}
	return next, nil
}

// ReclaimStale returns Processing records whose lease started before the
// given time to Pending, counting the lost run as an attempt. Records that
// reach maxAttempts this way become Failed.
func (s *Store) ReclaimStale(ctx context.Context, before time.Time, maxAttempts int) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now().Unix()
	cutoff := before.Unix()
	var total int64

	if maxAttempts > 0 {
		res, err := tx.ExecContext(ctx, s.rebind(`
			UPDATE images
			SET status = ?, attempts = attempts + 1, processing_started_at = NULL, updated_at = ?
			WHERE status = ? AND processing_started_at < ? AND attempts + 1 >= ?`),
			string(StatusFailed), now, string(StatusProcessing), cutoff, maxAttempts)
		if err != nil {
			return 0, fmt.Errorf("failed to fail stale images: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE images
		SET status = ?, attempts = attempts + 1, processing_started_at = NULL, updated_at = ?
		WHERE status = ? AND processing_started_at < ?`),
		string(StatusPending), now, string(StatusProcessing), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale images: %w", err)
	}
	n, _ := res.RowsAffected()
	total += n

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reclaim: %w", err)
	}

	if total > 0 {
		s.logger.Warn("Reclaimed stale processing leases",
			zap.Int64("count", total),
			zap.Time("before", before))
	}
	return total, nil
}

// ResetAll returns every record to Pending and clears findings and attempts
func (s *Store) ResetAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE images
		SET status = ?, findings = NULL, attempts = 0, processing_started_at = NULL, updated_at = ?`),
		string(StatusPending), s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to reset images: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to reset images: %w", err)
	}

	s.logger.Info("Scan queue reset", zap.Int64("records", n))
	return n, nil
}

// GetStatus returns the status of uri, reporting false when it is unknown
func (s *Store) GetStatus(ctx context.Context, uri string) (Status, bool, error) {
	var status string
	err := s.db.GetContext(ctx, &status, s.rebind(`SELECT status FROM images WHERE uri = ?`), uri)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get status: %w", err)
	}
	return Status(status), true, nil
}

// GetRecord returns the full record for uri
func (s *Store) GetRecord(ctx context.Context, uri string) (*ScanRecord, error) {
	var row imageRow
	err := s.db.GetContext(ctx, &row, s.rebind(`SELECT `+imageColumns+` FROM images WHERE uri = ?`), uri)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	record, err := row.record()
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Progress returns processed and total counts
func (s *Store) Progress(ctx context.Context) (Progress, error) {
	var p Progress
	err := s.db.QueryRowxContext(ctx, s.rebind(`
		SELECT
			COUNT(*) AS total,
			COUNT(CASE WHEN status <> ? THEN 1 END) AS processed
		FROM images`), string(StatusPending)).Scan(&p.Total, &p.Processed)
	if err != nil {
		return Progress{}, fmt.Errorf("failed to get progress: %w", err)
	}
	return p, nil
}

// CountByStatus returns the number of records in every status, zeros included
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int64, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT status, COUNT(*) FROM images GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int64, len(AllStatuses))
	for _, status := range AllStatuses {
		counts[status] = 0
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}
	return counts, nil
}

// ListRecords pages through records in id order
func (s *Store) ListRecords(ctx context.Context, filter RecordFilter) ([]ScanRecord, error) {
	where := []string{"id > ?"}
	args := []interface{}{filter.AfterID}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ",")+")")
	}

	query := `SELECT ` + imageColumns + ` FROM images WHERE ` + strings.Join(where, " AND ") + ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var rows []imageRow
	if err := s.db.SelectContext(ctx, &rows, s.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	records := make([]ScanRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.record()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// rejectTransition builds the error for a conditional update that matched nothing
func (s *Store) rejectTransition(ctx context.Context, uri string, to Status) error {
	current, found, err := s.GetStatus(ctx, uri)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return &TransitionError{URI: uri, From: current, To: to}
}

func (r imageRow) record() (ScanRecord, error) {
	record := ScanRecord{
		ID:        r.ID,
		URI:       r.URI,
		Status:    Status(r.Status),
		Attempts:  r.Attempts,
		UpdatedAt: time.Unix(r.UpdatedAt, 0),
	}
	if r.ProcessingStartedAt != nil {
		started := time.Unix(*r.ProcessingStartedAt, 0)
		record.ProcessingStartedAt = &started
	}
	if r.Findings != nil && *r.Findings != "" {
		if err := json.Unmarshal([]byte(*r.Findings), &record.Findings); err != nil {
			return ScanRecord{}, fmt.Errorf("failed to decode findings for %s: %w", r.URI, err)
		}
	}
	return record, nil
}

// maskDatabaseURL masks the password in a connection string for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	scheme := strings.Index(userPart, "://")
	if colon < 0 || colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
