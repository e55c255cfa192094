// Vigilo - Streaming Security Telemetry Anomaly Detection
// Copyright 2026 Vigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilosec/vigilo

// Package store persists the pipeline's queryable states in DuckDB:
// normalized session events, verdicts, dispatched alerts, and the fused
// score history the calibrator primes from. It is an audit surface, not
// a pipeline dependency; callers are expected to log-and-continue when
// it is unavailable.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/vigilosec/vigilo/internal/config"
	"github.com/vigilosec/vigilo/internal/logging"
	"github.com/vigilosec/vigilo/internal/metrics"
	"github.com/vigilosec/vigilo/internal/models"
)

// Store wraps the DuckDB connection behind typed reads and writes.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (or creates) the DuckDB database at cfg.Path, applies the
// schema, and configures the connection pool. Path ":memory:" is
// supported for tests and embedded runs.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d", cfg.Path, threads)
	if cfg.MaxMemory != "" {
		connStr += "&max_memory=" + cfg.MaxMemory
	}

	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(threads)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:  db,
		log: logging.With().Str("component", "store").Logger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	s.log.Info().
		Str("path", cfg.Path).
		Int("threads", threads).
		Msg("Store opened")
	return s, nil
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close checkpoints and closes the database.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		s.log.Warn().Err(err).Msg("Checkpoint before close failed")
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS session_events (
			event_time        TIMESTAMP NOT NULL,
			session_id        TEXT NOT NULL,
			user_id           TEXT,
			source_ip         TEXT,
			action            TEXT NOT NULL,
			resource          TEXT,
			status_code       INTEGER,
			bytes_transferred BIGINT,
			attack_type       TEXT,
			is_malicious      BOOLEAN
		)`,

		`CREATE TABLE IF NOT EXISTS verdicts (
			session_id   TEXT NOT NULL,
			user_id      TEXT,
			source_ip    TEXT,
			scored_at    TIMESTAMP NOT NULL,
			event_count  INTEGER NOT NULL,
			fused_score  DOUBLE NOT NULL,
			decision     TEXT NOT NULL,
			threshold    DOUBLE NOT NULL,
			disagreement BOOLEAN NOT NULL,
			scores       JSON,
			degraded     JSON,
			labeled      BOOLEAN NOT NULL,
			malicious    BOOLEAN NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			alert_id            TEXT PRIMARY KEY,
			session_id          TEXT NOT NULL,
			created_at          TIMESTAMP NOT NULL,
			fused_score         DOUBLE NOT NULL,
			threshold           DOUBLE NOT NULL,
			severity            TEXT NOT NULL,
			technique           TEXT,
			disagreement        BOOLEAN NOT NULL,
			user_id             TEXT,
			source_ip           TEXT,
			contributing_models JSON,
			status              TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS score_history (
			session_id  TEXT NOT NULL,
			fused_score DOUBLE NOT NULL,
			benign      BOOLEAN NOT NULL,
			scored_at   TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_events_session ON session_events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_time ON session_events(event_time DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_scored_at ON verdicts(scored_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_session ON verdicts(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_verdicts_decision ON verdicts(decision)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_session ON alerts(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity)`,
		`CREATE INDEX IF NOT EXISTS idx_scores_scored_at ON score_history(scored_at DESC)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("schema query: %w", err)
		}
	}

	// Flush the schema to disk so a crash right after startup does not
	// leave a WAL that replays DDL.
	if _, err := s.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		s.log.Warn().Err(err).Msg("Checkpoint after schema initialization failed")
	}
	return nil
}

// InsertEvents writes a batch of normalized events in one transaction.
// All-or-nothing: any failure rolls the whole batch back.
func (s *Store) InsertEvents(ctx context.Context, events []models.SessionEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert", "session_events", time.Since(start), err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.log.Error().Err(rbErr).AnErr("original_error", err).Msg("Batch rollback failed")
			}
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO session_events (
		event_time, session_id, user_id, source_ip, action, resource,
		status_code, bytes_transferred, attack_type, is_malicious
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		e := &events[i]
		if _, err = stmt.ExecContext(ctx,
			e.Timestamp, e.SessionID, e.UserID, e.SourceIP, e.Action,
			e.Resource, e.StatusCode, e.BytesTransferred, e.AttackType, e.IsMalicious,
		); err != nil {
			return fmt.Errorf("insert event %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	metrics.RecordDBBatch(len(events))
	return nil
}

// SaveVerdict persists a verdict and its score-history row in one
// transaction. The history row carries the benign flag the calibrator
// filters on: false only for sessions labeled malicious.
func (s *Store) SaveVerdict(ctx context.Context, v *models.Verdict) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert", "verdicts", time.Since(start), err) }()

	scores, err := json.Marshal(v.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	var degraded []byte
	if len(v.Degraded) > 0 {
		if degraded, err = json.Marshal(v.Degraded); err != nil {
			return fmt.Errorf("marshal degraded models: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.log.Error().Err(rbErr).AnErr("original_error", err).Msg("Verdict rollback failed")
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT INTO verdicts (
		session_id, user_id, source_ip, scored_at, event_count, fused_score,
		decision, threshold, disagreement, scores, degraded, labeled, malicious
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.SessionID, v.UserID, v.SourceIP, v.ScoredAt, v.EventCount, v.FusedScore,
		string(v.Decision), v.Threshold, v.Disagreement, scores, degraded, v.Labeled, v.Malicious,
	); err != nil {
		return fmt.Errorf("insert verdict: %w", err)
	}

	benign := !(v.Labeled && v.Malicious)
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO score_history (session_id, fused_score, benign, scored_at) VALUES (?, ?, ?, ?)`,
		v.SessionID, v.FusedScore, benign, v.ScoredAt,
	); err != nil {
		return fmt.Errorf("insert score history: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit verdict: %w", err)
	}
	return nil
}

// SaveAlert persists a dispatched alert.
func (s *Store) SaveAlert(ctx context.Context, a *models.Alert) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert", "alerts", time.Since(start), err) }()

	contributing, err := json.Marshal(a.ContributingModels)
	if err != nil {
		return fmt.Errorf("marshal contributing models: %w", err)
	}

	if _, err = s.db.ExecContext(ctx, `INSERT INTO alerts (
		alert_id, session_id, created_at, fused_score, threshold, severity,
		technique, disagreement, user_id, source_ip, contributing_models, status
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AlertID, a.SessionID, a.CreatedAt, a.FusedScore, a.Threshold, string(a.Severity),
		a.Technique, a.Disagreement, a.Enrichment.UserID, a.Enrichment.SourceIP, contributing, string(a.Status),
	); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// UpdateAlertStatus records a delivery-status change, e.g. when the
// replayer redelivers a parked alert.
func (s *Store) UpdateAlertStatus(ctx context.Context, alertID string, status models.DeliveryStatus) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("update", "alerts", time.Since(start), err) }()

	if _, err = s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ? WHERE alert_id = ?`, string(status), alertID,
	); err != nil {
		return fmt.Errorf("update alert status: %w", err)
	}
	return nil
}

// RecentBenignScores returns up to limit of the most recent benign fused
// scores in chronological order, for priming the calibrator on restart.
func (s *Store) RecentBenignScores(ctx context.Context, limit int) (scores []float64, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("select", "score_history", time.Since(start), err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT fused_score FROM (
			SELECT fused_score, scored_at FROM score_history
			WHERE benign ORDER BY scored_at DESC LIMIT ?
		) ORDER BY scored_at ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("query benign scores: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var score float64
		if err := rows.Scan(&score); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}

// RecentAlerts returns alerts created at or after since, oldest first,
// for warming the dispatcher's cool-down ledger on restart.
func (s *Store) RecentAlerts(ctx context.Context, since time.Time) (alerts []models.Alert, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("select", "alerts", time.Since(start), err) }()

	rows, err := s.db.QueryContext(ctx,
		alertSelectColumns+` FROM alerts WHERE created_at >= ? ORDER BY created_at ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("query recent alerts: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// AlertFilter narrows ListAlerts and CountAlerts.
type AlertFilter struct {
	SessionID  string
	Severities []string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

// ListAlerts returns alerts matching the filter, newest first.
func (s *Store) ListAlerts(ctx context.Context, filter AlertFilter) (alerts []models.Alert, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("select", "alerts", time.Since(start), err) }()

	query, args := buildAlertFilter(alertSelectColumns+` FROM alerts WHERE 1=1`, filter)
	query += " ORDER BY created_at DESC"
	query, args = applyPagination(query, args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// CountAlerts returns the number of alerts matching the filter.
func (s *Store) CountAlerts(ctx context.Context, filter AlertFilter) (count int, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("select", "alerts", time.Since(start), err) }()

	query, args := buildAlertFilter(`SELECT COUNT(*) FROM alerts WHERE 1=1`, filter)
	if err = s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return count, nil
}

// VerdictFilter narrows ListVerdicts and CountVerdicts.
type VerdictFilter struct {
	SessionID string
	Decisions []string
	Since     *time.Time
	Limit     int
	Offset    int
}

// ListVerdicts returns verdicts matching the filter, newest first.
func (s *Store) ListVerdicts(ctx context.Context, filter VerdictFilter) (verdicts []models.Verdict, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("select", "verdicts", time.Since(start), err) }()

	query, args := buildVerdictFilter(`SELECT session_id, user_id, source_ip, scored_at,
		event_count, fused_score, decision, threshold, disagreement, scores, degraded,
		labeled, malicious FROM verdicts WHERE 1=1`, filter)
	query += " ORDER BY scored_at DESC"
	query, args = applyPagination(query, args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v models.Verdict
		if err := scanVerdictRow(rows, &v); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		verdicts = append(verdicts, v)
	}
	return verdicts, rows.Err()
}

// CountVerdicts returns the number of verdicts matching the filter.
func (s *Store) CountVerdicts(ctx context.Context, filter VerdictFilter) (count int, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("select", "verdicts", time.Since(start), err) }()

	query, args := buildVerdictFilter(`SELECT COUNT(*) FROM verdicts WHERE 1=1`, filter)
	if err = s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count verdicts: %w", err)
	}
	return count, nil
}

// PruneBefore deletes rows older than cutoff from every table.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("delete", "all", time.Since(start), err) }()

	prunes := []struct {
		table  string
		column string
	}{
		{"session_events", "event_time"},
		{"verdicts", "scored_at"},
		{"alerts", "created_at"},
		{"score_history", "scored_at"},
	}
	for _, p := range prunes {
		query := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", p.table, p.column)
		result, execErr := s.db.ExecContext(ctx, query, cutoff)
		if execErr != nil {
			return fmt.Errorf("prune %s: %w", p.table, execErr)
		}
		if removed, raErr := result.RowsAffected(); raErr == nil && removed > 0 {
			s.log.Debug().
				Str("table", p.table).
				Int64("rows", removed).
				Time("cutoff", cutoff).
				Msg("Pruned expired rows")
		}
	}
	return nil
}

const alertSelectColumns = `SELECT alert_id, session_id, created_at, fused_score,
	threshold, severity, technique, disagreement, user_id, source_ip,
	contributing_models, status`

// buildAlertFilter appends WHERE clauses for the filter. All values are
// parameterized.
func buildAlertFilter(query string, filter AlertFilter) (string, []interface{}) {
	args := make([]interface{}, 0)

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if len(filter.Severities) > 0 {
		query += fmt.Sprintf(" AND severity IN (%s)", placeholders(len(filter.Severities)))
		for _, sev := range filter.Severities {
			args = append(args, sev)
		}
	}
	if filter.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		query += " AND created_at <= ?"
		args = append(args, *filter.Until)
	}
	return query, args
}

func buildVerdictFilter(query string, filter VerdictFilter) (string, []interface{}) {
	args := make([]interface{}, 0)

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if len(filter.Decisions) > 0 {
		query += fmt.Sprintf(" AND decision IN (%s)", placeholders(len(filter.Decisions)))
		for _, d := range filter.Decisions {
			args = append(args, d)
		}
	}
	if filter.Since != nil {
		query += " AND scored_at >= ?"
		args = append(args, *filter.Since)
	}
	return query, args
}

func applyPagination(query string, args []interface{}, limit, offset int) (string, []interface{}) {
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}

func placeholders(count int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", count), ", ")
}

func scanAlertRow(scanner interface {
	Scan(dest ...interface{}) error
}, a *models.Alert) error {
	var (
		severity     string
		status       string
		contributing interface{}
	)
	if err := scanner.Scan(
		&a.AlertID,
		&a.SessionID,
		&a.CreatedAt,
		&a.FusedScore,
		&a.Threshold,
		&severity,
		&a.Technique,
		&a.Disagreement,
		&a.Enrichment.UserID,
		&a.Enrichment.SourceIP,
		&contributing,
		&status,
	); err != nil {
		return err
	}
	a.Severity = models.Severity(severity)
	a.Status = models.DeliveryStatus(status)
	return decodeJSONColumn(contributing, &a.ContributingModels)
}

func scanAlerts(rows *sql.Rows) ([]models.Alert, error) {
	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		if err := scanAlertRow(rows, &a); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func scanVerdictRow(scanner interface {
	Scan(dest ...interface{}) error
}, v *models.Verdict) error {
	var (
		decision string
		scores   interface{}
		degraded interface{}
	)
	if err := scanner.Scan(
		&v.SessionID,
		&v.UserID,
		&v.SourceIP,
		&v.ScoredAt,
		&v.EventCount,
		&v.FusedScore,
		&decision,
		&v.Threshold,
		&v.Disagreement,
		&scores,
		&degraded,
		&v.Labeled,
		&v.Malicious,
	); err != nil {
		return err
	}
	v.Decision = models.Decision(decision)
	if err := decodeJSONColumn(scores, &v.Scores); err != nil {
		return err
	}
	return decodeJSONColumn(degraded, &v.Degraded)
}

// decodeJSONColumn converts whatever shape the driver hands back for a
// JSON column into the typed destination. DuckDB may return []byte, a
// string, or an already-decoded Go value depending on the column.
func decodeJSONColumn(column interface{}, dst interface{}) error {
	if column == nil {
		return nil
	}
	var raw []byte
	switch c := column.(type) {
	case []byte:
		raw = c
	case string:
		raw = []byte(c)
	default:
		var err error
		if raw, err = json.Marshal(c); err != nil {
			return fmt.Errorf("re-encode json column: %w", err)
		}
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
