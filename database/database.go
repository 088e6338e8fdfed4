package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"saferoute/config"
	"saferoute/metrics"

	"github.com/apex/log"
	"github.com/go-sql-driver/mysql"
)

const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213

	defaultMaxRetries   = 5
	defaultRetryBackoff = 25 * time.Millisecond
)

// ErrReportNotFound is returned for unknown or expired reports
var ErrReportNotFound = errors.New("report not found")

// Database handles all database operations
type Database struct {
	db           *sql.DB
	maxRetries   int
	retryBackoff time.Duration
}

// NewDatabase creates a new database connection
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&loc=UTC&multiStatements=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Infof("Database connected successfully to %s:%s/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)

	return New(db), nil
}

// New wraps an open connection pool
func New(db *sql.DB) *Database {
	return &Database{
		db:           db,
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultRetryBackoff,
	}
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Ping checks the connection
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

var schema = []struct {
	table string
	query string
}{
	{"users_reputation", `
		CREATE TABLE IF NOT EXISTS users_reputation (
			user_id VARCHAR(255) NOT NULL,
			report_count BIGINT NOT NULL DEFAULT 0,
			avg_confidence DOUBLE NOT NULL DEFAULT 0,
			image_analysis_count BIGINT NOT NULL DEFAULT 0,
			avg_image_score DOUBLE NOT NULL DEFAULT 0,
			high_credibility_count BIGINT NOT NULL DEFAULT 0,
			safety_violation_count BIGINT NOT NULL DEFAULT 0,
			labels JSON NOT NULL,
			credibility INT NOT NULL DEFAULT 75,
			updated_at DATETIME(6) NOT NULL,
			PRIMARY KEY (user_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`},
	{"reports", `
		CREATE TABLE IF NOT EXISTS reports (
			id CHAR(36) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			category VARCHAR(32) NOT NULL,
			description TEXT NOT NULL,
			severity ENUM('low', 'medium', 'high') NOT NULL,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			location_name VARCHAR(255) NOT NULL DEFAULT '',
			city VARCHAR(255) NOT NULL DEFAULT '',
			region VARCHAR(255) NOT NULL DEFAULT '',
			address VARCHAR(512) NOT NULL DEFAULT '',
			has_photo BOOLEAN NOT NULL DEFAULT FALSE,
			photo LONGBLOB,
			confidence INT NOT NULL,
			status ENUM('published', 'unpublished', 'rejected') NOT NULL,
			comment_count INT NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			expires_at DATETIME(6) NOT NULL,
			PRIMARY KEY (id),
			INDEX user_id_index (user_id),
			INDEX status_expires_index (status, expires_at),
			INDEX lat_lng_index (latitude, longitude)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`},
	{"report_evidence", `
		CREATE TABLE IF NOT EXISTS report_evidence (
			report_id CHAR(36) NOT NULL,
			seq INT NOT NULL,
			source VARCHAR(32) NOT NULL,
			score DOUBLE NOT NULL,
			detail VARCHAR(512) NOT NULL DEFAULT '',
			created_at DATETIME(6) NOT NULL,
			PRIMARY KEY (report_id, seq),
			FOREIGN KEY (report_id) REFERENCES reports(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`},
	{"report_comments", `
		CREATE TABLE IF NOT EXISTS report_comments (
			id CHAR(36) NOT NULL,
			report_id CHAR(36) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			body TEXT NOT NULL,
			created_at DATETIME(6) NOT NULL,
			expires_at DATETIME(6) NOT NULL,
			PRIMARY KEY (id),
			INDEX report_created_index (report_id, created_at),
			FOREIGN KEY (report_id) REFERENCES reports(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`},
}

// EnsureSchema creates every table the service uses if it doesn't exist
func (d *Database) EnsureSchema(ctx context.Context) error {
	for _, t := range schema {
		if _, err := d.db.ExecContext(ctx, t.query); err != nil {
			return fmt.Errorf("failed to create %s table: %w", t.table, err)
		}
		log.Infof("Table %s ensured", t.table)
	}
	return nil
}

// retryable reports whether err is a lock conflict that a fresh transaction may resolve
func retryable(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlErrDeadlock || mysqlErr.Number == mysqlErrLockWaitTimeout
	}
	return false
}

// withTx runs fn in a transaction, retrying lock conflicts with linear backoff
func (d *Database) withTx(ctx context.Context, name string, fn func(*sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		err = d.runTx(ctx, fn)
		if err == nil || !retryable(err) {
			return err
		}
		metrics.LedgerConflicts.Inc()
		if attempt == d.maxRetries {
			break
		}
		log.WithError(err).WithFields(log.Fields{"tx": name, "attempt": attempt}).Warn("lock conflict, retrying transaction")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * d.retryBackoff):
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", name, d.maxRetries, err)
}

func (d *Database) runTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Warnf("Failed to roll back transaction: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// PurgeExpired deletes reports and comments whose retention window has passed
func (d *Database) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for _, query := range []string{
		"DELETE FROM report_comments WHERE expires_at <= ?",
		"DELETE FROM reports WHERE expires_at <= ?",
	} {
		res, err := d.db.ExecContext(ctx, query, now.UTC())
		if err != nil {
			return total, fmt.Errorf("failed to purge expired rows: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
