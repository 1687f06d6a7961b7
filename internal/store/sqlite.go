package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/metalbank/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrLoanNotFound is returned when a repayment targets a missing loan.
var ErrLoanNotFound = errors.New("loan not found")

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	sessionMu sync.Mutex // Mutex for session operations to prevent SQLITE_BUSY

	// Per-name locks serialize conflicting ledger writes so concurrent
	// cancellations for the same entity cannot race: the second request
	// runs after the first commits and finds zero open loans.
	nameMu    sync.Mutex
	nameLocks map[string]*sync.Mutex
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{
		db:        db,
		nameLocks: make(map[string]*sync.Mutex),
	}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS loans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		amount REAL NOT NULL,
		interest_rate_percent REAL NOT NULL,
		repaid_amount REAL NOT NULL DEFAULT 0,
		loan_open INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_loans_name ON loans(name);

	CREATE TABLE IF NOT EXISTS sessions (
		app TEXT NOT NULL,
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		secret_discovered INTEGER NOT NULL DEFAULT 0,
		entity_name TEXT NOT NULL DEFAULT '',
		quoted_rate REAL,
		messages_json TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (app, user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// lockName returns the mutex guarding ledger writes for a normalized name.
func (s *SQLiteStore) lockName(name string) *sync.Mutex {
	s.nameMu.Lock()
	defer s.nameMu.Unlock()
	mu, ok := s.nameLocks[name]
	if !ok {
		mu = &sync.Mutex{}
		s.nameLocks[name] = mu
	}
	return mu
}

// CreateLoan inserts a new loan and returns its generated id.
func (s *SQLiteStore) CreateLoan(ctx context.Context, name string, amount, ratePercent float64) (int64, error) {
	name = domain.NormalizeEntityName(name)
	mu := s.lockName(name)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create loan: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().Unix()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO loans (name, amount, interest_rate_percent, repaid_amount, loan_open, created_at, updated_at)
		VALUES (?, ?, ?, 0, 1, ?, ?)`,
		name, amount, ratePercent, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert loan: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("loan insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create loan: %w", err)
	}
	return id, nil
}

const loanColumns = `id, name, amount, interest_rate_percent, repaid_amount, loan_open, created_at, updated_at`

func scanLoan(row interface{ Scan(...any) error }) (*domain.Loan, error) {
	var loan domain.Loan
	var open int
	var createdAt, updatedAt int64

	err := row.Scan(
		&loan.ID, &loan.Name, &loan.Amount, &loan.InterestRatePercent,
		&loan.RepaidAmount, &open, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	loan.Open = open != 0
	loan.CreatedAt = time.Unix(createdAt, 0)
	loan.UpdatedAt = time.Unix(updatedAt, 0)
	return &loan, nil
}

func (s *SQLiteStore) queryLoans(ctx context.Context, query string, args ...any) ([]*domain.Loan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query loans: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close loan rows", "error", closeErr)
		}
	}()

	var loans []*domain.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate loans: %w", err)
	}
	return loans, nil
}

// GetLoansByName returns all loans for a name ordered by id ascending.
func (s *SQLiteStore) GetLoansByName(ctx context.Context, name string) ([]*domain.Loan, error) {
	name = domain.NormalizeEntityName(name)
	query := `SELECT ` + loanColumns + ` FROM loans WHERE name = ? ORDER BY id ASC`
	return s.queryLoans(ctx, query, name)
}

// GetAllLoans returns every loan ordered by id ascending.
func (s *SQLiteStore) GetAllLoans(ctx context.Context) ([]*domain.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans ORDER BY id ASC`
	return s.queryLoans(ctx, query)
}

// CancelOpenLoans deletes all open loans for a name in one statement.
func (s *SQLiteStore) CancelOpenLoans(ctx context.Context, name string) (int64, error) {
	name = domain.NormalizeEntityName(name)
	mu := s.lockName(name)
	mu.Lock()
	defer mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM loans WHERE name = ? AND loan_open = 1`, name)
	if err != nil {
		return 0, fmt.Errorf("cancel open loans: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel rows affected: %w", err)
	}
	return deleted, nil
}

// CancelOpenLoansConfirmed deletes open loans for a name after an explicit
// confirmation round-trip. The delete set is computed once up front and
// applied as a single transaction, so a decline or failure mid-way never
// leaves a partial deletion behind.
func (s *SQLiteStore) CancelOpenLoansConfirmed(ctx context.Context, name string, confirm ConfirmFunc) (bool, error) {
	name = domain.NormalizeEntityName(name)
	mu := s.lockName(name)
	mu.Lock()
	defer mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM loans WHERE name = ? AND loan_open = 1 ORDER BY id ASC`, name)
	if err != nil {
		return false, fmt.Errorf("query open loans: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return false, fmt.Errorf("scan open loan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return false, fmt.Errorf("iterate open loans: %w", err)
	}
	if closeErr := rows.Close(); closeErr != nil {
		slog.Warn("failed to close open loan rows", "error", closeErr)
	}

	// Nothing to cancel: succeed without bothering the confirmer.
	if len(ids) == 0 {
		return true, nil
	}

	ok, err := confirm(ctx, len(ids))
	if err != nil {
		return false, fmt.Errorf("cancellation confirmation: %w", err)
	}
	if !ok {
		return false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin cancel transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM loans WHERE id = ?`)
	if err != nil {
		return false, fmt.Errorf("prepare cancel delete: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			slog.Warn("failed to close cancel statement", "error", closeErr)
		}
	}()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return false, fmt.Errorf("delete loan %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit cancel transaction: %w", err)
	}
	return true, nil
}

// RecordRepayment adds to a loan's repaid amount, closing the loan when
// the principal is fully covered. The interest rate is never touched.
func (s *SQLiteStore) RecordRepayment(ctx context.Context, loanID int64, amount float64) (*domain.Loan, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin repayment: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, loanID)
	loan, err := scanLoan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repayment for loan %d: %w", loanID, ErrLoanNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan loan for repayment: %w", err)
	}

	loan.RepaidAmount += amount
	if loan.RepaidAmount >= loan.Amount {
		loan.Open = false
	}
	loan.UpdatedAt = time.Now()

	openVal := 0
	if loan.Open {
		openVal = 1
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE loans SET repaid_amount = ?, loan_open = ?, updated_at = ? WHERE id = ?`,
		loan.RepaidAmount, openVal, loan.UpdatedAt.Unix(), loan.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update repayment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit repayment: %w", err)
	}
	return loan, nil
}

// GetSession retrieves session state, or nil if absent.
func (s *SQLiteStore) GetSession(ctx context.Context, app, userID, sessionID string) (*domain.Session, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.getSessionLocked(ctx, app, userID, sessionID)
}

func (s *SQLiteStore) getSessionLocked(ctx context.Context, app, userID, sessionID string) (*domain.Session, error) {
	query := `
		SELECT app, user_id, session_id, secret_discovered, entity_name,
		       quoted_rate, messages_json, created_at, updated_at
		FROM sessions WHERE app = ? AND user_id = ? AND session_id = ?`

	row := s.db.QueryRowContext(ctx, query, app, userID, sessionID)

	var session domain.Session
	var discovered int
	var quotedRate sql.NullFloat64
	var messagesJSON string
	var createdAt, updatedAt int64

	err := row.Scan(
		&session.App, &session.UserID, &session.SessionID,
		&discovered, &session.EntityName,
		&quotedRate, &messagesJSON,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	session.SecretDiscovered = discovered != 0
	if quotedRate.Valid {
		rate := quotedRate.Float64
		session.QuotedRate = &rate
	}
	if messagesJSON != "" {
		if err := json.Unmarshal([]byte(messagesJSON), &session.Messages); err != nil {
			return nil, fmt.Errorf("decode session messages: %w", err)
		}
	}
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)

	return &session, nil
}

// GetOrCreateSession returns existing session state, creating empty state
// atomically when none exists.
func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, app, userID, sessionID string) (*domain.Session, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (app, user_id, session_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		app, userID, sessionID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	session, err := s.getSessionLocked(ctx, app, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("session vanished after create: %s/%s/%s", app, userID, sessionID)
	}
	return session, nil
}

// UpsertSession persists session state. MAX() keeps the discovery flag
// monotonic: a stale write can set it but never clear it.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *domain.Session) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	messagesJSON, err := json.Marshal(session.Messages)
	if err != nil {
		return fmt.Errorf("encode session messages: %w", err)
	}

	discovered := 0
	if session.SecretDiscovered {
		discovered = 1
	}

	var quotedRate interface{}
	if session.QuotedRate != nil {
		quotedRate = *session.QuotedRate
	}

	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO sessions (
			app, user_id, session_id, secret_discovered, entity_name,
			quoted_rate, messages_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app, user_id, session_id) DO UPDATE SET
			secret_discovered = MAX(excluded.secret_discovered, sessions.secret_discovered),
			entity_name = excluded.entity_name,
			quoted_rate = excluded.quoted_rate,
			messages_json = excluded.messages_json,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		session.App, session.UserID, session.SessionID,
		discovered, session.EntityName,
		quotedRate, string(messagesJSON),
		createdAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// DeleteSession removes session state permanently.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY errors.
func (s *SQLiteStore) DeleteSession(ctx context.Context, app, userID, sessionID string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		err := s.deleteSessionOnce(ctx, app, userID, sessionID)
		if err == nil {
			return nil
		}

		if isSQLiteConflict(err) {
			if i < maxRetries-1 {
				delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
				slog.Debug("DeleteSession failed with SQLITE_BUSY, retrying",
					"user_id", userID,
					"session_id", sessionID,
					"attempt", i+1,
					"delay", delay)
				time.Sleep(delay)
				continue
			}
		}

		// Non-retryable error or max retries exceeded
		return fmt.Errorf("delete session %s/%s/%s after %d attempts: %w", app, userID, sessionID, maxRetries, err)
	}

	return nil
}

func (s *SQLiteStore) deleteSessionOnce(ctx context.Context, app, userID, sessionID string) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE app = ? AND user_id = ? AND session_id = ?`,
		app, userID, sessionID,
	)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// isSQLiteConflict reports whether err is a SQLITE_BUSY or "database is
// locked" concurrency error, both of which warrant a retry.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// CleanupExpiredSessions removes sessions idle longer than ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return result.RowsAffected()
}
