package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const queueSize = 1000

// ErrLoggerClosed is returned by Log once Close has been called.
var ErrLoggerClosed = errors.New("audit logger is closed")

// Logger persists audit events to the audit_log table and appends them as
// JSON lines to a file. In async mode events are written by a background worker.
type Logger struct {
	db         *sql.DB
	logFile    *os.File
	log        *zap.Logger
	asyncMode  bool
	eventQueue chan *Event
	wg         sync.WaitGroup
	mu         sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
	now        func() time.Time
}

// NewLogger creates a new audit logger. The audit_log table is created by the
// schema migrations.
func NewLogger(db *sql.DB, logFilePath string, asyncMode bool, log *zap.Logger) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logFilePath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	logger := &Logger{
		db:        db,
		logFile:   logFile,
		log:       log.Named("audit"),
		asyncMode: asyncMode,
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}

	if asyncMode {
		logger.eventQueue = make(chan *Event, queueSize)
		logger.startAsyncLogger()
	}

	return logger, nil
}

// Log records an audit event. It fails with ErrLoggerClosed after Close.
func (al *Logger) Log(event *Event) error {
	al.mu.RLock()
	defer al.mu.RUnlock()

	if al.ctx.Err() != nil {
		return ErrLoggerClosed
	}

	event.Timestamp = al.now().UTC()

	if al.asyncMode {
		select {
		case al.eventQueue <- event:
			return nil
		default:
			return fmt.Errorf("audit log queue is full")
		}
	}

	return al.writeEvent(context.Background(), event)
}

// writeEvent writes event to database and file
func (al *Logger) writeEvent(ctx context.Context, event *Event) error {
	query := `
        INSERT INTO audit_log (
            timestamp, level, user_id, username, action, resource,
            success, error_msg, metadata
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `

	result, err := al.db.ExecContext(ctx, query,
		event.Timestamp,
		string(event.Level),
		event.UserID,
		sql.NullString{String: event.Username, Valid: event.Username != ""},
		event.Action,
		event.Resource,
		event.Success,
		event.ErrorMsg,
		event.Metadata,
	)
	if err != nil {
		// the file copy is still written
		al.log.Error("failed to write audit event to database",
			zap.String("action", event.Action),
			zap.Error(err),
		)
	} else {
		event.ID, _ = result.LastInsertId()
	}

	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := al.logFile.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write to log file: %w", err)
	}

	return nil
}

// startAsyncLogger starts async logging worker
func (al *Logger) startAsyncLogger() {
	al.wg.Add(1)
	go func() {
		defer al.wg.Done()
		for {
			select {
			case event := <-al.eventQueue:
				if err := al.writeEvent(context.Background(), event); err != nil {
					al.log.Error("failed to write audit event", zap.Error(err))
				}
			case <-al.ctx.Done():
				al.drain()
				return
			}
		}
	}()
}

// drain flushes events still queued at shutdown.
func (al *Logger) drain() {
	for len(al.eventQueue) > 0 {
		event := <-al.eventQueue
		if err := al.writeEvent(context.Background(), event); err != nil {
			al.log.Error("failed to write audit event", zap.Error(err))
		}
	}
}

// QueryLogs queries audit logs with filters, newest first
func (al *Logger) QueryLogs(ctx context.Context, filters QueryFilters) ([]*Event, error) {
	query := `
        SELECT id, timestamp, level, user_id, username, action, resource,
               success, error_msg, metadata
        FROM audit_log
        WHERE 1=1
    `

	args := []interface{}{}

	if filters.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, filters.StartTime.UTC())
	}

	if filters.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, filters.EndTime.UTC())
	}

	if filters.UserID != nil {
		query += " AND user_id = ?"
		args = append(args, *filters.UserID)
	}

	if filters.Action != "" {
		query += " AND action = ?"
		args = append(args, filters.Action)
	}

	if filters.Level != "" {
		query += " AND level = ?"
		args = append(args, string(filters.Level))
	}

	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	if filters.Limit <= 0 {
		filters.Limit = 100
	}
	args = append(args, filters.Limit)

	rows, err := al.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			event    Event
			level    string
			userID   sql.NullString
			username sql.NullString
			errorMsg sql.NullString
			metadata sql.NullString
		)
		err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&level,
			&userID,
			&username,
			&event.Action,
			&event.Resource,
			&event.Success,
			&errorMsg,
			&metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		event.Level = LogLevel(level)
		if userID.Valid {
			event.UserID = &userID.String
		}
		event.Username = username.String
		event.ErrorMsg = errorMsg.String
		event.Metadata = metadata.String

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return events, nil
}

// CountByUsername counts events with the given action per username between
// since and until, keeping only usernames seen at least atLeast times. Counting
// happens in SQL so no row cap applies. Results are ordered by username.
func (al *Logger) CountByUsername(ctx context.Context, action string, since, until time.Time, atLeast int) ([]UsernameCount, error) {
	query := `
        SELECT username, MAX(user_id), COUNT(*)
        FROM audit_log
        WHERE action = ?
          AND username IS NOT NULL
          AND timestamp >= ?
          AND timestamp <= ?
        GROUP BY username
        HAVING COUNT(*) >= ?
        ORDER BY username
    `

	rows, err := al.db.QueryContext(ctx, query, action, since.UTC(), until.UTC(), atLeast)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}
	defer rows.Close()

	var counts []UsernameCount
	for rows.Next() {
		var (
			c      UsernameCount
			userID sql.NullString
		)
		if err := rows.Scan(&c.Username, &userID, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan audit count: %w", err)
		}
		if userID.Valid {
			c.UserID = &userID.String
		}
		counts = append(counts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return counts, nil
}

// Close stops the async worker, flushing queued events, and closes the file.
// Events logged before Close returns are never dropped.
func (al *Logger) Close() error {
	al.mu.Lock()
	al.cancel()
	al.mu.Unlock()

	al.wg.Wait()

	return al.logFile.Close()
}
