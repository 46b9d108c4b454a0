package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/skywatch/skywatch/internal/grouping"
	"github.com/skywatch/skywatch/internal/types"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL flavour of a SQLStore
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// SQLStore persists alerts and events through database/sql
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQL opens a SQL store for driver ("postgres", "mysql" or "sqlite") and dsn.
// For sqlite the dsn is a file path.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	dialect, driverName, err := resolveDriver(driver)
	if err != nil {
		return nil, err
	}
	if dialect == DialectMySQL {
		if dsn, err = normalizeMySQLDSN(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	if dialect == DialectSQLite {
		// one writer at a time; WAL lets readers proceed
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set WAL: %w", err)
		}
	}
	return NewSQLStore(db, dialect), nil
}

// NewSQLStore wraps an already opened database
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func resolveDriver(driver string) (Dialect, string, error) {
	switch driver {
	case "postgres", "postgresql", "pgx":
		// pgx/v5/stdlib registers as "pgx"
		return DialectPostgres, "pgx", nil
	case "mysql":
		return DialectMySQL, "mysql", nil
	case "sqlite", "sqlite3":
		return DialectSQLite, "sqlite", nil
	}
	return "", "", fmt.Errorf("unsupported storage driver %q", driver)
}

// normalizeMySQLDSN forces time parsing in UTC so DATETIME columns scan into time.Time
func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// Ping verifies connectivity
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// schema returns the DDL for the dialect
func (s *SQLStore) schema() []string {
	ts, float := "TIMESTAMPTZ", "DOUBLE PRECISION"
	switch s.dialect {
	case DialectMySQL:
		ts, float = "DATETIME(6)", "DOUBLE"
	case DialectSQLite:
		ts, float = "TIMESTAMP", "REAL"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id            VARCHAR(64) PRIMARY KEY,
			user_id       VARCHAR(64) NOT NULL,
			location_text VARCHAR(255) NOT NULL,
			lat           ` + float + ` NULL,
			lon           ` + float + ` NULL,
			parameter     VARCHAR(64) NOT NULL,
			operator      VARCHAR(2) NOT NULL,
			threshold     ` + float + ` NOT NULL,
			description   TEXT,
			units         VARCHAR(16) NOT NULL,
			status        VARCHAR(16) NOT NULL,
			evaluated_at  ` + ts + ` NULL,
			created_at    ` + ts + ` NOT NULL,
			updated_at    ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS triggered_events (
			id            VARCHAR(64) PRIMARY KEY,
			alert_id      VARCHAR(64) NOT NULL,
			user_id       VARCHAR(64) NOT NULL,
			location_text VARCHAR(255) NOT NULL,
			parameter     VARCHAR(64) NOT NULL,
			operator      VARCHAR(2) NOT NULL,
			threshold     ` + float + ` NOT NULL,
			current_value ` + float + ` NOT NULL,
			triggered_at  ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_notifications (
			event_id VARCHAR(64) NOT NULL,
			channel  VARCHAR(64) NOT NULL,
			sent     BOOLEAN NOT NULL,
			sent_at  ` + ts + ` NULL,
			PRIMARY KEY (event_id, channel)
		)`,
	}
}

// EnsureSchema creates the tables if they do not exist
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const alertColumns = `id, user_id, location_text, lat, lon, parameter, operator, threshold,
	description, units, status, evaluated_at, created_at, updated_at`

// ListAlerts returns all alerts ordered by creation time
func (s *SQLStore) ListAlerts(ctx context.Context) ([]types.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+alertColumns+` FROM alerts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []types.Alert
	for rows.Next() {
		var (
			a           types.Alert
			lat, lon    sql.NullFloat64
			description sql.NullString
			evaluatedAt sql.NullTime
			operator    string
			units       string
			status      string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Location.Text, &lat, &lon, &a.Parameter, &operator,
			&a.Threshold, &description, &units, &status, &evaluatedAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if lat.Valid {
			v := lat.Float64
			a.Location.Lat = &v
		}
		if lon.Valid {
			v := lon.Float64
			a.Location.Lon = &v
		}
		a.Operator = types.Operator(operator)
		a.Units = types.Units(units)
		a.Description = description.String
		a.TriggerStatus.Status = types.Status(status)
		if evaluatedAt.Valid {
			a.TriggerStatus.EvaluatedAt = evaluatedAt.Time
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// LoadAllGroupedByLocation returns all alerts grouped by exact location
func (s *SQLStore) LoadAllGroupedByLocation(ctx context.Context) ([]types.LocationGroup, error) {
	alerts, err := s.ListAlerts(ctx)
	if err != nil {
		return nil, err
	}
	return grouping.Group(alerts), nil
}

// UpdateTriggerStatuses runs both status updates in one transaction
func (s *SQLStore) UpdateTriggerStatuses(ctx context.Context, triggeredIDs, notTriggeredIDs []string, at time.Time) (int64, error) {
	if len(triggeredIDs) == 0 && len(notTriggeredIDs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, batch := range []struct {
		status types.Status
		ids    []string
	}{
		{types.StatusTriggered, triggeredIDs},
		{types.StatusNotTriggered, notTriggeredIDs},
	} {
		if len(batch.ids) == 0 {
			continue
		}
		args := make([]any, 0, len(batch.ids)+2)
		args = append(args, string(batch.status), at.UTC())
		for _, id := range batch.ids {
			args = append(args, id)
		}
		query := s.rebind(`UPDATE alerts SET status = ?, evaluated_at = ? WHERE id IN (` + placeholders(len(batch.ids)) + `)`)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("update %s statuses: %w", batch.status, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit status update: %w", err)
	}
	return total, nil
}

// CreateAlert inserts a new alert
func (s *SQLStore) CreateAlert(ctx context.Context, alert types.Alert) error {
	if alert.ID == "" {
		return fmt.Errorf("create alert: id is required")
	}
	var exists int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM alerts WHERE id = ?`), alert.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("create alert %s: %w", alert.ID, err)
	}
	if exists > 0 {
		return fmt.Errorf("alert %s: %w", alert.ID, ErrAlreadyExists)
	}

	now := time.Now().UTC()
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = now
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = now
	}
	status := alert.TriggerStatus.Status
	if status == "" {
		status = types.StatusNotTriggered
	}
	var evaluatedAt sql.NullTime
	if !alert.TriggerStatus.EvaluatedAt.IsZero() {
		evaluatedAt = sql.NullTime{Time: alert.TriggerStatus.EvaluatedAt.UTC(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		alert.ID, alert.UserID, alert.Location.Text, nullFloat(alert.Location.Lat), nullFloat(alert.Location.Lon),
		alert.Parameter, string(alert.Operator), alert.Threshold, alert.Description,
		string(alert.Units.OrDefault()), string(status), evaluatedAt, alert.CreatedAt.UTC(), alert.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", alert.ID, err)
	}
	return nil
}

// DeleteAlert removes an alert. Its events are kept.
func (s *SQLStore) DeleteAlert(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM alerts WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete alert %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return nil
}

// Append stores an event and its channel rows in one transaction
func (s *SQLStore) Append(ctx context.Context, evt types.TriggeredEvent) (string, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO triggered_events
		(id, alert_id, user_id, location_text, parameter, operator, threshold, current_value, triggered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		evt.ID, evt.AlertID, evt.UserID, evt.Location, evt.Parameter, string(evt.Operator),
		evt.Threshold, evt.CurrentValue, evt.TriggeredAt.UTC())
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}

	for channel, d := range evt.Notifications {
		var sentAt sql.NullTime
		if d.SentAt != nil {
			sentAt = sql.NullTime{Time: d.SentAt.UTC(), Valid: true}
		}
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO event_notifications (event_id, channel, sent, sent_at)
			VALUES (?, ?, ?, ?)`), evt.ID, channel, d.Sent, sentAt)
		if err != nil {
			return "", fmt.Errorf("insert notification %s: %w", channel, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit append: %w", err)
	}
	return evt.ID, nil
}

// MarkNotificationSent flags one channel of an event as delivered
func (s *SQLStore) MarkNotificationSent(ctx context.Context, eventID, channel string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`UPDATE event_notifications SET sent = ?, sent_at = ?
		WHERE event_id = ? AND channel = ?`), true, at.UTC(), eventID, channel)
	if err != nil {
		return fmt.Errorf("mark %s/%s sent: %w", eventID, channel, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s channel %s: %w", eventID, channel, ErrNotFound)
	}
	return nil
}

const eventColumns = `id, alert_id, user_id, location_text, parameter, operator, threshold, current_value, triggered_at`

// ListRecent returns up to limit events, newest first
func (s *SQLStore) ListRecent(ctx context.Context, limit int) ([]types.TriggeredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM triggered_events
		ORDER BY triggered_at DESC, id LIMIT ?`, limit)
}

// ListPending returns events with at least one unsent channel, oldest first
func (s *SQLStore) ListPending(ctx context.Context) ([]types.TriggeredEvent, error) {
	return s.queryEvents(ctx, `SELECT `+eventColumns+` FROM triggered_events
		WHERE id IN (SELECT event_id FROM event_notifications WHERE sent = ?)
		ORDER BY triggered_at, id`, false)
}

func (s *SQLStore) queryEvents(ctx context.Context, query string, args ...any) ([]types.TriggeredEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	var (
		events []types.TriggeredEvent
		ids    []string
	)
	for rows.Next() {
		var (
			e        types.TriggeredEvent
			operator string
		)
		if err := rows.Scan(&e.ID, &e.AlertID, &e.UserID, &e.Location, &e.Parameter, &operator,
			&e.Threshold, &e.CurrentValue, &e.TriggeredAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Operator = types.Operator(operator)
		e.Notifications = make(map[string]types.Delivery)
		events = append(events, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return events, nil
	}
	deliveries, err := s.loadNotifications(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range events {
		for ch, d := range deliveries[events[i].ID] {
			events[i].Notifications[ch] = d
		}
	}
	return events, nil
}

func (s *SQLStore) loadNotifications(ctx context.Context, eventIDs []string) (map[string]map[string]types.Delivery, error) {
	args := make([]any, len(eventIDs))
	for i, id := range eventIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT event_id, channel, sent, sent_at
		FROM event_notifications WHERE event_id IN (`+placeholders(len(eventIDs))+`)`), args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]types.Delivery)
	for rows.Next() {
		var (
			eventID, channel string
			sent             bool
			sentAt           sql.NullTime
		)
		if err := rows.Scan(&eventID, &channel, &sent, &sentAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		d := types.Delivery{Sent: sent}
		if sentAt.Valid {
			t := sentAt.Time
			d.SentAt = &t
		}
		if out[eventID] == nil {
			out[eventID] = make(map[string]types.Delivery)
		}
		out[eventID][channel] = d
	}
	return out, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// IsNotFound reports whether err wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
