package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "clockd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- schedules ----

const scheduleCols = `id, name, start_time, end_time, weekdays, movement_id, active, created_by, created_at, updated_at`

func (s *sqliteStore) ActiveSchedules(ctx context.Context) ([]ScheduleRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (s *sqliteStore) Schedules(ctx context.Context) ([]ScheduleRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (s *sqliteStore) ScheduleByID(ctx context.Context, id string) (ScheduleRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules WHERE id = ?`, id)
	rec, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ScheduleRecord{}, ErrNotFound
	}
	return rec, err
}

func (s *sqliteStore) PutSchedule(ctx context.Context, rec ScheduleRecord) error {
	days, err := json.Marshal(rec.Weekdays)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schedules(`+scheduleCols+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Name, rec.StartTime, rec.EndTime, string(days), rec.MovementID,
		boolInt(rec.Active), rec.CreatedBy, fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt))
	return err
}

func (s *sqliteStore) UpdateSchedule(ctx context.Context, rec ScheduleRecord) error {
	days, err := json.Marshal(rec.Weekdays)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET name=?, start_time=?, end_time=?, weekdays=?, movement_id=?, active=?, updated_at=?
		 WHERE id=?`,
		rec.Name, rec.StartTime, rec.EndTime, string(days), rec.MovementID,
		boolInt(rec.Active), fmtTime(rec.UpdatedAt), rec.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (ScheduleRecord, error) {
	var rec ScheduleRecord
	var days string
	var active int
	var created, updated string
	err := row.Scan(&rec.ID, &rec.Name, &rec.StartTime, &rec.EndTime, &days,
		&rec.MovementID, &active, &rec.CreatedBy, &created, &updated)
	if err != nil {
		return ScheduleRecord{}, err
	}
	if err := json.Unmarshal([]byte(days), &rec.Weekdays); err != nil {
		// Tolerate a corrupt weekday blob; validation downstream rejects the record.
		rec.Weekdays = nil
	}
	rec.Active = active != 0
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	return rec, nil
}

func scanSchedules(rows *sql.Rows) ([]ScheduleRecord, error) {
	var out []ScheduleRecord
	for rows.Next() {
		rec, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ---- movements ----

const movementCols = `id, name, description, duration, direction_general,
	hours_direction, hours_speed, hours_angle,
	minutes_direction, minutes_speed, minutes_angle,
	created_by, created_at, updated_at`

func (s *sqliteStore) Movements(ctx context.Context) ([]MovementDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+movementCols+` FROM movements ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MovementDefinition
	for rows.Next() {
		def, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MovementByID(ctx context.Context, id string) (MovementDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+movementCols+` FROM movements WHERE id = ?`, id)
	def, err := scanMovement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MovementDefinition{}, ErrNotFound
	}
	return def, err
}

func (s *sqliteStore) MovementByName(ctx context.Context, name string) (MovementDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+movementCols+` FROM movements WHERE name = ? ORDER BY created_at LIMIT 1`, name)
	def, err := scanMovement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MovementDefinition{}, ErrNotFound
	}
	return def, err
}

func (s *sqliteStore) PutMovement(ctx context.Context, def MovementDefinition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO movements(`+movementCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		def.ID, def.Name, def.Description, def.Duration, def.General,
		def.Hours.Direction, def.Hours.Speed, def.Hours.Angle,
		def.Minutes.Direction, def.Minutes.Speed, def.Minutes.Angle,
		def.CreatedBy, fmtTime(def.CreatedAt), fmtTime(def.UpdatedAt))
	return err
}

func (s *sqliteStore) UpdateMovement(ctx context.Context, def MovementDefinition) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE movements SET name=?, description=?, duration=?, direction_general=?,
		 hours_direction=?, hours_speed=?, hours_angle=?,
		 minutes_direction=?, minutes_speed=?, minutes_angle=?, updated_at=?
		 WHERE id=?`,
		def.Name, def.Description, def.Duration, def.General,
		def.Hours.Direction, def.Hours.Speed, def.Hours.Angle,
		def.Minutes.Direction, def.Minutes.Speed, def.Minutes.Angle,
		fmtTime(def.UpdatedAt), def.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) DeleteMovement(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM movements WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanMovement(row rowScanner) (MovementDefinition, error) {
	var def MovementDefinition
	var created, updated string
	err := row.Scan(&def.ID, &def.Name, &def.Description, &def.Duration, &def.General,
		&def.Hours.Direction, &def.Hours.Speed, &def.Hours.Angle,
		&def.Minutes.Direction, &def.Minutes.Speed, &def.Minutes.Angle,
		&def.CreatedBy, &created, &updated)
	if err != nil {
		return MovementDefinition{}, err
	}
	def.CreatedAt = parseTime(created)
	def.UpdatedAt = parseTime(updated)
	return def, nil
}

// ---- current movement ----

// The current movement is a one-row document keyed by a fixed id, stored as
// a JSON blob: it is a denormalized snapshot of a movement, not a relation.
const currentMovementKey = "current"

func (s *sqliteStore) CurrentMovement(ctx context.Context) (MovementDefinition, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM current_movement WHERE id = ?`, currentMovementKey).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return MovementDefinition{}, ErrNotFound
	}
	if err != nil {
		return MovementDefinition{}, err
	}
	var def MovementDefinition
	if err := json.Unmarshal([]byte(doc), &def); err != nil {
		return MovementDefinition{}, fmt.Errorf("current movement document corrupt: %w", err)
	}
	return def, nil
}

func (s *sqliteStore) SetCurrentMovement(ctx context.Context, def MovementDefinition) error {
	doc, err := json.Marshal(def)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO current_movement(id, doc, updated_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at`,
		currentMovementKey, string(doc), fmtTime(time.Now()))
	return err
}

// ---- executions ----

func (s *sqliteStore) AppendExecution(ctx context.Context, e ExecutionLogEntry) error {
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(id, schedule_id, schedule_name, movement_id, movement_name, executed_at, success, error, device_ip)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ScheduleID, e.ScheduleName, e.MovementID, e.MovementName,
		fmtTime(e.ExecutedAt), boolInt(e.Success), nullStr(e.Error), e.DeviceIP)
	return err
}

func (s *sqliteStore) RecentExecutions(ctx context.Context, limit int) ([]ExecutionLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, schedule_id, schedule_name, movement_id, movement_name, executed_at, success, error, device_ip
		 FROM executions ORDER BY executed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionLogEntry
	for rows.Next() {
		var e ExecutionLogEntry
		var at string
		var success int
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.ScheduleID, &e.ScheduleName, &e.MovementID,
			&e.MovementName, &at, &success, &errMsg, &e.DeviceIP); err != nil {
			return nil, err
		}
		e.ExecutedAt = parseTime(at)
		e.Success = success != 0
		e.Error = errMsg.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- users ----

func (s *sqliteStore) Users(ctx context.Context) ([]UserRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, password_hash, display_name, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserRecord
	for rows.Next() {
		var u UserRecord
		var created string
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &created); err != nil {
			return nil, err
		}
		u.CreatedAt = parseTime(created)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UserByUsername(ctx context.Context, username string) (UserRecord, error) {
	var u UserRecord
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, display_name, created_at FROM users WHERE username = ?`,
		username).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.DisplayName, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return UserRecord{}, ErrNotFound
	}
	if err != nil {
		return UserRecord{}, err
	}
	u.CreatedAt = parseTime(created)
	return u, nil
}

func (s *sqliteStore) PutUser(ctx context.Context, u UserRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, username, password_hash, display_name, created_at) VALUES(?,?,?,?,?)`,
		u.ID, u.Username, u.PasswordHash, u.DisplayName, fmtTime(u.CreatedAt))
	return err
}

func (s *sqliteStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *sqliteStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// ---- helpers ----

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
