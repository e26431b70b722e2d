// Package postgres provides the PostgreSQL-backed Store implementation.
// It uses pgx/v5 (pure Go, no CGO) and runs embedded migrations at startup.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cotrans/gateway/auth"
	"github.com/cotrans/gateway/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB implements store.Store using PostgreSQL via pgx/v5.
type DB struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool, runs migrations, and returns a ready DB.
func Open(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &DB{pool: pool}, nil
}

// RunMigrations applies all pending up-migrations against dsn.
// Safe to call multiple times — ErrNoChange is treated as success.
// Called by initdb (as exported) and by Open (internally).
func RunMigrations(dsn string) error { return runMigrations(dsn) }

func runMigrations(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("iofs source: %w", err)
	}
	migrateURL := toMigrateURL(dsn)
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL)
	if err != nil {
		return fmt.Errorf("migrate.New: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// toMigrateURL converts a postgres:// or postgresql:// DSN to the pgx5://
// scheme expected by golang-migrate's pgx/v5 driver.
func toMigrateURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + dsn[len(prefix):]
		}
	}
	return "pgx5://" + dsn
}

func (d *DB) Close() error {
	d.pool.Close()
	return nil
}

// SeedAdminUser creates an admin user with the given credentials only when the
// users table is empty (i.e. fresh deployment). It is a no-op if any user
// already exists.
func (d *DB) SeedAdminUser(ctx context.Context, username, password string) error {
	var count int
	if err := d.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil // already seeded
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = d.CreateUser(ctx, username, hash, "admin")
	return err
}

// ---- task rows ----

func (d *DB) UpsertTask(ctx context.Context, key store.TaskKey, sourceImageID string, retry bool) (*store.TaskRow, bool, error) {
	var row store.TaskRow
	var created bool
	err := d.pool.QueryRow(ctx, `
		INSERT INTO task (
			id, source_image_id, target_language, detector, direction, translator, size,
			worker_revision, state, failed_count
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'pending', 0)
		ON CONFLICT (source_image_id, target_language, detector, direction, translator, size, worker_revision)
		DO UPDATE SET
			state             = CASE WHEN $9 THEN 'pending' ELSE task.state END,
			translation_mask  = CASE WHEN $9 THEN NULL ELSE task.translation_mask END
		RETURNING
			id, source_image_id, target_language, detector, direction, translator, size,
			worker_revision, state, last_attempted_at, failed_count, translation_mask,
			(xmax = 0) AS created
	`,
		uuid.NewString(), sourceImageID, key.TargetLanguage, key.Detector, key.Direction,
		key.Translator, key.Size, key.WorkerRevision, retry,
	).Scan(
		&row.ID, &row.SourceImageID, &row.TargetLanguage, &row.Detector, &row.Direction,
		&row.Translator, &row.Size, &row.WorkerRevision, &row.State, &row.LastAttemptedAt,
		&row.FailedCount, &row.TranslationMask, &created,
	)
	if err != nil {
		return nil, false, err
	}
	return &row, created, nil
}

func (d *DB) GetTask(ctx context.Context, id string) (*store.TaskRow, error) {
	var row store.TaskRow
	err := d.pool.QueryRow(ctx, `
		SELECT id, source_image_id, target_language, detector, direction, translator, size,
		       worker_revision, state, last_attempted_at, failed_count, translation_mask
		FROM task WHERE id = $1
	`, id).Scan(
		&row.ID, &row.SourceImageID, &row.TargetLanguage, &row.Detector, &row.Direction,
		&row.Translator, &row.Size, &row.WorkerRevision, &row.State, &row.LastAttemptedAt,
		&row.FailedCount, &row.TranslationMask,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) SetTaskRunning(ctx context.Context, id string) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE task SET state = 'running', last_attempted_at = now() WHERE id = $1
	`, id)
	return err
}

func (d *DB) SetTaskDone(ctx context.Context, id string, maskKey string) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE task SET state = 'done', translation_mask = $2 WHERE id = $1
	`, id, maskKey)
	return err
}

func (d *DB) SetTaskFailed(ctx context.Context, id string, failedCount int) error {
	_, err := d.pool.Exec(ctx, `
		UPDATE task SET state = 'error', failed_count = $2 WHERE id = $1
	`, id, failedCount)
	return err
}

func (d *DB) ListTasksForRecovery(ctx context.Context, workerRevision int) ([]*store.TaskRow, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, source_image_id, target_language, detector, direction, translator, size,
		       worker_revision, state, last_attempted_at, failed_count, translation_mask
		FROM task
		WHERE worker_revision = $1
		ORDER BY id
	`, workerRevision)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.TaskRow
	for rows.Next() {
		var row store.TaskRow
		if err := rows.Scan(
			&row.ID, &row.SourceImageID, &row.TargetLanguage, &row.Detector, &row.Direction,
			&row.Translator, &row.Size, &row.WorkerRevision, &row.State, &row.LastAttemptedAt,
			&row.FailedCount, &row.TranslationMask,
		); err != nil {
			return nil, err
		}
		out = append(out, &row)
	}
	return out, rows.Err()
}

// ---- users ----

func (d *DB) CreateUser(ctx context.Context, username, passwordHash, role string) (*store.User, error) {
	var u store.User
	err := d.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id, username, password_hash, role, created_at, updated_at
	`, username, passwordHash, role).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *DB) GetUser(ctx context.Context, id int64) (*store.User, error) {
	var u store.User
	err := d.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, role, created_at, updated_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

func (d *DB) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	var u store.User
	err := d.pool.QueryRow(ctx,
		`SELECT id, username, password_hash, role, created_at, updated_at FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

func (d *DB) ListUsers(ctx context.Context) ([]*store.User, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, username, password_hash, role, created_at, updated_at FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		var u store.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (d *DB) UpdateUser(ctx context.Context, id int64, fields store.UserUpdate) (*store.User, error) {
	var u store.User
	err := d.pool.QueryRow(ctx, `
		UPDATE users SET
			username      = COALESCE($2, username),
			password_hash = COALESCE($3, password_hash),
			role          = COALESCE($4, role),
			updated_at    = now()
		WHERE id = $1
		RETURNING id, username, password_hash, role, created_at, updated_at
	`, id, fields.Username, fields.PasswordHash, fields.Role).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return &u, err
}

func (d *DB) DeleteUser(ctx context.Context, id int64) error {
	_, err := d.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

// ---- sessions ----

func (d *DB) CreateSession(ctx context.Context, userID int64, refreshToken string, expiresAt time.Time) (*store.Session, error) {
	var s store.Session
	err := d.pool.QueryRow(ctx, `
		INSERT INTO sessions (user_id, refresh_token, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, user_id, refresh_token, expires_at, created_at
	`, userID, refreshToken, expiresAt).
		Scan(&s.ID, &s.UserID, &s.RefreshToken, &s.ExpiresAt, &s.CreatedAt)
	return &s, err
}

func (d *DB) GetSessionByRefreshToken(ctx context.Context, refreshToken string) (*store.Session, error) {
	var s store.Session
	err := d.pool.QueryRow(ctx,
		`SELECT id, user_id, refresh_token, expires_at, created_at FROM sessions WHERE refresh_token = $1`,
		refreshToken,
	).Scan(&s.ID, &s.UserID, &s.RefreshToken, &s.ExpiresAt, &s.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return &s, err
}

func (d *DB) DeleteSession(ctx context.Context, id uuid.UUID) error {
	_, err := d.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func (d *DB) DeleteExpiredSessions(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at < now()`)
	return err
}

// ---- config ----

func (d *DB) GetConfig(ctx context.Context) (map[string]any, error) {
	var raw []byte
	err := d.pool.QueryRow(ctx, `SELECT data FROM config WHERE id = 1`).Scan(&raw)
	if err == pgx.ErrNoRows {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *DB) SetConfig(ctx context.Context, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = d.pool.Exec(ctx, `
		INSERT INTO config (id, data) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET data = $1
	`, raw)
	return err
}
