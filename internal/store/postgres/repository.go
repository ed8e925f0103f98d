package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trainer/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	provider TEXT NOT NULL,
	external_account_id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	access_token TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	expires_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (provider, external_account_id)
);
CREATE INDEX IF NOT EXISTS idx_credentials_updated ON credentials(provider, updated_at DESC);

CREATE TABLE IF NOT EXISTS activities (
	id BIGSERIAL PRIMARY KEY,
	provider TEXT NOT NULL,
	provider_activity_id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	type TEXT NOT NULL,
	start_time TIMESTAMPTZ,
	duration_sec INTEGER,
	distance_m INTEGER,
	elevation_gain_m INTEGER,
	avg_heart_rate INTEGER,
	avg_cadence INTEGER,
	calories_kcal INTEGER,
	excluded_from_analysis BOOLEAN NOT NULL DEFAULT FALSE,
	raw_payload BYTEA,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (provider, provider_activity_id)
);
CREATE INDEX IF NOT EXISTS idx_activities_start_time ON activities(start_time DESC);

CREATE TABLE IF NOT EXISTS sync_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const (
	credentialColumns = `provider, external_account_id, owner_id, access_token, refresh_token, expires_at, updated_at`
	activityColumns   = `id, provider, provider_activity_id, owner_id, type, start_time,
		duration_sec, distance_m, elevation_gain_m, avg_heart_rate, avg_cadence, calories_kcal,
		excluded_from_analysis, raw_payload, created_at, updated_at`
)

// Repository provides Postgres-backed persistence for credentials, activities and sync state.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Connect opens a pool for dsn and applies the schema.
func Connect(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	repo := NewRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Migrate creates the tables if they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) GetCredential(ctx context.Context, provider, externalAccountID string) (*store.Credential, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+credentialColumns+`
		FROM credentials WHERE provider=$1 AND external_account_id=$2`, provider, externalAccountID)
	return scanCredential(row)
}

func (r *Repository) MostRecentCredential(ctx context.Context, provider string) (*store.Credential, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+credentialColumns+`
		FROM credentials WHERE provider=$1 ORDER BY updated_at DESC LIMIT 1`, provider)
	return scanCredential(row)
}

func (r *Repository) UpsertCredential(ctx context.Context, c *store.Credential) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO credentials (`+credentialColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (provider, external_account_id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		c.Provider, c.ExternalAccountID, c.OwnerID, c.AccessToken, c.RefreshToken, c.ExpiresAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting credential %s: %w", c, err)
	}
	return nil
}

func (r *Repository) CountCredentials(ctx context.Context, provider string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM credentials WHERE provider=$1`, provider).Scan(&count)
	return count, err
}

// UpsertActivity mirrors the SQLite store: owner and exclusion flag survive re-import.
func (r *Repository) UpsertActivity(ctx context.Context, a *store.Activity) error {
	row := r.pool.QueryRow(ctx, `INSERT INTO activities (
			provider, provider_activity_id, owner_id, type, start_time,
			duration_sec, distance_m, elevation_gain_m, avg_heart_rate, avg_cadence, calories_kcal,
			excluded_from_analysis, raw_payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (provider, provider_activity_id) DO UPDATE SET
			type = EXCLUDED.type,
			start_time = EXCLUDED.start_time,
			duration_sec = EXCLUDED.duration_sec,
			distance_m = EXCLUDED.distance_m,
			elevation_gain_m = EXCLUDED.elevation_gain_m,
			avg_heart_rate = EXCLUDED.avg_heart_rate,
			avg_cadence = EXCLUDED.avg_cadence,
			calories_kcal = EXCLUDED.calories_kcal,
			raw_payload = EXCLUDED.raw_payload,
			updated_at = now()
		RETURNING id, excluded_from_analysis, created_at, updated_at`,
		a.Provider, a.ProviderActivityID, a.OwnerID, a.Type, a.StartTime,
		a.DurationSec, a.DistanceM, a.ElevationGainM, a.AvgHeartRate, a.AvgCadence, a.CaloriesKcal,
		a.ExcludedFromAnalysis, a.RawPayload)

	if err := row.Scan(&a.ID, &a.ExcludedFromAnalysis, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return fmt.Errorf("upserting activity %s/%s: %w", a.Provider, a.ProviderActivityID, err)
	}
	return nil
}

func (r *Repository) GetActivity(ctx context.Context, provider, providerActivityID string) (*store.Activity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+activityColumns+`
		FROM activities WHERE provider=$1 AND provider_activity_id=$2`, provider, providerActivityID)
	return scanActivity(row)
}

func (r *Repository) GetActivityByID(ctx context.Context, id int64) (*store.Activity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+activityColumns+` FROM activities WHERE id=$1`, id)
	return scanActivity(row)
}

func (r *Repository) ListActivities(ctx context.Context, filter store.ActivityFilter, limit, offset int) ([]store.Activity, error) {
	where, args := filterClause(filter)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM activities%s
		ORDER BY start_time DESC NULLS LAST, id DESC
		LIMIT $%d OFFSET $%d`, activityColumns, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []store.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, *a)
	}
	return activities, rows.Err()
}

func (r *Repository) CountActivities(ctx context.Context, filter store.ActivityFilter) (int, error) {
	where, args := filterClause(filter)
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM activities`+where, args...).Scan(&count)
	return count, err
}

func (r *Repository) SetExcluded(ctx context.Context, id int64, excluded bool) (*store.Activity, error) {
	row := r.pool.QueryRow(ctx, `UPDATE activities
		SET excluded_from_analysis=$1, updated_at=now()
		WHERE id=$2
		RETURNING `+activityColumns, excluded, id)
	return scanActivity(row)
}

func (r *Repository) GetSyncState(ctx context.Context, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM sync_state WHERE key=$1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (r *Repository) SetSyncState(ctx context.Context, key, value string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO sync_state (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	return err
}

func (r *Repository) DeleteSyncState(ctx context.Context, key string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sync_state WHERE key=$1`, key)
	return err
}

func filterClause(filter store.ActivityFilter) (string, []any) {
	var conds []string
	var args []any

	if filter.Provider != "" {
		args = append(args, filter.Provider)
		conds = append(conds, fmt.Sprintf("provider=$%d", len(args)))
	}
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		conds = append(conds, fmt.Sprintf("owner_id=$%d", len(args)))
	}
	if filter.ExcludeFlagged {
		conds = append(conds, "NOT excluded_from_analysis")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanCredential(row pgx.Row) (*store.Credential, error) {
	var c store.Credential
	err := row.Scan(&c.Provider, &c.ExternalAccountID, &c.OwnerID, &c.AccessToken, &c.RefreshToken, &c.ExpiresAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanActivity(row pgx.Row) (*store.Activity, error) {
	var a store.Activity
	err := row.Scan(&a.ID, &a.Provider, &a.ProviderActivityID, &a.OwnerID, &a.Type, &a.StartTime,
		&a.DurationSec, &a.DistanceM, &a.ElevationGainM, &a.AvgHeartRate, &a.AvgCadence, &a.CaloriesKcal,
		&a.ExcludedFromAnalysis, &a.RawPayload, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrActivityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
