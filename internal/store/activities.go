package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const activityColumns = `id, provider, provider_activity_id, owner_id, type, start_time,
	duration_sec, distance_m, elevation_gain_m, avg_heart_rate, avg_cadence, calories_kcal,
	excluded_from_analysis, raw_payload, created_at, updated_at`

// UpsertActivity inserts an activity or updates the existing row with the same
// (provider, provider_activity_id). Owner and the user's exclusion flag are never
// overwritten. On return a carries the stored id, flag and creation time.
func (s *Store) UpsertActivity(ctx context.Context, a *Activity) error {
	now := time.Now().UTC().Format(timestampLayout)

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO activities (
			provider, provider_activity_id, owner_id, type, start_time,
			duration_sec, distance_m, elevation_gain_m, avg_heart_rate, avg_cadence, calories_kcal,
			excluded_from_analysis, raw_payload, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, provider_activity_id) DO UPDATE SET
			type = excluded.type,
			start_time = excluded.start_time,
			duration_sec = excluded.duration_sec,
			distance_m = excluded.distance_m,
			elevation_gain_m = excluded.elevation_gain_m,
			avg_heart_rate = excluded.avg_heart_rate,
			avg_cadence = excluded.avg_cadence,
			calories_kcal = excluded.calories_kcal,
			raw_payload = excluded.raw_payload,
			updated_at = excluded.updated_at
		RETURNING id, excluded_from_analysis, created_at, updated_at
	`,
		a.Provider, a.ProviderActivityID, a.OwnerID, a.Type, formatTimeOrNil(a.StartTime),
		a.DurationSec, a.DistanceM, a.ElevationGainM, a.AvgHeartRate, a.AvgCadence, a.CaloriesKcal,
		boolToInt(a.ExcludedFromAnalysis), a.RawPayload, now, now,
	)

	var excluded int
	var createdAt, updatedAt string
	if err := row.Scan(&a.ID, &excluded, &createdAt, &updatedAt); err != nil {
		return fmt.Errorf("upserting activity %s/%s: %w", a.Provider, a.ProviderActivityID, err)
	}
	a.ExcludedFromAnalysis = excluded == 1
	a.CreatedAt, _ = time.Parse(timestampLayout, createdAt)
	a.UpdatedAt, _ = time.Parse(timestampLayout, updatedAt)
	return nil
}

// GetActivity retrieves an activity by its provider identity
func (s *Store) GetActivity(ctx context.Context, provider, providerActivityID string) (*Activity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+activityColumns+`
		FROM activities
		WHERE provider = ? AND provider_activity_id = ?
	`, provider, providerActivityID)

	return scanActivity(row)
}

// GetActivityByID retrieves an activity by its local id
func (s *Store) GetActivityByID(ctx context.Context, id int64) (*Activity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+activityColumns+`
		FROM activities
		WHERE id = ?
	`, id)

	return scanActivity(row)
}

// ListActivities returns activities ordered by start time descending
func (s *Store) ListActivities(ctx context.Context, filter ActivityFilter, limit, offset int) ([]Activity, error) {
	where, args := filterClause(filter)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM activities`+where+`
		ORDER BY start_time IS NULL, start_time DESC, id DESC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, *a)
	}
	return activities, rows.Err()
}

// CountActivities returns the number of activities matching filter
func (s *Store) CountActivities(ctx context.Context, filter ActivityFilter) (int, error) {
	where, args := filterClause(filter)

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activities"+where, args...).Scan(&count)
	return count, err
}

// SetExcluded updates the user-controlled exclusion flag
func (s *Store) SetExcluded(ctx context.Context, id int64, excluded bool) (*Activity, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE activities
		SET excluded_from_analysis = ?, updated_at = ?
		WHERE id = ?
	`, boolToInt(excluded), time.Now().UTC().Format(timestampLayout), id)
	if err != nil {
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrActivityNotFound
	}
	return s.GetActivityByID(ctx, id)
}

func filterClause(filter ActivityFilter) (string, []any) {
	var conds []string
	var args []any

	if filter.Provider != "" {
		conds = append(conds, "provider = ?")
		args = append(args, filter.Provider)
	}
	if filter.OwnerID != "" {
		conds = append(conds, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.ExcludeFlagged {
		conds = append(conds, "excluded_from_analysis = 0")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanActivity scans a single activity from a row
func scanActivity(row rowScanner) (*Activity, error) {
	var a Activity
	var startTime sql.NullString
	var durationSec, distanceM, elevationGainM, avgHR, avgCadence, calories sql.NullInt64
	var excluded int
	var createdAt, updatedAt string

	err := row.Scan(
		&a.ID, &a.Provider, &a.ProviderActivityID, &a.OwnerID, &a.Type, &startTime,
		&durationSec, &distanceM, &elevationGainM, &avgHR, &avgCadence, &calories,
		&excluded, &a.RawPayload, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActivityNotFound
	}
	if err != nil {
		return nil, err
	}

	if startTime.Valid {
		t, err := time.Parse(timestampLayout, startTime.String)
		if err != nil {
			return nil, fmt.Errorf("parsing start_time %q: %w", startTime.String, err)
		}
		a.StartTime = &t
	}
	a.DurationSec = intOrNil(durationSec)
	a.DistanceM = intOrNil(distanceM)
	a.ElevationGainM = intOrNil(elevationGainM)
	a.AvgHeartRate = intOrNil(avgHR)
	a.AvgCadence = intOrNil(avgCadence)
	a.CaloriesKcal = intOrNil(calories)
	a.ExcludedFromAnalysis = excluded == 1

	var parseErr error
	a.CreatedAt, parseErr = time.Parse(timestampLayout, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, parseErr)
	}
	a.UpdatedAt, parseErr = time.Parse(timestampLayout, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at %q: %w", updatedAt, parseErr)
	}

	return &a, nil
}

func formatTimeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timestampLayout)
}

func intOrNil(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
