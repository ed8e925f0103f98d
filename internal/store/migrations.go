package store

import "database/sql"

// migrate runs all database migrations
func migrate(db *sql.DB) error {
	migrations := []string{
		// Provider credentials, one row per external account
		`CREATE TABLE IF NOT EXISTS credentials (
			provider TEXT NOT NULL,
			external_account_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL DEFAULT '',
			expires_at INTEGER,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (provider, external_account_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_credentials_updated ON credentials(provider, updated_at)`,

		// Activities (normalized summaries from every provider)
		`CREATE TABLE IF NOT EXISTS activities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider TEXT NOT NULL,
			provider_activity_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			type TEXT NOT NULL,
			start_time TEXT,
			duration_sec INTEGER,
			distance_m INTEGER,
			elevation_gain_m INTEGER,
			avg_heart_rate INTEGER,
			avg_cadence INTEGER,
			calories_kcal INTEGER,
			excluded_from_analysis INTEGER NOT NULL DEFAULT 0,
			raw_payload BLOB,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (provider, provider_activity_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_activities_start_time ON activities(start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_owner ON activities(owner_id)`,

		// Sync State (key-value store for sync tracking)
		`CREATE TABLE IF NOT EXISTS sync_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}

	return nil
}
