package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ggawoos-bot/chat5M/models"
)

// KeySpec describes one API key tracked by the quota store
type KeySpec struct {
	ID          string
	Name        string
	MaskedValue string
	MaxPerDay   int
}

// RpdRepository persists per-key requests-per-day counters in SQLite so
// quota state survives restarts. Counters reset lazily: the first operation
// on a new calendar day zeroes usage and reactivates every key.
type RpdRepository struct {
	db  *sql.DB
	now func() time.Time
}

const rpdSchema = `
CREATE TABLE IF NOT EXISTS rpd_usage (
	key_id          TEXT PRIMARY KEY,
	key_name        TEXT NOT NULL,
	masked_key      TEXT NOT NULL,
	used_today      INTEGER NOT NULL DEFAULT 0,
	max_per_day     INTEGER NOT NULL,
	is_active       INTEGER NOT NULL DEFAULT 1,
	last_reset_date TEXT NOT NULL
);`

// NewRpdRepository opens the quota database at path and registers the given
// keys. Keys already present keep their counters; removed keys keep their
// rows but are never consulted.
func NewRpdRepository(path string, keys []KeySpec) (*RpdRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create quota db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open quota db: %w", err)
	}

	if _, err := db.Exec(rpdSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create quota schema: %w", err)
	}

	repo := &RpdRepository{db: db, now: time.Now}
	if err := repo.registerKeys(keys); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// Close releases the underlying database handle
func (r *RpdRepository) Close() error {
	return r.db.Close()
}

func (r *RpdRepository) registerKeys(keys []KeySpec) error {
	for _, k := range keys {
		_, err := r.db.Exec(`
			INSERT INTO rpd_usage (key_id, key_name, masked_key, max_per_day, last_reset_date)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(key_id) DO UPDATE SET
				key_name = excluded.key_name,
				masked_key = excluded.masked_key,
				max_per_day = excluded.max_per_day`,
			k.ID, k.Name, k.MaskedValue, k.MaxPerDay, r.today())
		if err != nil {
			return fmt.Errorf("failed to register key %s: %w", k.ID, err)
		}
	}
	return nil
}

func (r *RpdRepository) today() string {
	return r.now().Format("2006-01-02")
}

// ensureToday rolls counters over to the current day. Keys deactivated by
// quota errors come back automatically with the reset.
func (r *RpdRepository) ensureToday(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE rpd_usage
		SET used_today = 0, is_active = 1, last_reset_date = ?
		WHERE last_reset_date != ?`,
		r.today(), r.today())
	if err != nil {
		return fmt.Errorf("failed to roll quota counters: %w", err)
	}
	return nil
}

// RecordUsage counts one request against the key. It returns false without
// incrementing when the key is inactive or already at its daily limit, so a
// false here must block the call.
func (r *RpdRepository) RecordUsage(ctx context.Context, keyID string) (bool, error) {
	if err := r.ensureToday(ctx); err != nil {
		return false, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE rpd_usage
		SET used_today = used_today + 1
		WHERE key_id = ? AND is_active = 1 AND used_today < max_per_day`,
		keyID)
	if err != nil {
		return false, fmt.Errorf("failed to record usage for %s: %w", keyID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IsEligible reports whether the key may be issued for a new request
func (r *RpdRepository) IsEligible(ctx context.Context, keyID string) (bool, error) {
	if err := r.ensureToday(ctx); err != nil {
		return false, err
	}

	var eligible bool
	err := r.db.QueryRowContext(ctx, `
		SELECT is_active = 1 AND used_today < max_per_day
		FROM rpd_usage WHERE key_id = ?`,
		keyID).Scan(&eligible)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check key %s: %w", keyID, err)
	}
	return eligible, nil
}

// Deactivate marks the key out of service until the next daily reset.
// Called when the upstream API reports the key's quota as exhausted.
func (r *RpdRepository) Deactivate(ctx context.Context, keyID string) error {
	if err := r.ensureToday(ctx); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE rpd_usage SET is_active = 0 WHERE key_id = ?`, keyID)
	if err != nil {
		return fmt.Errorf("failed to deactivate key %s: %w", keyID, err)
	}
	return nil
}

// Stats returns the aggregate quota view across all registered keys
func (r *RpdRepository) Stats(ctx context.Context) (*models.RpdStats, error) {
	if err := r.ensureToday(ctx); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT key_id, key_name, masked_key, used_today, max_per_day, is_active, last_reset_date
		FROM rpd_usage ORDER BY key_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read quota stats: %w", err)
	}
	defer rows.Close()

	stats := &models.RpdStats{Keys: []models.APICredential{}}
	for rows.Next() {
		var cred models.APICredential
		if err := rows.Scan(&cred.ID, &cred.Name, &cred.MaskedValue,
			&cred.UsedToday, &cred.MaxPerDay, &cred.IsActive, &cred.LastResetDate); err != nil {
			return nil, fmt.Errorf("failed to scan quota row: %w", err)
		}
		stats.TotalUsed += cred.UsedToday
		stats.TotalMax += cred.MaxPerDay
		stats.Keys = append(stats.Keys, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats.Remaining = stats.TotalMax - stats.TotalUsed
	y, m, d := r.now().Date()
	stats.ResetTime = time.Date(y, m, d+1, 0, 0, 0, 0, r.now().Location()).Format(time.RFC3339)
	return stats, nil
}
