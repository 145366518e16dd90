package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/bookmark-agent/internal/types"
)

// DB wraps a PostgreSQL connection pool and implements the document-store
// contracts.
type DB struct {
	pool *pgxpool.Pool
}

var (
	_ BookmarkStore = (*DB)(nil)
	_ SummaryStore  = (*DB)(nil)
	_ DigestStore   = (*DB)(nil)
	_ JobRunStore   = (*DB)(nil)
	_ ProviderStore = (*DB)(nil)
)

// Connect establishes a connection pool and verifies it.
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Migrate creates the schema if it does not exist yet.
func (db *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bookmarks (
			tweet_id TEXT PRIMARY KEY,
			created_at_external TIMESTAMPTZ,
			author_name TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			raw_payload JSONB,
			synced_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS bookmarks_synced_at_idx ON bookmarks (synced_at DESC)`,
		`CREATE TABLE IF NOT EXISTS item_summaries (
			tweet_id TEXT NOT NULL,
			version INT NOT NULL,
			content JSONB NOT NULL,
			quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			provider TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tweet_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS item_summaries_created_at_idx ON item_summaries (created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS digest_reports (
			period TEXT NOT NULL,
			period_key TEXT NOT NULL,
			content JSONB NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (period, period_key)
		)`,
		`CREATE TABLE IF NOT EXISTS job_runs (
			id UUID PRIMARY KEY,
			job_name TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			metadata JSONB,
			error TEXT NOT NULL DEFAULT '',
			retry_count INT NOT NULL DEFAULT 0,
			cost_estimate DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS job_runs_started_at_idx ON job_runs (started_at DESC)`,
		`CREATE TABLE IF NOT EXISTS provider_configs (
			name TEXT PRIMARY KEY,
			base_url TEXT NOT NULL,
			encrypted_credential TEXT NOT NULL DEFAULT '',
			mini_model TEXT NOT NULL DEFAULT '',
			digest_model TEXT NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			priority INT NOT NULL DEFAULT 100,
			monthly_budget DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// --- BookmarkStore ---

// ExistingIDs reports which of the given tweet IDs are already stored.
func (db *DB) ExistingIDs(ctx context.Context, tweetIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(tweetIDs))
	if len(tweetIDs) == 0 {
		return existing, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT tweet_id FROM bookmarks WHERE tweet_id = ANY($1)`, tweetIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing bookmarks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tweet id: %w", err)
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

// Insert stores an item unless its tweet ID already exists.
func (db *DB) Insert(ctx context.Context, item *types.BookmarkItem) (bool, error) {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO bookmarks (tweet_id, created_at_external, author_name, text, url, raw_payload, synced_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tweet_id) DO NOTHING`,
		item.TweetID, item.CreatedAtExternal, item.AuthorName, item.Text, item.URL, item.RawPayload, item.SyncedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert bookmark %s: %w", item.TweetID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Recent returns items by descending SyncedAt, bounded by the filter.
func (db *DB) Recent(ctx context.Context, f RecentFilter) ([]types.BookmarkItem, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	query := `SELECT tweet_id, created_at_external, author_name, text, url, synced_at
		FROM bookmarks WHERE 1=1`
	args := []any{}
	argNum := 1

	if len(f.TweetIDs) > 0 {
		query += fmt.Sprintf(" AND tweet_id = ANY($%d)", argNum)
		args = append(args, f.TweetIDs)
		argNum++
	}
	if f.SyncedSince != nil {
		query += fmt.Sprintf(" AND synced_at >= $%d", argNum)
		args = append(args, *f.SyncedSince)
		argNum++
	}
	if f.RequireText {
		query += " AND text <> ''"
	}
	query += fmt.Sprintf(" ORDER BY synced_at DESC LIMIT $%d", argNum)
	args = append(args, f.Limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookmarks: %w", err)
	}
	defer rows.Close()

	var items []types.BookmarkItem
	for rows.Next() {
		var it types.BookmarkItem
		var createdAt *time.Time
		if err := rows.Scan(&it.TweetID, &createdAt, &it.AuthorName, &it.Text, &it.URL, &it.SyncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bookmark: %w", err)
		}
		if createdAt != nil {
			it.CreatedAtExternal = *createdAt
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// --- SummaryStore ---

// Upsert writes a summary row keyed by (tweetID, version).
func (db *DB) Upsert(ctx context.Context, s *types.ItemSummary) error {
	content, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO item_summaries (tweet_id, version, content, quality_score, provider, model, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tweet_id, version) DO UPDATE
		 SET content = $3, quality_score = $4, provider = $5, model = $6, created_at = $7`,
		s.TweetID, s.Version, content, s.QualityScore, s.Provider, s.Model, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert summary %s: %w", s.TweetID, err)
	}
	return nil
}

// ExistingFor reports which tweet IDs already have a current-version summary.
func (db *DB) ExistingFor(ctx context.Context, tweetIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(tweetIDs))
	if len(tweetIDs) == 0 {
		return existing, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT tweet_id FROM item_summaries WHERE version = $1 AND tweet_id = ANY($2)`,
		types.SummaryVersion, tweetIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing summaries: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tweet id: %w", err)
		}
		existing[id] = true
	}
	return existing, rows.Err()
}

// CreatedSince returns summaries created after the given instant.
func (db *DB) CreatedSince(ctx context.Context, since time.Time, limit int) ([]types.ItemSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT content FROM item_summaries
		 WHERE version = $1 AND created_at >= $2
		 ORDER BY created_at DESC LIMIT $3`,
		types.SummaryVersion, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer rows.Close()

	var summaries []types.ItemSummary
	for rows.Next() {
		var content []byte
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		var s types.ItemSummary
		if err := json.Unmarshal(content, &s); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// --- DigestStore ---

// UpsertDigest writes a digest row keyed by (period, periodKey).
func (db *DB) UpsertDigest(ctx context.Context, d *types.DigestReport) error {
	content, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal digest: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO digest_reports (period, period_key, content, generated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (period, period_key) DO UPDATE SET content = $3, generated_at = $4`,
		string(d.Period), d.PeriodKey, content, d.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert digest %s/%s: %w", d.Period, d.PeriodKey, err)
	}
	return nil
}

// GetDigest retrieves a digest by period and key; nil when absent.
func (db *DB) GetDigest(ctx context.Context, period types.DigestPeriod, periodKey string) (*types.DigestReport, error) {
	var content []byte
	err := db.pool.QueryRow(ctx,
		`SELECT content FROM digest_reports WHERE period = $1 AND period_key = $2`,
		string(period), periodKey,
	).Scan(&content)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get digest: %w", err)
	}
	var d types.DigestReport
	if err := json.Unmarshal(content, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal digest: %w", err)
	}
	return &d, nil
}

// --- JobRunStore ---

// CreateRun inserts a new ledger row in RUNNING state.
func (db *DB) CreateRun(ctx context.Context, run *types.JobRun) error {
	metadata, err := json.Marshal(run.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal run metadata: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO job_runs (id, job_name, status, started_at, metadata, error, retry_count, cost_estimate)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.JobName, run.Status, run.StartedAt, metadata, run.Error, run.RetryCount, run.CostEstimate,
	)
	if err != nil {
		return fmt.Errorf("failed to create job run: %w", err)
	}
	return nil
}

// FinishRun records the terminal transition of a run. The status guard keeps
// a finished run from ever reverting.
func (db *DB) FinishRun(ctx context.Context, id uuid.UUID, status string, metadata map[string]any, errMsg string, finishedAt time.Time) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal run metadata: %w", err)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE job_runs SET status = $1, metadata = $2, error = $3, finished_at = $4
		 WHERE id = $5 AND status = $6`,
		status, meta, errMsg, finishedAt, id, types.JobRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to finish job run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job run %s is not in RUNNING state", id)
	}
	return nil
}

// ListRuns returns recent ledger rows by descending start time.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]types.JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, job_name, status, started_at, finished_at, metadata, error, retry_count, cost_estimate
		 FROM job_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	var runs []types.JobRun
	for rows.Next() {
		var run types.JobRun
		var metadata []byte
		if err := rows.Scan(&run.ID, &run.JobName, &run.Status, &run.StartedAt, &run.FinishedAt,
			&metadata, &run.Error, &run.RetryCount, &run.CostEstimate); err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &run.Metadata)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// PurgeRunsBefore deletes ledger rows older than the retention cutoff.
func (db *DB) PurgeRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM job_runs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge job runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- ProviderStore ---

// UpsertProvider writes a provider configuration keyed by name.
func (db *DB) UpsertProvider(ctx context.Context, p *types.ProviderConfig) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO provider_configs (name, base_url, encrypted_credential, mini_model, digest_model, enabled, priority, monthly_budget)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (name) DO UPDATE
		 SET base_url = $2, encrypted_credential = $3, mini_model = $4, digest_model = $5,
		     enabled = $6, priority = $7, monthly_budget = $8`,
		p.Name, p.BaseURL, p.EncryptedCredential, p.MiniModel, p.DigestModel, p.Enabled, p.Priority, p.MonthlyBudget,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert provider %s: %w", p.Name, err)
	}
	return nil
}

// GetProvider retrieves one provider config by name; nil when absent.
func (db *DB) GetProvider(ctx context.Context, name string) (*types.ProviderConfig, error) {
	var p types.ProviderConfig
	err := db.pool.QueryRow(ctx,
		`SELECT name, base_url, encrypted_credential, mini_model, digest_model, enabled, priority, monthly_budget
		 FROM provider_configs WHERE name = $1`, name,
	).Scan(&p.Name, &p.BaseURL, &p.EncryptedCredential, &p.MiniModel, &p.DigestModel, &p.Enabled, &p.Priority, &p.MonthlyBudget)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	return &p, nil
}

// EnabledProviders returns enabled providers by ascending priority.
func (db *DB) EnabledProviders(ctx context.Context) ([]types.ProviderConfig, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT name, base_url, encrypted_credential, mini_model, digest_model, enabled, priority, monthly_budget
		 FROM provider_configs WHERE enabled ORDER BY priority ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var providers []types.ProviderConfig
	for rows.Next() {
		var p types.ProviderConfig
		if err := rows.Scan(&p.Name, &p.BaseURL, &p.EncryptedCredential, &p.MiniModel, &p.DigestModel,
			&p.Enabled, &p.Priority, &p.MonthlyBudget); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}
