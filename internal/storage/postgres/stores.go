// Package postgres implements the durable stores on pgx. Counter updates
// run as single atomic UPDATEs and all write paths are idempotent upserts,
// so interrupted jobs can resume against the same rows.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"enricher/internal/core/job"
	"enricher/internal/platform/postgres"
	"enricher/internal/store"

	"github.com/jackc/pgx/v5"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	type           TEXT NOT NULL,
	status         TEXT NOT NULL,
	profile_id     TEXT NOT NULL,
	params         JSONB NOT NULL DEFAULT '{}',
	queued         INT NOT NULL DEFAULT 0,
	processed      INT NOT NULL DEFAULT 0,
	succeeded      INT NOT NULL DEFAULT 0,
	failed         INT NOT NULL DEFAULT 0,
	summary        JSONB,
	error_text     TEXT NOT NULL DEFAULT '',
	stop_requested BOOLEAN NOT NULL DEFAULT FALSE,
	purge_on_stop  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);

CREATE TABLE IF NOT EXISTS staging_items (
	job_id     TEXT NOT NULL,
	url        TEXT NOT NULL,
	status     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	payload    JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (job_id, url)
);

CREATE TABLE IF NOT EXISTS products (
	profile_id    TEXT NOT NULL,
	canonical_url TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	image_url     TEXT NOT NULL DEFAULT '',
	file_urls     JSONB NOT NULL DEFAULT '[]',
	guessed_code  TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	job_id        TEXT NOT NULL,
	crawled_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (profile_id, canonical_url)
);
CREATE INDEX IF NOT EXISTS products_job_idx ON products (job_id);

CREATE TABLE IF NOT EXISTS profiles (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	domain_root   TEXT NOT NULL,
	auth_required BOOLEAN NOT NULL DEFAULT FALSE,
	credential_id TEXT NOT NULL DEFAULT '',
	rules         JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS credentials (
	id          TEXT PRIMARY KEY,
	service_url TEXT NOT NULL DEFAULT '',
	username    TEXT NOT NULL,
	secret_enc  TEXT NOT NULL
);
`

// InitSchema creates the tables on first boot. Safe to call on every start.
func InitSchema(ctx context.Context, client *postgres.Client) error {
	if _, err := client.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// JobStore persists jobs and their progress counters.
type JobStore struct {
	client *postgres.Client
}

func NewJobStore(client *postgres.Client) *JobStore {
	return &JobStore{client: client}
}

func (s *JobStore) Create(ctx context.Context, j job.Job) error {
	params, err := json.Marshal(j.Params)
	if err != nil {
		return err
	}
	_, err = s.client.Pool.Exec(ctx, `
		INSERT INTO jobs (id, type, status, profile_id, params)
		VALUES ($1, $2, $3, $4, $5)`,
		j.ID, string(j.Type), string(j.Status), j.ProfileID, params)
	return err
}

const jobColumns = `id, type, status, profile_id, params, queued, processed,
	succeeded, failed, summary, error_text, stop_requested, purge_on_stop,
	created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (job.Job, error) {
	var (
		j       job.Job
		params  []byte
		summary []byte
	)
	err := row.Scan(&j.ID, &j.Type, &j.Status, &j.ProfileID, &params,
		&j.Counters.Queued, &j.Counters.Processed, &j.Counters.Succeeded, &j.Counters.Failed,
		&summary, &j.ErrorText, &j.StopRequested, &j.PurgeOnStop,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return job.Job{}, store.ErrNotFound
	}
	if err != nil {
		return job.Job{}, err
	}
	if err := json.Unmarshal(params, &j.Params); err != nil {
		return job.Job{}, err
	}
	if len(summary) > 0 {
		var sum job.Summary
		if err := json.Unmarshal(summary, &sum); err != nil {
			return job.Job{}, err
		}
		j.Summary = &sum
	}
	return j, nil
}

func (s *JobStore) Get(ctx context.Context, id string) (job.Job, error) {
	row := s.client.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// UpdateStatus enforces the transition table under a row lock so concurrent
// writers cannot race a job into an illegal state.
func (s *JobStore) UpdateStatus(ctx context.Context, id string, next job.Status, errText string) error {
	tx, err := s.client.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var current job.Status
	err = tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if current == next {
		return tx.Commit(ctx)
	}
	if !current.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s for job %s", current, next, id)
	}

	var completedAt *time.Time
	if next.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}
	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $2, error_text = $3, completed_at = $4, updated_at = now()
		WHERE id = $1`, id, string(next), errText, completedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *JobStore) AddQueued(ctx context.Context, id string, n int) error {
	tag, err := s.client.Pool.Exec(ctx, `
		UPDATE jobs SET queued = queued + $2, updated_at = now() WHERE id = $1`, id, n)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *JobStore) ApplyItemResult(ctx context.Context, id string, itemOK, overwrite bool) (job.Counters, error) {
	var c job.Counters
	err := s.client.Pool.QueryRow(ctx, `
		UPDATE jobs SET
			processed = processed + CASE WHEN $3 THEN 0 ELSE 1 END,
			succeeded = succeeded + CASE WHEN $2 THEN 1 WHEN $3 THEN -1 ELSE 0 END,
			failed    = failed    + CASE WHEN NOT $2 THEN 1 WHEN $3 THEN -1 ELSE 0 END,
			updated_at = now()
		WHERE id = $1
		RETURNING queued, processed, succeeded, failed`, id, itemOK, overwrite).
		Scan(&c.Queued, &c.Processed, &c.Succeeded, &c.Failed)
	if errors.Is(err, pgx.ErrNoRows) {
		return job.Counters{}, store.ErrNotFound
	}
	return c, err
}

func (s *JobStore) SetStopRequested(ctx context.Context, id string, purge bool) error {
	tag, err := s.client.Pool.Exec(ctx, `
		UPDATE jobs SET stop_requested = TRUE, purge_on_stop = $2, updated_at = now()
		WHERE id = $1`, id, purge)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *JobStore) SetSummary(ctx context.Context, id string, sum job.Summary) error {
	b, err := json.Marshal(sum)
	if err != nil {
		return err
	}
	tag, err := s.client.Pool.Exec(ctx, `
		UPDATE jobs SET summary = $2, updated_at = now() WHERE id = $1`, id, b)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *JobStore) ListActive(ctx context.Context) ([]job.Job, error) {
	rows, err := s.client.Pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status NOT IN ('completed', 'failed', 'stopped')
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *JobStore) Delete(ctx context.Context, id string) error {
	tag, err := s.client.Pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// StagingStore persists per-target extraction attempts.
type StagingStore struct {
	client *postgres.Client
}

func NewStagingStore(client *postgres.Client) *StagingStore {
	return &StagingStore{client: client}
}

func (s *StagingStore) Upsert(ctx context.Context, item store.StagingItem) error {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return err
	}
	_, err = s.client.Pool.Exec(ctx, `
		INSERT INTO staging_items (job_id, url, status, error, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id, url) DO UPDATE SET
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			payload = EXCLUDED.payload`,
		item.JobID, item.URL, string(item.Status), item.Error, payload)
	return err
}

func (s *StagingStore) Get(ctx context.Context, jobID, url string) (store.StagingItem, error) {
	var (
		item    store.StagingItem
		payload []byte
	)
	err := s.client.Pool.QueryRow(ctx, `
		SELECT job_id, url, status, error, payload, created_at
		FROM staging_items WHERE job_id = $1 AND url = $2`, jobID, url).
		Scan(&item.JobID, &item.URL, &item.Status, &item.Error, &payload, &item.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.StagingItem{}, store.ErrNotFound
	}
	if err != nil {
		return store.StagingItem{}, err
	}
	if err := json.Unmarshal(payload, &item.Payload); err != nil {
		return store.StagingItem{}, err
	}
	return item, nil
}

func (s *StagingStore) ListByJob(ctx context.Context, jobID string) ([]store.StagingItem, error) {
	rows, err := s.client.Pool.Query(ctx, `
		SELECT job_id, url, status, error, payload, created_at
		FROM staging_items WHERE job_id = $1 ORDER BY url`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.StagingItem
	for rows.Next() {
		var (
			item    store.StagingItem
			payload []byte
		)
		if err := rows.Scan(&item.JobID, &item.URL, &item.Status, &item.Error, &payload, &item.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &item.Payload); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *StagingStore) DeleteByJob(ctx context.Context, jobID string) error {
	_, err := s.client.Pool.Exec(ctx, `DELETE FROM staging_items WHERE job_id = $1`, jobID)
	return err
}

// CatalogStore persists promoted products.
type CatalogStore struct {
	client *postgres.Client
}

func NewCatalogStore(client *postgres.Client) *CatalogStore {
	return &CatalogStore{client: client}
}

func (s *CatalogStore) Get(ctx context.Context, profileID, canonicalURL string) (store.Product, error) {
	var (
		p        store.Product
		fileURLs []byte
	)
	err := s.client.Pool.QueryRow(ctx, `
		SELECT profile_id, canonical_url, name, image_url, file_urls,
			guessed_code, category, job_id, crawled_at
		FROM products WHERE profile_id = $1 AND canonical_url = $2`,
		profileID, canonicalURL).
		Scan(&p.ProfileID, &p.CanonicalURL, &p.Name, &p.ImageURL, &fileURLs,
			&p.GuessedCode, &p.Category, &p.JobID, &p.CrawledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Product{}, store.ErrNotFound
	}
	if err != nil {
		return store.Product{}, err
	}
	if err := json.Unmarshal(fileURLs, &p.FileURLs); err != nil {
		return store.Product{}, err
	}
	return p, nil
}

func (s *CatalogStore) Upsert(ctx context.Context, p store.Product) error {
	fileURLs, err := json.Marshal(p.FileURLs)
	if err != nil {
		return err
	}
	if p.FileURLs == nil {
		fileURLs = []byte("[]")
	}
	_, err = s.client.Pool.Exec(ctx, `
		INSERT INTO products (profile_id, canonical_url, name, image_url,
			file_urls, guessed_code, category, job_id, crawled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (profile_id, canonical_url) DO UPDATE SET
			name = EXCLUDED.name,
			image_url = EXCLUDED.image_url,
			file_urls = EXCLUDED.file_urls,
			guessed_code = EXCLUDED.guessed_code,
			category = EXCLUDED.category,
			job_id = EXCLUDED.job_id,
			crawled_at = EXCLUDED.crawled_at`,
		p.ProfileID, p.CanonicalURL, p.Name, p.ImageURL, fileURLs,
		p.GuessedCode, p.Category, p.JobID, p.CrawledAt)
	return err
}

func (s *CatalogStore) List(ctx context.Context, profileID string, page, limit int) ([]store.Product, int, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}

	var total int
	err := s.client.Pool.QueryRow(ctx, `
		SELECT count(*) FROM products WHERE ($1 = '' OR profile_id = $1)`, profileID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.client.Pool.Query(ctx, `
		SELECT profile_id, canonical_url, name, image_url, file_urls,
			guessed_code, category, job_id, crawled_at
		FROM products WHERE ($1 = '' OR profile_id = $1)
		ORDER BY crawled_at DESC
		LIMIT $2 OFFSET $3`, profileID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []store.Product
	for rows.Next() {
		var (
			p        store.Product
			fileURLs []byte
		)
		if err := rows.Scan(&p.ProfileID, &p.CanonicalURL, &p.Name, &p.ImageURL, &fileURLs,
			&p.GuessedCode, &p.Category, &p.JobID, &p.CrawledAt); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(fileURLs, &p.FileURLs); err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func (s *CatalogStore) DeleteByJob(ctx context.Context, jobID string) (int, error) {
	tag, err := s.client.Pool.Exec(ctx, `DELETE FROM products WHERE job_id = $1`, jobID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// ProfileStore reads site profiles from the shared database.
type ProfileStore struct {
	client *postgres.Client
}

func NewProfileStore(client *postgres.Client) *ProfileStore {
	return &ProfileStore{client: client}
}

func (s *ProfileStore) GetProfile(ctx context.Context, id string) (store.Profile, error) {
	var (
		p     store.Profile
		rules []byte
	)
	err := s.client.Pool.QueryRow(ctx, `
		SELECT id, name, domain_root, auth_required, credential_id, rules
		FROM profiles WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.DomainRoot, &p.AuthRequired, &p.CredentialID, &rules)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Profile{}, store.ErrNotFound
	}
	if err != nil {
		return store.Profile{}, err
	}
	if err := json.Unmarshal(rules, &p.Rules); err != nil {
		return store.Profile{}, err
	}
	return p, nil
}

// CredentialStore reads encrypted credentials. Secrets never leave the row
// in decrypted form here.
type CredentialStore struct {
	client *postgres.Client
}

func NewCredentialStore(client *postgres.Client) *CredentialStore {
	return &CredentialStore{client: client}
}

func (s *CredentialStore) GetCredential(ctx context.Context, ref string) (store.Credential, error) {
	var c store.Credential
	err := s.client.Pool.QueryRow(ctx, `
		SELECT id, service_url, username, secret_enc
		FROM credentials WHERE id = $1`, ref).
		Scan(&c.ID, &c.ServiceURL, &c.Username, &c.SecretEnc)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Credential{}, store.ErrNotFound
	}
	return c, err
}
