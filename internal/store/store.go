// Package store defines the persistent records shared across the pipeline
// and the interfaces the storage backends implement.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// ItemStatus tracks the outcome of a single extraction attempt.
type ItemStatus string

const (
	ItemPending ItemStatus = "pending"
	ItemOK      ItemStatus = "ok"
	ItemError   ItemStatus = "error"
)

// Payload holds the structured fields pulled from a product page.
type Payload struct {
	Name         string   `json:"name,omitempty"`
	CanonicalURL string   `json:"canonical_url,omitempty"`
	ImageURL     string   `json:"image_url,omitempty"`
	FileURLs     []string `json:"file_urls,omitempty"`
	GuessedCode  string   `json:"guessed_code,omitempty"`
	Category     string   `json:"category,omitempty"`
}

// Empty reports whether extraction produced no usable fields.
func (p Payload) Empty() bool {
	return p.Name == "" && p.ImageURL == "" && p.GuessedCode == "" && len(p.FileURLs) == 0
}

// StagingItem is the durable record of one extraction attempt, unique per
// (job, target URL). Re-reporting the same URL overwrites the row.
type StagingItem struct {
	JobID     string     `json:"job_id"`
	URL       string     `json:"url"`
	Status    ItemStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	Payload   Payload    `json:"payload"`
	CreatedAt time.Time  `json:"created_at"`
}

// Product is a durable catalog record, unique per (profile, canonical URL).
type Product struct {
	ProfileID    string    `json:"profile_id"`
	CanonicalURL string    `json:"canonical_url"`
	Name         string    `json:"name"`
	ImageURL     string    `json:"image_url,omitempty"`
	FileURLs     []string  `json:"file_urls,omitempty"`
	GuessedCode  string    `json:"guessed_code,omitempty"`
	Category     string    `json:"category,omitempty"`
	JobID        string    `json:"job_id"`
	CrawledAt    time.Time `json:"crawled_at"`
}

// Profile is the per-vendor site configuration. Read-only to the pipeline.
type Profile struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	DomainRoot   string          `json:"domain_root"`
	AuthRequired bool            `json:"auth_required"`
	CredentialID string          `json:"credential_id,omitempty"`
	Rules        ExtractionRules `json:"rules"`
}

// ExtractionRules are the profile-specific selectors applied to a product
// page. They are configuration data, not engine logic.
type ExtractionRules struct {
	Name         string `json:"name,omitempty"`
	Image        string `json:"image,omitempty"`
	FileLinks    string `json:"file_links,omitempty"`
	Code         string `json:"code,omitempty"`
	Category     string `json:"category,omitempty"`
	WaitSelector string `json:"wait_selector,omitempty"`
}

// Credential is a stored secret referenced by a profile. The secret is kept
// encrypted at rest and only decrypted inside the session manager.
type Credential struct {
	ID         string `json:"id"`
	ServiceURL string `json:"service_url,omitempty"`
	Username   string `json:"username"`
	SecretEnc  string `json:"-"`
}

// StagingStore is the append-only per-item extraction ledger.
type StagingStore interface {
	// Upsert writes an item keyed by (job, url), overwriting any prior row.
	Upsert(ctx context.Context, item StagingItem) error
	// Get returns the item for (jobID, url) or ErrNotFound.
	Get(ctx context.Context, jobID, url string) (StagingItem, error)
	// ListByJob returns all items belonging to a job.
	ListByJob(ctx context.Context, jobID string) ([]StagingItem, error)
	// DeleteByJob removes every item owned by the job.
	DeleteByJob(ctx context.Context, jobID string) error
}

// CatalogStore holds durable, deduplicated product records.
type CatalogStore interface {
	// Get returns the product for (profileID, canonicalURL) or ErrNotFound.
	Get(ctx context.Context, profileID, canonicalURL string) (Product, error)
	// Upsert inserts or replaces the product keyed by (profile, canonical URL).
	Upsert(ctx context.Context, p Product) error
	// List returns one page of products plus the total count. An empty
	// profileID lists across all profiles. page is 1-based.
	List(ctx context.Context, profileID string, page, limit int) ([]Product, int, error)
	// DeleteByJob removes products whose sole provenance is the given job.
	DeleteByJob(ctx context.Context, jobID string) (int, error)
}

// ProfileStore resolves site configuration. External, read-only.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (Profile, error)
}

// CredentialStore resolves stored secrets. External, read-only.
type CredentialStore interface {
	GetCredential(ctx context.Context, ref string) (Credential, error)
}
