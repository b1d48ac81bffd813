// Package commit promotes a job's staged extraction results into the
// durable catalog. Every upsert is independent and idempotent, so a crashed
// commit can be re-run safely.
package commit

import (
	"context"
	"time"

	"enricher/internal/logger"
	"enricher/internal/store"
)

// Summary is the outcome of one commit pass.
type Summary struct {
	Staged     int `json:"staged"`
	Promoted   int `json:"promoted"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
}

type Service struct {
	log     *logger.Logger
	staging store.StagingStore
	catalog store.CatalogStore
}

func NewService(staging store.StagingStore, catalog store.CatalogStore) *Service {
	return &Service{log: logger.New("Committer"), staging: staging, catalog: catalog}
}

// Commit upserts every ok staging item of the job into the catalog, keyed by
// (profile, canonical URL). Item-level write failures are counted, not
// propagated, so one bad row never blocks the rest.
func (s *Service) Commit(ctx context.Context, jobID, profileID string) (Summary, error) {
	items, err := s.staging.ListByJob(ctx, jobID)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{Staged: len(items)}
	promotedKeys := make(map[string]struct{})
	for _, item := range items {
		if item.Status != store.ItemOK {
			continue
		}
		key := item.Payload.CanonicalURL
		if key == "" {
			key = item.URL
		}
		if _, dup := promotedKeys[key]; dup {
			sum.Duplicates++
			continue
		}

		existing, err := s.catalog.Get(ctx, profileID, key)
		if err != nil && err != store.ErrNotFound {
			s.log.LogErrorf("commit read %s: %v", key, err)
			sum.Errors++
			continue
		}
		merged := Merge(existing, item, profileID, jobID)
		if err := s.catalog.Upsert(ctx, merged); err != nil {
			s.log.LogErrorf("commit upsert %s: %v", key, err)
			sum.Errors++
			continue
		}
		promotedKeys[key] = struct{}{}
		sum.Promoted++
	}

	s.log.LogInfof("commit job %s: staged=%d promoted=%d duplicates=%d errors=%d",
		jobID, sum.Staged, sum.Promoted, sum.Duplicates, sum.Errors)
	return sum, nil
}

// Merge folds a staged item into the existing catalog record. New non-empty
// fields overwrite stale ones; empty extracted fields never clobber known
// good values. Pure so the promotion rules are testable in isolation.
func Merge(existing store.Product, item store.StagingItem, profileID, jobID string) store.Product {
	out := existing
	out.ProfileID = profileID
	out.JobID = jobID
	out.CrawledAt = time.Now().UTC()

	p := item.Payload
	out.CanonicalURL = coalesce(p.CanonicalURL, existing.CanonicalURL, item.URL)
	out.Name = coalesce(p.Name, existing.Name)
	out.ImageURL = coalesce(p.ImageURL, existing.ImageURL)
	out.GuessedCode = coalesce(p.GuessedCode, existing.GuessedCode)
	out.Category = coalesce(p.Category, existing.Category)
	if len(p.FileURLs) > 0 {
		out.FileURLs = p.FileURLs
	}
	return out
}

func coalesce(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
