// Package memory provides mutex-guarded in-memory stores. They back tests
// and single-node deployments that do not need durability.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"enricher/internal/core/job"
	"enricher/internal/store"
)

// JobStore keeps jobs in a map, with the same transition checks the
// durable store enforces.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]job.Job
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]job.Job)}
}

func (s *JobStore) Create(_ context.Context, j job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.ID]; exists {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	s.jobs[j.ID] = j
	return nil
}

func (s *JobStore) Get(_ context.Context, id string) (job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, store.ErrNotFound
	}
	return j, nil
}

func (s *JobStore) UpdateStatus(_ context.Context, id string, next job.Status, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status == next {
		return nil
	}
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s for job %s", j.Status, next, id)
	}
	j.Status = next
	j.ErrorText = errText
	j.UpdatedAt = time.Now().UTC()
	if next.Terminal() {
		now := j.UpdatedAt
		j.CompletedAt = &now
	}
	s.jobs[id] = j
	return nil
}

func (s *JobStore) AddQueued(_ context.Context, id string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Counters.Queued += n
	j.UpdatedAt = time.Now().UTC()
	s.jobs[id] = j
	return nil
}

func (s *JobStore) ApplyItemResult(_ context.Context, id string, itemOK, overwrite bool) (job.Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return job.Counters{}, store.ErrNotFound
	}
	if !overwrite {
		j.Counters.Processed++
	}
	if itemOK {
		j.Counters.Succeeded++
		if overwrite {
			j.Counters.Failed--
		}
	} else {
		j.Counters.Failed++
		if overwrite {
			j.Counters.Succeeded--
		}
	}
	j.UpdatedAt = time.Now().UTC()
	s.jobs[id] = j
	return j.Counters, nil
}

func (s *JobStore) SetStopRequested(_ context.Context, id string, purge bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.StopRequested = true
	j.PurgeOnStop = purge
	j.UpdatedAt = time.Now().UTC()
	s.jobs[id] = j
	return nil
}

func (s *JobStore) SetSummary(_ context.Context, id string, sum job.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Summary = &sum
	j.UpdatedAt = time.Now().UTC()
	s.jobs[id] = j
	return nil
}

func (s *JobStore) ListActive(_ context.Context) ([]job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []job.Job
	for _, j := range s.jobs {
		if !j.Status.Terminal() {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

func (s *JobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

// StagingStore keys items by (job, url) so retries overwrite in place.
type StagingStore struct {
	mu    sync.RWMutex
	items map[string]store.StagingItem
}

func NewStagingStore() *StagingStore {
	return &StagingStore{items: make(map[string]store.StagingItem)}
}

func stagingKey(jobID, url string) string { return jobID + "\x00" + url }

func (s *StagingStore) Upsert(_ context.Context, item store.StagingItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stagingKey(item.JobID, item.URL)
	if prev, ok := s.items[key]; ok {
		item.CreatedAt = prev.CreatedAt
	} else {
		item.CreatedAt = time.Now().UTC()
	}
	s.items[key] = item
	return nil
}

func (s *StagingStore) Get(_ context.Context, jobID, url string) (store.StagingItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[stagingKey(jobID, url)]
	if !ok {
		return store.StagingItem{}, store.ErrNotFound
	}
	return item, nil
}

func (s *StagingStore) ListByJob(_ context.Context, jobID string) ([]store.StagingItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.StagingItem
	for key, item := range s.items {
		if strings.HasPrefix(key, jobID+"\x00") {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].URL < out[k].URL })
	return out, nil
}

func (s *StagingStore) DeleteByJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.items {
		if strings.HasPrefix(key, jobID+"\x00") {
			delete(s.items, key)
		}
	}
	return nil
}

// CatalogStore keys products by (profile, canonical URL).
type CatalogStore struct {
	mu       sync.RWMutex
	products map[string]store.Product
}

func NewCatalogStore() *CatalogStore {
	return &CatalogStore{products: make(map[string]store.Product)}
}

func productKey(profileID, canonicalURL string) string { return profileID + "\x00" + canonicalURL }

func (s *CatalogStore) Get(_ context.Context, profileID, canonicalURL string) (store.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productKey(profileID, canonicalURL)]
	if !ok {
		return store.Product{}, store.ErrNotFound
	}
	return p, nil
}

func (s *CatalogStore) Upsert(_ context.Context, p store.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[productKey(p.ProfileID, p.CanonicalURL)] = p
	return nil
}

func (s *CatalogStore) List(_ context.Context, profileID string, page, limit int) ([]store.Product, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []store.Product
	for _, p := range s.products {
		if profileID == "" || p.ProfileID == profileID {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, k int) bool { return all[i].CanonicalURL < all[k].CanonicalURL })
	total := len(all)
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 50
	}
	offset := (page - 1) * limit
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *CatalogStore) DeleteByJob(_ context.Context, jobID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, p := range s.products {
		if p.JobID == jobID {
			delete(s.products, key)
			n++
		}
	}
	return n, nil
}

// ProfileStore is a static profile registry.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]store.Profile
}

func NewProfileStore(profiles ...store.Profile) *ProfileStore {
	s := &ProfileStore{profiles: make(map[string]store.Profile)}
	for _, p := range profiles {
		s.profiles[p.ID] = p
	}
	return s
}

func (s *ProfileStore) PutProfile(p store.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

func (s *ProfileStore) GetProfile(_ context.Context, id string) (store.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return store.Profile{}, store.ErrNotFound
	}
	return p, nil
}

// CredentialStore is a static credential registry. Secrets stay encrypted
// at rest; decryption happens only inside the session manager.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]store.Credential
}

func NewCredentialStore(creds ...store.Credential) *CredentialStore {
	s := &CredentialStore{creds: make(map[string]store.Credential)}
	for _, c := range creds {
		s.creds[c.ID] = c
	}
	return s
}

func (s *CredentialStore) PutCredential(c store.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[c.ID] = c
}

func (s *CredentialStore) GetCredential(_ context.Context, id string) (store.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[id]
	if !ok {
		return store.Credential{}, store.ErrNotFound
	}
	return c, nil
}
