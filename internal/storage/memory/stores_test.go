package memory

import (
	"context"
	"sync"
	"testing"

	"enricher/internal/core/job"
	"enricher/internal/store"

	"github.com/stretchr/testify/require"
)

func TestJobStoreTransitions(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, job.Job{ID: "j1", Status: job.StatusPending}))
	require.Error(t, s.Create(ctx, job.Job{ID: "j1"}))

	require.NoError(t, s.UpdateStatus(ctx, "j1", job.StatusRunning, ""))
	require.NoError(t, s.UpdateStatus(ctx, "j1", job.StatusWaitingCommit, ""))
	require.NoError(t, s.UpdateStatus(ctx, "j1", job.StatusCompleted, ""))

	// Terminal jobs accept no further transitions.
	require.Error(t, s.UpdateStatus(ctx, "j1", job.StatusRunning, ""))

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)

	require.ErrorIs(t, s.UpdateStatus(ctx, "nope", job.StatusRunning, ""), store.ErrNotFound)
}

func TestJobStoreRejectsSkippedStates(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, job.Job{ID: "j1", Status: job.StatusPending}))

	require.Error(t, s.UpdateStatus(ctx, "j1", job.StatusCompleted, ""))
	require.Error(t, s.UpdateStatus(ctx, "j1", job.StatusWaitingCommit, ""))
}

func TestJobStoreCountersConcurrent(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, job.Job{ID: "j1", Status: job.StatusRunning}))
	require.NoError(t, s.AddQueued(ctx, "j1", 100))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(ok bool) {
			defer wg.Done()
			_, err := s.ApplyItemResult(ctx, "j1", ok, false)
			require.NoError(t, err)
		}(i%4 != 0)
	}
	wg.Wait()

	got, err := s.Get(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, 100, got.Counters.Processed)
	require.Equal(t, got.Counters.Processed, got.Counters.Succeeded+got.Counters.Failed)
	require.Equal(t, 25, got.Counters.Failed)
}

func TestJobStoreListActive(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, job.Job{ID: "a", Status: job.StatusPending}))
	require.NoError(t, s.Create(ctx, job.Job{ID: "b", Status: job.StatusRunning}))
	require.NoError(t, s.Create(ctx, job.Job{ID: "c", Status: job.StatusCompleted}))

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, j := range active {
		require.False(t, j.Status.Terminal())
	}
}

func TestStagingStoreUpsertOverwrites(t *testing.T) {
	s := NewStagingStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, store.StagingItem{JobID: "j1", URL: "u1", Status: store.ItemOK}))
	require.NoError(t, s.Upsert(ctx, store.StagingItem{JobID: "j1", URL: "u1", Status: store.ItemError, Error: "boom"}))
	require.NoError(t, s.Upsert(ctx, store.StagingItem{JobID: "j2", URL: "u1", Status: store.ItemOK}))

	got, err := s.Get(ctx, "j1", "u1")
	require.NoError(t, err)
	require.Equal(t, store.ItemError, got.Status)

	items, err := s.ListByJob(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, s.DeleteByJob(ctx, "j1"))
	_, err = s.Get(ctx, "j1", "u1")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Other jobs' rows are untouched.
	_, err = s.Get(ctx, "j2", "u1")
	require.NoError(t, err)
}

func TestCatalogStorePaginationAndPurge(t *testing.T) {
	s := NewCatalogStore()
	ctx := context.Background()

	for _, p := range []store.Product{
		{ProfileID: "prof", CanonicalURL: "https://v.example/a", JobID: "j1"},
		{ProfileID: "prof", CanonicalURL: "https://v.example/b", JobID: "j1"},
		{ProfileID: "prof", CanonicalURL: "https://v.example/c", JobID: "j2"},
		{ProfileID: "other", CanonicalURL: "https://o.example/x", JobID: "j3"},
	} {
		require.NoError(t, s.Upsert(ctx, p))
	}

	page1, total, err := s.List(ctx, "prof", 1, 2)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, page1, 2)

	page2, _, err := s.List(ctx, "prof", 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)

	all, total, err := s.List(ctx, "", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 4, total)
	require.Len(t, all, 4)

	n, err := s.DeleteByJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	_, total, err = s.List(ctx, "prof", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestCatalogStoreUpsertIsKeyed(t *testing.T) {
	s := NewCatalogStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, store.Product{ProfileID: "prof", CanonicalURL: "u", Name: "v1", JobID: "j1"}))
	require.NoError(t, s.Upsert(ctx, store.Product{ProfileID: "prof", CanonicalURL: "u", Name: "v2", JobID: "j2"}))

	got, err := s.Get(ctx, "prof", "u")
	require.NoError(t, err)
	require.Equal(t, "v2", got.Name)
	_, total, err := s.List(ctx, "prof", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestProfileAndCredentialStores(t *testing.T) {
	ctx := context.Background()
	profiles := NewProfileStore(store.Profile{ID: "p1", Name: "Vendor"})
	creds := NewCredentialStore(store.Credential{ID: "c1", Username: "u"})

	p, err := profiles.GetProfile(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "Vendor", p.Name)
	_, err = profiles.GetProfile(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)

	c, err := creds.GetCredential(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "u", c.Username)
	_, err = creds.GetCredential(ctx, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
}
