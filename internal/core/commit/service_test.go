package commit_test

import (
	"context"
	"testing"
	"time"

	"enricher/internal/core/commit"
	"enricher/internal/storage/memory"
	"enricher/internal/store"

	"github.com/stretchr/testify/require"
)

func stageItem(t *testing.T, s *memory.StagingStore, jobID, url string, status store.ItemStatus, p store.Payload) {
	t.Helper()
	require.NoError(t, s.Upsert(context.Background(), store.StagingItem{
		JobID: jobID, URL: url, Status: status, Payload: p,
	}))
}

func TestCommitPromotesOnlyOKItems(t *testing.T) {
	staging := memory.NewStagingStore()
	catalog := memory.NewCatalogStore()
	svc := commit.NewService(staging, catalog)
	ctx := context.Background()

	stageItem(t, staging, "j1", "https://v.example/p/1", store.ItemOK,
		store.Payload{Name: "One", CanonicalURL: "https://v.example/p/1"})
	stageItem(t, staging, "j1", "https://v.example/p/2", store.ItemError, store.Payload{})
	stageItem(t, staging, "j1", "https://v.example/p/3", store.ItemOK,
		store.Payload{Name: "Three", CanonicalURL: "https://v.example/p/3"})

	sum, err := svc.Commit(ctx, "j1", "prof")
	require.NoError(t, err)
	require.Equal(t, commit.Summary{Staged: 3, Promoted: 2, Duplicates: 0, Errors: 0}, sum)

	_, total, err := catalog.List(ctx, "prof", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 2, total)
}

func TestCommitDeduplicatesByCanonicalURL(t *testing.T) {
	staging := memory.NewStagingStore()
	catalog := memory.NewCatalogStore()
	svc := commit.NewService(staging, catalog)
	ctx := context.Background()

	// Two fetched URLs canonicalize to the same product.
	stageItem(t, staging, "j1", "https://v.example/p/1?ref=a", store.ItemOK,
		store.Payload{Name: "One", CanonicalURL: "https://v.example/p/1"})
	stageItem(t, staging, "j1", "https://v.example/p/1?ref=b", store.ItemOK,
		store.Payload{Name: "One", CanonicalURL: "https://v.example/p/1"})

	sum, err := svc.Commit(ctx, "j1", "prof")
	require.NoError(t, err)
	require.Equal(t, 1, sum.Promoted)
	require.Equal(t, 1, sum.Duplicates)
}

func TestCommitIsIdempotent(t *testing.T) {
	staging := memory.NewStagingStore()
	catalog := memory.NewCatalogStore()
	svc := commit.NewService(staging, catalog)
	ctx := context.Background()

	stageItem(t, staging, "j1", "https://v.example/p/1", store.ItemOK,
		store.Payload{Name: "One", CanonicalURL: "https://v.example/p/1"})

	_, err := svc.Commit(ctx, "j1", "prof")
	require.NoError(t, err)
	_, err = svc.Commit(ctx, "j1", "prof")
	require.NoError(t, err)

	_, total, err := catalog.List(ctx, "prof", 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestMergeNeverClobbersWithEmpty(t *testing.T) {
	existing := store.Product{
		ProfileID:    "prof",
		CanonicalURL: "https://v.example/p/1",
		Name:         "Known Name",
		ImageURL:     "https://v.example/img/old.jpg",
		FileURLs:     []string{"https://v.example/d/old.pdf"},
		GuessedCode:  "TX-1",
		Category:     "Valves",
		JobID:        "j0",
		CrawledAt:    time.Now().Add(-24 * time.Hour),
	}
	item := store.StagingItem{
		JobID: "j1",
		URL:   "https://v.example/p/1?ref=x",
		Payload: store.Payload{
			CanonicalURL: "https://v.example/p/1",
			Name:         "Fresh Name",
		},
	}

	out := commit.Merge(existing, item, "prof", "j1")
	require.Equal(t, "Fresh Name", out.Name)
	require.Equal(t, "https://v.example/img/old.jpg", out.ImageURL)
	require.Equal(t, []string{"https://v.example/d/old.pdf"}, out.FileURLs)
	require.Equal(t, "TX-1", out.GuessedCode)
	require.Equal(t, "Valves", out.Category)
	require.Equal(t, "j1", out.JobID)
	require.True(t, out.CrawledAt.After(existing.CrawledAt))
}

func TestMergeFallsBackToFetchedURL(t *testing.T) {
	item := store.StagingItem{
		JobID:   "j1",
		URL:     "https://v.example/p/9",
		Payload: store.Payload{Name: "Nine"},
	}
	out := commit.Merge(store.Product{}, item, "prof", "j1")
	require.Equal(t, "https://v.example/p/9", out.CanonicalURL)
}
