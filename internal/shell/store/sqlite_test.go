package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daas8085/dashdeploy/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func createTestRelease(t *testing.T, store Store, environment string) *domain.Release {
	t.Helper()
	release := domain.NewRelease(domain.ReleaseParams{
		Environment: environment,
		Registry:    "registry.example.com",
		Tag:         "latest",
		ImageRef:    "registry.example.com/automated-dashboard:latest",
		Namespace:   "dashboard",
		Provider:    "generic",
	})

	err := store.CreateRelease(context.Background(), release)
	require.NoError(t, err)
	return release
}

// =============================================================================
// CreateRelease Tests
// =============================================================================

func TestCreateRelease(t *testing.T) {
	store := setupTestStore(t)

	release := createTestRelease(t, store, "development")

	fetched, err := store.GetRelease(context.Background(), release.ID)
	require.NoError(t, err)
	assert.Equal(t, release.ID, fetched.ID)
	assert.Equal(t, "development", fetched.Environment)
	assert.Equal(t, "registry.example.com", fetched.Registry)
	assert.Equal(t, "latest", fetched.Tag)
	assert.Equal(t, "registry.example.com/automated-dashboard:latest", fetched.ImageRef)
	assert.Equal(t, "dashboard", fetched.Namespace)
	assert.Equal(t, "generic", fetched.Provider)
	assert.Equal(t, domain.ReleasePending, fetched.Status)
	assert.Empty(t, fetched.Steps)
	assert.Nil(t, fetched.StartedAt)
	assert.Nil(t, fetched.FinishedAt)
}

func TestCreateRelease_DuplicateID(t *testing.T) {
	store := setupTestStore(t)
	release := createTestRelease(t, store, "development")

	err := store.CreateRelease(context.Background(), release)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

// =============================================================================
// FinishRelease Tests
// =============================================================================

func TestFinishRelease_Succeeded(t *testing.T) {
	store := setupTestStore(t)
	release := createTestRelease(t, store, "development")

	require.NoError(t, release.Start())
	release.Steps = []domain.StepRecord{
		{Name: "build-image", Outcome: "succeeded", Message: "built registry.example.com/automated-dashboard:latest", DurationMS: 4200},
		{Name: "push-image", Outcome: "skipped", Message: "image push applies to production only"},
		{Name: "deploy-stack", Outcome: "succeeded", DurationMS: 900},
	}
	require.NoError(t, release.Succeed("http://localhost:8501"))

	err := store.FinishRelease(context.Background(), release)
	require.NoError(t, err)

	fetched, err := store.GetRelease(context.Background(), release.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReleaseSucceeded, fetched.Status)
	assert.Equal(t, "http://localhost:8501", fetched.Endpoint)
	require.Len(t, fetched.Steps, 3)
	assert.Equal(t, "build-image", fetched.Steps[0].Name)
	assert.Equal(t, "succeeded", fetched.Steps[0].Outcome)
	assert.Equal(t, int64(4200), fetched.Steps[0].DurationMS)
	assert.Equal(t, "skipped", fetched.Steps[1].Outcome)
	require.NotNil(t, fetched.StartedAt)
	require.NotNil(t, fetched.FinishedAt)
}

func TestFinishRelease_Failed(t *testing.T) {
	store := setupTestStore(t)
	release := createTestRelease(t, store, "production")

	require.NoError(t, release.Start())
	release.Steps = []domain.StepRecord{
		{Name: "build-image", Outcome: "failed", Message: "step 3/7 failed", ExitCode: 1, DurationMS: 1800},
		{Name: "push-image", Outcome: "skipped", Message: "not run: halted after build-image failed"},
	}
	require.NoError(t, release.Fail("build-image: step 3/7 failed"))

	err := store.FinishRelease(context.Background(), release)
	require.NoError(t, err)

	fetched, err := store.GetRelease(context.Background(), release.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReleaseFailed, fetched.Status)
	assert.Equal(t, "build-image: step 3/7 failed", fetched.ErrorMessage)
	assert.Empty(t, fetched.Endpoint)
	require.Len(t, fetched.Steps, 2)
	assert.Equal(t, 1, fetched.Steps[0].ExitCode)
}

func TestFinishRelease_NotFound(t *testing.T) {
	store := setupTestStore(t)
	release := domain.NewRelease(domain.ReleaseParams{Environment: "development"})

	err := store.FinishRelease(context.Background(), release)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// GetRelease Tests
// =============================================================================

func TestGetRelease_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRelease(context.Background(), "nonexistent-id")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "GetRelease", storeErr.Op)
	assert.Equal(t, "nonexistent-id", storeErr.ID)
}

// =============================================================================
// ListReleases Tests
// =============================================================================

func TestListReleases_MostRecentFirst(t *testing.T) {
	store := setupTestStore(t)

	// Insert with explicit timestamps so ordering does not depend on clock
	// resolution during the test run.
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		release := domain.NewRelease(domain.ReleaseParams{
			Environment: "development",
			Registry:    "registry.example.com",
			Tag:         "latest",
		})
		release.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		release.UpdatedAt = release.CreatedAt
		require.NoError(t, store.CreateRelease(context.Background(), release))
		ids = append(ids, release.ID)
	}

	releases, err := store.ListReleases(context.Background(), DefaultListOptions())

	require.NoError(t, err)
	require.Len(t, releases, 3)
	assert.Equal(t, ids[2], releases[0].ID)
	assert.Equal(t, ids[1], releases[1].ID)
	assert.Equal(t, ids[0], releases[2].ID)
}

func TestListReleases_RespectsLimit(t *testing.T) {
	store := setupTestStore(t)
	for i := 0; i < 5; i++ {
		createTestRelease(t, store, "development")
	}

	releases, err := store.ListReleases(context.Background(), ListOptions{Limit: 2})

	require.NoError(t, err)
	assert.Len(t, releases, 2)
}

func TestListReleases_Empty(t *testing.T) {
	store := setupTestStore(t)

	releases, err := store.ListReleases(context.Background(), DefaultListOptions())

	require.NoError(t, err)
	assert.Empty(t, releases)
}

func TestListReleasesByEnvironment(t *testing.T) {
	store := setupTestStore(t)
	createTestRelease(t, store, "development")
	createTestRelease(t, store, "production")
	createTestRelease(t, store, "development")

	releases, err := store.ListReleasesByEnvironment(context.Background(), "development", DefaultListOptions())

	require.NoError(t, err)
	require.Len(t, releases, 2)
	for _, r := range releases {
		assert.Equal(t, "development", r.Environment)
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestListOptions_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   ListOptions
		want ListOptions
	}{
		{name: "defaults applied", in: ListOptions{}, want: ListOptions{Limit: 100, Offset: 0}},
		{name: "negative offset", in: ListOptions{Limit: 10, Offset: -5}, want: ListOptions{Limit: 10, Offset: 0}},
		{name: "limit capped", in: ListOptions{Limit: 5000}, want: ListOptions{Limit: 1000}},
		{name: "valid untouched", in: ListOptions{Limit: 20, Offset: 40}, want: ListOptions{Limit: 20, Offset: 40}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize())
		})
	}
}
