// Package e2e provides end-to-end tests for dashdeploy.
//
// These tests require a running Docker daemon and will create/destroy
// real containers. They are opt-in; run with:
//
//	DASHDEPLOY_E2E=1 go test -v -timeout 10m ./tests/e2e/...
package e2e

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daas8085/dashdeploy/internal/core/domain"
	"github.com/daas8085/dashdeploy/internal/core/stack"
	"github.com/daas8085/dashdeploy/internal/shell/engine"
	"github.com/daas8085/dashdeploy/internal/shell/probe"
	"github.com/daas8085/dashdeploy/internal/shell/store"
)

// e2eStackYAML is a reduced stack of public images so no build step is
// needed. Both services carry healthchecks, which the readiness tests
// depend on.
const e2eStackYAML = `
services:
  postgres:
    image: postgres:16-alpine
    environment:
      POSTGRES_USER: airflow
      POSTGRES_PASSWORD: airflow
      POSTGRES_DB: airflow
    healthcheck:
      test: ["CMD-SHELL", "pg_isready -U airflow"]
      interval: 2s
      timeout: 3s
      retries: 20

  redis:
    image: redis:7-alpine
    healthcheck:
      test: ["CMD", "redis-cli", "ping"]
      interval: 2s
      timeout: 3s
      retries: 20
`

// =============================================================================
// Test Globals
// =============================================================================

var (
	testEngine *engine.Docker
	testOrch   *engine.Orchestrator
	testStack  *stack.Stack
	testLogger *slog.Logger
)

// =============================================================================
// TestMain Setup
// =============================================================================

func TestMain(m *testing.M) {
	if os.Getenv("DASHDEPLOY_E2E") != "1" {
		fmt.Println("skipping e2e: set DASHDEPLOY_E2E=1 to run against a live engine")
		os.Exit(0)
	}

	code := setup()
	if code != 0 {
		os.Exit(code)
	}

	result := m.Run()

	teardown()

	os.Exit(result)
}

func setup() int {
	log.Println("E2E Setup: Initializing test environment...")

	testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	st, err := stack.Parse(e2eStackYAML)
	if err != nil {
		log.Printf("Failed to parse e2e stack: %v", err)
		return 1
	}
	testStack = st

	eng, err := engine.NewDocker("")
	if err != nil {
		log.Printf("Failed to create engine client: %v", err)
		return 1
	}
	testEngine = eng

	if err := eng.Ping(context.Background()); err != nil {
		log.Printf("Failed to ping engine: %v", err)
		log.Println("Make sure the Docker daemon is running")
		return 1
	}
	log.Println("E2E Setup: engine daemon is reachable")

	testOrch = engine.NewOrchestrator(testEngine, testLogger, ".")

	// Remove leftovers from earlier runs.
	if err := testOrch.Down(context.Background()); err != nil {
		log.Printf("WARN: failed to clean up old stack: %v", err)
	}

	return 0
}

func teardown() {
	log.Println("E2E Teardown: removing the stack...")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if testOrch != nil {
		if err := testOrch.Down(ctx); err != nil {
			log.Printf("WARN: failed to remove stack: %v", err)
		}
	}
	if testEngine != nil {
		testEngine.Close()
	}
}

// =============================================================================
// Stack Lifecycle
// =============================================================================

func TestStackLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	statuses, err := testOrch.Up(ctx, testStack)
	require.NoError(t, err, "stack should come up")
	require.Len(t, statuses, 2)

	t.Cleanup(func() {
		_ = testOrch.Down(context.Background())
	})

	// Every service reports a container.
	for _, s := range statuses {
		assert.NotEmpty(t, s.ContainerID, "service %s has no container", s.Service)
		assert.Equal(t, engine.ContainerStatusRunning, s.Status, "service %s not running", s.Service)
	}

	// Both services become healthy.
	for _, s := range statuses {
		waitForHealthy(t, ctx, s.Service, s.ContainerID, 2*time.Minute)
	}

	// Status sees the same containers.
	observed, err := testOrch.Status(ctx)
	require.NoError(t, err)
	assert.Len(t, observed, 2)

	// Up again replaces the containers instead of failing.
	statuses2, err := testOrch.Up(ctx, testStack)
	require.NoError(t, err, "second up should replace containers")
	require.Len(t, statuses2, 2)

	// Down removes everything.
	require.NoError(t, testOrch.Down(ctx))

	observed, err = testOrch.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, observed, "stack containers should be gone after down")
}

// =============================================================================
// Readiness Probing
// =============================================================================

func TestProbeContainerTarget(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	statuses, err := testOrch.Up(ctx, testStack)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = testOrch.Down(context.Background())
	})

	redis, ok := findService(statuses, "redis")
	require.True(t, ok, "redis service missing from stack")

	prober := probe.New(testLogger, 2*time.Second)
	report, err := prober.Await(ctx, &probe.ContainerTarget{
		Engine:      testEngine,
		Service:     redis.Service,
		ContainerID: redis.ContainerID,
	}, 2*time.Minute)

	require.NoError(t, err, "redis should become healthy")
	assert.GreaterOrEqual(t, report.Attempts, 1)
}

// =============================================================================
// Release History
// =============================================================================

func TestReleaseHistoryOnDisk(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "releases.db")

	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	release := domain.NewRelease(domain.ReleaseParams{
		Environment: "development",
		Registry:    "registry.example.com",
		Tag:         "e2e",
		ImageRef:    "registry.example.com/automated-dashboard:e2e",
		Namespace:   "dashboard",
		Provider:    "generic",
	})
	require.NoError(t, st.CreateRelease(ctx, release))

	require.NoError(t, release.Start())
	release.Steps = []domain.StepRecord{
		{Name: "build-image", Outcome: "succeeded", DurationMS: 1200},
		{Name: "deploy-stack", Outcome: "succeeded", DurationMS: 3400},
	}
	require.NoError(t, release.Succeed("http://localhost:8501"))
	require.NoError(t, st.FinishRelease(ctx, release))

	got, err := st.GetRelease(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReleaseSucceeded, got.Status)
	assert.Equal(t, "http://localhost:8501", got.Endpoint)
	assert.Len(t, got.Steps, 2)

	listed, err := st.ListReleases(ctx, store.ListOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, release.ID, listed[0].ID)
}
