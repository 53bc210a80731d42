package postgres

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	setupOnce   sync.Once
	setupErr    error
	testConnStr string
	container   *pgcontainer.PostgresContainer
)

// TestMain tears down the shared container once every test has run.
func TestMain(m *testing.M) {
	code := m.Run()

	if container != nil {
		if err := container.Terminate(context.Background()); err != nil {
			log.Printf("could not terminate postgres container: %v", err)
		}
	}
	os.Exit(code)
}

// newTestPool starts the container on first use and returns a pool on a
// migrated database. Tests are skipped when no container runtime is available.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	setupOnce.Do(func() {
		// 1. Start a PostgreSQL container
		container, setupErr = pgcontainer.Run(ctx, "postgres:16-alpine",
			pgcontainer.WithDatabase("test-db"),
			pgcontainer.WithUsername("user"),
			pgcontainer.WithPassword("password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		if setupErr != nil {
			return
		}

		// 2. Get the dynamic connection string
		testConnStr, setupErr = container.ConnectionString(ctx, "sslmode=disable")
		if setupErr != nil {
			return
		}

		// 3. Run database migrations (postgres -> secondary -> adapters -> internal -> root)
		setupErr = Migrate(testConnStr, "../../../../migrations")
	})
	require.NoError(t, setupErr)

	pool, err := pgxpool.New(ctx, testConnStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, "TRUNCATE hub_snapshots")
	require.NoError(t, err)
	return pool
}
