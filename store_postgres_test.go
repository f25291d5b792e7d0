package invoiceflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// TestPostgresStore runs the shared store conformance suite against a real
// PostgreSQL instance. Requires Docker; skipped in short mode or when no
// container runtime is available.
func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("invoiceflow"),
		tcpostgres.WithUsername("invoiceflow"),
		tcpostgres.WithPassword("invoiceflow"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	if err != nil {
		t.Skipf("could not start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := NewPostgresStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	runStoreConformance(t, store)
}
