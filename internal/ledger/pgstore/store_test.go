package pgstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"vtu-service/internal/ledger"
	"vtu-service/internal/ledger/pgstore"
	"vtu-service/internal/ledger/storetest"
)

// TestStore runs against the database named by TEST_DATABASE_URL. Each subtest
// creates its own users, so a shared database is fine.
func TestStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	require.NoError(t, pgstore.Migrate(ctx, dsn))

	store, err := pgstore.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	storetest.Run(t, func(t *testing.T) ledger.Store {
		return store
	})
}
