package services_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vtu-service/internal/pricing"
	"vtu-service/internal/services"
	"vtu-service/internal/vendors"
)

const validCatalog = `
vendors:
  - id: vtpass
    adapter: vtpass
    enabled: true
    priority: 10
    services: [DATA, AIRTIME]
    credentials:
      vtpass:
        base_url: https://sandbox.vtpass.com
        api_key: key
        secret_key: sk
        public_key: pk
plans:
  - plan_id: mtn-1gb
    vendor_id: vtpass
    service_type: DATA
    network: mtn
    cost_price: 190000
    selling_price: 200000
    active: true
rules:
  - service_type: AIRTIME
    margin: "2"
    active: true
`

const lossMakingCatalog = `
vendors:
  - id: clubkonnect
    adapter: clubkonnect
    enabled: true
    priority: 5
    services: [AIRTIME]
    credentials:
      clubkonnect:
        base_url: https://www.nellobytesystems.com
        user_id: CK100
        api_key: key
plans:
  - plan_id: mtn-1gb
    vendor_id: clubkonnect
    service_type: DATA
    network: mtn
    cost_price: 210000
    selling_price: 200000
    active: true
`

func writeCatalog(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestCatalogReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	writeCatalog(t, path, validCatalog)

	pool, err := vendors.NewPool(vendors.DefaultRegistry(time.Second), nil)
	require.NoError(t, err)
	prices := pricing.NewCatalog()
	svc := services.NewCatalogService(path, pool, prices)

	require.NoError(t, svc.Reload())
	require.Len(t, pool.Snapshot(), 1)
	plan, ok := prices.Plan("mtn-1gb")
	require.True(t, ok)
	require.Equal(t, int64(200_000), plan.SellingPrice)

	_, err = pool.RecordFailure("vtpass", 3)
	require.NoError(t, err)

	// Reloading the same file keeps the vendor's health state.
	require.NoError(t, svc.Reload())
	require.Equal(t, 1, vendorState(t, pool, "vtpass").Failures)

	t.Run("invalid file changes nothing", func(t *testing.T) {
		writeCatalog(t, path, lossMakingCatalog)
		require.ErrorIs(t, svc.Reload(), pricing.ErrLossMaking)

		require.Len(t, pool.Snapshot(), 1)
		_, ok := pool.Get("clubkonnect")
		require.False(t, ok)
		plan, ok := prices.Plan("mtn-1gb")
		require.True(t, ok)
		require.Equal(t, int64(190_000), plan.CostPrice)
	})

	t.Run("missing file", func(t *testing.T) {
		missing := services.NewCatalogService(filepath.Join(t.TempDir(), "nope.yaml"), pool, prices)
		require.Error(t, missing.Reload())
		require.Len(t, pool.Snapshot(), 1)
	})
}
