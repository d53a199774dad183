package vendors_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vtu-service/internal/models"
	"vtu-service/internal/vendors"
)

type stubAdapter struct{}

func (stubAdapter) Quote(context.Context, models.ServiceType, vendors.Params) (int64, error) {
	return 0, nil
}

func (stubAdapter) Purchase(context.Context, models.ServiceType, vendors.Params, int64) (vendors.PurchaseResult, error) {
	return vendors.PurchaseResult{}, nil
}

func (stubAdapter) Balance(context.Context) (int64, error) { return 0, nil }

func stubRegistry() *vendors.Registry {
	return vendors.NewRegistry(nil, map[models.AdapterKind]vendors.Factory{
		"stub": func(models.VendorConfig, *http.Client) (vendors.Adapter, error) { return stubAdapter{}, nil },
		"alt":  func(models.VendorConfig, *http.Client) (vendors.Adapter, error) { return stubAdapter{}, nil },
	})
}

func stubVendor(id string, services ...models.ServiceType) models.VendorConfig {
	return models.VendorConfig{ID: id, Adapter: "stub", Enabled: true, Services: services}
}

func TestNewPool(t *testing.T) {
	pool, err := vendors.NewPool(stubRegistry(), []models.VendorConfig{
		stubVendor("b", models.ServiceData),
		stubVendor("a", models.ServiceAirtime, models.ServiceCable),
	})
	require.NoError(t, err)

	snapshot := pool.Snapshot()
	require.Len(t, snapshot, 2)
	require.Equal(t, "a", snapshot[0].ID)
	require.True(t, snapshot[0].Healthy)
	require.True(t, snapshot[0].LastHealthCheck.IsZero())
	require.True(t, snapshot[0].Supports(models.ServiceCable))
	require.False(t, snapshot[0].Supports(models.ServiceData))

	_, err = pool.Adapter("a")
	require.NoError(t, err)
	_, err = pool.Adapter("zzz")
	require.ErrorIs(t, err, vendors.ErrUnknownVendor)
}

func TestPoolRejectsBadConfig(t *testing.T) {
	tests := map[string]struct {
		configs []models.VendorConfig
		wantErr error
	}{
		"duplicate id": {
			configs: []models.VendorConfig{stubVendor("a"), stubVendor("a")},
		},
		"unknown adapter": {
			configs: []models.VendorConfig{{ID: "x", Adapter: "carrier-pigeon"}},
			wantErr: vendors.ErrUnknownAdapter,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := vendors.NewPool(stubRegistry(), tt.configs)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestPoolHealthTransitions(t *testing.T) {
	pool, err := vendors.NewPool(stubRegistry(), []models.VendorConfig{stubVendor("a", models.ServiceData)})
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		v, err := pool.RecordFailure("a", 3)
		require.NoError(t, err)
		require.Equal(t, i, v.Failures)
		require.Equal(t, i < 3, v.Healthy)
	}

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	v, err := pool.RecordProbe("a", 0, errors.New("timeout"), 3, at)
	require.NoError(t, err)
	require.False(t, v.Healthy)
	require.Equal(t, 4, v.Failures)
	require.Equal(t, at, v.LastHealthCheck)

	v, err = pool.RecordProbe("a", 75_000, nil, 3, at.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, v.Healthy)
	require.Zero(t, v.Failures)
	require.Equal(t, int64(75_000), v.CachedBalance)

	_, err = pool.RecordFailure("ghost", 3)
	require.ErrorIs(t, err, vendors.ErrUnknownVendor)
	_, err = pool.RecordProbe("ghost", 0, nil, 3, at)
	require.ErrorIs(t, err, vendors.ErrUnknownVendor)
}

func TestPoolReload(t *testing.T) {
	pool, err := vendors.NewPool(stubRegistry(), []models.VendorConfig{
		stubVendor("keep", models.ServiceData),
		stubVendor("swap", models.ServiceData),
		stubVendor("drop", models.ServiceData),
	})
	require.NoError(t, err)
	for _, id := range []string{"keep", "swap"} {
		_, err = pool.RecordFailure(id, 1)
		require.NoError(t, err)
	}

	swapped := stubVendor("swap", models.ServiceData)
	swapped.Adapter = "alt"
	require.NoError(t, pool.Reload([]models.VendorConfig{
		stubVendor("keep", models.ServiceData, models.ServiceAirtime),
		swapped,
		stubVendor("new", models.ServiceData),
	}))

	keep, ok := pool.Get("keep")
	require.True(t, ok)
	require.False(t, keep.Healthy)
	require.Equal(t, 1, keep.Failures)
	require.True(t, keep.Supports(models.ServiceAirtime))

	swap, ok := pool.Get("swap")
	require.True(t, ok)
	require.True(t, swap.Healthy)

	_, ok = pool.Get("drop")
	require.False(t, ok)

	// A failed reload leaves the pool as it was.
	require.Error(t, pool.Reload([]models.VendorConfig{{ID: "bad", Adapter: "nope"}}))
	require.Len(t, pool.Snapshot(), 3)
}

func TestPoolReloadKeepsConcurrentFailures(t *testing.T) {
	configs := []models.VendorConfig{stubVendor("a", models.ServiceData)}
	pool, err := vendors.NewPool(stubRegistry(), configs)
	require.NoError(t, err)

	const writers, perWriter = 8, 200
	stop := make(chan struct{})
	reloaded := make(chan struct{})
	go func() {
		defer close(reloaded)
		for {
			select {
			case <-stop:
				return
			default:
				if err := pool.Reload(configs); err != nil {
					t.Errorf("reload: %v", err)
					return
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				if _, err := pool.RecordFailure("a", 0); err != nil {
					t.Errorf("record failure: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-reloaded

	a, ok := pool.Get("a")
	require.True(t, ok)
	require.Equal(t, writers*perWriter, a.Failures)
	require.True(t, a.Healthy)
}

func TestSendClassifiesTimeouts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	registry := vendors.DefaultRegistry(20 * time.Millisecond)
	adapter, err := registry.New(models.VendorConfig{
		ID:      "slow",
		Adapter: models.AdapterClubKonnect,
		Credentials: models.Credentials{ClubKonnect: &models.ClubKonnectCredentials{
			BaseURL: srv.URL, UserID: "u", APIKey: "k",
		}},
	})
	require.NoError(t, err)

	_, err = adapter.Balance(context.Background())
	var transient *vendors.TransientError
	require.True(t, errors.As(err, &transient))
	require.Equal(t, "slow", transient.Vendor)
	require.Contains(t, err.Error(), "timeout")
}

func TestErrorClassification(t *testing.T) {
	tests := map[string]struct {
		err           error
		wantRejected  bool
		wantTransient bool
	}{
		"nil":        {err: nil},
		"rejected":   {err: &vendors.RejectedError{Vendor: "v", Message: "bad"}, wantRejected: true},
		"transient":  {err: &vendors.TransientError{Vendor: "v", Err: errors.New("down")}, wantTransient: true},
		"unknown":    {err: errors.New("boom"), wantTransient: true},
		"wrapped":    {err: errors.Join(errors.New("ctx"), &vendors.RejectedError{Vendor: "v"}), wantRejected: true},
		"ctx expiry": {err: context.DeadlineExceeded, wantTransient: true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.wantRejected, vendors.IsRejected(tt.err))
			require.Equal(t, tt.wantTransient, vendors.IsTransient(tt.err))
		})
	}
}
