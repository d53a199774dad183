package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vtu-service/internal/models"
	"vtu-service/internal/services"
	"vtu-service/internal/vendors"
)

func dataRequest(ref string, cost int64) services.RouteRequest {
	return services.RouteRequest{
		ServiceType:  models.ServiceData,
		Params:       vendors.Params{Reference: ref, Target: "08031234567", Network: "mtn", PlanID: "mtn-1gb"},
		SellingPrice: cost + 5000,
		CostPrice:    cost,
	}
}

func vendorIDs(vs []models.VendorConfig) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.ID
	}
	return out
}

func TestCandidates(t *testing.T) {
	now := time.Now()

	pool, _ := newPool(t,
		vendorSpec{id: "low", priority: 1},
		vendorSpec{id: "high", priority: 10},
		vendorSpec{id: "mid-b", priority: 5},
		vendorSpec{id: "mid-a", priority: 5},
		vendorSpec{id: "airtime-only", priority: 20, services: []models.ServiceType{models.ServiceAirtime}},
		vendorSpec{id: "off", priority: 30, disabled: true},
		vendorSpec{id: "broke", priority: 15},
		vendorSpec{id: "credit-line", priority: 2, postpaid: true},
		vendorSpec{id: "sick", priority: 25},
	)
	_, err := pool.RecordProbe("broke", 100, nil, 3, now)
	require.NoError(t, err)
	_, err = pool.RecordProbe("credit-line", 0, nil, 3, now)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = pool.RecordFailure("sick", 3)
		require.NoError(t, err)
	}
	// mid-b has one failure so mid-a goes first despite the id order tie-break.
	_, err = pool.RecordFailure("mid-b", 3)
	require.NoError(t, err)

	router := services.NewVendorRouter(pool, testConfig())
	got := vendorIDs(router.Candidates(models.ServiceData, 200_000))
	require.Equal(t, []string{"high", "mid-a", "mid-b", "credit-line", "low"}, got)
}

func TestCandidatesOrdering(t *testing.T) {
	now := time.Now()

	tests := map[string]struct {
		setup func(t *testing.T, pool *vendors.Pool)
		want  []string
	}{
		"id breaks full ties": {
			setup: func(*testing.T, *vendors.Pool) {},
			want:  []string{"a", "b"},
		},
		"fewer failures first": {
			setup: func(t *testing.T, pool *vendors.Pool) {
				_, err := pool.RecordFailure("a", 5)
				require.NoError(t, err)
			},
			want: []string{"b", "a"},
		},
		"most recently checked first": {
			setup: func(t *testing.T, pool *vendors.Pool) {
				_, err := pool.RecordProbe("a", 1_000_000, nil, 3, now.Add(-time.Minute))
				require.NoError(t, err)
				_, err = pool.RecordProbe("b", 1_000_000, nil, 3, now)
				require.NoError(t, err)
			},
			want: []string{"b", "a"},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			pool, _ := newPool(t, vendorSpec{id: "b", priority: 1}, vendorSpec{id: "a", priority: 1})
			tt.setup(t, pool)
			router := services.NewVendorRouter(pool, testConfig())
			require.Equal(t, tt.want, vendorIDs(router.Candidates(models.ServiceData, 1000)))
		})
	}
}

func TestRouteFailsOverOnTransientError(t *testing.T) {
	pool, adapters := newPool(t,
		vendorSpec{id: "A", priority: 10, purchase: failTransient("A")},
		vendorSpec{id: "B", priority: 5, purchase: succeed()},
	)
	router := services.NewVendorRouter(pool, testConfig())

	f, err := router.Route(context.Background(), dataRequest("PUR-1", 100_000))
	require.NoError(t, err)
	require.Equal(t, "B", f.VendorID)
	require.Equal(t, "B-PUR-1", f.Result.ProviderReference)
	require.Len(t, f.Attempts, 2)
	require.Equal(t, "A", f.Attempts[0].VendorID)
	require.NotEmpty(t, f.Attempts[0].Error)
	require.Empty(t, f.Attempts[1].Error)

	require.Equal(t, 1, adapters["A"].Calls())
	require.Equal(t, 1, adapters["B"].Calls())

	a := vendorState(t, pool, "A")
	require.Equal(t, 1, a.Failures)
	require.True(t, a.Healthy)
	require.Equal(t, 0, vendorState(t, pool, "B").Failures)
}

func TestRouteMarksUnhealthyAtThreshold(t *testing.T) {
	pool, adapters := newPool(t,
		vendorSpec{id: "A", priority: 10, purchase: failTransient("A")},
		vendorSpec{id: "B", priority: 5, purchase: succeed()},
	)
	cfg := testConfig()
	router := services.NewVendorRouter(pool, cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		require.True(t, vendorState(t, pool, "A").Healthy)
		_, err := router.Route(context.Background(), dataRequest("PUR-x", 100_000))
		require.NoError(t, err)
	}
	require.False(t, vendorState(t, pool, "A").Healthy)
	require.Equal(t, cfg.FailureThreshold, vendorState(t, pool, "A").Failures)

	f, err := router.Route(context.Background(), dataRequest("PUR-y", 100_000))
	require.NoError(t, err)
	require.Equal(t, "B", f.VendorID)
	require.Len(t, f.Attempts, 1)
	require.Equal(t, cfg.FailureThreshold, adapters["A"].Calls())
}

func TestRouteStopsOnRejection(t *testing.T) {
	pool, adapters := newPool(t,
		vendorSpec{id: "A", priority: 10, purchase: failRejected("A", "Invalid phone number")},
		vendorSpec{id: "B", priority: 5, purchase: succeed()},
	)
	router := services.NewVendorRouter(pool, testConfig())

	f, err := router.Route(context.Background(), dataRequest("PUR-1", 100_000))
	require.Error(t, err)
	require.True(t, vendors.IsRejected(err))
	require.Len(t, f.Attempts, 1)
	require.Equal(t, 0, adapters["B"].Calls())

	a := vendorState(t, pool, "A")
	require.Equal(t, 0, a.Failures)
	require.True(t, a.Healthy)
}

func TestRouteNoCapacity(t *testing.T) {
	t.Run("all candidates fail", func(t *testing.T) {
		pool, _ := newPool(t,
			vendorSpec{id: "A", priority: 10, purchase: failTransient("A")},
			vendorSpec{id: "B", priority: 5, purchase: failTransient("B")},
		)
		router := services.NewVendorRouter(pool, testConfig())

		f, err := router.Route(context.Background(), dataRequest("PUR-1", 100_000))
		var noCapacity *services.NoCapacityError
		require.True(t, errors.As(err, &noCapacity))
		require.Equal(t, []string{"A", "B"}, noCapacity.Attempted)
		require.Equal(t, models.ServiceData, noCapacity.ServiceType)
		require.Len(t, f.Attempts, 2)
	})

	t.Run("no eligible vendor", func(t *testing.T) {
		pool, adapters := newPool(t,
			vendorSpec{id: "A", priority: 10, services: []models.ServiceType{models.ServiceCable}},
		)
		router := services.NewVendorRouter(pool, testConfig())

		_, err := router.Route(context.Background(), dataRequest("PUR-1", 100_000))
		var noCapacity *services.NoCapacityError
		require.True(t, errors.As(err, &noCapacity))
		require.Empty(t, noCapacity.Attempted)
		require.Equal(t, 0, adapters["A"].Calls())
	})
}

func TestRouteCancellation(t *testing.T) {
	t.Run("before dispatch", func(t *testing.T) {
		pool, adapters := newPool(t, vendorSpec{id: "A", priority: 10})
		router := services.NewVendorRouter(pool, testConfig())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := router.Route(ctx, dataRequest("PUR-1", 100_000))
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 0, adapters["A"].Calls())
	})

	t.Run("after dispatch", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		pool, adapters := newPool(t,
			vendorSpec{id: "A", priority: 10, purchase: func(callCtx context.Context, _ vendors.Params, _ int64) (vendors.PurchaseResult, error) {
				cancel()
				if callCtx.Err() != nil {
					return vendors.PurchaseResult{}, errors.New("call context cancelled by caller")
				}
				return vendors.PurchaseResult{}, &vendors.TransientError{Vendor: "A", Err: errors.New("timeout")}
			}},
			vendorSpec{id: "B", priority: 5},
		)
		router := services.NewVendorRouter(pool, testConfig())

		f, err := router.Route(ctx, dataRequest("PUR-1", 100_000))
		require.NoError(t, err)
		require.Equal(t, "B", f.VendorID)
		require.Equal(t, 1, adapters["B"].Calls())
	})
}

func TestRoutePerCallTimeout(t *testing.T) {
	pool, _ := newPool(t,
		vendorSpec{id: "slow", priority: 10, purchase: func(ctx context.Context, _ vendors.Params, _ int64) (vendors.PurchaseResult, error) {
			<-ctx.Done()
			return vendors.PurchaseResult{}, &vendors.TransientError{Vendor: "slow", Err: ctx.Err()}
		}},
		vendorSpec{id: "fast", priority: 5},
	)
	cfg := testConfig()
	cfg.VendorTimeout = 20 * time.Millisecond
	router := services.NewVendorRouter(pool, cfg)

	f, err := router.Route(context.Background(), dataRequest("PUR-1", 100_000))
	require.NoError(t, err)
	require.Equal(t, "fast", f.VendorID)
	require.Equal(t, 1, vendorState(t, pool, "slow").Failures)
}
