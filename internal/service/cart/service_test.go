package cart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fitcart/internal/domain"
	cartrepo "fitcart/internal/repository/cart"
	"fitcart/internal/retry"
	"fitcart/internal/stubapi"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type testSession struct {
	mu            sync.Mutex
	token         string
	invalidations int
}

func (s *testSession) CurrentToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

func (s *testSession) InvalidateSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidations++
}

func (s *testSession) setToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *testSession) invalidated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidations
}

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slept = append(r.slept, d)
	return nil
}

func (r *sleepRecorder) durations() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.slept...)
}

var mat = stubapi.Product{ID: 7, Name: "Mat", Price: decimal.RequireFromString("19.99"), Photo: "/mat.png"}

func newStore(t *testing.T, srv *stubapi.Server, sess *testSession, opts ...Option) *Service {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	repo := cartrepo.NewHTTP(ts.URL+stubapi.BasePath, sess)
	svc := New(repo, sess, opts...)
	t.Cleanup(svc.Close)
	return svc
}

func TestService_AddReloadsCart(t *testing.T) {
	srv := stubapi.New(stubapi.WithCatalog(mat))
	svc := newStore(t, srv, &testSession{token: "tok"})

	require.NoError(t, svc.Add(context.Background(), "7", 2))

	st := svc.Snapshot()
	require.Len(t, st.Items, 1)
	assert.Equal(t, int64(7), st.Items[0].ProductID)
	assert.Equal(t, "Mat", st.Items[0].Name)
	assert.Equal(t, 2, st.Items[0].Quantity)
	assert.Equal(t, 2, st.Count)
	assert.True(t, decimal.RequireFromString("39.98").Equal(st.Total))
	assert.False(t, st.Loading)
	assert.Empty(t, st.Error)
	assert.Equal(t, 1, srv.Calls(stubapi.RouteAdd))
	assert.Equal(t, 1, srv.Calls(stubapi.RouteList))
}

func TestService_AddValidation(t *testing.T) {
	srv := stubapi.New()
	svc := newStore(t, srv, &testSession{token: "tok"})

	var verr *domain.ValidationError
	require.ErrorAs(t, svc.Add(context.Background(), "abc", 1), &verr)
	assert.Equal(t, "productId", verr.Field)
	require.ErrorAs(t, svc.Add(context.Background(), "7", 0), &verr)
	assert.Equal(t, "quantity", verr.Field)

	assert.Zero(t, srv.TotalCalls())
	assert.Empty(t, svc.Snapshot().Error)
}

func TestService_SetQuantityBelowOneIsRejectedLocally(t *testing.T) {
	srv := stubapi.New()
	srv.Seed(stubapi.Line{ID: 1, ProductID: 7, Quantity: 2})
	svc := newStore(t, srv, &testSession{token: "tok"})

	var verr *domain.ValidationError
	require.ErrorAs(t, svc.SetQuantity(context.Background(), 1, 0), &verr)
	assert.Zero(t, srv.TotalCalls())
	assert.Equal(t, 2, srv.Lines()[0].Quantity)
}

func TestService_SetQuantityAndRemove(t *testing.T) {
	srv := stubapi.New(stubapi.WithCatalog(mat))
	srv.Seed(stubapi.Line{ID: 4, ProductID: 7, Quantity: 1})
	svc := newStore(t, srv, &testSession{token: "tok"})
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx))
	require.Equal(t, 1, svc.Snapshot().Count)

	require.NoError(t, svc.SetQuantity(ctx, 4, 3))
	assert.Equal(t, 3, svc.Snapshot().Count)

	require.NoError(t, svc.Remove(ctx, 4))
	st := svc.Snapshot()
	assert.Empty(t, st.Items)
	assert.Zero(t, st.Count)
	assert.True(t, st.Total.IsZero())
}

func TestService_ClearIsIdempotentOnEmptyCart(t *testing.T) {
	srv := stubapi.New()
	svc := newStore(t, srv, &testSession{token: "tok"})
	ctx := context.Background()

	require.NoError(t, svc.Clear(ctx))
	require.NoError(t, svc.Clear(ctx))

	assert.Equal(t, 2, srv.Calls(stubapi.RouteClear))
	assert.Zero(t, srv.Calls(stubapi.RouteList))
	assert.True(t, svc.Snapshot().Empty())
}

func TestService_CheckoutEmptiesCart(t *testing.T) {
	srv := stubapi.New(stubapi.WithCatalog(mat))
	srv.Seed(stubapi.Line{ID: 1, ProductID: 7, Quantity: 2})
	svc := newStore(t, srv, &testSession{token: "tok"})
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx))
	require.Equal(t, 2, svc.Snapshot().Count)

	require.NoError(t, svc.Checkout(ctx))

	st := svc.Snapshot()
	assert.Empty(t, st.Items)
	assert.Zero(t, st.Count)
	assert.Equal(t, 1, srv.Orders())
	assert.Equal(t, 1, srv.Calls(stubapi.RouteList), "checkout must not refetch")
}

func TestService_CheckoutReusesIdempotencyKeyOnRetry(t *testing.T) {
	srv := stubapi.New()
	srv.Seed(stubapi.Line{ID: 1, ProductID: 7, Quantity: 1})
	srv.FailNext(stubapi.RouteCheckout, stubapi.Failure{Status: http.StatusTooManyRequests, RetryAfter: "1"})

	var keys int
	rec := &sleepRecorder{}
	svc := newStore(t, srv, &testSession{token: "tok"},
		WithRetry(retry.New(retry.WithSleep(rec.sleep))),
		WithKeyGenerator(func() string {
			keys++
			return "order-key"
		}),
	)

	require.NoError(t, svc.Checkout(context.Background()))

	assert.Equal(t, 1, keys)
	assert.Equal(t, 2, srv.Calls(stubapi.RouteCheckout))
	assert.Equal(t, []string{"order-key"}, srv.CheckoutKeys())
	assert.Equal(t, []time.Duration{time.Second}, rec.durations())
}

func TestService_UnauthorizedInvalidatesSessionOnce(t *testing.T) {
	cases := []struct {
		name string
		call func(ctx context.Context, svc *Service) error
	}{
		{"add", func(ctx context.Context, svc *Service) error { return svc.Add(ctx, "7", 1) }},
		{"set quantity", func(ctx context.Context, svc *Service) error { return svc.SetQuantity(ctx, 1, 5) }},
		{"remove", func(ctx context.Context, svc *Service) error { return svc.Remove(ctx, 1) }},
		{"clear", func(ctx context.Context, svc *Service) error { return svc.Clear(ctx) }},
		{"checkout", func(ctx context.Context, svc *Service) error { return svc.Checkout(ctx) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := stubapi.New(stubapi.WithToken("tok"), stubapi.WithCatalog(mat))
			srv.Seed(stubapi.Line{ID: 1, ProductID: 7, Quantity: 1})
			sess := &testSession{token: "tok"}
			svc := newStore(t, srv, sess)
			ctx := context.Background()

			require.NoError(t, svc.Refresh(ctx))
			before := svc.Snapshot()
			require.Len(t, before.Items, 1)

			sess.setToken("expired")
			err := tc.call(ctx, svc)

			var authErr *domain.AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, 1, sess.invalidated())

			after := svc.Snapshot()
			assert.Equal(t, before.Items, after.Items)
			assert.Equal(t, domain.MsgSessionExpired, after.Error)
			assert.False(t, after.Loading)

			lines := srv.Lines()
			require.Len(t, lines, 1)
			assert.Equal(t, 1, lines[0].Quantity)
			assert.Zero(t, srv.Orders())
		})
	}
}

func TestService_RateLimitedRetriesOnce(t *testing.T) {
	srv := stubapi.New(stubapi.WithCatalog(mat))
	srv.FailNext(stubapi.RouteAdd, stubapi.Failure{Status: http.StatusTooManyRequests, RetryAfter: "2"})
	rec := &sleepRecorder{}
	svc := newStore(t, srv, &testSession{token: "tok"}, WithRetry(retry.New(retry.WithSleep(rec.sleep))))

	require.NoError(t, svc.Add(context.Background(), "7", 1))

	assert.Equal(t, 2, srv.Calls(stubapi.RouteAdd))
	assert.Equal(t, []time.Duration{2 * time.Second}, rec.durations())
	assert.Equal(t, 1, svc.Snapshot().Count)
}

func TestService_RefreshRateLimitedRetriesOnce(t *testing.T) {
	srv := stubapi.New(stubapi.WithCatalog(mat))
	srv.Seed(stubapi.Line{ID: 1, ProductID: 7, Quantity: 3})
	srv.FailNext(stubapi.RouteList, stubapi.Failure{Status: http.StatusTooManyRequests, RetryAfter: "3"})
	rec := &sleepRecorder{}
	svc := newStore(t, srv, &testSession{token: "tok"}, WithRetry(retry.New(retry.WithSleep(rec.sleep))))

	require.NoError(t, svc.Refresh(context.Background()))

	assert.Equal(t, 2, srv.Calls(stubapi.RouteList))
	assert.Equal(t, []time.Duration{3 * time.Second}, rec.durations())
	st := svc.Snapshot()
	assert.Equal(t, 3, st.Count)
	assert.Empty(t, st.Error)
}

func TestService_RateLimitedTwiceFails(t *testing.T) {
	srv := stubapi.New()
	srv.FailNext(stubapi.RouteAdd,
		stubapi.Failure{Status: http.StatusTooManyRequests, RetryAfter: "1"},
		stubapi.Failure{Status: http.StatusTooManyRequests, RetryAfter: "1"},
	)
	rec := &sleepRecorder{}
	svc := newStore(t, srv, &testSession{token: "tok"}, WithRetry(retry.New(retry.WithSleep(rec.sleep))))

	err := svc.Add(context.Background(), "7", 1)

	var limited *domain.RateLimitedError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 2, srv.Calls(stubapi.RouteAdd))
	assert.Equal(t, domain.MsgGeneric, svc.Snapshot().Error)
}

func TestService_ServerErrorKeepsItems(t *testing.T) {
	srv := stubapi.New(stubapi.WithCatalog(mat))
	srv.Seed(stubapi.Line{ID: 1, ProductID: 7, Quantity: 3})
	svc := newStore(t, srv, &testSession{token: "tok"})
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx))
	srv.FailNext(stubapi.RouteRemove, stubapi.Failure{Status: http.StatusInternalServerError, Message: "database unavailable"})

	err := svc.Remove(ctx, 1)

	var serverErr *domain.ServerError
	require.ErrorAs(t, err, &serverErr)
	st := svc.Snapshot()
	assert.Len(t, st.Items, 1)
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, "database unavailable", st.Error)
	assert.False(t, st.Loading)
}

func TestService_ClearFailureKeepsItems(t *testing.T) {
	srv := stubapi.New()
	srv.Seed(stubapi.Line{ID: 1, ProductID: 7, Quantity: 1})
	svc := newStore(t, srv, &testSession{token: "tok"})
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx))
	srv.FailNext(stubapi.RouteClear, stubapi.Failure{Status: http.StatusBadGateway})

	require.Error(t, svc.Clear(ctx))
	st := svc.Snapshot()
	assert.Len(t, st.Items, 1)
	assert.Equal(t, domain.MsgGeneric, st.Error)
}

func TestService_NetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	sess := &testSession{token: "tok"}
	svc := New(cartrepo.NewHTTP(url, sess), sess)
	t.Cleanup(svc.Close)

	var netErr *domain.NetworkError
	require.ErrorAs(t, svc.Refresh(context.Background()), &netErr)
	assert.Equal(t, domain.MsgNetwork, svc.Snapshot().Error)
}

func TestService_WithoutSession(t *testing.T) {
	srv := stubapi.New()
	srv.Seed(stubapi.Line{ID: 1, ProductID: 7, Quantity: 1})
	svc := newStore(t, srv, &testSession{})
	ctx := context.Background()

	require.NoError(t, svc.Refresh(ctx))
	assert.True(t, svc.Snapshot().Empty())

	err := svc.Add(ctx, "7", 1)
	require.ErrorIs(t, err, domain.ErrNoSession)
	assert.Equal(t, domain.MsgNoSession, svc.Snapshot().Error)

	require.ErrorIs(t, svc.Checkout(ctx), domain.ErrNoSession)
	assert.Zero(t, srv.TotalCalls())
}

func TestService_ReloadFailureAfterWriteStillSucceeds(t *testing.T) {
	srv := stubapi.New()
	svc := newStore(t, srv, &testSession{token: "tok"})
	srv.FailNext(stubapi.RouteList, stubapi.Failure{Status: http.StatusServiceUnavailable})

	require.NoError(t, svc.Add(context.Background(), "7", 1))

	assert.Len(t, srv.Lines(), 1)
	assert.Equal(t, domain.MsgGeneric, svc.Snapshot().Error)
}

func TestService_NormalizesEveryPayloadShape(t *testing.T) {
	cases := []struct {
		shape   stubapi.Shape
		nesting stubapi.Nesting
	}{
		{stubapi.ShapeArray, stubapi.NestUpper},
		{stubapi.ShapeItems, stubapi.NestLower},
		{stubapi.ShapeData, stubapi.NestFlat},
	}
	for _, tc := range cases {
		t.Run(string(tc.shape)+"/"+string(tc.nesting), func(t *testing.T) {
			srv := stubapi.New(stubapi.WithCatalog(mat), stubapi.WithShape(tc.shape), stubapi.WithNesting(tc.nesting))
			srv.Seed(stubapi.Line{ID: 2, ProductID: 7, Quantity: 2})
			svc := newStore(t, srv, &testSession{token: "tok"})

			require.NoError(t, svc.Refresh(context.Background()))
			st := svc.Snapshot()
			require.Len(t, st.Items, 1)
			assert.Equal(t, "Mat", st.Items[0].Name)
			assert.Equal(t, "/mat.png", st.Items[0].Photo)
			assert.True(t, mat.Price.Equal(st.Items[0].Price))
			assert.Equal(t, 2, st.Count)
		})
	}
}

func TestService_SerializesConcurrentOperations(t *testing.T) {
	srv := stubapi.New(stubapi.WithCatalog(mat), stubapi.WithLatency(10*time.Millisecond))
	svc := newStore(t, srv, &testSession{token: "tok"})

	var g errgroup.Group
	for i := 0; i < 6; i++ {
		g.Go(func() error {
			return svc.Add(context.Background(), "7", 1)
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, srv.MaxInFlight())
	st := svc.Snapshot()
	assert.Equal(t, 6, st.Count)
	assert.False(t, st.Loading)
}

func TestService_CountMatchesItems(t *testing.T) {
	srv := stubapi.New(stubapi.WithCatalog(mat, stubapi.Product{ID: 8, Name: "Band", Price: decimal.RequireFromString("5")}))
	srv.Seed(
		stubapi.Line{ID: 1, ProductID: 7, Quantity: 2},
		stubapi.Line{ID: 2, ProductID: 8, Quantity: 5},
	)
	svc := newStore(t, srv, &testSession{token: "tok"})

	require.NoError(t, svc.Refresh(context.Background()))
	st := svc.Snapshot()
	sum := 0
	for _, it := range st.Items {
		sum += it.Quantity
	}
	assert.Equal(t, sum, st.Count)
	assert.True(t, decimal.RequireFromString("64.98").Equal(st.Total))
}

func TestService_SubscribersObserveLoading(t *testing.T) {
	srv := stubapi.New(stubapi.WithCatalog(mat))
	srv.Seed(stubapi.Line{ID: 1, ProductID: 7, Quantity: 1})
	svc := newStore(t, srv, &testSession{token: "tok"})

	var mu sync.Mutex
	var seen []domain.CartState
	unsubscribe := svc.Subscribe(func(st domain.CartState) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	require.NoError(t, svc.Refresh(context.Background()))
	svc.notes.flush()

	mu.Lock()
	require.GreaterOrEqual(t, len(seen), 2)
	assert.True(t, seen[0].Loading)
	last := seen[len(seen)-1]
	assert.False(t, last.Loading)
	assert.Equal(t, 1, last.Count)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i].Version, seen[i-1].Version)
	}
	n := len(seen)
	mu.Unlock()

	unsubscribe()
	require.NoError(t, svc.Refresh(context.Background()))
	svc.notes.flush()
	mu.Lock()
	assert.Len(t, seen, n)
	mu.Unlock()
}

type blockingRepo struct {
	cartrepo.Repository
	started chan struct{}
	release chan struct{}
}

func (r *blockingRepo) List(ctx context.Context) (json.RawMessage, error) {
	close(r.started)
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return json.RawMessage(`[{"id":1,"quantity":4}]`), nil
}

func TestService_ResetDiscardsInFlightSnapshot(t *testing.T) {
	repo := &blockingRepo{started: make(chan struct{}), release: make(chan struct{})}
	svc := New(repo, &testSession{token: "tok"})
	t.Cleanup(svc.Close)

	done := make(chan error, 1)
	go func() { done <- svc.Refresh(context.Background()) }()

	<-repo.started
	svc.Reset()
	close(repo.release)

	require.NoError(t, <-done)
	st := svc.Snapshot()
	assert.True(t, st.Empty())
	assert.Zero(t, st.Count)
}

func TestService_HandleSessionChange(t *testing.T) {
	srv := stubapi.New(stubapi.WithCatalog(mat))
	srv.Seed(stubapi.Line{ID: 1, ProductID: 7, Quantity: 2})
	sess := &testSession{token: "tok"}
	svc := newStore(t, srv, sess)
	ctx := context.Background()

	require.NoError(t, svc.HandleSessionChange(ctx, "tok"))
	assert.Equal(t, 2, svc.Snapshot().Count)

	sess.setToken("")
	require.NoError(t, svc.HandleSessionChange(ctx, ""))
	assert.True(t, svc.Snapshot().Empty())
	assert.Equal(t, 1, srv.Calls(stubapi.RouteList))
}

func TestService_CanceledContext(t *testing.T) {
	srv := stubapi.New()
	svc := newStore(t, srv, &testSession{token: "tok"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 20; i++ {
		require.ErrorIs(t, svc.Clear(ctx), context.Canceled)
	}
	assert.Zero(t, srv.TotalCalls())

	st := svc.Snapshot()
	assert.Empty(t, st.Error)
	assert.False(t, st.Loading)
	assert.Zero(t, st.Version)
}

func TestService_SubscriberMayCallStore(t *testing.T) {
	srv := stubapi.New(stubapi.WithCatalog(mat))
	srv.Seed(stubapi.Line{ID: 1, ProductID: 7, Quantity: 2})
	srv.FailNext(stubapi.RouteClear, stubapi.Failure{Status: http.StatusInternalServerError})
	svc := newStore(t, srv, &testSession{token: "tok"})

	var once sync.Once
	reloaded := make(chan error, 1)
	unsubscribe := svc.Subscribe(func(st domain.CartState) {
		if st.Error == "" {
			return
		}
		once.Do(func() { reloaded <- svc.Refresh(context.Background()) })
	})
	defer unsubscribe()

	require.Error(t, svc.Clear(context.Background()))

	select {
	case err := <-reloaded:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber calling the store did not return")
	}

	require.NoError(t, svc.Refresh(context.Background()))
	assert.GreaterOrEqual(t, srv.Calls(stubapi.RouteList), 2)
	assert.Equal(t, 2, svc.Snapshot().Count)
}

func TestService_Close(t *testing.T) {
	srv := stubapi.New()
	svc := newStore(t, srv, &testSession{token: "tok"})

	svc.Close()
	svc.Close()

	require.ErrorIs(t, svc.Refresh(context.Background()), ErrClosed)
	assert.Zero(t, srv.TotalCalls())
}
