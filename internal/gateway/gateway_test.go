package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/authapi"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/authtest"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/db"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/gwerrors"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/navigation"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/notifications"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/tokenstore"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testSetup struct {
	backend *authtest.Backend
	store   *tokenstore.TokenStore
	repo    models.TokenRepository
	history *navigation.History
	center  *notifications.Center
	gateway *Gateway
}

func newTestSetup(t *testing.T, options ...GatewayOption) testSetup {
	backend := authtest.NewBackend()
	t.Cleanup(backend.Close)
	client, err := authapi.NewClient(authapi.WithBaseURL(backend.URL), authapi.WithTimeout(5*time.Second))
	require.NoError(t, err)
	repo, err := db.NewMockRedisAdapter()
	require.NoError(t, err)
	history := navigation.NewHistory("/")
	center := notifications.NewCenter()
	store, err := tokenstore.NewTokenStore(
		tokenstore.WithAuthAPI(client),
		tokenstore.WithTokenRepository(repo),
		tokenstore.WithNavigator(history),
		tokenstore.WithNotifier(center),
		tokenstore.WithAutoDismiss(time.Hour),
	)
	require.NoError(t, err)
	options = append([]GatewayOption{
		WithBaseURL(backend.URL),
		WithHTTPClient(&http.Client{Timeout: 5 * time.Second}),
		WithCredentialStore(store),
		WithNotifier(center),
		WithAutoDismiss(time.Hour),
	}, options...)
	g, err := NewGateway(options...)
	require.NoError(t, err)
	return testSetup{backend: backend, store: store, repo: repo, history: history, center: center, gateway: g}
}

func (ts testSetup) login(t *testing.T) {
	_, err := ts.store.Login(context.Background(), authtest.DefaultEmail, authtest.DefaultPassword)
	require.NoError(t, err)
}

func (ts testSetup) notifications(severity notifications.Severity) []string {
	output := []string{}
	for _, n := range ts.center.List() {
		if n.Type == severity {
			output = append(output, n.Message)
		}
	}
	return output
}

func (g *Gateway) pendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

type result struct {
	res *Response
	err error
}

// executeConcurrently starts n GET requests and returns a function that waits for all of them
func executeConcurrently(ctx context.Context, g *Gateway, n int) func() []result {
	results := make([]result, n)
	wg := sync.WaitGroup{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := g.Execute(ctx, NewRequest(http.MethodGet, "items", nil))
			results[i] = result{res, err}
		}(i)
	}
	return func() []result {
		wg.Wait()
		return results
	}
}

func TestNewGatewayValidation(t *testing.T) {
	_, err := NewGateway()
	assert.Error(t, err)
	base, _ := url.Parse("http://localhost/api")
	_, err = NewGateway(WithBaseURL(base))
	assert.ErrorContains(t, err, "credential store")
	_, err = NewGateway(WithBaseURL(base), WithCredentialStore(&fakeStore{}))
	assert.ErrorContains(t, err, "notifier")
	_, err = NewGateway(WithBaseURL(base), WithCredentialStore(&fakeStore{}), WithNotifier(notifications.Nop{}), WithRefreshTimeout(0))
	assert.Error(t, err)
	g, err := NewGateway(WithBaseURL(base), WithCredentialStore(&fakeStore{}), WithNotifier(notifications.Nop{}))
	require.NoError(t, err)
	assert.Equal(t, defaultRefreshTimeout, g.refreshTimeout)
	assert.Equal(t, "X-Request-ID", g.correlationHeader)
}

func TestExecuteAttachesBearer(t *testing.T) {
	ts := newTestSetup(t)
	ts.login(t)

	req := NewRequest(http.MethodGet, "items", nil)
	req.Query = url.Values{"page": {"2"}}
	res, err := ts.gateway.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var echoed authtest.Echo
	require.NoError(t, res.Decode(&echoed))
	assert.Equal(t, "Bearer T1", echoed.Authorization)
	assert.Equal(t, "/api/items", echoed.Path)
	assert.Equal(t, "page=2", echoed.Query)
	assert.NotEmpty(t, res.CorrelationID)
	assert.Empty(t, req.CorrelationID(), "the caller's request is not modified")
	assert.Equal(t, int32(0), ts.backend.RefreshCalls.Load())
}

func TestConcurrentUnauthorizedRefreshOnce(t *testing.T) {
	const n = 5
	ts := newTestSetup(t)
	ts.login(t)
	ts.backend.ExpireAccessTokens()
	ts.backend.QueueRefreshTokens("T2")
	release := ts.backend.HoldRefresh()

	wait := executeConcurrently(context.Background(), ts.gateway, n)
	require.Eventually(t, func() bool { return ts.gateway.pendingCount() == n-1 }, 5*time.Second, 5*time.Millisecond)
	release()
	results := wait()

	for _, r := range results {
		require.NoError(t, r.err)
		var echoed authtest.Echo
		require.NoError(t, r.res.Decode(&echoed))
		assert.Equal(t, "Bearer T2", echoed.Authorization)
	}
	assert.Equal(t, int32(1), ts.backend.RefreshCalls.Load())
	assert.Equal(t, int32(2*n), ts.backend.ProtectedHits.Load())
	assert.Equal(t, 0, ts.gateway.pendingCount())
	assert.False(t, ts.gateway.refreshing)
	token, _ := ts.store.AccessToken()
	assert.Equal(t, "T2", token)
	assert.Empty(t, ts.center.List())
}

func TestThreeRequestsScenario(t *testing.T) {
	ts := newTestSetup(t)
	ts.login(t)
	ts.backend.ExpireAccessTokens()
	ts.backend.QueueRefreshTokens("T2")
	release := ts.backend.HoldRefresh()

	ids := []string{"R1", "R2", "R3"}
	results := make([]result, len(ids))
	wg := sync.WaitGroup{}
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			req := NewRequest(http.MethodGet, "items", nil)
			req.correlationID = id
			res, err := ts.gateway.Execute(context.Background(), req)
			results[i] = result{res, err}
		}(i, id)
	}
	require.Eventually(t, func() bool { return ts.gateway.pendingCount() == 2 }, 5*time.Second, 5*time.Millisecond)
	release()
	wg.Wait()

	for _, r := range results {
		require.NoError(t, r.err)
	}
	assert.Equal(t, int32(1), ts.backend.RefreshCalls.Load())
	seen := map[string][]string{}
	for _, rec := range ts.backend.Requests() {
		seen[rec.CorrelationID] = append(seen[rec.CorrelationID], rec.Authorization)
	}
	for _, id := range ids {
		if diff := cmp.Diff([]string{"Bearer T1", "Bearer T2"}, seen[id]); diff != "" {
			t.Errorf("request %s was not redispatched with the new token (-want +got):\n%s", id, diff)
		}
	}
}

func TestRefreshFailureFailsAllQueued(t *testing.T) {
	const n = 4
	ts := newTestSetup(t)
	ts.login(t)
	ts.backend.ExpireAccessTokens()
	ts.backend.FailRefresh(http.StatusInternalServerError)
	release := ts.backend.HoldRefresh()

	wait := executeConcurrently(context.Background(), ts.gateway, n)
	require.Eventually(t, func() bool { return ts.gateway.pendingCount() == n-1 }, 5*time.Second, 5*time.Millisecond)
	release()
	results := wait()

	for _, r := range results {
		assert.Nil(t, r.res)
		assert.ErrorIs(t, r.err, gwerrors.ErrRefreshFailed)
		assert.Same(t, results[0].err, r.err)
		assert.Equal(t, CategorySession, Classify(r.err))
	}
	assert.Equal(t, int32(1), ts.backend.RefreshCalls.Load())
	assert.Equal(t, int32(n), ts.backend.ProtectedHits.Load(), "nothing is redispatched")
	assert.False(t, ts.store.IsAuthenticated())
	assert.Equal(t, "/login", ts.history.Current())
	assert.Equal(t, []string{tokenstore.SessionExpiredMessage}, ts.notifications(notifications.Warning))
	assert.Len(t, ts.notifications(notifications.Error), n)
	for _, msg := range ts.notifications(notifications.Error) {
		assert.Equal(t, Message(CategorySession), msg)
	}
}

func TestSecondUnauthorizedIsTerminal(t *testing.T) {
	ts := newTestSetup(t)
	ts.login(t)
	ts.backend.QueueRefreshTokens("T2")
	ts.backend.RejectAllAccessTokens(true)

	res, err := ts.gateway.Execute(context.Background(), NewRequest(http.MethodGet, "items", nil))
	assert.Nil(t, res)
	require.ErrorIs(t, err, gwerrors.ErrUnauthorized)
	var statusErr *gwerrors.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, int32(1), ts.backend.RefreshCalls.Load())
	assert.Equal(t, int32(2), ts.backend.ProtectedHits.Load())
	assert.Equal(t, []string{Message(CategorySession)}, ts.notifications(notifications.Error))
	// the refresh itself succeeded, the user stays logged in
	token, _ := ts.store.AccessToken()
	assert.Equal(t, "T2", token)
}

func TestAbsentRefreshToken(t *testing.T) {
	ts := newTestSetup(t)
	ctx := context.Background()
	require.NoError(t, ts.repo.SetToken(ctx, models.AccessTokenKey, "T-orphan"))
	require.NoError(t, ts.store.Load(ctx))
	require.True(t, ts.store.IsAuthenticated())

	_, err := ts.gateway.Execute(ctx, NewRequest(http.MethodGet, "items", nil))
	require.ErrorIs(t, err, gwerrors.ErrNoRefreshToken)
	assert.Equal(t, int32(0), ts.backend.RefreshCalls.Load())
	recorded := ts.backend.Requests()
	require.Len(t, recorded, 1)
	assert.Equal(t, "Bearer T-orphan", recorded[0].Authorization)
	assert.False(t, ts.store.IsAuthenticated())
	assert.Equal(t, []string{"/", "/login"}, ts.history.Entries())
	assert.Equal(t, []string{tokenstore.SessionExpiredMessage}, ts.notifications(notifications.Warning))
	assert.Equal(t, []string{Message(CategorySession)}, ts.notifications(notifications.Error))
}

func TestLateUnauthorizedAfterFailedRefresh(t *testing.T) {
	ts := newTestSetup(t)
	ts.login(t)
	ts.backend.ExpireAccessTokens()
	ts.backend.FailRefresh(http.StatusUnauthorized)
	ctx := context.Background()

	_, err := ts.gateway.Execute(ctx, NewRequest(http.MethodGet, "items", nil))
	require.ErrorIs(t, err, gwerrors.ErrRefreshFailed)
	require.False(t, ts.store.IsAuthenticated())

	// a request that was sent with T1 before the credential was cleared
	late := NewRequest(http.MethodGet, "items", nil)
	late.SetCorrelationID("late")
	_, err = ts.gateway.attempt(ctx, late, "T1")
	require.ErrorIs(t, err, gwerrors.ErrRefreshFailed)
	assert.Equal(t, CategorySession, Classify(err))

	assert.Equal(t, int32(1), ts.backend.RefreshCalls.Load())
	assert.Equal(t, []string{"/", "/login"}, ts.history.Entries())
	assert.Equal(t, []string{tokenstore.SessionExpiredMessage}, ts.notifications(notifications.Warning))
	assert.Equal(t, 0, ts.gateway.pendingCount())
}

func TestUnauthenticatedRequest(t *testing.T) {
	ts := newTestSetup(t)

	_, err := ts.gateway.Execute(context.Background(), NewRequest(http.MethodGet, "items", nil))
	require.ErrorIs(t, err, gwerrors.ErrNoRefreshToken)
	recorded := ts.backend.Requests()
	require.Len(t, recorded, 1)
	assert.Empty(t, recorded[0].Authorization)
	assert.Equal(t, int32(0), ts.backend.RefreshCalls.Load())
	assert.Empty(t, ts.notifications(notifications.Warning), "no session existed")
}

func TestCorrelationIDKeptOnRetry(t *testing.T) {
	ts := newTestSetup(t, WithIDGenerator(models.StaticGenerator("req-42")))
	ts.login(t)
	ts.backend.ExpireAccessTokens()

	res, err := ts.gateway.Execute(context.Background(), NewRequest(http.MethodGet, "items", nil))
	require.NoError(t, err)
	assert.Equal(t, "req-42", res.CorrelationID)
	recorded := ts.backend.Requests()
	require.Len(t, recorded, 2)
	for _, rec := range recorded {
		assert.Equal(t, "req-42", rec.CorrelationID)
	}
	assert.NotEqual(t, recorded[0].Authorization, recorded[1].Authorization)
}

func TestRefreshJoinsSingleFlight(t *testing.T) {
	ts := newTestSetup(t)
	ts.login(t)
	ts.backend.QueueRefreshTokens("T2")
	release := ts.backend.HoldRefresh()

	tokens := make([]string, 2)
	errs := make([]error, 2)
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		tokens[0], errs[0] = ts.gateway.Refresh(context.Background())
	}()
	require.Eventually(t, func() bool { return ts.backend.RefreshCalls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	wg.Add(1)
	go func() {
		defer wg.Done()
		tokens[1], errs[1] = ts.gateway.Refresh(context.Background())
	}()
	require.Eventually(t, func() bool { return ts.gateway.pendingCount() == 1 }, 5*time.Second, 5*time.Millisecond)
	release()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, []string{"T2", "T2"}, tokens)
	assert.Equal(t, int32(1), ts.backend.RefreshCalls.Load())
}

func TestQueuedCallerCancellation(t *testing.T) {
	ts := newTestSetup(t)
	ts.login(t)
	ts.backend.ExpireAccessTokens()
	release := ts.backend.HoldRefresh()

	first := executeConcurrently(context.Background(), ts.gateway, 1)
	require.Eventually(t, func() bool { return ts.backend.RefreshCalls.Load() == 1 }, 5*time.Second, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	second := executeConcurrently(ctx, ts.gateway, 1)
	require.Eventually(t, func() bool { return ts.gateway.pendingCount() == 1 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	canceled := second()
	require.ErrorIs(t, canceled[0].err, context.Canceled)
	assert.Equal(t, CategoryCanceled, Classify(canceled[0].err))

	release()
	completed := first()
	require.NoError(t, completed[0].err)
	assert.Equal(t, int32(1), ts.backend.RefreshCalls.Load())
	assert.Empty(t, ts.center.List(), "canceled requests are not reported")
}

func TestRefreshTimeout(t *testing.T) {
	ts := newTestSetup(t, WithRefreshTimeout(50*time.Millisecond))
	ts.login(t)
	ts.backend.ExpireAccessTokens()
	ts.backend.HoldRefresh()

	_, err := ts.gateway.Execute(context.Background(), NewRequest(http.MethodGet, "items", nil))
	require.ErrorIs(t, err, gwerrors.ErrRefreshFailed)
	assert.ErrorIs(t, err, gwerrors.ErrTimeout)
	assert.Equal(t, CategorySession, Classify(err))
	assert.False(t, ts.store.IsAuthenticated())
	assert.False(t, ts.gateway.refreshing)
}

// fakeStore is a credential store whose token is changed by the test server
type fakeStore struct {
	lock      sync.Mutex
	token     string
	refreshes atomic.Int32
}

func (f *fakeStore) AccessToken() (string, bool) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.token, f.token != ""
}

func (f *fakeStore) Refresh(ctx context.Context) (string, error) {
	f.refreshes.Add(1)
	return "", errors.New("refresh is not expected")
}

func (f *fakeStore) set(token string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.token = token
}

func TestStaleUnauthorizedRetriesWithoutRefresh(t *testing.T) {
	store := &fakeStore{token: "T1"}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer T1":
			// another request refreshed the token while this one was in flight
			store.set("T2")
			w.WriteHeader(http.StatusUnauthorized)
		case "Bearer T2":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()
	base, err := url.Parse(server.URL)
	require.NoError(t, err)
	g, err := NewGateway(WithBaseURL(base), WithCredentialStore(store), WithNotifier(notifications.Nop{}))
	require.NoError(t, err)

	res, err := g.Execute(context.Background(), NewRequest(http.MethodDelete, "items/1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, int32(0), store.refreshes.Load())
}

func TestErrorClassificationNotifiesOnce(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		category Category
		class    error
	}{
		{"not found", http.StatusNotFound, CategoryNotFound, gwerrors.ErrClientError},
		{"forbidden", http.StatusForbidden, CategoryForbidden, gwerrors.ErrClientError},
		{"validation", http.StatusUnprocessableEntity, CategoryValidation, gwerrors.ErrClientError},
		{"conflict", http.StatusConflict, CategoryGeneric, gwerrors.ErrClientError},
		{"server error", http.StatusInternalServerError, CategoryGeneric, gwerrors.ErrServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestSetup(t)
			ts.login(t)
			_, err := ts.gateway.Execute(context.Background(), NewRequest(http.MethodGet, "status/"+strconv.Itoa(tt.status), nil))
			require.ErrorIs(t, err, tt.class)
			assert.Equal(t, tt.status, gwerrors.StatusCode(err))
			assert.Equal(t, tt.category, Classify(err))
			assert.Equal(t, []string{Message(tt.category)}, ts.notifications(notifications.Error))
			assert.Equal(t, int32(0), ts.backend.RefreshCalls.Load())
		})
	}
}

func TestConnectivityFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base, err := url.Parse(server.URL)
	require.NoError(t, err)
	server.Close()
	center := notifications.NewCenter()
	store := &fakeStore{token: "T1"}
	g, err := NewGateway(WithBaseURL(base), WithCredentialStore(store), WithNotifier(center))
	require.NoError(t, err)

	_, err = g.Execute(context.Background(), NewRequest(http.MethodGet, "items", nil))
	require.ErrorIs(t, err, gwerrors.ErrTransport)
	assert.Equal(t, CategoryConnectivity, Classify(err))
	assert.Equal(t, int32(0), store.refreshes.Load())
	notes := center.List()
	require.Len(t, notes, 1)
	assert.Equal(t, Message(CategoryConnectivity), notes[0].Message)
	assert.Equal(t, notifications.Error, notes[0].Type)
}

func TestTimeoutFailure(t *testing.T) {
	done := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-done:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(done)
	base, err := url.Parse(server.URL)
	require.NoError(t, err)
	center := notifications.NewCenter()
	g, err := NewGateway(
		WithBaseURL(base),
		WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}),
		WithCredentialStore(&fakeStore{token: "T1"}),
		WithNotifier(center),
	)
	require.NoError(t, err)

	_, err = g.Execute(context.Background(), NewRequest(http.MethodGet, "slow", nil))
	require.ErrorIs(t, err, gwerrors.ErrTimeout)
	assert.Equal(t, CategoryTimeout, Classify(err))
	notes := center.List()
	require.Len(t, notes, 1)
	assert.Equal(t, Message(CategoryTimeout), notes[0].Message)
}

func TestJSONHelpers(t *testing.T) {
	ts := newTestSetup(t)
	ts.login(t)

	type product struct {
		Name  string  `json:"name"`
		Price float64 `json:"price"`
	}
	var echoed authtest.Echo
	require.NoError(t, ts.gateway.Post(context.Background(), "products", product{Name: "tea", Price: 2.5}, &echoed))
	assert.Equal(t, http.MethodPost, echoed.Method)
	assert.JSONEq(t, `{"name":"tea","price":2.5}`, echoed.Body)

	require.NoError(t, ts.gateway.Get(context.Background(), "products", &echoed))
	assert.Equal(t, http.MethodGet, echoed.Method)
	assert.Empty(t, echoed.Body)

	require.NoError(t, ts.gateway.Put(context.Background(), "products/1", product{Name: "coffee"}, &echoed))
	assert.Equal(t, "/api/products/1", echoed.Path)
	require.NoError(t, ts.gateway.Patch(context.Background(), "products/1", map[string]any{"price": 3}, &echoed))
	assert.Equal(t, http.MethodPatch, echoed.Method)
	require.NoError(t, ts.gateway.Delete(context.Background(), "products/1", nil))

	err := ts.gateway.Get(context.Background(), "status/404", nil)
	assert.ErrorIs(t, err, gwerrors.ErrClientError)
}
