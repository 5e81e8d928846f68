package tokenrefresher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/authapi"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/authtest"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/db"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/gateway"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/navigation"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/notifications"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/tokenstore"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCredential struct {
	lock sync.Mutex
	cred models.Credential
}

func (s *staticCredential) Credential() models.Credential {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.cred
}

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (c *countingRefresher) Refresh(ctx context.Context) (string, error) {
	c.calls.Add(1)
	return "new", c.err
}

func signedToken(t *testing.T, expiry time.Time) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(expiry)})
	signed, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}

func TestNewTokenRefresher(t *testing.T) {
	_, err := NewTokenRefresher()
	assert.ErrorContains(t, err, "credential reader")
	_, err = NewTokenRefresher(WithCredentialReader(&staticCredential{}))
	assert.ErrorContains(t, err, "refresher")
	_, err = NewTokenRefresher(WithCredentialReader(&staticCredential{}), WithRefresher(&countingRefresher{}), WithInterval(0))
	assert.Error(t, err)
	tr, err := NewTokenRefresher(
		WithConfig(config.RefresherConfig{Enabled: true, Interval: 30 * time.Second, ExpiryMargin: time.Minute}),
		WithCredentialReader(&staticCredential{}),
		WithRefresher(&countingRefresher{}),
	)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, tr.interval)
	assert.Equal(t, time.Minute, tr.expiryMargin)
}

func TestRefreshExpiringToken(t *testing.T) {
	tests := []struct {
		name      string
		cred      models.Credential
		refreshed bool
	}{
		{"no credential", models.Credential{}, false},
		{"unknown expiry", models.Credential{AccessToken: "opaque", RefreshToken: "r"}, false},
		{"expires later", models.Credential{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour)}, false},
		{"expires soon", models.Credential{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(30 * time.Second)}, true},
		{"already expired", models.Credential{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(-time.Minute)}, true},
		{"no refresh token", models.Credential{AccessToken: "a", Expiry: time.Now().Add(30 * time.Second)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refresher := &countingRefresher{}
			tr, err := NewTokenRefresher(
				WithExpiryMargin(2*time.Minute),
				WithCredentialReader(&staticCredential{cred: tt.cred}),
				WithRefresher(refresher),
			)
			require.NoError(t, err)
			attempted, err := tr.refreshExpiringToken(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.refreshed, attempted)
			assert.Equal(t, tt.refreshed, refresher.calls.Load() == 1)
		})
	}
}

func TestRefreshExpiringTokenError(t *testing.T) {
	refresher := &countingRefresher{err: errors.New("boom")}
	tr, err := NewTokenRefresher(
		WithCredentialReader(&staticCredential{cred: models.Credential{AccessToken: "a", RefreshToken: "r", Expiry: time.Now()}}),
		WithRefresher(refresher),
	)
	require.NoError(t, err)
	attempted, err := tr.refreshExpiringToken(context.Background())
	assert.True(t, attempted)
	assert.ErrorContains(t, err, "boom")
}

func TestRefreshThroughGateway(t *testing.T) {
	backend := authtest.NewBackend()
	defer backend.Close()
	backend.SetLoginTokens(signedToken(t, time.Now().Add(30*time.Second)), "R1")
	backend.QueueRefreshTokens("T2")
	client, err := authapi.NewClient(authapi.WithBaseURL(backend.URL))
	require.NoError(t, err)
	repo, err := db.NewMockRedisAdapter()
	require.NoError(t, err)
	store, err := tokenstore.NewTokenStore(
		tokenstore.WithAuthAPI(client),
		tokenstore.WithTokenRepository(repo),
		tokenstore.WithNavigator(navigation.NewHistory("/")),
		tokenstore.WithNotifier(notifications.Nop{}),
	)
	require.NoError(t, err)
	g, err := gateway.NewGateway(
		gateway.WithBaseURL(backend.URL),
		gateway.WithHTTPClient(&http.Client{Timeout: 5 * time.Second}),
		gateway.WithCredentialStore(store),
		gateway.WithNotifier(notifications.Nop{}),
	)
	require.NoError(t, err)
	_, err = store.Login(context.Background(), authtest.DefaultEmail, authtest.DefaultPassword)
	require.NoError(t, err)

	tr, err := NewTokenRefresher(WithCredentialReader(store), WithRefresher(g), WithExpiryMargin(time.Minute))
	require.NoError(t, err)
	attempted, err := tr.refreshExpiringToken(context.Background())
	require.NoError(t, err)
	assert.True(t, attempted)
	token, _ := store.AccessToken()
	assert.Equal(t, "T2", token)
	assert.Equal(t, int32(1), backend.RefreshCalls.Load())

	// T2 is not a JWT, its expiry is unknown and no further refresh happens
	attempted, err = tr.refreshExpiringToken(context.Background())
	require.NoError(t, err)
	assert.False(t, attempted)
	assert.Equal(t, int32(1), backend.RefreshCalls.Load())
}

func TestScheduler(t *testing.T) {
	refresher := &countingRefresher{}
	tr, err := NewTokenRefresher(
		WithInterval(20*time.Millisecond),
		WithCredentialReader(&staticCredential{cred: models.Credential{AccessToken: "a", RefreshToken: "r", Expiry: time.Now()}}),
		WithRefresher(refresher),
	)
	require.NoError(t, err)
	s, err := tr.GetScheduler()
	require.NoError(t, err)
	s.StartAsync()
	defer s.Stop()
	assert.Eventually(t, func() bool { return refresher.calls.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
}
