// Package tokenstore holds the credential of the current user. It is the only component allowed to change the tokens.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/gwerrors"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/metrics"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/navigation"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/notifications"
	"golang.org/x/oauth2"
)

const SessionExpiredMessage string = "Session expired. Please login again."
const LoginFailedMessage string = "Login failed. Please check your credentials."
const RegisterFailedMessage string = "Registration failed. Please check your details."

type TokenStore struct {
	lock       sync.RWMutex
	credential models.Credential
	user       models.User
	// generation is bumped by every mutation of the credential
	generation uint64

	persistLock sync.Mutex
	persisted   uint64

	api         models.AuthAPI
	tokenRepo   models.TokenRepository
	navigator   navigation.Navigator
	notifier    notifications.Notifier
	metrics     *metrics.Metrics
	loginPath   string
	autoDismiss time.Duration
}

// AccessToken returns the current access token, the boolean is false when there is none
func (s *TokenStore) AccessToken() (string, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.credential.AccessToken, s.credential.HasAccessToken()
}

func (s *TokenStore) IsAuthenticated() bool {
	_, ok := s.AccessToken()
	return ok
}

func (s *TokenStore) Credential() models.Credential {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.credential
}

func (s *TokenStore) User() (models.User, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.user, !s.user.IsZero()
}

// Token implements oauth2.TokenSource
func (s *TokenStore) Token() (*oauth2.Token, error) {
	cred := s.Credential()
	if !cred.HasAccessToken() {
		return nil, gwerrors.ErrNotAuthenticated
	}
	return cred.Token(), nil
}

func (s *TokenStore) Login(ctx context.Context, email, password string) (models.Credential, error) {
	res, err := s.api.Login(ctx, models.LoginRequest{Email: email, Password: password})
	s.metrics.LoginAttempted(err)
	if err != nil {
		slog.Info("TOKEN STORE", "message", "login failed", "email", email, "error", err)
		return models.Credential{}, fmt.Errorf("%w: %w", gwerrors.ErrLoginFailed, err)
	}
	return s.authenticated(ctx, res), nil
}

func (s *TokenStore) Register(ctx context.Context, email, password, fullName string) (models.Credential, error) {
	res, err := s.api.Register(ctx, models.RegisterRequest{Email: email, Password: password, FullName: fullName})
	s.metrics.LoginAttempted(err)
	if err != nil {
		slog.Info("TOKEN STORE", "message", "registration failed", "email", email, "error", err)
		return models.Credential{}, fmt.Errorf("%w: %w", gwerrors.ErrRegisterFailed, err)
	}
	return s.authenticated(ctx, res), nil
}

func (s *TokenStore) authenticated(ctx context.Context, res models.AuthResponse) models.Credential {
	cred := models.NewCredential(res.AccessToken, res.RefreshToken)
	s.lock.Lock()
	s.credential = cred
	s.user = res.Profile()
	s.generation++
	gen := s.generation
	s.lock.Unlock()
	s.persist(ctx, cred, gen)
	slog.Debug("TOKEN STORE", "message", "user authenticated", "userID", res.Profile().ID, "credential", cred)
	return cred
}

// Refresh exchanges the refresh token for a new access token. Any failure logs the user out.
func (s *TokenStore) Refresh(ctx context.Context) (string, error) {
	s.lock.RLock()
	cred := s.credential
	gen := s.generation
	s.lock.RUnlock()

	if !cred.HasRefreshToken() {
		slog.Info("TOKEN STORE", "message", "cannot refresh without a refresh token")
		s.expire(ctx, gen, cred.HasAccessToken())
		return "", gwerrors.ErrNoRefreshToken
	}

	started := time.Now()
	res, err := s.api.Refresh(ctx, models.RefreshRequest{RefreshToken: cred.RefreshToken})
	s.metrics.RefreshCompleted(started, err)
	if err != nil {
		slog.Error("TOKEN STORE", "message", "refresh failed", "error", err)
		s.expire(ctx, gen, true)
		return "", fmt.Errorf("%w: %w", gwerrors.ErrRefreshFailed, err)
	}

	newCred := cred.WithAccessToken(res.AccessToken)
	if res.RefreshToken != "" {
		// the API rotated the refresh token
		newCred.RefreshToken = res.RefreshToken
	}
	s.lock.Lock()
	if s.generation != gen {
		// the state changed while the refresh was in flight, the newer state wins
		current := s.credential
		s.lock.Unlock()
		slog.Debug("TOKEN STORE", "message", "credential changed during refresh, discarding the result")
		if !current.HasAccessToken() {
			return "", gwerrors.ErrRefreshFailed
		}
		return current.AccessToken, nil
	}
	s.credential = newCred
	s.generation++
	gen = s.generation
	s.lock.Unlock()
	s.persist(ctx, newCred, gen)
	slog.Debug("TOKEN STORE", "message", "access token refreshed", "credential", newCred)
	return newCred.AccessToken, nil
}

// Logout clears the credential from memory and storage and sends the user to the login page.
// Calling it more than once is harmless.
func (s *TokenStore) Logout(ctx context.Context) {
	s.lock.Lock()
	s.clear()
	gen := s.generation
	s.lock.Unlock()
	s.persist(ctx, models.Credential{}, gen)
	s.navigator.RedirectTo(s.loginPath)
}

// expire is the logout triggered by a failed refresh. The state is only cleared if nothing
// changed since gen was read, a newer login is left alone.
func (s *TokenStore) expire(ctx context.Context, gen uint64, notify bool) {
	s.lock.Lock()
	if s.generation != gen {
		s.lock.Unlock()
		return
	}
	s.clear()
	gen = s.generation
	s.lock.Unlock()
	s.persist(ctx, models.Credential{}, gen)
	if notify {
		s.notifier.Notify(SessionExpiredMessage, notifications.Warning, s.autoDismiss)
	}
	s.navigator.RedirectTo(s.loginPath)
}

// clear must be called with the lock held
func (s *TokenStore) clear() {
	s.credential = models.Credential{}
	s.user = models.User{}
	s.generation++
}

// persist mirrors the credential of generation gen to the repository. Snapshots older than the
// last persisted one are skipped. Errors are only logged, the in-memory copy is the reference.
func (s *TokenStore) persist(ctx context.Context, cred models.Credential, gen uint64) {
	ctx = context.WithoutCancel(ctx)
	s.persistLock.Lock()
	defer s.persistLock.Unlock()
	if gen <= s.persisted {
		return
	}
	s.persisted = gen
	s.persistKey(ctx, models.AccessTokenKey, cred.AccessToken)
	s.persistKey(ctx, models.RefreshTokenKey, cred.RefreshToken)
}

func (s *TokenStore) persistKey(ctx context.Context, key, value string) {
	var err error
	if value == "" {
		err = s.tokenRepo.RemoveToken(ctx, key)
	} else {
		err = s.tokenRepo.SetToken(ctx, key, value)
	}
	if err != nil {
		slog.Error("TOKEN STORE", "message", "persisting the credential failed", "key", key, "error", err)
	}
}

// Load reads the credential persisted by a previous process
func (s *TokenStore) Load(ctx context.Context) error {
	accessToken, err := s.loadKey(ctx, models.AccessTokenKey)
	if err != nil {
		return err
	}
	refreshToken, err := s.loadKey(ctx, models.RefreshTokenKey)
	if err != nil {
		return err
	}
	cred := models.NewCredential(accessToken, refreshToken)
	s.lock.Lock()
	s.credential = cred
	s.user = models.User{}
	s.generation++
	gen := s.generation
	s.lock.Unlock()
	s.persistLock.Lock()
	if gen > s.persisted {
		s.persisted = gen
	}
	s.persistLock.Unlock()
	slog.Info("TOKEN STORE", "message", "credential loaded", "credential", cred)
	return nil
}

func (s *TokenStore) loadKey(ctx context.Context, key string) (string, error) {
	val, err := s.tokenRepo.GetToken(ctx, key)
	if err != nil {
		if errors.Is(err, gwerrors.ErrTokenNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("cannot load %s: %w", key, err)
	}
	return val, nil
}

type TokenStoreOption func(*TokenStore) error

func WithAuthAPI(api models.AuthAPI) TokenStoreOption {
	return func(s *TokenStore) error {
		s.api = api
		return nil
	}
}

func WithTokenRepository(repo models.TokenRepository) TokenStoreOption {
	return func(s *TokenStore) error {
		s.tokenRepo = repo
		return nil
	}
}

func WithNavigator(navigator navigation.Navigator) TokenStoreOption {
	return func(s *TokenStore) error {
		s.navigator = navigator
		return nil
	}
}

func WithNotifier(notifier notifications.Notifier) TokenStoreOption {
	return func(s *TokenStore) error {
		s.notifier = notifier
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) TokenStoreOption {
	return func(s *TokenStore) error {
		s.metrics = m
		return nil
	}
}

func WithLoginPath(path string) TokenStoreOption {
	return func(s *TokenStore) error {
		s.loginPath = path
		return nil
	}
}

func WithAutoDismiss(d time.Duration) TokenStoreOption {
	return func(s *TokenStore) error {
		s.autoDismiss = d
		return nil
	}
}

// NewTokenStore creates an empty store, call Load to restore a persisted credential
func NewTokenStore(options ...TokenStoreOption) (*TokenStore, error) {
	s := TokenStore{loginPath: "/login", autoDismiss: notifications.DefaultAutoDismiss}
	for _, opt := range options {
		err := opt(&s)
		if err != nil {
			return &TokenStore{}, err
		}
	}
	if s.api == nil {
		return &TokenStore{}, fmt.Errorf("auth api client not initialized")
	}
	if s.tokenRepo == nil {
		return &TokenStore{}, fmt.Errorf("token repository not initialized")
	}
	if s.navigator == nil {
		return &TokenStore{}, fmt.Errorf("navigator not initialized")
	}
	if s.notifier == nil {
		return &TokenStore{}, fmt.Errorf("notifier not initialized")
	}
	return &s, nil
}
