// Package authtest contains an in-process fake of the backend API used by the tests of the other packages.
package authtest

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/labstack/echo/v4"
)

const DefaultEmail string = "user@example.org"
const DefaultPassword string = "secret-password"

// RecordedRequest is what the fake backend saw for one call to a protected endpoint
type RecordedRequest struct {
	Method        string
	Path          string
	Authorization string
	CorrelationID string
	Body          string
}

// Backend serves /api/auth/* and a set of protected endpoints under /api.
// Protected endpoints accept only the access tokens marked as valid.
type Backend struct {
	Server *httptest.Server
	URL    *url.URL

	lock            sync.Mutex
	validTokens     map[string]bool
	refreshTokens   map[string]bool
	users           map[string]models.User
	passwords       map[string]string
	nextAccess      []string
	rotateRefresh   string
	refreshStatus   int
	refreshGate     chan struct{}
	releaseGate     func()
	refreshDelay    time.Duration
	requests        []RecordedRequest
	loginAccess     string
	loginRefresh    string
	registerCounter int64
	rejectAll       bool

	RefreshCalls  atomic.Int32
	LoginCalls    atomic.Int32
	ProtectedHits atomic.Int32
}

func NewBackend() *Backend {
	b := &Backend{
		validTokens:   map[string]bool{},
		refreshTokens: map[string]bool{},
		users: map[string]models.User{
			DefaultEmail: {ID: 1, Email: DefaultEmail, FullName: "Test User", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
		passwords:    map[string]string{DefaultEmail: DefaultPassword},
		loginAccess:  "T1",
		loginRefresh: "R1",
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	api := e.Group("/api")
	api.POST("/auth/login", b.login)
	api.POST("/auth/register", b.register)
	api.POST("/auth/refresh", b.refresh)
	api.Any("/status/:code", b.protected(b.status))
	api.Any("/*", b.protected(b.echoBack))
	b.Server = httptest.NewServer(e)
	b.URL, _ = url.Parse(b.Server.URL + "/api")
	return b
}

func (b *Backend) Close() {
	b.lock.Lock()
	release := b.releaseGate
	b.lock.Unlock()
	if release != nil {
		release()
	}
	b.Server.Close()
}

// SetLoginTokens changes the token pair handed out by login and register
func (b *Backend) SetLoginTokens(access, refresh string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.loginAccess = access
	b.loginRefresh = refresh
}

// AcceptAccessToken marks the token as valid for the protected endpoints
func (b *Backend) AcceptAccessToken(token string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.validTokens[token] = true
}

// AcceptRefreshToken marks the refresh token as usable at /auth/refresh
func (b *Backend) AcceptRefreshToken(token string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.refreshTokens[token] = true
}

// ExpireAccessTokens makes every access token issued so far invalid
func (b *Backend) ExpireAccessTokens() {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.validTokens = map[string]bool{}
}

// RejectAllAccessTokens makes the protected endpoints answer 401 whatever token is sent
func (b *Backend) RejectAllAccessTokens(reject bool) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.rejectAll = reject
}

// QueueRefreshTokens sets the access tokens returned by the next refresh calls, in order.
// Once the list is exhausted a token derived from the call count is returned.
func (b *Backend) QueueRefreshTokens(tokens ...string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.nextAccess = append(b.nextAccess, tokens...)
}

// RotateRefreshToken makes the next successful refresh return a new refresh token as well
func (b *Backend) RotateRefreshToken(token string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.rotateRefresh = token
}

// FailRefresh makes the refresh endpoint answer with the status, 0 restores normal behaviour
func (b *Backend) FailRefresh(status int) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.refreshStatus = status
}

// HoldRefresh blocks refresh calls until the returned function is called
func (b *Backend) HoldRefresh() (release func()) {
	gate := make(chan struct{})
	var once sync.Once
	release = func() {
		once.Do(func() { close(gate) })
	}
	b.lock.Lock()
	b.refreshGate = gate
	b.releaseGate = release
	b.lock.Unlock()
	return release
}

// DelayRefresh makes every refresh call sleep before answering
func (b *Backend) DelayRefresh(d time.Duration) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.refreshDelay = d
}

// Requests returns the calls received by the protected endpoints
func (b *Backend) Requests() []RecordedRequest {
	b.lock.Lock()
	defer b.lock.Unlock()
	output := make([]RecordedRequest, len(b.requests))
	copy(output, b.requests)
	return output
}

func (b *Backend) login(c echo.Context) error {
	b.LoginCalls.Add(1)
	var req models.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.APIError{Message: "invalid body"})
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	password, found := b.passwords[req.Email]
	if !found || password != req.Password {
		return c.JSON(http.StatusUnauthorized, models.APIError{Message: "invalid credentials"})
	}
	user := b.users[req.Email]
	return c.JSON(http.StatusOK, b.issue(user))
}

func (b *Backend) register(c echo.Context) error {
	var req models.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.APIError{Message: "invalid body"})
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusUnprocessableEntity, models.APIError{
			Message: "validation failed",
			Details: map[string][]string{"email": {"required"}, "password": {"required"}},
		})
	}
	if _, found := b.users[req.Email]; found {
		return c.JSON(http.StatusConflict, models.APIError{Message: "the user already exists"})
	}
	b.registerCounter++
	user := models.User{ID: 100 + b.registerCounter, Email: req.Email, FullName: req.FullName, CreatedAt: time.Now().UTC()}
	b.users[req.Email] = user
	b.passwords[req.Email] = req.Password
	return c.JSON(http.StatusCreated, b.issue(user))
}

// issue must be called with the lock held
func (b *Backend) issue(user models.User) models.AuthResponse {
	b.validTokens[b.loginAccess] = true
	b.refreshTokens[b.loginRefresh] = true
	return models.AuthResponse{AccessToken: b.loginAccess, RefreshToken: b.loginRefresh, User: &user}
}

func (b *Backend) refresh(c echo.Context) error {
	call := b.RefreshCalls.Add(1)
	var req models.RefreshRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.APIError{Message: "invalid body"})
	}
	b.lock.Lock()
	gate := b.refreshGate
	delay := b.refreshDelay
	b.lock.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.refreshStatus != 0 {
		return c.JSON(b.refreshStatus, models.APIError{Message: "refresh rejected"})
	}
	if !b.refreshTokens[req.RefreshToken] {
		return c.JSON(http.StatusUnauthorized, models.APIError{Message: "invalid refresh token"})
	}
	var access string
	if len(b.nextAccess) > 0 {
		access = b.nextAccess[0]
		b.nextAccess = b.nextAccess[1:]
	} else {
		access = "T-refreshed-" + strconv.Itoa(int(call))
	}
	b.validTokens[access] = true
	res := models.RefreshResponse{AccessToken: access}
	if b.rotateRefresh != "" {
		res.RefreshToken = b.rotateRefresh
		b.refreshTokens[b.rotateRefresh] = true
		b.rotateRefresh = ""
	}
	return c.JSON(http.StatusOK, res)
}

func (b *Backend) protected(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		b.ProtectedHits.Add(1)
		req := c.Request()
		auth := req.Header.Get(echo.HeaderAuthorization)
		body := ""
		if req.Body != nil {
			raw, _ := io.ReadAll(req.Body)
			body = string(raw)
		}
		b.lock.Lock()
		b.requests = append(b.requests, RecordedRequest{
			Method:        req.Method,
			Path:          req.URL.Path,
			Authorization: auth,
			CorrelationID: req.Header.Get(echo.HeaderXRequestID),
			Body:          body,
		})
		valid := b.validTokens[strings.TrimPrefix(auth, "Bearer ")] && !b.rejectAll
		b.lock.Unlock()
		if !strings.HasPrefix(auth, "Bearer ") || !valid {
			return c.JSON(http.StatusUnauthorized, models.APIError{Message: "unauthorized"})
		}
		c.Set("body", body)
		return next(c)
	}
}

func (b *Backend) status(c echo.Context) error {
	code, err := strconv.Atoi(c.Param("code"))
	if err != nil || code < 100 || code > 599 {
		return c.JSON(http.StatusBadRequest, models.APIError{Message: "invalid status"})
	}
	return c.JSON(code, models.APIError{Message: http.StatusText(code)})
}

// Echo is the body returned by the generic protected endpoints
type Echo struct {
	Method        string `json:"method"`
	Path          string `json:"path"`
	Query         string `json:"query"`
	Authorization string `json:"authorization"`
	Body          string `json:"body"`
}

func (b *Backend) echoBack(c echo.Context) error {
	body, _ := c.Get("body").(string)
	return c.JSON(http.StatusOK, Echo{
		Method:        c.Request().Method,
		Path:          c.Request().URL.Path,
		Query:         c.Request().URL.RawQuery,
		Authorization: c.Request().Header.Get(echo.HeaderAuthorization),
		Body:          body,
	})
}
