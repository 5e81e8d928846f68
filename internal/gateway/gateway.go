// Package gateway sends requests to the API on behalf of the user and recovers from expired
// access tokens. Concurrent requests that hit an expired token share a single refresh.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/gwerrors"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/metrics"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/notifications"
	"golang.org/x/oauth2"
)

const defaultRefreshTimeout time.Duration = 10 * time.Second

// CredentialStore is the part of the token store used by the gateway
type CredentialStore interface {
	AccessToken() (string, bool)
	Refresh(ctx context.Context) (string, error)
}

type Gateway struct {
	baseURL           *url.URL
	httpClient        *http.Client
	tokens            CredentialStore
	notifier          notifications.Notifier
	idGenerator       models.IDGenerator
	metrics           *metrics.Metrics
	contentType       string
	correlationHeader string
	refreshTimeout    time.Duration
	autoDismiss       time.Duration

	// refreshing and pending are one unit, they are only read or changed together under mu
	mu         sync.Mutex
	refreshing bool
	pending    []*pendingRequest
}

// pendingRequest waits for the refresh that is in flight. A nil req only waits for the token.
type pendingRequest struct {
	ctx  context.Context
	req  *Request
	done chan outcome
}

type outcome struct {
	res   *Response
	token string
	err   error
}

// Execute sends the request and returns the response when its status is below 400.
// Every failure is reported once to the notifier.
func (g *Gateway) Execute(ctx context.Context, req *Request) (*Response, error) {
	attempt := *req
	if attempt.correlationID == "" {
		id, err := g.idGenerator.ID()
		if err != nil {
			return nil, fmt.Errorf("cannot generate a correlation id: %w", err)
		}
		attempt.correlationID = id
	}
	token, _ := g.tokens.AccessToken()
	res, err := g.attempt(ctx, &attempt, token)
	category := Classify(err)
	if err != nil {
		slog.Debug(
			"REQUEST GATEWAY",
			"message",
			"request failed",
			"method",
			attempt.Method,
			"path",
			attempt.Path,
			"requestID",
			attempt.correlationID,
			"category",
			category,
			"error",
			err,
		)
		if category != CategoryCanceled {
			g.notifier.Notify(Message(category), notifications.Error, g.autoDismiss)
		}
		g.metrics.RequestCompleted(string(category))
		return nil, err
	}
	g.metrics.RequestCompleted("ok")
	return res, nil
}

func (g *Gateway) attempt(ctx context.Context, req *Request, token string) (*Response, error) {
	res, err := g.dispatch(ctx, req, token)
	if err != nil {
		return nil, err
	}
	if res.StatusCode == http.StatusUnauthorized && !req.retried {
		return g.recoverUnauthorized(ctx, req, token)
	}
	return g.finish(req, res)
}

func (g *Gateway) retry(ctx context.Context, req *Request, token string) (*Response, error) {
	req.retried = true
	return g.attempt(ctx, req, token)
}

// recoverUnauthorized handles the first 401 of a request that was sent with staleToken
func (g *Gateway) recoverUnauthorized(ctx context.Context, req *Request, staleToken string) (*Response, error) {
	g.mu.Lock()
	if g.refreshing {
		p := g.enqueue(ctx, req)
		g.mu.Unlock()
		o := g.wait(ctx, p)
		return o.res, o.err
	}
	current, ok := g.tokens.AccessToken()
	if ok && current != staleToken {
		// a refresh finished after this request was sent
		g.mu.Unlock()
		return g.retry(ctx, req, current)
	}
	if !ok && staleToken != "" {
		// the credential was cleared after this request was sent, the logout already happened
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: the credential was cleared", gwerrors.ErrRefreshFailed)
	}
	g.refreshing = true
	g.mu.Unlock()

	token, err := g.refresh(ctx)
	if err != nil {
		return nil, err
	}
	return g.retry(ctx, req, token)
}

// Refresh obtains a new access token. If a refresh is already in flight its result is shared.
func (g *Gateway) Refresh(ctx context.Context) (string, error) {
	g.mu.Lock()
	if g.refreshing {
		p := g.enqueue(ctx, nil)
		g.mu.Unlock()
		o := g.wait(ctx, p)
		return o.token, o.err
	}
	g.refreshing = true
	g.mu.Unlock()
	return g.refresh(ctx)
}

// enqueue must be called with mu held and refreshing set
func (g *Gateway) enqueue(ctx context.Context, req *Request) *pendingRequest {
	p := &pendingRequest{ctx: ctx, req: req, done: make(chan outcome, 1)}
	g.pending = append(g.pending, p)
	g.metrics.RequestQueued()
	if req != nil {
		slog.Debug("REQUEST GATEWAY", "message", "queued until the refresh completes", "requestID", req.correlationID)
	}
	return p
}

// wait blocks until the refresh resolves p or the caller gives up. The channel is buffered
// so the drain never blocks on a caller that left.
func (g *Gateway) wait(ctx context.Context, p *pendingRequest) outcome {
	select {
	case o := <-p.done:
		return o
	case <-ctx.Done():
		return outcome{err: ctx.Err()}
	}
}

// refresh runs the refresh owned by the caller, who must have set refreshing. The queue is
// taken and the flag cleared in one critical section, then every queued request is resolved.
func (g *Gateway) refresh(ctx context.Context) (string, error) {
	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.refreshTimeout)
	token, err := g.tokens.Refresh(refreshCtx)
	cancel()

	g.mu.Lock()
	queued := g.pending
	g.pending = nil
	g.refreshing = false
	g.mu.Unlock()
	g.metrics.RequestsDrained(len(queued))

	if err != nil {
		slog.Info("REQUEST GATEWAY", "message", "refresh failed, failing the queued requests", "queued", len(queued), "error", err)
		for _, p := range queued {
			p.done <- outcome{err: err}
		}
		return "", err
	}
	slog.Debug("REQUEST GATEWAY", "message", "refresh succeeded, retrying the queued requests", "queued", len(queued))
	for _, p := range queued {
		if p.req == nil {
			p.done <- outcome{token: token}
			continue
		}
		go func(p *pendingRequest) {
			res, err := g.retry(p.ctx, p.req, token)
			p.done <- outcome{res: res, err: err}
		}(p)
	}
	return token, nil
}

func (g *Gateway) endpoint(req *Request) string {
	u := g.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}
	return u.String()
}

func (g *Gateway) dispatch(ctx context.Context, req *Request, token string) (*Response, error) {
	endpoint := g.endpoint(req)
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, body)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Header {
		httpReq.Header[k] = append([]string(nil), v...)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", g.contentType)
	}
	httpReq.Header.Set(g.correlationHeader, req.correlationID)
	if token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(httpReq)
	}
	res, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, gwerrors.NewTransportError(req.Method, endpoint, err)
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, gwerrors.NewTransportError(req.Method, endpoint, err)
	}
	return &Response{
		StatusCode:    res.StatusCode,
		Header:        res.Header,
		Body:          resBody,
		CorrelationID: req.correlationID,
	}, nil
}

func (g *Gateway) finish(req *Request, res *Response) (*Response, error) {
	if res.StatusCode < 400 {
		return res, nil
	}
	return nil, &gwerrors.StatusError{
		Method:     req.Method,
		URL:        g.endpoint(req),
		StatusCode: res.StatusCode,
		Body:       res.Body,
	}
}

type GatewayOption func(*Gateway) error

// WithAPIConfig applies the base url, timeouts and headers from the configuration
func WithAPIConfig(c config.APIConfig, e config.RunningEnvironment) GatewayOption {
	return func(g *Gateway) error {
		if c.BaseURL == nil {
			return fmt.Errorf("the base url cannot be nil")
		}
		g.baseURL = c.BaseURL
		g.httpClient = &http.Client{Timeout: c.RequestTimeout(e)}
		if c.RefreshTimeout > 0 {
			g.refreshTimeout = c.RefreshTimeout
		}
		if c.ContentType != "" {
			g.contentType = c.ContentType
		}
		if c.CorrelationHeader != "" {
			g.correlationHeader = c.CorrelationHeader
		}
		return nil
	}
}

func WithBaseURL(baseURL *url.URL) GatewayOption {
	return func(g *Gateway) error {
		g.baseURL = baseURL
		return nil
	}
}

func WithHTTPClient(client *http.Client) GatewayOption {
	return func(g *Gateway) error {
		g.httpClient = client
		return nil
	}
}

func WithCredentialStore(store CredentialStore) GatewayOption {
	return func(g *Gateway) error {
		g.tokens = store
		return nil
	}
}

func WithNotifier(notifier notifications.Notifier) GatewayOption {
	return func(g *Gateway) error {
		g.notifier = notifier
		return nil
	}
}

func WithIDGenerator(generator models.IDGenerator) GatewayOption {
	return func(g *Gateway) error {
		g.idGenerator = generator
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *Gateway) error {
		g.metrics = m
		return nil
	}
}

func WithRefreshTimeout(timeout time.Duration) GatewayOption {
	return func(g *Gateway) error {
		if timeout <= 0 {
			return fmt.Errorf("the refresh timeout has to be positive")
		}
		g.refreshTimeout = timeout
		return nil
	}
}

func WithAutoDismiss(d time.Duration) GatewayOption {
	return func(g *Gateway) error {
		g.autoDismiss = d
		return nil
	}
}

func NewGateway(options ...GatewayOption) (*Gateway, error) {
	g := Gateway{
		httpClient:        http.DefaultClient,
		idGenerator:       models.ULIDGenerator{},
		contentType:       "application/json",
		correlationHeader: "X-Request-ID",
		refreshTimeout:    defaultRefreshTimeout,
		autoDismiss:       notifications.DefaultAutoDismiss,
	}
	for _, opt := range options {
		err := opt(&g)
		if err != nil {
			return &Gateway{}, err
		}
	}
	if g.baseURL == nil {
		return &Gateway{}, fmt.Errorf("the base url is not set")
	}
	if g.tokens == nil {
		return &Gateway{}, fmt.Errorf("credential store not initialized")
	}
	if g.notifier == nil {
		return &Gateway{}, fmt.Errorf("notifier not initialized")
	}
	return &g, nil
}
