// Package authapi talks to the authentication endpoints of the backend.
package authapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/gwerrors"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	loginPath    string = "auth/login"
	registerPath string = "auth/register"
	refreshPath  string = "auth/refresh"
)

// maxErrorBody limits how much of an error response is kept
const maxErrorBody int64 = 64 * 1024

type Client struct {
	baseURL     *url.URL
	httpClient  *http.Client
	contentType string
}

type ClientOption func(*Client) error

func WithBaseURL(baseURL *url.URL) ClientOption {
	return func(c *Client) error {
		if baseURL == nil {
			return fmt.Errorf("the base url cannot be nil")
		}
		c.baseURL = baseURL
		return nil
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		c.httpClient = httpClient
		return nil
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) error {
		c.httpClient = &http.Client{Timeout: timeout}
		return nil
	}
}

func WithContentType(contentType string) ClientOption {
	return func(c *Client) error {
		c.contentType = contentType
		return nil
	}
}

func NewClient(options ...ClientOption) (*Client, error) {
	c := Client{httpClient: http.DefaultClient, contentType: "application/json"}
	for _, opt := range options {
		err := opt(&c)
		if err != nil {
			return &Client{}, err
		}
	}
	if c.baseURL == nil {
		return &Client{}, fmt.Errorf("the base url is not set")
	}
	return &c, nil
}

func (c *Client) Login(ctx context.Context, req models.LoginRequest) (models.AuthResponse, error) {
	var res models.AuthResponse
	err := c.post(ctx, loginPath, req, &res)
	if err != nil {
		return models.AuthResponse{}, err
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		return models.AuthResponse{}, fmt.Errorf("the login response does not contain both tokens")
	}
	return res, nil
}

func (c *Client) Register(ctx context.Context, req models.RegisterRequest) (models.AuthResponse, error) {
	var res models.AuthResponse
	err := c.post(ctx, registerPath, req, &res)
	if err != nil {
		return models.AuthResponse{}, err
	}
	if res.AccessToken == "" || res.RefreshToken == "" {
		return models.AuthResponse{}, fmt.Errorf("the register response does not contain both tokens")
	}
	return res, nil
}

func (c *Client) Refresh(ctx context.Context, req models.RefreshRequest) (models.RefreshResponse, error) {
	var res models.RefreshResponse
	err := c.post(ctx, refreshPath, req, &res)
	if err != nil {
		return models.RefreshResponse{}, err
	}
	if res.AccessToken == "" {
		return models.RefreshResponse{}, fmt.Errorf("the refresh response does not contain an access token")
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	endpoint := c.baseURL.JoinPath(path).String()
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", c.contentType)
	req.Header.Set("Accept", "application/json")
	res, err := c.httpClient.Do(req)
	if err != nil {
		return gwerrors.NewTransportError(http.MethodPost, endpoint, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		slog.Debug(
			"AUTH API",
			"message",
			"request rejected",
			"url",
			endpoint,
			"status",
			res.StatusCode,
			"reason",
			ErrorMessage(errBody),
		)
		return &gwerrors.StatusError{Method: http.MethodPost, URL: endpoint, StatusCode: res.StatusCode, Body: errBody}
	}
	err = json.NewDecoder(res.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("cannot decode the response from %s: %w", endpoint, err)
	}
	return nil
}

// ErrorMessage extracts the message of an APIError body, it returns an empty string if there is none
func ErrorMessage(body []byte) string {
	apiErr, _ := ParseError(body)
	return apiErr.Message
}

// ParseError decodes an error body of the API, the boolean is false when the body is not one
func ParseError(body []byte) (models.APIError, bool) {
	var apiErr models.APIError
	if len(body) == 0 {
		return apiErr, false
	}
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return models.APIError{}, false
	}
	return apiErr, true
}
