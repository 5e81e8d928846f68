// Package tokenrefresher refreshes the access token shortly before it expires so that requests
// rarely have to recover from a 401.
package tokenrefresher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SwissDataScienceCenter/renku-authclient/internal/config"
	"github.com/SwissDataScienceCenter/renku-authclient/internal/models"
	"github.com/go-co-op/gocron"
)

// CredentialReader gives access to the credential held by the token store
type CredentialReader interface {
	Credential() models.Credential
}

// Refresher starts a refresh or joins the one already in flight
type Refresher interface {
	Refresh(ctx context.Context) (string, error)
}

type TokenRefresher struct {
	interval     time.Duration
	expiryMargin time.Duration

	credentials CredentialReader
	refresher   Refresher
}

func (tr *TokenRefresher) GetScheduler() (*gocron.Scheduler, error) {
	s := gocron.NewScheduler(time.UTC)

	refreshExpiringTokenTask := func(job gocron.Job) {
		_, err := tr.refreshExpiringToken(job.Context())
		if err != nil {
			slog.Error("TOKEN REFRESHER", "message", "refreshExpiringToken failed", "error", err)
		}
	}

	_, err := s.Every(tr.interval).
		DoWithJobDetails(refreshExpiringTokenTask)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// refreshExpiringToken refreshes when the access token expires within the margin. The boolean
// reports whether a refresh was attempted.
func (tr *TokenRefresher) refreshExpiringToken(ctx context.Context) (bool, error) {
	cred := tr.credentials.Credential()
	if !cred.HasAccessToken() || !cred.HasRefreshToken() {
		return false, nil
	}
	if !cred.ExpiresWithin(tr.expiryMargin) {
		return false, nil
	}
	slog.Debug("TOKEN REFRESHER", "message", "access token expires soon", "expiry", cred.Expiry)
	_, err := tr.refresher.Refresh(ctx)
	if err != nil {
		return true, err
	}
	slog.Info("TOKEN REFRESHER", "message", "expiring access token refreshed")
	return true, nil
}

type TokenRefresherOption func(*TokenRefresher) error

func WithConfig(c config.RefresherConfig) TokenRefresherOption {
	return func(tr *TokenRefresher) error {
		tr.interval = c.Interval
		tr.expiryMargin = c.ExpiryMargin
		return nil
	}
}

func WithInterval(interval time.Duration) TokenRefresherOption {
	return func(tr *TokenRefresher) error {
		tr.interval = interval
		return nil
	}
}

func WithExpiryMargin(margin time.Duration) TokenRefresherOption {
	return func(tr *TokenRefresher) error {
		tr.expiryMargin = margin
		return nil
	}
}

func WithCredentialReader(credentials CredentialReader) TokenRefresherOption {
	return func(tr *TokenRefresher) error {
		tr.credentials = credentials
		return nil
	}
}

func WithRefresher(refresher Refresher) TokenRefresherOption {
	return func(tr *TokenRefresher) error {
		tr.refresher = refresher
		return nil
	}
}

// NewTokenRefresher creates a new TokenRefresher that refreshes the access token when it is about to expire.
func NewTokenRefresher(options ...TokenRefresherOption) (*TokenRefresher, error) {
	tr := TokenRefresher{interval: time.Minute, expiryMargin: 2 * time.Minute}
	for _, opt := range options {
		err := opt(&tr)
		if err != nil {
			return &TokenRefresher{}, err
		}
	}
	if tr.interval <= 0 {
		return &TokenRefresher{}, fmt.Errorf("invalid value for the interval (%s)", tr.interval)
	}
	if tr.expiryMargin < 0 {
		return &TokenRefresher{}, fmt.Errorf("invalid value for the expiry margin (%s)", tr.expiryMargin)
	}
	if tr.credentials == nil {
		return &TokenRefresher{}, fmt.Errorf("credential reader not initialized")
	}
	if tr.refresher == nil {
		return &TokenRefresher{}, fmt.Errorf("refresher not initialized")
	}
	return &tr, nil
}
