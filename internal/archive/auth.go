package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"

	"weather-archive/internal/models"
	"weather-archive/pkg/logging"
	"weather-archive/pkg/metrics"
)

// Credentials identify the caller to the archive. Either Principal and
// Secret, or a pre-issued Token, must be set.
type Credentials struct {
	Principal string
	Secret    string
	Token     string
}

// TokenSource holds the bearer token and exchanges credentials for a new
// one on demand. Concurrent exchanges collapse into one request.
type TokenSource struct {
	client    *http.Client
	authURL   string
	principal string
	secret    string

	mu    sync.RWMutex
	token string
	group singleflight.Group

	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewTokenSource validates credentials and returns a token source.
// A pre-issued token is used as-is until Refresh is called.
func NewTokenSource(client *http.Client, authURL string, creds Credentials, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*TokenSource, error) {
	if creds.Token == "" && (creds.Principal == "" || creds.Secret == "") {
		return nil, &models.ConfigurationError{
			Field:   "credentials",
			Message: "CEDA_USER and CEDA_PASS, or CEDA_TOKEN, must be set",
			Err:     models.ErrMissingCredentials,
		}
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &TokenSource{
		client:    client,
		authURL:   authURL,
		principal: creds.Principal,
		secret:    creds.Secret,
		token:     creds.Token,
		logger:    logger,
		metrics:   metricsCollector,
	}, nil
}

// Token returns the cached token, exchanging credentials on first use
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token != "" {
		return token, nil
	}
	return s.obtain(ctx, false)
}

// Refresh exchanges the configured credentials for a new token and caches it.
// Rejected requests do not call this automatically.
func (s *TokenSource) Refresh(ctx context.Context) (string, error) {
	return s.obtain(ctx, true)
}

func (s *TokenSource) obtain(ctx context.Context, force bool) (string, error) {
	v, err, _ := s.group.Do("token", func() (interface{}, error) {
		if !force {
			s.mu.RLock()
			token := s.token
			s.mu.RUnlock()
			if token != "" {
				return token, nil
			}
		}
		return s.exchange(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *TokenSource) exchange(ctx context.Context) (string, error) {
	if s.principal == "" || s.secret == "" {
		return "", &models.ConfigurationError{
			Field:   "credentials",
			Message: "cannot refresh a pre-issued token without CEDA_USER and CEDA_PASS",
			Err:     models.ErrMissingCredentials,
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.authURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(s.principal, s.secret)

	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.AuthExchangesTotal.WithLabelValues("error").Inc()
		return "", &models.TransportError{URL: s.authURL, Attempts: 1, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		s.metrics.AuthExchangesTotal.WithLabelValues("rejected").Inc()
		return "", &models.TransportError{URL: s.authURL, StatusCode: resp.StatusCode, Attempts: 1}
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		s.metrics.AuthExchangesTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		s.metrics.AuthExchangesTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("token response from %s has no access_token", s.authURL)
	}

	s.mu.Lock()
	s.token = payload.AccessToken
	s.mu.Unlock()

	s.metrics.AuthExchangesTotal.WithLabelValues("ok").Inc()
	s.logger.Info(ctx, "[AUTH_TOKEN] Exchanged credentials for archive token", logging.Fields{
		"auth_url": s.authURL,
	})
	return payload.AccessToken, nil
}
