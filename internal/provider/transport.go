package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tourtastic/tourtastic/config"
	"github.com/tourtastic/tourtastic/internal/domain"
	"github.com/tourtastic/tourtastic/pkg/logger"
)

// Transport issues authenticated requests against the provider API. On an
// unauthorized response it coordinates a single token refresh per session:
// concurrent failures all wait on the same in-flight refresh, then each
// retries its own request exactly once with the rotated token.
type Transport struct {
	client  *http.Client
	baseURL string
	session *Session
}

func NewTransport(cfg config.ProviderConfig, session *Session) *Transport {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Transport{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		session: session,
	}
}

// Do sends one JSON request and decodes the JSON response into out.
// body may be nil; out may be nil.
func (t *Transport) Do(ctx context.Context, method, path string, body, out any) error {
	status, payload, err := t.roundTrip(ctx, method, path, body)
	if err != nil {
		return err
	}
	if status != http.StatusUnauthorized {
		return decodeResponse(status, payload, out)
	}

	token, err := t.refresh(ctx)
	if err != nil {
		return err
	}

	status, payload, err = t.roundTripWithToken(ctx, method, path, body, token)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		// Retried once already; do not loop.
		t.session.Logout()
		return fmt.Errorf("request unauthorized after refresh: %w", domain.ErrAuthentication)
	}
	return decodeResponse(status, payload, out)
}

func (t *Transport) roundTrip(ctx context.Context, method, path string, body any) (int, []byte, error) {
	token := ""
	if creds, ok := t.session.Credentials(); ok {
		if exp, ok := accessTokenExpiry(creds.AccessToken); ok && exp.After(time.Now()) {
			token = creds.AccessToken
		}
	}
	return t.roundTripWithToken(ctx, method, path, body, token)
}

func (t *Transport) roundTripWithToken(ctx context.Context, method, path string, body any, token string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if anon := t.session.AnonymousID(); anon != "" {
		req.Header.Set("X-Anonymous-Session", anon)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("provider request: %w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("provider response: %w: %v", domain.ErrUpstream, err)
	}
	return resp.StatusCode, data, nil
}

// refresh runs the token rotation behind the session-scoped single-flight
// group. Whichever caller arrives first performs the HTTP call; everyone else
// blocks on the shared result.
func (t *Transport) refresh(ctx context.Context) (string, error) {
	v, err, _ := t.session.refreshGroup.Do("refresh", func() (interface{}, error) {
		gen := t.session.Generation()
		creds, ok := t.session.Credentials()
		if !ok {
			return nil, fmt.Errorf("no active session: %w", domain.ErrAuthentication)
		}

		rotated, err := t.callRefresh(ctx, creds.RefreshToken)
		if err != nil {
			// Failed refresh tears the session down; queued requests must
			// not run against a half-refreshed pair.
			t.session.Logout()
			return nil, err
		}
		if !t.session.replaceIfCurrent(gen, rotated) {
			logger.Warn("provider session closed during refresh, discarding rotated tokens")
			return nil, fmt.Errorf("session closed during refresh: %w", domain.ErrAuthentication)
		}
		return rotated.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (t *Transport) callRefresh(ctx context.Context, refreshToken string) (Credentials, error) {
	status, payload, err := t.roundTripWithToken(ctx, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, "")
	if err != nil {
		return Credentials{}, err
	}
	if status == http.StatusUnauthorized {
		return Credentials{}, fmt.Errorf("refresh token rejected: %w", domain.ErrAuthentication)
	}
	if status != http.StatusOK {
		return Credentials{}, fmt.Errorf("refresh returned status %d: %w", status, domain.ErrUpstream)
	}

	var tokens tokenResponse
	if err := json.Unmarshal(payload, &tokens); err != nil {
		return Credentials{}, fmt.Errorf("decode refresh response: %w", err)
	}
	return Credentials{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
}

func decodeResponse(status int, payload []byte, out any) error {
	switch {
	case status >= 200 && status < 300:
		if out == nil {
			return nil
		}
		return json.Unmarshal(payload, out)
	case status == http.StatusUnauthorized:
		return fmt.Errorf("provider returned %d: %w", status, domain.ErrAuthentication)
	case status == http.StatusNotFound:
		return fmt.Errorf("provider returned %d: %w", status, domain.ErrNotFound)
	case status >= 400 && status < 500:
		return fmt.Errorf("provider rejected request with %d: %w", status, domain.ErrValidation)
	default:
		return fmt.Errorf("provider returned %d: %w", status, domain.ErrUpstream)
	}
}
