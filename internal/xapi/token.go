package xapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/bookmark-agent/internal/store"
	"github.com/jonathan/bookmark-agent/internal/types"
)

// tokenKey is where the full OAuth bundle lives in the KV store. The bundle
// is always written as one value so a replace is all-or-nothing.
const tokenKey = "xapi:token"

// expirySkew is subtracted from the advertised expiry so a token is refreshed
// slightly before the upstream would reject it.
const expirySkew = 60 * time.Second

// TokenManager holds and refreshes the OAuth token pair for the external
// bookmark account.
type TokenManager struct {
	kv           store.KV
	http         *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	now          func() time.Time
	log          *zap.Logger
}

// TokenManagerOptions configures a TokenManager.
type TokenManagerOptions struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Now          func() time.Time
	Logger       *zap.Logger
}

// NewTokenManager builds a TokenManager on the given KV store.
func NewTokenManager(kv store.KV, opts TokenManagerOptions) *TokenManager {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenManager{
		kv:           kv,
		http:         httpClient,
		tokenURL:     opts.TokenURL,
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		now:          now,
		log:          log,
	}
}

// Bundle reads the stored token bundle. Returns Unauthorized when the
// external account was never connected.
func (m *TokenManager) Bundle(ctx context.Context) (*types.TokenBundle, error) {
	raw, ok, err := m.kv.Get(ctx, tokenKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read token bundle: %w", err)
	}
	if !ok {
		return nil, &types.ErrUnauthorized{Message: "external account not connected"}
	}
	var bundle types.TokenBundle
	if err := json.Unmarshal([]byte(raw), &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse token bundle: %w", err)
	}
	return &bundle, nil
}

// Save persists the bundle as a full replace.
func (m *TokenManager) Save(ctx context.Context, bundle *types.TokenBundle) error {
	raw, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal token bundle: %w", err)
	}
	if err := m.kv.Set(ctx, tokenKey, string(raw)); err != nil {
		return fmt.Errorf("failed to persist token bundle: %w", err)
	}
	return nil
}

// Ensure returns a bundle with a usable access token, refreshing and
// persisting it first when the stored one has expired.
func (m *TokenManager) Ensure(ctx context.Context) (*types.TokenBundle, error) {
	bundle, err := m.Bundle(ctx)
	if err != nil {
		return nil, err
	}
	if !bundle.Expired(m.now()) {
		return bundle, nil
	}
	if bundle.RefreshToken == "" {
		return nil, &types.ErrUnauthorized{Message: "access token expired and no refresh token available"}
	}
	refreshed, err := m.refresh(ctx, bundle)
	if err != nil {
		return nil, err
	}
	if err := m.Save(ctx, refreshed); err != nil {
		return nil, err
	}
	m.log.Info("refreshed external api token",
		zap.Time("expires_at", refreshed.ExpiresAt))
	return refreshed, nil
}

// AccessToken returns a usable access token, refreshing if needed.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	bundle, err := m.Ensure(ctx)
	if err != nil {
		return "", err
	}
	return bundle.AccessToken, nil
}

// SaveUserID caches the external user id inside the bundle so later syncs
// skip the identity lookup.
func (m *TokenManager) SaveUserID(ctx context.Context, userID string) error {
	bundle, err := m.Bundle(ctx)
	if err != nil {
		return err
	}
	bundle.UserID = userID
	return m.Save(ctx, bundle)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// refresh performs the refresh-token exchange. The refresh token is carried
// forward when the exchange response omits one.
func (m *TokenManager) refresh(ctx context.Context, bundle *types.TokenBundle) (*types.TokenBundle, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", bundle.RefreshToken)
	form.Set("client_id", m.clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if m.clientSecret != "" {
		req.SetBasicAuth(m.clientID, m.clientSecret)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, &types.ErrUnauthorized{Message: "token refresh failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &types.ErrUnauthorized{
			Message: fmt.Sprintf("token refresh rejected with status %d", resp.StatusCode),
		}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, &types.ErrUnauthorized{Message: "token refresh returned malformed response", Cause: err}
	}
	if tr.AccessToken == "" {
		return nil, &types.ErrUnauthorized{Message: "token refresh returned no access token"}
	}

	refreshToken := tr.RefreshToken
	if refreshToken == "" {
		refreshToken = bundle.RefreshToken
	}
	return &types.TokenBundle{
		AccessToken:  tr.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    m.now().Add(time.Duration(tr.ExpiresIn)*time.Second - expirySkew),
		UserID:       bundle.UserID,
	}, nil
}
