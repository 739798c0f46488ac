package twitch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/antlu/stream-monitor/internal/crypto"
	"github.com/antlu/stream-monitor/internal/monitor"
)

const oauthURL = "https://id.twitch.tv/oauth2"

type tokensData struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// TokenStore persists encrypted tokens keyed by client id.
type TokenStore interface {
	LoadToken(ctx context.Context, clientID string) (string, error)
	SaveToken(ctx context.Context, clientID, token string) error
}

// TokenManager hands out a valid app access token, reusing the cached or
// stored one while Twitch still accepts it.
type TokenManager struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	HTTPClient   *http.Client

	store  TokenStore
	cipher crypto.Cipher
	log    zerolog.Logger

	mu     sync.Mutex
	cached string
}

func NewTokenManager(clientID, clientSecret string, store TokenStore, cipher crypto.Cipher, log zerolog.Logger) *TokenManager {
	return &TokenManager{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		BaseURL:      oauthURL,
		HTTPClient:   http.DefaultClient,
		store:        store,
		cipher:       cipher,
		log:          log.With().Str("component", "twitch_tokens").Logger(),
	}
}

func (tm *TokenManager) AccessToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.cached != "" {
		valid, err := tm.validateToken(ctx, tm.cached)
		if err != nil {
			return "", fmt.Errorf("error validating token: %w", err)
		}
		if valid {
			return tm.cached, nil
		}
	}

	stored, err := tm.readFromStore(ctx)
	if err != nil {
		tm.log.Warn().Err(err).Msg("Error reading stored token")
	}
	if stored != "" && stored != tm.cached {
		valid, err := tm.validateToken(ctx, stored)
		if err != nil {
			return "", fmt.Errorf("error validating token: %w", err)
		}
		if valid {
			tm.cached = stored
			return stored, nil
		}
	}

	token, err := tm.requestToken(ctx)
	if err != nil {
		return "", fmt.Errorf("error requesting token: %w", err)
	}
	tm.cached = token
	if err := tm.updateStoreRecord(ctx, token); err != nil {
		tm.log.Warn().Err(err).Msg("Error storing token")
	}
	tm.log.Info().Msg("Obtained new app access token")
	return token, nil
}

func (tm *TokenManager) readFromStore(ctx context.Context) (string, error) {
	if tm.store == nil {
		return "", nil
	}
	sealed, err := tm.store.LoadToken(ctx, tm.ClientID)
	if err != nil || sealed == "" {
		return "", err
	}
	return tm.cipher.Decrypt(sealed)
}

func (tm *TokenManager) updateStoreRecord(ctx context.Context, token string) error {
	if tm.store == nil {
		return nil
	}
	sealed, err := tm.cipher.Encrypt(token)
	if err != nil {
		return fmt.Errorf("error encrypting access token: %w", err)
	}
	return tm.store.SaveToken(ctx, tm.ClientID, sealed)
}

func (tm *TokenManager) requestToken(ctx context.Context) (string, error) {
	form := url.Values{
		"client_id":     {tm.ClientID},
		"client_secret": {tm.ClientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.BaseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tm.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", monitor.ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var data tokensData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}
	if data.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access token")
	}
	return data.AccessToken, nil
}

func (tm *TokenManager) validateToken(ctx context.Context, token string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tm.BaseURL+"/validate", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "OAuth "+token)

	resp, err := tm.HTTPClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", monitor.ErrNetwork, err)
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}
