package twitch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/nicklaw5/helix/v2"

	"github.com/antlu/stream-monitor/internal/monitor"
)

// TokenSource hands out a valid app access token. *TokenManager satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

type ApiClient struct {
	*helix.Client
	tokens TokenSource
}

type ApiOptions struct {
	ClientID    string
	AccessToken string
	// Tokens, when set, replaces an app token that Helix rejects.
	Tokens TokenSource
	// BaseURL overrides the Helix endpoint, used by tests.
	BaseURL string
}

func NewApiClient(opts ApiOptions) (*ApiClient, error) {
	client, err := helix.NewClient(&helix.Options{
		ClientID:       opts.ClientID,
		AppAccessToken: opts.AccessToken,
		APIBaseURL:     opts.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating helix client: %w", err)
	}
	return &ApiClient{Client: client, tokens: opts.Tokens}, nil
}

func responseError(op string, resp helix.ResponseCommon) error {
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s: %d %s", monitor.ErrNetwork, op, resp.StatusCode, resp.ErrorMessage)
	}
	return fmt.Errorf("error %s: %d %s", op, resp.StatusCode, resp.ErrorMessage)
}

// withToken runs call and, if Helix answers 401, swaps in a fresh app token
// and runs it once more. call returns the response status code.
func (ac *ApiClient) withToken(ctx context.Context, call func() (int, error)) error {
	status, err := call()
	if err != nil || status != http.StatusUnauthorized || ac.tokens == nil {
		return err
	}

	token, err := ac.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("error refreshing app access token: %w", err)
	}
	ac.SetAppAccessToken(token)

	_, err = call()
	return err
}

func (ac *ApiClient) GetUserID(ctx context.Context, name string) (string, error) {
	var resp *helix.UsersResponse
	err := ac.withToken(ctx, func() (int, error) {
		var err error
		resp, err = ac.GetUsers(&helix.UsersParams{Logins: []string{name}})
		if err != nil {
			return 0, fmt.Errorf("%w: getting users info: %v", monitor.ErrNetwork, err)
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", responseError("getting users info", resp.ResponseCommon)
	}
	if len(resp.Data.Users) == 0 || resp.Data.Users[0].ID == "" {
		return "", fmt.Errorf("%w: twitch user %s", monitor.ErrNotFound, name)
	}
	return resp.Data.Users[0].ID, nil
}

// GetLiveStream returns the channel's live broadcast, or nil when offline.
func (ac *ApiClient) GetLiveStream(ctx context.Context, name string) (*helix.Stream, error) {
	var resp *helix.StreamsResponse
	err := ac.withToken(ctx, func() (int, error) {
		var err error
		resp, err = ac.GetStreams(&helix.StreamsParams{UserLogins: []string{name}})
		if err != nil {
			return 0, fmt.Errorf("%w: getting streams info: %v", monitor.ErrNetwork, err)
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, responseError("getting streams info", resp.ResponseCommon)
	}
	for _, stream := range resp.Data.Streams {
		if stream.Type == "" || stream.Type == "live" {
			return &stream, nil
		}
	}
	return nil, nil
}
