package twitch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"

	"github.com/antlu/stream-monitor/internal/monitor"
)

const (
	gqlURL         = "https://gql.twitch.tv/gql"
	usherURL       = "https://usher.ttvnw.net/api/channel/hls"
	webClientID    = "kimne78kx3ncx6brgo4mv6wki5h1ko"
	playbackQuery  = "3093517e37e4f4cb48906155bcd894150aef92617939236d2508f3375ab732ce"
	playbackPlayer = "site"
)

var ErrNoPlaybackToken = errors.New("no playback access token")

type gqlRequest struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	Extensions    gqlExtensions  `json:"extensions"`
}

type gqlExtensions struct {
	PersistedQuery struct {
		Version    int    `json:"version"`
		Sha256Hash string `json:"sha256Hash"`
	} `json:"persistedQuery"`
}

type playbackResponse struct {
	Data struct {
		StreamPlaybackAccessToken *struct {
			Value     string `json:"value"`
			Signature string `json:"signature"`
		} `json:"streamPlaybackAccessToken"`
	} `json:"data"`
}

// PlaybackClient exchanges a channel login for a signed HLS manifest URL.
type PlaybackClient struct {
	HTTPClient *http.Client
	GQLURL     string
	UsherURL   string
	// Headers are added to every GQL request, e.g. an OAuth authorization.
	Headers map[string]string
}

func NewPlaybackClient(headers map[string]string) *PlaybackClient {
	return &PlaybackClient{
		HTTPClient: http.DefaultClient,
		GQLURL:     gqlURL,
		UsherURL:   usherURL,
		Headers:    headers,
	}
}

func (c *PlaybackClient) ManifestURL(ctx context.Context, login string) (string, error) {
	op := gqlRequest{
		OperationName: "PlaybackAccessToken",
		Variables: map[string]any{
			"isLive":     true,
			"login":      login,
			"isVod":      false,
			"vodID":      "",
			"playerType": playbackPlayer,
		},
	}
	op.Extensions.PersistedQuery.Version = 1
	op.Extensions.PersistedQuery.Sha256Hash = playbackQuery

	body, err := json.Marshal([]gqlRequest{op})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.GQLURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Client-Id", webClientID)
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: requesting playback token: %v", monitor.ErrNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: playback token status %d", monitor.ErrNetwork, resp.StatusCode)
	}

	var data []playbackResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("error decoding playback token: %w", err)
	}
	if len(data) == 0 || data[0].Data.StreamPlaybackAccessToken == nil {
		return "", fmt.Errorf("%w for %s", ErrNoPlaybackToken, login)
	}
	token := data[0].Data.StreamPlaybackAccessToken

	query := url.Values{
		"acmb":                       {"e30="},
		"allow_source":               {"true"},
		"fast_bread":                 {"true"},
		"player_backend":             {"mediaplayer"},
		"playlist_include_framerate": {"true"},
		"reassignments_supported":    {"true"},
		"sig":                        {token.Signature},
		"supported_codecs":           {"avc1"},
		"token":                      {token.Value},
		"transcode_mode":             {"cbr_v1"},
		"cdm":                        {"wv"},
	}
	return fmt.Sprintf("%s/%s.m3u8?%s", c.UsherURL, url.PathEscape(login), query.Encode()), nil
}
