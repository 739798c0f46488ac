package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/antlu/stream-monitor/internal/monitor"
)

const (
	BaseURL         = "https://www.youtube.com"
	defaultCategory = "https://yt3.ggpht.com/QqoTjrpKRDMfGFPYpgIaTmHkbQ6Lk-brN77OxCYwl0jTtluavivXDdd4lR2wQsr_hcIggw=s136-w136-h136-c-k-c0x00ffffff-no-nd-rj"
	playerMarker    = "ytInitialPlayerResponse = "
)

var (
	channelIDPattern = regexp.MustCompile(`"(?:externalId|channelId)":"(UC[\w-]{22})"`)
	viewersPattern   = regexp.MustCompile(`"originalViewCount":"(\d+)"`)

	errNoPlayer = errors.New("no player response in page")
)

func ThumbnailURL(videoID string) string {
	return fmt.Sprintf("https://i.ytimg.com/vi/%s/maxresdefault.jpg", videoID)
}

type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	VideoDetails struct {
		VideoID   string `json:"videoId"`
		Title     string `json:"title"`
		ChannelID string `json:"channelId"`
		Author    string `json:"author"`
		ViewCount string `json:"viewCount"`
		IsLive    bool   `json:"isLive"`
	} `json:"videoDetails"`
	Microformat struct {
		Renderer struct {
			Category             string `json:"category"`
			LiveBroadcastDetails *struct {
				IsLiveNow      bool      `json:"isLiveNow"`
				StartTimestamp time.Time `json:"startTimestamp"`
			} `json:"liveBroadcastDetails"`
		} `json:"playerMicroformatRenderer"`
	} `json:"microformat"`
	StreamingData struct {
		HlsManifestURL string `json:"hlsManifestUrl"`
	} `json:"streamingData"`
}

// Fetcher scrapes public channel and watch pages. YouTube offers no push
// channel, so it backs the polling strategy.
type Fetcher struct {
	BaseURL    string
	HTTPClient *http.Client
	Headers    map[string]string
	log        zerolog.Logger
}

func NewFetcher(headers map[string]string, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		BaseURL:    BaseURL,
		HTTPClient: http.DefaultClient,
		Headers:    headers,
		log:        log.With().Str("component", "youtube_fetcher").Logger(),
	}
}

func (f *Fetcher) get(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+path, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cookie", "CONSENT=YES+1")
	for k, v := range f.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: GET %s: %v", monitor.ErrNetwork, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("%w: GET %s", monitor.ErrNotFound, path)
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: GET %s: status %d", monitor.ErrNetwork, path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", monitor.ErrNetwork, path, err)
	}
	return string(body), nil
}

func channelPath(name string) string {
	if strings.HasPrefix(name, "UC") && len(name) == 24 {
		return "/channel/" + name
	}
	return "/@" + url.PathEscape(name)
}

func (f *Fetcher) ResolveIdentity(ctx context.Context, name string) (string, error) {
	page, err := f.get(ctx, channelPath(name))
	if err != nil {
		return "", err
	}
	m := channelIDPattern.FindStringSubmatch(page)
	if m == nil {
		return "", fmt.Errorf("%w: no channel id for %s", monitor.ErrNotFound, name)
	}
	return m[1], nil
}

func (f *Fetcher) FetchSnapshot(ctx context.Context, name string) (*monitor.Snapshot, error) {
	page, err := f.get(ctx, channelPath(name)+"/live")
	if err != nil {
		return nil, err
	}
	return f.parse(name, page)
}

func (f *Fetcher) FetchStream(ctx context.Context, name, vodID string) (*monitor.Snapshot, error) {
	page, err := f.get(ctx, "/watch?v="+url.QueryEscape(vodID))
	if err != nil {
		return nil, err
	}
	snap, err := f.parse(name, page)
	if err != nil {
		return nil, err
	}
	if snap.Stream.VodID != vodID {
		return &monitor.Snapshot{UserID: snap.UserID, Login: name, Stream: monitor.StreamUpdate{VodID: vodID}}, nil
	}
	return snap, nil
}

func extractPlayer(page string) (*playerResponse, error) {
	i := strings.Index(page, playerMarker)
	if i < 0 {
		return nil, errNoPlayer
	}
	var player playerResponse
	dec := json.NewDecoder(strings.NewReader(page[i+len(playerMarker):]))
	if err := dec.Decode(&player); err != nil {
		return nil, fmt.Errorf("%w: player response: %v", monitor.ErrMalformedMessage, err)
	}
	return &player, nil
}

// parse turns a watch or /live page into a snapshot. A page without a
// playable live broadcast is reported offline.
func (f *Fetcher) parse(name, page string) (*monitor.Snapshot, error) {
	player, err := extractPlayer(page)
	if errors.Is(err, errNoPlayer) {
		return &monitor.Snapshot{Login: name}, nil
	}
	if err != nil {
		return nil, err
	}

	details := player.VideoDetails
	snap := &monitor.Snapshot{UserID: details.ChannelID, Login: name}
	broadcast := player.Microformat.Renderer.LiveBroadcastDetails
	live := details.IsLive || (broadcast != nil && broadcast.IsLiveNow)
	if player.PlayabilityStatus.Status != "OK" || !live || details.VideoID == "" {
		if player.PlayabilityStatus.Reason != "" {
			f.log.Debug().Str("channel", name).Str("reason", player.PlayabilityStatus.Reason).Msg("Not playable")
		}
		snap.Stream.VodID = details.VideoID
		return snap, nil
	}

	viewers, _ := strconv.Atoi(details.ViewCount)
	if m := viewersPattern.FindStringSubmatch(page); m != nil {
		viewers, _ = strconv.Atoi(m[1])
	}

	snap.Live = true
	snap.Stream = monitor.StreamUpdate{
		VodID:   details.VideoID,
		Title:   &details.Title,
		Viewers: &viewers,
		Category: &monitor.Category{
			ID:    "0",
			Name:  player.Microformat.Renderer.Category,
			Image: defaultCategory,
		},
		Thumbnail: ptr(ThumbnailURL(details.VideoID)),
	}
	if broadcast != nil && !broadcast.StartTimestamp.IsZero() {
		snap.Stream.StartedAt = &broadcast.StartTimestamp
	}
	if player.StreamingData.HlsManifestURL != "" {
		snap.Stream.ManifestURL = &player.StreamingData.HlsManifestURL
	}
	return snap, nil
}

func ptr[T any](v T) *T {
	return &v
}
