package twitch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/antlu/stream-monitor/internal/monitor"
)

func BoxArtURL(gameID string) string {
	return fmt.Sprintf("https://static-cdn.jtvnw.net/ttv-boxart/%s-144x192.jpg", gameID)
}

func PreviewURL(login string) string {
	return fmt.Sprintf("https://static-cdn.jtvnw.net/previews-ttv/live_user_%s-440x248.jpg", login)
}

// Fetcher reads channel identity and stream metadata from the Helix API and
// the manifest URL from the playback token endpoint.
type Fetcher struct {
	api      *ApiClient
	playback *PlaybackClient
	log      zerolog.Logger
}

func NewFetcher(api *ApiClient, playback *PlaybackClient, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		api:      api,
		playback: playback,
		log:      log.With().Str("component", "twitch_fetcher").Logger(),
	}
}

// ResolveIdentity checks ctx only up front: helix/v2 requests take no context,
// so a lookup already in flight runs to its HTTP timeout.
func (f *Fetcher) ResolveIdentity(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.api.GetUserID(ctx, name)
}

func (f *Fetcher) FetchSnapshot(ctx context.Context, name string) (*monitor.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stream, err := f.api.GetLiveStream(ctx, name)
	if err != nil {
		return nil, err
	}
	if stream == nil {
		return &monitor.Snapshot{Login: name}, nil
	}

	snap := &monitor.Snapshot{
		UserID: stream.UserID,
		Login:  stream.UserLogin,
		Live:   true,
		Stream: monitor.StreamUpdate{
			VodID:     stream.ID,
			StartedAt: &stream.StartedAt,
			Title:     &stream.Title,
			Category: &monitor.Category{
				ID:    stream.GameID,
				Name:  stream.GameName,
				Image: BoxArtURL(stream.GameID),
			},
			Viewers:   &stream.ViewerCount,
			Thumbnail: ptr(PreviewURL(stream.UserLogin)),
		},
	}

	if f.playback != nil {
		manifest, err := f.playback.ManifestURL(ctx, name)
		if err != nil {
			f.log.Warn().Err(err).Str("channel", name).Msg("Error getting manifest URL")
		} else {
			snap.Stream.ManifestURL = &manifest
		}
	}
	return snap, nil
}

// FetchStream reports vodID as live only while it is the channel's current
// broadcast.
func (f *Fetcher) FetchStream(ctx context.Context, name, vodID string) (*monitor.Snapshot, error) {
	snap, err := f.FetchSnapshot(ctx, name)
	if err != nil {
		return nil, err
	}
	if !snap.Live || snap.Stream.VodID != vodID {
		return &monitor.Snapshot{UserID: snap.UserID, Login: name, Stream: monitor.StreamUpdate{VodID: vodID}}, nil
	}
	return snap, nil
}

func ptr[T any](v T) *T {
	return &v
}
