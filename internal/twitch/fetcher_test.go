package twitch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antlu/stream-monitor/internal/monitor"
)

const streamJSON = `{"data":[{"id":"40952121085","user_id":"141981764","user_login":"twitchdev","user_name":"TwitchDev",
"game_id":"509670","game_name":"Science & Technology","type":"live","title":"hello world","viewer_count":78365,
"started_at":"2021-03-10T15:04:21Z","language":"en","thumbnail_url":"x","tag_ids":[],"is_mature":false}],"pagination":{}}`

type helixStub struct {
	live      atomic.Bool
	status    atomic.Int32
	usersJSON string
}

func newHelixServer(t *testing.T, stub *helixStub) *ApiClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if code := stub.status.Load(); code != 0 {
			w.WriteHeader(int(code))
			io.WriteString(w, `{"error":"Internal Server Error","status":500,"message":"boom"}`)
			return
		}
		switch r.URL.Path {
		case "/users":
			io.WriteString(w, stub.usersJSON)
		case "/streams":
			if stub.live.Load() {
				io.WriteString(w, streamJSON)
			} else {
				io.WriteString(w, `{"data":[],"pagination":{}}`)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	api, err := NewApiClient(ApiOptions{ClientID: "client", AccessToken: "token", BaseURL: srv.URL})
	require.NoError(t, err)
	return api
}

func newPlaybackServer(t *testing.T, fail bool) *PlaybackClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "OAuth abc", r.Header.Get("Authorization"))
		assert.Equal(t, webClientID, r.Header.Get("Client-Id"))
		io.WriteString(w, `[{"data":{"streamPlaybackAccessToken":{"value":"{\"channel\":\"twitchdev\"}","signature":"deadbeef"}}}]`)
	}))
	t.Cleanup(srv.Close)

	c := NewPlaybackClient(map[string]string{"Authorization": "OAuth abc"})
	c.GQLURL = srv.URL
	return c
}

func TestFetcher_ResolveIdentity(t *testing.T) {
	api := newHelixServer(t, &helixStub{usersJSON: `{"data":[{"id":"141981764","login":"twitchdev"}]}`})
	f := NewFetcher(api, nil, zerolog.Nop())

	id, err := f.ResolveIdentity(context.Background(), "twitchdev")
	require.NoError(t, err)
	assert.Equal(t, "141981764", id)
}

func TestFetcher_ResolveIdentityNotFound(t *testing.T) {
	api := newHelixServer(t, &helixStub{usersJSON: `{"data":[]}`})
	f := NewFetcher(api, nil, zerolog.Nop())

	_, err := f.ResolveIdentity(context.Background(), "nobody")
	assert.ErrorIs(t, err, monitor.ErrNotFound)
}

func TestFetcher_CancelledContextSkipsRequest(t *testing.T) {
	stub := &helixStub{}
	stub.status.Store(http.StatusInternalServerError)
	f := NewFetcher(newHelixServer(t, stub), nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ResolveIdentity(ctx, "twitchdev")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, monitor.ErrNetwork)
	_, err = f.FetchSnapshot(ctx, "twitchdev")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetcher_ServerErrorIsNetwork(t *testing.T) {
	stub := &helixStub{}
	stub.status.Store(http.StatusInternalServerError)
	f := NewFetcher(newHelixServer(t, stub), nil, zerolog.Nop())

	_, err := f.ResolveIdentity(context.Background(), "twitchdev")
	assert.ErrorIs(t, err, monitor.ErrNetwork)
	_, err = f.FetchSnapshot(context.Background(), "twitchdev")
	assert.ErrorIs(t, err, monitor.ErrNetwork)
}

func TestFetcher_SnapshotOffline(t *testing.T) {
	f := NewFetcher(newHelixServer(t, &helixStub{}), nil, zerolog.Nop())

	snap, err := f.FetchSnapshot(context.Background(), "twitchdev")
	require.NoError(t, err)
	assert.False(t, snap.Live)
}

func TestFetcher_SnapshotLive(t *testing.T) {
	stub := &helixStub{}
	stub.live.Store(true)
	f := NewFetcher(newHelixServer(t, stub), newPlaybackServer(t, false), zerolog.Nop())

	snap, err := f.FetchSnapshot(context.Background(), "twitchdev")
	require.NoError(t, err)
	require.True(t, snap.Live)

	assert.Equal(t, "141981764", snap.UserID)
	assert.Equal(t, "40952121085", snap.Stream.VodID)
	assert.Equal(t, "hello world", *snap.Stream.Title)
	assert.Equal(t, 78365, *snap.Stream.Viewers)
	assert.Equal(t, time.Date(2021, 3, 10, 15, 4, 21, 0, time.UTC), snap.Stream.StartedAt.UTC())
	assert.Equal(t, monitor.Category{
		ID:    "509670",
		Name:  "Science & Technology",
		Image: "https://static-cdn.jtvnw.net/ttv-boxart/509670-144x192.jpg",
	}, *snap.Stream.Category)
	assert.Equal(t, "https://static-cdn.jtvnw.net/previews-ttv/live_user_twitchdev-440x248.jpg", *snap.Stream.Thumbnail)

	require.NotNil(t, snap.Stream.ManifestURL)
	manifest, err := url.Parse(*snap.Stream.ManifestURL)
	require.NoError(t, err)
	assert.Equal(t, "/api/channel/hls/twitchdev.m3u8", manifest.Path)
	assert.Equal(t, "deadbeef", manifest.Query().Get("sig"))
	assert.Equal(t, `{"channel":"twitchdev"}`, manifest.Query().Get("token"))
}

func TestFetcher_SnapshotWithoutManifest(t *testing.T) {
	stub := &helixStub{}
	stub.live.Store(true)
	f := NewFetcher(newHelixServer(t, stub), newPlaybackServer(t, true), zerolog.Nop())

	snap, err := f.FetchSnapshot(context.Background(), "twitchdev")
	require.NoError(t, err)
	assert.True(t, snap.Live)
	assert.Nil(t, snap.Stream.ManifestURL)
}

func TestFetcher_FetchStream(t *testing.T) {
	stub := &helixStub{}
	stub.live.Store(true)
	f := NewFetcher(newHelixServer(t, stub), nil, zerolog.Nop())
	ctx := context.Background()

	snap, err := f.FetchStream(ctx, "twitchdev", "40952121085")
	require.NoError(t, err)
	assert.True(t, snap.Live)

	snap, err = f.FetchStream(ctx, "twitchdev", "older")
	require.NoError(t, err)
	assert.False(t, snap.Live)
	assert.Equal(t, "older", snap.Stream.VodID)

	stub.live.Store(false)
	snap, err = f.FetchStream(ctx, "twitchdev", "40952121085")
	require.NoError(t, err)
	assert.False(t, snap.Live)
}

func TestPlayback_MissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"data":{"streamPlaybackAccessToken":null}}]`)
	}))
	defer srv.Close()

	c := NewPlaybackClient(nil)
	c.GQLURL = srv.URL
	_, err := c.ManifestURL(context.Background(), "offline")
	assert.ErrorIs(t, err, ErrNoPlaybackToken)
}
