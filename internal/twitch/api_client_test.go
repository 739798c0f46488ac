package twitch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antlu/stream-monitor/internal/monitor"
)

// newAuthHelixServer serves /users only to bearer tokens the oauth stub
// still considers valid.
func newAuthHelixServer(t *testing.T, oauth *oauthStub, requests *atomic.Int32) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		oauth.mu.Lock()
		ok := oauth.valid[token]
		oauth.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":"Unauthorized","status":401,"message":"Invalid OAuth token"}`)
			return
		}
		io.WriteString(w, `{"data":[{"id":"141981764","login":"twitchdev"}]}`)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestApiClient_RefreshesRejectedToken(t *testing.T) {
	oauth := &oauthStub{}
	tm := newTestTokenManager(newOAuthServer(t, oauth), nil, "")
	ctx := context.Background()

	token, err := tm.AccessToken(ctx)
	require.NoError(t, err)

	var requests atomic.Int32
	api, err := NewApiClient(ApiOptions{
		ClientID:    "client",
		AccessToken: token,
		Tokens:      tm,
		BaseURL:     newAuthHelixServer(t, oauth, &requests),
	})
	require.NoError(t, err)

	id, err := api.GetUserID(ctx, "twitchdev")
	require.NoError(t, err)
	assert.Equal(t, "141981764", id)
	assert.Equal(t, int32(1), requests.Load())

	oauth.revoke(token)

	id, err = api.GetUserID(ctx, "twitchdev")
	require.NoError(t, err)
	assert.Equal(t, "141981764", id)
	assert.Equal(t, int32(3), requests.Load(), "rejected request is retried once")
	assert.Equal(t, int32(2), oauth.issued.Load())

	id, err = api.GetUserID(ctx, "twitchdev")
	require.NoError(t, err)
	assert.Equal(t, "141981764", id)
	assert.Equal(t, int32(4), requests.Load(), "refreshed token is kept")
}

func TestApiClient_UnauthorizedWithoutTokenSource(t *testing.T) {
	oauth := &oauthStub{}
	newOAuthServer(t, oauth)

	var requests atomic.Int32
	api, err := NewApiClient(ApiOptions{
		ClientID:    "client",
		AccessToken: "static",
		BaseURL:     newAuthHelixServer(t, oauth, &requests),
	})
	require.NoError(t, err)

	_, err = api.GetUserID(context.Background(), "twitchdev")
	require.Error(t, err)
	assert.NotErrorIs(t, err, monitor.ErrNetwork)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), requests.Load())
}
