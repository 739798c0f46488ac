package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antlu/stream-monitor/internal/config"
	"github.com/antlu/stream-monitor/internal/journal"
	"github.com/antlu/stream-monitor/internal/monitor"
)

func writeConfig(t *testing.T) (configPath, watchlistPath string) {
	t.Helper()
	dir := t.TempDir()
	watchlistPath = filepath.Join(dir, "lists", "watchlist.csv")
	configPath = filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("watchlist: %s\ntwitch:\n  enabled: false\nyoutube:\n  enabled: true\n", watchlistPath)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath, watchlistPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestWatchAddAndList(t *testing.T) {
	conf, path := writeConfig(t)

	out, err := execute(t, "-c", conf, "watch", "add", "twitch", "SomeChannel")
	require.NoError(t, err)
	assert.Equal(t, "Added twitch/somechannel\n", out)

	out, err = execute(t, "-c", conf, "watch", "add", "twitch", "somechannel")
	require.NoError(t, err)
	assert.Equal(t, "twitch/somechannel is already watched\n", out)

	_, err = execute(t, "-c", conf, "watch", "add", "youtube", "@Creator")
	require.NoError(t, err)
	assert.FileExists(t, path)

	out, err = execute(t, "-c", conf, "watch", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "PLATFORM")
	assert.Contains(t, out, "SomeChannel")
	assert.Contains(t, out, "@Creator")
}

func TestWatchAdd_UnknownPlatform(t *testing.T) {
	conf, _ := writeConfig(t)
	_, err := execute(t, "-c", conf, "watch", "add", "kick", "someone")
	assert.ErrorIs(t, err, monitor.ErrUnknownPlatform)
}

func TestWatchList_Empty(t *testing.T) {
	conf, _ := writeConfig(t)
	out, err := execute(t, "-c", conf, "watch", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "PLATFORM")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	conf := &config.Config{Logger: config.LoggerConfig{Level: "warn", JSON: true}}
	log, err := NewLogger(&buf, conf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)

	conf.Debug = true
	log, err = NewLogger(&buf, conf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, log.GetLevel())

	conf.Logger.Level = "loud"
	_, err = NewLogger(&buf, conf)
	assert.Error(t, err)
}

func writeJournalConfig(t *testing.T) (configPath, journalPath string) {
	t.Helper()
	dir := t.TempDir()
	journalPath = filepath.Join(dir, "journal.sqlite3")
	configPath = filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("journal: %s\ntwitch:\n  enabled: false\nyoutube:\n  enabled: true\n", journalPath)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath, journalPath
}

func TestJournalCommands(t *testing.T) {
	conf, path := writeJournalConfig(t)

	j, err := journal.Open(path, zerolog.Nop())
	require.NoError(t, err)
	info := monitor.ChannelInfo{Platform: monitor.PlatformTwitch, Name: "somechannel", UserID: "1"}
	st := &monitor.Stream{ID: "s-1", VodID: "v1", Title: "hello", Categories: []monitor.Category{{Name: "Chess"}}, Viewers: 12}
	for _, e := range []monitor.Event{
		{Kind: monitor.EventConnected, Channel: info},
		{Kind: monitor.EventStreamUp, Channel: info, Stream: st},
		{Kind: monitor.EventViewCount, Channel: info, Stream: st, Viewers: 30},
		{Kind: monitor.EventStreamDown, Channel: info, Stream: st},
	} {
		e.Platform = monitor.PlatformTwitch
		require.NoError(t, j.Record(e))
	}
	require.NoError(t, j.Close())

	out, err := execute(t, "-c", conf, "journal", "channels", "twitch")
	require.NoError(t, err)
	assert.Equal(t, "somechannel\n", out)

	out, err = execute(t, "-c", conf, "journal", "streams", "twitch", "SomeChannel")
	require.NoError(t, err)
	assert.Contains(t, out, "VOD")
	assert.Regexp(t, `v1\s+hello\s+Chess\s+30\s+true`, out)

	out, err = execute(t, "-c", conf, "journal", "events", "twitch", "somechannel")
	require.NoError(t, err)
	assert.Equal(t, "connected\nstreamUp\nviewCount\nstreamDown\n", out)
}

func TestJournalCommands_NotConfigured(t *testing.T) {
	conf, _ := writeConfig(t)
	_, err := execute(t, "-c", conf, "journal", "channels", "twitch")
	assert.EqualError(t, err, "journal path is not configured")
}
