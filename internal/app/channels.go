package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/antlu/stream-monitor/internal/monitor"
)

// PrepareChannels connects every watchlist entry of an enabled platform.
// A channel that fails to connect is logged and skipped.
func (a *App) PrepareChannels(ctx context.Context) error {
	entries, err := a.watchlist.Load()
	if errors.Is(err, os.ErrNotExist) {
		a.log.Warn().Str("path", a.conf.Watchlist).Msg("Watchlist not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("error loading watchlist: %w", err)
	}

	var connected int
	for _, entry := range entries {
		platform := monitor.Platform(entry.Platform)
		if !a.enabled(platform) {
			a.log.Warn().Str("platform", entry.Platform).Str("channel", entry.Channel).Msg("Platform not enabled, skipping")
			continue
		}

		info, err := a.monitor.Connect(ctx, platform, entry.Channel)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.log.Error().Err(err).Str("platform", entry.Platform).Str("channel", entry.Channel).Msg("Error connecting channel")
			continue
		}
		connected++
		a.log.Debug().Str("platform", entry.Platform).Str("channel", info.Name).Str("user_id", info.UserID).Msg("Channel connected")
	}

	a.log.Info().Int("connected", connected).Int("total", len(entries)).Msg("Watchlist prepared")
	return nil
}

func (a *App) enabled(platform monitor.Platform) bool {
	for _, p := range a.platforms {
		if p == platform {
			return true
		}
	}
	return false
}
