package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/antlu/stream-monitor/internal/config"
	"github.com/antlu/stream-monitor/internal/monitor"
	"github.com/antlu/stream-monitor/internal/watchlist"
)

func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Manage the watchlist file",
	}
	cmd.AddCommand(newWatchAddCmd(), newWatchListCmd())
	return cmd
}

func openWatchlist(cmd *cobra.Command) (*watchlist.File, error) {
	conf, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, err
	}
	if conf.Watchlist == "" {
		return nil, errors.New("watchlist path is not configured")
	}
	return watchlist.New(conf.Watchlist, zerolog.Nop()), nil
}

func parsePlatform(s string) (monitor.Platform, error) {
	switch p := monitor.Platform(s); p {
	case monitor.PlatformTwitch, monitor.PlatformYouTube:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %s", monitor.ErrUnknownPlatform, s)
	}
}

func newWatchAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <platform> <channel>",
		Short: "Add a channel to the watchlist",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, err := parsePlatform(args[0])
			if err != nil {
				return err
			}
			wl, err := openWatchlist(cmd)
			if err != nil {
				return err
			}

			added, err := wl.Add(platform, args[1])
			if err != nil {
				return err
			}
			name := monitor.NormalizeName(platform, args[1])
			if added {
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s/%s\n", platform, name)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s/%s is already watched\n", platform, name)
			}
			return nil
		},
	}
}

func newWatchListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print the watchlist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wl, err := openWatchlist(cmd)
			if err != nil {
				return err
			}
			entries, err := wl.Load()
			if errors.Is(err, os.ErrNotExist) {
				entries, err = nil, nil
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PLATFORM\tCHANNEL\tLAST LIVE")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.Platform, e.Channel, e.LastLive)
			}
			return w.Flush()
		},
	}
}
