package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/antlu/stream-monitor/internal/config"
	"github.com/antlu/stream-monitor/internal/journal"
	"github.com/antlu/stream-monitor/internal/monitor"
)

func NewJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Query the event journal",
	}
	cmd.AddCommand(newJournalChannelsCmd(), newJournalStreamsCmd(), newJournalEventsCmd())
	return cmd
}

func openJournal(cmd *cobra.Command) (*journal.Journal, error) {
	conf, err := config.Load(configPath(cmd))
	if err != nil {
		return nil, err
	}
	if conf.Journal == "" {
		return nil, errors.New("journal path is not configured")
	}
	return journal.Open(conf.Journal, zerolog.Nop())
}

// channelArgs parses "<platform> <channel>" into a platform and the name the
// monitor records it under.
func channelArgs(args []string) (monitor.Platform, string, error) {
	platform, err := parsePlatform(args[0])
	if err != nil {
		return "", "", err
	}
	return platform, monitor.NormalizeName(platform, args[1]), nil
}

func newJournalChannelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels <platform>",
		Short: "Print channels connected in the last run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, err := parsePlatform(args[0])
			if err != nil {
				return err
			}
			j, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer j.Close()

			names, err := j.Connected(platform)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newJournalStreamsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "streams <platform> <channel>",
		Short: "Print recorded streams of a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, name, err := channelArgs(args)
			if err != nil {
				return err
			}
			j, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer j.Close()

			records, err := j.Streams(platform, name)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VOD\tTITLE\tCATEGORY\tPEAK\tENDED")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\n", r.VodID, r.Title, r.Category, r.PeakViewers, r.Ended)
			}
			return w.Flush()
		},
	}
}

func newJournalEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <platform> <channel>",
		Short: "Print recorded event kinds of a channel in order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, name, err := channelArgs(args)
			if err != nil {
				return err
			}
			j, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer j.Close()

			kinds, err := j.EventKinds(platform, name)
			if err != nil {
				return err
			}
			for _, kind := range kinds {
				fmt.Fprintln(cmd.OutOrStdout(), kind)
			}
			return nil
		},
	}
}
