package watchlist

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog"

	"github.com/antlu/stream-monitor/internal/monitor"
)

// Entry is one row of the watchlist CSV file.
type Entry struct {
	Platform string `csv:"platform"`
	Channel  string `csv:"channel"`
	LastLive string `csv:"last_live"`
}

// File is a CSV list of channels to connect at startup. It also records
// when each channel was last seen going live.
type File struct {
	path string
	log  zerolog.Logger
	now  func() time.Time

	mu sync.Mutex
}

func New(path string, log zerolog.Logger) *File {
	return &File{
		path: path,
		log:  log.With().Str("component", "watchlist").Logger(),
		now:  time.Now,
	}
}

func (f *File) Load() ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read()
}

func (f *File) read() ([]Entry, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	entries := []Entry{}
	if err := gocsv.UnmarshalFile(file, &entries); err != nil && !errors.Is(err, gocsv.ErrEmptyCSVFile) {
		return nil, fmt.Errorf("error reading watchlist %s: %w", f.path, err)
	}

	valid := entries[:0]
	for _, e := range entries {
		e.Platform = strings.ToLower(strings.TrimSpace(e.Platform))
		e.Channel = strings.TrimSpace(e.Channel)
		if e.Channel == "" {
			continue
		}
		valid = append(valid, e)
	}
	return valid, nil
}

// Add appends a channel unless the list already has it, creating the file
// when missing.
func (f *File) Add(platform monitor.Platform, channel string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.read()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	for _, e := range entries {
		if e.Platform == string(platform) && monitor.NormalizeName(platform, e.Channel) == monitor.NormalizeName(platform, channel) {
			return false, nil
		}
	}

	entries = append(entries, Entry{Platform: string(platform), Channel: channel})
	return true, f.write(entries)
}

// MarkLive stamps the channel's row with at.
func (f *File) MarkLive(platform monitor.Platform, channel string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.read()
	if err != nil {
		return err
	}

	found := false
	for i, e := range entries {
		if e.Platform == string(platform) && monitor.NormalizeName(platform, e.Channel) == channel {
			entries[i].LastLive = at.UTC().Format(time.RFC3339)
			found = true
		}
	}
	if !found {
		return nil
	}
	return f.write(entries)
}

func (f *File) write(entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(f.path), os.ModePerm); err != nil {
		return err
	}
	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return gocsv.MarshalFile(&entries, file)
}

// Listener stamps channels on every stream-up event.
func (f *File) Listener() monitor.Listener {
	return func(e monitor.Event) {
		if e.Kind != monitor.EventStreamUp {
			return
		}
		if err := f.MarkLive(e.Platform, e.Channel.Name, f.now()); err != nil {
			f.log.Warn().Err(err).Str("channel", e.Channel.Name).Msg("Error updating watchlist")
			return
		}
		f.log.Debug().Str("channel", e.Channel.Name).Msg("Updated watchlist")
	}
}
