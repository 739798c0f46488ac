package monitor

import "github.com/google/uuid"

// Store applies stream updates to channels and derives the events that
// describe each change.
type Store struct {
	newID func() string
}

func NewStore() *Store {
	return &Store{newID: uuid.NewString}
}

// Apply merges u into the stream u.VodID of ch. It returns a copy of the
// resulting stream (nil when the stream ended or was unknown) and the events
// to emit, in order. Emitting is left to the caller so that listeners never
// run under the channel lock.
func (s *Store) Apply(ch *Channel, u StreamUpdate) (*Stream, []Event) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	info := ChannelInfo{Platform: ch.Platform, Name: ch.Name, UserID: ch.UserID, Monitoring: ch.Monitoring}
	event := func(kind EventKind, st *Stream) Event {
		return Event{Kind: kind, Platform: ch.Platform, Channel: info, Stream: st.clone()}
	}

	old, exists := ch.streams[u.VodID]

	if u.State == StateEnded {
		if !exists {
			return nil, nil
		}
		delete(ch.streams, u.VodID)
		return nil, []Event{event(EventStreamDown, old)}
	}

	merged := u.merge(old)

	if !exists {
		merged.ID = s.newID()
		ch.streams[u.VodID] = merged
		return merged.clone(), []Event{event(EventStreamUp, merged)}
	}

	ch.streams[u.VodID] = merged

	var events []Event
	if merged.Title != old.Title {
		ev := event(EventTitle, merged)
		ev.Title = merged.Title
		events = append(events, ev)
	}
	if merged.Viewers != old.Viewers {
		ev := event(EventViewCount, merged)
		ev.Viewers = merged.Viewers
		ev.ViewerDelta = merged.Viewers - old.Viewers
		events = append(events, ev)
	}
	if len(merged.Categories) > len(old.Categories) {
		ev := event(EventCategory, merged)
		ev.Category = merged.Category()
		events = append(events, ev)
	}
	if merged.Thumbnail != old.Thumbnail {
		ev := event(EventThumbnail, merged)
		ev.Thumbnail = merged.Thumbnail
		events = append(events, ev)
	}
	return merged.clone(), events
}
