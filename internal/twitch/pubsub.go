package twitch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/antlu/stream-monitor/internal/monitor"
)

const (
	PubSubURL   = "wss://pubsub-edge.twitch.tv/v1"
	PingMessage = `{"type":"PING"}`

	topicPlayback = "video-playback-by-id"
	topicSettings = "broadcast-settings-update"
)

type outgoingMessage struct {
	Type  string `json:"type"`
	Nonce string `json:"nonce"`
	Data  struct {
		Topics []string `json:"topics"`
	} `json:"data"`
}

type incomingMessage struct {
	Type  string `json:"type"`
	Nonce string `json:"nonce"`
	Error string `json:"error"`
	Data  struct {
		Topic   string `json:"topic"`
		Message string `json:"message"`
	} `json:"data"`
}

type playbackMessage struct {
	Type       string  `json:"type"`
	ServerTime float64 `json:"server_time"`
	Viewers    int     `json:"viewers"`
}

type settingsMessage struct {
	ChannelID string          `json:"channel_id"`
	Channel   string          `json:"channel"`
	Status    *string         `json:"status"`
	OldStatus *string         `json:"old_status"`
	Game      *string         `json:"game"`
	OldGame   *string         `json:"old_game"`
	GameID    json.RawMessage `json:"game_id"`
}

// PubSubProtocol speaks the Twitch PubSub dialect: one LISTEN per topic with a
// fresh nonce, messages wrapped in a topic envelope.
type PubSubProtocol struct {
	newNonce func() string
}

func NewPubSubProtocol() *PubSubProtocol {
	return &PubSubProtocol{newNonce: func() string {
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}}
}

func topics(userID string) []string {
	return []string{topicSettings + "." + userID, topicPlayback + "." + userID}
}

func (p *PubSubProtocol) requests(kind, userID string) []monitor.PushRequest {
	var reqs []monitor.PushRequest
	for _, topic := range topics(userID) {
		msg := outgoingMessage{Type: kind, Nonce: p.newNonce()}
		msg.Data.Topics = []string{topic}
		text, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		reqs = append(reqs, monitor.PushRequest{Nonce: msg.Nonce, Text: string(text)})
	}
	return reqs
}

func (p *PubSubProtocol) Subscribe(userID string) []monitor.PushRequest {
	return p.requests("LISTEN", userID)
}

func (p *PubSubProtocol) Unsubscribe(userID string) []monitor.PushRequest {
	return p.requests("UNLISTEN", userID)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", monitor.ErrMalformedMessage, fmt.Sprintf(format, args...))
}

func (p *PubSubProtocol) Decode(text string) (monitor.PushMessage, error) {
	var msg incomingMessage
	if err := json.Unmarshal([]byte(text), &msg); err != nil {
		return monitor.PushMessage{}, malformed("envelope: %v", err)
	}

	switch msg.Type {
	case "PONG":
		return monitor.PushMessage{Kind: monitor.PushIgnored}, nil
	case "RESPONSE":
		return monitor.PushMessage{Kind: monitor.PushAck, Nonce: msg.Nonce, Error: msg.Error}, nil
	case "RECONNECT":
		return monitor.PushMessage{Kind: monitor.PushReconnect}, nil
	case "MESSAGE":
	default:
		return monitor.PushMessage{}, malformed("unknown type %q", msg.Type)
	}

	topic, userID, ok := strings.Cut(msg.Data.Topic, ".")
	if !ok || userID == "" {
		return monitor.PushMessage{}, malformed("topic %q", msg.Data.Topic)
	}

	switch topic {
	case topicPlayback:
		return decodePlayback(userID, msg.Data.Message)
	case topicSettings:
		return decodeSettings(userID, msg.Data.Message)
	}
	return monitor.PushMessage{Kind: monitor.PushIgnored}, nil
}

func decodePlayback(userID, text string) (monitor.PushMessage, error) {
	var msg playbackMessage
	if err := json.Unmarshal([]byte(text), &msg); err != nil {
		return monitor.PushMessage{}, malformed("playback message: %v", err)
	}

	switch msg.Type {
	case "stream-up":
		return monitor.PushMessage{Kind: monitor.PushStreamUp, UserID: userID}, nil
	case "stream-down":
		return monitor.PushMessage{Kind: monitor.PushStreamDown, UserID: userID}, nil
	case "viewcount":
		return monitor.PushMessage{Kind: monitor.PushViewers, UserID: userID, Viewers: msg.Viewers}, nil
	}
	// commercial, watchparty-vod and friends
	return monitor.PushMessage{Kind: monitor.PushIgnored, UserID: userID}, nil
}

func decodeSettings(userID, text string) (monitor.PushMessage, error) {
	var msg settingsMessage
	if err := json.Unmarshal([]byte(text), &msg); err != nil {
		return monitor.PushMessage{}, malformed("settings message: %v", err)
	}

	out := monitor.PushMessage{Kind: monitor.PushSettings, UserID: userID}
	if msg.Status != nil && (msg.OldStatus == nil || *msg.Status != *msg.OldStatus) {
		out.Title = msg.Status
	}
	if msg.Game != nil && (msg.OldGame == nil || *msg.Game != *msg.OldGame) {
		gameID := rawID(msg.GameID)
		out.Category = &monitor.Category{ID: gameID, Name: *msg.Game, Image: BoxArtURL(gameID)}
	}
	return out, nil
}

// rawID accepts the game id as either a JSON number or string.
func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if unquoted, err := strconv.Unquote(s); err == nil {
		return unquoted
	}
	if s == "null" {
		return ""
	}
	return s
}
