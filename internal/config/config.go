package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/gookit/validate"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "SM"

type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"required|in:trace,debug,info,warn,error"`
	JSON  bool   `mapstructure:"json"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type CacheConfig struct {
	// Size in megabytes; 0 disables the identity cache.
	Size int           `mapstructure:"size" validate:"min:0"`
	TTL  time.Duration `mapstructure:"ttl"`
}

type StreamUpConfig struct {
	Delay    time.Duration `mapstructure:"delay" validate:"min:1"`
	Attempts int           `mapstructure:"attempts" validate:"min:1"`
}

type TwitchConfig struct {
	Enabled        bool              `mapstructure:"enabled"`
	ClientID       string            `mapstructure:"client_id"`
	ClientSecret   string            `mapstructure:"client_secret"`
	AccessToken    string            `mapstructure:"access_token"`
	PubSubURL      string            `mapstructure:"pubsub_url" validate:"required"`
	PingInterval   time.Duration     `mapstructure:"ping_interval" validate:"min:1"`
	ReconnectDelay time.Duration     `mapstructure:"reconnect_delay" validate:"min:1"`
	GQLHeaders     map[string]string `mapstructure:"gql_headers"`
}

type YouTubeConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	Interval    time.Duration     `mapstructure:"interval" validate:"min:1"`
	StreamDelay time.Duration     `mapstructure:"stream_delay" validate:"min:0"`
	Headers     map[string]string `mapstructure:"headers"`
}

type Config struct {
	Debug     bool           `mapstructure:"debug"`
	Watchlist string         `mapstructure:"watchlist"`
	Journal   string         `mapstructure:"journal"`
	SecretKey string         `mapstructure:"secret_key"`
	Logger    LoggerConfig   `mapstructure:"logger"`
	Metrics   MetricsConfig  `mapstructure:"metrics"`
	Cache     CacheConfig    `mapstructure:"cache"`
	StreamUp  StreamUpConfig `mapstructure:"stream_up"`
	Twitch    TwitchConfig   `mapstructure:"twitch"`
	YouTube   YouTubeConfig  `mapstructure:"youtube"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("watchlist", "")
	v.SetDefault("journal", "")
	v.SetDefault("secret_key", "")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", false)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("cache.size", 1)
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("stream_up.delay", time.Second)
	v.SetDefault("stream_up.attempts", 10)
	v.SetDefault("twitch.enabled", true)
	v.SetDefault("twitch.client_id", "")
	v.SetDefault("twitch.client_secret", "")
	v.SetDefault("twitch.access_token", "")
	v.SetDefault("twitch.pubsub_url", "wss://pubsub-edge.twitch.tv/v1")
	v.SetDefault("twitch.ping_interval", 3*time.Minute)
	v.SetDefault("twitch.reconnect_delay", time.Second)
	v.SetDefault("youtube.enabled", true)
	v.SetDefault("youtube.interval", 5*time.Second)
	v.SetDefault("youtube.stream_delay", time.Second)
}

// Load reads .env (when present), then the optional YAML file at path, then
// SM_* environment variables, e.g. SM_TWITCH_CLIENT_ID for twitch.client_id.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config %s: %w", path, err)
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Config) Validate() error {
	v := validate.Struct(c)
	if !v.Validate() {
		return fmt.Errorf("invalid config: %w", v.Errors)
	}

	if c.Twitch.Enabled {
		if c.Twitch.ClientID == "" {
			return errors.New("invalid config: twitch.client_id is required when twitch is enabled")
		}
		if c.Twitch.AccessToken == "" && c.Twitch.ClientSecret == "" {
			return errors.New("invalid config: twitch needs access_token or client_secret")
		}
	}
	if c.Twitch.ClientSecret != "" && c.Journal != "" && c.SecretKey == "" {
		return errors.New("invalid config: secret_key is required to store tokens in the journal")
	}
	if !c.Twitch.Enabled && !c.YouTube.Enabled {
		return errors.New("invalid config: no platform enabled")
	}
	return nil
}
