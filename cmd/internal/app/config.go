package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/broker"
	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/longpoll"
	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/producer"
	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/realtime"
	"github.com/Karen86Tonoyan/automatzyacja/cmd/internal/stream"
)

// EnvPrefix is prepended to every variable name read by LoadConfig.
const EnvPrefix = "COMET_"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	LogColor  bool   `env:"LOG_COLOR" envDefault:"false"`

	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	// Zero keeps held polls and event streams from being cut by the server.
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxHeaderBytes  int           `env:"HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`
	MaxBodyBytes    int64         `env:"HTTP_MAX_BODY_BYTES" envDefault:"1048576"`

	CORSAllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS" envDefault:"false"`
	CORSMaxAgeSeconds    int      `env:"CORS_MAX_AGE_SECONDS" envDefault:"600"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`

	Broker   BrokerConfig   `envPrefix:"BROKER_"`
	Socket   SocketConfig   `envPrefix:"WS_"`
	Producer ProducerConfig `envPrefix:"PRODUCER_"`
}

// BrokerConfig covers the message store and the HTTP delivery transports.
type BrokerConfig struct {
	RetentionMax  int `env:"RETENTION_MAX" envDefault:"1000"`
	RetentionKeep int `env:"RETENTION_KEEP" envDefault:"500"`

	PollDefaultTimeout time.Duration `env:"POLL_DEFAULT_TIMEOUT" envDefault:"25s"`
	PollMaxTimeout     time.Duration `env:"POLL_MAX_TIMEOUT" envDefault:"60s"`

	StreamKeepAlive  time.Duration `env:"STREAM_KEEPALIVE" envDefault:"15s"`
	StreamQueueSize  int           `env:"STREAM_QUEUE_SIZE" envDefault:"64"`
	StreamRetryDelay time.Duration `env:"STREAM_RETRY" envDefault:"3s"`
}

// SocketConfig covers the websocket gateway.
type SocketConfig struct {
	DevInsecure    bool     `env:"DEV_INSECURE" envDefault:"false"`
	OriginRequired bool     `env:"ORIGIN_REQUIRED" envDefault:"false"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	ReadIdleTimeout   time.Duration `env:"READ_IDLE_TIMEOUT" envDefault:"60s"`
	SendQueueSize     int           `env:"SEND_QUEUE" envDefault:"64"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"25s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"5s"`
	RateEvents        int           `env:"RATE_EVENTS" envDefault:"20"`
	RateWindow        time.Duration `env:"RATE_WINDOW" envDefault:"1s"`
}

// ProducerConfig selects the model behind socket runs and POST /send.
type ProducerConfig struct {
	Provider     string        `env:"PROVIDER" envDefault:"echo"`
	Model        string        `env:"MODEL"`
	APIKey       string        `env:"API_KEY"`
	BaseURL      string        `env:"BASE_URL"`
	SystemPrompt string        `env:"SYSTEM_PROMPT"`
	MemoryTurns  int           `env:"MEMORY_TURNS" envDefault:"20"`
	SendTimeout  time.Duration `env:"SEND_TIMEOUT" envDefault:"60s"`
	Disabled     bool          `env:"DISABLED" envDefault:"false"`
}

// LoadConfig reads .env (when present) and parses COMET_* variables.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return ParseConfig(nil)
}

// ParseConfig parses configuration from the process environment, or from
// vars when it is non-nil.
func ParseConfig(vars map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: EnvPrefix}
	if vars != nil {
		opts.Environment = vars
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations that would make the server misbehave.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("config: HTTP_ADDR is empty")
	}
	if !c.Broker.retention().Valid() {
		return fmt.Errorf("config: retention keep=%d must be positive and below max=%d",
			c.Broker.RetentionKeep, c.Broker.RetentionMax)
	}
	if c.Broker.PollMaxTimeout > 0 && c.Broker.PollDefaultTimeout > c.Broker.PollMaxTimeout {
		return fmt.Errorf("config: poll default timeout %s exceeds max %s",
			c.Broker.PollDefaultTimeout, c.Broker.PollMaxTimeout)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "json", "pretty", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	return nil
}

func (b BrokerConfig) retention() broker.Retention {
	return broker.Retention{Max: b.RetentionMax, Keep: b.RetentionKeep}
}

func (b BrokerConfig) longPoll() longpoll.Config {
	return longpoll.Config{
		DefaultTimeout: b.PollDefaultTimeout,
		MaxTimeout:     b.PollMaxTimeout,
	}
}

func (b BrokerConfig) stream() stream.Config {
	return stream.Config{
		KeepAlive:  b.StreamKeepAlive,
		QueueSize:  b.StreamQueueSize,
		RetryDelay: b.StreamRetryDelay,
	}
}

func (s SocketConfig) gateway() realtime.Config {
	return realtime.Config{
		DevInsecure:       s.DevInsecure,
		OriginRequired:    s.OriginRequired,
		AllowedOrigins:    s.AllowedOrigins,
		WriteTimeout:      s.WriteTimeout,
		ReadIdleTimeout:   s.ReadIdleTimeout,
		SendQueueSize:     s.SendQueueSize,
		HeartbeatInterval: s.HeartbeatInterval,
		HeartbeatTimeout:  s.HeartbeatTimeout,
		RateEvents:        s.RateEvents,
		RateWindow:        s.RateWindow,
	}
}

func (p ProducerConfig) model() producer.Config {
	return producer.Config{
		Provider:     p.Provider,
		Model:        p.Model,
		APIKey:       p.APIKey,
		BaseURL:      p.BaseURL,
		SystemPrompt: p.SystemPrompt,
		MemoryTurns:  p.MemoryTurns,
	}
}
