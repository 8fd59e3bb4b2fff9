package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "HUDDLE_RELAY_LISTEN_ADDR"
	envVarAuthServerURL   = "HUDDLE_RELAY_AUTH_SERVER_URL"
	envVarLogFormat       = "HUDDLE_RELAY_LOG_FORMAT"
	envVarLogLevel        = "HUDDLE_RELAY_LOG_LEVEL"
	envVarMode            = "HUDDLE_RELAY_MODE"
	envVarShutdownTimeout = "HUDDLE_RELAY_SHUTDOWN_TIMEOUT"

	// Room/relay knobs.
	envVarMaxParticipantsPerRoom = "MAX_PARTICIPANTS_PER_ROOM"
	envVarMaxMessagesPerSecond   = "MAX_MESSAGES_PER_SECOND"
	envVarRoomIdleTTL            = "ROOM_IDLE_TTL"
	envVarRoomSweepInterval      = "ROOM_SWEEP_INTERVAL"
	envVarMaxMessageBytes        = "MAX_MESSAGE_BYTES"

	// Authentication Service boundary.
	envVarPublicKeyCacheTTL = "PUBLIC_KEY_CACHE_TTL"
	envVarKeyFetchTimeout   = "KEY_FETCH_TIMEOUT"

	DefaultListenAddr             = "127.0.0.1:8080"
	DefaultAuthServerURL          = "http://127.0.0.1:8081"
	DefaultShutdown               = 15 * time.Second
	DefaultMode              Mode = ModeDev
	DefaultMaxParticipants        = 4
	DefaultMaxMessagesPerSec      = 50
	DefaultRoomIdleTTL            = 2 * time.Hour
	DefaultRoomSweepInterval      = 60 * time.Second
	DefaultPublicKeyCacheTTL      = 60 * time.Second
	DefaultKeyFetchTimeout        = 5 * time.Second
	// DefaultMaxMessageBytes caps a single inbound WebSocket frame. SDP offers
	// with many ICE candidates can get large, but 2MiB is far beyond any
	// legitimate signaling payload.
	DefaultMaxMessageBytes = int64(2 * 1024 * 1024)
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	AuthServerURL   string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// Room/relay limits. Values <= 0 are rejected by Load; the relay has no
	// "unlimited" mode for these.
	MaxParticipantsPerRoom int
	MaxMessagesPerSecond   int
	RoomIdleTTL            time.Duration
	RoomSweepInterval      time.Duration
	MaxMessageBytes        int64

	// Verification key caching for the Authentication Service.
	PublicKeyCacheTTL time.Duration
	KeyFetchTimeout   time.Duration
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	logFormatDefault := envLogFormat
	if !envLogFormatOK || envLogFormat == "" {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	logLevelDefault := envLogLevel
	if !envLogLevelOK || envLogLevel == "" {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	authServerURL := envOrDefault(lookup, envVarAuthServerURL, DefaultAuthServerURL)

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	roomIdleTTL, err := envDurationOrDefault(lookup, envVarRoomIdleTTL, DefaultRoomIdleTTL)
	if err != nil {
		return Config{}, err
	}
	roomSweepInterval, err := envDurationOrDefault(lookup, envVarRoomSweepInterval, DefaultRoomSweepInterval)
	if err != nil {
		return Config{}, err
	}
	publicKeyCacheTTL, err := envDurationOrDefault(lookup, envVarPublicKeyCacheTTL, DefaultPublicKeyCacheTTL)
	if err != nil {
		return Config{}, err
	}
	keyFetchTimeout, err := envDurationOrDefault(lookup, envVarKeyFetchTimeout, DefaultKeyFetchTimeout)
	if err != nil {
		return Config{}, err
	}
	maxParticipants, err := envIntOrDefault(lookup, envVarMaxParticipantsPerRoom, DefaultMaxParticipants)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSec)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes, err := envIntOrDefault(lookup, envVarMaxMessageBytes, int(DefaultMaxMessageBytes))
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("huddle-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port; env "+envVarListenAddr+")")
	fs.StringVar(&authServerURL, "auth-server-url", authServerURL, "Base URL of the Authentication Service (env "+envVarAuthServerURL+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.IntVar(&maxParticipants, "max-participants-per-room", maxParticipants, "Maximum members per room (env "+envVarMaxParticipantsPerRoom+")")
	fs.IntVar(&maxMessagesPerSecond, "max-messages-per-second", maxMessagesPerSecond, "Max inbound messages per second per connection (env "+envVarMaxMessagesPerSecond+")")
	fs.DurationVar(&roomIdleTTL, "room-idle-ttl", roomIdleTTL, "Evict rooms with no traffic for this duration (env "+envVarRoomIdleTTL+")")
	fs.DurationVar(&roomSweepInterval, "room-sweep-interval", roomSweepInterval, "How often the idle reaper scans for expired rooms (env "+envVarRoomSweepInterval+")")
	fs.IntVar(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Max inbound WebSocket message size in bytes (env "+envVarMaxMessageBytes+")")
	fs.DurationVar(&publicKeyCacheTTL, "public-key-cache-ttl", publicKeyCacheTTL, "How long the fetched verification key stays fresh (env "+envVarPublicKeyCacheTTL+")")
	fs.DurationVar(&keyFetchTimeout, "key-fetch-timeout", keyFetchTimeout, "Request timeout for fetching the verification key (env "+envVarKeyFetchTimeout+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:             listenAddr,
		AuthServerURL:          strings.TrimRight(authServerURL, "/"),
		Mode:                   mode,
		LogFormat:              logFormat,
		LogLevel:               logLevel,
		ShutdownTimeout:        shutdownTimeout,
		MaxParticipantsPerRoom: maxParticipants,
		MaxMessagesPerSecond:   maxMessagesPerSecond,
		RoomIdleTTL:            roomIdleTTL,
		RoomSweepInterval:      roomSweepInterval,
		MaxMessageBytes:        int64(maxMessageBytes),
		PublicKeyCacheTTL:      publicKeyCacheTTL,
		KeyFetchTimeout:        keyFetchTimeout,
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	u, err := url.Parse(c.AuthServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid auth server url %q", c.AuthServerURL)
	}
	if c.MaxParticipantsPerRoom <= 0 {
		return fmt.Errorf("max participants per room must be positive, got %d", c.MaxParticipantsPerRoom)
	}
	if c.MaxMessagesPerSecond <= 0 {
		return fmt.Errorf("max messages per second must be positive, got %d", c.MaxMessagesPerSecond)
	}
	if c.RoomIdleTTL <= 0 {
		return fmt.Errorf("room idle ttl must be positive, got %s", c.RoomIdleTTL)
	}
	if c.RoomSweepInterval <= 0 {
		return fmt.Errorf("room sweep interval must be positive, got %s", c.RoomSweepInterval)
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("max message bytes must be positive, got %d", c.MaxMessageBytes)
	}
	if c.PublicKeyCacheTTL <= 0 {
		return fmt.Errorf("public key cache ttl must be positive, got %s", c.PublicKeyCacheTTL)
	}
	if c.KeyFetchTimeout <= 0 {
		return fmt.Errorf("key fetch timeout must be positive, got %s", c.KeyFetchTimeout)
	}
	return nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("unsupported mode %q", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported log format %q", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", raw)
	}
}
