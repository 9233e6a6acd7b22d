package gearapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Redis          RedisConfig
	HTTPServer     HTTPServerConfig
	GorillaWS      GorillaWsConfig
	Discord        DiscordConfig
	Bridge         BridgeConfig
	Domain         string
	Secure         bool
	AllowedOrigins []string
	LogLevel       string
	Development    bool
}

type RedisConfig struct {
	Addr     string
	PoolSize int
}

type GorillaWsConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	WriteTimeout    time.Duration
	MaxMessageSize  int64
}

type HTTPServerConfig struct {
	Address              string
	Port                 int
	ReadTimeoutInSecond  int
	WriteTimeoutInSecond int
}

type DiscordConfig struct {
	ApplicationID uint64
	ClientSecret  string
	RedirectURI   string
	// APIBase is overridable for tests.
	APIBase string
}

type BridgeConfig struct {
	OutboundChannel string
	InboundChannel  string
	CallTimeout     time.Duration
	TeamInfoTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Redis: RedisConfig{PoolSize: 5},
		HTTPServer: HTTPServerConfig{
			Address:              "127.0.0.1",
			Port:                 5000,
			ReadTimeoutInSecond:  10,
			WriteTimeoutInSecond: 10,
		},
		GorillaWS: GorillaWsConfig{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			WriteTimeout:    10 * time.Second,
			MaxMessageSize:  8192,
		},
		Discord: DiscordConfig{APIBase: defaultDiscordAPIBase},
		Bridge: BridgeConfig{
			OutboundChannel: DefaultOutboundChannel,
			InboundChannel:  DefaultInboundChannel,
			CallTimeout:     DefaultCallTimeout,
			TeamInfoTimeout: DefaultTeamInfoTimeout,
		},
		LogLevel: "info",
	}
}

// config.toml keys
type fileConfig struct {
	Redis              string   `toml:"redis"`
	RedisPoolSize      int      `toml:"redis_pool_size"`
	Address            string   `toml:"address"`
	Port               int      `toml:"port"`
	ReadTimeoutSecs    int      `toml:"read_timeout_secs"`
	WriteTimeoutSecs   int      `toml:"write_timeout_secs"`
	ApplicationID      uint64   `toml:"application_id"`
	ClientSecret       string   `toml:"client_secret"`
	RedirectURI        string   `toml:"redirect_uri"`
	DiscordAPIBase     string   `toml:"discord_api_base"`
	Domain             string   `toml:"domain"`
	Secure             bool     `toml:"secure"`
	AllowedOrigins     []string `toml:"allowed_origins"`
	OutboundChannel    string   `toml:"outbound_channel"`
	InboundChannel     string   `toml:"inbound_channel"`
	CallTimeoutSecs    int      `toml:"call_timeout_secs"`
	TeamInfoTimeoutSec int      `toml:"team_info_timeout_secs"`
	WSReadBufferSize   int      `toml:"ws_read_buffer_size"`
	WSWriteBufferSize  int      `toml:"ws_write_buffer_size"`
	WSWriteTimeoutSecs int      `toml:"ws_write_timeout_secs"`
	WSMaxMessageSize   int64    `toml:"ws_max_message_size"`
	LogLevel           string   `toml:"log_level"`
	Development        bool     `toml:"development"`
}

// LoadConfig reads a TOML file and overlays the keys it defines on DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("redis") {
		cfg.Redis.Addr = strings.TrimSpace(raw.Redis)
	}
	if meta.IsDefined("redis_pool_size") {
		cfg.Redis.PoolSize = raw.RedisPoolSize
	}
	if meta.IsDefined("address") {
		cfg.HTTPServer.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("port") {
		cfg.HTTPServer.Port = raw.Port
	}
	if meta.IsDefined("read_timeout_secs") {
		cfg.HTTPServer.ReadTimeoutInSecond = raw.ReadTimeoutSecs
	}
	if meta.IsDefined("write_timeout_secs") {
		cfg.HTTPServer.WriteTimeoutInSecond = raw.WriteTimeoutSecs
	}
	if meta.IsDefined("application_id") {
		cfg.Discord.ApplicationID = raw.ApplicationID
	}
	if meta.IsDefined("client_secret") {
		cfg.Discord.ClientSecret = strings.TrimSpace(raw.ClientSecret)
	}
	if meta.IsDefined("redirect_uri") {
		cfg.Discord.RedirectURI = strings.TrimSpace(raw.RedirectURI)
	}
	if meta.IsDefined("discord_api_base") {
		cfg.Discord.APIBase = strings.TrimRight(strings.TrimSpace(raw.DiscordAPIBase), "/")
	}
	if meta.IsDefined("domain") {
		cfg.Domain = strings.TrimSpace(raw.Domain)
	}
	if meta.IsDefined("secure") {
		cfg.Secure = raw.Secure
	}
	if meta.IsDefined("allowed_origins") {
		cfg.AllowedOrigins = raw.AllowedOrigins
	}
	if meta.IsDefined("outbound_channel") {
		cfg.Bridge.OutboundChannel = strings.TrimSpace(raw.OutboundChannel)
	}
	if meta.IsDefined("inbound_channel") {
		cfg.Bridge.InboundChannel = strings.TrimSpace(raw.InboundChannel)
	}
	if meta.IsDefined("call_timeout_secs") {
		cfg.Bridge.CallTimeout = time.Duration(raw.CallTimeoutSecs) * time.Second
	}
	if meta.IsDefined("team_info_timeout_secs") {
		cfg.Bridge.TeamInfoTimeout = time.Duration(raw.TeamInfoTimeoutSec) * time.Second
	}
	if meta.IsDefined("ws_read_buffer_size") {
		cfg.GorillaWS.ReadBufferSize = raw.WSReadBufferSize
	}
	if meta.IsDefined("ws_write_buffer_size") {
		cfg.GorillaWS.WriteBufferSize = raw.WSWriteBufferSize
	}
	if meta.IsDefined("ws_write_timeout_secs") {
		cfg.GorillaWS.WriteTimeout = time.Duration(raw.WSWriteTimeoutSecs) * time.Second
	}
	if meta.IsDefined("ws_max_message_size") {
		cfg.GorillaWS.MaxMessageSize = raw.WSMaxMessageSize
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("development") {
		cfg.Development = raw.Development
	}

	if err := ValidateConfig(cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func ValidateConfig(cfg Config) error {
	var errs []error
	if cfg.Redis.Addr == "" {
		errs = append(errs, errors.New("redis is required"))
	}
	if cfg.Discord.ApplicationID == 0 {
		errs = append(errs, errors.New("application_id is required"))
	}
	if cfg.Discord.ClientSecret == "" {
		errs = append(errs, errors.New("client_secret is required"))
	}
	if cfg.Discord.RedirectURI == "" {
		errs = append(errs, errors.New("redirect_uri is required"))
	}
	if cfg.Domain == "" {
		errs = append(errs, errors.New("domain is required"))
	}
	if cfg.HTTPServer.Port <= 0 || cfg.HTTPServer.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", cfg.HTTPServer.Port))
	}
	if cfg.Bridge.CallTimeout <= 0 || cfg.Bridge.TeamInfoTimeout <= 0 {
		errs = append(errs, errors.New("call timeouts must be positive"))
	}
	if cfg.Bridge.OutboundChannel == "" || cfg.Bridge.InboundChannel == "" {
		errs = append(errs, errors.New("broker channel names must not be empty"))
	}
	return errors.Join(errs...)
}
