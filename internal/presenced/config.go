package presenced

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/mikey-austin/presenced/pkg/presence"
)

// EnvBrokerURL overrides the configured broker URL.
const EnvBrokerURL = "PRESENCED_MQTT_URL"

// DefaultClientID is the MQTT client id used when none is configured.
const DefaultClientID = "presenced_mqtt_service"

// Config is the top-level configuration for presenced.
type Config struct {
	Server       ServerConfig       `toml:"server"`
	EmbeddedMQTT EmbeddedMQTTConfig `toml:"embedded_mqtt"`
}

// ServerConfig defines broker and logging settings.
type ServerConfig struct {
	Broker        string     `toml:"broker"`
	ClientID      string     `toml:"client_id"`
	TopicBase     string     `toml:"topic_base"`
	TimeoutMS     int64      `toml:"timeout_ms"`
	LogLevel      string     `toml:"log_level"`
	LogFormat     string     `toml:"log_format"`
	LogOutput     string     `toml:"log_output"`
	LogUTC        bool       `toml:"log_utc"`
	LogColor      bool       `toml:"log_color"`
	Debug         bool       `toml:"debug"`
	MetricsListen string     `toml:"metrics_listen"`
	TLS           TLSConfig  `toml:"tls"`
	Auth          AuthConfig `toml:"auth"`
}

// TLSConfig holds TLS paths for MQTT.
type TLSConfig struct {
	CA   string `toml:"ca"`
	Cert string `toml:"cert"`
	Key  string `toml:"key"`
}

// AuthConfig holds MQTT auth credentials.
type AuthConfig struct {
	User string `toml:"user"`
	Pass string `toml:"pass"`
}

// EmbeddedMQTTConfig configures the embedded MQTT broker.
type EmbeddedMQTTConfig struct {
	Enabled        bool   `toml:"enabled"`
	Listen         string `toml:"listen"`
	AllowAnonymous bool   `toml:"allow_anonymous"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TLSCA          string `toml:"tls_ca"`
	TLSCert        string `toml:"tls_cert"`
	TLSKey         string `toml:"tls_key"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			ClientID:  DefaultClientID,
			TopicBase: presence.BaseTopic,
			TimeoutMS: 2000,
			LogLevel:  "info",
			LogFormat: "text",
			LogOutput: "stdout",
		},
		EmbeddedMQTT: EmbeddedMQTTConfig{
			Listen:         "127.0.0.1:1883",
			AllowAnonymous: true,
		},
	}
}

// LoadConfig loads a config file from path on top of the defaults. When
// optional is set a missing file is not an error.
func LoadConfig(path string, optional bool) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return Config{}, errors.New("config path required")
	}
	info, err := os.Stat(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, err
	}
	if info.IsDir() {
		return Config{}, errors.New("config path is a directory")
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if url, ok := lookup(EnvBrokerURL); ok && strings.TrimSpace(url) != "" {
		c.Server.Broker = strings.TrimSpace(url)
	}
}

// Normalize fills defaults for fields left empty by the file and flags.
func (c *Config) Normalize() {
	if c.Server.ClientID == "" {
		c.Server.ClientID = DefaultClientID
	}
	if c.Server.TopicBase == "" {
		c.Server.TopicBase = presence.BaseTopic
	}
	if c.Server.TimeoutMS <= 0 {
		c.Server.TimeoutMS = 2000
	}
	if c.EmbeddedMQTT.Listen == "" {
		c.EmbeddedMQTT.Listen = "127.0.0.1:1883"
	}
}

// Validate checks settings that would otherwise fail at connect time.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Broker) == "" {
		return fmt.Errorf("broker is required (set [server].broker, --broker or %s)", EnvBrokerURL)
	}
	switch strings.ToLower(c.Server.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.Server.LogFormat)
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.Server.LogLevel)
	}
	if c.EmbeddedMQTT.Enabled && !c.EmbeddedMQTT.AllowAnonymous && c.EmbeddedMQTT.Username == "" {
		return errors.New("embedded mqtt requires allow_anonymous or username")
	}
	return nil
}

// DefaultConfigPath returns the default config location.
func DefaultConfigPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "presenced", "presenced.toml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "presenced", "presenced.toml"), nil
}
