// Package config loads the server and CLI settings from a TOML file with
// LEARNLOOP_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration accepts "30s" style strings in TOML and env.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`
	Call    CallConfig    `toml:"call"`
	Storage StorageConfig `toml:"storage"`
	Auth    AuthConfig    `toml:"auth"`
	ICE     ICEConfig     `toml:"ice"`
	MQTT    MQTTConfig    `toml:"mqtt"`
}

type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	AllowedOrigins  []string `toml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

type CallConfig struct {
	RingTimeout Duration `toml:"ring_timeout"`
}

type StorageConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
}

type AuthConfig struct {
	// Tokens maps bearer tokens to user ids.
	Tokens map[string]string `toml:"tokens"`
	// AllowAnonymous accepts any token as the caller's own user id.
	AllowAnonymous bool `toml:"allow_anonymous"`
}

type ICEConfig struct {
	URLs       []string `toml:"urls"`
	Username   string   `toml:"username"`
	Credential string   `toml:"credential"`
}

type MQTTConfig struct {
	Broker      string `toml:"broker"`
	ClientID    string `toml:"client_id"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	TopicPrefix string `toml:"topic_prefix"`
}

func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration{5 * time.Second},
		},
		Log:     LogConfig{Level: "info", Pretty: true},
		Call:    CallConfig{RingTimeout: Duration{30 * time.Second}},
		Storage: StorageConfig{Driver: "memory", Path: "learnloop.db"},
		ICE:     ICEConfig{URLs: []string{"stun:stun.l.google.com:19302"}},
		MQTT:    MQTTConfig{ClientID: "learnloop-server", TopicPrefix: "learnloop"},
	}
}

// Load reads path over the defaults, then applies the environment. An empty
// path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for sqlite")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Call.RingTimeout.Duration <= 0 {
		return errors.New("call.ring_timeout must be positive")
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok {
			*dst = splitList(v)
		}
	}

	str("LEARNLOOP_ADDR", &cfg.Server.Addr)
	list("LEARNLOOP_ALLOWED_ORIGINS", &cfg.Server.AllowedOrigins)
	str("LEARNLOOP_LOG_LEVEL", &cfg.Log.Level)
	str("LEARNLOOP_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("LEARNLOOP_STORAGE_PATH", &cfg.Storage.Path)
	list("LEARNLOOP_ICE_URLS", &cfg.ICE.URLs)
	str("LEARNLOOP_MQTT_BROKER", &cfg.MQTT.Broker)
	str("LEARNLOOP_MQTT_USERNAME", &cfg.MQTT.Username)
	str("LEARNLOOP_MQTT_PASSWORD", &cfg.MQTT.Password)

	if v, ok := lookup("LEARNLOOP_LOG_PRETTY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LEARNLOOP_LOG_PRETTY: %w", err)
		}
		cfg.Log.Pretty = b
	}
	if v, ok := lookup("LEARNLOOP_ALLOW_ANONYMOUS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LEARNLOOP_ALLOW_ANONYMOUS: %w", err)
		}
		cfg.Auth.AllowAnonymous = b
	}
	if v, ok := lookup("LEARNLOOP_RING_TIMEOUT"); ok {
		if err := cfg.Call.RingTimeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("LEARNLOOP_RING_TIMEOUT: %w", err)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
