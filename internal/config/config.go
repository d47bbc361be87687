package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "CALLRELAY"

const (
	ModeHTTP       = "http"
	ModeAutocert   = "autocert"
	ModeSelfSigned = "self-signed"
)

type Config struct {
	HTTP    HTTPConfig    `mapstructure:"http"`
	Log     LogConfig     `mapstructure:"log"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Session SessionConfig `mapstructure:"session"`
	History HistoryConfig `mapstructure:"history"`
	Push    PushConfig    `mapstructure:"push"`
	TURN    TURNConfig    `mapstructure:"turn"`
	ICE     ICEConfig     `mapstructure:"ice"`
	KeysDir string        `mapstructure:"keys_dir"`
}

type HTTPConfig struct {
	Port       int    `mapstructure:"port"`
	HTTPSPort  int    `mapstructure:"https_port"`
	Mode       string `mapstructure:"mode"`
	Domain     string `mapstructure:"domain"`
	CertsDir   string `mapstructure:"certs_dir"`
	CORSOrigin string `mapstructure:"cors_origin"`
	ReadLimit  int64  `mapstructure:"read_limit"`
	SendBuffer int    `mapstructure:"send_buffer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	AllowAnonymous bool          `mapstructure:"allow_anonymous"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
}

type SessionConfig struct {
	RingTimeout      time.Duration `mapstructure:"ring_timeout"`
	GracePeriod      time.Duration `mapstructure:"grace_period"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	GCInterval       time.Duration `mapstructure:"gc_interval"`
	TombstoneTTL     time.Duration `mapstructure:"tombstone_ttl"`
	MaxQueuedSignals int           `mapstructure:"max_queued_signals"`
	InboxSize        int           `mapstructure:"inbox_size"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

type PushConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	VAPIDPublicKey  string `mapstructure:"vapid_public_key"`
	VAPIDPrivateKey string `mapstructure:"vapid_private_key"`
	Subject         string `mapstructure:"subject"`
	TTL             int    `mapstructure:"ttl"`
}

type TURNConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Port          int           `mapstructure:"port"`
	Realm         string        `mapstructure:"realm"`
	PublicIP      string        `mapstructure:"public_ip"`
	Secret        string        `mapstructure:"secret"`
	CredentialTTL time.Duration `mapstructure:"credential_ttl"`
}

type ICEConfig struct {
	Servers []ICEServer `mapstructure:"servers"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls" json:"urls"`
	Username   string   `mapstructure:"username" json:"username,omitempty"`
	Credential string   `mapstructure:"credential" json:"credential,omitempty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.https_port", 8443)
	v.SetDefault("http.mode", ModeHTTP)
	v.SetDefault("http.domain", "")
	v.SetDefault("http.certs_dir", filepath.Join(execDir(), "certs"))
	v.SetDefault("http.cors_origin", "*")
	v.SetDefault("http.read_limit", 64*1024)
	v.SetDefault("http.send_buffer", 64)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.allow_anonymous", false)
	v.SetDefault("auth.token_ttl", "720h")

	v.SetDefault("session.ring_timeout", "45s")
	v.SetDefault("session.grace_period", "10s")
	v.SetDefault("session.idle_timeout", "30m")
	v.SetDefault("session.gc_interval", "1m")
	v.SetDefault("session.tombstone_ttl", "5m")
	v.SetDefault("session.max_queued_signals", 256)
	v.SetDefault("session.inbox_size", 256)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.db_path", "callrelay.db")

	v.SetDefault("push.enabled", false)
	v.SetDefault("push.vapid_public_key", "")
	v.SetDefault("push.vapid_private_key", "")
	v.SetDefault("push.subject", "mailto:admin@callrelay.local")
	v.SetDefault("push.ttl", 60)

	v.SetDefault("turn.enabled", false)
	v.SetDefault("turn.port", 3478)
	v.SetDefault("turn.realm", "callrelay")
	v.SetDefault("turn.public_ip", "")
	v.SetDefault("turn.credential_ttl", "24h")

	v.SetDefault("ice.servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})

	v.SetDefault("keys_dir", filepath.Join(execDir(), "keys"))
}

// Load reads configuration from defaults, an optional YAML file, a .env file
// and CALLRELAY_* environment variables, in increasing priority. With an
// empty path config.yaml is looked up in ., ./config and next to the binary.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath(execDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.HTTP.Mode {
	case ModeHTTP, ModeSelfSigned:
	case ModeAutocert:
		if c.HTTP.Domain == "" {
			return errors.New("http.domain is required in autocert mode")
		}
	default:
		return fmt.Errorf("unknown http.mode %q", c.HTTP.Mode)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	if c.Session.MaxQueuedSignals <= 0 {
		return errors.New("session.max_queued_signals must be positive")
	}
	if c.History.Enabled && c.History.DBPath == "" {
		return errors.New("history.db_path is required when history is enabled")
	}
	return nil
}

func execDir() string {
	execPath, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(execPath)
}
