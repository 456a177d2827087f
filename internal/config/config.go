// Package config loads runtime settings from an optional file and the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the service runtime parameters.
type Config struct {
	Port                string        `mapstructure:"port"`
	ShutdownGracePeriod time.Duration `mapstructure:"-"`
	GRPC                GRPCConfig    `mapstructure:"grpc"`
	Admin               AdminConfig   `mapstructure:"admin"`
	Log                 LogConfig     `mapstructure:"log"`
	MongoDB             MongoConfig   `mapstructure:"mongodb"`
	Store               StoreConfig   `mapstructure:"store"`
	JWT                 JWTConfig     `mapstructure:"jwt"`
	RateLimit           RateConfig    `mapstructure:"rate_limit"`
	Socket              SocketConfig  `mapstructure:"socket"`
	Chat                ChatConfig    `mapstructure:"chat"`
	Uploads             UploadsConfig `mapstructure:"uploads"`
	S3                  S3Config      `mapstructure:"s3"`
	CORS                CORSConfig    `mapstructure:"cors"`
	TLS                 TLSConfig     `mapstructure:"tls"`
}

type GRPCConfig struct {
	Address string `mapstructure:"address"`
}

type AdminConfig struct {
	Address string `mapstructure:"address"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// MongoConfig describes the message store connection.
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"-"`
}

// StoreConfig selects the message store backend: "mongo" or "memory".
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

// JWTConfig enables token-bound identities when Secret or Keys is set.
// Keys uses the format kid:secret,kid2:secret2.
type JWTConfig struct {
	Secret    string `mapstructure:"secret"`
	Keys      string `mapstructure:"keys"`
	ActiveKid string `mapstructure:"active_kid"`
}

type RateConfig struct {
	RPM   int `mapstructure:"rpm"`
	Burst int `mapstructure:"burst"`
}

// SocketConfig bounds how many inbound events a single connection may send.
type SocketConfig struct {
	EventsPerSecond float64 `mapstructure:"events_per_second"`
	EventBurst      int     `mapstructure:"event_burst"`
}

type ChatConfig struct {
	SendTimeout time.Duration `mapstructure:"-"`
}

// UploadsConfig selects where attachments go: "local" or "s3".
type UploadsConfig struct {
	Driver    string `mapstructure:"driver"`
	Dir       string `mapstructure:"dir"`
	PublicURL string `mapstructure:"public_url"`
	MaxBytes  int64  `mapstructure:"max_bytes"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PublicURL       string `mapstructure:"public_url"`
	Prefix          string `mapstructure:"prefix"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type TLSConfig struct {
	Cert string `mapstructure:"cert"`
	Key  string `mapstructure:"key"`
}

const (
	defaultPort                = "8080"
	defaultGRPCAddress         = ":50051"
	defaultAdminAddress        = ":9090"
	defaultLogLevel            = "info"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultMongoDatabase       = "chat_db"
	defaultConnectTimeout      = 10 * time.Second
	defaultStoreDriver         = "mongo"
	defaultRateRPM             = 60
	defaultRateBurst           = 10
	defaultEventsPerSecond     = 20
	defaultEventBurst          = 40
	defaultSendTimeout         = 10 * time.Second
	defaultUploadsDriver       = "local"
	defaultUploadsDir          = "uploads"
	defaultUploadsPublicURL    = "/uploads"
	defaultUploadsMaxBytes     = 10 << 20
	defaultS3Prefix            = "chat"
)

// Load reads configuration from the provided file path (if any) and the environment.
// Environment variables override file values; nested keys map by replacing "." with "_",
// so mongodb.uri is read from MONGODB_URI.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", defaultPort)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("grpc.address", defaultGRPCAddress)
	v.SetDefault("admin.address", defaultAdminAddress)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("mongodb.uri", "")
	v.SetDefault("mongodb.database", defaultMongoDatabase)
	v.SetDefault("mongodb.connect_timeout", defaultConnectTimeout.String())
	v.SetDefault("store.driver", defaultStoreDriver)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.keys", "")
	v.SetDefault("jwt.active_kid", "")
	v.SetDefault("rate_limit.rpm", defaultRateRPM)
	v.SetDefault("rate_limit.burst", defaultRateBurst)
	v.SetDefault("socket.events_per_second", defaultEventsPerSecond)
	v.SetDefault("socket.event_burst", defaultEventBurst)
	v.SetDefault("chat.send_timeout", defaultSendTimeout.String())
	v.SetDefault("uploads.driver", defaultUploadsDriver)
	v.SetDefault("uploads.dir", defaultUploadsDir)
	v.SetDefault("uploads.public_url", defaultUploadsPublicURL)
	v.SetDefault("uploads.max_bytes", defaultUploadsMaxBytes)
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.public_url", "")
	v.SetDefault("s3.prefix", defaultS3Prefix)
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})
	v.SetDefault("tls.cert", "")
	v.SetDefault("tls.key", "")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	var err error
	if cfg.ShutdownGracePeriod, err = duration(v, "shutdown_grace_period"); err != nil {
		return Config{}, err
	}
	if cfg.MongoDB.ConnectTimeout, err = duration(v, "mongodb.connect_timeout"); err != nil {
		return Config{}, err
	}
	if cfg.Chat.SendTimeout, err = duration(v, "chat.send_timeout"); err != nil {
		return Config{}, err
	}

	// Comma separated lists arrive from the environment as a single string.
	if len(cfg.CORS.AllowedOrigins) == 1 && strings.Contains(cfg.CORS.AllowedOrigins[0], ",") {
		cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins[0])
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case "memory":
	case "mongo":
		if c.MongoDB.URI == "" {
			return fmt.Errorf("MONGODB_URI must be set when store.driver is mongo")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Uploads.Driver {
	case "local":
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket must be set when uploads.driver is s3")
		}
	default:
		return fmt.Errorf("unknown uploads.driver %q", c.Uploads.Driver)
	}

	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		return fmt.Errorf("tls.cert and tls.key must be set together")
	}
	return nil
}

// JWTKeys parses JWT.Keys into a kid -> secret map.
func (c Config) JWTKeys() (map[string]string, error) {
	keys := map[string]string{}
	for _, p := range splitList(c.JWT.Keys) {
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid JWT_KEYS entry: %s", p)
		}
		keys[parts[0]] = parts[1]
	}
	return keys, nil
}

// AuthEnabled reports whether identities must be bound to tokens.
func (c Config) AuthEnabled() bool {
	return c.JWT.Secret != "" || c.JWT.Keys != ""
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
