package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConf struct {
	Env            string `mapstructure:"env"`
	Port           int    `mapstructure:"port"`
	ShutdownSecond int    `mapstructure:"shutdown_seconds"`
	BodyLimitMB    int    `mapstructure:"body_limit_mb"`
}

type MongoConf struct {
	URI            string `mapstructure:"uri"`
	Database       string `mapstructure:"database"`
	Transactions   bool   `mapstructure:"transactions"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type RedisConf struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConf struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type SolanaConf struct {
	RPCURL             string `mapstructure:"rpc_url"`
	APIKey             string `mapstructure:"api_key"`
	TimeoutMS          int    `mapstructure:"timeout_ms"`
	RetryMaxElapsedMS  int    `mapstructure:"retry_max_elapsed_ms"`
	BreakerMaxFailures uint32 `mapstructure:"breaker_max_failures"`
	BreakerOpenSeconds int    `mapstructure:"breaker_open_seconds"`
}

type AccessConf struct {
	PassSecret     string `mapstructure:"pass_secret"`
	PassTTLSeconds int    `mapstructure:"pass_ttl_seconds"`
	EnforceOnSend  bool   `mapstructure:"enforce_on_send"`
}

type ImagesConf struct {
	TTLHours int `mapstructure:"ttl_hours"`
	MaxBatch int `mapstructure:"max_batch"`
}

type DailyConf struct {
	APIURL          string `mapstructure:"api_url"`
	APIKey          string `mapstructure:"api_key"`
	MaxParticipants int    `mapstructure:"max_participants"`
	RoomTTLHours    int    `mapstructure:"room_ttl_hours"`
}

type IPFSConf struct {
	UploadURL string `mapstructure:"upload_url"`
}

type S3Conf struct {
	Region         string `mapstructure:"region"`
	Bucket         string `mapstructure:"bucket"`
	Endpoint       string `mapstructure:"endpoint"`
	PublicRead     bool   `mapstructure:"public_read"`
	ThumbnailWidth int    `mapstructure:"thumbnail_width"`
}

type RateLimitConf struct {
	IPPerMinute       int `mapstructure:"ip_per_minute"`
	IPBurst           int `mapstructure:"ip_burst"`
	SendLimit         int `mapstructure:"send_limit"`
	SendWindowSeconds int `mapstructure:"send_window_seconds"`
}

type OtelConf struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

type Config struct {
	App       AppConf       `mapstructure:"app"`
	Mongo     MongoConf     `mapstructure:"mongodb"`
	Redis     RedisConf     `mapstructure:"redis"`
	Kafka     KafkaConf     `mapstructure:"kafka"`
	Solana    SolanaConf    `mapstructure:"solana"`
	Access    AccessConf    `mapstructure:"access"`
	Images    ImagesConf    `mapstructure:"images"`
	Daily     DailyConf     `mapstructure:"daily"`
	IPFS      IPFSConf      `mapstructure:"ipfs"`
	S3        S3Conf        `mapstructure:"s3"`
	RateLimit RateLimitConf `mapstructure:"ratelimit"`
	Otel      OtelConf      `mapstructure:"otel"`
	Log       struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	// derived
	ShutdownTimeout time.Duration
	MongoTimeout    time.Duration
	OracleTimeout   time.Duration
	RetryMaxElapsed time.Duration
	BreakerOpen     time.Duration
	PassTTL         time.Duration
	ImageTTL        time.Duration
	RoomTTL         time.Duration
	SendWindow      time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.shutdown_seconds", 15)
	v.SetDefault("app.body_limit_mb", 10)
	v.SetDefault("log.level", "info")

	v.SetDefault("mongodb.uri", "")
	v.SetDefault("mongodb.database", "tokenchat")
	v.SetDefault("mongodb.transactions", true)
	v.SetDefault("mongodb.timeout_seconds", 5)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "lockd")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "lockd.events")

	v.SetDefault("solana.rpc_url", "https://mainnet.helius-rpc.com/")
	v.SetDefault("solana.api_key", "")
	v.SetDefault("solana.timeout_ms", 8000)
	v.SetDefault("solana.retry_max_elapsed_ms", 3000)
	v.SetDefault("solana.breaker_max_failures", 5)
	v.SetDefault("solana.breaker_open_seconds", 30)

	v.SetDefault("access.pass_secret", "")
	v.SetDefault("access.pass_ttl_seconds", 900)
	v.SetDefault("access.enforce_on_send", true)

	v.SetDefault("images.ttl_hours", 24*7)
	v.SetDefault("images.max_batch", 1000)

	v.SetDefault("daily.api_url", "https://api.daily.co/v1")
	v.SetDefault("daily.api_key", "")
	v.SetDefault("daily.max_participants", 50)
	v.SetDefault("daily.room_ttl_hours", 24)

	v.SetDefault("ipfs.upload_url", "https://pump.fun/api/ipfs")

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.public_read", true)
	v.SetDefault("s3.thumbnail_width", 320)

	v.SetDefault("ratelimit.ip_per_minute", 300)
	v.SetDefault("ratelimit.ip_burst", 20)
	v.SetDefault("ratelimit.send_limit", 30)
	v.SetDefault("ratelimit.send_window_seconds", 60)

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.service_name", "lockd")
}

// Load reads the YAML file at path (if it exists) and layers the environment on top.
// Every key is reachable as LOCKD_<SECTION>_<KEY>.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LOCKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("mongodb.uri", "LOCKD_MONGODB_URI", "MONGODB_URI")
	_ = v.BindEnv("solana.api_key", "LOCKD_SOLANA_API_KEY", "HELIUS_API_KEY")
	_ = v.BindEnv("daily.api_key", "LOCKD_DAILY_API_KEY", "DAILY_API_KEY")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.derive()
	return &cfg, nil
}

func (c *Config) derive() {
	c.ShutdownTimeout = time.Duration(c.App.ShutdownSecond) * time.Second
	c.MongoTimeout = time.Duration(c.Mongo.TimeoutSeconds) * time.Second
	c.OracleTimeout = time.Duration(c.Solana.TimeoutMS) * time.Millisecond
	c.RetryMaxElapsed = time.Duration(c.Solana.RetryMaxElapsedMS) * time.Millisecond
	c.BreakerOpen = time.Duration(c.Solana.BreakerOpenSeconds) * time.Second
	c.PassTTL = time.Duration(c.Access.PassTTLSeconds) * time.Second
	c.ImageTTL = time.Duration(c.Images.TTLHours) * time.Hour
	c.RoomTTL = time.Duration(c.Daily.RoomTTLHours) * time.Hour
	c.SendWindow = time.Duration(c.RateLimit.SendWindowSeconds) * time.Second
}

// splitList accepts both YAML lists and a single comma separated env value.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error
	if c.Mongo.URI == "" {
		errs = append(errs, errors.New("mongodb.uri is required"))
	}
	if c.Mongo.Database == "" {
		errs = append(errs, errors.New("mongodb.database is required"))
	}
	if c.App.Port <= 0 {
		errs = append(errs, fmt.Errorf("app.port must be positive, got %d", c.App.Port))
	}
	if c.ImageTTL <= 0 {
		errs = append(errs, errors.New("images.ttl_hours must be positive"))
	}
	if c.OracleTimeout <= 0 {
		errs = append(errs, errors.New("solana.timeout_ms must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool { return c.App.Env == "development" }

// RPCEndpoint is the Solana RPC URL with the Helius api-key query appended when set.
func (c *Config) RPCEndpoint() string {
	if c.Solana.APIKey == "" {
		return c.Solana.RPCURL
	}
	sep := "?"
	if strings.Contains(c.Solana.RPCURL, "?") {
		sep = "&"
	}
	return c.Solana.RPCURL + sep + "api-key=" + c.Solana.APIKey
}

func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.App.Port) }
