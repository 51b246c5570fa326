package config

import (
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	DriverRedis  = "redis"
	DriverEtcd   = "etcd"
	DriverStatic = "static"
)

// MaxTryTimes is the upper bound on attempts per dispatched request.
const MaxTryTimes = 3

const envPrefix = "SSDK_CLIENT"

type ServerConfig struct {
	Address     string `mapstructure:"address"`
	Environment string `mapstructure:"environment"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// DispatchConfig holds the settings the request dispatcher reads. It is
// passed by value and never mutated after Load.
type DispatchConfig struct {
	Gateway           string `mapstructure:"gateway"`
	TryTimes          int    `mapstructure:"try_times"`
	ClientLoadBalance bool   `mapstructure:"client_load_balance"`
	MaxPolling        int64  `mapstructure:"max_polling"`
	DefaultTargetID   int64  `mapstructure:"default_target_id"`
	NodeScheme        string `mapstructure:"node_scheme"`
}

type RedisConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Password    string `mapstructure:"password"`
	Database    int    `mapstructure:"database"`
	PoolSize    int    `mapstructure:"pool_size"`
	DialTimeout string `mapstructure:"dial_timeout"`
}

type EtcdConfig struct {
	Endpoints   []string `mapstructure:"endpoints"`
	DialTimeout string   `mapstructure:"dial_timeout"`
}

type StaticService struct {
	Name  string   `mapstructure:"name"`
	Nodes []string `mapstructure:"nodes"`
}

type StaticConfig struct {
	Services []StaticService `mapstructure:"services"`
}

type RegistryConfig struct {
	Driver              string       `mapstructure:"driver"`
	Redis               RedisConfig  `mapstructure:"redis"`
	Etcd                EtcdConfig   `mapstructure:"etcd"`
	Static              StaticConfig `mapstructure:"static"`
	HealthCheckInterval string       `mapstructure:"health_check_interval"`
}

type TransportConfig struct {
	Timeout   string  `mapstructure:"timeout"`
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type EventLogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Name    string `mapstructure:"name"`
	MaxAge  string `mapstructure:"max_age"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Transport TransportConfig `mapstructure:"transport"`
	EventLog  EventLogConfig  `mapstructure:"event_log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// Load reads config.yaml from ./config or the working directory, falling
// back to defaults and SSDK_CLIENT_* environment variables.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile behaves like Load but reads the given file when path is not empty.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	cfg.Dispatch.TryTimes = ClampTryTimes(cfg.Dispatch.TryTimes)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", LogLevelInfo)

	v.SetDefault("dispatch.gateway", "")
	v.SetDefault("dispatch.try_times", 2)
	v.SetDefault("dispatch.client_load_balance", false)
	v.SetDefault("dispatch.max_polling", 10000000)
	v.SetDefault("dispatch.default_target_id", 1)
	v.SetDefault("dispatch.node_scheme", "http")

	v.SetDefault("registry.driver", DriverRedis)
	v.SetDefault("registry.redis.host", "127.0.0.1")
	v.SetDefault("registry.redis.port", 6379)
	v.SetDefault("registry.redis.database", 0)
	v.SetDefault("registry.redis.pool_size", 10)
	v.SetDefault("registry.redis.dial_timeout", "5s")
	v.SetDefault("registry.etcd.dial_timeout", "5s")
	v.SetDefault("registry.health_check_interval", "10s")

	v.SetDefault("transport.timeout", "5s")
	v.SetDefault("transport.rate_limit", 0)
	v.SetDefault("transport.burst", 1)

	v.SetDefault("event_log.enabled", true)
	v.SetDefault("event_log.path", "/data/nginx_log/job")
	v.SetDefault("event_log.name", "service_client")
	v.SetDefault("event_log.max_age", "168h")

	v.SetDefault("metrics.buffer_size", 1000)
}

// ClampTryTimes bounds n to [1, MaxTryTimes].
func ClampTryTimes(n int) int {
	if n > MaxTryTimes {
		return MaxTryTimes
	}
	if n < 1 {
		return 1
	}
	return n
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Dispatch, validation.By(validateDispatch)),
		validation.Field(&c.Registry, validation.By(validateRegistry)),
		validation.Field(&c.Transport,
			validation.By(func(value interface{}) error {
				tc, ok := value.(TransportConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a TransportConfig")
				}
				return validation.ValidateStruct(&tc,
					validation.Field(&tc.Timeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&tc.RateLimit, validation.Min(0.0)),
					validation.Field(&tc.Burst, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.EventLog,
			validation.By(func(value interface{}) error {
				ec, ok := value.(EventLogConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be an EventLogConfig")
				}
				return validation.ValidateStruct(&ec,
					validation.Field(&ec.Path, validation.When(ec.Enabled, validation.Required)),
					validation.Field(&ec.Name, validation.When(ec.Enabled, validation.Required)),
					validation.Field(&ec.MaxAge, validation.When(ec.Enabled, validation.Required, validation.By(validateDuration))),
				)
			}),
		),
		validation.Field(&c.Metrics,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.BufferSize, validation.Required, validation.Min(1)),
				)
			}),
		),
	)
}

// Validate checks the dispatch settings on their own, for callers that
// build a DispatchConfig without going through Load.
func (d DispatchConfig) Validate() error {
	return validateDispatch(d)
}

func validateDispatch(value interface{}) error {
	dc, ok := value.(DispatchConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a DispatchConfig")
	}
	return validation.ValidateStruct(&dc,
		validation.Field(&dc.Gateway,
			validation.When(!dc.ClientLoadBalance, validation.Required),
			validation.When(dc.Gateway != "", validation.By(validateServerURL)),
		),
		validation.Field(&dc.TryTimes, validation.Min(1), validation.Max(MaxTryTimes)),
		validation.Field(&dc.MaxPolling, validation.Required, validation.Min(int64(1))),
		validation.Field(&dc.DefaultTargetID, validation.Min(int64(0))),
		validation.Field(&dc.NodeScheme, validation.Required, validation.In("http", "https")),
	)
}

func validateRegistry(value interface{}) error {
	rc, ok := value.(RegistryConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RegistryConfig")
	}
	return validation.ValidateStruct(&rc,
		validation.Field(&rc.Driver,
			validation.Required,
			validation.In(DriverRedis, DriverEtcd, DriverStatic),
		),
		validation.Field(&rc.Redis, validation.When(rc.Driver == DriverRedis, validation.By(func(value interface{}) error {
			r, _ := value.(RedisConfig)
			return validation.ValidateStruct(&r,
				validation.Field(&r.Host, validation.Required, is.Host),
				validation.Field(&r.Port, validation.Required, validation.Min(1), validation.Max(65535)),
				validation.Field(&r.Database, validation.Min(0)),
				validation.Field(&r.PoolSize, validation.Min(0)),
				validation.Field(&r.DialTimeout, validation.Required, validation.By(validateDuration)),
			)
		}))),
		validation.Field(&rc.Etcd, validation.When(rc.Driver == DriverEtcd, validation.By(func(value interface{}) error {
			e, _ := value.(EtcdConfig)
			return validation.ValidateStruct(&e,
				validation.Field(&e.Endpoints, validation.Required, validation.Each(validation.By(validateEndpoint))),
				validation.Field(&e.DialTimeout, validation.Required, validation.By(validateDuration)),
			)
		}))),
		validation.Field(&rc.Static, validation.When(rc.Driver == DriverStatic, validation.By(func(value interface{}) error {
			s, _ := value.(StaticConfig)
			return validation.ValidateStruct(&s,
				validation.Field(&s.Services, validation.Required, validation.Each(validation.By(validateStaticService))),
			)
		}))),
		validation.Field(&rc.HealthCheckInterval, validation.Required, validation.By(validateDuration)),
	)
}

func validateStaticService(value interface{}) error {
	svc, ok := value.(StaticService)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a StaticService")
	}
	if svc.Name == "" {
		return validation.NewError("validation_empty_name", "service name cannot be empty")
	}
	for _, node := range svc.Nodes {
		if strings.TrimSpace(node) == "" {
			return validation.NewError("validation_empty_node", "node address cannot be empty")
		}
	}
	return nil
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateEndpoint(value interface{}) error {
	endpoint, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if strings.Contains(endpoint, "://") {
		return validateServerURL(endpoint)
	}
	return validateHostPort(endpoint)
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := time.ParseDuration(durationStr); err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serverURL == "" {
		return validation.NewError("validation_empty_url", "server URL cannot be empty")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

// Duration parses a duration field that has already passed validation.
func Duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
