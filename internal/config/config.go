package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// devSessionSecret keeps development setups friction-free. Production
// startups refuse it, see Validate.
const devSessionSecret = "dev-session-secret-change-in-production"

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the optional session-resolution cache. An empty
// Addr disables it and resolution falls through to Postgres.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SecurityConfig struct {
	SessionSecret string
	SessionTTL    time.Duration
	RememberTTL   time.Duration
	CookieName    string
	CookieSecure  bool
}

// GateConfig controls how denied browser requests are redirected.
type GateConfig struct {
	LoginPath       string
	DefaultRedirect string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Security         SecurityConfig
	Gate             GateConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("GATEHOUSE")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate fails fast on configuration a deployment must not run with.
func (c *AppConfig) Validate() error {
	if c.Security.SessionTTL <= 0 || c.Security.RememberTTL <= 0 {
		return errors.New("config: session lifetimes must be positive")
	}
	if c.Environment == "production" {
		if c.Security.SessionSecret == "" || c.Security.SessionSecret == devSessionSecret {
			return errors.New("config: security.sessionsecret must be set in production")
		}
		if !c.Security.CookieSecure {
			return errors.New("config: security.cookiesecure must be enabled in production")
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("security.sessionsecret", devSessionSecret)
	v.SetDefault("security.sessionttl", "1h")
	v.SetDefault("security.rememberttl", "720h") // 30 days
	v.SetDefault("security.cookiename", "gatehouse_session")
	v.SetDefault("security.cookiesecure", false)

	v.SetDefault("gate.loginpath", "/api/v1/auth/login")
	v.SetDefault("gate.defaultredirect", "/")
}
