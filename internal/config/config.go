package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/IIAteeneaaII/ontester/internal/access"
	"github.com/IIAteeneaaII/ontester/internal/operator"
	"github.com/IIAteeneaaII/ontester/internal/ratelimit"
)

type DeviceConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type AccessConfig struct {
	TablesDir     string `mapstructure:"tables_dir"`
	FailurePolicy string `mapstructure:"failure_policy"`
}

type HeartbeatConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Interval is in poller ticks of one second.
	Interval int `mapstructure:"interval"`
}

type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	ratelimit.LimiterConfig `mapstructure:",squash"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MQTTConfig struct {
	Broker    string `mapstructure:"broker"`
	StationID string `mapstructure:"station_id"`
	Env       string `mapstructure:"env"`
}

type AuditConfig struct {
	Driver    string        `mapstructure:"driver"`
	DSN       string        `mapstructure:"dsn"`
	Retention time.Duration `mapstructure:"retention"`
	// PurgeSchedule is a six field cron expression.
	PurgeSchedule string `mapstructure:"purge_schedule"`
}

type BrowserConfig struct {
	ExecPath string        `mapstructure:"exec_path"`
	Headless bool          `mapstructure:"headless"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`
	// CORSOrigins restricts /api callers; empty allows any origin.
	CORSOrigins []string `mapstructure:"cors_origins"`

	Device    DeviceConfig     `mapstructure:"device"`
	Operator  operator.Context `mapstructure:"operator"`
	Access    AccessConfig     `mapstructure:"access"`
	Heartbeat HeartbeatConfig  `mapstructure:"heartbeat"`
	RateLimit RateLimitConfig  `mapstructure:"rate_limit"`
	Redis     RedisConfig      `mapstructure:"redis"`
	MQTT      MQTTConfig       `mapstructure:"mqtt"`
	Audit     AuditConfig      `mapstructure:"audit"`
	Browser   BrowserConfig    `mapstructure:"browser"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8088")
	v.SetDefault("log_level", "info")
	v.SetDefault("device.base_url", "http://192.168.1.1")
	v.SetDefault("device.username", "")
	v.SetDefault("device.password", "")
	v.SetDefault("device.timeout", 10*time.Second)
	v.SetDefault("cors_origins", []string{})
	v.SetDefault("operator.operator", "")
	v.SetDefault("operator.area_code", "")
	v.SetDefault("operator.model", "")
	v.SetDefault("operator.fttr", "")
	v.SetDefault("operator.ui.multi_ap", false)
	v.SetDefault("operator.ui.new_ui", false)
	v.SetDefault("operator.capabilities.wifi", true)
	v.SetDefault("operator.capabilities.wifi_5g", true)
	v.SetDefault("operator.capabilities.voice_ports", 1)
	v.SetDefault("operator.capabilities.usb_ports", 1)
	v.SetDefault("access.tables_dir", "")
	v.SetDefault("access.failure_policy", "open")
	v.SetDefault("heartbeat.enabled", true)
	v.SetDefault("heartbeat.interval", 30)
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 1)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.station_id", "")
	v.SetDefault("mqtt.env", "dev")
	v.SetDefault("audit.driver", "sqlite")
	v.SetDefault("audit.dsn", "file:cpegate_audit.db")
	v.SetDefault("audit.retention", 30*24*time.Hour)
	v.SetDefault("audit.purge_schedule", "0 0 3 * * *")
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout", 30*time.Second)
}

// FlagKeys maps command line flag names to config keys. Flags missing from
// the set handed to Load are skipped.
var FlagKeys = map[string]string{
	"listen":         "listen_addr",
	"base-url":       "device.base_url",
	"username":       "device.username",
	"password":       "device.password",
	"operator":       "operator.operator",
	"area-code":      "operator.area_code",
	"model":          "operator.model",
	"new-ui":         "operator.ui.new_ui",
	"fttr":           "operator.fttr",
	"tables-dir":     "access.tables_dir",
	"failure-policy": "access.failure_policy",
	"headless":       "browser.headless",
}

// Load reads configPath (optional), CPEGATE_* environment variables and the
// given flags, later sources winning. Nested keys map to variables with
// underscores, so device.base_url is CPEGATE_DEVICE_BASE_URL.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CPEGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.Device.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("device.base_url %q must be an absolute URL", c.Device.BaseURL))
	}
	if _, err := access.ParseFailurePolicy(c.Access.FailurePolicy); err != nil {
		errs = append(errs, fmt.Errorf("access.failure_policy: %w", err))
	}
	switch c.Operator.FTTR {
	case operator.FTTRNone, operator.FTTRMain, operator.FTTRSub:
	default:
		errs = append(errs, fmt.Errorf("operator.fttr %q must be empty, fttr_main or fttr_sub", c.Operator.FTTR))
	}
	switch c.Audit.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("audit.driver %q must be sqlite or postgres", c.Audit.Driver))
	}
	return errors.Join(errs...)
}

// Policy returns the parsed failure policy; Validate has already vetted it.
func (c *Config) Policy() access.FailurePolicy {
	p, _ := access.ParseFailurePolicy(c.Access.FailurePolicy)
	return p
}
