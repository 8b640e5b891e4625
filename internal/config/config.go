// Package config loads the panel configuration from defaults, an optional
// YAML file, PTZPANEL_* environment variables and command-line overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ptz-panel/internal/axis"
)

// Device drivers.
const (
	DriverEmulator  = "emulator"
	DriverVISCA     = "visca"
	DriverPanasonic = "panasonic"
	DriverNop       = "nop"
)

// EnvPrefix prefixes every environment override, e.g. PTZPANEL_DEVICE_DRIVER.
const EnvPrefix = "PTZPANEL"

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DeviceConfig selects and addresses the camera.
type DeviceConfig struct {
	Driver   string        `mapstructure:"driver"`
	Address  string        `mapstructure:"address"`
	Protocol string        `mapstructure:"protocol"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// Throttle is the minimum spacing between commands to one axis.
	Throttle time.Duration `mapstructure:"throttle"`
}

// PreviewConfig configures the RTSP to WebRTC relay.
type PreviewConfig struct {
	RTSPURL string `mapstructure:"rtsp_url"`
	ICEIPs  string `mapstructure:"ice_ips"`
}

// MQTTConfig configures telemetry publishing and state ingest.
type MQTTConfig struct {
	Broker string `mapstructure:"broker"`
	Prefix string `mapstructure:"prefix"`
	Ingest bool   `mapstructure:"ingest"`
}

// RedisConfig configures the Redis telemetry sink.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

// RangeOverride replaces the range of one axis.
type RangeOverride struct {
	Axis string  `mapstructure:"axis"`
	Min  float64 `mapstructure:"min"`
	Max  float64 `mapstructure:"max"`
}

// BindingConfig binds a control to an axis operation.
type BindingConfig struct {
	Node      string  `mapstructure:"node"`
	Operation string  `mapstructure:"operation"`
	Axis      string  `mapstructure:"axis"`
	Profile   string  `mapstructure:"profile"`
	BaseStep  float64 `mapstructure:"base_step"`
}

// Config is the full panel configuration.
type Config struct {
	Listen            string          `mapstructure:"listen"`
	Log               LogConfig       `mapstructure:"log"`
	Device            DeviceConfig    `mapstructure:"device"`
	Preview           PreviewConfig   `mapstructure:"preview"`
	MQTT              MQTTConfig      `mapstructure:"mqtt"`
	Redis             RedisConfig     `mapstructure:"redis"`
	Tracing           TracingConfig   `mapstructure:"tracing"`
	MaxUnitsPerSecond float64         `mapstructure:"max_units_per_second"`
	ProfilesFile      string          `mapstructure:"profiles_file"`
	DefaultProfile    string          `mapstructure:"default_profile"`
	Ranges            []RangeOverride `mapstructure:"ranges"`
	Bindings          []BindingConfig `mapstructure:"bindings"`
	Toggles           []string        `mapstructure:"toggles"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("device.driver", DriverEmulator)
	v.SetDefault("device.address", "")
	v.SetDefault("device.protocol", "udp")
	v.SetDefault("device.timeout", 2*time.Second)
	v.SetDefault("device.throttle", 50*time.Millisecond)
	v.SetDefault("preview.rtsp_url", "")
	v.SetDefault("preview.ice_ips", "")
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.prefix", "ptzpanel")
	v.SetDefault("mqtt.ingest", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "ptzpanel:telemetry")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "ptz-panel")
	v.SetDefault("max_units_per_second", 4000.0)
	v.SetDefault("profiles_file", "")
	v.SetDefault("default_profile", "standard")
}

// Load reads the configuration. path may be empty. overrides are applied
// last, keyed like the YAML file ("device.driver").
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	for key, val := range overrides {
		v.Set(key, val)
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

// ErrInvalid marks configuration validation failures.
var ErrInvalid = errors.New("invalid config")

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Device.Driver {
	case DriverEmulator, DriverNop:
	case DriverVISCA, DriverPanasonic:
		if c.Device.Address == "" {
			return fmt.Errorf("%w: device.address is required for the %s driver", ErrInvalid, c.Device.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown device driver %q", ErrInvalid, c.Device.Driver)
	}
	if p := c.Device.Protocol; p != "udp" && p != "tcp" {
		return fmt.Errorf("%w: device.protocol must be udp or tcp, got %q", ErrInvalid, p)
	}
	for _, r := range c.Ranges {
		if r.Max < r.Min {
			return fmt.Errorf("%w: range for %s has max below min", ErrInvalid, r.Axis)
		}
	}
	for _, b := range c.Bindings {
		if b.Node == "" || b.Axis == "" {
			return fmt.Errorf("%w: binding needs node and axis", ErrInvalid)
		}
	}
	return nil
}

// Catalog returns the default axis catalogue with the configured range
// overrides applied.
func (c *Config) Catalog() *axis.Catalog {
	if len(c.Ranges) == 0 {
		return axis.Default()
	}
	ranges := make(map[string]axis.Range, len(c.Ranges))
	for _, r := range c.Ranges {
		ranges[r.Axis] = axis.Range{Min: r.Min, Max: r.Max}
	}
	return axis.Default().WithRanges(ranges)
}
