package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Storcube bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Cloud     CloudConfig     `yaml:"cloud"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Topics    TopicsConfig    `yaml:"topics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Status    StatusConfig    `yaml:"status"`
	API       APIConfig       `yaml:"api"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BridgeConfig contains the settings of the telemetry bridge itself.
type BridgeConfig struct {
	// ID identifies this bridge instance in health messages.
	ID string `yaml:"id"`

	// DeviceID is the Storcube equipment identifier to follow.
	DeviceID string `yaml:"device_id"`

	// HeartbeatInterval is the expected telemetry cadence in seconds.
	// The link is considered silent after HeartbeatInterval + HeartbeatGrace.
	HeartbeatInterval int `yaml:"heartbeat_interval"`

	// HeartbeatGrace is the extra margin in seconds added to HeartbeatInterval.
	HeartbeatGrace int `yaml:"heartbeat_grace"`

	// ReconnectDelay is the fixed wait in seconds before a new connection attempt.
	ReconnectDelay int `yaml:"reconnect_delay"`

	// HealthInterval is how often the health status is published, in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// CloudConfig contains the vendor cloud endpoints and login credentials.
type CloudConfig struct {
	AppCode   string `yaml:"app_code"`
	LoginName string `yaml:"login_name"`
	Password  string `yaml:"password"`

	LoginURL     string `yaml:"login_url"`
	WebSocketURL string `yaml:"websocket_url"`
	FirmwareURL  string `yaml:"firmware_url"`
	OutputURL    string `yaml:"output_url"`
	SetPowerURL  string `yaml:"set_power_url"`

	// UserAgent is the fixed client identity presented to the telemetry endpoint.
	UserAgent string `yaml:"user_agent"`

	// RequestTimeout bounds every HTTP call and the websocket handshake, in seconds.
	RequestTimeout int `yaml:"request_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// TopicsConfig names the MQTT topics used by the bridge.
type TopicsConfig struct {
	Battery     string `yaml:"battery"`
	Output      string `yaml:"output"`
	Firmware    string `yaml:"firmware"`
	Command     string `yaml:"command"`
	OutputPower string `yaml:"output_power"`
	Status      string `yaml:"status"`
}

// TelemetryConfig controls how telemetry is republished.
type TelemetryConfig struct {
	// Prefix is prepended to every published field name.
	Prefix string `yaml:"prefix"`

	// PublishRaw publishes the upstream message untouched instead of the
	// namespaced record.
	PublishRaw bool `yaml:"publish_raw"`

	// Retain marks telemetry publications as retained.
	Retain bool `yaml:"retain"`
}

// StatusConfig controls the supplementary firmware/output status refresh.
type StatusConfig struct {
	// MinInterval is the minimum number of seconds between two refreshes.
	// 0 refreshes on every telemetry message.
	MinInterval int `yaml:"min_interval"`
}

// APIConfig contains the operations HTTP server settings (health, metrics).
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings for the telemetry mirror.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped if the file does not exist
//  3. Environment variables (override file values)
//
// Both the historical variable names (MQTT_BROKER, LOGIN_NAME, DEVICE_ID, ...)
// and STORCUBE_SECTION_KEY names are honoured.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Environment-only deployment.
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:                "storcube-bridge",
			HeartbeatInterval: 60,
			HeartbeatGrace:    5,
			ReconnectDelay:    5,
			HealthInterval:    30,
		},
		Cloud: CloudConfig{
			AppCode:        "Storcube",
			LoginURL:       "http://baterway.com/api/user/app/login",
			WebSocketURL:   "ws://baterway.com:9501/equip/info/",
			FirmwareURL:    "http://baterway.com/api/equip/version/need/upgrade",
			OutputURL:      "http://baterway.com/api/scene/user/list/V2",
			SetPowerURL:    "http://baterway.com/api/slb/equip/set/power",
			UserAgent:      "okhttp/3.12.11",
			RequestTimeout: 10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "storcube-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Topics: TopicsConfig{
			Battery:     "battery/reportEquip",
			Output:      "battery/outputEquip",
			Firmware:    "battery/firmwareEquip",
			Command:     "battery/commandEquip",
			OutputPower: "battery/outputPower",
			Status:      "battery/status",
		},
		Telemetry: TelemetryConfig{
			Prefix: "storcube_",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 9102,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// envString applies the first non-empty variable among names to dst.
func envString(dst *string, names ...string) {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			*dst = v
			return
		}
	}
}

// envInt applies the first non-empty variable among names to dst.
func envInt(dst *int, names ...string) error {
	for _, name := range names {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", name, v)
		}
		*dst = n
		return nil
	}
	return nil
}

// envBool applies the first non-empty variable among names to dst.
func envBool(dst *bool, names ...string) error {
	for _, name := range names {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %q is not a boolean", name, v)
		}
		*dst = b
		return nil
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	// Bridge
	envString(&cfg.Bridge.ID, "STORCUBE_BRIDGE_ID")
	envString(&cfg.Bridge.DeviceID, "DEVICE_ID", "STORCUBE_DEVICE_ID")

	// Cloud
	envString(&cfg.Cloud.AppCode, "APP_CODE", "STORCUBE_APP_CODE")
	envString(&cfg.Cloud.LoginName, "LOGIN_NAME", "STORCUBE_LOGIN_NAME")
	envString(&cfg.Cloud.Password, "PASSWORD", "STORCUBE_PASSWORD")
	envString(&cfg.Cloud.WebSocketURL, "STORCUBE_WEBSOCKET_URL")
	envString(&cfg.Cloud.LoginURL, "STORCUBE_LOGIN_URL")

	// MQTT
	envString(&cfg.MQTT.Broker.Host, "MQTT_BROKER", "STORCUBE_MQTT_HOST")
	envString(&cfg.MQTT.Broker.ClientID, "STORCUBE_MQTT_CLIENT_ID")
	envString(&cfg.MQTT.Auth.Username, "MQTT_USERNAME", "STORCUBE_MQTT_USERNAME")
	envString(&cfg.MQTT.Auth.Password, "MQTT_PASSWORD", "STORCUBE_MQTT_PASSWORD")

	// Topics
	envString(&cfg.Topics.Battery, "MQTT_TOPIC_BATTERY")
	envString(&cfg.Topics.Output, "MQTT_TOPIC_OUTPUT")
	envString(&cfg.Topics.Firmware, "MQTT_TOPIC_FIRMWARE")
	envString(&cfg.Topics.Command, "MQTT_TOPIC_COMMAND")
	envString(&cfg.Topics.OutputPower, "MQTT_TOPIC_OUTPUT_POWER")
	envString(&cfg.Topics.Status, "MQTT_TOPIC_STATUS")

	// InfluxDB
	envString(&cfg.InfluxDB.Token, "STORCUBE_INFLUXDB_TOKEN")

	// Logging
	envString(&cfg.Logging.Level, "STORCUBE_LOG_LEVEL")

	var errs []error
	errs = append(errs,
		envInt(&cfg.MQTT.Broker.Port, "MQTT_PORT", "STORCUBE_MQTT_PORT"),
		envInt(&cfg.Bridge.HeartbeatInterval, "HEARTBEAT_INTERVAL", "STORCUBE_HEARTBEAT_INTERVAL"),
		envInt(&cfg.Bridge.ReconnectDelay, "RECONNECT_DELAY", "STORCUBE_RECONNECT_DELAY"),
		envInt(&cfg.API.Port, "STORCUBE_API_PORT"),
		envBool(&cfg.MQTT.Broker.TLS, "STORCUBE_MQTT_TLS"),
		envBool(&cfg.API.Enabled, "STORCUBE_API_ENABLED"),
	)
	return errors.Join(errs...)
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Bridge validation
	if c.Bridge.DeviceID == "" {
		errs = append(errs, "bridge.device_id is required (set DEVICE_ID)")
	}
	if c.Bridge.HeartbeatInterval <= 0 {
		errs = append(errs, "bridge.heartbeat_interval must be positive")
	}
	if c.Bridge.HeartbeatGrace < 0 {
		errs = append(errs, "bridge.heartbeat_grace cannot be negative")
	}
	if c.Bridge.ReconnectDelay <= 0 {
		errs = append(errs, "bridge.reconnect_delay must be positive")
	}

	// Cloud validation
	if c.Cloud.LoginName == "" {
		errs = append(errs, "cloud.login_name is required (set LOGIN_NAME)")
	}
	if c.Cloud.Password == "" {
		errs = append(errs, "cloud.password is required (set PASSWORD)")
	}
	if c.Cloud.LoginURL == "" || c.Cloud.WebSocketURL == "" {
		errs = append(errs, "cloud.login_url and cloud.websocket_url are required")
	}
	if c.Cloud.RequestTimeout <= 0 {
		errs = append(errs, "cloud.request_timeout must be positive")
	}

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required (set MQTT_BROKER)")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Topic validation
	errs = append(errs, c.Topics.validate()...)

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validate checks that every topic is set and that no two topics collide.
func (t TopicsConfig) validate() []string {
	var errs []string
	seen := make(map[string]string)
	for _, tc := range []struct{ key, value string }{
		{"topics.battery", t.Battery},
		{"topics.output", t.Output},
		{"topics.firmware", t.Firmware},
		{"topics.command", t.Command},
		{"topics.output_power", t.OutputPower},
		{"topics.status", t.Status},
	} {
		if tc.value == "" {
			errs = append(errs, tc.key+" is required")
			continue
		}
		if strings.ContainsAny(tc.value, "+#") {
			errs = append(errs, tc.key+" cannot contain wildcards")
		}
		if other, dup := seen[tc.value]; dup {
			errs = append(errs, fmt.Sprintf("%s duplicates %s", tc.key, other))
			continue
		}
		seen[tc.value] = tc.key
	}
	return errs
}

// GetHeartbeatTimeout returns how long the link may stay silent before a heartbeat.
func (c *Config) GetHeartbeatTimeout() time.Duration {
	return time.Duration(c.Bridge.HeartbeatInterval+c.Bridge.HeartbeatGrace) * time.Second
}

// GetReconnectDelay returns the wait between connection attempts as a Duration.
func (c *Config) GetReconnectDelay() time.Duration {
	return time.Duration(c.Bridge.ReconnectDelay) * time.Second
}

// GetHealthInterval returns the health publication interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetRequestTimeout returns the vendor HTTP/handshake timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Cloud.RequestTimeout) * time.Second
}

// GetStatusMinInterval returns the minimum spacing of status refreshes.
func (c *Config) GetStatusMinInterval() time.Duration {
	return time.Duration(c.Status.MinInterval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
