package config

import (
	"strings"
	"time"

	"github.com/ericogr/templogger/pkg/lineproto"
	"github.com/ericogr/templogger/pkg/sensor"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	SensorTypeSysfs      = "sysfs"
	SensorTypeSimulation = "simulation"

	OutputConsole = "console"
	OutputMQTT    = "mqtt"
	OutputInflux  = "influx"
	OutputNATS    = "nats"

	envPrefix = "TEMPLOGGER"
)

type MQTTConfig struct {
	Server         string `mapstructure:"server"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	ClientID       string `mapstructure:"client_id"`
	StateTopic     string `mapstructure:"state_topic"`
	DiscoveryTopic string `mapstructure:"discovery_topic"`
	DiscoveryName  string `mapstructure:"discovery_name"`
}

type InfluxConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Org     string        `mapstructure:"org"`
	Bucket  string        `mapstructure:"bucket"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type SMTPConfig struct {
	Server   string `mapstructure:"server"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

type Config struct {
	SensorType     string        `mapstructure:"sensor_type"`
	DeviceDir      string        `mapstructure:"device_dir"`
	Family         string        `mapstructure:"family"`
	DeviceFile     string        `mapstructure:"device_file"`
	ResolutionFile string        `mapstructure:"resolution_file"`
	Retries        int           `mapstructure:"retries"`
	RetrySleep     time.Duration `mapstructure:"retry_sleep"`

	Decimals    int      `mapstructure:"decimals"`
	Timestamp   bool     `mapstructure:"timestamp"`
	Resolution  int      `mapstructure:"resolution"`
	Outputs     []string `mapstructure:"outputs"`
	MetricsFile string   `mapstructure:"metrics_file"`
	LogLevel    string   `mapstructure:"log_level"`

	MQTT   MQTTConfig   `mapstructure:"mqtt"`
	Influx InfluxConfig `mapstructure:"influx"`
	NATS   NATSConfig   `mapstructure:"nats"`
	SMTP   SMTPConfig   `mapstructure:"smtp"`
}

func DefaultConfig() Config {
	return Config{
		SensorType:     SensorTypeSysfs,
		DeviceDir:      sensor.DefaultDeviceDir,
		Family:         sensor.DefaultFamily,
		DeviceFile:     sensor.DefaultDeviceFile,
		ResolutionFile: sensor.DefaultDeviceFile,
		Retries:        sensor.DefaultRetries,
		RetrySleep:     sensor.DefaultRetrySleep,
		Decimals:       lineproto.DefaultDecimals,
		Timestamp:      false,
		Resolution:     sensor.DefaultResolution,
		Outputs:        []string{OutputConsole},
		LogLevel:       "info",
		MQTT: MQTTConfig{
			Server:     "tcp://localhost:1883",
			ClientID:   "templogger",
			StateTopic: "templogger/%s",
		},
		Influx: InfluxConfig{Timeout: 10 * time.Second},
		NATS:   NATSConfig{URL: "nats://127.0.0.1:4222", SubjectPrefix: "sensors"},
		SMTP:   SMTPConfig{Port: 465},
	}
}

// Load merges, in increasing priority, the defaults, the config file at path
// (skipped when empty) and TEMPLOGGER_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return DefaultConfig(), errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return DefaultConfig(), errors.Wrap(err, "parse config")
	}
	cfg.Outputs = parseCSV(strings.Join(cfg.Outputs, ","))
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("sensor_type", d.SensorType)
	v.SetDefault("device_dir", d.DeviceDir)
	v.SetDefault("family", d.Family)
	v.SetDefault("device_file", d.DeviceFile)
	v.SetDefault("resolution_file", d.ResolutionFile)
	v.SetDefault("retries", d.Retries)
	v.SetDefault("retry_sleep", d.RetrySleep)
	v.SetDefault("decimals", d.Decimals)
	v.SetDefault("timestamp", d.Timestamp)
	v.SetDefault("resolution", d.Resolution)
	v.SetDefault("outputs", d.Outputs)
	v.SetDefault("metrics_file", d.MetricsFile)
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("mqtt.server", d.MQTT.Server)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.state_topic", d.MQTT.StateTopic)
	v.SetDefault("mqtt.discovery_topic", d.MQTT.DiscoveryTopic)
	v.SetDefault("mqtt.discovery_name", d.MQTT.DiscoveryName)

	v.SetDefault("influx.url", d.Influx.URL)
	v.SetDefault("influx.token", d.Influx.Token)
	v.SetDefault("influx.org", d.Influx.Org)
	v.SetDefault("influx.bucket", d.Influx.Bucket)
	v.SetDefault("influx.timeout", d.Influx.Timeout)

	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.subject_prefix", d.NATS.SubjectPrefix)

	v.SetDefault("smtp.server", d.SMTP.Server)
	v.SetDefault("smtp.port", d.SMTP.Port)
	v.SetDefault("smtp.username", d.SMTP.Username)
	v.SetDefault("smtp.password", d.SMTP.Password)
	v.SetDefault("smtp.from", d.SMTP.From)
	v.SetDefault("smtp.to", d.SMTP.To)
}

// Validate checks the settings shared by every command.
func (c Config) Validate() error {
	switch c.SensorType {
	case SensorTypeSysfs, SensorTypeSimulation:
	default:
		return errors.Errorf("sensor-type must be %s or %s, got %q", SensorTypeSysfs, SensorTypeSimulation, c.SensorType)
	}
	if c.Retries < 1 {
		return errors.New("retries must be >= 1")
	}
	if c.RetrySleep < 0 {
		return errors.New("retry-sleep must be >= 0")
	}
	if c.Decimals < lineproto.MinDecimals || c.Decimals > lineproto.MaxDecimals {
		return errors.Errorf("decimals must be %d..%d, got %d", lineproto.MinDecimals, lineproto.MaxDecimals, c.Decimals)
	}
	if _, err := sensor.Increment(c.Resolution); err != nil {
		return err
	}
	for _, o := range c.Outputs {
		switch strings.ToLower(o) {
		case OutputConsole, OutputMQTT, OutputInflux, OutputNATS:
		default:
			return errors.Errorf("unknown output %q", o)
		}
	}
	return nil
}

// ValidateSMTP checks the settings the send command needs.
func (c Config) ValidateSMTP() error {
	missing := make([]string, 0)
	if c.SMTP.Server == "" {
		missing = append(missing, "-s server")
	}
	if c.SMTP.Port <= 0 {
		missing = append(missing, "-o port")
	}
	if c.SMTP.Username == "" {
		missing = append(missing, "-u username")
	}
	if c.SMTP.Password == "" {
		missing = append(missing, "-p password")
	}
	if c.SMTP.From == "" {
		missing = append(missing, "-f from")
	}
	if c.SMTP.To == "" {
		missing = append(missing, "-t to")
	}
	if len(missing) > 0 {
		return errors.Errorf("missing required smtp settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

func parseCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
