// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads twestage settings from defaults, an optional YAML
// file and TWESTAGE_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. TWESTAGE_SERIAL_PORT.
const EnvPrefix = "TWESTAGE"

// SerialConfig selects the local serial port.
type SerialConfig struct {
	Port        string        `mapstructure:"port" yaml:"port"`
	Baud        int           `mapstructure:"baud" yaml:"baud"`
	ReadTimeout time.Duration `mapstructure:"readTimeout" yaml:"readTimeout"`
}

// WebSocketConfig selects a WebSocket serial bridge.
type WebSocketConfig struct {
	URL         string `mapstructure:"url" yaml:"url"`
	Username    string `mapstructure:"username" yaml:"username"`
	NoSSLVerify bool   `mapstructure:"noSSLVerify" yaml:"noSSLVerify"`
	TextWrites  bool   `mapstructure:"textWrites" yaml:"textWrites"`
}

// FramingConfig configures the frame parsers.
type FramingConfig struct {
	Format    string        `mapstructure:"format" yaml:"format"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxLength int           `mapstructure:"maxLength" yaml:"maxLength"`
}

// ProgConfig configures the bootloader programmer.
type ProgConfig struct {
	ResponseTimeout time.Duration `mapstructure:"responseTimeout" yaml:"responseTimeout"`
	BaudDivisor     int           `mapstructure:"baudDivisor" yaml:"baudDivisor"`
	SafeMode        bool          `mapstructure:"safeMode" yaml:"safeMode"`
	ResetPin        string        `mapstructure:"resetPin" yaml:"resetPin"`
	ProgPin         string        `mapstructure:"progPin" yaml:"progPin"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout" yaml:"readTimeout"`
}

// LumberjackConfig configures the rolling log file.
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize" yaml:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge" yaml:"maxAge"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	// Console writes log lines to stderr.
	Console bool             `mapstructure:"console" yaml:"console"`
	File    LumberjackConfig `mapstructure:"file" yaml:"file"`
}

// MetricsConfig configures the Prometheus endpoint of monitor.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable" yaml:"enable"`
	Addr   string `mapstructure:"addr" yaml:"addr"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// Config is the top level configuration.
type Config struct {
	Serial    SerialConfig    `mapstructure:"serial" yaml:"serial"`
	WebSocket WebSocketConfig `mapstructure:"websocket" yaml:"websocket"`
	Framing   FramingConfig   `mapstructure:"framing" yaml:"framing"`
	Prog      ProgConfig      `mapstructure:"prog" yaml:"prog"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`

	// File is the configuration file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

// Load reads path, or TWESTAGE_CONFIG, or twestage.yaml from the working
// directory or ~/.config/twestage. A missing default file is not an error;
// a missing explicit file is.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = v.GetString("config")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/twestage")
		v.SetConfigName("twestage")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without reading any file or
// environment variable.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks values that the commands cannot fix up themselves.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Framing.Format) {
	case "ascii", "a", "binary", "bin", "b", "":
	default:
		return fmt.Errorf("invalid framing.format %q", c.Framing.Format)
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("invalid serial.baud %d", c.Serial.Baud)
	}
	if c.Prog.BaudDivisor < 1 || c.Prog.BaudDivisor > 0xFF {
		return fmt.Errorf("invalid prog.baudDivisor %d (1..255)", c.Prog.BaudDivisor)
	}
	if c.Framing.MaxLength <= 0 || c.Framing.MaxLength > 0x7FFF {
		return fmt.Errorf("invalid framing.maxLength %d (1..32767)", c.Framing.MaxLength)
	}
	return nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("serial.readTimeout", "100ms")

	v.SetDefault("websocket.url", "")
	v.SetDefault("websocket.username", "")
	v.SetDefault("websocket.noSSLVerify", false)
	v.SetDefault("websocket.textWrites", false)

	v.SetDefault("framing.format", "ascii")
	v.SetDefault("framing.timeout", "1s")
	v.SetDefault("framing.maxLength", 1024)

	v.SetDefault("prog.responseTimeout", "1s")
	v.SetDefault("prog.baudDivisor", 1)
	v.SetDefault("prog.safeMode", false)
	v.SetDefault("prog.resetPin", "dtr")
	v.SetDefault("prog.progPin", "rts")
	v.SetDefault("prog.readTimeout", "10ms")

	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 10)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 28)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("metrics.enable", false)
	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("metrics.path", "/metrics")
}
