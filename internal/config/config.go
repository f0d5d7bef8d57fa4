// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config defines the global configuration structure
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Device    DeviceConfig    `mapstructure:"device"`
	Poll      PollConfig      `mapstructure:"poll"`
	Transport TransportConfig `mapstructure:"transport"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// DeviceConfig defines the polled slave
type DeviceConfig struct {
	Address byte          `mapstructure:"address"` // Modbus slave address
	Timeout time.Duration `mapstructure:"timeout"` // Response timeout per request
}

// PollConfig defines the register polling cadence
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"` // Delay between two register reads
}

// TransportConfig defines how the device is reached
type TransportConfig struct {
	Type   string       `mapstructure:"type"`   // "rtu", "rtu-over-tcp", "local"
	Serial SerialConfig `mapstructure:"serial"` // Used if Type is "rtu"
	Tcp    TcpConfig    `mapstructure:"tcp"`    // Used if Type is "rtu-over-tcp"
	Local  LocalConfig  `mapstructure:"local"`  // Used if Type is "local"
}

// MetricsConfig defines the Prometheus endpoint
type MetricsConfig struct {
	Address string `mapstructure:"address"` // e.g. ":9090", empty disables the endpoint
}

// SimulatorConfig defines the slave-side device simulator
type SimulatorConfig struct {
	Address     byte              `mapstructure:"address"`
	Listen      ListenConfig      `mapstructure:"listen"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// ListenConfig defines where the simulator answers requests
type ListenConfig struct {
	Type   string       `mapstructure:"type"` // "rtu", "rtu-over-tcp"
	Serial SerialConfig `mapstructure:"serial"`
	Tcp    TcpConfig    `mapstructure:"tcp"`
}

// LocalConfig defines settings for the in-process simulated device
type LocalConfig struct {
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap"
	Path string `mapstructure:"path"` // File path for "file/mmap" type
}

// TcpConfig defines TCP settings
type TcpConfig struct {
	Address string `mapstructure:"address"` // e.g. "0.0.0.0:502" or "192.168.1.100:502"
}

// SerialConfig defines RTU settings
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"` // Single read timeout of the port

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

const (
	DefaultDeviceAddress = 1
	DefaultTimeout       = 2000 * time.Millisecond
	DefaultPollInterval  = 300 * time.Millisecond
	DefaultBaudRate      = 115200
	DefaultSerialTimeout = 100 * time.Millisecond
)

// Flags returns the command line flags that override configuration keys.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("dispenser", pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Configuration file path.")
	fs.StringP("transport", "t", "", "Transport type (rtu, rtu-over-tcp, local).")
	fs.StringP("device", "p", "", "Serial port device name.")
	fs.IntP("baud-rate", "s", 0, "Serial port speed.")
	fs.String("parity", "", "Serial parity (N, E, O).")
	fs.String("tcp-address", "", "RTU over TCP address of the device.")
	fs.Uint8P("address", "a", 0, "Modbus address of the device.")
	fs.DurationP("timeout", "W", 0, "Response wait time.")
	fs.Duration("poll-interval", 0, "Delay between register reads.")
	fs.StringP("log-level", "v", "", "Log verbosity level (debug, info, warn, error).")
	fs.StringP("log-file", "L", "", "Log file name ('-' for logging to STDOUT only).")
	fs.String("metrics", "", "Prometheus metrics listen address.")
	return fs
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"transport":     "transport.type",
	"device":        "transport.serial.device",
	"baud-rate":     "transport.serial.baud_rate",
	"parity":        "transport.serial.parity",
	"tcp-address":   "transport.tcp.address",
	"address":       "device.address",
	"timeout":       "device.timeout",
	"poll-interval": "poll.interval",
	"log-level":     "log.level",
	"log-file":      "log.file",
	"metrics":       "metrics.address",
}

// LoadConfig loads configuration from file. configFile may be empty, in which
// case the default locations are searched and a missing file is not an error.
// Flags that were set on fs override file values.
func LoadConfig(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/dispenser/")
		v.AddConfigPath("$HOME/.dispenser")
		v.AddConfigPath(".")
	}

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("device.address", DefaultDeviceAddress)
	v.SetDefault("device.timeout", DefaultTimeout)
	v.SetDefault("poll.interval", DefaultPollInterval)
	v.SetDefault("transport.type", "rtu")
	v.SetDefault("transport.serial.device", "/dev/ttyUSB0")
	v.SetDefault("transport.serial.baud_rate", DefaultBaudRate)
	v.SetDefault("transport.serial.data_bits", 8)
	v.SetDefault("transport.serial.parity", "N")
	v.SetDefault("transport.serial.stop_bits", 1)
	v.SetDefault("transport.local.persistence.type", "memory")
	v.SetDefault("simulator.address", DefaultDeviceAddress)
	v.SetDefault("simulator.listen.type", "rtu-over-tcp")
	v.SetDefault("simulator.listen.tcp.address", "127.0.0.1:5020")
	v.SetDefault("simulator.persistence.type", "memory")

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate / Fixups
	fixupSerial(&config.Transport.Serial)
	fixupSerial(&config.Simulator.Listen.Serial)
	if config.Device.Timeout <= 0 {
		config.Device.Timeout = DefaultTimeout
	}
	if config.Poll.Interval <= 0 {
		config.Poll.Interval = DefaultPollInterval
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks values that have no sensible fixup.
func (c *Config) Validate() error {
	switch c.Transport.Type {
	case "rtu":
		if c.Transport.Serial.Device == "" {
			return fmt.Errorf("transport.serial.device is required for rtu transport")
		}
	case "rtu-over-tcp":
		if c.Transport.Tcp.Address == "" {
			return fmt.Errorf("transport.tcp.address is required for rtu-over-tcp transport")
		}
	case "local":
	default:
		return fmt.Errorf("unknown transport type %q", c.Transport.Type)
	}
	if c.Device.Address == 0 || c.Device.Address > 247 {
		return fmt.Errorf("device.address %d out of range 1-247", c.Device.Address)
	}
	return nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "" {
		s.Parity = "N"
	}
	if s.BaudRate == 0 {
		s.BaudRate = DefaultBaudRate
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultSerialTimeout
	}
}
