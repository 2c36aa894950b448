// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Output drivers.
const (
	DriverNone    = "none"
	DriverPCA9685 = "pca9685"
	DriverMaestro = "maestro"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker            string
	MQTTClientIDAllocator string
	MQTTClientIDWeb       string
	MQTTClientIDConsole   string
	MQTTClientIDDisplay   string
	MQTTClientIDPilot     string

	// Topics
	TopicVehicleStatus   string
	TopicControlSetpoint string
	TopicActuatorOutputs string
	TopicAllocatorStatus string
	TopicParamSet        string

	// Airframe parameters (YAML)
	ParamFile string

	// Timing
	ControlInterval       int // milliseconds
	PublishInterval       int // milliseconds, actuator output telemetry
	ConsoleLogInterval    int // milliseconds
	PilotInterval         int // milliseconds
	DisplayUpdateInterval int // milliseconds

	// Output stage
	OutputDriver      string // "none", "pca9685" or "maestro"
	PCA9685I2CBus     string // empty selects the first bus
	PCA9685I2CAddr    uint16
	PWMFrequency      int // Hz
	MaestroSerialPort string
	MaestroBaudRate   int
	PulseMinUs        float64
	PulseMaxUs        float64

	// Servers
	WebServerPort int
	MetricsPort   int // 0 disables the metrics endpoint

	// Logging
	LogFile       string // empty logs to stderr only
	LogMaxSizeMB  int
	LogMaxBackups int
}

// Default returns a Config with every optional value filled in.
func Default() *Config {
	return &Config{
		MQTTClientIDAllocator: "heli-allocator",
		MQTTClientIDWeb:       "heli-web",
		MQTTClientIDConsole:   "heli-console",
		MQTTClientIDDisplay:   "heli-display",
		MQTTClientIDPilot:     "heli-mock-pilot",

		TopicVehicleStatus:   "heli/vehicle_status",
		TopicControlSetpoint: "heli/control_setpoint",
		TopicActuatorOutputs: "heli/actuator_outputs",
		TopicAllocatorStatus: "heli/allocator_status",
		TopicParamSet:        "heli/param_set",

		ControlInterval:       4,
		PublishInterval:       50,
		ConsoleLogInterval:    500,
		PilotInterval:         20,
		DisplayUpdateInterval: 200,

		OutputDriver:    DriverNone,
		PCA9685I2CAddr:  0x40,
		PWMFrequency:    50,
		MaestroBaudRate: 115200,
		PulseMinUs:      1000,
		PulseMaxUs:      2000,

		WebServerPort: 8080,
		MetricsPort:   9100,

		LogMaxSizeMB:  10,
		LogMaxBackups: 3,
	}
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func positiveInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, v)
	}
	return v, nil
}

func i2cAddr(key, value string) (uint16, error) {
	addr, err := strconv.ParseUint(value, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if addr > 0x7f {
		return 0, fmt.Errorf("%s must be a 7-bit address, got 0x%X", key, addr)
	}
	return uint16(addr), nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_ALLOCATOR":
		c.MQTTClientIDAllocator = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value
	case "MQTT_CLIENT_ID_PILOT":
		c.MQTTClientIDPilot = value

	// Topics
	case "TOPIC_VEHICLE_STATUS":
		c.TopicVehicleStatus = value
	case "TOPIC_CONTROL_SETPOINT":
		c.TopicControlSetpoint = value
	case "TOPIC_ACTUATOR_OUTPUTS":
		c.TopicActuatorOutputs = value
	case "TOPIC_ALLOCATOR_STATUS":
		c.TopicAllocatorStatus = value
	case "TOPIC_PARAM_SET":
		c.TopicParamSet = value

	case "PARAM_FILE":
		c.ParamFile = value

	// Timing
	case "CONTROL_INTERVAL":
		c.ControlInterval, err = positiveInt(key, value)
	case "PUBLISH_INTERVAL":
		c.PublishInterval, err = positiveInt(key, value)
	case "CONSOLE_LOG_INTERVAL":
		c.ConsoleLogInterval, err = positiveInt(key, value)
	case "PILOT_INTERVAL":
		c.PilotInterval, err = positiveInt(key, value)
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = positiveInt(key, value)

	// Output stage
	case "OUTPUT_DRIVER":
		switch value {
		case DriverNone, DriverPCA9685, DriverMaestro:
			c.OutputDriver = value
		default:
			return fmt.Errorf("OUTPUT_DRIVER must be %s, %s or %s, got %q", DriverNone, DriverPCA9685, DriverMaestro, value)
		}
	case "PCA9685_I2C_BUS":
		c.PCA9685I2CBus = value
	case "PCA9685_I2C_ADDR":
		c.PCA9685I2CAddr, err = i2cAddr(key, value)
	case "PWM_FREQUENCY":
		c.PWMFrequency, err = positiveInt(key, value)
	case "MAESTRO_SERIAL_PORT":
		c.MaestroSerialPort = value
	case "MAESTRO_BAUD_RATE":
		c.MaestroBaudRate, err = positiveInt(key, value)
	case "PULSE_MIN_US":
		c.PulseMinUs, err = strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid PULSE_MIN_US %q: %w", value, err)
		}
	case "PULSE_MAX_US":
		c.PulseMaxUs, err = strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid PULSE_MAX_US %q: %w", value, err)
		}

	// Servers
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = positiveInt(key, value)
	case "METRICS_PORT":
		port, perr := strconv.Atoi(value)
		if perr != nil || port < 0 {
			return fmt.Errorf("invalid METRICS_PORT %q", value)
		}
		c.MetricsPort = port

	// Logging
	case "LOG_FILE":
		c.LogFile = value
	case "LOG_MAX_SIZE_MB":
		c.LogMaxSizeMB, err = positiveInt(key, value)
	case "LOG_MAX_BACKUPS":
		backups, berr := strconv.Atoi(value)
		if berr != nil || backups < 0 {
			return fmt.Errorf("invalid LOG_MAX_BACKUPS %q", value)
		}
		c.LogMaxBackups = backups

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.ParamFile == "" {
		return fmt.Errorf("PARAM_FILE is required")
	}
	if !(c.PulseMaxUs > c.PulseMinUs) || c.PulseMinUs < 0 {
		return fmt.Errorf("PULSE_MIN_US (%g) must be non-negative and below PULSE_MAX_US (%g)", c.PulseMinUs, c.PulseMaxUs)
	}
	if c.OutputDriver == DriverMaestro && c.MaestroSerialPort == "" {
		return fmt.Errorf("MAESTRO_SERIAL_PORT is required for the maestro driver")
	}
	if c.OutputDriver == DriverPCA9685 && c.PWMFrequency > 1526 {
		return fmt.Errorf("PWM_FREQUENCY must be at most 1526 Hz for the pca9685 driver, got %d", c.PWMFrequency)
	}
	return nil
}

// InitGlobal initializes the global configuration from file.
// Only the first call has any effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
