// Package config loads the YAML file describing channels, the sample
// source and the display defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sleepywoodpecker/rp-goes-plot/internal/plot"
	"sleepywoodpecker/rp-goes-plot/internal/processing"
	"sleepywoodpecker/rp-goes-plot/internal/sample"
)

const (
	SourceGenerator	= "generator"
	SourceCard			= "card"
	SourceSerial		= "serial"
)

var ErrInvalid = errors.New("invalid configuration")

type ChannelConfig struct {
	Name    string `yaml:"name"`
	Color   string `yaml:"color"`
	Port    string `yaml:"port"`
	Enabled bool   `yaml:"enabled"`
}

type CardConfig struct {
	Address string        `yaml:"address"`
	Timeout time.Duration `yaml:"timeout"`
}

type SerialConfig struct {
	Port     string `yaml:"port"`
	Baudrate int    `yaml:"baudrate"`
	Framing  string `yaml:"framing"`
	RawLog   string `yaml:"raw_log"`
}

type SourceConfig struct {
	Kind         string        `yaml:"kind"`
	SamplePeriod time.Duration `yaml:"sample_period"`
	Card         CardConfig    `yaml:"card"`
	Serial       SerialConfig  `yaml:"serial"`
}

type StyleConfig struct {
	Line    bool `yaml:"line"`
	Scatter bool `yaml:"scatter"`
}

type TelemetryConfig struct {
	Address     string        `yaml:"address"`
	Period      time.Duration `yaml:"period"`
	Measurement string        `yaml:"measurement"`
}

type MetricsConfig struct {
	Address string `yaml:"address"`
}

type Config struct {
	LogFile     string          `yaml:"log_file"`
	XAxis       string          `yaml:"x_axis"`
	WindowRange float64         `yaml:"window_range"`
	XLabel      string          `yaml:"x_label"`
	YLabel      string          `yaml:"y_label"`
	Style       StyleConfig     `yaml:"style"`
	Channels    []ChannelConfig `yaml:"channels"`
	Source      SourceConfig    `yaml:"source"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Metrics     MetricsConfig   `yaml:"metrics"`
}

// Default is the configuration used when no file is given: four generated
// channels, the first one plotted against time.
func Default() Config {
	return Config{
		LogFile:     "rplot.logs",
		XAxis:       sample.XAxisTime.String(),
		WindowRange: processing.DefaultWindowRange,
		XLabel:      "Time (s)",
		YLabel:      "Voltage (V)",
		Style:       StyleConfig{Line: true},
		Channels: []ChannelConfig{
			{Name: "Channel 1", Color: "m", Port: "101", Enabled: true},
			{Name: "Channel 2", Color: "b", Port: "102"},
			{Name: "Channel 3", Color: "g", Port: "103"},
			{Name: "Channel 4", Color: "r", Port: "104"},
		},
		Source: SourceConfig{
			Kind:         SourceGenerator,
			SamplePeriod: 250 * time.Millisecond,
			Card:         CardConfig{Timeout: 2 * time.Second},
			Serial:       SerialConfig{Baudrate: 115200, Framing: "line"},
		},
		Telemetry: TelemetryConfig{
			Period:      100 * time.Millisecond,
			Measurement: "plotvals",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func (c *Config) Validate() error {
	if len(c.Channels) == 0 || len(c.Channels) > sample.NumChannels {
		return invalid("need between 1 and %d channels, got %d", sample.NumChannels, len(c.Channels))
	}
	for i, ch := range c.Channels {
		if ch.Name == "" {
			return invalid("channel %d has no name", i + 1)
		}
		if _, err := plot.ParseColor(ch.Color); err != nil {
			return invalid("channel %s: %v", ch.Name, err)
		}
	}

	mode, err := sample.ParseXAxisMode(c.XAxis)
	if err != nil {
		return invalid("%v", err)
	}
	if !mode.IsTime() && mode.Channel() >= len(c.Channels) {
		return invalid("x axis %s has no configured channel", mode)
	}
	if c.Selection().Plotted(mode).Empty() {
		return invalid("no channel enabled besides the x axis")
	}

	if c.WindowRange <= 0 {
		return invalid("window_range must be positive, got %v", c.WindowRange)
	}
	if c.Source.SamplePeriod <= 0 {
		return invalid("source.sample_period must be positive")
	}

	switch c.Source.Kind {
	case SourceGenerator:
	case SourceCard:
		if c.Source.Card.Address == "" {
			return invalid("source.card.address is required")
		}
	case SourceSerial:
		if c.Source.Serial.Port == "" {
			return invalid("source.serial.port is required")
		}
		if c.Source.Serial.Baudrate <= 0 {
			return invalid("source.serial.baudrate must be positive")
		}
		if c.Source.Serial.Framing != "line" && c.Source.Serial.Framing != "packet" {
			return invalid("source.serial.framing must be line or packet, got %q", c.Source.Serial.Framing)
		}
	default:
		return invalid("unknown source kind %q", c.Source.Kind)
	}

	if c.Telemetry.Address != "" && c.Telemetry.Period <= 0 {
		return invalid("telemetry.period must be positive")
	}
	return nil
}

func (c *Config) SampleChannels() []sample.Channel {
	out := make([]sample.Channel, len(c.Channels))
	for i, ch := range c.Channels {
		out[i] = sample.Channel{
			Index: i,
			Name:  ch.Name,
			Color: ch.Color,
			Port:  ch.Port,
		}
	}
	return out
}

// Selection is the set of channels enabled at startup.
func (c *Config) Selection() sample.Selection {
	var sel sample.Selection
	for i, ch := range c.Channels {
		if i < sample.NumChannels {
			sel[i] = ch.Enabled
		}
	}
	return sel
}

// XAxisMode assumes a validated config.
func (c *Config) XAxisMode() sample.XAxisMode {
	mode, _ := sample.ParseXAxisMode(c.XAxis)
	return mode
}

func (c *Config) Window() processing.Window {
	return processing.NewWindow(c.WindowRange).ForMode(c.XAxisMode())
}

func (c *Config) PlotStyle() plot.Style {
	return plot.Style{Line: c.Style.Line, Scatter: c.Style.Scatter}
}
