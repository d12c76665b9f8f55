// Package config resolves the command-line configuration from flags, the
// environment and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/daimatz/gojasm/pkg/derrors"
)

// Keys understood in the config file and as GOJASM_* environment variables
// (dashes become underscores).
const (
	KeyWorkers  = "workers"
	KeyLogLevel = "log-level"
	KeyColor    = "color"
)

const (
	envPrefix = "GOJASM"
	fileName  = ".gojasm"
)

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// Config is the resolved configuration.
type Config struct {
	// Workers bounds how many classes are processed at once.
	Workers  int
	LogLevel zerolog.Level
	Color    string
	// File is the config file that was read, if any.
	File string
}

// New returns a viper instance with defaults and environment binding set
// up. Flags are bound to it by the caller.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyWorkers, 0)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyColor, ColorAuto)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile reads path into v. With an empty path it looks for
// $HOME/.gojasm.yaml and tolerates its absence.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", path, err)
		}
		return nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return fmt.Errorf("finding home directory: %w", err)
	}
	v.AddConfigPath(home)
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}

// Resolve validates the values in v.
func Resolve(v *viper.Viper) (*Config, error) {
	c := &Config{
		Workers: v.GetInt(KeyWorkers),
		Color:   strings.ToLower(v.GetString(KeyColor)),
		File:    v.ConfigFileUsed(),
	}
	if c.Workers < 0 {
		return nil, derrors.Errorf(derrors.InvalidArgument, "%s must not be negative, got %d", KeyWorkers, c.Workers)
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(v.GetString(KeyLogLevel)))
	if err != nil {
		return nil, derrors.Errorf(derrors.InvalidArgument, "%s: %v", KeyLogLevel, err)
	}
	c.LogLevel = level
	switch c.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return nil, derrors.Errorf(derrors.InvalidArgument, "%s must be auto, always or never, got %q", KeyColor, c.Color)
	}
	return c, nil
}

// UseColor reports whether output should be coloured, given whether the
// destination is a terminal.
func (c *Config) UseColor(terminal bool) bool {
	switch c.Color {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	return terminal
}
