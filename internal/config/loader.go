package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "AQICAST_"

// Load layers configuration, lowest precedence first:
//  1. defaults (New)
//  2. YAML file at path, or at $AQICAST_CONFIG when path is empty
//  3. AQICAST_ environment variables; "__" separates sections, so
//     AQICAST_STATION__TOKEN sets station.token
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	envProvider := env.ProviderWithValue(envPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.TrimPrefix(key, envPrefix)
		if key == "CONFIG" {
			return "", nil
		}
		key = strings.ReplaceAll(strings.ToLower(key), "__", ".")
		if strings.Contains(value, ",") {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return key, parts
		}
		return key, value
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %v", ErrLoadConfig, err)
	}

	cfg := New()
	// Lists replace their defaults instead of merging element-wise.
	for key, list := range map[string]*[]string{
		"training.pollutants":      &cfg.Training.Pollutants,
		"training.weather_columns": &cfg.Training.WeatherColumns,
		"training.flag_columns":    &cfg.Training.FlagColumns,
	} {
		if k.Exists(key) {
			*list = nil
		}
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
