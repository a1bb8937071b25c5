package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"
)

// unmarshalConf tells koanf to key off this package's "yaml" struct tags
// rather than its own default "koanf" tag, since EngineConfig's tags are
// shared with its own YAML (de)serialization.
var unmarshalConf = koanf.UnmarshalConf{
	DecoderConfig: &mapstructure.DecoderConfig{
		TagName: "yaml",
	},
}

// Load reads an EngineConfig from a YAML file at path, applying defaults
// and validating the result. An empty path returns a default-only config
// — the engine is usable with no config file at all.
func Load(path string) (*EngineConfig, error) {
	cfg := &EngineConfig{}
	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %q: %w", path, err)
		}
		if err := k.UnmarshalWithConf("", cfg, unmarshalConf); err != nil {
			return nil, fmt.Errorf("config: unmarshal %q: %w", path, err)
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
