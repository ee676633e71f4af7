package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// GenerateTemplateConfig returns the default configuration and, when
// writeToFile is set, writes it to config.yaml in the working directory.
func GenerateTemplateConfig(writeToFile bool) (Config, error) {
	cfg := Config{
		LogLevel:     "info",
		APIServer:    "127.0.0.1:9000",
		SettingsFile: DefaultSettingsFile,
		Engine: EngineConfig{
			MaxRules:       0,
			ParseCacheSize: DefaultParseCacheSize,
		},
		ReservedPorts:  append([]int(nil), DefaultReservedPorts...),
		LocalAddresses: []string{"192.168.1.1", "fe80::/10"},
	}

	if writeToFile {
		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to marshal template config to YAML: %w", err)
		}
		if err := os.WriteFile("config.yaml", data, 0644); err != nil {
			return Config{}, fmt.Errorf("failed to write template config to file: %w", err)
		}
	}
	return cfg, nil
}
