package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

// resetViper clears global viper state and installs the defaults, as
// initConfig in cmd does.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	SetDefaults()
}

// writeConfigFile writes YAML content to a temp file and merges it into viper.
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	viper.SetConfigFile(path)
	if err := viper.MergeInConfig(); err != nil {
		t.Fatalf("failed to merge config file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	resetViper(t)

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"LogLevel", cfg.LogLevel, "info"},
		{"APIServer", cfg.APIServer, ""},
		{"SettingsFile", cfg.SettingsFile, DefaultSettingsFile},
		{"StatsFile", cfg.StatsFile, ""},
		{"Engine.MaxRules", cfg.Engine.MaxRules, 0},
		{"Engine.ParseCacheSize", cfg.Engine.ParseCacheSize, DefaultParseCacheSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	if !reflect.DeepEqual(cfg.ReservedPorts, DefaultReservedPorts) {
		t.Errorf("ReservedPorts = %v, want %v", cfg.ReservedPorts, DefaultReservedPorts)
	}
	if got := cfg.ReservedPortList(); len(got) != 3 || got[0] != 22 {
		t.Errorf("ReservedPortList = %v", got)
	}
}

func TestConfigFromFile(t *testing.T) {
	resetViper(t)
	writeConfigFile(t, `
log-level: DEBUG
api-server: 0.0.0.0:9000
api-server-secret: s3cret
settings-file: /tmp/settings.yaml
stats-file: /tmp/hits
engine:
  max-rules: 500
  parse-cache-size: 128
reserved-ports: [22, 8443]
local-addresses:
  - 192.168.1.1
  - " 10.0.0.0/8 "
`)

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.APIServer != "0.0.0.0:9000" {
		t.Errorf("APIServer = %v", cfg.APIServer)
	}
	if cfg.APIServerSecret != "s3cret" {
		t.Errorf("APIServerSecret = %v", cfg.APIServerSecret)
	}
	if cfg.SettingsFile != "/tmp/settings.yaml" || cfg.StatsFile != "/tmp/hits" {
		t.Errorf("files = %v %v", cfg.SettingsFile, cfg.StatsFile)
	}
	if cfg.Engine.MaxRules != 500 || cfg.Engine.ParseCacheSize != 128 {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if !reflect.DeepEqual(cfg.ReservedPorts, []int{22, 8443}) {
		t.Errorf("ReservedPorts = %v", cfg.ReservedPorts)
	}
	if !reflect.DeepEqual(cfg.LocalAddresses, []string{"192.168.1.1", "10.0.0.0/8"}) {
		t.Errorf("LocalAddresses = %q", cfg.LocalAddresses)
	}
}

func TestCommaSeparatedLists(t *testing.T) {
	resetViper(t)
	viper.Set("reserved-ports", "22,80")
	viper.Set("local-addresses", "10.0.0.1,fe80::/10")

	cfg, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(cfg.ReservedPorts, []int{22, 80}) {
		t.Errorf("ReservedPorts = %v", cfg.ReservedPorts)
	}
	if len(cfg.LocalAddresses) != 2 || cfg.LocalAddresses[1] != "fe80::/10" {
		t.Errorf("LocalAddresses = %q", cfg.LocalAddresses)
	}
}

func TestInvalidConfig(t *testing.T) {
	cases := map[string]func(){
		"log level":      func() { viper.Set("log-level", "loud") },
		"api address":    func() { viper.Set("api-server", "nowhere") },
		"settings file":  func() { viper.Set("settings-file", "") },
		"max rules":      func() { viper.Set("engine.max-rules", -1) },
		"reserved port":  func() { viper.Set("reserved-ports", []int{0}) },
		"local address":  func() { viper.Set("local-addresses", []string{"router"}) },
		"parse cache":    func() { viper.Set("engine.parse-cache-size", -5) },
		"reserved range": func() { viper.Set("reserved-ports", []int{70000}) },
	}
	for name, set := range cases {
		t.Run(name, func(t *testing.T) {
			resetViper(t)
			set()
			if _, err := BuildConfigFromViper(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLogValueHidesSecret(t *testing.T) {
	cfg := &Config{LogLevel: "info", APIServerSecret: "s3cret"}
	v := cfg.LogValue().String()
	if strings.Contains(v, "s3cret") {
		t.Errorf("secret leaked: %s", v)
	}
}

func TestGenerateTemplateConfig(t *testing.T) {
	cfg, err := GenerateTemplateConfig(false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		t.Fatalf("yaml.Marshal: %v", err)
	}

	// The template must load back through the normal path.
	resetViper(t)
	writeConfigFile(t, string(data))
	got, err := BuildConfigFromViper()
	if err != nil {
		t.Fatalf("template does not validate: %v", err)
	}
	if got.APIServer != cfg.APIServer || got.Engine != cfg.Engine {
		t.Errorf("round trip = %+v, want %+v", got, cfg)
	}
	if !reflect.DeepEqual(got.LocalAddresses, cfg.LocalAddresses) {
		t.Errorf("LocalAddresses = %v", got.LocalAddresses)
	}
}
