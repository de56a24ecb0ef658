package NetMonitor

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Backend != "auto" || cfg.Matcher != "linear" || !cfg.SeedDefaults {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, DefaultPollInterval)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("Storage.Driver = %q, want memory", cfg.Storage.Driver)
	}
}

// TestParseConfig 未出现的字段保留默认值
func TestParseConfig(t *testing.T) {
	data := []byte(`
backend: static
matcher: trie
static_ranges:
  - 10.0.0.0/24
  - fe80::/64
poll_interval: 30s
storage:
  driver: mysql
  dsn: "user:pass@tcp(localhost:3306)/netmonitor?parseTime=true"
  max_open_conns: 4
  conn_max_lifetime: 5m
  restore: true
log:
  level: debug
`)

	cfg, err := ParseConfig(data)
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}

	if cfg.Backend != "static" || cfg.Matcher != "trie" {
		t.Errorf("backend/matcher = %q/%q", cfg.Backend, cfg.Matcher)
	}
	if !cfg.SeedDefaults {
		t.Error("seed_defaults should keep its default")
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.PollInterval)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("log = %+v", cfg.Log)
	}

	ranges, err := cfg.Ranges()
	if err != nil {
		t.Fatalf("Ranges failed: %v", err)
	}
	if !reflect.DeepEqual(ranges, []AddressRange{net10, netfe80}) {
		t.Errorf("Ranges() = %v", ranges)
	}

	sqlCfg := cfg.Storage.SQLConfig()
	want := SQLConfig{
		DriverName:      "mysql",
		DataSourceName:  "user:pass@tcp(localhost:3306)/netmonitor?parseTime=true",
		MaxOpenConns:    4,
		ConnMaxLifetime: 5 * time.Minute,
	}
	if sqlCfg != want {
		t.Errorf("SQLConfig() = %+v, want %+v", sqlCfg, want)
	}
	if !cfg.Storage.Restore {
		t.Error("storage.restore should be true")
	}

	// seed_defaults 可以显式关闭
	cfg, err = ParseConfig([]byte("seed_defaults: false\n"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if cfg.SeedDefaults {
		t.Error("seed_defaults: false should be honored")
	}
}

// TestParseConfig_Invalid 测试非法配置
func TestParseConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"yaml syntax":     "backend: [static",
		"unknown backend": "backend: networkmanager",
		"unknown matcher": "matcher: radix",
		"bad range":       "static_ranges: [10.0.0.1/33]",
		"negative poll":   "poll_interval: -1s",
		"unknown storage": "storage: {driver: sqlite}",
		"missing dsn":     "storage: {driver: postgres}",
		"bad log level":   "log: {level: verbose}",
		"bad log format":  "log: {format: xml}",
		"bad duration":    "poll_interval: soon",
	}

	for name, data := range tests {
		if _, err := ParseConfig([]byte(data)); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: ParseConfig should fail with ErrInvalidConfig, got %v", name, err)
		}
	}

	// 主机位会被清零，不是错误
	cfg, err := ParseConfig([]byte("static_ranges: [10.0.0.1/24]"))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	ranges, _ := cfg.Ranges()
	if len(ranges) != 1 || ranges[0] != net10 {
		t.Errorf("Ranges() = %v, want [10.0.0.0/24]", ranges)
	}
}

// TestLoadConfig 从文件读取配置
func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "netmonitor.yaml")
	if err := os.WriteFile(path, []byte("backend: reachability\npoll_interval: 2s\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Backend != "reachability" || cfg.PollInterval != 2*time.Second {
		t.Errorf("unexpected config: %+v", cfg)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadConfig of missing file should fail with os.ErrNotExist, got %v", err)
	}
}

// TestNewLogger 测试日志配置
func TestNewLogger(t *testing.T) {
	for _, format := range []string{"", "console", "json"} {
		logger, err := NewLogger(LogConfig{Level: "warn", Format: format})
		if err != nil {
			t.Fatalf("NewLogger(%q) failed: %v", format, err)
		}
		if logger.Core().Enabled(zapcore.InfoLevel) {
			t.Errorf("format %q: info should be disabled at warn level", format)
		}
		if !logger.Core().Enabled(zapcore.WarnLevel) {
			t.Errorf("format %q: warn should be enabled", format)
		}
	}

	if _, err := NewLogger(LogConfig{Format: "xml"}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewLogger with bad format should fail, got %v", err)
	}
	if _, err := NewLogger(LogConfig{Level: "loud"}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewLogger with bad level should fail, got %v", err)
	}
}
