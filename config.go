package NetMonitor

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 监视服务的配置
type Config struct {
	// Backend 路由监听后端: static, netlink, reachability, auto
	Backend string `yaml:"backend"`

	// Matcher 可达性匹配实现: linear, trie
	Matcher string `yaml:"matcher"`

	// SeedDefaults 启动时是否预置 0.0.0.0/0 与 ::/0
	SeedDefaults bool `yaml:"seed_defaults"`

	// StaticRanges static 后端使用的地址段，CIDR 格式
	StaticRanges []string `yaml:"static_ranges"`

	// PollInterval reachability 后端的轮询间隔
	PollInterval time.Duration `yaml:"poll_interval"`

	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// StorageConfig 地址段持久化配置
type StorageConfig struct {
	// Driver memory（默认）, mysql, postgres
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`

	// Restore 启动时用存储中的地址段预置监视器
	Restore bool `yaml:"restore"`
}

// SQLConfig 转换为 SQL 存储的连接配置
func (c StorageConfig) SQLConfig() SQLConfig {
	return SQLConfig{
		DriverName:      c.Driver,
		DataSourceName:  c.DSN,
		MaxOpenConns:    c.MaxOpenConns,
		MaxIdleConns:    c.MaxIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
	}
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Backend:      string(BackendAuto),
		Matcher:      string(MatcherLinear),
		SeedDefaults: true,
		PollInterval: DefaultPollInterval,
		Storage: StorageConfig{
			Driver: "memory",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// ParseConfig 解析 YAML 配置，未出现的字段保留默认值
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: 解析配置失败: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig 从文件读取配置
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}
	return ParseConfig(data)
}

// Validate 检查配置
func (c Config) Validate() error {
	if _, err := ParseBackendKind(c.Backend); err != nil {
		return err
	}
	if _, err := ParseMatcherKind(c.Matcher); err != nil {
		return err
	}
	if _, err := c.Ranges(); err != nil {
		return err
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("%w: poll_interval 不能为负数", ErrInvalidConfig)
	}
	switch c.Storage.Driver {
	case "", "memory":
	case "mysql", "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: %s 存储需要 dsn", ErrInvalidConfig, c.Storage.Driver)
		}
	default:
		return fmt.Errorf("%w: 不支持的存储 %q (支持: memory, mysql, postgres)", ErrInvalidConfig, c.Storage.Driver)
	}
	if _, err := parseLogLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("%w: 不支持的日志格式 %q (支持: console, json)", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// Ranges 解析 StaticRanges
func (c Config) Ranges() ([]AddressRange, error) {
	ranges := make([]AddressRange, 0, len(c.StaticRanges))
	for _, s := range c.StaticRanges {
		r, err := ParseRange(s)
		if err != nil {
			return nil, fmt.Errorf("%w: static_ranges: %v", ErrInvalidConfig, err)
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}
