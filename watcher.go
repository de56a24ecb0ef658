package NetMonitor

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// BackendKind 路由监听后端
type BackendKind string

const (
	// BackendStatic 只使用配置中的静态地址段
	BackendStatic BackendKind = "static"
	// BackendNetlink 通过 Linux netlink 监听路由表
	BackendNetlink BackendKind = "netlink"
	// BackendReachability 轮询网络接口推导可达地址段，所有平台可用
	BackendReachability BackendKind = "reachability"
	// BackendAuto 按平台选择：Linux 上为 netlink，其它平台为 reachability
	BackendAuto BackendKind = "auto"
)

// DefaultPollInterval reachability 后端的默认轮询间隔
const DefaultPollInterval = 5 * time.Second

// ParseBackendKind 解析后端名称，空字符串视为 auto
func ParseBackendKind(s string) (BackendKind, error) {
	switch BackendKind(s) {
	case "", BackendAuto:
		return BackendAuto, nil
	case BackendStatic, BackendNetlink, BackendReachability:
		return BackendKind(s), nil
	default:
		return "", fmt.Errorf("%w: 未知的后端 %q (支持: static, netlink, reachability, auto)", ErrInvalidConfig, s)
	}
}

// Resolve 把 auto 解析为当前平台的具体后端
func (k BackendKind) Resolve() BackendKind {
	if k != BackendAuto && k != "" {
		return k
	}
	if runtime.GOOS == "linux" {
		return BackendNetlink
	}
	return BackendReachability
}

// RangeSink 接收路由变化的一方，通常就是 *Monitor
type RangeSink interface {
	AddRange(r AddressRange) (bool, error)
	RemoveRange(r AddressRange) (bool, error)
	SetRanges(ranges []AddressRange) (bool, error)
}

// Watcher 把平台的路由信息推送给 RangeSink
type Watcher interface {
	// Kind 返回后端类型
	Kind() BackendKind

	// Run 持续推送，直到 ctx 取消（返回 nil）或发生不可恢复的错误
	Run(ctx context.Context, sink RangeSink) error
}

// WatcherConfig 创建 Watcher 的参数
type WatcherConfig struct {
	Kind BackendKind

	// StaticRanges static 后端推送的地址段
	StaticRanges []AddressRange

	// PollInterval reachability 后端的轮询间隔
	PollInterval time.Duration

	// Interfaces reachability 后端获取网络接口的方式，nil 时使用系统接口
	Interfaces InterfaceLister

	Clock  clock.Clock
	Logger *zap.Logger
}

// NewWatcher 根据配置创建 Watcher
func NewWatcher(cfg WatcherConfig) (Watcher, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	switch kind := cfg.Kind.Resolve(); kind {
	case BackendStatic:
		return NewStaticWatcher(cfg.StaticRanges, cfg.Logger), nil
	case BackendReachability:
		return NewPollingWatcher(cfg.Interfaces, cfg.PollInterval, cfg.Clock, cfg.Logger), nil
	case BackendNetlink:
		w, err := NewNetlinkWatcher(cfg.Logger)
		if err != nil {
			return nil, err
		}
		return w, nil
	default:
		return nil, fmt.Errorf("%w: 未知的后端 %q", ErrInvalidConfig, kind)
	}
}

// StaticWatcher 启动时推送一组固定的地址段
type StaticWatcher struct {
	ranges []AddressRange
	logger *zap.Logger
}

// NewStaticWatcher 创建 StaticWatcher
func NewStaticWatcher(ranges []AddressRange, logger *zap.Logger) *StaticWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaticWatcher{
		ranges: append([]AddressRange(nil), ranges...),
		logger: logger,
	}
}

// Kind 实现 Watcher 接口
func (w *StaticWatcher) Kind() BackendKind {
	return BackendStatic
}

// Run 实现 Watcher 接口
func (w *StaticWatcher) Run(ctx context.Context, sink RangeSink) error {
	if err := ctx.Err(); err != nil {
		return nil
	}
	if _, err := sink.SetRanges(w.ranges); err != nil {
		return fmt.Errorf("设置静态地址段失败: %w", err)
	}
	w.logger.Info("已加载静态地址段", zap.Int("count", len(w.ranges)))

	<-ctx.Done()
	return nil
}
