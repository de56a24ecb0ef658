package NetMonitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service 把配置、存储、监视器、记录器与路由监听后端组装在一起
type Service struct {
	cfg      Config
	logger   *zap.Logger
	monitor  *Monitor
	storage  RangeStorage
	recorder *Recorder
	watcher  Watcher

	ready     chan struct{}
	readyOnce sync.Once
}

// ServiceOption Service 选项
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	storage    RangeStorage
	watcher    Watcher
	clock      clock.Clock
	interfaces InterfaceLister
}

// WithServiceLogger 设置日志，不设置时按配置创建
func WithServiceLogger(logger *zap.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithRegisterer 注册 Prometheus 指标
func WithRegisterer(reg prometheus.Registerer) ServiceOption {
	return func(o *serviceOptions) {
		o.registerer = reg
	}
}

// WithStorage 使用给定的存储，忽略配置中的存储设置
func WithStorage(storage RangeStorage) ServiceOption {
	return func(o *serviceOptions) {
		o.storage = storage
	}
}

// WithWatcher 使用给定的路由监听后端，忽略配置中的后端设置
func WithWatcher(w Watcher) ServiceOption {
	return func(o *serviceOptions) {
		o.watcher = w
	}
}

// WithClock 设置时钟，用于轮询与可用性记录
func WithClock(clk clock.Clock) ServiceOption {
	return func(o *serviceOptions) {
		o.clock = clk
	}
}

// WithInterfaces 设置 reachability 后端获取网络接口的方式
func WithInterfaces(l InterfaceLister) ServiceOption {
	return func(o *serviceOptions) {
		o.interfaces = l
	}
}

// NewService 根据配置创建 Service
func NewService(ctx context.Context, cfg Config, opts ...ServiceOption) (*Service, error) {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}

	logger := o.logger
	if logger == nil {
		var err error
		if logger, err = NewLogger(cfg.Log); err != nil {
			return nil, err
		}
	}

	var metrics *Metrics
	if o.registerer != nil {
		var err error
		if metrics, err = NewMetrics(o.registerer); err != nil {
			return nil, fmt.Errorf("注册指标失败: %w", err)
		}
	}

	storage := o.storage
	if storage == nil {
		var err error
		if storage, err = openStorage(ctx, cfg.Storage); err != nil {
			return nil, err
		}
	}

	matcher, _ := ParseMatcherKind(cfg.Matcher)
	monitorOpts := []Option{
		WithLogger(logger.Named("monitor")),
		WithMetrics(metrics),
		WithMatcher(matcher),
		WithDefaultRanges(cfg.SeedDefaults),
	}
	if cfg.Storage.Restore {
		restored, err := RestoreRanges(ctx, storage)
		if err != nil {
			return nil, multierr.Append(err, storage.Close())
		}
		if len(restored) > 0 {
			monitorOpts = append(monitorOpts, WithDefaultRanges(false), WithInitialRanges(restored...))
			logger.Info("已从存储恢复地址段", zap.Int("count", len(restored)))
		}
	}

	monitor, err := NewMonitor(monitorOpts...)
	if err != nil {
		return nil, multierr.Append(err, storage.Close())
	}

	watcher := o.watcher
	if watcher == nil {
		backend, _ := ParseBackendKind(cfg.Backend)
		static, _ := cfg.Ranges()
		watcher, err = NewWatcher(WatcherConfig{
			Kind:         backend,
			StaticRanges: static,
			PollInterval: cfg.PollInterval,
			Interfaces:   o.interfaces,
			Clock:        o.clock,
			Logger:       logger.Named("watcher"),
		})
		if err != nil {
			return nil, multierr.Append(err, storage.Close())
		}
	}

	return &Service{
		cfg:      cfg,
		logger:   logger,
		monitor:  monitor,
		storage:  storage,
		recorder: NewRecorder(monitor, storage, o.clock, logger.Named("recorder")),
		watcher:  watcher,
		ready:    make(chan struct{}),
	}, nil
}

func openStorage(ctx context.Context, cfg StorageConfig) (RangeStorage, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryRangeStorage(), nil
	default:
		storage, err := NewSQLRangeStorage(ctx, cfg.SQLConfig())
		if err != nil {
			return nil, fmt.Errorf("打开 %s 存储失败: %w", cfg.Driver, err)
		}
		return storage, nil
	}
}

// Monitor 返回监视器
func (s *Service) Monitor() *Monitor {
	return s.monitor
}

// Storage 返回地址段存储
func (s *Service) Storage() RangeStorage {
	return s.storage
}

// Backend 返回实际使用的路由监听后端
func (s *Service) Backend() BackendKind {
	return s.watcher.Kind()
}

// Ready 在路由监听后端第一次整体推送地址段之后关闭
//
// 在此之前监视器中只有预置或恢复的地址段，可达性判断没有意义。
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// readySink 在第一次成功的 SetRanges 之后关闭 Service.ready
type readySink struct {
	RangeSink
	service *Service
}

func (r readySink) SetRanges(ranges []AddressRange) (bool, error) {
	changed, err := r.RangeSink.SetRanges(ranges)
	if err == nil {
		r.service.readyOnce.Do(func() {
			close(r.service.ready)
		})
	}
	return changed, err
}

// Run 运行记录器与路由监听后端，直到 ctx 取消或其中之一出错
//
// 记录器先完成订阅与首次同步，之后才启动路由监听，保证所有变化都被记录。
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	ready := make(chan struct{})
	g.Go(func() error {
		return s.recorder.Run(gctx, ready)
	})
	g.Go(func() error {
		select {
		case <-ready:
		case <-gctx.Done():
			return nil
		}
		s.logger.Info("开始监听路由", zap.String("backend", string(s.watcher.Kind())))
		return s.watcher.Run(gctx, readySink{RangeSink: s.monitor, service: s})
	})

	return g.Wait()
}

// Close 关闭监视器与存储
func (s *Service) Close() error {
	return multierr.Combine(
		s.monitor.Close(),
		s.storage.Close(),
	)
}
