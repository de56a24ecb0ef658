package NetMonitor

import "go.uber.org/zap"

// Option 监视器选项
type Option func(*options)

type options struct {
	logger        *zap.Logger
	metrics       *Metrics
	matcher       MatcherKind
	seedDefaults  bool
	initialRanges []AddressRange
}

func defaultOptions() options {
	return options{
		logger:       zap.NewNop(),
		matcher:      MatcherLinear,
		seedDefaults: true,
	}
}

// WithLogger 设置日志，nil 时忽略
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics 设置指标采集
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithMatcher 选择可达性匹配的实现
func WithMatcher(kind MatcherKind) Option {
	return func(o *options) {
		o.matcher = kind
	}
}

// WithDefaultRanges 是否预置 0.0.0.0/0 与 ::/0
//
// 默认开启：在路由信息到达之前假设一切可达。
func WithDefaultRanges(seed bool) Option {
	return func(o *options) {
		o.seedDefaults = seed
	}
}

// WithInitialRanges 构造时额外预置的地址段，不产生通知
func WithInitialRanges(ranges ...AddressRange) Option {
	return func(o *options) {
		o.initialRanges = append(o.initialRanges, ranges...)
	}
}
