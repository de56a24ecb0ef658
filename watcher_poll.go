package NetMonitor

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// InterfaceInfo 一个网络接口的快照
type InterfaceInfo struct {
	Name     string
	Up       bool
	Loopback bool
	// Addrs 接口上配置的地址及其前缀长度，如 192.168.1.10/24
	Addrs []netip.Prefix
}

// InterfaceLister 获取当前的网络接口
type InterfaceLister func() ([]InterfaceInfo, error)

// SystemInterfaces 通过 net.Interfaces 获取本机网络接口
func SystemInterfaces() ([]InterfaceInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("获取网络接口失败: %w", err)
	}

	result := make([]InterfaceInfo, 0, len(ifaces))
	for _, iface := range ifaces {
		info := InterfaceInfo{
			Name:     iface.Name,
			Up:       iface.Flags&net.FlagUp != 0,
			Loopback: iface.Flags&net.FlagLoopback != 0,
		}

		addrs, err := iface.Addrs()
		if err != nil {
			return nil, fmt.Errorf("获取接口 %s 的地址失败: %w", iface.Name, err)
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if p, ok := platformPrefix(ipNet.IP, ipNet.Mask); ok {
				info.Addrs = append(info.Addrs, p)
			}
		}
		result = append(result, info)
	}
	return result, nil
}

// RangesFromInterfaces 由接口快照推导本地可达的地址段
//
// 每个已启用接口上的地址贡献其所在的网段；已启用的非回环接口上
// 存在某个地址族的全局单播地址时，额外贡献该地址族的默认地址段。
func RangesFromInterfaces(ifaces []InterfaceInfo) []AddressRange {
	seen := make(map[AddressRange]struct{})
	var ranges []AddressRange
	add := func(r AddressRange) {
		if _, ok := seen[r]; ok {
			return
		}
		seen[r] = struct{}{}
		ranges = append(ranges, r)
	}

	for _, iface := range ifaces {
		if !iface.Up {
			continue
		}
		for _, p := range iface.Addrs {
			r, err := RangeFromPrefix(p.Masked())
			if err != nil {
				continue
			}
			add(r)

			addr := normalizeAddr(p.Addr())
			if !iface.Loopback && addr.IsGlobalUnicast() {
				add(DefaultRange(FamilyOf(addr)))
			}
		}
	}

	sortRanges(ranges)
	return ranges
}

// PollingWatcher 定时轮询网络接口，把推导出的地址段整体推送给 RangeSink
type PollingWatcher struct {
	interfaces InterfaceLister
	interval   time.Duration
	clock      clock.Clock
	logger     *zap.Logger
}

// NewPollingWatcher 创建 PollingWatcher，参数为零值时使用默认值
func NewPollingWatcher(interfaces InterfaceLister, interval time.Duration, clk clock.Clock, logger *zap.Logger) *PollingWatcher {
	if interfaces == nil {
		interfaces = SystemInterfaces
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollingWatcher{
		interfaces: interfaces,
		interval:   interval,
		clock:      clk,
		logger:     logger,
	}
}

// Kind 实现 Watcher 接口
func (w *PollingWatcher) Kind() BackendKind {
	return BackendReachability
}

// Run 实现 Watcher 接口
//
// 单次获取接口失败只记录日志，保留上一次的结果。
func (w *PollingWatcher) Run(ctx context.Context, sink RangeSink) error {
	if err := w.poll(sink); err != nil {
		return err
	}

	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.poll(sink); err != nil {
				return err
			}
		}
	}
}

// poll 只有 sink 拒绝地址段时才返回错误
func (w *PollingWatcher) poll(sink RangeSink) error {
	ifaces, err := w.interfaces()
	if err != nil {
		w.logger.Warn("轮询网络接口失败", zap.Error(err))
		return nil
	}

	ranges := RangesFromInterfaces(ifaces)
	changed, err := sink.SetRanges(ranges)
	if err != nil {
		return fmt.Errorf("更新地址段失败: %w", err)
	}
	if changed {
		w.logger.Debug("网络接口变化", zap.Int("ranges", len(ranges)))
	}
	return nil
}
