//go:build linux

package NetMonitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// NetlinkWatcher 监听 Linux 主路由表
//
// 无网关的路由贡献其目的网段，默认路由贡献对应地址族的默认地址段，
// 经网关的非默认路由被忽略。同一地址段可能来自多条路由，
// 只有最后一条路由被删除时才移除该地址段。
type NetlinkWatcher struct {
	logger *zap.Logger

	// 便于测试替换
	list      func() ([]netlink.Route, error)
	subscribe func(ch chan<- netlink.RouteUpdate, done <-chan struct{}, onErr func(error)) error
}

// NewNetlinkWatcher 创建 NetlinkWatcher
func NewNetlinkWatcher(logger *zap.Logger) (*NetlinkWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NetlinkWatcher{
		logger:    logger,
		list:      listMainRoutes,
		subscribe: subscribeRoutes,
	}, nil
}

// Kind 实现 Watcher 接口
func (w *NetlinkWatcher) Kind() BackendKind {
	return BackendNetlink
}

// Run 实现 Watcher 接口
func (w *NetlinkWatcher) Run(ctx context.Context, sink RangeSink) error {
	updates := make(chan netlink.RouteUpdate, 64)
	done := make(chan struct{})
	defer close(done)

	errCh := make(chan error, 1)
	onErr := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	// 先订阅再读取路由表，避免两者之间的变化丢失
	if err := w.subscribe(updates, done, onErr); err != nil {
		return fmt.Errorf("订阅路由变化失败: %w", err)
	}

	routes, err := w.list()
	if err != nil {
		return fmt.Errorf("读取路由表失败: %w", err)
	}

	// 订阅之后、读取之前出现的路由会同时出现在路由表和变化通知中，
	// 按路由去重，不会被计数两次
	table := newRouteTable()
	for _, rt := range routes {
		if r, ok := rangeFromRoute(rt); ok {
			table.add(keyOfRoute(rt, r), r)
		}
	}
	initial := table.ranges()
	if _, err := sink.SetRanges(initial); err != nil {
		return fmt.Errorf("设置初始地址段失败: %w", err)
	}
	w.logger.Info("已读取路由表", zap.Int("routes", len(routes)), zap.Int("ranges", len(initial)))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return fmt.Errorf("接收路由变化失败: %w", err)
		case u, ok := <-updates:
			if !ok {
				return errors.New("路由变化通道已关闭")
			}
			if err := w.apply(sink, table, u); err != nil {
				return err
			}
		}
	}
}

func (w *NetlinkWatcher) apply(sink RangeSink, table *routeTable, u netlink.RouteUpdate) error {
	r, ok := rangeFromRoute(u.Route)
	if !ok {
		return nil
	}
	key := keyOfRoute(u.Route, r)

	var affected []AddressRange
	switch u.Type {
	case unix.RTM_NEWROUTE:
		if u.NlFlags&unix.NLM_F_REPLACE != 0 {
			affected = append(affected, table.replace(key)...)
		}
		table.add(key, r)
		affected = append(affected, r)
	case unix.RTM_DELROUTE:
		table.remove(key)
		affected = append(affected, r)
	default:
		w.logger.Debug("忽略未知的路由消息", zap.Uint16("type", u.Type))
		return nil
	}

	for _, ar := range affected {
		if table.has(ar) {
			if _, err := sink.AddRange(ar); err != nil {
				return fmt.Errorf("添加地址段 %s 失败: %w", ar, err)
			}
			continue
		}
		if _, err := sink.RemoveRange(ar); err != nil {
			return fmt.Errorf("移除地址段 %s 失败: %w", ar, err)
		}
	}
	return nil
}

// routeKey 标识一条路由，同一地址段可以来自多条路由
type routeKey struct {
	dst      AddressRange
	gw       string
	table    int
	link     int
	priority int
	tos      int
}

func keyOfRoute(rt netlink.Route, dst AddressRange) routeKey {
	key := routeKey{
		dst:      dst,
		table:    rt.Table,
		link:     rt.LinkIndex,
		priority: rt.Priority,
		tos:      rt.Tos,
	}
	if key.table == 0 {
		key.table = unix.RT_TABLE_MAIN
	}
	if rt.Gw != nil {
		key.gw = rt.Gw.String()
	}
	return key
}

// routeTable 记录当前贡献地址段的路由
type routeTable struct {
	routes map[routeKey]struct{}
	refs   map[AddressRange]int
}

func newRouteTable() *routeTable {
	return &routeTable{
		routes: make(map[routeKey]struct{}),
		refs:   make(map[AddressRange]int),
	}
}

func (t *routeTable) add(key routeKey, r AddressRange) {
	if _, ok := t.routes[key]; ok {
		return
	}
	t.routes[key] = struct{}{}
	t.refs[r]++
}

func (t *routeTable) remove(key routeKey) {
	if _, ok := t.routes[key]; !ok {
		return
	}
	delete(t.routes, key)
	t.refs[key.dst]--
	if t.refs[key.dst] <= 0 {
		delete(t.refs, key.dst)
	}
}

// replace 移除会被 NLM_F_REPLACE 替换掉的路由（目的、路由表、优先级与 TOS 相同），
// 返回受影响的地址段
func (t *routeTable) replace(key routeKey) []AddressRange {
	var affected []AddressRange
	for old := range t.routes {
		if old == key {
			continue
		}
		if old.dst == key.dst && old.table == key.table && old.priority == key.priority && old.tos == key.tos {
			t.remove(old)
			affected = append(affected, old.dst)
		}
	}
	return affected
}

func (t *routeTable) has(r AddressRange) bool {
	return t.refs[r] > 0
}

func (t *routeTable) ranges() []AddressRange {
	result := make([]AddressRange, 0, len(t.refs))
	for r := range t.refs {
		result = append(result, r)
	}
	return result
}

// rangeFromRoute 只关心主路由表中的单播路由
func rangeFromRoute(rt netlink.Route) (AddressRange, bool) {
	if rt.Table != 0 && rt.Table != unix.RT_TABLE_MAIN {
		return AddressRange{}, false
	}
	if rt.Type != 0 && rt.Type != unix.RTN_UNICAST {
		return AddressRange{}, false
	}

	if rt.Dst == nil {
		switch rt.Family {
		case netlink.FAMILY_V4:
			return DefaultRange(FamilyIPv4), true
		case netlink.FAMILY_V6:
			return DefaultRange(FamilyIPv6), true
		default:
			return AddressRange{}, false
		}
	}

	p, ok := platformPrefix(rt.Dst.IP, rt.Dst.Mask)
	if !ok {
		return AddressRange{}, false
	}
	if p.Bits() == 0 {
		return DefaultRange(FamilyOf(p.Addr())), true
	}
	if rt.Gw != nil || len(rt.MultiPath) > 0 {
		return AddressRange{}, false
	}

	r, err := RangeFromPrefix(p.Masked())
	if err != nil {
		return AddressRange{}, false
	}
	return r, true
}

func listMainRoutes() ([]netlink.Route, error) {
	return netlink.RouteListFiltered(netlink.FAMILY_ALL, &netlink.Route{Table: unix.RT_TABLE_MAIN}, netlink.RT_FILTER_TABLE)
}

func subscribeRoutes(ch chan<- netlink.RouteUpdate, done <-chan struct{}, onErr func(error)) error {
	return netlink.RouteSubscribeWithOptions(ch, done, netlink.RouteSubscribeOptions{
		ErrorCallback: onErr,
	})
}
