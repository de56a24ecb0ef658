package NetMonitor

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/yl2chen/cidranger"
	"go.uber.org/zap"
)

// MatcherKind 可达性匹配的实现方式
type MatcherKind string

const (
	// MatcherLinear 逐个地址段比较，O(n)
	MatcherLinear MatcherKind = "linear"
	// MatcherTrie 基于 cidranger 路径压缩前缀树
	MatcherTrie MatcherKind = "trie"
)

// ParseMatcherKind 解析匹配器名称，空字符串返回 MatcherLinear
func ParseMatcherKind(s string) (MatcherKind, error) {
	switch MatcherKind(s) {
	case "", MatcherLinear:
		return MatcherLinear, nil
	case MatcherTrie:
		return MatcherTrie, nil
	default:
		return "", fmt.Errorf("%w: 未知的匹配器 %q (支持: linear, trie)", ErrInvalidConfig, s)
	}
}

// rangeMatcher 维护与监视器地址段集合同步的匹配索引
//
// 调用方保证 insert 只传入集合中不存在的地址段，remove 只传入已存在的地址段，
// 并在监视器的写锁内调用。
type rangeMatcher interface {
	insert(r AddressRange)
	remove(r AddressRange)
	contains(addr netip.Addr) bool
}

func newMatcher(kind MatcherKind, logger *zap.Logger) (rangeMatcher, error) {
	switch kind {
	case "", MatcherLinear:
		return &linearMatcher{}, nil
	case MatcherTrie:
		return &trieMatcher{ranger: cidranger.NewPCTrieRanger(), logger: logger}, nil
	default:
		return nil, fmt.Errorf("%w: 未知的匹配器 %q", ErrInvalidConfig, kind)
	}
}

// linearMatcher 任意一个地址段匹配即可达，不做最长前缀匹配
type linearMatcher struct {
	ranges []AddressRange
}

func (m *linearMatcher) insert(r AddressRange) {
	m.ranges = append(m.ranges, r)
}

func (m *linearMatcher) remove(r AddressRange) {
	for i, existing := range m.ranges {
		if existing == r {
			last := len(m.ranges) - 1
			m.ranges[i] = m.ranges[last]
			m.ranges[last] = AddressRange{}
			m.ranges = m.ranges[:last]
			return
		}
	}
}

func (m *linearMatcher) contains(addr netip.Addr) bool {
	for _, r := range m.ranges {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// mappedBlock ::ffff:0:0/96，IPv4 映射地址所在的 IPv6 网段
var mappedBlock = netip.MustParsePrefix("::ffff:0:0/96")

// trieMatcher IPv4 与 IPv6 各一棵树，由 cidranger 内部按地址版本区分
//
// cidranger 把能转换为 IPv4 的 16 字节地址当作 IPv4 处理，
// 所以基地址落在 ::ffff:0:0/96 内的地址段不进前缀树，
// 映射地址的查询也不走前缀树，而是查 mapped 中与该网段重叠的 IPv6 地址段。
type trieMatcher struct {
	ranger cidranger.Ranger
	mapped linearMatcher
	logger *zap.Logger
}

func (m *trieMatcher) insert(r AddressRange) {
	if r.Family() == FamilyIPv6 && r.Prefix().Overlaps(mappedBlock) {
		m.mapped.insert(r)
		if r.Addr().Is4In6() {
			return
		}
	}
	if err := m.ranger.Insert(cidranger.NewBasicRangerEntry(r.IPNet())); err != nil {
		m.logger.Error("插入前缀树失败", zap.Stringer("range", r), zap.Error(err))
	}
}

func (m *trieMatcher) remove(r AddressRange) {
	if r.Family() == FamilyIPv6 && r.Prefix().Overlaps(mappedBlock) {
		m.mapped.remove(r)
		if r.Addr().Is4In6() {
			return
		}
	}
	if _, err := m.ranger.Remove(r.IPNet()); err != nil {
		m.logger.Error("从前缀树移除失败", zap.Stringer("range", r), zap.Error(err))
	}
}

func (m *trieMatcher) contains(addr netip.Addr) bool {
	addr = normalizeAddr(addr)
	if !addr.IsValid() {
		return false
	}
	if addr.Is4In6() {
		return m.mapped.contains(addr)
	}
	ok, err := m.ranger.Contains(net.IP(addr.AsSlice()))
	if err != nil {
		m.logger.Debug("前缀树查询失败", zap.Stringer("addr", addr), zap.Error(err))
		return false
	}
	return ok
}
