package NetMonitor

import (
	"fmt"
	"net/netip"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Monitor 维护本地可达（无需网关）的地址段集合
//
// 它回答"目标地址是否可以不经网关直接到达"，并由是否存在默认地址段
// （前缀长度为 0）推导出网络是否可用。集合每次实际发生变化时向订阅者
// 发出通知；可用性翻转时额外发出可用性通知，且总是排在同一次变更的
// 集合变化通知之后。
//
// 地址段集合、匹配索引、可用性缓存与订阅表由同一把锁保护，
// 订阅者的代码从不在锁内运行，可以在回调中再次调用监视器。
type Monitor struct {
	mu sync.RWMutex

	ranges    map[AddressRange]struct{}
	matcher   rangeMatcher
	available bool
	seq       uint64

	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	logger  *zap.Logger
	metrics *Metrics
}

// NewMonitor 创建监视器
//
// 默认预置 0.0.0.0/0 与 ::/0，初始状态为可用。
func NewMonitor(opts ...Option) (*Monitor, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	matcher, err := newMatcher(o.matcher, o.logger)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		ranges:  make(map[AddressRange]struct{}),
		matcher: matcher,
		subs:    make(map[uint64]*Subscription),
		logger:  o.logger,
		metrics: o.metrics,
	}

	if o.seedDefaults {
		m.insertLocked(DefaultRange(FamilyIPv4))
		m.insertLocked(DefaultRange(FamilyIPv6))
	}
	for _, r := range o.initialRanges {
		if !r.IsValid() {
			return nil, fmt.Errorf("添加初始地址段 %s 失败: %w", r, ErrInvalidRange)
		}
		m.insertLocked(r)
	}

	m.available = m.computeAvailableLocked()
	m.observeLocked()
	return m, nil
}

// AddRange 添加地址段
//
// 返回集合是否发生变化，重复添加返回 false 且不产生通知。
// 只有非规范的地址段会返回 ErrInvalidRange。
func (m *Monitor) AddRange(r AddressRange) (bool, error) {
	if !r.IsValid() {
		return false, fmt.Errorf("添加地址段 %s 失败: %w", r, ErrInvalidRange)
	}

	m.mu.Lock()
	var events []Event
	changed := m.insertLocked(r)
	if changed {
		events = m.commitLocked([]Event{{Type: EventRangeAdded, Range: r}})
	}
	m.mu.Unlock()

	m.metrics.mutation("add", changed)
	m.logEvents(events)
	return changed, nil
}

// RemoveRange 移除地址段
//
// 按 (地址族, 基地址, 前缀长度) 精确匹配，不会移除包含它的其它地址段。
// 地址段不存在时返回 false 且不产生通知。
func (m *Monitor) RemoveRange(r AddressRange) (bool, error) {
	if !r.IsValid() {
		return false, fmt.Errorf("移除地址段 %s 失败: %w", r, ErrInvalidRange)
	}

	m.mu.Lock()
	var events []Event
	changed := m.deleteLocked(r)
	if changed {
		events = m.commitLocked([]Event{{Type: EventRangeRemoved, Range: r}})
	}
	m.mu.Unlock()

	m.metrics.mutation("remove", changed)
	m.logEvents(events)
	return changed, nil
}

// SetRanges 用给定的地址段整体替换当前集合
//
// 对差异逐个产生移除和添加通知（先移除后添加），可用性最多通知一次。
// 任一地址段无效时整个调用失败，集合保持不变。
func (m *Monitor) SetRanges(ranges []AddressRange) (bool, error) {
	target := make(map[AddressRange]struct{}, len(ranges))
	for _, r := range ranges {
		if !r.IsValid() {
			return false, fmt.Errorf("设置地址段 %s 失败: %w", r, ErrInvalidRange)
		}
		target[r] = struct{}{}
	}

	m.mu.Lock()
	var removed, added []AddressRange
	for r := range m.ranges {
		if _, ok := target[r]; !ok {
			removed = append(removed, r)
		}
	}
	for r := range target {
		if _, ok := m.ranges[r]; !ok {
			added = append(added, r)
		}
	}
	sortRanges(removed)
	sortRanges(added)

	var events []Event
	for _, r := range removed {
		m.deleteLocked(r)
		events = append(events, Event{Type: EventRangeRemoved, Range: r})
	}
	for _, r := range added {
		m.insertLocked(r)
		events = append(events, Event{Type: EventRangeAdded, Range: r})
	}
	changed := len(events) > 0
	if changed {
		events = m.commitLocked(events)
	}
	m.mu.Unlock()

	m.metrics.mutation("set", changed)
	m.logEvents(events)
	return changed, nil
}

// CanReach 判断目标地址是否落在任一地址段内
//
// 纯查询，不产生通知。不可达是正常结果而不是错误。
func (m *Monitor) CanReach(target netip.Addr) bool {
	if !target.IsValid() {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.matcher.contains(target)
}

// IsAvailable 网络是否可用，即是否存在任一地址族的默认地址段
func (m *Monitor) IsAvailable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.available
}

// FamilyAvailable 指定地址族的默认地址段是否存在
func (m *Monitor) FamilyAvailable(f Family) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.ranges[DefaultRange(f)]
	return ok
}

// Ranges 返回当前地址段集合的有序快照
func (m *Monitor) Ranges() []AddressRange {
	m.mu.RLock()
	result := make([]AddressRange, 0, len(m.ranges))
	for r := range m.ranges {
		result = append(result, r)
	}
	m.mu.RUnlock()

	sortRanges(result)
	return result
}

// Len 返回地址段数量
func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.ranges)
}

// Subscribe 订阅变化通知
func (m *Monitor) Subscribe(topics Topic, opts ...SubscriptionOpt) (*Subscription, error) {
	if !topics.valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTopic, topics)
	}

	var settings subscriptionSettings
	for _, opt := range opts {
		opt(&settings)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrMonitorClosed
	}

	m.nextID++
	sub := newSubscription(m, m.nextID, topics, settings)
	m.subs[sub.id] = sub
	return sub, nil
}

// Notify 订阅变化通知，并在独立的 goroutine 中按顺序对每个事件调用 fn
//
// fn 中可以调用监视器的任意方法。Close 返回时正在执行的 fn 不会被打断，
// 但之后不会再开始新的 fn 调用。
func (m *Monitor) Notify(topics Topic, fn func(Event), opts ...SubscriptionOpt) (*Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: 回调函数为空", ErrInvalidTopic)
	}

	sub, err := m.Subscribe(topics, opts...)
	if err != nil {
		return nil, err
	}

	go func() {
		for ev := range sub.Out() {
			if sub.isClosed() {
				return
			}
			fn(ev)
		}
	}()
	return sub, nil
}

// Unsubscribe 取消订阅，等价于 sub.Close()
func (m *Monitor) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}
	if sub.monitor != m {
		return fmt.Errorf("订阅 %d 不属于该监视器", sub.id)
	}
	return sub.Close()
}

// Close 关闭全部订阅，之后不能再订阅
//
// 地址段集合仍然可以修改和查询。
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func (m *Monitor) removeSubscription(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.subs, sub.id)
}

// insertLocked 在写锁内插入地址段，已存在时返回 false
func (m *Monitor) insertLocked(r AddressRange) bool {
	if _, exists := m.ranges[r]; exists {
		return false
	}
	m.ranges[r] = struct{}{}
	m.matcher.insert(r)
	return true
}

// deleteLocked 在写锁内删除地址段，不存在时返回 false
func (m *Monitor) deleteLocked(r AddressRange) bool {
	if _, exists := m.ranges[r]; !exists {
		return false
	}
	delete(m.ranges, r)
	m.matcher.remove(r)
	return true
}

// commitLocked 重新计算可用性，补全事件并放入各订阅的队列
//
// 集合变化事件在前，可用性事件（如有）在最后。
func (m *Monitor) commitLocked(events []Event) []Event {
	m.seq++
	prev := m.available
	m.available = m.computeAvailableLocked()

	for i := range events {
		events[i].Available = m.available
		events[i].Seq = m.seq
	}
	if prev != m.available {
		events = append(events, Event{
			Type:      EventAvailabilityChanged,
			Available: m.available,
			Seq:       m.seq,
		})
	}

	for _, sub := range m.subs {
		sub.enqueue(events)
	}

	m.metrics.emitted(events)
	m.observeLocked()
	return events
}

func (m *Monitor) computeAvailableLocked() bool {
	if _, ok := m.ranges[DefaultRange(FamilyIPv4)]; ok {
		return true
	}
	_, ok := m.ranges[DefaultRange(FamilyIPv6)]
	return ok
}

func (m *Monitor) observeLocked() {
	if m.metrics == nil {
		return
	}
	var v4, v6 int
	for r := range m.ranges {
		if r.Family() == FamilyIPv4 {
			v4++
		} else {
			v6++
		}
	}
	m.metrics.observeState(v4, v6, m.available)
}

func (m *Monitor) logEvents(events []Event) {
	for _, ev := range events {
		switch ev.Type {
		case EventAvailabilityChanged:
			m.logger.Info("网络可用性变化", zap.Bool("available", ev.Available), zap.Uint64("seq", ev.Seq))
		default:
			m.logger.Debug("地址段集合变化",
				zap.Stringer("event", ev.Type),
				zap.Stringer("range", ev.Range),
				zap.Uint64("seq", ev.Seq))
		}
	}
}

func sortRanges(ranges []AddressRange) {
	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].less(ranges[j])
	})
}
