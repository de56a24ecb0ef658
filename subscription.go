package NetMonitor

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Topic 订阅主题，可以按位组合
type Topic uint8

const (
	// TopicNetworkChanged 地址段集合发生变化（每次实际生效的添加或移除）
	TopicNetworkChanged Topic = 1 << iota
	// TopicAvailability 网络可用性翻转
	TopicAvailability

	// TopicAll 订阅全部主题
	TopicAll = TopicNetworkChanged | TopicAvailability
)

func (t Topic) valid() bool {
	return t != 0 && t&^TopicAll == 0
}

func (t Topic) String() string {
	switch t {
	case TopicNetworkChanged:
		return "network-changed"
	case TopicAvailability:
		return "availability"
	case TopicAll:
		return "all"
	default:
		return fmt.Sprintf("topic(%d)", uint8(t))
	}
}

// EventType 事件类型
type EventType int

const (
	EventRangeAdded EventType = iota + 1
	EventRangeRemoved
	EventAvailabilityChanged
)

func (t EventType) String() string {
	switch t {
	case EventRangeAdded:
		return "range-added"
	case EventRangeRemoved:
		return "range-removed"
	case EventAvailabilityChanged:
		return "availability-changed"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event 监视器发出的变化通知
type Event struct {
	Type EventType

	// Range 被添加或移除的地址段，可用性事件中为零值
	Range AddressRange

	// Available 本次变更完成后的网络可用性
	Available bool

	// Seq 产生该事件的变更序号，同一次变更的事件序号相同
	Seq uint64
}

// Topic 返回事件所属的主题
func (e Event) Topic() Topic {
	if e.Type == EventAvailabilityChanged {
		return TopicAvailability
	}
	return TopicNetworkChanged
}

// SubscriptionOpt 订阅选项
type SubscriptionOpt func(*subscriptionSettings)

type subscriptionSettings struct {
	queueLimit int
}

// WithQueueLimit 限制未消费事件的数量，超出后丢弃最旧的事件
// n <= 0 表示不限制（默认）
func WithQueueLimit(n int) SubscriptionOpt {
	return func(s *subscriptionSettings) {
		s.queueLimit = n
	}
}

// Subscription 一个订阅
//
// 事件先进入订阅自己的队列，再由后台 goroutine 逐个投递到 Out()，
// 因此慢消费者不会阻塞监视器，同一订阅内事件严格保持产生顺序。
type Subscription struct {
	id      uint64
	topics  Topic
	monitor *Monitor

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []Event
	queueLimit int
	dropped    uint64
	closed     bool

	out       chan Event
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

func newSubscription(m *Monitor, id uint64, topics Topic, settings subscriptionSettings) *Subscription {
	s := &Subscription{
		id:         id,
		topics:     topics,
		monitor:    m,
		queueLimit: settings.queueLimit,
		out:        make(chan Event),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

// ID 订阅句柄
func (s *Subscription) ID() uint64 {
	return s.id
}

// Topics 订阅的主题
func (s *Subscription) Topics() Topic {
	return s.topics
}

// Out 返回事件通道，Close 之后通道被关闭
func (s *Subscription) Out() <-chan Event {
	return s.out
}

// Dropped 返回因队列超限被丢弃的事件数
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close 取消订阅
//
// 并发安全，可以多次调用。返回之后不会再有事件投递到 Out()。
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.monitor.removeSubscription(s)

		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		s.cond.Broadcast()

		close(s.done)
		<-s.exited
		close(s.out)
	})
	return nil
}

// enqueue 在监视器锁内调用，不会阻塞
func (s *Subscription) enqueue(events []Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var dropped int
	for _, ev := range events {
		if ev.Topic()&s.topics == 0 {
			continue
		}
		s.queue = append(s.queue, ev)
		if s.queueLimit > 0 && len(s.queue) > s.queueLimit {
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			dropped++
		}
	}
	s.dropped += uint64(dropped)
	total := s.dropped
	s.mu.Unlock()

	if dropped > 0 {
		s.monitor.metrics.eventsDropped(dropped)
		// 每丢弃 100 个事件警告一次，避免日志泛滥
		if prev := total - uint64(dropped); prev == 0 || prev/100 != total/100 {
			s.monitor.logger.Warn("慢消费者检测",
				zap.Uint64("subscription", s.id),
				zap.Uint64("dropped", total),
				zap.Int("queue_limit", s.queueLimit))
		}
	}
	s.cond.Signal()
}

func (s *Subscription) pump() {
	defer close(s.exited)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
