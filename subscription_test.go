package NetMonitor

import (
	"net/netip"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// newIdleSubscription 创建一个没有后台投递的订阅，便于直接检查队列
func newIdleSubscription(m *Monitor, topics Topic, limit int) *Subscription {
	s := &Subscription{
		id:         99,
		topics:     topics,
		monitor:    m,
		queueLimit: limit,
		out:        make(chan Event),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func rangeEvent(i int) Event {
	r, _ := NewAddressRange(netip.AddrFrom4([4]byte{10, byte(i >> 8), byte(i), 0}), 24)
	return Event{Type: EventRangeAdded, Range: r, Seq: uint64(i + 1)}
}

func TestTopic_String(t *testing.T) {
	tests := map[Topic]string{
		TopicNetworkChanged: "network-changed",
		TopicAvailability:   "availability",
		TopicAll:            "all",
		Topic(8):            "topic(8)",
	}
	for topic, want := range tests {
		if topic.String() != want {
			t.Errorf("Topic(%d).String() = %q, want %q", uint8(topic), topic.String(), want)
		}
	}

	if (Event{Type: EventAvailabilityChanged}).Topic() != TopicAvailability {
		t.Error("availability event should belong to TopicAvailability")
	}
	if (Event{Type: EventRangeRemoved}).Topic() != TopicNetworkChanged {
		t.Error("range event should belong to TopicNetworkChanged")
	}
}

// TestSubscription_Enqueue 按主题过滤
func TestSubscription_Enqueue(t *testing.T) {
	m := newTestMonitor(t)
	s := newIdleSubscription(m, TopicAvailability, 0)

	s.enqueue([]Event{
		rangeEvent(1),
		{Type: EventAvailabilityChanged, Available: false, Seq: 2},
		rangeEvent(3),
	})

	if len(s.queue) != 1 {
		t.Fatalf("queue length = %d, want 1", len(s.queue))
	}
	if s.queue[0].Type != EventAvailabilityChanged {
		t.Errorf("queued event = %s, want availability-changed", s.queue[0].Type)
	}
	if s.Dropped() != 0 {
		t.Errorf("Dropped() = %d, want 0", s.Dropped())
	}
}

// TestSubscription_QueueLimit 超出限制时丢弃最旧的事件
func TestSubscription_QueueLimit(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	metrics, err := NewMetrics(nil)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	m := newTestMonitor(t, WithLogger(zap.New(core)), WithMetrics(metrics))
	s := newIdleSubscription(m, TopicAll, 2)

	const total = 252
	for i := 0; i < total; i++ {
		s.enqueue([]Event{rangeEvent(i)})
	}

	if len(s.queue) != 2 {
		t.Fatalf("queue length = %d, want 2", len(s.queue))
	}
	// 保留最新的两个事件
	if s.queue[0] != rangeEvent(total-2) || s.queue[1] != rangeEvent(total-1) {
		t.Errorf("queue = %v, want the two newest events", s.queue)
	}
	if s.Dropped() != total-2 {
		t.Errorf("Dropped() = %d, want %d", s.Dropped(), total-2)
	}

	// 第 1、100、200 次丢弃时各警告一次
	warns := logs.FilterMessage("慢消费者检测").All()
	if len(warns) != 3 {
		t.Errorf("got %d slow consumer warnings, want 3", len(warns))
	}
	if len(warns) > 0 {
		if got := warns[0].ContextMap()["subscription"]; got != uint64(99) {
			t.Errorf("warning subscription field = %v, want 99", got)
		}
	}

	if got := counterValue(t, metrics.dropped); got != float64(total-2) {
		t.Errorf("events_dropped_total = %v, want %d", got, total-2)
	}
}

// TestSubscription_QueueLimitDelivery 有限队列的订阅仍然按顺序收到最新的事件
func TestSubscription_QueueLimitDelivery(t *testing.T) {
	m := newTestMonitor(t, WithDefaultRanges(false))
	sub, err := m.Subscribe(TopicNetworkChanged, WithQueueLimit(3))
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	const total = 50
	for i := 0; i < total; i++ {
		if _, err := m.AddRange(rangeEvent(i).Range); err != nil {
			t.Fatalf("AddRange failed: %v", err)
		}
	}

	// 后台可能已经取出一个事件等待投递，因此最多收到 limit+1 个
	var got []Event
	for uint64(len(got))+sub.Dropped() < total {
		got = append(got, nextEvent(t, sub))
	}
	if len(got) > 4 {
		t.Errorf("received %d events, want at most 4", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Seq <= got[i-1].Seq {
			t.Errorf("events out of order: %d after %d", got[i].Seq, got[i-1].Seq)
		}
	}
	if last := got[len(got)-1]; last.Range != rangeEvent(total-1).Range {
		t.Errorf("last event = %s, want %s", last.Range, rangeEvent(total-1).Range)
	}
	expectNoEvent(t, sub)
	sub.Close()
}

// TestSubscription_Accessors 测试订阅的基本属性
func TestSubscription_Accessors(t *testing.T) {
	m := newTestMonitor(t)
	a := subscribe(t, m, TopicAll)
	b := subscribe(t, m, TopicAvailability)

	if a.ID() == b.ID() {
		t.Error("subscription handles should be unique")
	}
	if a.Topics() != TopicAll || b.Topics() != TopicAvailability {
		t.Error("unexpected subscription topics")
	}

	b.Close()
	c := subscribe(t, m, TopicAll)
	if c.ID() == b.ID() {
		t.Error("subscription handles should not be reused")
	}
}

// TestSubscription_ConcurrentClose 并发 Close 是安全的
func TestSubscription_ConcurrentClose(t *testing.T) {
	m := newTestMonitor(t)
	sub := subscribe(t, m, TopicAll)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub.Close()
		}()
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.AddRange(rangeEvent(i).Range)
		}(i)
	}
	wg.Wait()

	// 通道最终必须关闭
	for range sub.Out() {
	}
	m.mu.RLock()
	n := len(m.subs)
	m.mu.RUnlock()
	if n != 0 {
		t.Errorf("monitor still holds %d subscriptions", n)
	}
}
