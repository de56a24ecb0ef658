package NetMonitor

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Recorder 把监视器的变化同步到 RangeStorage
//
// 地址段的添加与移除写入地址段表，可用性翻转写入可用性记录。
// 存储失败只记录日志，不会影响监视器的状态。
type Recorder struct {
	monitor *Monitor
	storage RangeStorage
	clock   clock.Clock
	logger  *zap.Logger
}

// NewRecorder 创建一个 Recorder，clk 与 logger 可以为 nil
func NewRecorder(monitor *Monitor, storage RangeStorage, clk clock.Clock, logger *zap.Logger) *Recorder {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		monitor: monitor,
		storage: storage,
		clock:   clk,
		logger:  logger,
	}
}

// Sync 用监视器当前的地址段覆盖存储中的地址段
func (r *Recorder) Sync(ctx context.Context) error {
	if err := r.storage.ReplaceRanges(ctx, r.monitor.Ranges()); err != nil {
		return fmt.Errorf("同步地址段失败: %w", err)
	}
	return nil
}

// Run 先订阅再同步一次，然后持续记录变化，直到 ctx 取消
//
// 传入的 ready 在订阅建立并完成首次同步后被关闭，可以为 nil。
func (r *Recorder) Run(ctx context.Context, ready chan<- struct{}) error {
	sub, err := r.monitor.Subscribe(TopicAll)
	if err != nil {
		return fmt.Errorf("订阅监视器失败: %w", err)
	}
	defer sub.Close()

	if err := r.Sync(ctx); err != nil {
		r.logger.Warn("首次同步地址段失败", zap.Error(err))
	}
	if ready != nil {
		close(ready)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Out():
			if !ok {
				return nil
			}
			r.record(ctx, ev)
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev Event) {
	var err error
	switch ev.Type {
	case EventRangeAdded:
		err = r.storage.SaveRange(ctx, ev.Range)
	case EventRangeRemoved:
		err = r.storage.DeleteRange(ctx, ev.Range)
	case EventAvailabilityChanged:
		err = r.storage.RecordAvailability(ctx, ev.Available, r.clock.Now())
	}
	if err != nil {
		r.logger.Warn("记录变化失败",
			zap.Stringer("event", ev.Type),
			zap.Stringer("range", ev.Range),
			zap.Uint64("seq", ev.Seq),
			zap.Error(err))
	}
}

// RestoreRanges 读取存储中的地址段，用于启动时预置监视器
func RestoreRanges(ctx context.Context, storage RangeStorage) ([]AddressRange, error) {
	ranges, err := storage.LoadRanges(ctx)
	if err != nil {
		return nil, fmt.Errorf("恢复地址段失败: %w", err)
	}
	return ranges, nil
}
