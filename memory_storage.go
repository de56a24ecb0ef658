package NetMonitor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryRangeStorage 是地址段存储的内存实现
type MemoryRangeStorage struct {
	mu      sync.RWMutex
	ranges  map[AddressRange]struct{}
	history []AvailabilityRecord
}

// NewMemoryRangeStorage 创建一个新的内存地址段存储
func NewMemoryRangeStorage() *MemoryRangeStorage {
	return &MemoryRangeStorage{
		ranges: make(map[AddressRange]struct{}),
	}
}

// SaveRange 实现 RangeStorage 接口
func (s *MemoryRangeStorage) SaveRange(ctx context.Context, r AddressRange) error {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return err
	}

	if !r.IsValid() {
		return fmt.Errorf("保存地址段失败: %w", ErrInvalidRange)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ranges[r] = struct{}{}
	return nil
}

// DeleteRange 实现 RangeStorage 接口
func (s *MemoryRangeStorage) DeleteRange(ctx context.Context, r AddressRange) error {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.ranges, r)
	return nil
}

// ReplaceRanges 实现 RangeStorage 接口
func (s *MemoryRangeStorage) ReplaceRanges(ctx context.Context, ranges []AddressRange) error {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return err
	}

	replaced := make(map[AddressRange]struct{}, len(ranges))
	for _, r := range ranges {
		if !r.IsValid() {
			return fmt.Errorf("保存地址段失败: %w", ErrInvalidRange)
		}
		replaced[r] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ranges = replaced
	return nil
}

// HasRange 实现 RangeStorage 接口
func (s *MemoryRangeStorage) HasRange(ctx context.Context, r AddressRange) (bool, error) {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.ranges[r]
	return exists, nil
}

// LoadRanges 实现 RangeStorage 接口
func (s *MemoryRangeStorage) LoadRanges(ctx context.Context) ([]AddressRange, error) {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	ranges := make([]AddressRange, 0, len(s.ranges))
	for r := range s.ranges {
		ranges = append(ranges, r)
	}
	s.mu.RUnlock()

	sortRanges(ranges)
	return ranges, nil
}

// RangeCount 实现 RangeStorage 接口
func (s *MemoryRangeStorage) RangeCount(ctx context.Context) (int, error) {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.ranges), nil
}

// RecordAvailability 实现 RangeStorage 接口
func (s *MemoryRangeStorage) RecordAvailability(ctx context.Context, available bool, at time.Time) error {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, AvailabilityRecord{Available: available, ChangedAt: at})
	return nil
}

// AvailabilityHistory 实现 RangeStorage 接口
func (s *MemoryRangeStorage) AvailabilityHistory(ctx context.Context, limit int) ([]AvailabilityRecord, error) {
	// 检查上下文是否已取消
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.history)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]AvailabilityRecord, 0, n)
	for i := len(s.history) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, s.history[i])
	}
	return result, nil
}

// Close 实现 RangeStorage 接口
func (s *MemoryRangeStorage) Close() error {
	return nil
}
