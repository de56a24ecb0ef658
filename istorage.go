package NetMonitor

import (
	"context"
	"time"
)

// AvailabilityRecord 一次可用性变化的记录
type AvailabilityRecord struct {
	Available bool
	ChangedAt time.Time
}

// RangeStorage 是地址段持久化存储的接口
type RangeStorage interface {
	// SaveRange 保存一个地址段，已存在时不做任何事
	SaveRange(ctx context.Context, r AddressRange) error

	// DeleteRange 删除一个地址段，不存在时不做任何事
	DeleteRange(ctx context.Context, r AddressRange) error

	// ReplaceRanges 用给定的地址段替换全部已保存的地址段
	ReplaceRanges(ctx context.Context, ranges []AddressRange) error

	// HasRange 检查地址段是否已保存
	HasRange(ctx context.Context, r AddressRange) (bool, error)

	// LoadRanges 获取所有已保存的地址段
	LoadRanges(ctx context.Context) ([]AddressRange, error)

	// RangeCount 获取已保存的地址段数量
	RangeCount(ctx context.Context) (int, error)

	// RecordAvailability 记录一次可用性变化
	RecordAvailability(ctx context.Context, available bool, at time.Time) error

	// AvailabilityHistory 获取最近的可用性变化记录，最新的在前
	AvailabilityHistory(ctx context.Context, limit int) ([]AvailabilityRecord, error)

	// Close 释放存储占用的资源
	Close() error
}
