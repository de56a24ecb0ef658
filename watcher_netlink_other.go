//go:build !linux

package NetMonitor

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

// NetlinkWatcher 在非 Linux 平台上不可用
type NetlinkWatcher struct{}

// NewNetlinkWatcher 在非 Linux 平台上返回 ErrBackendUnsupported
func NewNetlinkWatcher(logger *zap.Logger) (*NetlinkWatcher, error) {
	return nil, fmt.Errorf("%w: netlink (%s)", ErrBackendUnsupported, runtime.GOOS)
}

// Kind 实现 Watcher 接口
func (w *NetlinkWatcher) Kind() BackendKind {
	return BackendNetlink
}

// Run 实现 Watcher 接口
func (w *NetlinkWatcher) Run(ctx context.Context, sink RangeSink) error {
	return fmt.Errorf("%w: netlink (%s)", ErrBackendUnsupported, runtime.GOOS)
}
