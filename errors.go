package NetMonitor

import "errors"

var (
	// ErrInvalidRange 地址段格式错误或不是规范形式（前缀之后的位未清零）
	ErrInvalidRange = errors.New("invalid address range")

	// ErrInvalidAddress 目标地址无法解析
	ErrInvalidAddress = errors.New("invalid address")

	// ErrUnreachable 目标地址不在任何本地可达的地址段内
	ErrUnreachable = errors.New("network unreachable")

	// ErrInvalidTopic 订阅主题为空或未知
	ErrInvalidTopic = errors.New("invalid subscription topic")

	// ErrMonitorClosed 监视器已关闭
	ErrMonitorClosed = errors.New("monitor closed")

	// ErrBackendUnsupported 当前平台不支持该路由监听后端
	ErrBackendUnsupported = errors.New("backend not supported on this platform")

	// ErrInvalidConfig 配置错误
	ErrInvalidConfig = errors.New("invalid config")
)
