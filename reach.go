package NetMonitor

import (
	"fmt"
	"net/netip"
	"strings"
)

// ParseTarget 解析目标地址
//
// 支持 "10.0.0.1"、"10.0.0.1:80"、"[fe80::1]:443"、"fe80::1%eth0" 等形式，
// 不做域名解析。
func ParseTarget(s string) (netip.Addr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, fmt.Errorf("%w: 地址为空", ErrInvalidAddress)
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr, nil
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr(), nil
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		if addr, err := netip.ParseAddr(s[1 : len(s)-1]); err == nil {
			return addr, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
}

// Reachable 把不可达转换为错误返回
//
// 目标无法解析时返回 ErrInvalidAddress，不可达时返回 ErrUnreachable。
func (m *Monitor) Reachable(target string) error {
	addr, err := ParseTarget(target)
	if err != nil {
		return err
	}
	if !m.CanReach(addr) {
		return fmt.Errorf("无法到达 %s: %w", addr, ErrUnreachable)
	}
	return nil
}
