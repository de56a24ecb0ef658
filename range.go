package NetMonitor

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Family 地址族
type Family int

const (
	FamilyIPv4 Family = 4
	FamilyIPv6 Family = 6
)

// Bits 返回该地址族的地址位数
func (f Family) Bits() int {
	switch f {
	case FamilyIPv4:
		return 32
	case FamilyIPv6:
		return 128
	default:
		return 0
	}
}

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// FamilyOf 返回地址所属的地址族
//
// IPv4 映射的 IPv6 地址（::ffff:a.b.c.d）属于 IPv6。
func FamilyOf(addr netip.Addr) Family {
	switch {
	case addr.Is4():
		return FamilyIPv4
	case addr.Is6():
		return FamilyIPv6
	default:
		return 0
	}
}

// AddressRange 一个本地可达（无需网关）的地址段
//
// 值类型，不可变，可以直接作为 map 的键使用。
// 零值无效，只能通过 ParseRange、NewAddressRange、RangeFromPrefix 或 DefaultRange 构造。
type AddressRange struct {
	prefix netip.Prefix
}

// ParseRange 解析 CIDR 格式的地址段，如 "192.168.0.0/20"
// 主机位会被清零，"10.0.0.1/8" 解析为 "10.0.0.0/8"
func ParseRange(s string) (AddressRange, error) {
	p, err := netip.ParsePrefix(strings.TrimSpace(s))
	if err != nil {
		return AddressRange{}, fmt.Errorf("%w: 无效的CIDR格式 %q: %v", ErrInvalidRange, s, err)
	}
	return RangeFromPrefix(p.Masked())
}

// MustParseRange 与 ParseRange 相同，解析失败时 panic
func MustParseRange(s string) AddressRange {
	r, err := ParseRange(s)
	if err != nil {
		panic(err)
	}
	return r
}

// NewAddressRange 由基地址和前缀长度构造地址段
// 基地址在前缀之后存在非零位时返回 ErrInvalidRange，不做自动修正
func NewAddressRange(addr netip.Addr, bits int) (AddressRange, error) {
	if !addr.IsValid() {
		return AddressRange{}, fmt.Errorf("%w: 基地址无效", ErrInvalidRange)
	}
	if bits < 0 || bits > addr.BitLen() {
		return AddressRange{}, fmt.Errorf("%w: 前缀长度 %d 超出范围 [0, %d]", ErrInvalidRange, bits, addr.BitLen())
	}
	return RangeFromPrefix(netip.PrefixFrom(addr.WithZone(""), bits))
}

// RangeFromPrefix 由 netip.Prefix 构造地址段，前缀必须是规范形式
func RangeFromPrefix(p netip.Prefix) (AddressRange, error) {
	if !p.IsValid() {
		return AddressRange{}, fmt.Errorf("%w: %s", ErrInvalidRange, p)
	}
	if p != p.Masked() {
		return AddressRange{}, fmt.Errorf("%w: %s 的主机位未清零", ErrInvalidRange, p)
	}
	return AddressRange{prefix: p}, nil
}

// DefaultRange 返回地址族的默认地址段（前缀长度为 0）
func DefaultRange(f Family) AddressRange {
	switch f {
	case FamilyIPv4:
		return AddressRange{prefix: netip.PrefixFrom(netip.IPv4Unspecified(), 0)}
	case FamilyIPv6:
		return AddressRange{prefix: netip.PrefixFrom(netip.IPv6Unspecified(), 0)}
	default:
		return AddressRange{}
	}
}

// Family 返回地址族
func (r AddressRange) Family() Family {
	return FamilyOf(r.prefix.Addr())
}

// Addr 返回基地址
func (r AddressRange) Addr() netip.Addr {
	return r.prefix.Addr()
}

// Bits 返回前缀长度
func (r AddressRange) Bits() int {
	return r.prefix.Bits()
}

// Prefix 返回对应的 netip.Prefix
func (r AddressRange) Prefix() netip.Prefix {
	return r.prefix
}

// IsValid 判断地址段是否有效且为规范形式
func (r AddressRange) IsValid() bool {
	return r.prefix.IsValid() && r.prefix == r.prefix.Masked()
}

// IsDefault 判断是否为默认地址段
func (r AddressRange) IsDefault() bool {
	return r.IsValid() && r.prefix.Bits() == 0
}

// Contains 判断地址是否落在地址段内
//
// 地址族必须一致；前缀长度为 0 时匹配该地址族的任意地址。
func (r AddressRange) Contains(addr netip.Addr) bool {
	if !r.IsValid() {
		return false
	}
	addr = normalizeAddr(addr)
	if FamilyOf(addr) != r.Family() {
		return false
	}
	if r.prefix.Bits() == 0 {
		return true
	}
	return r.prefix.Contains(addr)
}

// IPNet 转换为 net.IPNet
func (r AddressRange) IPNet() net.IPNet {
	return net.IPNet{
		IP:   net.IP(r.prefix.Addr().AsSlice()),
		Mask: net.CIDRMask(r.prefix.Bits(), r.Family().Bits()),
	}
}

func (r AddressRange) String() string {
	if !r.prefix.IsValid() {
		return "invalid"
	}
	return r.prefix.String()
}

// less 用于排序：先 IPv4 后 IPv6，再按基地址和前缀长度
func (r AddressRange) less(o AddressRange) bool {
	if r.Family() != o.Family() {
		return r.Family() < o.Family()
	}
	if c := r.prefix.Addr().Compare(o.prefix.Addr()); c != 0 {
		return c < 0
	}
	return r.prefix.Bits() < o.prefix.Bits()
}

// normalizeAddr 去掉 zone
func normalizeAddr(addr netip.Addr) netip.Addr {
	return addr.WithZone("")
}

// platformPrefix 把系统接口或路由表中的 net.IPNet 转换为前缀，不清零主机位
//
// net 包常用 16 字节的映射形式保存 IPv4 地址，配合 4 字节掩码出现时还原为 IPv4。
// 16 字节掩码说明这是 IPv6 地址段，保持原样。
func platformPrefix(ip net.IP, mask net.IPMask) (netip.Prefix, bool) {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Prefix{}, false
	}
	ones, bits := mask.Size()
	if bits == 32 && addr.Is4In6() {
		addr = addr.Unmap()
	}
	if bits == 0 || bits != addr.BitLen() {
		return netip.Prefix{}, false
	}
	return netip.PrefixFrom(addr, ones), true
}
