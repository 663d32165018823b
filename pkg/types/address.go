package types

import (
	"fmt"
	"strings"
)

// ============================================================================
//                              Reachability - 可达性标志
// ============================================================================

// Reachability 节点可达性标志位
//
// 由 NAT/中继层提供，核心层只负责携带，不据此改变路由。
type Reachability uint8

const (
	// FirewalledUDP UDP 受防火墙限制
	FirewalledUDP Reachability = 1 << iota
	// FirewalledTCP TCP 受防火墙限制
	FirewalledTCP
	// Relayed 通过中继可达
	Relayed
)

// Has 检查是否包含指定标志
func (r Reachability) Has(flag Reachability) bool {
	return r&flag != 0
}

// String 返回可达性标志的字符串表示
func (r Reachability) String() string {
	if r == 0 {
		return "direct"
	}
	var parts []string
	if r.Has(FirewalledUDP) {
		parts = append(parts, "firewalled-udp")
	}
	if r.Has(FirewalledTCP) {
		parts = append(parts, "firewalled-tcp")
	}
	if r.Has(Relayed) {
		parts = append(parts, "relayed")
	}
	return strings.Join(parts, "|")
}

// ============================================================================
//                              PeerAddress - 节点地址
// ============================================================================

// PeerAddress 节点身份 + 网络端点 + 可达性标志
//
// 路由表中每个 ID 同一时刻只保留一个地址（最新看到的为准）。
type PeerAddress struct {
	// ID 节点标识
	ID ID

	// Endpoint 网络端点（传输层解释其含义）
	Endpoint string

	// Flags 可达性标志
	Flags Reachability
}

// String 返回地址的字符串表示
func (a PeerAddress) String() string {
	s := a.ID.String()
	if a.Endpoint != "" {
		s += "@" + a.Endpoint
	}
	if a.Flags != 0 {
		s += "[" + a.Flags.String() + "]"
	}
	return s
}

// ParsePeerAddress 解析 "id@endpoint[flags]" 形式的地址
//
// 与 PeerAddress.String 互逆；endpoint 与 flags 均可省略。
func ParsePeerAddress(s string) (PeerAddress, error) {
	var a PeerAddress

	if i := strings.IndexByte(s, '['); i >= 0 {
		if !strings.HasSuffix(s, "]") {
			return a, fmt.Errorf("%w: unterminated flags in %q", ErrInvalidID, s)
		}
		flags, err := parseReachability(s[i+1 : len(s)-1])
		if err != nil {
			return a, err
		}
		a.Flags = flags
		s = s[:i]
	}

	idPart, endpoint, _ := strings.Cut(s, "@")
	id, err := ParseID(idPart)
	if err != nil {
		return a, err
	}
	a.ID = id
	a.Endpoint = endpoint
	return a, nil
}

func parseReachability(s string) (Reachability, error) {
	var r Reachability
	if s == "" || s == "direct" {
		return r, nil
	}
	for _, part := range strings.Split(s, "|") {
		switch part {
		case "firewalled-udp":
			r |= FirewalledUDP
		case "firewalled-tcp":
			r |= FirewalledTCP
		case "relayed":
			r |= Relayed
		default:
			return 0, fmt.Errorf("%w: unknown reachability flag %q", ErrInvalidID, part)
		}
	}
	return r, nil
}
