package churn

import (
	"time"

	"github.com/dep2p/go-kvdht/pkg/types"
)

// State 节点在流动管理中的状态
type State int

const (
	// StateJoining 已知但尚未确认存活
	StateJoining State = iota
	// StateActive 存活
	StateActive
	// StateSuspect 有探测未应答
	StateSuspect
	// StateEvicted 连续失败后被驱逐
	StateEvicted
	// StateLeft 节点主动下线
	StateLeft
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateJoining:
		return "joining"
	case StateActive:
		return "active"
	case StateSuspect:
		return "suspect"
	case StateEvicted:
		return "evicted"
	case StateLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Live 该状态下节点是否仍在路由表中
func (s State) Live() bool {
	return s == StateActive || s == StateSuspect
}

// Transition 一次状态迁移
type Transition struct {
	Peer   types.ID
	From   State
	To     State
	Reason string
}

// TransitionCallback 状态迁移回调
type TransitionCallback func(Transition)

// peerState 单个节点的状态
type peerState struct {
	addr     types.PeerAddress
	state    State
	failures int
	lastSeen time.Time
}

// PeerInfo 节点状态快照
type PeerInfo struct {
	Addr     types.PeerAddress
	State    State
	Failures int
	LastSeen time.Time
}
