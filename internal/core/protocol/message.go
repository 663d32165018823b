package protocol

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dep2p/go-kvdht/pkg/types"
)

// ============================================================================
//                              消息类型
// ============================================================================

// MessageType 消息类型
type MessageType uint8

const (
	TypePing MessageType = iota + 1
	TypePong
	TypeStore
	TypeStoreResponse
	TypeGet
	TypeGetResponse
	TypeFindNode
	TypeFindNodeResponse
	TypeDigest
	TypeDigestResponse
	TypeLeave
	TypeLeaveAck
)

var typeNames = map[MessageType]string{
	TypePing:             "PING",
	TypePong:             "PONG",
	TypeStore:            "STORE",
	TypeStoreResponse:    "STORE_RESPONSE",
	TypeGet:              "GET",
	TypeGetResponse:      "GET_RESPONSE",
	TypeFindNode:         "FIND_NODE",
	TypeFindNodeResponse: "FIND_NODE_RESPONSE",
	TypeDigest:           "DIGEST",
	TypeDigestResponse:   "DIGEST_RESPONSE",
	TypeLeave:            "LEAVE",
	TypeLeaveAck:         "LEAVE_ACK",
}

// String 返回消息类型名称
func (t MessageType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// IsRequest 是否为请求类型
func (t MessageType) IsRequest() bool {
	return t >= TypePing && t <= TypeLeaveAck && t%2 == 1
}

// Response 返回请求类型对应的应答类型
func (t MessageType) Response() MessageType {
	if t.IsRequest() {
		return t + 1
	}
	return t
}

// ============================================================================
//                              应答状态
// ============================================================================

// Status 应答状态
type Status uint8

const (
	StatusOK Status = iota
	StatusNotFound
	StatusConflict
	StatusError
)

// String 返回状态名称
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusConflict:
		return "CONFLICT"
	case StatusError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// ============================================================================
//                              消息
// ============================================================================

// Message 节点间 RPC 消息
//
// 一个结构体承载所有消息类型，各类型只使用自己关心的字段。
type Message struct {
	// ID 请求 ID，应答与请求相同
	ID uuid.UUID

	Type   MessageType
	Sender types.PeerAddress

	// Store / Get / Digest
	Key       types.CompoundKey
	Record    *types.DataRecord
	Overwrite bool

	// FindNode
	Target types.ID
	Count  int

	// FindNodeResponse
	Peers []types.PeerAddress

	// DigestResponse
	Digest []types.DigestEntry

	// 应答状态
	Status Status
	Error  string
}

// String 返回消息摘要
func (m *Message) String() string {
	return fmt.Sprintf("%s id=%s from=%s", m.Type, m.ID, m.Sender.ID.ShortString())
}

// Err 将应答状态转换为错误
//
// StatusNotFound 和 StatusConflict 分别映射为 types.ErrNotFound 和 types.ErrConflict。
func (m *Message) Err() error {
	switch m.Status {
	case StatusOK:
		return nil
	case StatusNotFound:
		return types.ErrNotFound
	case StatusConflict:
		return types.ErrConflict
	default:
		if m.Error == "" {
			return errors.New("remote error")
		}
		return errors.New(m.Error)
	}
}

// ============================================================================
//                              构造函数
// ============================================================================

func newRequest(t MessageType, sender types.PeerAddress) *Message {
	return &Message{
		ID:     uuid.New(),
		Type:   t,
		Sender: sender,
	}
}

// NewPing 创建存活探测请求
func NewPing(sender types.PeerAddress) *Message {
	return newRequest(TypePing, sender)
}

// NewStore 创建写入请求
func NewStore(sender types.PeerAddress, key types.CompoundKey, rec types.DataRecord, overwrite bool) *Message {
	m := newRequest(TypeStore, sender)
	m.Key = key
	m.Record = &rec
	m.Overwrite = overwrite
	return m
}

// NewGet 创建读取请求
func NewGet(sender types.PeerAddress, key types.CompoundKey) *Message {
	m := newRequest(TypeGet, sender)
	m.Key = key
	return m
}

// NewFindNode 创建最近节点查询请求
func NewFindNode(sender types.PeerAddress, target types.ID, count int) *Message {
	m := newRequest(TypeFindNode, sender)
	m.Target = target
	m.Count = count
	return m
}

// NewDigest 创建摘要请求
//
// 只使用 key 的 Location 与 Domain 分量；Domain 为零时覆盖整个 Location。
func NewDigest(sender types.PeerAddress, location, domain types.ID) *Message {
	m := newRequest(TypeDigest, sender)
	m.Key = types.CompoundKey{Location: location, Domain: domain}
	return m
}

// NewLeave 创建下线通知
func NewLeave(sender types.PeerAddress) *Message {
	return newRequest(TypeLeave, sender)
}

// Reply 基于请求创建应答，沿用请求 ID
func Reply(req *Message, sender types.PeerAddress, status Status) *Message {
	return &Message{
		ID:     req.ID,
		Type:   req.Type.Response(),
		Sender: sender,
		Key:    req.Key,
		Status: status,
	}
}

// ErrorReply 基于请求创建错误应答
func ErrorReply(req *Message, sender types.PeerAddress, err error) *Message {
	resp := Reply(req, sender, StatusError)
	switch {
	case errors.Is(err, types.ErrNotFound):
		resp.Status = StatusNotFound
	case errors.Is(err, types.ErrConflict):
		resp.Status = StatusConflict
	default:
		resp.Error = err.Error()
	}
	return resp
}
