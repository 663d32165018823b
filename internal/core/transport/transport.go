// Package transport 定义节点间消息传输接口
//
// 核心层只依赖这里的接口：Transport 发送请求并等待应答，
// Endpoint 是挂接到某个网络上的本地端点，Network 负责创建端点。
// 投递失败统一返回 types.ErrUnreachable，超过截止时间返回 types.ErrTimeout。
//
// simnet 子包提供带种子的进程内模拟网络，用于测试和示例。
package transport

import (
	"context"

	"github.com/dep2p/go-kvdht/internal/core/protocol"
	"github.com/dep2p/go-kvdht/pkg/types"
)

// Handler 处理入站请求
type Handler interface {
	// HandleMessage 处理请求并返回应答
	//
	// 返回错误表示请求无法处理，发送方会收到传输层错误。
	HandleMessage(ctx context.Context, req *protocol.Message) (*protocol.Message, error)
}

// HandlerFunc 函数形式的 Handler
type HandlerFunc func(ctx context.Context, req *protocol.Message) (*protocol.Message, error)

// HandleMessage 实现 Handler 接口
func (f HandlerFunc) HandleMessage(ctx context.Context, req *protocol.Message) (*protocol.Message, error) {
	return f(ctx, req)
}

// Transport 请求-应答传输
type Transport interface {
	// Send 向 to 发送请求并等待应答
	Send(ctx context.Context, to types.PeerAddress, msg *protocol.Message) (*protocol.Message, error)
}

// Endpoint 挂接到网络的本地端点
type Endpoint interface {
	Transport

	// Self 返回端点地址（Endpoint 字段由网络分配）
	Self() types.PeerAddress

	// SetHandler 设置入站请求处理器
	SetHandler(h Handler)

	// Close 从网络摘除端点，之后发往本端点的请求返回 ErrUnreachable
	Close() error
}

// Network 端点工厂
type Network interface {
	// Attach 为 self 创建端点
	Attach(self types.PeerAddress) (Endpoint, error)
}
