package replication

import (
	"fmt"

	"github.com/dep2p/go-kvdht/pkg/types"
)

// OpError 副本操作错误
type OpError struct {
	Op  string            // 操作名称
	Key types.CompoundKey // 目标键
	Err error             // 底层错误
}

// Error 实现 error 接口
func (e *OpError) Error() string {
	return fmt.Sprintf("replication %s %s: %v", e.Op, e.Key.Location.ShortString(), e.Err)
}

// Unwrap 实现错误解包
func (e *OpError) Unwrap() error {
	return e.Err
}

func newOpError(op string, key types.CompoundKey, err error) *OpError {
	return &OpError{Op: op, Key: key, Err: err}
}

// PeerError 单个节点的请求错误
type PeerError struct {
	Peer types.ID
	Err  error
}

// Error 实现 error 接口
func (e *PeerError) Error() string {
	return fmt.Sprintf("peer %s: %v", e.Peer.ShortString(), e.Err)
}

// Unwrap 实现错误解包
func (e *PeerError) Unwrap() error {
	return e.Err
}
