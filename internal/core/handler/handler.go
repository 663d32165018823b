// Package handler 处理入站协议请求
//
// 处理器把请求映射到本地存储和路由表上，并把每个请求者作为存活流量
// 交给流动管理器。应答按请求 ID 缓存，重传的请求得到相同的应答。
package handler

import (
	"context"
	"errors"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-kvdht/internal/core/churn"
	"github.com/dep2p/go-kvdht/internal/core/metrics"
	"github.com/dep2p/go-kvdht/internal/core/protocol"
	"github.com/dep2p/go-kvdht/internal/core/routing"
	"github.com/dep2p/go-kvdht/internal/core/storage"
	"github.com/dep2p/go-kvdht/internal/core/transport"
	"github.com/dep2p/go-kvdht/internal/util/logger"
	"github.com/dep2p/go-kvdht/pkg/types"
)

var log = logger.Logger("handler")

// ErrEmptySender 请求未携带发送方
var ErrEmptySender = errors.New("handler: sender is empty")

// Handler 协议请求处理器
type Handler struct {
	self    types.PeerAddress
	store   *storage.Store
	table   *routing.Table
	churn   *churn.Manager
	metrics *metrics.Metrics

	// maxPeers FIND_NODE 应答的节点数上限
	maxPeers int

	cache *lru.Cache[uuid.UUID, *protocol.Message]
}

var _ transport.Handler = (*Handler)(nil)

// Config 处理器配置
type Config struct {
	// MaxPeers FIND_NODE 应答的节点数上限
	MaxPeers int

	// CacheSize 应答缓存条数
	CacheSize int
}

// New 创建处理器
//
// cm 为 nil 时请求者直接写入路由表。
func New(self types.PeerAddress, store *storage.Store, table *routing.Table,
	cm *churn.Manager, m *metrics.Metrics, cfg Config) (*Handler, error) {
	cache, err := lru.New[uuid.UUID, *protocol.Message](max(cfg.CacheSize, 1))
	if err != nil {
		return nil, err
	}
	return &Handler{
		self:     self,
		store:    store,
		table:    table,
		churn:    cm,
		metrics:  m,
		maxPeers: cfg.MaxPeers,
		cache:    cache,
	}, nil
}

// HandleMessage 实现 transport.Handler 接口
func (h *Handler) HandleMessage(ctx context.Context, req *protocol.Message) (*protocol.Message, error) {
	if req == nil || !req.Type.IsRequest() {
		return nil, protocol.ErrMalformed
	}
	if req.Sender.ID.IsZero() {
		return protocol.ErrorReply(req, h.self, ErrEmptySender), nil
	}
	if resp, ok := h.cache.Get(req.ID); ok {
		log.Debug("重传请求，返回缓存应答", "type", req.Type.String(), "id", req.ID)
		return resp, nil
	}

	h.metrics.ObserveServed(req.Type.String())

	var resp *protocol.Message
	switch req.Type {
	case protocol.TypeLeave:
		resp = h.handleLeave(ctx, req)
	case protocol.TypePing:
		h.observe(req.Sender)
		resp = protocol.Reply(req, h.self, protocol.StatusOK)
	case protocol.TypeStore:
		h.observe(req.Sender)
		resp = h.handleStore(ctx, req)
	case protocol.TypeGet:
		h.observe(req.Sender)
		resp = h.handleGet(ctx, req)
	case protocol.TypeFindNode:
		h.observe(req.Sender)
		resp = h.handleFindNode(ctx, req)
	case protocol.TypeDigest:
		h.observe(req.Sender)
		resp = h.handleDigest(ctx, req)
	default:
		resp = protocol.ErrorReply(req, h.self, protocol.ErrMalformed)
	}

	h.cache.Add(req.ID, resp)
	return resp, nil
}

// observe 记录请求者的存活流量
func (h *Handler) observe(sender types.PeerAddress) {
	if sender.ID == h.self.ID {
		return
	}
	if h.churn != nil {
		h.churn.Observe(sender)
		return
	}
	h.table.Insert(sender)
}

// handleStore 处理 STORE 请求
func (h *Handler) handleStore(_ context.Context, req *protocol.Message) *protocol.Message {
	if req.Record == nil {
		return protocol.ErrorReply(req, h.self, protocol.ErrMalformed)
	}
	if err := h.store.Put(req.Key, *req.Record, req.Overwrite); err != nil {
		if !errors.Is(err, types.ErrConflict) {
			log.Warn("写入本地存储失败", "key", req.Key.Location.ShortString(), "err", err)
		}
		return protocol.ErrorReply(req, h.self, err)
	}
	return protocol.Reply(req, h.self, protocol.StatusOK)
}

// handleGet 处理 GET 请求
func (h *Handler) handleGet(_ context.Context, req *protocol.Message) *protocol.Message {
	rec, err := h.store.Get(req.Key)
	if err != nil {
		return protocol.ErrorReply(req, h.self, err)
	}
	resp := protocol.Reply(req, h.self, protocol.StatusOK)
	resp.Record = &rec
	return resp
}

// handleFindNode 处理 FIND_NODE 请求
func (h *Handler) handleFindNode(_ context.Context, req *protocol.Message) *protocol.Message {
	count := req.Count
	if count <= 0 || (h.maxPeers > 0 && count > h.maxPeers) {
		count = h.maxPeers
	}
	resp := protocol.Reply(req, h.self, protocol.StatusOK)
	resp.Peers = h.table.ClosestPeers(req.Target, count)
	return resp
}

// handleDigest 处理 DIGEST 请求
func (h *Handler) handleDigest(_ context.Context, req *protocol.Message) *protocol.Message {
	entries, err := h.store.KeysNear(req.Key.Location, req.Key.Domain)
	if err != nil {
		return protocol.ErrorReply(req, h.self, err)
	}
	resp := protocol.Reply(req, h.self, protocol.StatusOK)
	resp.Digest = entries
	return resp
}

// handleLeave 处理下线通知
func (h *Handler) handleLeave(_ context.Context, req *protocol.Message) *protocol.Message {
	if req.Sender.ID != h.self.ID {
		if h.churn != nil {
			h.churn.Leave(req.Sender.ID)
		} else {
			h.table.Remove(req.Sender.ID)
		}
		log.Debug("节点下线", "peer", req.Sender.ID.ShortString())
	}
	return protocol.Reply(req, h.self, protocol.StatusOK)
}
