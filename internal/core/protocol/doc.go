// Package protocol 定义节点间 RPC 消息及其线格式
//
// 每个请求都带有 uuid 请求 ID，应答沿用同一 ID；
// 服务端据此对重传的请求返回缓存的应答。
//
// # 消息类型
//
//	Ping/Pong                 存活探测
//	Store/StoreResponse       写入一条记录
//	Get/GetResponse           读取一条记录
//	FindNode/FindNodeResponse 请求距离 target 最近的节点
//	Digest/DigestResponse     列出某个 Location 下的键与版本
//	Leave/LeaveAck            优雅下线通知
//
// # 线格式
//
// 消息按 protobuf 线格式编码（google.golang.org/protobuf/encoding/protowire），
// 不依赖生成代码；未知字段在解码时跳过。
package protocol
