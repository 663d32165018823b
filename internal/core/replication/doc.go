// Package replication 实现副本协调器
//
// 协调器是唯一发起并发工作的组件。一次 Put/Get 会：
//
//  1. 按 XOR 距离选出 ReplicationFactor 个目标（路由表 + 本节点，可选迭代查找）
//  2. 以 Parallel 为上限并发发出请求
//  3. 在聚合门（MinimumAccepted 个应答或全部结束）处返回
//  4. 门之后仍在途的请求在分离的上下文中排空，结果写入最终原始结果表
//
// # 请求配置
//
//	res, err := coord.Put(ctx, key, []byte("v"), replication.Request3)
//	res, err = coord.Get(ctx, key, replication.RequestConfig{
//	    ReplicationFactor: 6,
//	    MinimumAccepted:   6,
//	    Parallel:          6,
//	})
//
// ReplicationFactor 在 Get 中表示采样的副本数，可以大于写入时的副本数，
// 用来稀释陈旧副本或恶意节点对聚合结果的控制。
//
// # 分歧
//
// 协调器不隐藏分歧：Result.Raw 保存每个节点的原始应答，
// 调用方可以用 Result.Aggregate 以更严格的策略重新聚合而无需重新查询。
package replication
