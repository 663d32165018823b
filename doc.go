// Package kvdht 提供带副本的键值分布式哈希表节点
//
// 节点以 160 位 ID 标识，按 XOR 距离组织路由表，并把每条记录复制到
// 距离键最近的若干节点上。读写时由调用方通过 RequestConfig 指定：
//
//   - ReplicationFactor: 选取的副本节点数
//   - MinimumAccepted: 聚合门，收到这么多成功应答即返回
//   - Parallel: 同时在途的请求数
//
// 副本之间可能不一致（节点离开后带着旧数据重新加入，或者恶意节点
// 占据离键最近的 ID）。Get 总是返回每个节点的原始应答，聚合值由
// 可替换的一致性策略决定，调用方可以在结果上再应用更严格的策略。
//
// # 快速开始
//
//	net := kvdht.NewSimNetwork(1)
//
//	seed, _ := kvdht.New(ctx, kvdht.WithNetwork(net))
//	_ = seed.Start(ctx)
//	defer seed.Close(ctx)
//
//	node, _ := kvdht.New(ctx, kvdht.WithNetwork(net))
//	_ = node.Start(ctx)
//	_ = node.Bootstrap(ctx, seed.Address())
//
//	key := kvdht.LocationKey(kvdht.HashID("hello"))
//	_, _ = node.Put(ctx, key, []byte("world"), kvdht.Request3)
//	res, _ := node.Get(ctx, key, kvdht.Request3)
//	fmt.Println(res.Value)
//
// # 组件
//
// 节点由 fx 组装，组件位于 internal/core 下：
//
//   - routing: 路由表
//   - storage: 本地存储（memory / badger 引擎）
//   - replication: 副本协调器与迭代查找
//   - consistency: 聚合策略
//   - churn: 节点存活状态机与探测
//   - handler: 入站请求处理
//   - bootstrap: 从种子节点发现邻居
//   - metrics: Prometheus 指标
package kvdht
