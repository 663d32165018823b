// Package main 在进程内模拟网络上运行副本一致性场景
//
// 两个场景：
//
//   - consistency: 副本节点下线后写入新值，再带着旧值重新加入，
//     比较 rf=3 与 rf=6 读到的值
//   - attack: 三个伪造 ID 占据离键最近的位置，比较不同副本数与策略的读取结果
//
// 用法：
//
//	kvdht-sim -peers 100 -seed 5467656537115 -scenario all
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dep2p/go-kvdht"
	"github.com/dep2p/go-kvdht/config"
	"github.com/dep2p/go-kvdht/internal/core/routing"
	"github.com/dep2p/go-kvdht/internal/util/logger"
	"github.com/dep2p/go-kvdht/pkg/types"
)

var log = logger.Logger("kvdht/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
var (
	peerCount  = flag.Int("peers", 100, "节点数量")
	seed       = flag.Int64("seed", 5467656537115, "随机种子（节点 ID 与网络）")
	scenario   = flag.String("scenario", "all", "场景 (consistency/attack/all)")
	configFile = flag.String("config", "", "配置文件路径")
	keyFlag    = flag.String("key", "0x4bca44fd09461db1981e387e99e41e7d22d06894", "攻击场景使用的键")
	timeout    = flag.Duration("timeout", time.Minute, "整体超时")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	cfg := config.NewConfig()
	if *configFile != "" {
		var err error
		if cfg, err = config.LoadFile(*configFile); err != nil {
			return fmt.Errorf("加载配置文件失败: %w", err)
		}
	}
	// 路由表容纳全部节点
	cfg.Routing.BucketSize = max(cfg.Routing.BucketSize, *peerCount+8)

	key, err := types.ParseID(*keyFlag)
	if err != nil {
		return fmt.Errorf("无效的键: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	runConsistency := *scenario == "all" || *scenario == "consistency"
	runAttack := *scenario == "all" || *scenario == "attack"
	if !runConsistency && !runAttack {
		return fmt.Errorf("未知场景 %q", *scenario)
	}

	if runConsistency {
		if err := withCluster(ctx, cfg, consistencyScenario); err != nil {
			return err
		}
	}
	if runAttack {
		if err := withCluster(ctx, cfg, func(ctx context.Context, c *cluster) error {
			return attackScenario(ctx, c, key)
		}); err != nil {
			return err
		}
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 集群
// ═══════════════════════════════════════════════════════════════════════════

type cluster struct {
	net   *kvdht.SimNetwork
	cfg   *config.Config
	peers []*kvdht.Node
	extra []*kvdht.Node
}

func withCluster(ctx context.Context, cfg *config.Config, fn func(context.Context, *cluster) error) error {
	c := &cluster{net: kvdht.NewSimNetwork(*seed), cfg: cfg}
	defer c.close()

	rng := rand.New(rand.NewSource(*seed))
	start := time.Now()
	for i := 0; i < *peerCount; i++ {
		n, err := c.start(ctx, kvdht.WithIDSource(rng))
		if err != nil {
			return err
		}
		if i > 0 {
			if err := n.Bootstrap(ctx, c.peers[0].Address()); err != nil {
				return fmt.Errorf("节点 %d 引导失败: %w", i, err)
			}
		}
		c.peers = append(c.peers, n)
	}
	log.Info("集群已就绪", "peers", len(c.peers), "elapsed", time.Since(start))
	return fn(ctx, c)
}

func (c *cluster) start(ctx context.Context, opts ...kvdht.Option) (*kvdht.Node, error) {
	n, err := kvdht.New(ctx, append([]kvdht.Option{kvdht.WithConfig(c.cfg), kvdht.WithNetwork(c.net)}, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := n.Start(ctx); err != nil {
		return nil, err
	}
	return n, nil
}

// rejoin 以 id 重新加入，本地存储预先植入 value（版本 0）
func (c *cluster) rejoin(ctx context.Context, id types.ID, key types.CompoundKey, value string) error {
	store := kvdht.NewMemoryStore()
	if err := store.Put(key, types.DataRecord{Value: []byte(value)}, true); err != nil {
		return err
	}
	n, err := c.start(ctx, kvdht.WithID(id), kvdht.WithLocalStore(store))
	if err != nil {
		return err
	}
	c.extra = append(c.extra, n)
	return n.Bootstrap(ctx, c.peers[0].Address())
}

func (c *cluster) closest(target types.ID, n int) []*kvdht.Node {
	sorted := append([]*kvdht.Node(nil), c.peers...)
	sort.Slice(sorted, func(i, j int) bool {
		return routing.Closer(sorted[i].ID(), sorted[j].ID(), target)
	})
	return sorted[:n]
}

func (c *cluster) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, n := range append(c.extra, c.peers...) {
		_ = n.Close(ctx)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// 场景
// ═══════════════════════════════════════════════════════════════════════════

func consistencyScenario(ctx context.Context, c *cluster) error {
	master := c.peers[0]
	loc := master.ID()
	loc[0] ^= 0x80
	key := kvdht.LocationKey(loc)

	fmt.Println("key is", loc)
	closest := c.closest(loc, 3)
	fmt.Println("closest peer", closest[0].Address(), "base58", closest[0].ID().Base58())

	if _, err := master.Put(ctx, key, []byte("Test 1"), kvdht.Request3); err != nil {
		return err
	}

	fmt.Println("the following peers go offline")
	for _, n := range closest {
		fmt.Println(" ", n.Address())
		if err := n.Close(ctx); err != nil {
			return err
		}
	}

	if _, err := master.Put(ctx, key, []byte("Test 2"), kvdht.Request3); err != nil {
		return err
	}
	if err := printGet(ctx, master, key, kvdht.Request3, "Test 2"); err != nil {
		return err
	}

	for _, n := range closest {
		if err := c.rejoin(ctx, n.ID(), key, "Test 1"); err != nil {
			return err
		}
	}
	fmt.Println("the 3 peers are online again, with the old data")

	if err := printGet(ctx, master, key, kvdht.Request3, "Test 1"); err != nil {
		return err
	}
	return printGet(ctx, master, key, kvdht.Request6, "Test 2")
}

func attackScenario(ctx context.Context, c *cluster, loc types.ID) error {
	master := c.peers[0]
	key := kvdht.LocationKey(loc)

	res, err := master.Put(ctx, key, []byte("genuine"), kvdht.Request6)
	if err != nil {
		return err
	}
	if _, err := res.Wait(ctx); err != nil {
		return err
	}

	fmt.Println("lets ATTACK!")
	const attack = "attack, attack, attack!"
	for _, delta := range []int{-1, 0, 1} {
		id, ok := loc.Offset(delta)
		if !ok {
			return fmt.Errorf("键 %s 位于 ID 空间边界，无法在两侧伪造节点", loc)
		}
		if err := c.rejoin(ctx, id, key, attack); err != nil {
			return err
		}
	}

	if err := printGet(ctx, master, key, kvdht.Request3, attack); err != nil {
		return err
	}
	if err := printGet(ctx, master, key, kvdht.Request6, "genuine"); err != nil {
		return err
	}

	res, err = master.Get(ctx, key, kvdht.RequestConfig{ReplicationFactor: 9, MinimumAccepted: 9, Parallel: 9})
	if err != nil {
		return err
	}
	for _, p := range []kvdht.Policy{kvdht.PolicyDefault, kvdht.PolicyPlurality, kvdht.PolicyMajority, kvdht.PolicyUnanimous} {
		rec, ok := res.Aggregate(p)
		if !ok {
			fmt.Printf("rf=9 %-9s -> (no decision)\n", p.Name())
			continue
		}
		fmt.Printf("rf=9 %-9s -> [%s]\n", p.Name(), rec)
	}
	return nil
}

// printGet 读取并打印聚合值与每个节点的原始应答
func printGet(ctx context.Context, n *kvdht.Node, key types.CompoundKey, rc kvdht.RequestConfig, want string) error {
	res, err := n.Get(ctx, key, rc)
	if err != nil {
		return err
	}
	got := "<nil>"
	if res.Value != nil {
		got = res.Value.String()
	}
	fmt.Printf("rf=%d got [%s] expected [%s] divergent=%v\n", rc.ReplicationFactor, got, want, res.Divergent())
	for _, o := range orderedOutcomes(res) {
		var b strings.Builder
		switch {
		case o.Found():
			fmt.Fprintf(&b, "%s (v%d)", o.Record, o.Record.Version)
		case o.Err != nil:
			b.WriteString(o.Err.Error())
		}
		fmt.Printf("  got from %s: %s\n", o.Peer.ID, b.String())
	}
	return nil
}

func orderedOutcomes(res *kvdht.Result) []kvdht.Outcome {
	out := make([]kvdht.Outcome, 0, len(res.Raw))
	for _, o := range res.Raw {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		return routing.Closer(out[i].Peer.ID, out[j].Peer.ID, res.Key.Location)
	})
	return out
}
