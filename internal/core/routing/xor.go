package routing

import (
	"math/bits"

	"github.com/dep2p/go-kvdht/pkg/types"
)

// Distance 计算两个 ID 的 XOR 距离
//
// 结果按大端序解释为无符号整数，越小越近。
// XOR 距离满足度量公理：d(a,a)=0、对称、三角不等式。
func Distance(a, b types.ID) types.ID {
	return a.Xor(b)
}

// CompareDistance 比较 a 和 b 到 target 的距离
// 返回：
//
//	-1 如果 d(a, target) < d(b, target)
//	 0 如果 d(a, target) == d(b, target)（即 a == b）
//	 1 如果 d(a, target) > d(b, target)
func CompareDistance(a, b, target types.ID) int {
	for i := 0; i < types.IDLength; i++ {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da < db {
			return -1
		}
		if da > db {
			return 1
		}
	}
	return 0
}

// Closer 报告 a 是否严格比 b 更接近 target
//
// 距离相同（只在 a == b 时发生）时按无符号数值序裁决，保证全序。
func Closer(a, b, target types.ID) bool {
	if c := CompareDistance(a, b, target); c != 0 {
		return c < 0
	}
	return a.Cmp(b) < 0
}

// CommonPrefixLen 计算两个 ID 的共同前缀长度（按位计数）
func CommonPrefixLen(a, b types.ID) int {
	for i := 0; i < types.IDLength; i++ {
		if x := a[i] ^ b[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return types.IDBits
}

// BucketIndex 计算 remote 应放入本地路由表的哪个桶
//
// 桶 i 存放与本地 ID 恰有 i 位共同前缀的节点，i 越大越近。
// remote == local 时返回 IDBits-1。
func BucketIndex(local, remote types.ID) int {
	cpl := CommonPrefixLen(local, remote)
	if cpl >= types.IDBits {
		return types.IDBits - 1
	}
	return cpl
}
