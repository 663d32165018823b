package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dep2p/go-kvdht/pkg/types"
)

// ============================================================================
// XOR 距离测试
// ============================================================================

func TestDistance_Symmetric(t *testing.T) {
	a := types.MustParseID("0x4bca44fd09461db1981e387e99e41e7d22d06893")
	b := types.MustParseID("0x1234")

	assert.Equal(t, Distance(a, b), Distance(b, a))
	assert.True(t, Distance(a, a).IsZero())
	assert.Equal(t, 0, CompareDistance(a, a, b))

	t.Log("✅ XOR 距离对称且 d(a,a)=0")
}

func TestCompareDistance(t *testing.T) {
	target := types.MustParseID("0x10")
	near := types.MustParseID("0x11")
	far := types.MustParseID("0x90")

	assert.Equal(t, -1, CompareDistance(near, far, target))
	assert.Equal(t, 1, CompareDistance(far, near, target))
	assert.True(t, Closer(near, far, target))
	assert.False(t, Closer(far, near, target))
	assert.False(t, Closer(near, near, target))

	t.Log("✅ 距离比较正确")
}

func TestCommonPrefixLen(t *testing.T) {
	var zero types.ID
	a := zero
	a[0] = 0x80
	b := zero
	b[0] = 0x01
	c := zero
	c[19] = 0x01

	assert.Equal(t, 0, CommonPrefixLen(zero, a))
	assert.Equal(t, 7, CommonPrefixLen(zero, b))
	assert.Equal(t, 159, CommonPrefixLen(zero, c))
	assert.Equal(t, types.IDBits, CommonPrefixLen(zero, zero))

	assert.Equal(t, 0, BucketIndex(zero, a))
	assert.Equal(t, 159, BucketIndex(zero, c))
	assert.Equal(t, 159, BucketIndex(zero, zero))

	t.Log("✅ 共同前缀长度与桶索引正确")
}
