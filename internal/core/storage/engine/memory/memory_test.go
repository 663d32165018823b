package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kvdht/internal/core/storage/engine"
)

// TestEngine_Scan 测试前缀扫描按字节序返回
func TestEngine_Scan(t *testing.T) {
	e := New()
	for _, k := range []string{"b/2", "a/1", "b/1"} {
		require.NoError(t, e.Put([]byte(k), []byte(k)))
	}

	var keys []string
	require.NoError(t, e.Scan([]byte("b/"), func(k, _ []byte) bool {
		keys = append(keys, string(k))
		// 回调中写入不应死锁
		return e.Put([]byte("z"), nil) == nil
	}))
	assert.Equal(t, []string{"b/1", "b/2"}, keys)

	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Scan(nil, func(_, _ []byte) bool { return true }), engine.ErrClosed)

	t.Log("✅ 前缀扫描有序")
}
