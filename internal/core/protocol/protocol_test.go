package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-kvdht/pkg/types"
)

var (
	sender = types.PeerAddress{
		ID:       types.MustParseID("0x4bca44fd09461db1981e387e99e41e7d22d06893"),
		Endpoint: "sim:7",
		Flags:    types.FirewalledUDP,
	}
	testKey = types.CompoundKey{
		Location: types.HashID("key"),
		Domain:   types.HashID("domain"),
	}
)

// ============================================================================
// 消息类型测试
// ============================================================================

func TestMessageType_Response(t *testing.T) {
	assert.Equal(t, TypePong, TypePing.Response())
	assert.Equal(t, TypeStoreResponse, TypeStore.Response())
	assert.Equal(t, TypeLeaveAck, TypeLeave.Response())
	assert.Equal(t, TypeGetResponse, TypeGetResponse.Response(), "应答类型不变")
	assert.False(t, TypeFindNodeResponse.IsRequest())
	assert.Equal(t, "UNKNOWN(99)", MessageType(99).String())

	t.Log("✅ 请求与应答类型对应")
}

func TestReply_KeepsRequestID(t *testing.T) {
	req := NewGet(sender, testKey)
	resp := Reply(req, sender, StatusNotFound)

	assert.Equal(t, req.ID, resp.ID)
	assert.Equal(t, TypeGetResponse, resp.Type)
	assert.ErrorIs(t, resp.Err(), types.ErrNotFound)

	conflict := ErrorReply(req, sender, types.ErrConflict)
	assert.Equal(t, StatusConflict, conflict.Status)
	assert.ErrorIs(t, conflict.Err(), types.ErrConflict)

	failed := ErrorReply(req, sender, errors.New("disk on fire"))
	assert.Equal(t, StatusError, failed.Status)
	assert.EqualError(t, failed.Err(), "disk on fire")

	t.Log("✅ 应答沿用请求 ID 并映射错误")
}

// ============================================================================
// 编解码测试
// ============================================================================

func TestCodec_Store(t *testing.T) {
	rec := types.DataRecord{
		Value:   []byte("Test 2"),
		Version: 42,
		TTL:     time.Minute,
		Created: time.Unix(1700000000, 123),
	}
	req := NewStore(sender, testKey, rec, true)

	data, err := Marshal(req)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, TypeStore, got.Type)
	assert.Equal(t, sender, got.Sender)
	assert.Equal(t, testKey, got.Key)
	assert.True(t, got.Overwrite)
	require.NotNil(t, got.Record)
	assert.Equal(t, "Test 2", string(got.Record.Value))
	assert.Equal(t, uint64(42), got.Record.Version)
	assert.Equal(t, time.Minute, got.Record.TTL)
	assert.True(t, rec.Created.Equal(got.Record.Created))

	t.Log("✅ Store 消息编解码正确")
}

func TestCodec_FindNodeResponse(t *testing.T) {
	req := NewFindNode(sender, types.HashID("target"), 20)
	resp := Reply(req, sender, StatusOK)
	resp.Peers = []types.PeerAddress{
		{ID: types.HashID("a"), Endpoint: "sim:1"},
		{ID: types.HashID("b"), Endpoint: "sim:2", Flags: types.Relayed},
	}

	data, err := Marshal(resp)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, resp.Peers, got.Peers)
	assert.Equal(t, StatusOK, got.Status)
	assert.Nil(t, got.Record)

	data, err = Marshal(req)
	require.NoError(t, err)
	got, err = Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, types.HashID("target"), got.Target)
	assert.Equal(t, 20, got.Count)

	t.Log("✅ FindNode 消息编解码正确")
}

func TestCodec_Digest(t *testing.T) {
	resp := Reply(NewDigest(sender, testKey.Location, types.ZeroID), sender, StatusOK)
	resp.Digest = []types.DigestEntry{
		{Key: testKey, Version: 1},
		{Key: types.LocationKey(testKey.Location)},
	}

	data, err := Marshal(resp)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, resp.Digest, got.Digest)

	t.Log("✅ Digest 消息编解码正确")
}

func TestCodec_SkipsUnknownFields(t *testing.T) {
	data, err := Marshal(NewPing(sender))
	require.NoError(t, err)

	data = protowire.AppendTag(data, 99, protowire.Fixed64Type)
	data = protowire.AppendFixed64(data, 7)
	data = protowire.AppendTag(data, 100, protowire.BytesType)
	data = protowire.AppendString(data, "future")

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, TypePing, got.Type)

	t.Log("✅ 未知字段被跳过")
}

func TestCodec_Malformed(t *testing.T) {
	_, err := Unmarshal([]byte{0xff})
	assert.ErrorIs(t, err, ErrMalformed)

	// 长度前缀超出数据
	_, err = Unmarshal([]byte{byte(fieldID<<3 | 2), 20, 1, 2})
	assert.ErrorIs(t, err, ErrMalformed)

	// Target 长度错误
	bad := appendBytes(nil, fieldTarget, []byte{1, 2, 3})
	_, err = Unmarshal(bad)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Marshal(nil)
	assert.ErrorIs(t, err, ErrMalformed)

	t.Log("✅ 畸形数据返回 ErrMalformed")
}

func TestRecordCodec(t *testing.T) {
	rec := types.DataRecord{Value: []byte("attack, attack, attack!")}
	got, err := UnmarshalRecord(MarshalRecord(rec))
	require.NoError(t, err)
	assert.True(t, rec.SameValue(got))
	assert.True(t, got.Created.IsZero())

	empty, err := UnmarshalRecord(nil)
	require.NoError(t, err)
	assert.Equal(t, types.DataRecord{}, empty)
}
