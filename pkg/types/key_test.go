package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompoundKey_Bytes(t *testing.T) {
	k := CompoundKey{
		Location: HashID("loc"),
		Domain:   HashID("domain"),
		Content:  HashID("content"),
		Version:  HashID("v1"),
	}

	b := k.Bytes()
	require.Len(t, b, CompoundKeyLength)
	assert.Equal(t, k.Location[:], b[:IDLength], "Location 必须是前缀")

	back, err := CompoundKeyFromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, k, back)

	_, err = CompoundKeyFromBytes(b[:10])
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestCompoundKey_Equality(t *testing.T) {
	loc := HashID("loc")
	a := LocationKey(loc)
	b := LocationKey(loc)
	assert.Equal(t, a, b)

	b.Content = HashID("other")
	assert.NotEqual(t, a, b, "任一分量不同即不相等")
}

func TestDataRecord_Expired(t *testing.T) {
	now := time.Unix(1000, 0)

	r := DataRecord{Value: []byte("v"), TTL: time.Minute, Created: now}
	assert.False(t, r.Expired(now))
	assert.False(t, r.Expired(now.Add(59*time.Second)))
	assert.True(t, r.Expired(now.Add(time.Minute)))

	forever := DataRecord{Value: []byte("v"), Created: now}
	assert.False(t, forever.Expired(now.Add(1000*time.Hour)))
}

func TestDataRecord_Clone(t *testing.T) {
	r := DataRecord{Value: []byte("abc"), Version: 7}
	c := r.Clone()
	c.Value[0] = 'x'
	assert.Equal(t, "abc", string(r.Value), "Clone 必须深拷贝负载")
	assert.True(t, r.SameValue(DataRecord{Value: []byte("abc"), Version: 7}))
	assert.False(t, r.SameValue(DataRecord{Value: []byte("abc"), Version: 8}))
}

func TestPeerAddress_String(t *testing.T) {
	a := PeerAddress{ID: MustParseID("0xff"), Endpoint: "sim:1"}
	assert.Equal(t, "0xff@sim:1", a.String())

	a.Flags = FirewalledUDP | Relayed
	assert.Equal(t, "0xff@sim:1[firewalled-udp|relayed]", a.String())
	assert.True(t, a.Flags.Has(Relayed))
	assert.False(t, a.Flags.Has(FirewalledTCP))
}

func TestParsePeerAddress(t *testing.T) {
	a := PeerAddress{ID: MustParseID("0xff"), Endpoint: "sim:1", Flags: FirewalledUDP | Relayed}
	got, err := ParsePeerAddress(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, got)

	got, err = ParsePeerAddress("0x4bca")
	require.NoError(t, err)
	assert.Equal(t, MustParseID("0x4bca"), got.ID)
	assert.Empty(t, got.Endpoint)

	_, err = ParsePeerAddress("0xff@sim:1[bogus]")
	assert.ErrorIs(t, err, ErrInvalidID)
	_, err = ParsePeerAddress("zz@sim:1")
	assert.ErrorIs(t, err, ErrInvalidID)
}
