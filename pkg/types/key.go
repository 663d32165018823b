package types

import "fmt"

// ============================================================================
//                              CompoundKey - 复合键
// ============================================================================

// CompoundKeyLength 复合键编码后的字节长度
const CompoundKeyLength = 4 * IDLength

// CompoundKey 四分量复合键
//
// Location 决定路由（哪些节点负责该键）；Domain、Content、Version
// 在同一 Location 内划分值空间，不影响路由。相等性按分量比较。
type CompoundKey struct {
	Location ID
	Domain   ID
	Content  ID
	Version  ID
}

// LocationKey 创建仅含 Location 的复合键，其余分量为零
func LocationKey(location ID) CompoundKey {
	return CompoundKey{Location: location}
}

// Bytes 按 Location|Domain|Content|Version 顺序编码
//
// 编码保持前缀有序，便于存储引擎按 Location 或 Location+Domain 前缀扫描。
func (k CompoundKey) Bytes() []byte {
	b := make([]byte, 0, CompoundKeyLength)
	b = append(b, k.Location[:]...)
	b = append(b, k.Domain[:]...)
	b = append(b, k.Content[:]...)
	b = append(b, k.Version[:]...)
	return b
}

// CompoundKeyFromBytes 解码复合键
func CompoundKeyFromBytes(b []byte) (CompoundKey, error) {
	if len(b) != CompoundKeyLength {
		return CompoundKey{}, fmt.Errorf("%w: compound key must be %d bytes, got %d", ErrInvalidID, CompoundKeyLength, len(b))
	}
	var k CompoundKey
	copy(k.Location[:], b[0:IDLength])
	copy(k.Domain[:], b[IDLength:2*IDLength])
	copy(k.Content[:], b[2*IDLength:3*IDLength])
	copy(k.Version[:], b[3*IDLength:])
	return k, nil
}

// String 返回复合键的可读表示
func (k CompoundKey) String() string {
	return fmt.Sprintf("[%s,%s,%s,%s]", k.Location, k.Domain, k.Content, k.Version)
}
