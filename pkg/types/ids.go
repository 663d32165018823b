// Package types 定义 kvdht 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他 kvdht 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
package types

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"github.com/mr-tron/base58"
	"lukechampine.com/blake3"
)

// ============================================================================
//                              ID - 160 位标识符
// ============================================================================

// IDLength 标识符字节长度（160 位）
const IDLength = 20

// IDBits 标识符位数
const IDBits = IDLength * 8

// ID 160 位无符号标识符（大端序）
//
// 节点身份与 CompoundKey 的四个分量都使用 ID。
// ID 本身只有数值序，"远近" 只相对于某个目标（XOR 距离）才有意义。
//
// 外部表示格式：
//   - String(): 0x 前缀的十六进制，去掉前导零
//   - ShortString(): 前 10 个字符，用于日志
//   - Base58(): 紧凑的 Base58 编码，便于手工复制
type ID [IDLength]byte

// ZeroID 全零标识符
var ZeroID ID

// ErrInvalidID 无效的标识符
var ErrInvalidID = errors.New("kvdht: invalid ID")

// String 返回 0x 前缀的十六进制表示
func (id ID) String() string {
	s := strings.TrimLeft(hex.EncodeToString(id[:]), "0")
	if s == "" {
		s = "0"
	}
	return "0x" + s
}

// ShortString 返回 ID 的短字符串表示
func (id ID) ShortString() string {
	s := id.String()
	if len(s) > 10 {
		return s[:10]
	}
	return s
}

// Base58 返回 Base58 编码（Bitcoin 字母表）
func (id ID) Base58() string {
	return base58.Encode(id[:])
}

// Bytes 返回 ID 的字节切片副本
func (id ID) Bytes() []byte {
	b := make([]byte, IDLength)
	copy(b, id[:])
	return b
}

// IsZero 检查 ID 是否为全零
func (id ID) IsZero() bool {
	return id == ZeroID
}

// Cmp 按无符号数值比较两个 ID
//
// 返回 -1、0、1。仅用于平局裁决，不代表远近。
func (id ID) Cmp(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// Xor 返回两个 ID 的按位异或
func (id ID) Xor(other ID) ID {
	var out ID
	for i := 0; i < IDLength; i++ {
		out[i] = id[i] ^ other[i]
	}
	return out
}

// Offset 把 ID 视为 160 位无符号整数加上 delta，进位跨字节传递
//
// 结果越过 0 或最大 ID 时返回 false。
func (id ID) Offset(delta int) (ID, bool) {
	out := id
	if delta >= 0 {
		carry := uint64(delta)
		for i := IDLength - 1; i >= 0 && carry > 0; i-- {
			sum := uint64(out[i]) + carry
			out[i] = byte(sum)
			carry = sum >> 8
		}
		return out, carry == 0
	}
	borrow := uint64(-delta)
	for i := IDLength - 1; i >= 0 && borrow > 0; i-- {
		sub := borrow & 0xff
		borrow >>= 8
		if uint64(out[i]) < sub {
			borrow++
		}
		out[i] = byte(uint64(out[i]) - sub)
	}
	return out, borrow == 0
}

// IDFromBytes 从字节切片创建 ID
func IDFromBytes(b []byte) (ID, error) {
	if len(b) != IDLength {
		return ZeroID, ErrInvalidID
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// ParseID 解析十六进制 ID
//
// 接受可选的 0x 前缀，位数不足 40 时左侧补零：
//
//	id, err := ParseID("0x4bca44fd09461db1981e387e99e41e7d22d06894")
func ParseID(s string) (ID, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" || len(s) > IDLength*2 {
		return ZeroID, ErrInvalidID
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ZeroID, ErrInvalidID
	}
	var id ID
	copy(id[IDLength-len(raw):], raw)
	return id, nil
}

// IDFromBase58 解析 Base58 编码的 ID
func IDFromBase58(s string) (ID, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return ZeroID, ErrInvalidID
	}
	return IDFromBytes(raw)
}

// MustParseID 解析 ID，失败时 panic（仅用于常量和测试）
func MustParseID(s string) ID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// HashID 将任意字符串哈希为 ID（BLAKE3，20 字节输出）
func HashID(s string) ID {
	var id ID
	h := blake3.New(IDLength, nil)
	_, _ = h.Write([]byte(s))
	copy(id[:], h.Sum(nil))
	return id
}

// RandomID 从给定随机源读取一个 ID
//
// 随机源由调用方注入：生产环境使用 crypto/rand.Reader，
// 测试使用 rand.New(rand.NewSource(seed)) 以获得可复现的标识符。
func RandomID(r io.Reader) (ID, error) {
	var id ID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return ZeroID, err
	}
	return id, nil
}
