package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-kvdht/pkg/types"
)

// ErrMalformed 消息无法解码
var ErrMalformed = errors.New("kvdht: malformed message")

// Message 字段编号
const (
	fieldID        protowire.Number = 1
	fieldType      protowire.Number = 2
	fieldSender    protowire.Number = 3
	fieldKey       protowire.Number = 4
	fieldRecord    protowire.Number = 5
	fieldOverwrite protowire.Number = 6
	fieldTarget    protowire.Number = 7
	fieldCount     protowire.Number = 8
	fieldPeers     protowire.Number = 9
	fieldDigest    protowire.Number = 10
	fieldStatus    protowire.Number = 11
	fieldError     protowire.Number = 12
)

// 嵌套消息字段编号
const (
	// PeerAddress
	fieldAddrID       protowire.Number = 1
	fieldAddrEndpoint protowire.Number = 2
	fieldAddrFlags    protowire.Number = 3

	// DataRecord
	fieldRecValue   protowire.Number = 1
	fieldRecVersion protowire.Number = 2
	fieldRecTTL     protowire.Number = 3
	fieldRecCreated protowire.Number = 4

	// DigestEntry
	fieldDigKey     protowire.Number = 1
	fieldDigVersion protowire.Number = 2
)

// ============================================================================
//                              编码
// ============================================================================

// Marshal 编码消息
func Marshal(m *Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformed)
	}

	var b []byte
	b = appendBytes(b, fieldID, m.ID[:])
	b = appendVarint(b, fieldType, uint64(m.Type))
	b = appendBytes(b, fieldSender, appendAddress(nil, m.Sender))
	if m.Key != (types.CompoundKey{}) {
		b = appendBytes(b, fieldKey, m.Key.Bytes())
	}
	if m.Record != nil {
		b = appendBytes(b, fieldRecord, MarshalRecord(*m.Record))
	}
	if m.Overwrite {
		b = appendVarint(b, fieldOverwrite, 1)
	}
	if !m.Target.IsZero() {
		b = appendBytes(b, fieldTarget, m.Target[:])
	}
	if m.Count > 0 {
		b = appendVarint(b, fieldCount, uint64(m.Count))
	}
	for _, p := range m.Peers {
		b = appendBytes(b, fieldPeers, appendAddress(nil, p))
	}
	for _, d := range m.Digest {
		b = appendBytes(b, fieldDigest, appendDigest(nil, d))
	}
	if m.Status != StatusOK {
		b = appendVarint(b, fieldStatus, uint64(m.Status))
	}
	if m.Error != "" {
		b = protowire.AppendTag(b, fieldError, protowire.BytesType)
		b = protowire.AppendString(b, m.Error)
	}
	return b, nil
}

// MarshalRecord 编码数据记录
//
// 与消息中的记录字段格式相同，存储引擎也用它持久化记录。
func MarshalRecord(r types.DataRecord) []byte {
	var b []byte
	if len(r.Value) > 0 {
		b = appendBytes(b, fieldRecValue, r.Value)
	}
	if r.Version != 0 {
		b = appendVarint(b, fieldRecVersion, r.Version)
	}
	if r.TTL > 0 {
		b = appendVarint(b, fieldRecTTL, uint64(r.TTL))
	}
	if !r.Created.IsZero() {
		b = appendVarint(b, fieldRecCreated, uint64(r.Created.UnixNano()))
	}
	return b
}

func appendAddress(b []byte, a types.PeerAddress) []byte {
	b = appendBytes(b, fieldAddrID, a.ID[:])
	if a.Endpoint != "" {
		b = protowire.AppendTag(b, fieldAddrEndpoint, protowire.BytesType)
		b = protowire.AppendString(b, a.Endpoint)
	}
	if a.Flags != 0 {
		b = appendVarint(b, fieldAddrFlags, uint64(a.Flags))
	}
	return b
}

func appendDigest(b []byte, d types.DigestEntry) []byte {
	b = appendBytes(b, fieldDigKey, d.Key.Bytes())
	if d.Version != 0 {
		b = appendVarint(b, fieldDigVersion, d.Version)
	}
	return b
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// ============================================================================
//                              解码
// ============================================================================

// Unmarshal 解码消息
func Unmarshal(b []byte) (*Message, error) {
	m := &Message{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error {
		switch num {
		case fieldID:
			id, err := uuid.FromBytes(v)
			if err != nil {
				return err
			}
			m.ID = id
		case fieldType:
			m.Type = MessageType(x)
		case fieldSender:
			a, err := parseAddress(v)
			if err != nil {
				return err
			}
			m.Sender = a
		case fieldKey:
			k, err := types.CompoundKeyFromBytes(v)
			if err != nil {
				return err
			}
			m.Key = k
		case fieldRecord:
			r, err := UnmarshalRecord(v)
			if err != nil {
				return err
			}
			m.Record = &r
		case fieldOverwrite:
			m.Overwrite = x != 0
		case fieldTarget:
			id, err := types.IDFromBytes(v)
			if err != nil {
				return err
			}
			m.Target = id
		case fieldCount:
			m.Count = int(x)
		case fieldPeers:
			a, err := parseAddress(v)
			if err != nil {
				return err
			}
			m.Peers = append(m.Peers, a)
		case fieldDigest:
			d, err := parseDigest(v)
			if err != nil {
				return err
			}
			m.Digest = append(m.Digest, d)
		case fieldStatus:
			m.Status = Status(x)
		case fieldError:
			m.Error = string(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// UnmarshalRecord 解码数据记录
func UnmarshalRecord(b []byte) (types.DataRecord, error) {
	var r types.DataRecord
	err := walk(b, func(num protowire.Number, _ protowire.Type, v []byte, x uint64) error {
		switch num {
		case fieldRecValue:
			r.Value = append([]byte(nil), v...)
		case fieldRecVersion:
			r.Version = x
		case fieldRecTTL:
			r.TTL = time.Duration(x)
		case fieldRecCreated:
			r.Created = time.Unix(0, int64(x))
		}
		return nil
	})
	return r, err
}

func parseAddress(b []byte) (types.PeerAddress, error) {
	var a types.PeerAddress
	err := walk(b, func(num protowire.Number, _ protowire.Type, v []byte, x uint64) error {
		switch num {
		case fieldAddrID:
			id, err := types.IDFromBytes(v)
			if err != nil {
				return err
			}
			a.ID = id
		case fieldAddrEndpoint:
			a.Endpoint = string(v)
		case fieldAddrFlags:
			a.Flags = types.Reachability(x)
		}
		return nil
	})
	return a, err
}

func parseDigest(b []byte) (types.DigestEntry, error) {
	var d types.DigestEntry
	err := walk(b, func(num protowire.Number, _ protowire.Type, v []byte, x uint64) error {
		switch num {
		case fieldDigKey:
			k, err := types.CompoundKeyFromBytes(v)
			if err != nil {
				return err
			}
			d.Key = k
		case fieldDigVersion:
			d.Version = x
		}
		return nil
	})
	return d, err
}

// walk 遍历线格式字段
//
// varint 字段通过 x 传入，bytes 字段通过 v 传入，其余类型跳过。
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, x uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		var (
			v []byte
			x uint64
		)
		switch typ {
		case protowire.VarintType:
			x, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(num, typ, v, x); err != nil {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, err)
		}
	}
	return nil
}
