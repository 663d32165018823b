// Package types 定义 kvdht 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他 kvdht 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - ids.go     - ID（160 位标识符）、HashID、RandomID
//   - key.go     - CompoundKey（Location/Domain/Content/Version）
//   - address.go - PeerAddress、Reachability
//   - record.go  - DataRecord
//   - errors.go  - 公共错误定义
package types
