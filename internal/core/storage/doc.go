// Package storage 实现节点的本地记录存储
//
// Store 以 CompoundKey 为键保存 DataRecord，底层引擎可替换：
//
//	memory  进程内 map（默认）
//	badger  BadgerDB 内存模式
//
// 记录以 protobuf 线格式编码后写入引擎；键按
// Location|Domain|Content|Version 顺序编码，因此同一 Location
// 下的记录在引擎中相邻，KeysNear 用前缀扫描实现。
//
// 过期记录在读取时惰性清理，后台清理任务按配置周期运行。
// Put 是公开的直接写入口，也用于在测试中植入陈旧或伪造的副本。
package storage
