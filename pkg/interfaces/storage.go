package interfaces

// Engine 存储引擎基础接口
//
// 提供键值存储的基本操作。内部使用 BadgerDB 实现，可替换。
// 实现必须保证所有方法线程安全。
type Engine interface {
	// Get 获取指定键的值，键不存在时返回 engine.ErrNotFound
	Get(key []byte) ([]byte, error)

	// Put 设置键值对，已存在则覆盖
	Put(key, value []byte) error

	// Delete 删除指定键，键不存在不报错
	Delete(key []byte) error

	// Has 检查键是否存在
	Has(key []byte) (bool, error)

	// Close 关闭存储引擎
	Close() error
}
