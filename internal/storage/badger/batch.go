package badger

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-btpnips/internal/storage/engine"
)

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch 在单个读写事务中提交的批量操作
type Batch struct {
	db  *Engine
	ops []batchOp
}

// Put 添加写入操作
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: key, value: value})
}

// Delete 添加删除操作
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: key, delete: true})
}

// Size 返回操作数量
func (b *Batch) Size() int {
	return len(b.ops)
}

// Write 原子写入并重置
func (b *Batch) Write() error {
	if b.db.closed.Load() {
		return engine.ErrClosed
	}
	ops := b.ops
	b.ops = nil
	if len(ops) == 0 {
		return nil
	}
	return convertError(b.db.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			var err error
			if op.delete {
				err = txn.Delete(op.key)
			} else {
				err = txn.Set(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}))
}

var _ engine.Batch = (*Batch)(nil)
