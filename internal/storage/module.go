// Package storage 组装存储引擎并以 Fx 模块形式提供
package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-btpnips/config"
	"github.com/dep2p/go-btpnips/internal/storage/badger"
	"github.com/dep2p/go-btpnips/internal/storage/engine"
	"github.com/dep2p/go-btpnips/internal/storage/kv"
	"github.com/dep2p/go-btpnips/pkg/lib/log"
)

var logger = log.Logger("btpnips/storage")

// 各组件的键前缀
var (
	PrefixEvents      = []byte("e/")
	PrefixChannels    = []byte("c/")
	PrefixConnections = []byte("l/")
	PrefixFollows     = []byte("f/")
)

// Module 返回 Storage Fx 模块
//
// 提供 engine.InternalEngine；OnStop 时关闭引擎。
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(ProvideEngine),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideEngine 根据统一配置创建存储引擎
func ProvideEngine(cfg *config.Config) (engine.InternalEngine, error) {
	return NewEngine(cfg.Storage)
}

// NewEngine 根据存储配置创建 BadgerDB 引擎
func NewEngine(sc config.StorageConfig) (engine.InternalEngine, error) {
	var ec *engine.Config
	if sc.InMemory {
		ec = engine.InMemoryConfig()
	} else {
		ec = engine.DefaultConfig(sc.DBPath())
		ec.SyncWrites = sc.SyncWrites
		ec.GCInterval = sc.GCInterval.Duration()
	}

	eng, err := badger.New(ec)
	if err != nil {
		logger.Error("创建存储引擎失败", "error", err)
		return nil, err
	}
	return eng, nil
}

// NewKVStore 创建带前缀的 KVStore
func NewKVStore(eng engine.InternalEngine, prefix []byte) *kv.Store {
	return kv.New(eng, prefix)
}

func registerLifecycle(lc fx.Lifecycle, eng engine.InternalEngine) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			logger.Info("正在关闭存储引擎")
			return eng.Close()
		},
	})
}
