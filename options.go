package btpnips

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/dep2p/go-btpnips/config"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	cfg *config.Config

	// 附加 Fx 选项（测试中替换组件）
	fxOptions []fx.Option
}

func newOptions() *options {
	return &options{cfg: config.NewConfig()}
}

// WithConfig 以完整配置为基础，后续选项在其上覆盖
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("config is nil")
		}
		c := *cfg
		o.cfg = &c
		return nil
	}
}

// WithConfigFile 从 JSON 或 YAML 文件加载配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		o.cfg = cfg
		return nil
	}
}

// WithSecretKey 使用十六进制私钥作为节点身份
func WithSecretKey(hexKey string) Option {
	return func(o *options) error {
		o.cfg.Identity.SecretKey = hexKey
		return nil
	}
}

// WithIdentityFile 从文件加载身份，文件不存在时生成并写入
func WithIdentityFile(path string) Option {
	return func(o *options) error {
		o.cfg.Identity.KeyFile = path
		o.cfg.Identity.AutoGenerate = true
		return nil
	}
}

// WithListenAddr 设置传输层监听地址；空字符串表示只做出站连接
func WithListenAddr(addr string) Option {
	return func(o *options) error {
		o.cfg.Transport.ListenAddr = addr
		return nil
	}
}

// WithEndpoint 设置公告中的对外传输端点
func WithEndpoint(endpoint string) Option {
	return func(o *options) error {
		o.cfg.Discovery.Endpoint = endpoint
		return nil
	}
}

// WithAddressPrefix 设置 ILP 地址前缀
func WithAddressPrefix(prefix string) Option {
	return func(o *options) error {
		o.cfg.Discovery.AddressPrefix = prefix
		return nil
	}
}

// WithDataDir 设置数据目录
func WithDataDir(dir string) Option {
	return func(o *options) error {
		o.cfg.Storage.DataDir = dir
		o.cfg.Storage.InMemory = false
		return nil
	}
}

// WithInMemoryStorage 使用内存存储
func WithInMemoryStorage() Option {
	return func(o *options) error {
		o.cfg.Storage.InMemory = true
		return nil
	}
}

// WithRequirePayment 设置发布事件是否必须携带有效支付声明
func WithRequirePayment(require bool) Option {
	return func(o *options) error {
		o.cfg.Protocol.RequirePayment = require
		return nil
	}
}

// WithMetrics 启用观测服务并监听 addr
func WithMetrics(addr string) Option {
	return func(o *options) error {
		o.cfg.Metrics.Enable = true
		o.cfg.Metrics.ListenAddr = addr
		return nil
	}
}

// WithFxOptions 追加 Fx 选项，用于替换或装饰内部组件
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}
