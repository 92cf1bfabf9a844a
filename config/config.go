// Package config 提供 BTP-NIPs 节点的统一配置
//
// 本包沿用混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义，并提供 DefaultXxxConfig() 与 Validate()
//   - 支持从 JSON 或 YAML 文件加载（按扩展名判断）
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.Protocol.RequirePayment = true
//
//	cfg, err := config.Load("/etc/btpnips/node.yaml")
package config

// Config 是节点的完整配置结构
//
//   - Identity: 节点社交身份（Nostr 密钥）
//   - Protocol: 包编解码与入站处理策略
//   - Payment: 支付声明校验
//   - Settlement: 结算触发与链上结算
//   - Propagation: 事件传播（去重、跳数、限速）
//   - Lifecycle: 对等连接生命周期与重连
//   - Discovery: 节点公告与解析
//   - Storage: 持久化存储
//   - Transport: 参考传输层
//   - Log / Metrics: 日志与指标
type Config struct {
	Identity    IdentityConfig    `json:"identity" yaml:"identity"`
	Protocol    ProtocolConfig    `json:"protocol" yaml:"protocol"`
	Payment     PaymentConfig     `json:"payment" yaml:"payment"`
	Settlement  SettlementConfig  `json:"settlement" yaml:"settlement"`
	Propagation PropagationConfig `json:"propagation" yaml:"propagation"`
	Lifecycle   LifecycleConfig   `json:"lifecycle" yaml:"lifecycle"`
	Discovery   DiscoveryConfig   `json:"discovery" yaml:"discovery"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Transport   TransportConfig   `json:"transport" yaml:"transport"`
	Log         LogConfig         `json:"log" yaml:"log"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Identity:    DefaultIdentityConfig(),
		Protocol:    DefaultProtocolConfig(),
		Payment:     DefaultPaymentConfig(),
		Settlement:  DefaultSettlementConfig(),
		Propagation: DefaultPropagationConfig(),
		Lifecycle:   DefaultLifecycleConfig(),
		Discovery:   DefaultDiscoveryConfig(),
		Storage:     DefaultStorageConfig(),
		Transport:   DefaultTransportConfig(),
		Log:         DefaultLogConfig(),
		Metrics:     DefaultMetricsConfig(),
	}
}

// Validate 验证配置的有效性
//
// 按子配置顺序校验，返回遇到的第一个错误。
func (c *Config) Validate() error {
	validators := []interface{ Validate() error }{
		&c.Identity,
		&c.Protocol,
		&c.Payment,
		&c.Settlement,
		&c.Propagation,
		&c.Lifecycle,
		&c.Discovery,
		&c.Storage,
		&c.Transport,
		&c.Log,
		&c.Metrics,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
