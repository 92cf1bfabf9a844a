package types

// PeerAddress 由节点公告解析出的可连接地址
type PeerAddress struct {
	// Identity 社交身份公钥
	Identity PeerID `json:"identity"`

	// ILPAddress ILP 地址，如 g.btpnips.0123456789abcdef
	ILPAddress string `json:"ilp_address"`

	// Endpoint BTP 连接端点（ws:// 或 wss://）
	Endpoint string `json:"endpoint"`

	// SettlementAddress 结算地址
	SettlementAddress string `json:"settlement_address,omitempty"`

	// Currencies 支持的币种
	Currencies []string `json:"currencies,omitempty"`

	// Features 支持的特性
	Features []string `json:"features,omitempty"`

	// Version 协议版本
	Version string `json:"version,omitempty"`

	// Metadata 公告内容中的可选元数据
	Metadata map[string]string `json:"metadata,omitempty"`

	// AnnouncedAt 公告事件时间（unix 秒）
	AnnouncedAt int64 `json:"announced_at"`
}
