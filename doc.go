// Package btpnips 提供 BTP-NIPs 中继节点的对外入口
//
// BTP-NIPs 把 Nostr 事件封装进带支付声明的二进制包，在相互订阅的
// 节点之间逐跳转发。节点对每个发布事件校验签名与支付声明，存储后
// 按订阅过滤器转发给下游节点。
//
// # 快速开始
//
//	node, err := btpnips.Start(ctx,
//	    btpnips.WithConfigFile("/etc/btpnips/node.yaml"),
//	    btpnips.WithListenAddr(":7447"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	// 连接已公告的节点，连接建立后自动订阅其转发流
//	_, err = node.Connect(ctx, peerID)
//
//	// 发布本地事件
//	err = node.Publish(ctx, evt)
//
// # 层次结构
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│  入口层       btpnips.Node（本包）                                 │
//	├─────────────────────────────────────────────────────────────────┤
//	│  节点层       internal/node：入站处理、认证挑战、主循环              │
//	├─────────────────────────────────────────────────────────────────┤
//	│  协议层       codec / auth / claim / propagation                   │
//	├─────────────────────────────────────────────────────────────────┤
//	│  基础设施     storage / eventstore / lifecycle / discovery / ws     │
//	└─────────────────────────────────────────────────────────────────┘
package btpnips
