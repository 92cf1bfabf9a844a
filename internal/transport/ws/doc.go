// Package ws 提供基于 WebSocket 的参考传输层
//
// 每个对等节点至多一条连接，一条 WebSocket 二进制消息承载一个 BTP 帧。
// 拨号方在升级请求头 X-BTP-Peer 中携带自己的身份公钥；该声明本身不可信，
// 节点层通过认证挑战（kind 7）确认对方身份。
//
//	t := ws.New(cfg.Transport, self, bw)
//	_ = t.Start(ctx)
//	_ = t.Dial(ctx, peer, "ws://10.0.0.2:7447/btp")
//	_ = t.Send(ctx, peer, frame)
//	for pkt := range t.Inbound() { ... }
package ws
