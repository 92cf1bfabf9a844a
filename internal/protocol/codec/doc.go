// Package codec 实现 BTP-NIPs 的二进制分帧与 JSON 负载校验
//
// # 帧格式
//
//	+---------+------+----------------+------------------------+
//	| version | kind | payload length | payload (UTF-8 JSON)   |
//	|  1 byte |1 byte|  2 bytes (BE)  |  payload length bytes  |
//	+---------+------+----------------+------------------------+
//
// 负载结构：
//
//	{
//	  "payment":  {"amount": ..., "currency": "...", "purpose": "..."},
//	  "nostr":    <与消息种类相关的正文>,
//	  "metadata": {"timestamp": ..., "sender": "...", "ttl": 5}
//	}
//
// Decode(Encode(p)) == p 对所有合法包成立。
// 解码只做结构校验，签名校验由 auth 包完成。
package codec
