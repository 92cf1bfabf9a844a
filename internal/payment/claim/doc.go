// Package claim 实现支付声明的提取、通道状态校验与结算时机判断
//
// 支付声明以保留标签的形式嵌入事件：
//
//	["payment", "ilp", <channelId>, <amount>, <nonce>, <signature>, <currency>]
//
// 没有该标签的事件是免费事件；格式错误的声明按免费事件处理并记录日志。
// 同一通道的校验由 Verifier 串行化，保证高水位单调不减。
package claim
