// Package settlement 负责在满足结算条件时把通道高水位提交到链上
//
// 每个币种族对应一个 Ledger 实现：
//   - evm:      ETH / USDC，调用结算合约 settle(bytes32,uint256,uint256,bytes)
//   - disabled: 未配置链上结算时使用，所有操作返回固定空结果
//
// Manager 只决定何时结算并回写通道状态，结算失败只记录日志。
package settlement
