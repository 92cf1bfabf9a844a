package settlement

import "errors"

var (
	// ErrNothingToSettle 通道没有可提交的声明
	ErrNothingToSettle = errors.New("settlement: nothing to settle")

	// ErrNoModule 币种没有可用的结算模块
	ErrNoModule = errors.New("settlement: no module for currency")

	// ErrAlreadySettling 通道正在结算
	ErrAlreadySettling = errors.New("settlement: already in progress")

	// ErrChannelNotOpen 通道已关闭，无需结算
	ErrChannelNotOpen = errors.New("settlement: channel not open")

	// ErrInvalidConfig 结算配置无效
	ErrInvalidConfig = errors.New("settlement: invalid config")
)
