package propagation

import "errors"

var (
	// ErrEmptySubscriptionID 订阅 ID 为空
	ErrEmptySubscriptionID = errors.New("propagation: empty subscription id")

	// ErrNoFilters 订阅没有过滤器
	ErrNoFilters = errors.New("propagation: subscription has no filters")

	// ErrEmptyPeer 节点 ID 为空
	ErrEmptyPeer = errors.New("propagation: empty peer id")
)
