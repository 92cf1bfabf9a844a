package lifecycle

import (
	"fmt"
	"slices"
)

// State 连接状态
type State string

// 连接状态定义
const (
	StateDiscovering    State = "DISCOVERING"
	StateConnecting     State = "CONNECTING"
	StateChannelNeeded  State = "CHANNEL_NEEDED"
	StateChannelOpening State = "CHANNEL_OPENING"
	StateConnected      State = "CONNECTED"
	StateDisconnected   State = "DISCONNECTED"
	StateFailed         State = "FAILED"
)

var transitions = map[State][]State{
	StateDiscovering:    {StateConnecting, StateFailed},
	StateConnecting:     {StateChannelNeeded, StateConnected, StateFailed},
	StateChannelNeeded:  {StateChannelOpening, StateFailed},
	StateChannelOpening: {StateConnected, StateFailed},
	StateConnected:      {StateDisconnected, StateFailed},
	StateDisconnected:   {StateDiscovering, StateFailed},
	StateFailed:         {StateDiscovering},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// checkTransition 非法转换返回 ErrInvalidTransition
func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// Valid 是否为已定义的状态
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// String 实现 Stringer
func (s State) String() string {
	return string(s)
}
