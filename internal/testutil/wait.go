package testutil

import (
	"testing"
	"time"
)

// WaitForCondition 轮询 condition 直到成立或超时，返回是否成立
func WaitForCondition(t testing.TB, timeout, interval time.Duration, condition func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(interval)
	}
}

// WaitForConditionOrFail 等待条件成立，超时则 fail
func WaitForConditionOrFail(t testing.TB, timeout, interval time.Duration, condition func() bool, msg string) {
	t.Helper()
	if !WaitForCondition(t, timeout, interval, condition) {
		t.Fatalf("等待超时: %s", msg)
	}
}
