package proxy

import (
	"errors"
	"fmt"
)

// ErrTimeout 表示单次上游尝试超出 TIMEOUT_SECONDS。超时立即向客户端
// 返回 408，不消耗剩余重试次数。
var ErrTimeout = errors.New("upstream attempt timed out")

// ExhaustedError 表示重试次数用尽，向客户端表面为 500 并带上尝试次数。
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("upstream failed after %d attempts: %v", e.Attempts, e.Last)
	}
	return fmt.Sprintf("upstream failed after %d attempts", e.Attempts)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}
