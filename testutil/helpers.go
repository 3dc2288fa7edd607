// =============================================================================
// 🧪 测试辅助
// =============================================================================
//
//	ctx := testutil.TestContext(t)
//	testutil.AssertErrorCode(t, err, types.ErrUnsatisfiable)
// =============================================================================
package testutil

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/constraintflow/engine"
	"github.com/BaSui01/constraintflow/types"
)

// pollInterval WaitFor 的轮询间隔
const pollInterval = 5 * time.Millisecond

// TestContext 30 秒超时的上下文，测试结束时取消
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// AssertErrorCode 断言 err 是（或包装了）指定错误码的 *types.Error
func AssertErrorCode(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := types.GetErrorCode(err); got != code {
		t.Errorf("error code: want %s, got %q (%v)", code, got, err)
	}
}

// WaitFor 轮询 condition 直到为真或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}

// AssertEventuallyTrue 断言 condition 在 timeout 内变为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	if !WaitFor(condition, timeout) {
		t.Errorf("condition did not become true within %v", timeout)
	}
}

// WaitForChannel 从 ch 接收一个值，超时返回 false
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v := <-ch:
		return v, true
	case <-timer.C:
		var zero T
		return zero, false
	}
}

// =============================================================================
// 📡 流式 token 记录
// =============================================================================

// TokenRecorder 收集引擎 Observer 输出的 token；可在 worker goroutine 中回调
type TokenRecorder struct {
	mu     sync.Mutex
	tokens []engine.Token
}

// Observer 返回传给 Generate/GenerateStream 的回调
func (r *TokenRecorder) Observer() engine.Observer {
	return func(tok engine.Token) {
		r.mu.Lock()
		r.tokens = append(r.tokens, tok)
		r.mu.Unlock()
	}
}

// Tokens 已记录 token 的副本
func (r *TokenRecorder) Tokens() []engine.Token {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.Token(nil), r.tokens...)
}

// Text 按顺序拼接 token 文本，应与响应的 text 一致
func (r *TokenRecorder) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, tok := range r.tokens {
		b.WriteString(tok.Text)
	}
	return b.String()
}
