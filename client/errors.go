package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/BaSui01/constraintflow/retry"
)

// ErrorKind 客户端错误分类
type ErrorKind string

const (
	KindTransient ErrorKind = "transient" // 网络错误 / 5xx / 429，重试耗尽后返回
	KindPermanent ErrorKind = "permanent" // 其余 4xx、响应体无法解析、调用方取消
	KindTimeout   ErrorKind = "timeout"   // 单次尝试超过 Config.Timeout
)

// Error 客户端错误
type Error struct {
	Kind        ErrorKind
	StatusCode  int    // HTTP 状态码，无响应时为 0
	ErrorType   string // 服务端返回的 error_type
	Message     string
	PartialText string
	Attempts    int
	Err         error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.ErrorType != "" {
		return fmt.Sprintf("constraintflow %s error (%s, status %d, attempts %d): %s",
			e.Kind, e.ErrorType, e.StatusCode, e.Attempts, msg)
	}
	return fmt.Sprintf("constraintflow %s error (status %d, attempts %d): %s",
		e.Kind, e.StatusCode, e.Attempts, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Type 返回用于失败占位响应的 error_type
func (e *Error) Type() string {
	if e.ErrorType != "" {
		return e.ErrorType
	}
	return "client_" + string(e.Kind)
}

// IsTimeout 报告 err 是否为单次尝试超时
func IsTimeout(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTimeout
}

// IsTransient 报告 err 是否为瞬时失败
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTransient
}

func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// finalize 把重试器返回的错误归一为 *Error 并写入尝试次数
func finalize(err error, attempts int) error {
	if err == nil {
		return nil
	}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) && exhausted.Cause != nil {
		kind := KindPermanent
		if errors.Is(exhausted.Cause, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		return &Error{Kind: kind, Attempts: exhausted.Attempts, Message: "request cancelled while backing off", Err: exhausted.Cause}
	}
	var ce *Error
	if errors.As(err, &ce) {
		out := *ce
		out.Attempts = attempts
		return &out
	}
	return &Error{Kind: KindPermanent, Attempts: attempts, Err: err}
}
