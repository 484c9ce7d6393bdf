// Package payrail 外部转账通道适配
package payrail

import (
	"context"
	"errors"
	"fmt"

	"github.com/dumeirei/merch-settlement/pkg/money"
)

// TransferInput 转账请求
type TransferInput struct {
	Destination    string
	Amount         money.Money
	IdempotencyKey string
	Metadata       map[string]string
}

// Gateway 转账通道
//
// 同一 IdempotencyKey 重复调用必须返回同一笔转账，不得重复出款。
type Gateway interface {
	CreateTransfer(ctx context.Context, in TransferInput) (string, error)
}

// AccountLookup 收款账户状态查询
type AccountLookup interface {
	PayoutsEnabled(ctx context.Context, destination string) (bool, error)
}

// EventParser 校验回调签名并解析为转账终态
type EventParser interface {
	ParseEvent(payload []byte, signature string) (*TransferStatusEvent, error)
}

// 转账状态
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// TransferStatusEvent 通道回调的转账终态
type TransferStatusEvent struct {
	Provider      string
	EventID       string
	Type          string
	TransferRef   string
	Status        string
	FailureReason string
}

// ErrIgnoredEvent 与转账终态无关的回调事件
var ErrIgnoredEvent = errors.New("payrail: event type ignored")

// ErrInvalidSignature 回调签名无效
var ErrInvalidSignature = errors.New("payrail: invalid signature")

// Error 通道调用错误
type Error struct {
	// Permanent 为 true 表示重试也不会成功，例如收款账户无效
	Permanent bool
	Code      string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payrail: %s (%s)", e.Message, e.Code)
	}
	return "payrail: " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Permanent 构造不可重试错误
func Permanent(code, message string) *Error {
	return &Error{Permanent: true, Code: code, Message: message}
}

// Transient 构造可重试错误
func Transient(message string, err error) *Error {
	return &Error{Message: message, Err: err}
}

// IsPermanent 判断错误是否不可重试，未分类的错误按可重试处理
func IsPermanent(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Permanent
}
