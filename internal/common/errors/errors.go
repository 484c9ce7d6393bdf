// Package errors 定义结算账本的业务错误码和错误处理
package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError 应用错误
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配，WithMessage/WithError 派生的错误仍与原错误相等
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 创建新的应用错误
func New(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap 包装错误
func Wrap(code int, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// WithMessage 修改错误消息
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{Code: e.Code, Message: message, Err: e.Err}
}

// WithError 添加原始错误
func (e *AppError) WithError(err error) *AppError {
	return &AppError{Code: e.Code, Message: e.Message, Err: err}
}

// Withf 以格式化消息派生错误
func (e *AppError) Withf(format string, args ...interface{}) *AppError {
	return e.WithMessage(fmt.Sprintf(format, args...))
}

// 通用错误码 (1000-1999)
var (
	ErrUnknown         = New(1000, "未知错误")
	ErrInvalidParams   = New(1001, "参数错误")
	ErrNotFound        = New(1002, "资源不存在")
	ErrAlreadyExists   = New(1003, "资源已存在")
	ErrDatabaseError   = New(1004, "数据库错误")
	ErrCacheError      = New(1005, "缓存错误")
	ErrInternalError   = New(1006, "内部错误")
	ErrExternalService = New(1007, "外部服务错误")
	ErrRateLimitExceed = New(1008, "请求过于频繁")
	ErrOperationFailed = New(1009, "操作失败")
)

// 认证错误码 (2000-2999)
var (
	ErrUnauthorized     = New(2000, "未登录")
	ErrTokenExpired     = New(2001, "登录已过期")
	ErrTokenInvalid     = New(2002, "无效的令牌")
	ErrPermissionDenied = New(2004, "权限不足")
)

// 分佣与结算错误码 (3000-3999)
var (
	ErrInvalidRate             = New(3000, "分佣比例配置无效")
	ErrInvalidAmount           = New(3001, "金额无效")
	ErrCurrencyMismatch        = New(3002, "币种不一致")
	ErrInvalidOrderEvent       = New(3003, "订单事件无效")
	ErrSettlementNotFound      = New(3004, "结算记录不存在")
	ErrInvalidStatusTransition = New(3005, "状态流转不合法")
	ErrBrandNotFound           = New(3006, "品牌不存在")
	ErrAffiliateNotFound       = New(3007, "推广员不存在")
	ErrReferralNotFound        = New(3008, "推荐关系不存在")
	ErrReferralExists          = New(3009, "推荐关系已存在")
)

// 账本错误码 (4000-4999)
var (
	ErrInsufficientBalance = New(4000, "可用余额不足")
	ErrReservationNotFound = New(4001, "余额冻结记录不存在")
	ErrReservationInactive = New(4002, "余额冻结记录已失效")
	ErrNegativeBalance     = New(4003, "操作将导致余额为负")
	ErrDuplicatePosting    = New(4004, "分录重复记账")
)

// 提现错误码 (5000-5999)
var (
	ErrNeedsAccountSetup    = New(5000, "请先绑定收款账户")
	ErrGatewayUnavailable   = New(5001, "转账通道暂不可用")
	ErrGatewayRejected      = New(5002, "转账被通道拒绝")
	ErrPayoutNotFound       = New(5003, "提现申请不存在")
	ErrPayoutNotCancellable = New(5004, "提现申请当前状态不可取消")
	ErrPayoutBelowMinimum   = New(5005, "提现金额低于最低限额")
	ErrPayoutInFlight       = New(5006, "提现申请正在处理中")
	ErrPartyFrozen          = New(5007, "账户已冻结")
)

// 回调错误码 (6000-6999)
var (
	ErrWebhookSignature = New(6000, "回调签名校验失败")
	ErrWebhookPayload   = New(6001, "回调内容无法解析")
)

// IsAppError 判断是否为应用错误
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError 获取应用错误
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return ErrUnknown.WithError(err)
}

// Is 透传标准库 errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
