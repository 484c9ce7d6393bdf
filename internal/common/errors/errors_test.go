package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{"不带底层错误", New(3000, "分佣比例配置无效"), "[3000] 分佣比例配置无效"},
		{"带底层错误", Wrap(1004, "数据库错误", stderrors.New("connection timeout")), "[1004] 数据库错误: connection timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.appError.Error())
		})
	}
}

func TestAppError_Derive(t *testing.T) {
	t.Run("WithMessage 不修改原错误", func(t *testing.T) {
		modified := ErrInsufficientBalance.WithMessage("可用余额 10.00 不足以提现 20.00")
		assert.Equal(t, ErrInsufficientBalance.Code, modified.Code)
		assert.Equal(t, "可用余额不足", ErrInsufficientBalance.Message)
	})

	t.Run("WithError 保留错误码", func(t *testing.T) {
		cause := stderrors.New("stripe: 503")
		modified := ErrGatewayUnavailable.WithError(cause)
		assert.Equal(t, ErrGatewayUnavailable.Code, modified.Code)
		assert.Equal(t, cause, modified.Unwrap())
		assert.Nil(t, ErrGatewayUnavailable.Err)
	})

	t.Run("Withf 格式化消息", func(t *testing.T) {
		modified := ErrInvalidRate.Withf("品牌分成比例 %s 超出范围", "0.95")
		assert.Equal(t, "品牌分成比例 0.95 超出范围", modified.Message)
	})
}

func TestAppError_Is(t *testing.T) {
	derived := ErrNeedsAccountSetup.WithMessage("请先完成 Stripe 收款账户绑定")
	wrapped := fmt.Errorf("request payout: %w", derived)

	assert.True(t, Is(derived, ErrNeedsAccountSetup))
	assert.True(t, Is(wrapped, ErrNeedsAccountSetup))
	assert.False(t, Is(wrapped, ErrInsufficientBalance))
	assert.False(t, Is(stderrors.New("plain"), ErrNeedsAccountSetup))
}

func TestLedgerErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		code int
	}{
		{"ErrInvalidRate", ErrInvalidRate, 3000},
		{"ErrInsufficientBalance", ErrInsufficientBalance, 4000},
		{"ErrNeedsAccountSetup", ErrNeedsAccountSetup, 5000},
		{"ErrGatewayUnavailable", ErrGatewayUnavailable, 5001},
		{"ErrWebhookSignature", ErrWebhookSignature, 6000},
	}

	seen := map[int]string{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.NotEmpty(t, tt.err.Message)
			_, dup := seen[tt.code]
			assert.False(t, dup)
			seen[tt.code] = tt.name
		})
	}
}

func TestGetAppError(t *testing.T) {
	t.Run("包装链中的应用错误", func(t *testing.T) {
		wrapped := fmt.Errorf("ingest: %w", ErrInvalidOrderEvent)
		got := GetAppError(wrapped)
		require.NotNil(t, got)
		assert.Equal(t, ErrInvalidOrderEvent.Code, got.Code)
	})

	t.Run("普通错误转为未知错误", func(t *testing.T) {
		plain := stderrors.New("standard error")
		got := GetAppError(plain)
		assert.Equal(t, ErrUnknown.Code, got.Code)
		assert.Equal(t, plain, got.Err)
	})

	t.Run("IsAppError", func(t *testing.T) {
		assert.True(t, IsAppError(ErrPayoutNotFound))
		assert.False(t, IsAppError(stderrors.New("x")))
		assert.False(t, IsAppError(nil))
	})
}
